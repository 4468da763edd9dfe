// Package pulse defines the four-variant message protocol spoken over links.
//
// A caller sends a Wavefront carrying a fresh request id, an operation name
// (frequency) and an input payload. The unit answers with zero or more Photons
// for that id followed by exactly one Trap, which carries an error on failure.
// Extinguish is not tied to a request: it moves the receiving execution
// context from Running to ShuttingDown to Terminated.
//
// On the wire every pulse is a single-key tagged JSON object:
//
//	{"Wavefront":{"id":"...","frequency":"echo","input":{"msg":"hi"}}}
//	{"Photon":{"id":"...","data":{"msg":"hi"}}}
//	{"Trap":{"id":"...","error":null}}
//	{"Extinguish":null}
//
// The protocol has no Cancel message and no per-request timeout. A caller
// that stops consuming a stream must either drain it to its Trap or sever the
// link; with bounded links an abandoned producer otherwise blocks.
package pulse
