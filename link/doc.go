// Package link provides the bidirectional pulse connection between two
// execution contexts.
//
// NewPair returns two cross-wired in-process endpoints over bounded channels;
// OverTransport adapts any byte Transport (for example a websocket) to the
// same Link API. Each Link has exactly one receiving owner. Extra producers
// use a copy of its Sender.
//
// Low-level operations send and receive single pulses. The high-level helpers
// sit on top:
//
//   - Absorb collects a response into one value (or an array when several
//     photons arrive) and fails with ErrNoData when nothing came back
//   - Collect gathers the photons of a streaming operation as a slice
//   - Reflect answers with one photon per array element, Emit with one photon
//     for the whole value
//
// Callers that want to bound a wait pass a context with a deadline. Giving up
// does not cancel the request on the other side; sever the link with Close
// after abandoning a stream.
package link
