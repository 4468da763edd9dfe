// Package unit implements the runtime of a single prism: the Core that serves
// one link, and the Handler contract that carries a unit's business logic.
//
// # Lifecycle
//
// The multiplexer creates a Handler through a Factory, calls Init with the
// unit's spectrum and hands both to NewCore. Core.Run then loops:
//
//	┌──────────┐  Receive   ┌────────────┐  HandlePulse  ┌─────────┐
//	│   link   │ ─────────▶ │    Core    │ ────────────▶ │ Handler │
//	└──────────┘ ◀───────── └────────────┘ ◀──────────── └─────────┘
//	              photons,        │          Refract / Invoke
//	              trap            ▼
//	                       cached refraction links
//
// Wavefront dispatch checks the frequency against the spectrum, validates the
// input when a validator is configured, and makes sure every request ends with
// exactly one trap: a handler error, a panic or an Ignored outcome become a
// failure trap, and a Handled outcome without an explicit trap becomes a
// success trap.
//
// # Refractions
//
// PulseContext.Refract and PulseContext.Invoke call the dependencies declared
// in the spectrum. The first call of a refraction connects through the
// Refractor (normally the multiplexer) and the link is cached under the
// refraction's name; later calls reuse it with a fresh request id.
//
// # Shutdown
//
// Extinguish, a closed link or a cancelled context stop the loop. The Core
// then runs the handler's ShutdownHook, forwards Extinguish to every cached
// refraction, waits up to ShutdownGrace for each of them to close and finally
// closes its own link.
package unit
