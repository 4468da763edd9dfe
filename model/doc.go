// Package model defines the provider‑agnostic abstraction for the text
// completion backends used by the completion prism.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (see the openai and anthropic subpackages) implement Model so
// that prisms stay decoupled from vendor SDKs.
package model
