// Package core provides the foundational types shared by every prismmesh
// package:
//
//   - the error taxonomy (Kind, Error and the Err* sentinels)
//   - request ids and the setup-failure SentinelID
//   - CallChain, the lineage used to detect refraction cycles
//
// The package has no dependencies on the rest of the module so that pulse,
// link, spectrum and the runtime can all share one error vocabulary.
package core
