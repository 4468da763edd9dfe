package core

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// SentinelID is the request id used for failures that happen before any
// real request exists, such as a unit failing to initialize.
var SentinelID = uuid.Nil.String()

// NewID returns a new universally unique request id.
func NewID() string {
	return uuid.NewString()
}

// IsSentinel reports whether id is the setup-failure sentinel.
func IsSentinel(id string) bool {
	return id == SentinelID
}

// CallChain is the ordered list of unit identifiers that led to the spawn of
// a unit instance, root first. It is used to refuse refractions that would
// loop back into a unit already waiting on the chain.
type CallChain []string

// Contains reports whether unitID already appears on the chain.
func (c CallChain) Contains(unitID string) bool {
	return slices.Contains(c, unitID)
}

// Extend returns a new chain with unitID appended. The receiver is not modified.
func (c CallChain) Extend(unitID string) CallChain {
	out := make(CallChain, len(c), len(c)+1)
	copy(out, c)
	return append(out, unitID)
}

// String renders the chain as "a -> b -> c".
func (c CallChain) String() string {
	return strings.Join(c, " -> ")
}
