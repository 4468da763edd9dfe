package spectrum

import (
	"strings"

	"github.com/hupe1980/prismmesh/core"
)

// UnitID identifies a unit as namespace:name, e.g. "core:echo".
type UnitID struct {
	Namespace string
	Name      string
}

// ParseUnitID parses "namespace:name". Both parts must be non-empty and
// free of whitespace.
func ParseUnitID(s string) (UnitID, error) {
	ns, name, ok := strings.Cut(s, ":")
	if !ok || ns == "" || name == "" || strings.ContainsAny(s, " \t\r\n") || strings.Contains(name, ":") {
		return UnitID{}, core.Errorf(core.KindUnitNotFound, "invalid unit identifier %q, want namespace:name", s)
	}
	return UnitID{Namespace: ns, Name: name}, nil
}

// String returns the canonical "namespace:name" form.
func (id UnitID) String() string {
	return id.Namespace + ":" + id.Name
}
