package pulse

import (
	"encoding/json"

	"github.com/hupe1980/prismmesh/core"
)

// Kind identifies one of the four pulse variants.
type Kind uint8

const (
	// KindWavefront is a request.
	KindWavefront Kind = iota + 1
	// KindPhoton is a response data chunk.
	KindPhoton
	// KindTrap terminates a request.
	KindTrap
	// KindExtinguish is the unscoped shutdown signal.
	KindExtinguish
)

// String returns the wire tag of the kind.
func (k Kind) String() string {
	switch k {
	case KindWavefront:
		return "Wavefront"
	case KindPhoton:
		return "Photon"
	case KindTrap:
		return "Trap"
	case KindExtinguish:
		return "Extinguish"
	default:
		return "Unknown"
	}
}

// Pulse is a message travelling over a link. The set of implementations is
// closed: Wavefront, Photon, Trap and Extinguish.
type Pulse interface {
	// Kind returns the variant.
	Kind() Kind
	// RequestID returns the correlation id, or "" for Extinguish.
	RequestID() string

	isPulse()
}

// Wavefront asks a unit to run one of its operations (frequencies).
type Wavefront struct {
	ID        string          `json:"id"`
	Frequency string          `json:"frequency"`
	Input     json.RawMessage `json:"input"`
}

// Photon carries one chunk of response data for a request.
type Photon struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Trap terminates a request. A nil Error means success.
type Trap struct {
	ID    string `json:"id"`
	Error *Fault `json:"error"`
}

// Extinguish tells the receiving execution context to shut down.
type Extinguish struct{}

func (Wavefront) Kind() Kind  { return KindWavefront }
func (Photon) Kind() Kind     { return KindPhoton }
func (Trap) Kind() Kind       { return KindTrap }
func (Extinguish) Kind() Kind { return KindExtinguish }

func (w Wavefront) RequestID() string { return w.ID }
func (p Photon) RequestID() string    { return p.ID }
func (t Trap) RequestID() string      { return t.ID }
func (Extinguish) RequestID() string  { return "" }

func (Wavefront) isPulse()  {}
func (Photon) isPulse()     {}
func (Trap) isPulse()       {}
func (Extinguish) isPulse() {}

// Failed reports whether the trap carries an error.
func (t Trap) Failed() bool { return t.Error != nil }

// Err returns the trap error as a *core.Error, or nil on success.
func (t Trap) Err() error {
	if t.Error == nil {
		return nil
	}
	return t.Error.AsError()
}

// NewTrap builds a trap for id, converting err into a Fault when non-nil.
func NewTrap(id string, err error) Trap {
	return Trap{ID: id, Error: NewFault(err)}
}

// Fault is the error payload of a Trap. On the wire it is a plain string.
type Fault struct {
	Kind    core.Kind
	Message string
}

// NewFault converts err into a Fault. The kind is taken from the first
// *core.Error in the chain; the message is the full error text minus the kind
// label. A nil err yields nil.
func NewFault(err error) *Fault {
	if err == nil {
		return nil
	}
	parsed := core.ParseError(err.Error())
	kind := core.KindOf(err)
	if kind == core.KindOther {
		kind = parsed.Kind
	}
	msg := err.Error()
	if kind == parsed.Kind {
		msg = parsed.Message
	}
	return &Fault{Kind: kind, Message: msg}
}

// AsError returns the fault as a *core.Error.
func (f *Fault) AsError() *core.Error {
	return &core.Error{Kind: f.Kind, Message: f.Message}
}

// String renders the fault the way it appears on the wire.
func (f *Fault) String() string { return f.AsError().Error() }

// MarshalJSON encodes the fault as a JSON string.
func (f *Fault) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON decodes a fault from a JSON string. Non-string payloads from
// foreign peers are kept verbatim as the message.
func (f *Fault) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*f = Fault{Kind: core.KindOther, Message: string(data)}
		return nil
	}
	e := core.ParseError(s)
	*f = Fault{Kind: e.Kind, Message: e.Message}
	return nil
}
