package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error raised anywhere in the runtime. Kinds survive the
// trip across a link: a Trap carries the kind label so the receiving side can
// still match it with errors.Is.
type Kind uint8

const (
	// KindOther is any error that does not fit a more specific kind.
	KindOther Kind = iota
	// KindUnitNotFound means a unit identifier could not be resolved.
	KindUnitNotFound
	// KindSpectrumLoad means a spectrum document could not be read.
	KindSpectrumLoad
	// KindSpectrumParse means a spectrum document could not be decoded or is invalid.
	KindSpectrumParse
	// KindMapping means a transpose or reflection mapping could not be applied.
	KindMapping
	// KindOperationNotFound means a wavefront named a frequency the unit does not expose.
	KindOperationNotFound
	// KindValidation means a payload was rejected by the schema validator.
	KindValidation
	// KindConnectionClosed means the other side of a link went away.
	KindConnectionClosed
	// KindIO wraps failures of an underlying transport or file system.
	KindIO
	// KindCycleDetected means a refraction would call back into a unit already on the call chain.
	KindCycleDetected
	// KindRefractionNotFound means a unit asked for a refraction its spectrum does not declare.
	KindRefractionNotFound
	// KindProtocol means a peer broke the pulse ordering rules or sent a malformed frame.
	KindProtocol
)

var kindLabels = map[Kind]string{
	KindOther:              "error",
	KindUnitNotFound:       "unit not found",
	KindSpectrumLoad:       "spectrum load error",
	KindSpectrumParse:      "spectrum parse error",
	KindMapping:            "mapping error",
	KindOperationNotFound:  "operation not found",
	KindValidation:         "validation error",
	KindConnectionClosed:   "connection closed",
	KindIO:                 "io error",
	KindCycleDetected:      "cycle detected",
	KindRefractionNotFound: "refraction not found",
	KindProtocol:           "protocol error",
}

// String returns the human readable label used in error messages and on the wire.
func (k Kind) String() string {
	if s, ok := kindLabels[k]; ok {
		return s
	}
	return kindLabels[KindOther]
}

// Error is the single error type of the runtime. Op names the operation that
// failed (e.g. "multiplexer.establish_link"), Message adds detail and Err is an
// optional cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface. The format is "<kind>: <message>: <cause>"
// with empty parts left out, so it can be parsed back by ParseError. KindOther
// omits its label when there is anything else to say.
func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Kind != KindOther || (e.Message == "" && e.Err == nil) {
		parts = append(parts, e.Kind.String())
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind. A sentinel is an
// *Error without message or cause, e.g. ErrMapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message != "" || t.Err != nil || t.Op != "" {
		return e == t
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is matching by kind.
var (
	ErrOther              = &Error{Kind: KindOther}
	ErrUnitNotFound       = &Error{Kind: KindUnitNotFound}
	ErrSpectrumLoad       = &Error{Kind: KindSpectrumLoad}
	ErrSpectrumParse      = &Error{Kind: KindSpectrumParse}
	ErrMapping            = &Error{Kind: KindMapping}
	ErrOperationNotFound  = &Error{Kind: KindOperationNotFound}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrConnectionClosed   = &Error{Kind: KindConnectionClosed}
	ErrIO                 = &Error{Kind: KindIO}
	ErrCycleDetected      = &Error{Kind: KindCycleDetected}
	ErrRefractionNotFound = &Error{Kind: KindRefractionNotFound}
	ErrProtocol           = &Error{Kind: KindProtocol}
)

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around a cause. Wrapping nil returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// WithOp returns a copy of err annotated with op if err is an *Error, or a
// KindOther *Error wrapping it otherwise.
func WithOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		cp.Op = op
		return &cp
	}
	return &Error{Kind: KindOther, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindOther.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsNotFound reports whether err belongs to the not-found class: an unknown
// unit, operation or refraction.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindUnitNotFound, KindOperationNotFound, KindRefractionNotFound:
		return err != nil
	default:
		return false
	}
}

// ParseError rebuilds an error from its Error() text. Text starting with a
// known kind label becomes an *Error of that kind; anything else becomes a
// KindOther *Error carrying the whole text.
func ParseError(s string) *Error {
	for k, label := range kindLabels {
		if k == KindOther {
			continue
		}
		if s == label {
			return &Error{Kind: k}
		}
		if rest, ok := strings.CutPrefix(s, label+": "); ok {
			return &Error{Kind: k, Message: rest}
		}
	}
	if rest, ok := strings.CutPrefix(s, kindLabels[KindOther]+": "); ok {
		return &Error{Kind: KindOther, Message: rest}
	}
	return &Error{Kind: KindOther, Message: s}
}
