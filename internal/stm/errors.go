package stm

import (
	"errors"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ErrDisposed is returned by every operation once the machine is disposed,
// except Interrupt, which does not check for disposal and still forwards to
// the transport.
var ErrDisposed = errors.New("stm: disposed")

// FailValue is a backend rejection of one command. The machine has already
// rewound to a consistent state when it is returned; the caller only needs
// to surface it. Range, when present, is in document coordinates.
type FailValue struct {
	Message string
	Range   *protocol.Range
}

func (e *FailValue) Error() string { return e.Message }

// InconsistentError reports a violated internal invariant. It is fatal: the
// machine disposes itself before returning it.
type InconsistentError struct {
	Reason string
}

func (e *InconsistentError) Error() string {
	return "inconsistent state: " + e.Reason
}

// SentenceError pairs a failed sentence's range with the failing sub-range
// inside it, for diagnostic enumeration.
type SentenceError struct {
	SentenceRange protocol.Range
	ErrorRange    *protocol.Range
	Message       string
}
