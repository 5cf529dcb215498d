package sentence

import (
	"time"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/provetools/coqstm/internal/coqtop"
	"github.com/provetools/coqstm/internal/position"
)

// Error is a failure the backend recorded against one sentence. Range, when
// present, is the failing span in document coordinates.
type Error struct {
	Message string
	Range   *protocol.Range
}

// Sentence is one command accepted by (or submitted to) the backend,
// together with the document range it was read from. Sentences form a tree
// rooted at the backend's initial state; the pre-order walk of that tree is
// the timeline of accepted commands.
type Sentence struct {
	stateID coqtop.StateID
	text    string
	rng     protocol.Range
	status  coqtop.SentenceStatus
	err     *Error
	started time.Time

	parent   *Sentence
	children []*Sentence
}

func (s *Sentence) StateID() coqtop.StateID       { return s.stateID }
func (s *Sentence) Text() string                  { return s.text }
func (s *Sentence) Range() protocol.Range         { return s.rng }
func (s *Sentence) Status() coqtop.SentenceStatus { return s.status }
func (s *Sentence) Err() *Error                   { return s.err }
func (s *Sentence) Started() time.Time            { return s.started }
func (s *Sentence) Parent() *Sentence             { return s.parent }
func (s *Sentence) IsRoot() bool                  { return s.parent == nil }

// IsBefore reports whether the sentence ends at or before pos.
func (s *Sentence) IsBefore(pos protocol.Position) bool {
	return position.IsBeforeOrEqual(s.rng.End, pos)
}

// Contains reports whether pos falls inside the sentence's range.
func (s *Sentence) Contains(pos protocol.Position) bool {
	return position.RangeContains(s.rng, pos)
}

// UpdateStatus applies a backend-reported status and reports whether it
// changed. Error is terminal: later status feedback for an errored sentence
// is ignored.
func (s *Sentence) UpdateStatus(status coqtop.SentenceStatus) bool {
	if s.status == status || s.status == coqtop.StatusError {
		return false
	}
	s.status = status
	return true
}

// SetError marks the sentence failed. rng is in document coordinates.
func (s *Sentence) SetError(message string, rng *protocol.Range) {
	s.status = coqtop.StatusError
	s.err = &Error{Message: message, Range: rng}
}

// ApplyTextChanges reconciles the sentence against a batch of edits. The
// edits must be ordered greatest start first and pre-filtered to those not
// entirely after this sentence. An edit overlapping the sentence's interior
// invalidates it and the sentence is left untouched; edits at or before its
// boundaries shift its range. An edit starting exactly at the sentence's end
// belongs to the successor and never reaches this sentence.
func (s *Sentence) ApplyTextChanges(edits []position.TextEdit) (invalidated bool) {
	for _, e := range edits {
		if position.Overlaps(e.Range, s.rng) {
			return true
		}
	}
	for _, e := range edits {
		s.rng = e.Delta().ApplyToRange(s.rng)
	}
	return false
}
