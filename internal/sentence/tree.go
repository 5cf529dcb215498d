package sentence

import (
	"iter"
	"time"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/provetools/coqstm/internal/coqtop"
)

// Tree is the ordered tree of accepted sentences plus the state-id index
// over its members. The tree owns the sentences; the index never holds a
// sentence the tree does not.
type Tree struct {
	root  *Sentence
	index map[coqtop.StateID]*Sentence
}

// New builds a tree holding only the root sentence: the backend's initial
// state, with no text and a zero range.
func New(rootID coqtop.StateID) *Tree {
	root := &Sentence{stateID: rootID, status: coqtop.StatusProcessed}
	return &Tree{
		root:  root,
		index: map[coqtop.StateID]*Sentence{rootID: root},
	}
}

func (t *Tree) Root() *Sentence { return t.root }

// Lookup resolves a state id to its live sentence.
func (t *Tree) Lookup(id coqtop.StateID) (*Sentence, bool) {
	s, ok := t.index[id]
	return s, ok
}

func (t *Tree) Size() int { return len(t.index) }

// Add appends a sentence as the parent's newest child and indexes it.
func (t *Tree) Add(parent *Sentence, text string, id coqtop.StateID, rng protocol.Range, started time.Time) *Sentence {
	s := &Sentence{
		stateID: id,
		text:    text,
		rng:     rng,
		status:  coqtop.StatusProcessingInput,
		started: started,
		parent:  parent,
	}
	parent.children = append(parent.children, s)
	t.index[id] = s
	return s
}

// Descendants walks the subtree below s in pre-order, excluding s itself.
func (s *Sentence) Descendants() iter.Seq[*Sentence] {
	return func(yield func(*Sentence) bool) {
		s.walk(yield)
	}
}

func (s *Sentence) walk(yield func(*Sentence) bool) bool {
	for _, c := range s.children {
		if !yield(c) {
			return false
		}
		if !c.walk(yield) {
			return false
		}
	}
	return true
}

// Ancestors walks from the sentence's parent up to the root.
func (s *Sentence) Ancestors() iter.Seq[*Sentence] {
	return func(yield func(*Sentence) bool) {
		for a := s.parent; a != nil; a = a.parent {
			if !yield(a) {
				return
			}
		}
	}
}

// DescendantsUntil walks the subtree below s in pre-order, stopping at (and
// not yielding) end.
func (s *Sentence) DescendantsUntil(end *Sentence) iter.Seq[*Sentence] {
	return func(yield func(*Sentence) bool) {
		for d := range s.Descendants() {
			if d == end {
				return
			}
			if !yield(d) {
				return
			}
		}
	}
}

// Sentences walks every sentence below the root in acceptance order.
func (t *Tree) Sentences() iter.Seq[*Sentence] {
	return t.root.Descendants()
}

// Truncate drops every descendant of s, unindexes them, and returns them in
// pre-order.
func (t *Tree) Truncate(s *Sentence) []*Sentence {
	var removed []*Sentence
	for d := range s.Descendants() {
		removed = append(removed, d)
	}
	for _, d := range removed {
		delete(t.index, d.stateID)
		d.parent = nil
		d.children = nil
	}
	s.children = nil
	return removed
}

// RemoveDescendantsUntil drops the descendants of from strictly before end
// in pre-order and splices end back as from's only child. Used when the
// backend re-enters an open proof: the sentences between the new focus and
// the proof's closing sentence are cancelled while the closing stack stays.
func (t *Tree) RemoveDescendantsUntil(from, end *Sentence) []*Sentence {
	var removed []*Sentence
	for d := range from.DescendantsUntil(end) {
		removed = append(removed, d)
	}
	for _, d := range removed {
		delete(t.index, d.stateID)
		d.parent = nil
		d.children = nil
	}
	from.children = []*Sentence{end}
	end.parent = from
	return removed
}
