// Package stm implements the sentence transactional machine: the client-side
// model of which parts of a proof script the backend has accepted, and the
// serialized protocol driving it forward, backward, and through document
// edits.
package stm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/provetools/coqstm/internal/coqtop"
	"github.com/provetools/coqstm/internal/position"
	"github.com/provetools/coqstm/internal/scanner"
	"github.com/provetools/coqstm/internal/sentence"
)

// Callbacks is the capability set through which the machine reports back to
// the editor. Calls arrive on the machine's own task; implementations should
// hand work off rather than block.
type Callbacks interface {
	SentenceStatusUpdate(rng protocol.Range, status coqtop.SentenceStatus)
	ClearSentence(rng protocol.Range)
	SentenceError(sentenceRange protocol.Range, errorRange *protocol.Range, message string)
	Message(level coqtop.MessageLevel, text string)
	LtacProfResults(rng *protocol.Range, results coqtop.LtacProfResults)
	CoqDied(err error)
}

// Dialer opens the backend transport with the machine installed as its
// feedback handler. Called on first use; when dialing or the backend reset
// fails, the next operation dials again.
type Dialer func(handler coqtop.FeedbackHandler) (coqtop.Transport, error)

// GoalState is the backend's goal structure together with the document
// position of the current focus.
type GoalState struct {
	Goals *coqtop.Goals
	Focus protocol.Position
}

type lifecycle int

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleDisposed
)

type bufferedStatus struct {
	stateID coqtop.StateID
	status  coqtop.SentenceStatus
	worker  string
}

// STM is the sentence transactional machine for one document. Public
// operations serialize on an internal lock; each observes the state the
// previous one left. Feedback from the backend is queued without blocking
// the transport's reader and applied at operation boundaries, or
// immediately when the machine is idle.
type STM struct {
	logger commonlog.Logger
	dial   Dialer
	cbs    Callbacks

	mu      sync.Mutex
	life    lifecycle
	coq     coqtop.Transport
	tree    *sentence.Tree
	focused *sentence.Sentence
	last    *sentence.Sentence
	version int
	buffer  []bufferedStatus

	// resMu guards coq for the out-of-band paths (Interrupt, Dispose)
	// that must not wait for the operation lock.
	resMu       sync.Mutex
	interrupted atomic.Bool

	fbMu    sync.Mutex
	fbQueue []func()
}

// New builds a machine. The backend is not touched until the first
// operation that needs it.
func New(dial Dialer, cbs Callbacks) *STM {
	return &STM{
		logger: commonlog.GetLoggerf("coqstm.stm"),
		dial:   dial,
		cbs:    cbs,
	}
}

// endOp flushes feedback that arrived during the operation, then releases
// the lock.
func (s *STM) endOp() {
	s.drainQueue()
	s.mu.Unlock()
}

// validateLocked checks the machine is usable, bringing the backend up on
// first use: reset, root state id, root sentence.
func (s *STM) validateLocked(ctx context.Context) error {
	switch s.life {
	case lifecycleDisposed:
		return ErrDisposed
	case lifecycleRunning:
		return nil
	}

	coq, err := s.dial(s)
	if err != nil {
		return fmt.Errorf("stm: dial backend: %w", err)
	}
	rootID, err := coq.Init(ctx)
	if err != nil {
		_ = coq.Dispose()
		return fmt.Errorf("stm: reset backend: %w", err)
	}

	s.resMu.Lock()
	s.coq = coq
	s.resMu.Unlock()
	s.tree = sentence.New(rootID)
	root := s.tree.Root()
	s.focused, s.last = root, root
	s.life = lifecycleRunning
	s.logger.Infof("backend initialized, root state %d", int(rootID))
	return nil
}

func (s *STM) disposeLocked() {
	if s.life == lifecycleDisposed {
		return
	}
	s.life = lifecycleDisposed
	if s.coq != nil {
		_ = s.coq.Dispose()
	}
}

// inconsistentLocked handles a violated invariant: fatal, the machine goes
// down and stays down.
func (s *STM) inconsistentLocked(reason string) error {
	err := &InconsistentError{Reason: reason}
	s.logger.Errorf("%v", err)
	s.disposeLocked()
	s.cbs.CoqDied(err)
	return err
}

// StepForward submits the next command after the focus. A backend rejection
// comes back as *FailValue after the machine has rewound.
func (s *STM) StepForward(ctx context.Context, src scanner.Source, verbose bool) error {
	s.mu.Lock()
	defer s.endOp()
	if err := s.validateLocked(ctx); err != nil {
		return err
	}

	next, stop := iter.Pull(src(s.focused.Range().End))
	defer stop()
	cmd, ok := next()
	if !ok || !position.Equal(cmd.Range.Start, s.focused.Range().End) {
		return nil
	}
	_, err := s.addLocked(ctx, cmd, verbose)
	return err
}

// StepBackward cancels the focused sentence, moving the focus to its parent.
func (s *STM) StepBackward(ctx context.Context) error {
	s.mu.Lock()
	defer s.endOp()
	if err := s.validateLocked(ctx); err != nil {
		return err
	}
	if s.focused.IsRoot() {
		return nil
	}
	return s.focusLocked(ctx, s.focused.Parent())
}

// InterpretToPoint advances or rewinds until the focus ends at or before
// pos.
func (s *STM) InterpretToPoint(ctx context.Context, pos protocol.Position, src scanner.Source) error {
	s.mu.Lock()
	defer s.endOp()
	if err := s.validateLocked(ctx); err != nil {
		return err
	}

	if err := s.advanceToLocked(ctx, pos, src); err != nil {
		return err
	}
	if position.IsAfter(s.focused.Range().End, pos) {
		return s.focusLocked(ctx, s.nearestAtOrBeforeLocked(pos))
	}
	return nil
}

func (s *STM) advanceToLocked(ctx context.Context, pos protocol.Position, src scanner.Source) error {
	next, stop := iter.Pull(src(s.focused.Range().End))
	defer func() { stop() }()

	cmd, ok := next()
	for ok {
		if position.IsAfter(cmd.Range.End, pos) {
			return nil
		}
		// Pull the next candidate before blocking on the backend so the
		// parse overlaps the round-trip.
		pending, pendingOK := next()
		added, err := s.addLocked(ctx, cmd, false)
		if err != nil {
			return err
		}
		if s.focused != added {
			// The add unfocused to an existing sentence; candidates
			// parsed ahead are anchored at the wrong place.
			stop()
			next, stop = iter.Pull(src(s.focused.Range().End))
			cmd, ok = next()
			continue
		}
		cmd, ok = pending, pendingOK
	}
	return nil
}

// addLocked runs the add-command protocol of one sentence.
func (s *STM) addLocked(ctx context.Context, cmd scanner.Command, verbose bool) (*sentence.Sentence, error) {
	focusEnd := s.focused.Range().End
	if !position.Equal(cmd.Range.Start, focusEnd) {
		return nil, s.inconsistentLocked(fmt.Sprintf(
			"add at %d:%d does not start at the focus %d:%d",
			cmd.Range.Start.Line, cmd.Range.Start.Character, focusEnd.Line, focusEnd.Character))
	}

	res, err := s.coq.Add(ctx, cmd.Text, s.version, s.focused.StateID(), verbose)
	s.drainQueue()
	if err != nil {
		return nil, s.recoverFailureLocked(ctx, &cmd, err)
	}

	added := s.tree.Add(s.focused, cmd.Text, res.StateID, cmd.Range, time.Now())
	s.drainBufferLocked()
	if position.IsBeforeOrEqual(s.last.Range().End, added.Range().Start) {
		s.last = added
	}
	if res.Unfocused != nil {
		target, ok := s.tree.Lookup(*res.Unfocused)
		if !ok {
			return nil, s.inconsistentLocked(fmt.Sprintf("unknown unfocused state %d", int(*res.Unfocused)))
		}
		s.focused = target
	} else {
		s.focused = added
	}
	if res.Message != "" {
		s.cbs.Message(coqtop.LevelNotice, res.Message)
	}
	return added, nil
}

// recoverFailureLocked turns a backend rejection into a *FailValue, first
// rewinding to the fallback state the backend named. cmd, when present, is
// the submitted command the failure's location points into.
func (s *STM) recoverFailureLocked(ctx context.Context, cmd *scanner.Command, err error) error {
	var fail *coqtop.Fail
	if !errors.As(err, &fail) {
		return err
	}

	if fail.StateID != 0 {
		if target, ok := s.tree.Lookup(fail.StateID); ok {
			if _, editErr := s.coq.EditAt(ctx, fail.StateID); editErr == nil {
				s.rewindToLocked(target)
			} else {
				s.logger.Warningf("edit-at fallback to state %d failed: %v", int(fail.StateID), editErr)
			}
			s.drainQueue()
		}
	}

	fv := &FailValue{Message: fail.Message}
	if cmd != nil && fail.Location != nil {
		fv.Range = &protocol.Range{
			Start: position.AtRelative(cmd.Range.Start, cmd.Text, fail.Location.Start),
			End:   position.AtRelative(cmd.Range.Start, cmd.Text, fail.Location.Stop),
		}
	}
	return fv
}

// rewindToLocked truncates the tree past target, mirroring a backend
// edit-at with no remaining focus.
func (s *STM) rewindToLocked(target *sentence.Sentence) {
	for _, removed := range s.tree.Truncate(target) {
		s.cbs.ClearSentence(removed.Range())
	}
	s.focused, s.last = target, target
}

// focusLocked makes target the backend's tip. A no-op when it already is.
func (s *STM) focusLocked(ctx context.Context, target *sentence.Sentence) error {
	if target == s.focused {
		return nil
	}
	res, err := s.coq.EditAt(ctx, target.StateID())
	s.drainQueue()
	if err != nil {
		return s.recoverFailureLocked(ctx, nil, err)
	}

	if res.NewFocus != nil {
		// Re-entering an open proof: the closing stack from the qed
		// sentence on survives, only the sentences in between go.
		qed, ok := s.tree.Lookup(res.NewFocus.QedStateID)
		if !ok {
			return s.inconsistentLocked(fmt.Sprintf("unknown qed state %d", int(res.NewFocus.QedStateID)))
		}
		for _, removed := range s.tree.RemoveDescendantsUntil(target, qed) {
			s.cbs.ClearSentence(removed.Range())
		}
		s.focused = target
		return nil
	}

	s.rewindToLocked(target)
	return nil
}

// ApplyChanges reconciles a batch of non-overlapping document edits.
// Sentences an edit merely shifts are moved; sentences an edit's interior
// touches are cancelled through the backend.
func (s *STM) ApplyChanges(ctx context.Context, edits []position.TextEdit, newVersion int) error {
	s.mu.Lock()
	defer s.endOp()
	if s.life == lifecycleDisposed {
		return ErrDisposed
	}
	s.version = newVersion
	if s.life != lifecycleRunning || len(edits) == 0 {
		return nil
	}

	sorted := make([]position.TextEdit, len(edits))
	copy(sorted, edits)
	position.SortDescending(sorted)

	// Walk from the last sentence up through its ancestors. The chain is
	// snapshotted first: a cancellation below truncates parts of it.
	chain := []*sentence.Sentence{s.last}
	for a := range s.last.Ancestors() {
		chain = append(chain, a)
	}

	remaining := sorted
	for _, sent := range chain {
		if sent.IsRoot() {
			break
		}
		// Edits at or after this sentence's end belong to later
		// sentences, which the walk already handled.
		for len(remaining) > 0 && !position.IsBefore(remaining[0].Range.Start, sent.Range().End) {
			remaining = remaining[1:]
		}
		if len(remaining) == 0 {
			break
		}
		if sent.ApplyTextChanges(remaining) {
			if err := s.focusLocked(ctx, sent.Parent()); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetGoal fetches the backend's goal state. Not-ready and interrupted both
// yield an empty state rather than an error.
func (s *STM) GetGoal(ctx context.Context) (GoalState, error) {
	s.mu.Lock()
	defer s.endOp()
	if s.life == lifecycleDisposed {
		return GoalState{}, ErrDisposed
	}
	if s.life != lifecycleRunning {
		return GoalState{}, nil
	}

	s.interrupted.Store(false)
	goals, err := s.coq.Goal(ctx)
	s.drainQueue()
	if err != nil {
		var fail *coqtop.Fail
		if s.interrupted.Load() || errors.As(err, &fail) {
			return GoalState{Focus: s.focused.Range().End}, nil
		}
		return GoalState{}, err
	}
	return GoalState{Goals: goals, Focus: s.focused.Range().End}, nil
}

// Query runs a read-only query at the tip, or at the sentence containing
// pos when given.
func (s *STM) Query(ctx context.Context, text string, pos *protocol.Position) (string, error) {
	s.mu.Lock()
	defer s.endOp()
	if err := s.validateLocked(ctx); err != nil {
		return "", err
	}

	id := s.focused.StateID()
	if pos != nil {
		if sent := s.sentenceAtLocked(*pos); sent != nil {
			id = sent.StateID()
		}
	}

	s.interrupted.Store(false)
	out, err := s.coq.Query(ctx, text, id)
	s.drainQueue()
	if err != nil {
		if s.interrupted.Load() {
			return "", nil
		}
		var fail *coqtop.Fail
		if errors.As(err, &fail) {
			return "", &FailValue{Message: fail.Message}
		}
		return "", err
	}
	return out, nil
}

// Interrupt asks the backend to abort in-progress work. It deliberately
// bypasses the operation lock: the call to abort is usually the one holding
// it.
func (s *STM) Interrupt() error {
	s.interrupted.Store(true)
	s.resMu.Lock()
	coq := s.coq
	s.resMu.Unlock()
	if coq == nil {
		return nil
	}
	return coq.Interrupt()
}

// RequestLtacProf asks for tactic profiling data, scoped to the sentence at
// pos or global when pos is nil. Results arrive as feedback.
func (s *STM) RequestLtacProf(ctx context.Context, pos *protocol.Position) error {
	s.mu.Lock()
	defer s.endOp()
	if err := s.validateLocked(ctx); err != nil {
		return err
	}
	var id coqtop.StateID
	if pos != nil {
		if sent := s.sentenceAtLocked(*pos); sent != nil {
			id = sent.StateID()
		}
	}
	err := s.coq.LtacProfiling(ctx, id)
	s.drainQueue()
	return err
}

// ResizeWindow forwards the pretty-printing width to the backend.
func (s *STM) ResizeWindow(cols int) error {
	s.mu.Lock()
	defer s.endOp()
	if s.life == lifecycleDisposed {
		return ErrDisposed
	}
	if s.life != lifecycleRunning {
		return nil
	}
	return s.coq.ResizeWindow(cols)
}

// GetSentences enumerates a snapshot of the accepted sentences in order.
func (s *STM) GetSentences() iter.Seq[*sentence.Sentence] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap []*sentence.Sentence
	if s.life == lifecycleRunning {
		snap = slices.Collect(s.tree.Sentences())
	}
	return slices.Values(snap)
}

// GetSentenceErrors enumerates the recorded failures for diagnostics.
func (s *STM) GetSentenceErrors() iter.Seq[SentenceError] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap []SentenceError
	if s.life == lifecycleRunning {
		for sent := range s.tree.Sentences() {
			if e := sent.Err(); e != nil {
				snap = append(snap, SentenceError{
					SentenceRange: sent.Range(),
					ErrorRange:    e.Range,
					Message:       e.Message,
				})
			}
		}
	}
	return slices.Values(snap)
}

// Shutdown asks the backend to quit, then tears the machine down.
func (s *STM) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.endOp()
	if s.life == lifecycleDisposed {
		return ErrDisposed
	}
	if s.life == lifecycleRunning {
		if err := s.coq.Quit(ctx); err != nil {
			s.logger.Warningf("quit: %v", err)
		}
	}
	s.disposeLocked()
	return nil
}

// Dispose tears everything down immediately, unblocking any in-flight
// operation by killing the transport out from under it.
func (s *STM) Dispose() {
	s.interrupted.Store(true)
	s.resMu.Lock()
	coq := s.coq
	s.resMu.Unlock()
	if coq != nil {
		_ = coq.Dispose()
	}
	s.mu.Lock()
	s.life = lifecycleDisposed
	s.mu.Unlock()
}

// FocusPosition is where the next command will attach.
func (s *STM) FocusPosition() protocol.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.life != lifecycleRunning {
		return protocol.Position{}
	}
	return s.focused.Range().End
}

// FocusedStateID returns the backend's current tip, or 0 before
// initialization.
func (s *STM) FocusedStateID() coqtop.StateID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.life != lifecycleRunning {
		return 0
	}
	return s.focused.StateID()
}

// LastStateID returns the state id of the sentence with the greatest range
// end, or 0 before initialization.
func (s *STM) LastStateID() coqtop.StateID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.life != lifecycleRunning {
		return 0
	}
	return s.last.StateID()
}

// Running reports whether the machine is initialized and not disposed.
func (s *STM) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life == lifecycleRunning
}

func (s *STM) sentenceAtLocked(pos protocol.Position) *sentence.Sentence {
	for sent := range s.tree.Sentences() {
		if sent.Contains(pos) {
			return sent
		}
	}
	return nil
}

func (s *STM) nearestAtOrBeforeLocked(pos protocol.Position) *sentence.Sentence {
	best := s.tree.Root()
	for sent := range s.tree.Sentences() {
		if sent.IsBefore(pos) && position.IsAfter(sent.Range().End, best.Range().End) {
			best = sent
		}
	}
	return best
}
