package stm

import (
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/provetools/coqstm/internal/coqtop"
	"github.com/provetools/coqstm/internal/position"
	"github.com/provetools/coqstm/internal/sentence"
)

// The STM is its own feedback handler. Events are queued without blocking
// the transport's reader goroutine: if the machine is idle they apply
// immediately, otherwise the operation in flight flushes them at its next
// boundary.

func (s *STM) enqueue(fn func()) {
	s.fbMu.Lock()
	s.fbQueue = append(s.fbQueue, fn)
	s.fbMu.Unlock()

	if s.mu.TryLock() {
		s.drainQueue()
		s.mu.Unlock()
	}
}

// drainQueue applies queued feedback in arrival order. Callers hold mu.
func (s *STM) drainQueue() {
	for {
		s.fbMu.Lock()
		q := s.fbQueue
		s.fbQueue = nil
		s.fbMu.Unlock()
		if len(q) == 0 {
			return
		}
		for _, fn := range q {
			fn()
		}
	}
}

func (s *STM) StateStatus(id coqtop.StateID, route int, status coqtop.SentenceStatus, worker string) {
	s.enqueue(func() { s.applyStateStatus(id, status, worker) })
}

func (s *STM) StateError(id coqtop.StateID, route int, message string, loc *coqtop.Location) {
	s.enqueue(func() { s.applyStateError(id, message, loc) })
}

func (s *STM) Message(level coqtop.MessageLevel, text string) {
	s.enqueue(func() { s.cbs.Message(level, text) })
}

func (s *STM) WorkerStatus(worker, status string) {
	s.logger.Debugf("worker %s: %s", worker, status)
}

func (s *STM) LtacProf(id coqtop.StateID, route int, results coqtop.LtacProfResults) {
	s.enqueue(func() { s.applyLtacProf(id, results) })
}

func (s *STM) FileDependency(file, dependsOn string) {
	s.logger.Debugf("file dependency: %s -> %s", file, dependsOn)
}

func (s *STM) FileLoaded(module, file string) {
	s.logger.Debugf("file loaded: %s (%s)", module, file)
}

func (s *STM) Closed(err error) {
	s.enqueue(func() { s.applyClosed(err) })
}

func (s *STM) applyStateStatus(id coqtop.StateID, status coqtop.SentenceStatus, worker string) {
	if s.life != lifecycleRunning {
		return
	}
	sent, ok := s.tree.Lookup(id)
	if !ok {
		// The add introducing this id has not returned yet; hold the
		// event until it does.
		s.buffer = append(s.buffer, bufferedStatus{stateID: id, status: status, worker: worker})
		return
	}
	if sent.UpdateStatus(status) {
		s.cbs.SentenceStatusUpdate(sent.Range(), status)
	}
}

func (s *STM) applyStateError(id coqtop.StateID, message string, loc *coqtop.Location) {
	if s.life != lifecycleRunning {
		return
	}
	sent, ok := s.tree.Lookup(id)
	if !ok {
		s.logger.Infof("error feedback for unknown state %d: %s", int(id), message)
		return
	}
	errRange := translateLocation(sent, loc)
	sent.SetError(message, errRange)
	s.cbs.SentenceError(sent.Range(), errRange, message)
}

func (s *STM) applyLtacProf(id coqtop.StateID, results coqtop.LtacProfResults) {
	if s.life != lifecycleRunning {
		return
	}
	var rng *protocol.Range
	if sent, ok := s.tree.Lookup(id); ok && !sent.IsRoot() {
		r := sent.Range()
		rng = &r
	}
	s.cbs.LtacProfResults(rng, results)
}

func (s *STM) applyClosed(err error) {
	if s.life != lifecycleRunning || err == nil {
		return
	}
	s.logger.Errorf("backend closed: %v", err)
	s.disposeLocked()
	s.cbs.CoqDied(err)
}

// drainBufferLocked re-applies feedback that was waiting for an unknown
// state id. Called right after a successful add, the one point where new
// ids become known. Events whose id is still unknown keep waiting.
func (s *STM) drainBufferLocked() {
	pending := s.buffer
	s.buffer = nil
	for _, b := range pending {
		sent, ok := s.tree.Lookup(b.stateID)
		if !ok {
			s.buffer = append(s.buffer, b)
			continue
		}
		if sent.UpdateStatus(b.status) {
			s.cbs.SentenceStatusUpdate(sent.Range(), b.status)
		}
	}
}

// translateLocation maps a byte range within a sentence's text to document
// coordinates.
func translateLocation(sent *sentence.Sentence, loc *coqtop.Location) *protocol.Range {
	if loc == nil {
		return nil
	}
	start := sent.Range().Start
	return &protocol.Range{
		Start: position.AtRelative(start, sent.Text(), loc.Start),
		End:   position.AtRelative(start, sent.Text(), loc.Stop),
	}
}
