package coqtop

import "context"

// FeedbackHandler receives events the backend pushes outside the
// request/response cycle. Implementations must not call back into the
// Transport from these methods; the transport's reader delivers them
// sequentially and a re-entrant call would stall the stream.
type FeedbackHandler interface {
	// StateStatus reports an execution-state change for one sentence.
	StateStatus(id StateID, route int, status SentenceStatus, worker string)
	// StateError reports that a sentence failed. loc, when present, is a
	// byte range within the sentence's text.
	StateError(id StateID, route int, message string, loc *Location)
	Message(level MessageLevel, text string)
	WorkerStatus(worker, status string)
	LtacProf(id StateID, route int, results LtacProfResults)
	FileDependency(file, dependsOn string)
	FileLoaded(module, file string)
	// Closed fires once, when the backend connection is gone. err is nil
	// for a shutdown the client requested.
	Closed(err error)
}

// Transport is the request/response surface of the proving backend. Calls
// must be serialized by the caller; at most one may be in flight. Feedback
// arrives concurrently on the handler passed at construction.
type Transport interface {
	// Init resets the backend and returns the root state id.
	Init(ctx context.Context) (StateID, error)

	// Add submits one sentence under the parent state. version is the
	// editor's document version at submission time. A backend rejection is
	// returned as *Fail.
	Add(ctx context.Context, text string, version int, parent StateID, verbose bool) (AddResult, error)

	// EditAt moves the backend's tip to an earlier state, cancelling
	// everything after it.
	EditAt(ctx context.Context, id StateID) (EditAtResult, error)

	// Goal fetches the current goal state.
	Goal(ctx context.Context) (*Goals, error)

	// Query runs a read-only query at the given state (the tip when id is
	// zero) and returns the backend's printed answer.
	Query(ctx context.Context, text string, id StateID) (string, error)

	// Interrupt asks the backend to abort in-progress work.
	Interrupt() error

	// Quit requests a graceful backend exit.
	Quit(ctx context.Context) error

	// ResizeWindow sets the backend's pretty-printing width.
	ResizeWindow(cols int) error

	// LtacProfiling requests tactic profiling data for one state (or
	// globally when id is zero); results arrive as LtacProf feedback.
	LtacProfiling(ctx context.Context, id StateID) error

	// Dispose tears the connection down immediately.
	Dispose() error
}
