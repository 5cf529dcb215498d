package coqtop

import "fmt"

// StateID identifies one backend state. The backend assigns a fresh id for
// every accepted sentence; id 0 is never assigned.
type StateID int

// SentenceStatus mirrors the execution states the backend reports per
// sentence over the feedback channel.
type SentenceStatus int

const (
	StatusProcessingInput SentenceStatus = iota
	StatusProcessed
	StatusIncomplete
	StatusComplete
	StatusInProgress
	StatusError
)

func (s SentenceStatus) String() string {
	switch s {
	case StatusProcessingInput:
		return "processing-input"
	case StatusProcessed:
		return "processed"
	case StatusIncomplete:
		return "incomplete"
	case StatusComplete:
		return "complete"
	case StatusInProgress:
		return "in-progress"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MessageLevel classifies backend messages.
type MessageLevel int

const (
	LevelDebug MessageLevel = iota
	LevelInfo
	LevelNotice
	LevelWarning
	LevelError
)

func (l MessageLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "notice"
}

// Location is a half-open byte range within the text of one submitted
// sentence.
type Location struct {
	Start int
	Stop  int
}

// Fail is the backend's rejection of a call. StateID, when non-zero, names a
// still-valid state the client should edit-at before retrying. Location, when
// present, points into the submitted sentence text.
type Fail struct {
	StateID  StateID
	Message  string
	Location *Location
}

func (f *Fail) Error() string {
	return f.Message
}

// AddResult is the success response to Add. Unfocused is non-nil when the new
// sentence closed a nested proof and the backend moved its tip back to a
// pre-existing state.
type AddResult struct {
	StateID   StateID
	Unfocused *StateID
	Message   string
}

// NewFocus is returned by EditAt when the target lies inside an already
// closed proof: the backend keeps the proof's closing sentences, and
// QedStateID names the first of them.
type NewFocus struct {
	QedStateID StateID
}

type EditAtResult struct {
	NewFocus *NewFocus
}

// Goal is a single proof obligation.
type Goal struct {
	ID         string
	Hypotheses []string
	Goal       string
}

// BackgroundGoals are the unfocused goals around the current focus, split
// into those before and after it in the proof's zipper.
type BackgroundGoals struct {
	Before []Goal
	After  []Goal
}

// Goals is the full goal state reported by the backend.
type Goals struct {
	Foreground []Goal
	Background []BackgroundGoals
	Shelved    []Goal
	Abandoned  []Goal
}

// LtacProfResults is one node of the tactic profiling tree.
type LtacProfResults struct {
	Name     string
	Total    float64
	Local    float64
	Calls    int
	MaxTotal float64
	Children []LtacProfResults
}
