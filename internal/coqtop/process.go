package coqtop

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// DefaultArgs are the coqidetop arguments needed for the stdio main channel.
var DefaultArgs = []string{"-main-channel", "stdfds", "-async-proofs", "on"}

var errClosed = errors.New("coqtop: backend closed")

type callResult struct {
	payload *node
	err     error
}

// Process is a Transport backed by a coqidetop child process. Responses and
// feedback share the process's stdout; a reader goroutine demultiplexes
// them, handing <value> elements to the pending call and dispatching
// <feedback> to the handler.
type Process struct {
	logger  commonlog.Logger
	handler FeedbackHandler

	cmd   *exec.Cmd
	stdin io.WriteCloser

	callMu  sync.Mutex
	pending chan callResult

	quitting atomic.Bool
	closed   atomic.Bool
}

// Spawn starts the backend process. path defaults to "coqidetop" and args to
// DefaultArgs when empty.
func Spawn(path string, args []string, handler FeedbackHandler) (*Process, error) {
	if path == "" {
		path = "coqidetop"
	}
	if len(args) == 0 {
		args = DefaultArgs
	}

	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("coqtop: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("coqtop: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("coqtop: start %s: %w", path, err)
	}

	p := &Process{
		logger:  commonlog.GetLoggerf("coqstm.coqtop"),
		handler: handler,
		cmd:     cmd,
		stdin:   stdin,
		pending: make(chan callResult, 1),
	}
	go p.readLoop(stdout)
	return p, nil
}

func (p *Process) readLoop(stdout io.Reader) {
	dec := xml.NewDecoder(stdout)
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	for {
		tok, err := dec.Token()
		if err != nil {
			p.onStreamEnd(err)
			return
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var n node
		if err := dec.DecodeElement(&n, &start); err != nil {
			p.onStreamEnd(err)
			return
		}
		switch n.name() {
		case "value":
			payload, err := parseValue(&n)
			select {
			case p.pending <- callResult{payload: payload, err: err}:
			default:
				p.logger.Warningf("dropping unsolicited response")
			}
		case "feedback":
			p.dispatchFeedback(&n)
		case "message":
			level, text := parseStandaloneMessage(&n)
			p.handler.Message(level, text)
		default:
			p.logger.Debugf("ignoring %s element", n.name())
		}
	}
}

func (p *Process) onStreamEnd(err error) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	waitErr := p.cmd.Wait()
	if p.quitting.Load() {
		err = nil
	} else {
		if err == nil || errors.Is(err, io.EOF) {
			err = waitErr
		}
		if err == nil {
			err = errClosed
		}
	}

	// A call may be blocked on its response; unblock it before reporting
	// the closure, or the caller would wait forever.
	callErr := err
	if callErr == nil {
		callErr = errClosed
	}
	select {
	case p.pending <- callResult{err: callErr}:
	default:
	}

	p.handler.Closed(err)
}

func (p *Process) dispatchFeedback(fb *node) {
	route, _ := strconv.Atoi(fb.Route)
	var id StateID
	if sid := fb.firstNamed("state_id"); sid != nil {
		id = sid.stateID()
	}
	content := fb.firstNamed("feedback_content")
	if content == nil {
		return
	}

	switch content.Val {
	case "processingin":
		worker := ""
		if w := content.child(0); w != nil {
			worker = w.text()
		}
		p.handler.StateStatus(id, route, StatusProcessingInput, worker)
	case "processed":
		p.handler.StateStatus(id, route, StatusProcessed, "")
	case "incomplete":
		p.handler.StateStatus(id, route, StatusIncomplete, "")
	case "complete":
		p.handler.StateStatus(id, route, StatusComplete, "")
	case "inprogress":
		p.handler.StateStatus(id, route, StatusInProgress, "")
	case "errormsg":
		loc, msg := parseErrorMsg(content)
		p.handler.StateError(id, route, msg, loc)
	case "message":
		level, loc, text := parseFeedbackMessage(content)
		if level == LevelError {
			p.handler.StateError(id, route, text, loc)
		} else {
			p.handler.Message(level, text)
		}
	case "workerstatus":
		if pair := content.child(0); pair != nil {
			worker, status := "", ""
			if w := pair.child(0); w != nil {
				worker = w.text()
			}
			if s := pair.child(1); s != nil {
				status = s.text()
			}
			p.handler.WorkerStatus(worker, status)
		}
	case "filedependency":
		file, dep := "", ""
		if opt := content.child(0); opt != nil && opt.Val == "some" {
			if f := opt.child(0); f != nil {
				file = f.text()
			}
		}
		if d := content.child(1); d != nil {
			dep = d.text()
		}
		p.handler.FileDependency(file, dep)
	case "fileloaded":
		module, file := "", ""
		if m := content.child(0); m != nil {
			module = m.text()
		}
		if f := content.child(1); f != nil {
			file = f.text()
		}
		p.handler.FileLoaded(module, file)
	case "custom":
		p.dispatchCustom(id, route, content)
	default:
		p.logger.Debugf("ignoring feedback %q for state %d", content.Val, int(id))
	}
}

func (p *Process) dispatchCustom(id StateID, route int, content *node) {
	name := ""
	if n := content.child(1); n != nil {
		name = strings.TrimSpace(n.text())
	}
	if name != "ltacprof_results" {
		p.logger.Debugf("ignoring custom feedback %q", name)
		return
	}
	payload := content.child(2)
	if payload == nil {
		return
	}
	if prof := payload.firstNamed("ltacprof"); prof != nil {
		payload = prof
	}
	p.handler.LtacProf(id, route, parseLtacProf(payload))
}

func parseErrorMsg(content *node) (*Location, string) {
	var loc *Location
	msg := ""
	if l := content.child(0); l != nil {
		start, err1 := strconv.Atoi(attrOrVal(l, "start"))
		stop, err2 := strconv.Atoi(attrOrVal(l, "stop"))
		if err1 == nil && err2 == nil {
			loc = &Location{Start: start, Stop: stop}
		}
	}
	if m := content.child(1); m != nil {
		msg = strings.TrimSpace(m.text())
	}
	return loc, msg
}

func parseFeedbackMessage(content *node) (MessageLevel, *Location, string) {
	msg := content.firstNamed("message")
	if msg == nil {
		return LevelNotice, nil, strings.TrimSpace(content.text())
	}
	level := LevelNotice
	if lvl := msg.firstNamed("message_level"); lvl != nil {
		level = parseMessageLevel(lvl.Val)
	}
	var loc *Location
	if opt := msg.firstNamed("option"); opt != nil && opt.Val == "some" {
		if l := opt.child(0); l != nil {
			start, err1 := strconv.Atoi(attrOrVal(l, "start"))
			stop, err2 := strconv.Atoi(attrOrVal(l, "stop"))
			if err1 == nil && err2 == nil {
				loc = &Location{Start: start, Stop: stop}
			}
		}
	}
	text := ""
	if rich := msg.firstNamed("richpp"); rich != nil {
		text = strings.TrimSpace(rich.text())
	} else if s := msg.firstNamed("string"); s != nil {
		text = strings.TrimSpace(s.text())
	}
	return level, loc, text
}

func parseStandaloneMessage(n *node) (MessageLevel, string) {
	level := LevelNotice
	if lvl := n.firstNamed("message_level"); lvl != nil {
		level = parseMessageLevel(lvl.Val)
	}
	text := strings.TrimSpace(n.text())
	if rich := n.firstNamed("richpp"); rich != nil {
		text = strings.TrimSpace(rich.text())
	}
	return level, text
}

// call writes one request and blocks for its response. Calls are serialized;
// feedback keeps flowing on the reader goroutine while we wait.
func (p *Process) call(ctx context.Context, payload string) (*node, error) {
	p.callMu.Lock()
	defer p.callMu.Unlock()

	if p.closed.Load() {
		return nil, errClosed
	}

	// Drop a response left over from a call abandoned on context cancel.
	select {
	case <-p.pending:
	default:
	}

	if _, err := io.WriteString(p.stdin, payload); err != nil {
		return nil, fmt.Errorf("coqtop: write: %w", err)
	}

	select {
	case res := <-p.pending:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Process) Init(ctx context.Context) (StateID, error) {
	payload, err := p.call(ctx, encInit())
	if err != nil {
		return 0, err
	}
	if payload == nil || payload.name() != "state_id" {
		return 0, fmt.Errorf("coqtop: malformed Init response")
	}
	return payload.stateID(), nil
}

func (p *Process) Add(ctx context.Context, text string, version int, parent StateID, verbose bool) (AddResult, error) {
	payload, err := p.call(ctx, encAdd(text, version, parent, verbose))
	if err != nil {
		return AddResult{}, err
	}
	var out AddResult
	if payload == nil {
		return out, fmt.Errorf("coqtop: malformed Add response")
	}
	if sid := payload.firstNamed("state_id"); sid != nil {
		out.StateID = sid.stateID()
	}
	if inner := payload.firstNamed("pair"); inner != nil {
		if union := inner.firstNamed("union"); union != nil && union.Val == "in_r" {
			if sid := union.firstNamed("state_id"); sid != nil {
				id := sid.stateID()
				out.Unfocused = &id
			}
		}
		if msg := inner.firstNamed("string"); msg != nil {
			out.Message = strings.TrimSpace(msg.text())
		}
	}
	return out, nil
}

func (p *Process) EditAt(ctx context.Context, id StateID) (EditAtResult, error) {
	payload, err := p.call(ctx, encEditAt(id))
	if err != nil {
		return EditAtResult{}, err
	}
	var out EditAtResult
	if payload != nil && payload.name() == "union" && payload.Val == "in_r" {
		// Inr (start, (stop, tip)): stop names the proof's closing sentence.
		if pair := payload.firstNamed("pair"); pair != nil {
			if inner := pair.firstNamed("pair"); inner != nil {
				if qed := inner.firstNamed("state_id"); qed != nil {
					out.NewFocus = &NewFocus{QedStateID: qed.stateID()}
				}
			}
		}
	}
	return out, nil
}

func (p *Process) Goal(ctx context.Context) (*Goals, error) {
	payload, err := p.call(ctx, encGoal())
	if err != nil {
		return nil, err
	}
	return parseGoals(payload), nil
}

func (p *Process) Query(ctx context.Context, text string, id StateID) (string, error) {
	payload, err := p.call(ctx, encQuery(text, id))
	if err != nil {
		return "", err
	}
	// Recent backends answer through feedback messages and return unit here.
	if payload != nil && payload.name() == "string" {
		return payload.text(), nil
	}
	return "", nil
}

// Interrupt signals the process out of band; the XML channel may be busy
// executing the very call we want to abort.
func (p *Process) Interrupt() error {
	if p.closed.Load() {
		return errClosed
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

func (p *Process) Quit(ctx context.Context) error {
	p.quitting.Store(true)
	_, err := p.call(ctx, encQuit())
	if err != nil && !errors.Is(err, errClosed) {
		return err
	}
	return nil
}

func (p *Process) ResizeWindow(cols int) error {
	_, err := p.call(context.Background(), encSetPrintingWidth(cols))
	return err
}

func (p *Process) LtacProfiling(ctx context.Context, id StateID) error {
	_, err := p.call(ctx, encQuery("Show Ltac Profile.", id))
	return err
}

// Dispose kills the process if it is still around. Safe to call after Quit.
func (p *Process) Dispose() error {
	p.quitting.Store(true)
	if p.closed.Load() {
		return nil
	}
	_ = p.stdin.Close()
	return p.cmd.Process.Kill()
}
