package server

import (
	"context"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/provetools/coqstm/internal/config"
	"github.com/provetools/coqstm/internal/coqtop"
	"github.com/provetools/coqstm/internal/position"
	"github.com/provetools/coqstm/internal/state"
	"github.com/provetools/coqstm/internal/stm"
	"github.com/provetools/coqstm/internal/utils"
)

const lsName = "coqstm"

var version = "0.1.0"

// The editor drives the machine through workspace/executeCommand.
var commands = []string{
	"coq.stepForward",
	"coq.stepBackward",
	"coq.interpretToPoint",
	"coq.goal",
	"coq.query",
	"coq.interrupt",
	"coq.ltacProfiling",
	"coq.resizeWindow",
}

type Server struct {
	config *config.Config
	state  *state.State
	h      protocol.Handler

	// Latest request context, kept for notifications triggered by backend
	// feedback rather than by a request.
	ctx atomic.Pointer[glsp.Context]
}

func NewServer(cfg *config.Config) *Server {
	s := &Server{
		config: cfg,
		state:  state.NewState(),
	}
	s.h = protocol.Handler{
		Initialize:              s.initialize,
		Initialized:             s.initialized,
		Shutdown:                s.shutdown,
		SetTrace:                s.setTrace,
		TextDocumentDidOpen:     s.didOpen,
		TextDocumentDidChange:   s.didChange,
		TextDocumentDidClose:    s.didClose,
		WorkspaceExecuteCommand: s.executeCommand,
	}
	return s
}

func (s *Server) Run() {
	server := glspserver.NewServer(&s.h, lsName, false)
	server.RunStdio()
}

func (s *Server) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	s.ctx.Store(ctx)
	caps := s.h.CreateServerCapabilities()
	openClose := true
	change := protocol.TextDocumentSyncKindIncremental
	caps.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &openClose,
		Change:    &change,
	}
	caps.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: commands,
	}

	if params.RootURI != nil {
		s.config.WorkspaceRoot = utils.UriToPath(*params.RootURI)
	} else if len(params.WorkspaceFolders) > 0 {
		s.config.WorkspaceRoot = utils.UriToPath(params.WorkspaceFolders[0].URI)
	} else {
		s.config.WorkspaceRoot = "."
	}

	if params.InitializationOptions != nil {
		s.config.ApplyInitializationOptions(params.InitializationOptions)
	}

	logger := commonlog.GetLoggerf("coqstm.server")
	logger.Infof("initialized for %s, backend %s", s.config.WorkspaceRoot, s.config.CoqtopPath)

	return protocol.InitializeResult{
		Capabilities: caps,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lsName,
			Version: &version,
		},
	}, nil
}

func (s *Server) initialized(ctx *glsp.Context, _ *protocol.InitializedParams) error {
	s.ctx.Store(ctx)
	return nil
}

func (s *Server) shutdown(_ *glsp.Context) error {
	s.state.Each(func(_ protocol.DocumentUri, doc *state.Document) {
		if doc.Machine != nil {
			_ = doc.Machine.Shutdown(context.Background())
		}
	})
	return nil
}

func (s *Server) setTrace(_ *glsp.Context, p *protocol.SetTraceParams) error {
	protocol.SetTraceValue(p.Value)
	return nil
}

func (s *Server) didOpen(ctx *glsp.Context, p *protocol.DidOpenTextDocumentParams) error {
	s.ctx.Store(ctx)
	uri := p.TextDocument.URI
	cfg := s.config
	machine := stm.New(func(h coqtop.FeedbackHandler) (coqtop.Transport, error) {
		return coqtop.Spawn(cfg.CoqtopPath, cfg.CoqtopArgs, h)
	}, &editorCallbacks{server: s, uri: uri})
	s.state.SetDocument(uri, p.TextDocument.Text, int(p.TextDocument.Version), machine)
	return nil
}

func (s *Server) didChange(ctx *glsp.Context, p *protocol.DidChangeTextDocumentParams) error {
	s.ctx.Store(ctx)
	doc, ok := s.state.GetDocument(p.TextDocument.URI)
	if !ok {
		return nil
	}

	text := doc.Text
	var edits []position.TextEdit
	for _, c := range p.ContentChanges {
		switch ch := c.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			edits = append(edits[:0], position.TextEdit{Range: position.FullRange(text), Text: ch.Text})
			text = ch.Text
		case protocol.TextDocumentContentChangeEvent:
			start := ch.Range.Start.IndexIn(text)
			end := ch.Range.End.IndexIn(text)
			if start >= 0 && end >= start && end <= len(text) {
				text = text[:start] + ch.Text + text[end:]
				edits = append(edits, position.TextEdit{Range: *ch.Range, Text: ch.Text})
			}
		}
	}
	newVersion := int(p.TextDocument.Version)
	s.state.UpdateText(p.TextDocument.URI, text, newVersion)
	return doc.Machine.ApplyChanges(context.Background(), edits, newVersion)
}

func (s *Server) didClose(ctx *glsp.Context, p *protocol.DidCloseTextDocumentParams) error {
	s.ctx.Store(ctx)
	s.state.DeleteDocument(p.TextDocument.URI)
	return nil
}

func (s *Server) executeCommand(ctx *glsp.Context, p *protocol.ExecuteCommandParams) (any, error) {
	s.ctx.Store(ctx)

	args := newCommandArgs(p.Arguments)
	uri := protocol.DocumentUri(args.string("uri"))
	doc, ok := s.state.GetDocument(uri)
	if !ok {
		return nil, nil
	}
	m := doc.Machine
	bg := context.Background()

	switch p.Command {
	case "coq.stepForward":
		return nil, m.StepForward(bg, doc.Source(), s.config.VerboseAdds)
	case "coq.stepBackward":
		return nil, m.StepBackward(bg)
	case "coq.interpretToPoint":
		pos, ok := args.position()
		if !ok {
			return nil, nil
		}
		return nil, m.InterpretToPoint(bg, pos, doc.Source())
	case "coq.goal":
		goal, err := m.GetGoal(bg)
		if err != nil {
			return nil, err
		}
		return goal, nil
	case "coq.query":
		var pos *protocol.Position
		if at, ok := args.position(); ok {
			pos = &at
		}
		return m.Query(bg, args.string("text"), pos)
	case "coq.interrupt":
		return nil, m.Interrupt()
	case "coq.ltacProfiling":
		var pos *protocol.Position
		if at, ok := args.position(); ok {
			pos = &at
		}
		return nil, m.RequestLtacProf(bg, pos)
	case "coq.resizeWindow":
		if cols, ok := args.int("cols"); ok {
			return nil, m.ResizeWindow(cols)
		}
		return nil, nil
	}
	return nil, nil
}

// commandArgs reads the single object argument our commands carry.
type commandArgs map[string]any

func newCommandArgs(raw []any) commandArgs {
	if len(raw) > 0 {
		if m, ok := raw[0].(map[string]any); ok {
			return commandArgs(m)
		}
	}
	return commandArgs{}
}

func (a commandArgs) string(key string) string {
	if v, ok := a[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

func (a commandArgs) int(key string) (int, bool) {
	if v, ok := a[key]; ok {
		if f, ok := v.(float64); ok {
			return int(f), true
		}
	}
	return 0, false
}

func (a commandArgs) position() (protocol.Position, bool) {
	line, okL := a.int("line")
	char, okC := a.int("character")
	if !okL || !okC {
		return protocol.Position{}, false
	}
	return protocol.Position{
		Line:      protocol.UInteger(line),
		Character: protocol.UInteger(char),
	}, true
}
