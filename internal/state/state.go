package state

import (
	"strings"
	"sync"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/provetools/coqstm/internal/scanner"
	"github.com/provetools/coqstm/internal/stm"
)

// Document is one open proof script: its current text and version as the
// editor reports them, and the machine mediating it to the backend.
type Document struct {
	Text    string
	Version int
	Machine *stm.STM

	lines []string
}

// Source snapshots the current text as a command source for the machine.
func (d *Document) Source() scanner.Source {
	return scanner.New(d.Text)
}

func (d *Document) GetLine(i int) (string, bool) {
	if i < 0 || i >= len(d.lines) {
		return "", false
	}
	return d.lines[i], true
}

// State manages the open documents for the language server.
type State struct {
	mu   sync.RWMutex
	docs map[protocol.DocumentUri]*Document
}

func NewState() *State {
	return &State{
		docs: make(map[protocol.DocumentUri]*Document),
	}
}

// GetDocument retrieves a document from the state.
func (s *State) GetDocument(uri protocol.DocumentUri) (*Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[uri]
	return doc, ok
}

// SetDocument adds a document to the state.
func (s *State) SetDocument(uri protocol.DocumentUri, text string, version int, machine *stm.STM) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := &Document{
		Text:    text,
		Version: version,
		Machine: machine,
		lines:   strings.Split(text, "\n"),
	}
	s.docs[uri] = doc
	return doc
}

// UpdateText replaces a document's text after the editor changed it.
func (s *State) UpdateText(uri protocol.DocumentUri, text string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[uri]; ok {
		doc.Text = text
		doc.Version = version
		doc.lines = strings.Split(text, "\n")
	}
}

// DeleteDocument removes a document, tearing its machine down.
func (s *State) DeleteDocument(uri protocol.DocumentUri) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[uri]; ok {
		if doc.Machine != nil {
			doc.Machine.Dispose()
		}
	}
	delete(s.docs, uri)
}

// Each calls fn for every open document.
func (s *State) Each(fn func(uri protocol.DocumentUri, doc *Document)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for uri, doc := range s.docs {
		fn(uri, doc)
	}
}
