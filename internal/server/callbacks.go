package server

import (
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/provetools/coqstm/internal/coqtop"
)

// editorCallbacks forwards one machine's callbacks to the client as custom
// notifications. Feedback can fire with no request in flight, so the
// server's last-seen context carries the notification out.
type editorCallbacks struct {
	server *Server
	uri    protocol.DocumentUri
}

func (c *editorCallbacks) notify(method string, params any) {
	ctx := c.server.ctx.Load()
	if ctx == nil {
		commonlog.GetLoggerf("coqstm.server").Warningf("dropping %s: no client connection yet", method)
		return
	}
	ctx.Notify(method, params)
}

type sentenceStatusNotification struct {
	URI    protocol.DocumentUri `json:"uri"`
	Range  protocol.Range       `json:"range"`
	Status string               `json:"status"`
}

type clearSentenceNotification struct {
	URI   protocol.DocumentUri `json:"uri"`
	Range protocol.Range       `json:"range"`
}

type sentenceErrorNotification struct {
	URI        protocol.DocumentUri `json:"uri"`
	Range      protocol.Range       `json:"range"`
	ErrorRange *protocol.Range      `json:"errorRange,omitempty"`
	Message    string               `json:"message"`
}

type messageNotification struct {
	URI   protocol.DocumentUri `json:"uri"`
	Level string               `json:"level"`
	Text  string               `json:"text"`
}

type ltacProfNotification struct {
	URI     protocol.DocumentUri   `json:"uri"`
	Range   *protocol.Range        `json:"range,omitempty"`
	Results coqtop.LtacProfResults `json:"results"`
}

type coqDiedNotification struct {
	URI   protocol.DocumentUri `json:"uri"`
	Error string               `json:"error,omitempty"`
}

func (c *editorCallbacks) SentenceStatusUpdate(rng protocol.Range, status coqtop.SentenceStatus) {
	c.notify("$/coq/sentenceStatus", sentenceStatusNotification{
		URI:    c.uri,
		Range:  rng,
		Status: status.String(),
	})
}

func (c *editorCallbacks) ClearSentence(rng protocol.Range) {
	c.notify("$/coq/clearSentence", clearSentenceNotification{URI: c.uri, Range: rng})
}

func (c *editorCallbacks) SentenceError(sentenceRange protocol.Range, errorRange *protocol.Range, message string) {
	c.notify("$/coq/sentenceError", sentenceErrorNotification{
		URI:        c.uri,
		Range:      sentenceRange,
		ErrorRange: errorRange,
		Message:    message,
	})
}

func (c *editorCallbacks) Message(level coqtop.MessageLevel, text string) {
	c.notify("$/coq/message", messageNotification{
		URI:   c.uri,
		Level: level.String(),
		Text:  text,
	})
}

func (c *editorCallbacks) LtacProfResults(rng *protocol.Range, results coqtop.LtacProfResults) {
	c.notify("$/coq/ltacProfResults", ltacProfNotification{
		URI:     c.uri,
		Range:   rng,
		Results: results,
	})
}

func (c *editorCallbacks) CoqDied(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.notify("$/coq/died", coqDiedNotification{URI: c.uri, Error: msg})
}
