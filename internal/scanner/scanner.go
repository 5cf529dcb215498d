// Package scanner produces candidate sentences from a proof script. It is a
// lexical pass only: it finds sentence boundaries (terminating periods,
// bullets, focus braces) while respecting strings and nested comments, and
// leaves all further interpretation to the backend.
package scanner

import (
	"iter"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/provetools/coqstm/internal/position"
)

// Command is one candidate sentence: the exact text from the anchor through
// the sentence terminator, and the document range it occupies.
type Command struct {
	Text  string
	Range protocol.Range
}

// Source produces the finite sequence of candidate commands starting at a
// given position. Each command's range starts exactly where the previous one
// ended; the first starts at the anchor. Callers restart from a new anchor
// by invoking the source again.
type Source func(start protocol.Position) iter.Seq[Command]

// New returns a Source over a snapshot of the document text.
func New(text string) Source {
	return func(start protocol.Position) iter.Seq[Command] {
		return func(yield func(Command) bool) {
			off := offsetOf(text, start)
			if off < 0 {
				return
			}
			pos := start
			for {
				end, ok := scanOne(text, off)
				if !ok {
					return
				}
				cmdText := text[off:end]
				endPos := position.AtRelative(pos, cmdText, len(cmdText))
				if !yield(Command{
					Text:  cmdText,
					Range: protocol.Range{Start: pos, End: endPos},
				}) {
					return
				}
				off, pos = end, endPos
			}
		}
	}
}

// offsetOf resolves a position to a byte offset, or -1 when the position
// lies outside the text.
func offsetOf(text string, pos protocol.Position) int {
	off := 0
	for line := protocol.UInteger(0); line < pos.Line; line++ {
		nl := indexFrom(text, off, '\n')
		if nl < 0 {
			return -1
		}
		off = nl + 1
	}
	off += int(pos.Character)
	if off > len(text) {
		return -1
	}
	return off
}

func indexFrom(text string, off int, b byte) int {
	for i := off; i < len(text); i++ {
		if text[i] == b {
			return i
		}
	}
	return -1
}

// scanOne finds the end of the sentence starting at off: the offset just
// past its terminator. Returns false when only whitespace and comments
// remain, or the trailing text has no terminator yet.
func scanOne(text string, off int) (int, bool) {
	i := off
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '(' && i+1 < len(text) && text[i+1] == '*':
			end, ok := skipComment(text, i)
			if !ok {
				return 0, false
			}
			i = end
		case c == '-' || c == '+' || c == '*':
			// A bullet run is a sentence of its own.
			j := i
			for j < len(text) && text[j] == c {
				j++
			}
			return j, true
		case c == '{' || c == '}':
			return i + 1, true
		default:
			return scanBody(text, i)
		}
	}
	return 0, false
}

// scanBody consumes an ordinary sentence until its terminating period.
func scanBody(text string, i int) (int, bool) {
	for i < len(text) {
		switch c := text[i]; {
		case c == '"':
			end, ok := skipString(text, i)
			if !ok {
				return 0, false
			}
			i = end
		case c == '(' && i+1 < len(text) && text[i+1] == '*':
			end, ok := skipComment(text, i)
			if !ok {
				return 0, false
			}
			i = end
		case c == '.':
			// ".." is an ellipsis token, not a terminator.
			if i+1 < len(text) && text[i+1] == '.' {
				for i < len(text) && text[i] == '.' {
					i++
				}
				continue
			}
			if i+1 >= len(text) || isSpace(text[i+1]) {
				return i + 1, true
			}
			i++
		default:
			i++
		}
	}
	return 0, false
}

func skipString(text string, i int) (int, bool) {
	i++
	for i < len(text) {
		if text[i] == '"' {
			// Doubled quotes escape a quote inside the string.
			if i+1 < len(text) && text[i+1] == '"' {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return 0, false
}

func skipComment(text string, i int) (int, bool) {
	depth := 0
	for i < len(text) {
		switch {
		case text[i] == '(' && i+1 < len(text) && text[i+1] == '*':
			depth++
			i += 2
		case text[i] == '*' && i+1 < len(text) && text[i+1] == ')':
			depth--
			i += 2
			if depth == 0 {
				return i, true
			}
		default:
			i++
		}
	}
	return 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
