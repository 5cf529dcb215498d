package position

import (
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// IsBefore reports whether a orders strictly before b by (line, character).
func IsBefore(a, b protocol.Position) bool {
	if a.Line != b.Line {
		return a.Line < b.Line
	}
	return a.Character < b.Character
}

// IsAfter reports whether a orders strictly after b.
func IsAfter(a, b protocol.Position) bool {
	return IsBefore(b, a)
}

func Equal(a, b protocol.Position) bool {
	return a.Line == b.Line && a.Character == b.Character
}

// IsBeforeOrEqual reports a <= b.
func IsBeforeOrEqual(a, b protocol.Position) bool {
	return !IsBefore(b, a)
}

// RangeDelta describes how positions at or after the end of a replaced range
// shift once the replacement text is in place. Positions on exactly Line also
// receive the character shift; positions on later lines only the line shift.
type RangeDelta struct {
	Line       protocol.UInteger
	Lines      int
	Characters int
}

// ToRangeDelta computes the delta produced by replacing r with newText.
func ToRangeDelta(r protocol.Range, newText string) RangeDelta {
	newLines := strings.Count(newText, "\n")
	var newEndChar int
	if i := strings.LastIndexByte(newText, '\n'); i >= 0 {
		newEndChar = len(newText) - i - 1
	} else {
		newEndChar = int(r.Start.Character) + len(newText)
	}
	return RangeDelta{
		Line:       r.End.Line,
		Lines:      newLines - int(r.End.Line-r.Start.Line),
		Characters: newEndChar - int(r.End.Character),
	}
}

// Apply shifts a position that is at or after the delta's origin.
func (d RangeDelta) Apply(p protocol.Position) protocol.Position {
	if p.Line == d.Line {
		p.Character = protocol.UInteger(int(p.Character) + d.Characters)
	}
	p.Line = protocol.UInteger(int(p.Line) + d.Lines)
	return p
}

// ApplyToRange shifts both ends of a range that starts at or after the
// delta's origin.
func (d RangeDelta) ApplyToRange(r protocol.Range) protocol.Range {
	return protocol.Range{Start: d.Apply(r.Start), End: d.Apply(r.End)}
}

// AtRelative returns the position reached by consuming offset bytes of text
// starting from anchor. Offsets past the end of text clamp to its end.
func AtRelative(anchor protocol.Position, text string, offset int) protocol.Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	line, char := anchor.Line, anchor.Character
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
			char = 0
		} else {
			char++
		}
	}
	return protocol.Position{Line: line, Character: char}
}

// FullRange is the range spanning text in its entirety.
func FullRange(text string) protocol.Range {
	return protocol.Range{End: AtRelative(protocol.Position{}, text, len(text))}
}

// RangeContains reports whether p lies within r, treating r as half-open.
func RangeContains(r protocol.Range, p protocol.Position) bool {
	return IsBeforeOrEqual(r.Start, p) && IsBefore(p, r.End)
}

// Overlaps reports whether the interiors of a and b intersect. Ranges that
// merely touch at a boundary do not overlap.
func Overlaps(a, b protocol.Range) bool {
	return IsBefore(a.Start, b.End) && IsBefore(b.Start, a.End)
}
