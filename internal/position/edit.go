package position

import (
	"slices"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// TextEdit is one replacement of Range by Text within the document.
type TextEdit struct {
	Range protocol.Range
	Text  string
}

// Delta is the position shift this edit produces.
func (e TextEdit) Delta() RangeDelta {
	return ToRangeDelta(e.Range, e.Text)
}

// SortDescending orders non-overlapping edits so that the edit with the
// greatest start position comes first. Processing edits in this order keeps
// every remaining edit's coordinates valid without cumulative adjustment.
func SortDescending(edits []TextEdit) {
	slices.SortFunc(edits, func(a, b TextEdit) int {
		switch {
		case IsBefore(b.Range.Start, a.Range.Start):
			return -1
		case IsBefore(a.Range.Start, b.Range.Start):
			return 1
		}
		return 0
	})
}
