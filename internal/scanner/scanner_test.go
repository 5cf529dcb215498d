package scanner

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/provetools/coqstm/internal/position"
)

func pos(line, char int) protocol.Position {
	return protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(char)}
}

func collect(src Source, start protocol.Position) []Command {
	return slices.Collect(src(start))
}

func TestSimpleSentences(t *testing.T) {
	cmds := collect(New("A. B."), pos(0, 0))
	require.Len(t, cmds, 2)
	assert.Equal(t, "A.", cmds[0].Text)
	assert.Equal(t, pos(0, 0), cmds[0].Range.Start)
	assert.Equal(t, pos(0, 2), cmds[0].Range.End)
	assert.Equal(t, " B.", cmds[1].Text)
	assert.Equal(t, pos(0, 2), cmds[1].Range.Start)
	assert.Equal(t, pos(0, 5), cmds[1].Range.End)
}

func TestRangesTile(t *testing.T) {
	text := "Lemma one : True.\nProof.\n  auto.\nQed.\n"
	cmds := collect(New(text), pos(0, 0))
	require.Len(t, cmds, 4)
	for i := 1; i < len(cmds); i++ {
		assert.True(t, position.Equal(cmds[i-1].Range.End, cmds[i].Range.Start),
			"command %d does not start where %d ended", i, i-1)
	}
	assert.Equal(t, pos(3, 4), cmds[3].Range.End)
}

func TestAnchorRestart(t *testing.T) {
	text := "A. B. C."
	cmds := collect(New(text), pos(0, 5))
	require.Len(t, cmds, 1)
	assert.Equal(t, " C.", cmds[0].Text)
	assert.Equal(t, pos(0, 5), cmds[0].Range.Start)
}

func TestCommentsDoNotTerminate(t *testing.T) {
	text := "Definition x (* a. nested (* b. *) comment *) := tt."
	cmds := collect(New(text), pos(0, 0))
	require.Len(t, cmds, 1)
	assert.Equal(t, text, cmds[0].Text)
}

func TestStringsHidePeriods(t *testing.T) {
	text := `Definition s := "a. ""b."" c".`
	cmds := collect(New(text), pos(0, 0))
	require.Len(t, cmds, 1)
	assert.Equal(t, text, cmds[0].Text)
}

func TestEllipsisIsNotATerminator(t *testing.T) {
	cmds := collect(New("Notation x := y ... z. Next."), pos(0, 0))
	require.Len(t, cmds, 2)
	assert.Equal(t, "Notation x := y ... z.", cmds[0].Text)
}

func TestBulletsAreSentences(t *testing.T) {
	text := "Proof. - auto. -- trivial."
	cmds := collect(New(text), pos(0, 0))
	require.Len(t, cmds, 5)
	assert.Equal(t, "Proof.", cmds[0].Text)
	assert.Equal(t, " -", cmds[1].Text)
	assert.Equal(t, " auto.", cmds[2].Text)
	assert.Equal(t, " --", cmds[3].Text)
	assert.Equal(t, " trivial.", cmds[4].Text)
}

func TestBracesAreSentences(t *testing.T) {
	cmds := collect(New("{ auto. }"), pos(0, 0))
	require.Len(t, cmds, 3)
	assert.Equal(t, "{", cmds[0].Text)
	assert.Equal(t, " auto.", cmds[1].Text)
	assert.Equal(t, " }", cmds[2].Text)
}

func TestTrailingTextWithoutTerminator(t *testing.T) {
	cmds := collect(New("A. unfinished"), pos(0, 0))
	require.Len(t, cmds, 1)
	assert.Equal(t, "A.", cmds[0].Text)
}

func TestOnlyWhitespaceAndComments(t *testing.T) {
	assert.Empty(t, collect(New("  (* nothing here *)  "), pos(0, 0)))
}

func TestAnchorOutsideTextYieldsNothing(t *testing.T) {
	assert.Empty(t, collect(New("A."), pos(5, 0)))
}
