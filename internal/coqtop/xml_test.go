package coqtop

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/commonlog"
)

func decode(t *testing.T, s string) *node {
	t.Helper()
	var n node
	require.NoError(t, xml.Unmarshal([]byte(s), &n))
	return &n
}

func TestParseValueGood(t *testing.T) {
	payload, err := parseValue(decode(t, `<value val="good"><state_id val="1"/></value>`))
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, "state_id", payload.name())
	assert.Equal(t, StateID(1), payload.stateID())
}

func TestParseValueFail(t *testing.T) {
	v := decode(t, `<value val="fail" loc_s="0" loc_e="3"><state_id val="2"/><richpp>syntax error</richpp></value>`)
	_, err := parseValue(v)
	var fail *Fail
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, StateID(2), fail.StateID)
	assert.Equal(t, "syntax error", fail.Message)
	require.NotNil(t, fail.Location)
	assert.Equal(t, 0, fail.Location.Start)
	assert.Equal(t, 3, fail.Location.Stop)
}

func TestParseGoals(t *testing.T) {
	v := decode(t, `<value val="good"><option val="some"><goals>`+
		`<list><goal><string>3</string><list><richpp>H : True</richpp></list><richpp>False</richpp></goal></list>`+
		`<list><pair><list/><list><goal><string>4</string><list/><richpp>True</richpp></goal></list></pair></list>`+
		`<list/><list/></goals></option></value>`)
	payload, err := parseValue(v)
	require.NoError(t, err)

	goals := parseGoals(payload)
	require.Len(t, goals.Foreground, 1)
	assert.Equal(t, "3", goals.Foreground[0].ID)
	assert.Equal(t, []string{"H : True"}, goals.Foreground[0].Hypotheses)
	assert.Equal(t, "False", goals.Foreground[0].Goal)
	require.Len(t, goals.Background, 1)
	assert.Empty(t, goals.Background[0].Before)
	require.Len(t, goals.Background[0].After, 1)
	assert.Equal(t, "True", goals.Background[0].After[0].Goal)
	assert.Empty(t, goals.Shelved)
	assert.Empty(t, goals.Abandoned)
}

func TestParseGoalsNone(t *testing.T) {
	payload, err := parseValue(decode(t, `<value val="good"><option val="none"/></value>`))
	require.NoError(t, err)
	goals := parseGoals(payload)
	assert.Empty(t, goals.Foreground)
}

func TestParseLtacProf(t *testing.T) {
	n := decode(t, `<ltacprof total_time="1.5">`+
		`<ltacprof_tactic name="auto" total="1.0" local="0.5" ncalls="3" max_total="0.8"/>`+
		`</ltacprof>`)
	results := parseLtacProf(n)
	assert.Equal(t, 1.5, results.Total)
	require.Len(t, results.Children, 1)
	child := results.Children[0]
	assert.Equal(t, "auto", child.Name)
	assert.Equal(t, 1.0, child.Total)
	assert.Equal(t, 0.5, child.Local)
	assert.Equal(t, 3, child.Calls)
	assert.Equal(t, 0.8, child.MaxTotal)
}

func TestRichppTextFlattens(t *testing.T) {
	n := decode(t, `<richpp>expected <diff.added>nat</diff.added> got <diff.removed>bool</diff.removed></richpp>`)
	assert.Equal(t, "expected nat got bool", n.text())
}

func TestEncodeAddEscapes(t *testing.T) {
	payload := encAdd(`Definition x := "a<b".`, 7, 3, true)
	assert.Contains(t, payload, `<call val="Add">`)
	assert.Contains(t, payload, "&#34;a&lt;b&#34;")
	assert.Contains(t, payload, "<int>7</int>")
	assert.Contains(t, payload, `<state_id val="3"/>`)
	assert.Contains(t, payload, `<bool val="true"/>`)
}

func TestEncodeCalls(t *testing.T) {
	assert.Equal(t, `<call val="Edit_at"><state_id val="4"/></call>`, encEditAt(4))
	assert.Equal(t, `<call val="Init"><option val="none"/></call>`, encInit())
	assert.Equal(t, `<call val="Goal"><unit/></call>`, encGoal())
	assert.Equal(t, `<call val="Quit"><unit/></call>`, encQuit())
	assert.True(t, strings.HasPrefix(encQuery("Check nat.", 2), `<call val="Query">`))
}

// recordingHandler captures dispatched feedback.
type recordingHandler struct {
	statuses []SentenceStatus
	ids      []StateID
	errors   []string
	locs     []*Location
	messages []string
	workers  []string
	profs    []LtacProfResults
	closed   []error
}

func (r *recordingHandler) StateStatus(id StateID, route int, status SentenceStatus, worker string) {
	r.ids = append(r.ids, id)
	r.statuses = append(r.statuses, status)
}

func (r *recordingHandler) StateError(id StateID, route int, message string, loc *Location) {
	r.ids = append(r.ids, id)
	r.errors = append(r.errors, message)
	r.locs = append(r.locs, loc)
}

func (r *recordingHandler) Message(level MessageLevel, text string) {
	r.messages = append(r.messages, text)
}

func (r *recordingHandler) WorkerStatus(worker, status string) {
	r.workers = append(r.workers, worker+"="+status)
}

func (r *recordingHandler) LtacProf(id StateID, route int, results LtacProfResults) {
	r.ids = append(r.ids, id)
	r.profs = append(r.profs, results)
}

func (r *recordingHandler) FileDependency(file, dependsOn string) {}
func (r *recordingHandler) FileLoaded(module, file string)       {}
func (r *recordingHandler) Closed(err error)                     { r.closed = append(r.closed, err) }

func newDispatchProcess(h FeedbackHandler) *Process {
	return &Process{
		logger:  commonlog.GetLoggerf("coqstm.coqtop.test"),
		handler: h,
	}
}

func TestDispatchStatusFeedback(t *testing.T) {
	h := &recordingHandler{}
	p := newDispatchProcess(h)

	p.dispatchFeedback(decode(t,
		`<feedback object="state" route="0"><state_id val="5"/><feedback_content val="processed"/></feedback>`))

	require.Len(t, h.statuses, 1)
	assert.Equal(t, StatusProcessed, h.statuses[0])
	assert.Equal(t, StateID(5), h.ids[0])
}

func TestDispatchErrorMessageFeedback(t *testing.T) {
	h := &recordingHandler{}
	p := newDispatchProcess(h)

	p.dispatchFeedback(decode(t,
		`<feedback object="state" route="0"><state_id val="3"/>`+
			`<feedback_content val="message"><message>`+
			`<message_level val="error"/>`+
			`<option val="some"><loc start="2" stop="6"/></option>`+
			`<richpp>The term is ill-typed</richpp>`+
			`</message></feedback_content></feedback>`))

	require.Len(t, h.errors, 1)
	assert.Equal(t, "The term is ill-typed", h.errors[0])
	assert.Equal(t, StateID(3), h.ids[0])
	require.NotNil(t, h.locs[0])
	assert.Equal(t, 2, h.locs[0].Start)
	assert.Equal(t, 6, h.locs[0].Stop)
}

func TestDispatchNoticeMessageFeedback(t *testing.T) {
	h := &recordingHandler{}
	p := newDispatchProcess(h)

	p.dispatchFeedback(decode(t,
		`<feedback object="state" route="0"><state_id val="3"/>`+
			`<feedback_content val="message"><message>`+
			`<message_level val="notice"/><option val="none"/>`+
			`<richpp>nat : Set</richpp>`+
			`</message></feedback_content></feedback>`))

	assert.Empty(t, h.errors)
	require.Len(t, h.messages, 1)
	assert.Equal(t, "nat : Set", h.messages[0])
}

func TestDispatchWorkerStatus(t *testing.T) {
	h := &recordingHandler{}
	p := newDispatchProcess(h)

	p.dispatchFeedback(decode(t,
		`<feedback object="state" route="0"><state_id val="0"/>`+
			`<feedback_content val="workerstatus"><pair><string>proofworker:0</string><string>Idle</string></pair></feedback_content>`+
			`</feedback>`))

	require.Len(t, h.workers, 1)
	assert.Equal(t, "proofworker:0=Idle", h.workers[0])
}

func TestDispatchLtacProfCustom(t *testing.T) {
	h := &recordingHandler{}
	p := newDispatchProcess(h)

	p.dispatchFeedback(decode(t,
		`<feedback object="state" route="0"><state_id val="7"/>`+
			`<feedback_content val="custom"><loc start="0" stop="0"/><string>ltacprof_results</string>`+
			`<ltacprof total_time="0.25"><ltacprof_tactic name="tauto" total="0.25" local="0.25" ncalls="1" max_total="0.25"/></ltacprof>`+
			`</feedback_content></feedback>`))

	require.Len(t, h.profs, 1)
	assert.Equal(t, 0.25, h.profs[0].Total)
	assert.Equal(t, StateID(7), h.ids[0])
}
