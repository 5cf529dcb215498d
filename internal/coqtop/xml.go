package coqtop

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// node is a generic element of the backend's XML protocol. The protocol
// nests deeply but uses only a handful of attributes, so one shape covers
// every element we decode.
type node struct {
	XMLName  xml.Name
	Val      string `xml:"val,attr"`
	LocS     string `xml:"loc_s,attr"`
	LocE     string `xml:"loc_e,attr"`
	Object   string `xml:"object,attr"`
	Route    string `xml:"route,attr"`
	Chardata string `xml:",chardata"`
	Inner    []byte `xml:",innerxml"`
	Children []node `xml:",any"`

	rawAttrs []xml.Attr `xml:"-"`
}

func (n *node) name() string { return n.XMLName.Local }

func (n *node) child(i int) *node {
	if i < 0 || i >= len(n.Children) {
		return nil
	}
	return &n.Children[i]
}

// text flattens the element's character data. Rich printing markup
// interleaves text and child elements, which struct decoding cannot keep in
// order, so mixed content is recovered from the raw inner XML instead.
func (n *node) text() string {
	if len(n.Children) == 0 {
		return n.Chardata
	}
	return stripTags(string(n.Inner))
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<", "&gt;", ">", "&quot;", "\"", "&#34;", "\"",
	"&apos;", "'", "&#39;", "'", "&nbsp;", " ", "&amp;", "&",
)

// stripTags drops markup elements from an XML fragment, keeping their
// character data in document order.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for i := 0; i < len(s); i++ {
		switch {
		case inTag:
			if s[i] == '>' {
				inTag = false
			}
		case s[i] == '<':
			inTag = true
		default:
			b.WriteByte(s[i])
		}
	}
	return entityReplacer.Replace(b.String())
}

func (n *node) intVal() int {
	v, _ := strconv.Atoi(n.Val)
	return v
}

func (n *node) stateID() StateID {
	return StateID(n.intVal())
}

func (n *node) location() *Location {
	if n.LocS == "" && n.LocE == "" {
		return nil
	}
	start, err1 := strconv.Atoi(n.LocS)
	stop, err2 := strconv.Atoi(n.LocE)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &Location{Start: start, Stop: stop}
}

// firstNamed returns the first direct child with the given element name.
func (n *node) firstNamed(name string) *node {
	for i := range n.Children {
		if n.Children[i].name() == name {
			return &n.Children[i]
		}
	}
	return nil
}

// parseValue splits a <value> response into its payload or a *Fail.
func parseValue(v *node) (*node, error) {
	if v.Val == "good" {
		return v.child(0), nil
	}
	fail := &Fail{Location: v.location()}
	for i := range v.Children {
		c := &v.Children[i]
		switch c.name() {
		case "state_id":
			fail.StateID = c.stateID()
		case "richpp", "string":
			fail.Message = strings.TrimSpace(c.text())
		}
	}
	if fail.Message == "" {
		fail.Message = strings.TrimSpace(v.text())
	}
	return nil, fail
}

func parseGoal(g *node) Goal {
	var out Goal
	if id := g.child(0); id != nil {
		out.ID = strings.TrimSpace(id.text())
	}
	if hyps := g.child(1); hyps != nil {
		for i := range hyps.Children {
			out.Hypotheses = append(out.Hypotheses, hyps.Children[i].text())
		}
	}
	if concl := g.child(2); concl != nil {
		out.Goal = concl.text()
	}
	return out
}

func parseGoalList(l *node) []Goal {
	if l == nil {
		return nil
	}
	out := make([]Goal, 0, len(l.Children))
	for i := range l.Children {
		out = append(out, parseGoal(&l.Children[i]))
	}
	return out
}

// parseGoals decodes the payload of a Goal response: an optional <goals>
// carrying foreground, background, shelved and abandoned goal lists.
func parseGoals(payload *node) *Goals {
	out := &Goals{}
	if payload == nil || payload.Val == "none" {
		return out
	}
	goals := payload.child(0)
	if payload.name() == "goals" {
		goals = payload
	}
	if goals == nil {
		return out
	}
	out.Foreground = parseGoalList(goals.child(0))
	if bg := goals.child(1); bg != nil {
		for i := range bg.Children {
			pair := &bg.Children[i]
			out.Background = append(out.Background, BackgroundGoals{
				Before: parseGoalList(pair.child(0)),
				After:  parseGoalList(pair.child(1)),
			})
		}
	}
	out.Shelved = parseGoalList(goals.child(2))
	out.Abandoned = parseGoalList(goals.child(3))
	return out
}

func parseMessageLevel(val string) MessageLevel {
	switch val {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warning":
		return LevelWarning
	case "error":
		return LevelError
	}
	return LevelNotice
}

// parseLtacProf decodes a <ltacprof> tree delivered as custom feedback.
func parseLtacProf(n *node) LtacProfResults {
	out := LtacProfResults{Name: attrOrVal(n, "name")}
	out.Total, _ = strconv.ParseFloat(attrOrVal(n, "total"), 64)
	if out.Total == 0 {
		out.Total, _ = strconv.ParseFloat(attrOrVal(n, "total_time"), 64)
	}
	out.Local, _ = strconv.ParseFloat(attrOrVal(n, "local"), 64)
	out.Calls, _ = strconv.Atoi(attrOrVal(n, "ncalls"))
	out.MaxTotal, _ = strconv.ParseFloat(attrOrVal(n, "max_total"), 64)
	for i := range n.Children {
		if n.Children[i].name() == "ltacprof_tactic" {
			out.Children = append(out.Children, parseLtacProf(&n.Children[i]))
		}
	}
	return out
}

// attrOrVal digs a named attribute out of the raw token. The generic node
// only keeps the protocol's common attributes, so ltacprof's metric
// attributes are re-read from the captured raw form.
func attrOrVal(n *node, name string) string {
	for _, a := range n.rawAttrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// UnmarshalXML keeps the full attribute list alongside the common fields so
// that elements with uncommon attributes (ltacprof metrics) stay readable.
func (n *node) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	type plain node
	var p plain
	if err := d.DecodeElement(&p, &start); err != nil {
		return err
	}
	*n = node(p)
	n.XMLName = start.Name
	n.rawAttrs = start.Attr
	return nil
}

// Call encoding. The protocol's requests are shallow, so they are built as
// strings rather than through the xml package's struct marshalling.

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func encString(s string) string { return "<string>" + escape(s) + "</string>" }

func encInt(i int) string { return fmt.Sprintf("<int>%d</int>", i) }

func encBool(b bool) string { return fmt.Sprintf("<bool val=\"%v\"/>", b) }

func encStateID(id StateID) string { return fmt.Sprintf("<state_id val=\"%d\"/>", int(id)) }

func encPair(a, b string) string { return "<pair>" + a + b + "</pair>" }

func encCall(name string, arg string) string {
	return "<call val=\"" + name + "\">" + arg + "</call>"
}

func encAdd(text string, version int, parent StateID, verbose bool) string {
	return encCall("Add", encPair(
		encPair(encString(text), encInt(version)),
		encPair(encStateID(parent), encBool(verbose)),
	))
}

func encEditAt(id StateID) string {
	return encCall("Edit_at", encStateID(id))
}

func encInit() string {
	return encCall("Init", "<option val=\"none\"/>")
}

func encGoal() string {
	return encCall("Goal", "<unit/>")
}

func encQuery(text string, id StateID) string {
	return encCall("Query", encPair(
		"<route_id val=\"0\"/>",
		encPair(encString(text), encStateID(id)),
	))
}

func encQuit() string {
	return encCall("Quit", "<unit/>")
}

func encSetPrintingWidth(cols int) string {
	optName := "<list><string>Printing</string><string>Width</string></list>"
	optValue := "<option_value val=\"intvalue\"><option val=\"some\">" + encInt(cols) + "</option></option_value>"
	return encCall("SetOptions", "<list>"+encPair(optName, optValue)+"</list>")
}
