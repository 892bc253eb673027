package survey

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Clinical analysis rules
//
// After a survey completes, the analysis rules scan the full answer map and
// flag combinations the clinician should see first (red-flag symptoms, risk
// factors). Rules are independent of traversal: they run once, over
// whatever answers were collected, and never error. Rendering the findings
// is the consumer's job; this package only assembles the data.
// ---------------------------------------------------------------------------

// Finding is one fired analysis rule.
type Finding struct {
	Message string `json:"message"`
	Color   string `json:"color"`
	Name    string `json:"name,omitempty"`
}

// EvaluateRules runs every analysis rule against the collected answers and
// returns the fired ones in rule declaration order. Rules with no triggers
// or a blank message are skipped; a blank color falls back to red.
func EvaluateRules(rules []AnalysisRule, answers AnswerContext) []Finding {
	var findings []Finding
	for i := range rules {
		r := &rules[i]
		if len(r.Triggers) == 0 {
			continue
		}
		msg := strings.TrimSpace(r.Message)
		if msg == "" {
			continue
		}
		if !ruleFires(r, answers) {
			continue
		}
		color := r.Color
		if color == "" {
			color = ColorRed
		}
		findings = append(findings, Finding{Message: msg, Color: color, Name: r.Name})
	}
	return findings
}

// ruleFires applies the rule's trigger mode. "any" fires on any matching
// trigger. "all" groups triggers by node: every referenced node must have
// at least one matching trigger (AND across questions, OR within one).
func ruleFires(r *AnalysisRule, answers AnswerContext) bool {
	if r.TriggerMode == TriggerModeAll {
		groups := make(map[string][]Trigger)
		for _, t := range r.Triggers {
			groups[t.NodeID] = append(groups[t.NodeID], t)
		}
		for _, grp := range groups {
			matched := false
			for _, t := range grp {
				if matchTrigger(t, answers.Answer(t.NodeID)) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		return true
	}

	for _, t := range r.Triggers {
		if matchTrigger(t, answers.Answer(t.NodeID)) {
			return true
		}
	}
	return false
}

// matchTrigger checks one trigger against one node's answer. A missing or
// empty answer never matches; neither does a trigger whose node was never
// part of the graph. No match mode raises on malformed data.
func matchTrigger(t Trigger, a Answer) bool {
	if len(a) == 0 {
		return false
	}

	switch t.MatchMode {
	case MatchContains:
		search := strings.ToLower(strings.TrimSpace(t.OptionValue))
		if search == "" {
			return false
		}
		if txt := a.Text(); txt != "" && strings.Contains(strings.ToLower(txt), search) {
			return true
		}
		if sel, ok := a.Selected().(string); ok && strings.Contains(strings.ToLower(sel), search) {
			return true
		}
		for _, v := range a.AdditionalFields() {
			if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), search) {
				return true
			}
		}
		return false

	case MatchGte:
		v, ok := floatForm(a.Value())
		if !ok {
			return false
		}
		threshold, ok := floatForm(t.OptionValue)
		if !ok {
			return false
		}
		return v >= threshold

	default: // exact
		if sel := a.Selected(); sel != nil {
			switch s := sel.(type) {
			case []any:
				for _, e := range s {
					if stringForm(e) == t.OptionValue {
						return true
					}
				}
				return false
			case bool:
				return strconv.FormatBool(s) == strings.ToLower(t.OptionValue)
			default:
				return stringForm(s) == t.OptionValue
			}
		}
		if v := a.Value(); v != nil {
			f, okV := floatForm(v)
			threshold, okT := floatForm(t.OptionValue)
			if okV && okT {
				return f >= threshold
			}
			// Non-numeric slider payloads degrade to string equality.
			return stringForm(v) == t.OptionValue
		}
		for _, loc := range a.Locations() {
			if loc == t.OptionValue {
				return true
			}
		}
		return false
	}
}

// ---------------------------------------------------------------------------
// Report data assembly
// ---------------------------------------------------------------------------

// Report is the completion summary handed to report consumers: the fired
// findings plus every displayable answer, grouped the way the survey's
// groups are declared. Presentation (HTML, PDF) happens elsewhere.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Findings    []Finding       `json:"findings"`
	Sections    []ReportSection `json:"sections,omitempty"`
	Ungrouped   []ReportItem    `json:"ungrouped,omitempty"`
}

// ReportSection collects the answers of one declared group, in node
// declaration order. Empty sections are dropped.
type ReportSection struct {
	GroupID string       `json:"group_id"`
	Name    string       `json:"name"`
	Items   []ReportItem `json:"items"`
}

// ReportItem is one displayable answer.
type ReportItem struct {
	NodeID   string   `json:"node_id"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Extras   []string `json:"extras,omitempty"`
}

// BuildReport assembles the completion summary for one session: analysis
// findings first, then answers grouped per the graph's group list with the
// remainder ungrouped. Nodes without answers, informational screens and
// answers with nothing to display are skipped.
func BuildReport(g *Graph, answers AnswerContext, now time.Time) Report {
	rep := Report{
		GeneratedAt: now.UTC(),
		Findings:    EvaluateRules(g.AnalysisRules, answers),
	}

	known := make(map[string]bool, len(g.Groups))
	for _, grp := range g.Groups {
		known[grp.ID] = true
	}

	grouped := make(map[string][]ReportItem)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		a, ok := answers[n.ID]
		if !ok {
			continue
		}
		item, ok := formatAnswer(g, n, a)
		if !ok {
			continue
		}
		if n.GroupID != nil && known[*n.GroupID] {
			grouped[*n.GroupID] = append(grouped[*n.GroupID], item)
			continue
		}
		rep.Ungrouped = append(rep.Ungrouped, item)
	}

	for _, grp := range g.Groups {
		if items := grouped[grp.ID]; len(items) > 0 {
			rep.Sections = append(rep.Sections, ReportSection{GroupID: grp.ID, Name: grp.Name, Items: items})
		}
	}
	return rep
}

// formatAnswer renders one answer for display. Resolution order mirrors
// how the answer shapes are produced: selected choices, then slider
// values, free text, body-map locations; intensity and additional fields
// are appended when present.
func formatAnswer(g *Graph, n *Node, a Answer) (ReportItem, bool) {
	if n == nil || len(a) == 0 || n.Type == NodeInfoScreen {
		return ReportItem{}, false
	}

	var text string
	switch sel := a.Selected().(type) {
	case nil:
	case []any:
		parts := make([]string, 0, len(sel))
		for _, v := range sel {
			parts = append(parts, g.OptionText(n.ID, stringForm(v)))
		}
		text = strings.Join(parts, ", ")
	case bool:
		if sel {
			text = "yes"
		} else {
			text = "no"
		}
	default:
		text = g.OptionText(n.ID, stringForm(sel))
	}

	if text == "" {
		if v := a.Value(); v != nil {
			if n.MaxValue != nil {
				text = fmt.Sprintf("%s/%d", stringForm(v), *n.MaxValue)
			} else {
				text = stringForm(v)
			}
		}
	}
	if text == "" {
		text = strings.TrimSpace(a.Text())
	}
	if text == "" {
		if locs := a.Locations(); len(locs) > 0 {
			text = strings.Join(locs, ", ")
		}
	}

	if iv := a.Intensity(); iv != nil {
		badge := "intensity " + stringForm(iv) + "/10"
		if text != "" {
			text += "; " + badge
		} else {
			text = badge
		}
	}

	var extras []string
	for i := range n.AdditionalFields {
		f := &n.AdditionalFields[i]
		v := a.Field(f.ID)
		if v == nil {
			continue
		}
		s := strings.TrimSpace(stringForm(v))
		if s == "" {
			continue
		}
		label := f.Label
		if label == "" {
			label = f.ID
		}
		extras = append(extras, label+": "+s)
	}

	if text == "" && len(extras) == 0 {
		return ReportItem{}, false
	}

	question := n.QuestionText
	if question == "" {
		question = n.ID
	}
	return ReportItem{NodeID: n.ID, Question: question, Answer: text, Extras: extras}, true
}
