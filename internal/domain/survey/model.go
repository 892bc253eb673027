package survey

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SurveyConfig maps to the survey_configs table. JSONConfig holds the raw
// graph document; Graph() decodes it on demand.
type SurveyConfig struct {
	ID          int64           `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description *string         `db:"description" json:"description,omitempty"`
	JSONConfig  json.RawMessage `db:"json_config" json:"json_config"`
	Version     string          `db:"version" json:"version"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}

// Graph decodes the stored configuration into a prepared Graph.
func (c *SurveyConfig) Graph() (*Graph, error) {
	return ParseGraph(c.JSONConfig)
}

// -- Node types --

const (
	NodeSingleChoice         = "single_choice"
	NodeMultiChoice          = "multi_choice"
	NodeMultiChoiceWithInput = "multi_choice_with_input"
	NodeTextInput            = "text_input"
	NodeSlider               = "slider"
	NodeBodyMap              = "body_map"
	NodeInfoScreen           = "info_screen"
	NodeConsentScreen        = "consent_screen"
)

// choiceNodeTypes are the types that require at least one answer option.
var choiceNodeTypes = map[string]bool{
	NodeSingleChoice:         true,
	NodeMultiChoice:          true,
	NodeMultiChoiceWithInput: true,
}

// -- Graph configuration --

// Graph is one versioned survey: an ordered node list plus an id index.
// Nodes reference each other by id only; traversal code passes ids around
// and resolves them through NodeByID. A Graph is read-only once Prepare
// has run.
type Graph struct {
	Name          string            `json:"name,omitempty"`
	Version       string            `json:"version,omitempty"`
	Description   *string           `json:"description,omitempty"`
	StartNode     string            `json:"start_node"`
	BranchMapping map[string]string `json:"branch_mapping,omitempty"`
	Groups        []Group           `json:"groups,omitempty"`
	AnalysisRules []AnalysisRule    `json:"analysis_rules,omitempty"`
	Nodes         []Node            `json:"nodes"`

	index map[string]int // node id -> position in Nodes
}

// Node is one step of the survey.
type Node struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	QuestionText     string            `json:"question_text"`
	Description      *string           `json:"description,omitempty"`
	Required         *bool             `json:"required,omitempty"`
	Options          []Option          `json:"options,omitempty"`
	Logic            []LogicRule       `json:"logic,omitempty"`
	AdditionalFields []AdditionalField `json:"additional_fields,omitempty"`
	MinValue         *int              `json:"min_value,omitempty"`
	MaxValue         *int              `json:"max_value,omitempty"`
	Step             *int              `json:"step,omitempty"`
	Placeholder      *string           `json:"placeholder,omitempty"`
	MaxLength        *int              `json:"max_length,omitempty"`
	IsFinal          bool              `json:"is_final,omitempty"`
	GroupID          *string           `json:"group_id,omitempty"`
	Position         *Position         `json:"position,omitempty"`
}

// Option is one selectable answer. Value is the token conditions and
// triggers compare against; Text is display-only.
type Option struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Value string  `json:"value,omitempty"`
	Icon  *string `json:"icon,omitempty"`
}

// LogicRule is a conditional outgoing edge. An empty Condition on a
// non-default rule never matches; rules flagged Default are taken only
// when no conditional rule matched.
type LogicRule struct {
	Condition string `json:"condition,omitempty"`
	NextNode  string `json:"next_node"`
	Default   bool   `json:"default,omitempty"`

	cond    *Condition // parsed form, set by Prepare
	condErr error      // parse failure, reported by the validator
}

// AdditionalField is an extra input attached to a multi_choice_with_input
// node (for example a free-text "other" box).
type AdditionalField struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Label       string           `json:"label"`
	Placeholder *string          `json:"placeholder,omitempty"`
	Min         *int             `json:"min,omitempty"`
	Max         *int             `json:"max,omitempty"`
	Options     []map[string]any `json:"options,omitempty"`
	ShowIf      *string          `json:"show_if,omitempty"`
}

// Group labels a set of nodes for report sectioning.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Position is the node's editor canvas placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// -- Clinical analysis rules --

// Severity tags attached to fired analysis rules.
const (
	ColorRed    = "red"
	ColorOrange = "orange"
	ColorYellow = "yellow"
	ColorGreen  = "green"
)

// Trigger modes.
const (
	TriggerModeAny = "any"
	TriggerModeAll = "all"
)

// Trigger match modes.
const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchGte      = "gte"
)

// AnalysisRule flags a clinically relevant answer combination. TriggerMode
// "any" fires on any matching trigger; "all" requires a match for every
// distinct node the triggers reference.
type AnalysisRule struct {
	Name        string    `json:"name,omitempty"`
	Message     string    `json:"message"`
	Color       string    `json:"color,omitempty"`
	TriggerMode string    `json:"trigger_mode,omitempty"`
	Triggers    []Trigger `json:"triggers"`
}

// Trigger is an atomic predicate over one node's recorded answer.
type Trigger struct {
	NodeID      string `json:"node_id"`
	OptionValue string `json:"option_value"`
	MatchMode   string `json:"match_mode,omitempty"`
}

// -- Graph construction and lookup --

// ParseGraph decodes a survey configuration document and prepares it for
// traversal.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode survey graph: %w", err)
	}
	g.Prepare()
	return &g, nil
}

// Prepare builds the node index and parses every logic condition once.
// ParseGraph calls it; call it yourself only when assembling a Graph by
// hand. Safe to call repeatedly.
func (g *Graph) Prepare() {
	g.index = make(map[string]int, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		// First declaration wins on duplicate ids; the validator flags them.
		if _, seen := g.index[n.ID]; !seen {
			g.index[n.ID] = i
		}
		for j := range n.Logic {
			r := &n.Logic[j]
			r.cond, r.condErr = nil, nil
			if r.Condition == "" {
				continue
			}
			r.cond, r.condErr = ParseCondition(r.Condition)
		}
	}
}

func (g *Graph) prepared() bool { return g.index != nil }

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return &g.Nodes[i]
}

// NodeAfter returns the id of the node declared immediately after the
// given one, or "" when it is the last node (or unknown).
func (g *Graph) NodeAfter(id string) string {
	i, ok := g.index[id]
	if !ok || i+1 >= len(g.Nodes) {
		return ""
	}
	return g.Nodes[i+1].ID
}

// CountableNodes returns how many nodes count toward progress, excluding
// informational screens.
func (g *Graph) CountableNodes() int {
	n := 0
	for i := range g.Nodes {
		if g.Nodes[i].Type != NodeInfoScreen {
			n++
		}
	}
	return n
}

// OptionText returns the display text for an option value on the given
// node, falling back to the raw value when no option declares it.
func (g *Graph) OptionText(nodeID, value string) string {
	n := g.NodeByID(nodeID)
	if n == nil {
		return value
	}
	for i := range n.Options {
		if n.Options[i].Value == value {
			return n.Options[i].Text
		}
	}
	return value
}

// -- Answers --

// Answer is one node's recorded answer: a free-form JSON object with a
// handful of recognized keys. No schema is enforced here; accessors
// return zero values for absent or differently shaped entries.
type Answer map[string]any

// Recognized answer keys.
const (
	keySelected         = "selected"
	keyValue            = "value"
	keyText             = "text"
	keyLocations        = "locations"
	keyIntensity        = "intensity"
	keyAdditionalFields = "additional_fields"
)

// Field resolves a condition field name against the answer. Recognized
// and free-form keys alike map straight onto the underlying object.
func (a Answer) Field(name string) any {
	if a == nil {
		return nil
	}
	return a[name]
}

// Selected returns the raw selected entry (string or list).
func (a Answer) Selected() any { return a.Field(keySelected) }

// SelectedValues returns the selected entry as string forms: a single
// string becomes a one-element slice, a list is converted element-wise.
func (a Answer) SelectedValues() []string {
	switch v := a.Selected().(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			out = append(out, stringForm(e))
		}
		return out
	default:
		return []string{stringForm(v)}
	}
}

// Value returns the numeric entry (slider/scale answers).
func (a Answer) Value() any { return a.Field(keyValue) }

// Text returns the free-text entry, or "".
func (a Answer) Text() string {
	s, _ := a.Field(keyText).(string)
	return s
}

// Locations returns body-map zone ids as string forms.
func (a Answer) Locations() []string {
	list, ok := a.Field(keyLocations).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, stringForm(e))
	}
	return out
}

// Intensity returns the body-map intensity entry.
func (a Answer) Intensity() any { return a.Field(keyIntensity) }

// AdditionalFields returns the free-form extra inputs, or nil.
func (a Answer) AdditionalFields() map[string]any {
	m, _ := a.Field(keyAdditionalFields).(map[string]any)
	return m
}

// AnswerContext is a read-only view of the answers recorded so far,
// keyed by node id. Conditions use it to reference other nodes.
type AnswerContext map[string]Answer

// Answer returns the recorded answer for a node, or nil.
func (c AnswerContext) Answer(nodeID string) Answer {
	if c == nil {
		return nil
	}
	return c[nodeID]
}

// -- Coercion helpers --

// stringForm renders a JSON-decoded scalar the way conditions compare it:
// numbers without a trailing ".0", booleans as "true"/"false".
func stringForm(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// intForm coerces a JSON-decoded scalar to an integer. Fractional strings
// and non-numeric values fail.
func intForm(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// floatForm coerces a JSON-decoded scalar to a float64.
func floatForm(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
