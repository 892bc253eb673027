package survey

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Graph decoding and lookup
// ---------------------------------------------------------------------------

func TestParseGraph_DecodesStructure(t *testing.T) {
	g := mustGraph(t, `{
	  "name": "Initial intake",
	  "version": "2",
	  "start_node": "welcome",
	  "branch_mapping": {"respiratory": "resp_details"},
	  "groups": [{"id": "symptoms", "name": "Symptoms"}],
	  "analysis_rules": [
	    {"message": "flag", "triggers": [{"node_id": "q", "option_value": "yes"}]}
	  ],
	  "nodes": [
	    {"id": "welcome", "type": "info_screen", "question_text": "Hi"},
	    {"id": "q", "type": "single_choice", "question_text": "Q?",
	     "options": [{"id": "1", "text": "Yes", "value": "yes"}]}
	  ]
	}`)

	if g.Name != "Initial intake" || g.Version != "2" {
		t.Errorf("header = %q/%q, want Initial intake/2", g.Name, g.Version)
	}
	if g.StartNode != "welcome" {
		t.Errorf("StartNode = %q, want welcome", g.StartNode)
	}
	if g.BranchMapping["respiratory"] != "resp_details" {
		t.Errorf("BranchMapping = %v", g.BranchMapping)
	}
	if len(g.Groups) != 1 || len(g.AnalysisRules) != 1 || len(g.Nodes) != 2 {
		t.Errorf("groups/rules/nodes = %d/%d/%d, want 1/1/2",
			len(g.Groups), len(g.AnalysisRules), len(g.Nodes))
	}
}

func TestParseGraph_RejectsMalformedJSON(t *testing.T) {
	if _, err := ParseGraph([]byte(`{"nodes": [`)); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestNodeByID(t *testing.T) {
	g := mustGraph(t, `{"start_node": "a", "nodes": [
	  {"id": "a", "type": "text_input", "question_text": "first"},
	  {"id": "b", "type": "text_input", "question_text": "second"}
	]}`)

	if n := g.NodeByID("b"); n == nil || n.QuestionText != "second" {
		t.Errorf("NodeByID(b) = %+v, want the second node", n)
	}
	if n := g.NodeByID("ghost"); n != nil {
		t.Errorf("NodeByID(ghost) = %+v, want nil", n)
	}
}

func TestNodeByID_DuplicateIDsFirstDeclarationWins(t *testing.T) {
	g := mustGraph(t, `{"start_node": "a", "nodes": [
	  {"id": "a", "type": "text_input", "question_text": "first"},
	  {"id": "a", "type": "text_input", "question_text": "shadowed"}
	]}`)
	if n := g.NodeByID("a"); n == nil || n.QuestionText != "first" {
		t.Errorf("NodeByID(a) = %+v, want the first declaration", n)
	}
}

func TestNodeAfter(t *testing.T) {
	g := mustGraph(t, `{"start_node": "a", "nodes": [
	  {"id": "a", "type": "text_input", "question_text": "q"},
	  {"id": "b", "type": "text_input", "question_text": "q"},
	  {"id": "c", "type": "text_input", "question_text": "q"}
	]}`)

	if next := g.NodeAfter("a"); next != "b" {
		t.Errorf("NodeAfter(a) = %q, want b", next)
	}
	if next := g.NodeAfter("c"); next != "" {
		t.Errorf("NodeAfter(c) = %q, want empty for the last node", next)
	}
	if next := g.NodeAfter("ghost"); next != "" {
		t.Errorf("NodeAfter(ghost) = %q, want empty for unknown nodes", next)
	}
}

func TestCountableNodes_ExcludesInfoScreens(t *testing.T) {
	g := mustGraph(t, `{"start_node": "a", "nodes": [
	  {"id": "a", "type": "info_screen", "question_text": "hi"},
	  {"id": "b", "type": "single_choice", "question_text": "q",
	   "options": [{"id": "1", "text": "Yes", "value": "yes"}]},
	  {"id": "c", "type": "slider", "question_text": "q", "min_value": 0, "max_value": 10},
	  {"id": "d", "type": "info_screen", "question_text": "bye", "is_final": true}
	]}`)
	if got := g.CountableNodes(); got != 2 {
		t.Errorf("CountableNodes = %d, want 2", got)
	}
}

func TestOptionText(t *testing.T) {
	g := mustGraph(t, `{"start_node": "q", "nodes": [
	  {"id": "q", "type": "single_choice", "question_text": "Q?",
	   "options": [
	     {"id": "1", "text": "Sharp pain", "value": "sharp"},
	     {"id": "2", "text": "Dull ache", "value": "dull"}
	   ]}
	]}`)

	if got := g.OptionText("q", "dull"); got != "Dull ache" {
		t.Errorf("OptionText = %q, want Dull ache", got)
	}
	if got := g.OptionText("q", "unlisted"); got != "unlisted" {
		t.Errorf("OptionText = %q, want the raw value back", got)
	}
	if got := g.OptionText("ghost", "sharp"); got != "sharp" {
		t.Errorf("OptionText = %q, want the raw value for unknown nodes", got)
	}
}

// ---------------------------------------------------------------------------
// Prepare
// ---------------------------------------------------------------------------

func TestPrepare_ParsesConditionsOnce(t *testing.T) {
	g := mustGraph(t, `{"start_node": "a", "nodes": [
	  {"id": "a", "type": "single_choice", "question_text": "q",
	   "options": [{"id": "1", "text": "Yes", "value": "yes"}],
	   "logic": [
	     {"condition": "selected == 'yes'", "next_node": "a"},
	     {"condition": "broken !!!", "next_node": "a"},
	     {"default": true, "next_node": "a"}
	   ]}
	]}`)

	rules := g.Nodes[0].Logic
	if rules[0].cond == nil || rules[0].condErr != nil {
		t.Errorf("valid condition: cond=%v err=%v", rules[0].cond, rules[0].condErr)
	}
	if rules[1].cond != nil || rules[1].condErr == nil {
		t.Errorf("broken condition: cond=%v err=%v", rules[1].cond, rules[1].condErr)
	}
	if rules[2].cond != nil || rules[2].condErr != nil {
		t.Errorf("default rule must stay unparsed: cond=%v err=%v", rules[2].cond, rules[2].condErr)
	}
}

func TestPrepare_Repeatable(t *testing.T) {
	g := mustGraph(t, `{"start_node": "a", "nodes": [
	  {"id": "a", "type": "text_input", "question_text": "q",
	   "logic": [{"condition": "text == 'x'", "next_node": "a"}]}
	]}`)
	g.Prepare()
	g.Prepare()
	if g.NodeByID("a") == nil {
		t.Fatal("index lost after repeated Prepare")
	}
	if g.Nodes[0].Logic[0].cond == nil {
		t.Error("condition lost after repeated Prepare")
	}
}

// ---------------------------------------------------------------------------
// Answer accessors
// ---------------------------------------------------------------------------

func TestSelectedValues(t *testing.T) {
	if got := (Answer{}).SelectedValues(); got != nil {
		t.Errorf("SelectedValues = %v, want nil for missing entry", got)
	}
	if got := (Answer{"selected": "pain"}).SelectedValues(); len(got) != 1 || got[0] != "pain" {
		t.Errorf("SelectedValues = %v, want [pain]", got)
	}
	got := (Answer{"selected": []any{"a", float64(2), true}}).SelectedValues()
	want := []string{"a", "2", "true"}
	if len(got) != len(want) {
		t.Fatalf("SelectedValues = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SelectedValues[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAnswerAccessors_ZeroValues(t *testing.T) {
	var a Answer
	if a.Field("anything") != nil {
		t.Error("nil answer Field should be nil")
	}
	if a.Text() != "" {
		t.Error("nil answer Text should be empty")
	}

	odd := Answer{"locations": "not a list", "additional_fields": "not a map", "text": 42}
	if odd.Locations() != nil {
		t.Error("non-list locations should be nil")
	}
	if odd.AdditionalFields() != nil {
		t.Error("non-map additional_fields should be nil")
	}
	if odd.Text() != "" {
		t.Error("non-string text should be empty")
	}
}

func TestAnswerContext_Answer(t *testing.T) {
	var nilCtx AnswerContext
	if nilCtx.Answer("q") != nil {
		t.Error("nil context should return nil")
	}
	ctx := AnswerContext{"q": Answer{"selected": "yes"}}
	if ctx.Answer("q") == nil || ctx.Answer("other") != nil {
		t.Errorf("Answer lookup mismatch: %v", ctx)
	}
}
