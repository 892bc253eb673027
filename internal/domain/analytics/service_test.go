package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/domain/survey"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockRepo struct {
	days     []DayCount
	today    int
	avgSec   float64
	statuses map[string]int
	answers  []AnswerRow
	funnel   []NodeCount
}

func (m *mockRepo) CompletedByDay(context.Context, time.Time, time.Time) ([]DayCount, error) {
	return m.days, nil
}

func (m *mockRepo) CompletedOn(context.Context, time.Time) (int, error) {
	return m.today, nil
}

func (m *mockRepo) AvgCompletionSeconds(context.Context) (float64, error) {
	return m.avgSec, nil
}

func (m *mockRepo) StatusCounts(context.Context) (map[string]int, error) {
	return m.statuses, nil
}

func (m *mockRepo) CompletedAnswers(context.Context) ([]AnswerRow, error) {
	return m.answers, nil
}

func (m *mockRepo) FunnelCounts(context.Context, time.Time, time.Time) ([]NodeCount, error) {
	return m.funnel, nil
}

type mockConfigRepo struct {
	active *survey.SurveyConfig
}

func (m *mockConfigRepo) Create(context.Context, *survey.SurveyConfig) error { return nil }

func (m *mockConfigRepo) GetByID(context.Context, int64) (*survey.SurveyConfig, error) {
	return nil, survey.ErrNotFound
}

func (m *mockConfigRepo) GetActive(context.Context) (*survey.SurveyConfig, error) {
	if m.active == nil {
		return nil, survey.ErrNotFound
	}
	return m.active, nil
}

func (m *mockConfigRepo) Update(context.Context, *survey.SurveyConfig) error { return nil }

func (m *mockConfigRepo) Delete(context.Context, int64) error { return nil }

func (m *mockConfigRepo) List(context.Context, bool, int, int) ([]*survey.SurveyConfig, int, error) {
	return nil, 0, nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

const labelsDoc = `{
	"name": "Labels",
	"start_node": "complaint",
	"nodes": [
		{"id": "complaint", "type": "single_choice", "question_text": "What brings you in?",
		 "options": [
			{"id": "o1", "text": "Pain", "value": "pain"},
			{"id": "o2", "text": "Checkup", "value": "checkup"}
		 ]},
		{"id": "pain_scale", "type": "slider", "question_text": "Rate your pain",
		 "min_value": 1, "max_value": 10},
		{"id": "body", "type": "body_map", "question_text": "Where does it hurt?",
		 "options": [{"id": "z1", "text": "Head", "value": "head"}]}
	]
}`

func newTestService(repo *mockRepo, withConfig bool) *Service {
	configs := &mockConfigRepo{}
	if withConfig {
		configs.active = &survey.SurveyConfig{
			ID:         1,
			Name:       "Labels",
			JSONConfig: json.RawMessage(labelsDoc),
			IsActive:   true,
		}
	}
	if repo.statuses == nil {
		repo.statuses = map[string]int{}
	}
	return NewService(repo, configs, zerolog.Nop())
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return b
}

// ---------------------------------------------------------------------------
// Chart
// ---------------------------------------------------------------------------

func TestDashboard_GapFillsDefaultWeek(t *testing.T) {
	svc := newTestService(&mockRepo{today: 3}, true)

	dash, err := svc.Dashboard(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dash.Chart.Labels) != 7 {
		t.Fatalf("labels = %d, want 7 for the default window", len(dash.Chart.Labels))
	}
	for i, v := range dash.Chart.Values {
		if v != 0 {
			t.Errorf("Values[%d] = %d, want 0", i, v)
		}
	}
	if dash.Chart.Total != 0 {
		t.Errorf("Total = %d, want 0", dash.Chart.Total)
	}
	if dash.Chart.Today != 3 {
		t.Errorf("Today = %d, want 3", dash.Chart.Today)
	}
}

func TestDashboard_ChartPlacesCountsAndFillsGaps(t *testing.T) {
	repo := &mockRepo{days: []DayCount{
		{Day: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Count: 3},
		{Day: time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), Count: 2},
	}}
	svc := newTestService(repo, true)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 5, 23, 59, 59, 0, time.UTC)
	dash, err := svc.Dashboard(context.Background(), from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantLabels := []string{"01.03", "02.03", "03.03", "04.03", "05.03"}
	if len(dash.Chart.Labels) != len(wantLabels) {
		t.Fatalf("labels = %v, want %v", dash.Chart.Labels, wantLabels)
	}
	for i, want := range wantLabels {
		if dash.Chart.Labels[i] != want {
			t.Errorf("Labels[%d] = %q, want %q", i, dash.Chart.Labels[i], want)
		}
	}
	wantValues := []int{3, 0, 0, 2, 0}
	for i, want := range wantValues {
		if dash.Chart.Values[i] != want {
			t.Errorf("Values[%d] = %d, want %d", i, dash.Chart.Values[i], want)
		}
	}
	if dash.Chart.Total != 5 {
		t.Errorf("Total = %d, want 5", dash.Chart.Total)
	}
}

func TestDashboard_AvgMinutesRounded(t *testing.T) {
	svc := newTestService(&mockRepo{avgSec: 150}, true)

	dash, err := svc.Dashboard(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dash.Chart.AvgMinutes != 2.5 {
		t.Errorf("AvgMinutes = %v, want 2.5", dash.Chart.AvgMinutes)
	}
}

func TestDashboard_StatusesPassThrough(t *testing.T) {
	repo := &mockRepo{statuses: map[string]int{"completed": 4, "in_progress": 2, "abandoned": 1}}
	svc := newTestService(repo, true)

	dash, err := svc.Dashboard(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dash.Statuses["completed"] != 4 || dash.Statuses["in_progress"] != 2 || dash.Statuses["abandoned"] != 1 {
		t.Errorf("Statuses = %v", dash.Statuses)
	}
}

// ---------------------------------------------------------------------------
// Answer frequencies
// ---------------------------------------------------------------------------

func TestDashboard_TopAnswersMapOptionText(t *testing.T) {
	repo := &mockRepo{answers: []AnswerRow{
		{NodeID: "complaint", AnswerData: raw(t, map[string]any{"selected": "pain"})},
		{NodeID: "complaint", AnswerData: raw(t, map[string]any{"selected": "pain"})},
		{NodeID: "complaint", AnswerData: raw(t, map[string]any{"selected": "checkup"})},
		{NodeID: "complaint", AnswerData: raw(t, map[string]any{"selected": []any{"pain", "checkup"}})},
		{NodeID: "pain_scale", AnswerData: raw(t, map[string]any{"value": 7})},
		{NodeID: "body", AnswerData: raw(t, map[string]any{"locations": []any{"head"}})},
	}}
	svc := newTestService(repo, true)

	dash, err := svc.Dashboard(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []FreqItem{
		{Label: "What brings you in? → Pain", Count: 3},
		{Label: "What brings you in? → Checkup", Count: 2},
		{Label: "Rate your pain → 7", Count: 1},
		{Label: "Where does it hurt? → Head", Count: 1},
	}
	if len(dash.TopAnswers) != len(want) {
		t.Fatalf("TopAnswers = %+v, want %d entries", dash.TopAnswers, len(want))
	}
	for i, w := range want {
		if dash.TopAnswers[i] != w {
			t.Errorf("TopAnswers[%d] = %+v, want %+v", i, dash.TopAnswers[i], w)
		}
	}
}

func TestDashboard_TopAnswersCappedAtTen(t *testing.T) {
	repo := &mockRepo{}
	for i := 0; i < 12; i++ {
		repo.answers = append(repo.answers, AnswerRow{
			NodeID:     "q",
			AnswerData: raw(t, map[string]any{"selected": "opt" + string(rune('a'+i))}),
		})
	}
	svc := newTestService(repo, false)

	dash, err := svc.Dashboard(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dash.TopAnswers) != 10 {
		t.Errorf("TopAnswers = %d entries, want 10", len(dash.TopAnswers))
	}
	if len(dash.AllAnswers) != 12 {
		t.Errorf("AllAnswers = %d entries, want 12", len(dash.AllAnswers))
	}
}

func TestDashboard_NoActiveSurveyKeepsRawValues(t *testing.T) {
	repo := &mockRepo{answers: []AnswerRow{
		{NodeID: "complaint", AnswerData: raw(t, map[string]any{"selected": "pain"})},
	}}
	svc := newTestService(repo, false)

	dash, err := svc.Dashboard(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dash.TopAnswers) != 1 || dash.TopAnswers[0].Label != "complaint → pain" {
		t.Errorf("TopAnswers = %+v, want raw complaint → pain", dash.TopAnswers)
	}
}

func TestDashboard_SkipsMalformedAnswerPayloads(t *testing.T) {
	repo := &mockRepo{answers: []AnswerRow{
		{NodeID: "complaint", AnswerData: json.RawMessage(`not json`)},
		{NodeID: "complaint", AnswerData: json.RawMessage(`{}`)},
	}}
	svc := newTestService(repo, true)

	dash, err := svc.Dashboard(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dash.AllAnswers) != 0 {
		t.Errorf("AllAnswers = %+v, want none", dash.AllAnswers)
	}
}

// ---------------------------------------------------------------------------
// Funnel
// ---------------------------------------------------------------------------

func TestDashboard_FunnelLabelsWithFallback(t *testing.T) {
	repo := &mockRepo{funnel: []NodeCount{
		{NodeID: "complaint", Count: 5},
		{NodeID: "ghost", Count: 2},
	}}
	svc := newTestService(repo, true)

	dash, err := svc.Dashboard(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dash.Funnel) != 2 {
		t.Fatalf("Funnel = %+v, want 2 entries", dash.Funnel)
	}
	if dash.Funnel[0].Label != "What brings you in?" || dash.Funnel[0].Count != 5 {
		t.Errorf("Funnel[0] = %+v", dash.Funnel[0])
	}
	if dash.Funnel[1].Label != "ghost" {
		t.Errorf("Funnel[1].Label = %q, want node id fallback", dash.Funnel[1].Label)
	}
}
