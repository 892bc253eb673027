// Package analytics assembles the admin dashboard: completion dynamics,
// popular answers, the per-question funnel, and session status counts.
// Aggregation happens in SQL; answer payload folding and option-text
// mapping happen here because the stored shapes vary per node type.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/domain/survey"
)

// topAnswersLimit caps the dashboard's popular-answers list.
const topAnswersLimit = 10

// defaultWindowDays is the chart range when the caller gives none,
// today included.
const defaultWindowDays = 7

type Service struct {
	repo    Repository
	configs survey.ConfigRepository
	log     zerolog.Logger
}

func NewService(repo Repository, configs survey.ConfigRepository, log zerolog.Logger) *Service {
	return &Service{repo: repo, configs: configs, log: log}
}

// Chart is the completions-per-day series with its headline numbers.
type Chart struct {
	Labels     []string `json:"labels"`
	Values     []int    `json:"values"`
	Total      int      `json:"total"`
	Today      int      `json:"today"`
	AvgMinutes float64  `json:"avg_minutes"`
}

// FreqItem is one answer-frequency entry.
type FreqItem struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// FunnelItem is one node's reach.
type FunnelItem struct {
	NodeID string `json:"node_id"`
	Label  string `json:"label"`
	Count  int    `json:"count"`
}

type Dashboard struct {
	Chart      Chart          `json:"chart"`
	Statuses   map[string]int `json:"statuses"`
	TopAnswers []FreqItem     `json:"top_answers"`
	AllAnswers []FreqItem     `json:"all_answers"`
	Funnel     []FunnelItem   `json:"funnel"`
}

// Dashboard builds the full dashboard for the given range. Zero bounds
// fall back to the last week ending now.
func (s *Service) Dashboard(ctx context.Context, from, to time.Time) (*Dashboard, error) {
	now := time.Now().UTC()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = startOfDay(now.AddDate(0, 0, -(defaultWindowDays - 1)))
	}

	days, err := s.repo.CompletedByDay(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("completions by day: %w", err)
	}
	counts := make(map[string]int, len(days))
	for _, d := range days {
		counts[d.Day.Format("2006-01-02")] = d.Count
	}

	var chart Chart
	for day := startOfDay(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		v := counts[day.Format("2006-01-02")]
		chart.Labels = append(chart.Labels, day.Format("02.01"))
		chart.Values = append(chart.Values, v)
		chart.Total += v
	}

	if chart.Today, err = s.repo.CompletedOn(ctx, now); err != nil {
		return nil, fmt.Errorf("completions today: %w", err)
	}
	avgSec, err := s.repo.AvgCompletionSeconds(ctx)
	if err != nil {
		return nil, fmt.Errorf("average completion time: %w", err)
	}
	chart.AvgMinutes = math.Round(avgSec/60*10) / 10

	statuses, err := s.repo.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}

	g := s.activeGraph(ctx)

	answers, err := s.repo.CompletedAnswers(ctx)
	if err != nil {
		return nil, fmt.Errorf("completed answers: %w", err)
	}
	freq := tallyAnswers(answers, g)
	top := freq
	if len(top) > topAnswersLimit {
		top = top[:topAnswersLimit]
	}

	nodeCounts, err := s.repo.FunnelCounts(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("funnel counts: %w", err)
	}
	funnel := make([]FunnelItem, 0, len(nodeCounts))
	for _, nc := range nodeCounts {
		funnel = append(funnel, FunnelItem{
			NodeID: nc.NodeID,
			Label:  questionLabel(g, nc.NodeID),
			Count:  nc.Count,
		})
	}

	return &Dashboard{
		Chart:      chart,
		Statuses:   statuses,
		TopAnswers: top,
		AllAnswers: freq,
		Funnel:     funnel,
	}, nil
}

// activeGraph loads the active survey for question and option labels.
// The dashboard degrades to raw ids when there is none.
func (s *Service) activeGraph(ctx context.Context) *survey.Graph {
	cfg, err := s.configs.GetActive(ctx)
	if err != nil {
		if !errors.Is(err, survey.ErrNotFound) {
			s.log.Warn().Err(err).Msg("load active survey for dashboard labels failed")
		}
		return nil
	}
	g, err := cfg.Graph()
	if err != nil {
		s.log.Warn().Err(err).Msg("active survey config does not decode")
		return nil
	}
	return g
}

// tallyAnswers folds stored answer payloads into per-option frequencies.
// Choice answers count each selected entry, sliders count their value,
// body maps count each marked location. Labels read
// "question → option text"; ties sort by label so the order is stable.
func tallyAnswers(rows []AnswerRow, g *survey.Graph) []FreqItem {
	freq := map[string]int{}
	for _, row := range rows {
		var a survey.Answer
		if err := json.Unmarshal(row.AnswerData, &a); err != nil || len(a) == 0 {
			continue
		}

		values := a.SelectedValues()
		if len(values) == 0 {
			if v := a.Value(); v != nil {
				values = []string{scalarLabel(v)}
			} else {
				values = a.Locations()
			}
		}

		question := questionLabel(g, row.NodeID)
		for _, val := range values {
			label := val
			if g != nil {
				label = g.OptionText(row.NodeID, val)
			}
			freq[question+" → "+label]++
		}
	}

	items := make([]FreqItem, 0, len(freq))
	for label, count := range freq {
		items = append(items, FreqItem{Label: label, Count: count})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count != items[j].Count {
			return items[i].Count > items[j].Count
		}
		return items[i].Label < items[j].Label
	})
	return items
}

func questionLabel(g *survey.Graph, nodeID string) string {
	if g != nil {
		if n := g.NodeByID(nodeID); n != nil && n.QuestionText != "" {
			return n.QuestionText
		}
	}
	return nodeID
}

func scalarLabel(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
