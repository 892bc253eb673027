package analytics

import (
	"context"
	"encoding/json"
	"time"
)

// DayCount is one day's completed-session tally.
type DayCount struct {
	Day   time.Time
	Count int
}

// NodeCount is how many distinct sessions answered one node.
type NodeCount struct {
	NodeID string
	Count  int
}

// AnswerRow pairs a node id with one stored answer payload.
type AnswerRow struct {
	NodeID     string
	AnswerData json.RawMessage
}

// Repository reads the session aggregates behind the dashboard.
type Repository interface {
	// CompletedByDay returns per-day completion counts inside the range.
	// Days without completions are absent; the service fills the gaps.
	CompletedByDay(ctx context.Context, from, to time.Time) ([]DayCount, error)
	// CompletedOn counts sessions completed on the given calendar day.
	CompletedOn(ctx context.Context, day time.Time) (int, error)
	// AvgCompletionSeconds averages completed_at-started_at over all
	// completed sessions, 0 when there are none.
	AvgCompletionSeconds(ctx context.Context) (float64, error)
	StatusCounts(ctx context.Context) (map[string]int, error)
	// CompletedAnswers returns every answer belonging to a completed
	// session; frequency folding happens in the service because the
	// payload shape varies per node type.
	CompletedAnswers(ctx context.Context) ([]AnswerRow, error)
	// FunnelCounts returns, per node, how many distinct sessions that
	// started inside the range answered it, busiest first.
	FunnelCounts(ctx context.Context, from, to time.Time) ([]NodeCount, error)
}
