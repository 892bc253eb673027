package analytics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/intake/internal/domain/intake"
	"github.com/intake/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) CompletedByDay(ctx context.Context, from, to time.Time) ([]DayCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT completed_at::date AS day, COUNT(*) AS cnt
		FROM survey_sessions
		WHERE status = $1 AND completed_at >= $2 AND completed_at <= $3
		GROUP BY day
		ORDER BY day`,
		intake.StatusCompleted, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Day, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *repoPG) CompletedOn(ctx context.Context, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM survey_sessions
		WHERE status = $1 AND completed_at::date = $2::date`,
		intake.StatusCompleted, day).Scan(&n)
	return n, err
}

func (r *repoPG) AvgCompletionSeconds(ctx context.Context) (float64, error) {
	var avg float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at))), 0)
		FROM survey_sessions
		WHERE status = $1 AND completed_at IS NOT NULL AND started_at IS NOT NULL`,
		intake.StatusCompleted).Scan(&avg)
	return avg, err
}

func (r *repoPG) StatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM survey_sessions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *repoPG) CompletedAnswers(ctx context.Context) ([]AnswerRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.node_id, a.answer_data
		FROM survey_answers a
		JOIN survey_sessions s ON s.id = a.session_id
		WHERE s.status = $1`,
		intake.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnswerRow
	for rows.Next() {
		var a AnswerRow
		if err := rows.Scan(&a.NodeID, &a.AnswerData); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) FunnelCounts(ctx context.Context, from, to time.Time) ([]NodeCount, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.node_id, COUNT(DISTINCT a.session_id) AS cnt
		FROM survey_answers a
		JOIN survey_sessions s ON s.id = a.session_id
		WHERE s.started_at >= $1 AND s.started_at <= $2
		GROUP BY a.node_id
		ORDER BY cnt DESC, a.node_id`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NodeCount
	for rows.Next() {
		var n NodeCount
		if err := rows.Scan(&n.NodeID, &n.Count); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
