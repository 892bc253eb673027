package intake

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/intake/internal/domain/survey"
	"github.com/intake/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// NewRepositoriesPG wires every intake repository onto one pool.
func NewRepositoriesPG(pool *pgxpool.Pool) Repositories {
	return Repositories{
		Sessions: NewSessionRepoPG(pool),
		Answers:  NewAnswerRepoPG(pool),
		Audit:    NewAuditRepoPG(pool),
		Reports:  NewReportRepoPG(pool),
		Configs:  survey.NewConfigRepoPG(pool),
		Tx:       txRunnerPG{pool: pool},
	}
}

type txRunnerPG struct{ pool *pgxpool.Pool }

func (r txRunnerPG) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, r.pool, fn)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

const sessionCols = `id, patient_ref, patient_name, survey_config_id, status,
	consent_given, consent_at, started_at, completed_at, expires_at, ip_address, user_agent`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.PatientRef, &s.PatientName, &s.SurveyConfigID, &s.Status,
		&s.ConsentGiven, &s.ConsentAt, &s.StartedAt, &s.CompletedAt, &s.ExpiresAt,
		&s.IPAddress, &s.UserAgent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return &s, err
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO survey_sessions
			(id, patient_ref, patient_name, survey_config_id, status,
			 consent_given, consent_at, expires_at, ip_address, user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING started_at`,
		s.ID, s.PatientRef, s.PatientName, s.SurveyConfigID, s.Status,
		s.ConsentGiven, s.ConsentAt, s.ExpiresAt, s.IPAddress, s.UserAgent,
	).Scan(&s.StartedAt)
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return scanSession(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM survey_sessions WHERE id = $1`, id))
}

func (r *sessionRepoPG) LatestByPatient(ctx context.Context, patientRef int64) (*Session, error) {
	return scanSession(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+sessionCols+` FROM survey_sessions
		WHERE patient_ref = $1 AND status <> $2
		ORDER BY started_at DESC
		LIMIT 1`,
		patientRef, StatusAbandoned))
}

func (r *sessionRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, completedAt *time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE survey_sessions SET status = $2, completed_at = $3 WHERE id = $1`,
		id, status, completedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepoPG) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE survey_sessions
		SET status = $1, completed_at = $2
		WHERE status = $3 AND expires_at IS NOT NULL AND expires_at < $2`,
		StatusAbandoned, now, StatusInProgress)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Answers, reports and audit rows go with the session via ON DELETE CASCADE.

func (r *sessionRepoPG) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM survey_sessions
		WHERE status = $1 AND completed_at IS NOT NULL AND completed_at < $2`,
		StatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *sessionRepoPG) PurgeUnfinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM survey_sessions
		WHERE status <> $1 AND started_at < $2`,
		StatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---------------------------------------------------------------------------
// Answers
// ---------------------------------------------------------------------------

type answerRepoPG struct{ pool *pgxpool.Pool }

func NewAnswerRepoPG(pool *pgxpool.Pool) AnswerRepository {
	return &answerRepoPG{pool: pool}
}

const answerCols = `id, session_id, node_id, answer_data, created_at, updated_at`

func (r *answerRepoPG) Upsert(ctx context.Context, a *Answer) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO survey_answers (session_id, node_id, answer_data)
		VALUES ($1,$2,$3)
		ON CONFLICT (session_id, node_id)
		DO UPDATE SET answer_data = EXCLUDED.answer_data, updated_at = NOW()
		RETURNING id, created_at`,
		a.SessionID, a.NodeID, a.AnswerData,
	).Scan(&a.ID, &a.CreatedAt)
}

func (r *answerRepoPG) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Answer, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+answerCols+` FROM survey_answers WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Answer
	for rows.Next() {
		var a Answer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.NodeID, &a.AnswerData,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}

// ---------------------------------------------------------------------------
// Audit log
// ---------------------------------------------------------------------------

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository {
	return &auditRepoPG{pool: pool}
}

func (r *auditRepoPG) Record(ctx context.Context, e *AuditEntry) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO audit_log (session_id, action, details, ip_address)
		VALUES ($1,$2,$3,$4)
		RETURNING id, recorded_at`,
		e.SessionID, e.Action, e.Details, e.IPAddress,
	).Scan(&e.ID, &e.RecordedAt)
}

func (r *auditRepoPG) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM audit_log WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

type reportRepoPG struct{ pool *pgxpool.Pool }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository {
	return &reportRepoPG{pool: pool}
}

func (r *reportRepoPG) Create(ctx context.Context, rep *Report) error {
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO survey_reports (session_id, findings, report)
		VALUES ($1,$2,$3)
		ON CONFLICT (session_id)
		DO UPDATE SET findings = EXCLUDED.findings, report = EXCLUDED.report
		RETURNING id, created_at`,
		rep.SessionID, rep.Findings, rep.Document,
	).Scan(&rep.ID, &rep.CreatedAt)
}

func (r *reportRepoPG) GetBySession(ctx context.Context, sessionID uuid.UUID) (*Report, error) {
	var rep Report
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, session_id, findings, report, created_at
		FROM survey_reports WHERE session_id = $1`, sessionID,
	).Scan(&rep.ID, &rep.SessionID, &rep.Findings, &rep.Document, &rep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}
