package intake

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when a session id resolves to nothing.
	ErrSessionNotFound = errors.New("intake session not found")
	// ErrSessionCompleted rejects writes against a finished session.
	ErrSessionCompleted = errors.New("intake session already completed")
	// ErrSessionExpired rejects writes against a session past its deadline.
	ErrSessionExpired = errors.New("intake session expired")
	// ErrConsentRequired rejects a start without consent to data processing.
	ErrConsentRequired = errors.New("consent is required to start the survey")
	// ErrReportNotFound is returned when a session has no stored report.
	ErrReportNotFound = errors.New("intake report not found")
)

// SessionRepository persists survey sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	// LatestByPatient returns the patient's most recent session that was
	// not abandoned, or ErrSessionNotFound.
	LatestByPatient(ctx context.Context, patientRef int64) (*Session, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, completedAt *time.Time) error
	// ExpireStale flips in_progress sessions past their deadline to
	// abandoned and returns how many were flipped.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	// PurgeCompletedBefore hard-deletes completed sessions finished
	// before the cutoff, answers and reports included. Personal data
	// must not outlive the retention window.
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// PurgeUnfinishedBefore hard-deletes sessions that never completed
	// and were started before the cutoff.
	PurgeUnfinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AnswerRepository persists per-node answers.
type AnswerRepository interface {
	// Upsert inserts the answer or overwrites the existing row for the
	// same session and node.
	Upsert(ctx context.Context, a *Answer) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Answer, error)
}

// AuditRepository records the action journal.
type AuditRepository interface {
	Record(ctx context.Context, e *AuditEntry) error
	// DeleteOlderThan prunes entries recorded before the cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ReportRepository stores completion outcomes.
type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*Report, error)
}

// TxRunner executes fn inside one database transaction. Repository calls
// made with the context passed to fn share that transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
