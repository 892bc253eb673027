// Package intake owns the patient-facing session lifecycle: starting a
// survey run, accepting answers, back-navigation, and completion with
// clinical findings. Survey structure and traversal live in the survey
// package; this one ties sessions, persisted answers, and flow state
// together.
package intake

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/intake/intake/internal/domain/survey"
)

// Session statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusAbandoned  = "abandoned"
)

// Audit actions recorded by the intake service.
const (
	AuditSessionStarted   = "session_started"
	AuditSessionResumed   = "session_resumed"
	AuditSessionCompleted = "session_completed"
	AuditSessionExpired   = "session_expired"
	AuditFlowBroken       = "flow_broken"
)

// Session is one patient's run through a survey configuration.
type Session struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientRef     int64      `db:"patient_ref" json:"patient_ref"`
	PatientName    *string    `db:"patient_name" json:"patient_name,omitempty"`
	SurveyConfigID int64      `db:"survey_config_id" json:"survey_config_id"`
	Status         string     `db:"status" json:"status"`
	ConsentGiven   bool       `db:"consent_given" json:"consent_given"`
	ConsentAt      *time.Time `db:"consent_at" json:"consent_at,omitempty"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ExpiresAt      *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	IPAddress      *string    `db:"ip_address" json:"-"`
	UserAgent      *string    `db:"user_agent" json:"-"`
}

// Expired reports whether the session's deadline has passed. Sessions
// without a deadline never expire.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Completed reports whether the session has been finished.
func (s *Session) Completed() bool { return s.Status == StatusCompleted }

// Answer is one persisted answer row. AnswerData carries the client
// payload verbatim; the session+node pair is unique and re-answering a
// node overwrites the previous row.
type Answer struct {
	ID         int64           `db:"id" json:"id"`
	SessionID  uuid.UUID       `db:"session_id" json:"session_id"`
	NodeID     string          `db:"node_id" json:"node_id"`
	AnswerData json.RawMessage `db:"answer_data" json:"answer_data"`
	CreatedAt  *time.Time      `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt  *time.Time      `db:"updated_at" json:"updated_at,omitempty"`
}

// Decoded returns the answer payload as the survey package's map form.
// Malformed rows decode to nil, which downstream evaluation treats as
// an unanswered node.
func (a *Answer) Decoded() survey.Answer {
	var m survey.Answer
	if err := json.Unmarshal(a.AnswerData, &m); err != nil {
		return nil
	}
	return m
}

// AuditEntry is one row of the action journal. Entries are pruned after
// a retention window, so nothing here may be load-bearing.
type AuditEntry struct {
	ID         int64           `db:"id" json:"id"`
	SessionID  *uuid.UUID      `db:"session_id" json:"session_id,omitempty"`
	Action     string          `db:"action" json:"action"`
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
	IPAddress  *string         `db:"ip_address" json:"-"`
	RecordedAt *time.Time      `db:"recorded_at" json:"recorded_at,omitempty"`
}

// Report is the stored outcome of a completed session: the clinical
// findings plus the grouped report document built from the answers.
type Report struct {
	ID        int64           `db:"id" json:"id"`
	SessionID uuid.UUID       `db:"session_id" json:"session_id"`
	Findings  json.RawMessage `db:"findings" json:"findings"`
	Document  json.RawMessage `db:"report" json:"report"`
	CreatedAt *time.Time      `db:"created_at" json:"created_at,omitempty"`
}

// answerContext folds persisted answer rows into the evaluation form
// used by rule matching and report assembly.
func answerContext(rows []*Answer) survey.AnswerContext {
	ctx := make(survey.AnswerContext, len(rows))
	for _, row := range rows {
		if m := row.Decoded(); m != nil {
			ctx[row.NodeID] = m
		}
	}
	return ctx
}
