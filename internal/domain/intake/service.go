package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/domain/survey"
	"github.com/intake/intake/internal/platform/flowstate"
)

// Repositories bundles the persistence surfaces the intake service needs.
type Repositories struct {
	Sessions SessionRepository
	Answers  AnswerRepository
	Audit    AuditRepository
	Reports  ReportRepository
	Configs  survey.ConfigRepository
	Tx       TxRunner
}

// Settings tunes the session lifecycle. Zero values fall back to the
// defaults below.
type Settings struct {
	// SessionTTL is how long a started session stays answerable.
	SessionTTL time.Duration
	// LockTTL bounds how long one request may hold a session's write lock.
	LockTTL time.Duration
	// Progress configures the completion estimate.
	Progress survey.ProgressPolicy
}

const (
	defaultSessionTTL = 2 * time.Hour
	defaultLockTTL    = 10 * time.Second
)

// Service drives patient sessions end to end: start, answers, back
// navigation, completion with findings, and stale-session sweeping.
// Flow state lives in Redis behind the flowstate store; everything else
// is Postgres.
type Service struct {
	repos Repositories
	flow  *flowstate.Store
	locks *flowstate.Locker
	cfg   Settings
	log   zerolog.Logger
}

func NewService(repos Repositories, flow *flowstate.Store, locks *flowstate.Locker, cfg Settings, log zerolog.Logger) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Service{repos: repos, flow: flow, locks: locks, cfg: cfg, log: log}
}

// ActiveConfig returns the survey configuration patients are currently
// served, or survey.ErrNotFound when none is active.
func (s *Service) ActiveConfig(ctx context.Context) (*survey.SurveyConfig, error) {
	return s.repos.Configs.GetActive(ctx)
}

// record writes an audit entry. Auditing is best effort; a failed write
// is logged and never fails the request it annotates.
func (s *Service) record(ctx context.Context, sessionID *uuid.UUID, action string, details map[string]interface{}, ip string) {
	e := &AuditEntry{SessionID: sessionID, Action: action}
	if details != nil {
		raw, err := json.Marshal(details)
		if err == nil {
			e.Details = raw
		}
	}
	if ip != "" {
		e.IPAddress = &ip
	}
	if err := s.repos.Audit.Record(ctx, e); err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("audit record failed")
	}
}

func (s *Service) engineFor(ctx context.Context, configID int64) (*survey.Engine, *survey.SurveyConfig, error) {
	cfg, err := s.repos.Configs.GetByID(ctx, configID)
	if err != nil {
		return nil, nil, fmt.Errorf("load survey config %d: %w", configID, err)
	}
	g, err := cfg.Graph()
	if err != nil {
		return nil, nil, fmt.Errorf("parse survey config %d: %w", configID, err)
	}
	return survey.NewEngine(g, s.cfg.Progress, s.log), cfg, nil
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

type StartInput struct {
	PatientRef  int64
	PatientName *string
	Consent     bool
	IPAddress   string
	UserAgent   string
}

type StartResult struct {
	Session     *Session
	CurrentNode string
	Resumed     bool
	Config      *survey.SurveyConfig
}

// Start opens a session against the active survey for the given patient.
// A live in-progress session for the same patient is resumed instead of
// duplicated; a completed one rejects the start. Expired leftovers are
// flipped to abandoned and replaced.
func (s *Service) Start(ctx context.Context, in StartInput) (*StartResult, error) {
	if !in.Consent {
		return nil, ErrConsentRequired
	}
	now := time.Now().UTC()

	cfg, err := s.repos.Configs.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	g, err := cfg.Graph()
	if err != nil {
		return nil, fmt.Errorf("parse active survey config: %w", err)
	}

	existing, err := s.repos.Sessions.LatestByPatient(ctx, in.PatientRef)
	switch {
	case err == nil:
		if existing.Completed() {
			return nil, ErrSessionCompleted
		}
		if !existing.Expired(now) {
			return s.resume(ctx, existing, g, now)
		}
		if err := s.repos.Sessions.UpdateStatus(ctx, existing.ID, StatusAbandoned, &now); err != nil {
			return nil, fmt.Errorf("abandon expired session: %w", err)
		}
		s.record(ctx, &existing.ID, AuditSessionExpired, nil, in.IPAddress)
	case errors.Is(err, ErrSessionNotFound):
		// First contact for this patient.
	default:
		return nil, err
	}

	expires := now.Add(s.cfg.SessionTTL)
	sess := &Session{
		ID:             uuid.New(),
		PatientRef:     in.PatientRef,
		PatientName:    in.PatientName,
		SurveyConfigID: cfg.ID,
		Status:         StatusInProgress,
		ConsentGiven:   true,
		ConsentAt:      &now,
		ExpiresAt:      &expires,
	}
	if in.IPAddress != "" {
		sess.IPAddress = &in.IPAddress
	}
	if in.UserAgent != "" {
		sess.UserAgent = &in.UserAgent
	}
	if err := s.repos.Sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.flow.Save(ctx, sess.ID.String(), survey.NewFlowState(g.StartNode, now)); err != nil {
		return nil, fmt.Errorf("seed flow state: %w", err)
	}

	s.record(ctx, &sess.ID, AuditSessionStarted, map[string]interface{}{
		"consent_given":    true,
		"survey_config_id": cfg.ID,
	}, in.IPAddress)
	s.log.Info().
		Str("session_id", sess.ID.String()).
		Int64("patient_ref", in.PatientRef).
		Int64("survey_config_id", cfg.ID).
		Msg("intake session started")

	return &StartResult{Session: sess, CurrentNode: g.StartNode, Config: cfg}, nil
}

// resume hands a live session back to its patient, re-seeding flow state
// when Redis lost it.
func (s *Service) resume(ctx context.Context, sess *Session, g *survey.Graph, now time.Time) (*StartResult, error) {
	state, err := s.flow.Load(ctx, sess.ID.String())
	if errors.Is(err, flowstate.ErrNotFound) {
		state = survey.NewFlowState(g.StartNode, now)
		if err := s.flow.Save(ctx, sess.ID.String(), state); err != nil {
			return nil, fmt.Errorf("reseed flow state: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load flow state: %w", err)
	}

	cfg, err := s.repos.Configs.GetByID(ctx, sess.SurveyConfigID)
	if err != nil {
		return nil, fmt.Errorf("load survey config %d: %w", sess.SurveyConfigID, err)
	}

	s.record(ctx, &sess.ID, AuditSessionResumed, nil, "")
	s.log.Info().Str("session_id", sess.ID.String()).Msg("intake session resumed")

	return &StartResult{Session: sess, CurrentNode: state.CurrentNode, Resumed: true, Config: cfg}, nil
}

// ---------------------------------------------------------------------------
// Answers
// ---------------------------------------------------------------------------

type AnswerInput struct {
	SessionID uuid.UUID
	NodeID    string
	Answer    survey.Answer
	IPAddress string
}

type AnswerResult struct {
	// NextNode is the node to show next; empty once the survey ended.
	NextNode string
	// Completed is set when the survey reached a terminal step. The
	// client is expected to call Complete afterwards.
	Completed bool
	// Progress is the completion estimate, 0..100.
	Progress float64
}

// SubmitAnswer stores one answer and advances the flow. The answer row
// is persisted even when it re-answers a node after back-navigation. A
// broken graph edge is logged, audited, and surfaced as completion so
// the patient is never stranded mid-survey.
func (s *Service) SubmitAnswer(ctx context.Context, in AnswerInput) (*AnswerResult, error) {
	sess, err := s.repos.Sessions.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed() {
		return nil, ErrSessionCompleted
	}
	now := time.Now().UTC()
	if sess.Expired(now) {
		if err := s.repos.Sessions.UpdateStatus(ctx, sess.ID, StatusAbandoned, &now); err != nil {
			return nil, fmt.Errorf("abandon expired session: %w", err)
		}
		s.record(ctx, &sess.ID, AuditSessionExpired, nil, in.IPAddress)
		s.log.Warn().Str("session_id", sess.ID.String()).Msg("session expired, abandoning")
		return nil, ErrSessionExpired
	}

	engine, _, err := s.engineFor(ctx, sess.SurveyConfigID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, sess.ID.String(), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock(ctx)

	state, err := s.flow.Load(ctx, sess.ID.String())
	if errors.Is(err, flowstate.ErrNotFound) {
		state = survey.NewFlowState(engine.Graph().StartNode, now)
	} else if err != nil {
		return nil, fmt.Errorf("load flow state: %w", err)
	}

	// The prior-answer context must not yet contain the answer being
	// submitted; Advance records it afterwards.
	step := engine.Next(in.NodeID, in.Answer, state.Answers)

	raw, err := json.Marshal(in.Answer)
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	if err := s.repos.Answers.Upsert(ctx, &Answer{
		SessionID:  sess.ID,
		NodeID:     in.NodeID,
		AnswerData: raw,
	}); err != nil {
		return nil, fmt.Errorf("store answer: %w", err)
	}

	next := ""
	if step.Kind == survey.StepNext {
		next = step.NodeID
	}
	if step.Kind == survey.StepBroken {
		s.log.Error().
			Str("session_id", sess.ID.String()).
			Str("node_id", in.NodeID).
			Str("reason", step.Reason).
			Msg("survey flow broken")
		s.record(ctx, &sess.ID, AuditFlowBroken, map[string]interface{}{
			"node_id": in.NodeID,
			"reason":  step.Reason,
		}, in.IPAddress)
	}

	state.Advance(in.NodeID, in.Answer, next)
	if err := s.flow.Save(ctx, sess.ID.String(), state); err != nil {
		return nil, fmt.Errorf("save flow state: %w", err)
	}

	completed := engine.TerminalStep(step)
	progress := 100.0
	if !completed {
		progress = engine.Progress(state.AnsweredNodes(), false)
	}
	return &AnswerResult{NextNode: next, Completed: completed, Progress: progress}, nil
}

// ---------------------------------------------------------------------------
// Back navigation
// ---------------------------------------------------------------------------

type BackResult struct {
	CurrentNode string
}

// Back rewinds the session one node. The persisted answer row for the
// abandoned node is kept; re-answering overwrites it.
func (s *Service) Back(ctx context.Context, sessionID uuid.UUID) (*BackResult, error) {
	sess, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed() {
		return nil, ErrSessionCompleted
	}

	unlock, err := s.locks.Lock(ctx, sess.ID.String(), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock(ctx)

	state, err := s.flow.Load(ctx, sess.ID.String())
	if errors.Is(err, flowstate.ErrNotFound) {
		return nil, survey.ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("load flow state: %w", err)
	}

	if err := state.Back(); err != nil {
		return nil, err
	}
	if err := s.flow.Save(ctx, sess.ID.String(), state); err != nil {
		return nil, fmt.Errorf("save flow state: %w", err)
	}
	return &BackResult{CurrentNode: state.CurrentNode}, nil
}

// ---------------------------------------------------------------------------
// Progress
// ---------------------------------------------------------------------------

type ProgressResult struct {
	SessionID   uuid.UUID
	CurrentNode string
	Answers     survey.AnswerContext
	History     []string
	Percent     float64
}

// Progress reports where the session stands without mutating anything.
func (s *Service) Progress(ctx context.Context, sessionID uuid.UUID) (*ProgressResult, error) {
	sess, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	engine, _, err := s.engineFor(ctx, sess.SurveyConfigID)
	if err != nil {
		return nil, err
	}

	state, err := s.flow.Load(ctx, sess.ID.String())
	if errors.Is(err, flowstate.ErrNotFound) {
		state = survey.NewFlowState(engine.Graph().StartNode, time.Now().UTC())
	} else if err != nil {
		return nil, fmt.Errorf("load flow state: %w", err)
	}

	return &ProgressResult{
		SessionID:   sess.ID,
		CurrentNode: state.CurrentNode,
		Answers:     state.Answers,
		History:     state.History,
		Percent:     engine.Progress(state.AnsweredNodes(), sess.Completed()),
	}, nil
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

type CompleteResult struct {
	AlreadyCompleted bool
	Findings         []survey.Finding
	Report           *survey.Report
}

// Complete finishes the session: clinical rules are evaluated over the
// persisted answers, the findings and the grouped report document are
// stored, the session is marked completed, and the flow state is
// dropped. Completing twice returns the stored outcome.
func (s *Service) Complete(ctx context.Context, sessionID uuid.UUID) (*CompleteResult, error) {
	sess, err := s.repos.Sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Completed() {
		return s.storedOutcome(ctx, sess.ID)
	}

	unlock, err := s.locks.Lock(ctx, sess.ID.String(), s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	defer unlock(ctx)

	rows, err := s.repos.Answers.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	answers := answerContext(rows)

	cfg, err := s.repos.Configs.GetByID(ctx, sess.SurveyConfigID)
	if err != nil {
		return nil, fmt.Errorf("load survey config %d: %w", sess.SurveyConfigID, err)
	}
	g, err := cfg.Graph()
	if err != nil {
		return nil, fmt.Errorf("parse survey config %d: %w", sess.SurveyConfigID, err)
	}

	now := time.Now().UTC()
	report := survey.BuildReport(g, answers, now)

	findingsRaw, err := json.Marshal(report.Findings)
	if err != nil {
		return nil, fmt.Errorf("encode findings: %w", err)
	}
	reportRaw, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	// The report and the status flip land together or not at all.
	err = s.repos.Tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repos.Reports.Create(txCtx, &Report{
			SessionID: sess.ID,
			Findings:  findingsRaw,
			Document:  reportRaw,
		}); err != nil {
			return fmt.Errorf("store report: %w", err)
		}
		return s.repos.Sessions.UpdateStatus(txCtx, sess.ID, StatusCompleted, &now)
	})
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	s.record(ctx, &sess.ID, AuditSessionCompleted, map[string]interface{}{
		"answers_count":  len(rows),
		"findings_count": len(report.Findings),
	}, "")
	if err := s.flow.Delete(ctx, sess.ID.String()); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("drop flow state failed")
	}
	s.log.Info().
		Str("session_id", sess.ID.String()).
		Int("answers", len(rows)).
		Int("findings", len(report.Findings)).
		Msg("intake session completed")

	return &CompleteResult{Findings: report.Findings, Report: &report}, nil
}

// storedOutcome replays a finished session's outcome from storage.
func (s *Service) storedOutcome(ctx context.Context, sessionID uuid.UUID) (*CompleteResult, error) {
	res := &CompleteResult{AlreadyCompleted: true}
	stored, err := s.repos.Reports.GetBySession(ctx, sessionID)
	if errors.Is(err, ErrReportNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	var rep survey.Report
	if err := json.Unmarshal(stored.Document, &rep); err == nil {
		res.Report = &rep
		res.Findings = rep.Findings
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Sweeping
// ---------------------------------------------------------------------------

// ExpireStale abandons in-progress sessions whose deadline passed.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repos.Sessions.ExpireStale(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("sessions", n).Msg("expired stale intake sessions")
	}
	return n, nil
}

// PruneAudit removes audit entries recorded before the cutoff.
func (s *Service) PruneAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.repos.Audit.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit log: %w", err)
	}
	if n > 0 {
		s.log.Info().Int64("entries", n).Msg("pruned audit log")
	}
	return n, nil
}

// PurgeOldData hard-deletes sessions past the personal data retention
// window, both completed ones and those that never finished. Answers,
// reports and audit rows cascade with them.
func (s *Service) PurgeOldData(ctx context.Context, cutoff time.Time) (int64, error) {
	completed, err := s.repos.Sessions.PurgeCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge completed sessions: %w", err)
	}
	unfinished, err := s.repos.Sessions.PurgeUnfinishedBefore(ctx, cutoff)
	if err != nil {
		return completed, fmt.Errorf("purge unfinished sessions: %w", err)
	}
	total := completed + unfinished
	if total > 0 {
		s.log.Info().
			Int64("completed", completed).
			Int64("unfinished", unfinished).
			Msg("purged sessions past data retention")
	}
	return total, nil
}
