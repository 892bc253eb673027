package intake

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/intake/intake/internal/domain/survey"
)

// Handler exposes the patient-facing intake API.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the intake surface on the given group. Extra
// middleware applies to the config read only, which is the one route
// safe to serve from a response cache.
func (h *Handler) RegisterRoutes(g *echo.Group, configMW ...echo.MiddlewareFunc) {
	g.GET("/config", h.Config, configMW...)
	g.POST("/start", h.Start)
	g.POST("/answer", h.Answer)
	g.POST("/back", h.Back)
	g.GET("/progress/:session_id", h.Progress)
	g.POST("/complete", h.Complete)
}

func sessionID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid session id")
	}
	return id, nil
}

// mapError translates service errors onto the public HTTP contract.
func mapError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, ErrSessionCompleted):
		return echo.NewHTTPError(http.StatusBadRequest, "survey already completed")
	case errors.Is(err, ErrSessionExpired):
		return echo.NewHTTPError(http.StatusGone, "survey session has expired")
	case errors.Is(err, ErrConsentRequired):
		return echo.NewHTTPError(http.StatusBadRequest, "consent is required")
	case errors.Is(err, survey.ErrNoHistory):
		return echo.NewHTTPError(http.StatusBadRequest, "cannot go back from the first question")
	case errors.Is(err, survey.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no active survey is configured")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type configResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Version     string          `json:"version"`
	JSONConfig  json.RawMessage `json:"json_config"`
}

func (h *Handler) Config(c echo.Context) error {
	cfg, err := h.svc.ActiveConfig(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, configResponse{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Version:     cfg.Version,
		JSONConfig:  cfg.JSONConfig,
	})
}

type startRequest struct {
	PatientRef   int64   `json:"patient_ref"`
	PatientName  *string `json:"patient_name"`
	ConsentGiven bool    `json:"consent_given"`
}

type startResponse struct {
	SessionID    uuid.UUID       `json:"session_id"`
	PatientName  *string         `json:"patient_name,omitempty"`
	SurveyConfig json.RawMessage `json:"survey_config"`
	CurrentNode  string          `json:"current_node"`
	Resumed      bool            `json:"resumed"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	Message      string          `json:"message"`
}

func (h *Handler) Start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientRef <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_ref is required")
	}

	res, err := h.svc.Start(c.Request().Context(), StartInput{
		PatientRef:  req.PatientRef,
		PatientName: req.PatientName,
		Consent:     req.ConsentGiven,
		IPAddress:   c.RealIP(),
		UserAgent:   c.Request().UserAgent(),
	})
	if err != nil {
		return mapError(err)
	}

	msg := "Survey started."
	if res.Resumed {
		msg = "You have an unfinished survey. Picking up where you left off."
	}
	return c.JSON(http.StatusOK, startResponse{
		SessionID:    res.Session.ID,
		PatientName:  res.Session.PatientName,
		SurveyConfig: res.Config.JSONConfig,
		CurrentNode:  res.CurrentNode,
		Resumed:      res.Resumed,
		ExpiresAt:    res.Session.ExpiresAt,
		Message:      msg,
	})
}

type answerRequest struct {
	SessionID  uuid.UUID     `json:"session_id"`
	NodeID     string        `json:"node_id"`
	AnswerData survey.Answer `json:"answer_data"`
}

type answerResponse struct {
	Success   bool    `json:"success"`
	NextNode  *string `json:"next_node"`
	Completed bool    `json:"completed"`
	Progress  float64 `json:"progress"`
}

func (h *Handler) Answer(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.NodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node_id is required")
	}
	if req.AnswerData == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "answer_data is required")
	}

	res, err := h.svc.SubmitAnswer(c.Request().Context(), AnswerInput{
		SessionID: req.SessionID,
		NodeID:    req.NodeID,
		Answer:    req.AnswerData,
		IPAddress: c.RealIP(),
	})
	if err != nil {
		return mapError(err)
	}

	resp := answerResponse{Success: true, Completed: res.Completed, Progress: res.Progress}
	if res.NextNode != "" {
		resp.NextNode = &res.NextNode
	}
	return c.JSON(http.StatusOK, resp)
}

type backRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

func (h *Handler) Back(c echo.Context) error {
	var req backRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	res, err := h.svc.Back(c.Request().Context(), req.SessionID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"current_node": res.CurrentNode,
	})
}

type progressResponse struct {
	SessionID       uuid.UUID            `json:"session_id"`
	CurrentNode     string               `json:"current_node"`
	Answers         survey.AnswerContext `json:"answers"`
	History         []string             `json:"history"`
	ProgressPercent float64              `json:"progress_percent"`
}

func (h *Handler) Progress(c echo.Context) error {
	id, err := sessionID(c.Param("session_id"))
	if err != nil {
		return err
	}

	res, err := h.svc.Progress(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, progressResponse{
		SessionID:       res.SessionID,
		CurrentNode:     res.CurrentNode,
		Answers:         res.Answers,
		History:         res.History,
		ProgressPercent: res.Percent,
	})
}

type completeRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

type completeResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Findings []survey.Finding `json:"findings"`
}

func (h *Handler) Complete(c echo.Context) error {
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	res, err := h.svc.Complete(c.Request().Context(), req.SessionID)
	if err != nil {
		return mapError(err)
	}

	msg := "Thank you! Your answers have been recorded and passed to the clinic."
	if res.AlreadyCompleted {
		msg = "The survey was already completed earlier."
	}
	return c.JSON(http.StatusOK, completeResponse{
		Success:  true,
		Message:  msg,
		Findings: res.Findings,
	})
}
