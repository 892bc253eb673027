package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AuditEntry represents an audit log entry produced by the middleware.
// It captures which session touched which part of the API, when, from
// where, and the action type.
type AuditEntry struct {
	SessionID  string
	Area       string // intake, editor, analytics
	Action     string // read, create, update, delete
	IPAddress  string
	UserAgent  string
	Path       string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder is the interface that the audit middleware uses to persist
// audit entries. This decouples the middleware from the concrete store so
// that tests can provide a mock implementation.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit returns Echo middleware that intercepts requests to /api/v1/*,
// determines the API area and survey session from the URL, and logs the
// access for traceability.
//
// If no AuditRecorder is provided, it falls back to structured zerolog
// logging. Recorder failures never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			// Only audit API routes
			if !isAuditablePath(path) {
				return next(c)
			}

			// Execute the handler first so we capture the response status
			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
			}

			// Request ID from middleware chain
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			entry.Action = httpMethodToAction(req.Method)
			entry.Area = extractArea(path)
			entry.SessionID = extractSessionID(c)

			if len(recorders) > 0 && recorders[0] != nil {
				if recErr := recorders[0].RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			// Always emit a structured log for the audit trail
			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("session_id", entry.SessionID).
				Str("area", entry.Area).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_access")

			return err
		}
	}
}

// isAuditablePath returns true if the path is under /api/v1/.
func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

// httpMethodToAction maps HTTP methods to audit action codes.
func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractArea parses the API area from a URL path.
//
// Supported patterns:
//   - /api/v1/intake/answer       -> intake
//   - /api/v1/editor/surveys/42   -> editor
//   - /api/v1/analytics/dashboard -> analytics
func extractArea(path string) string {
	if !strings.HasPrefix(path, "/api/v1/") {
		return "unknown"
	}
	segments := strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractSessionID attempts to find a survey session identifier in the
// request. It scans the URL path for a UUID segment and falls back to the
// session_id query parameter. Requests that carry the session only in the
// body are logged without one.
func extractSessionID(c echo.Context) string {
	path := c.Request().URL.Path

	if strings.HasPrefix(path, "/api/v1/") {
		for _, seg := range strings.Split(strings.TrimPrefix(path, "/api/v1/"), "/") {
			if isUUIDLike(seg) {
				return seg
			}
		}
	}

	if sid := c.QueryParam("session_id"); sid != "" {
		return sid
	}

	return ""
}

// isUUIDLike checks if a string looks like a UUID (basic length/format check).
func isUUIDLike(s string) bool {
	if len(s) < 1 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
