package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/analizadordatos/smart-analytics/internal/application/command"
	"github.com/analizadordatos/smart-analytics/internal/application/query"
	"github.com/analizadordatos/smart-analytics/internal/domain/access"
	"github.com/analizadordatos/smart-analytics/internal/domain/analytics"
	"github.com/analizadordatos/smart-analytics/internal/domain/roster"
	"github.com/analizadordatos/smart-analytics/internal/domain/shared"
	"github.com/analizadordatos/smart-analytics/internal/interface/http/handlers"
	"github.com/analizadordatos/smart-analytics/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Smart Analytics API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":   "/health",
			"session":  "/api/v1/session",
			"students": "/api/v1/students",
			"summary":  "/api/v1/roster/summary",
			"analyze":  "/api/v1/roster/analyze",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status": "healthy",
			"uptime": s.Uptime().String(),
		})
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetSession handles GET /api/v1/session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetSession == nil {
		s.notConfigured(w, r)
		return
	}
	dto, err := s.deps.GetSession.Handle(r.Context(), query.GetSessionQuery{
		Session: access.SessionFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleLogout handles DELETE /api/v1/session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Logout == nil {
		s.notConfigured(w, r)
		return
	}
	if access.SessionFrom(r.Context()) == nil {
		s.writeError(w, r, shared.ErrNoSession)
		return
	}
	if err := s.deps.Logout.Handle(r.Context(), command.LogoutCommand{Token: s.sessionToken(r)}); err != nil {
		s.writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetStudent handles GET /api/v1/students/{id}
func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetStudent == nil {
		s.notConfigured(w, r)
		return
	}
	view, err := s.deps.GetStudent.Handle(r.Context(), query.GetStudentQuery{
		Session:   access.SessionFrom(r.Context()),
		StudentID: r.PathValue("id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleListStudents handles GET /api/v1/students?at_risk=true
func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListStudents == nil {
		s.notConfigured(w, r)
		return
	}
	dto, err := s.deps.ListStudents.Handle(r.Context(), query.ListStudentsQuery{
		Session:    access.SessionFrom(r.Context()),
		AtRiskOnly: getQueryParamBool(r, "at_risk"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, dto, &ResponseMeta{TotalCount: dto.Total})
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetSummary handles GET /api/v1/roster/summary
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetSummary == nil {
		s.notConfigured(w, r)
		return
	}
	dto, err := s.deps.GetSummary.Handle(r.Context(), query.GetSummaryQuery{
		Session: access.SessionFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// analyzeRequest accepts {"rows":[...]} or a bare array of rows.
type analyzeRequest struct {
	Rows []analytics.Row `json:"rows"`
}

// handleAnalyzeRoster handles POST /api/v1/roster/analyze
func (s *Server) handleAnalyzeRoster(w http.ResponseWriter, r *http.Request) {
	if s.deps.AnalyzeRoster == nil {
		s.notConfigured(w, r)
		return
	}

	rows, err := decodeRows(r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.AnalyzeRoster.Handle(r.Context(), command.AnalyzeRosterCommand{
		Session: access.SessionFrom(r.Context()),
		Rows:    rows,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("roster analyzed",
		logger.BatchID(res.BatchID),
		logger.RecordCount(res.Records),
	)
	writeJSON(w, r, http.StatusCreated, res)
}

// decodeRows keeps numbers as json.Number so cell parsing sees the
// original text.
func decodeRows(body io.Reader) ([]analytics.Row, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, shared.WrapError("http", "DecodeRows", shared.ErrInvalidInput, "could not read body", err)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, shared.ErrEmptyDataset
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var rows []analytics.Row
		if err := dec.Decode(&rows); err != nil {
			return nil, shared.WrapError("http", "DecodeRows", shared.ErrInvalidInput, "body is not a JSON array of rows", err)
		}
		return rows, nil
	}

	var req analyzeRequest
	if err := dec.Decode(&req); err != nil {
		return nil, shared.WrapError("http", "DecodeRows", shared.ErrInvalidInput, "body is not valid JSON", err)
	}
	return req.Rows, nil
}

// handleClearRoster handles DELETE /api/v1/roster
func (s *Server) handleClearRoster(w http.ResponseWriter, r *http.Request) {
	if s.deps.ClearRoster == nil {
		s.notConfigured(w, r)
		return
	}
	if err := s.deps.ClearRoster.Handle(r.Context(), command.ClearRosterCommand{
		Session: access.SessionFrom(r.Context()),
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("roster cleared")
	w.WriteHeader(http.StatusNoContent)
}

// importRequest is a pre-analyzed batch pushed by a trusted service.
type importRequest struct {
	Tag     string                 `json:"tag"`
	Records []roster.StudentRecord `json:"records"`
	Metrics *roster.GroupMetrics   `json:"metrics"`
}

// handleImportRoster handles POST /api/v1/roster/import
func (s *Server) handleImportRoster(w http.ResponseWriter, r *http.Request) {
	if s.deps.ImportRoster == nil {
		s.notConfigured(w, r)
		return
	}

	service := handlers.ServiceFrom(r.Context())
	if s.deps.ImportEnabled != nil && !s.deps.ImportEnabled(service) {
		writeJSONError(w, r, http.StatusForbidden, "feature_disabled", "Roster import is disabled")
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.writeError(w, r, err)
			return
		}
		s.writeError(w, r, shared.WrapError("http", "ImportRoster", shared.ErrInvalidInput, "body is not valid JSON", err))
		return
	}

	res, err := s.deps.ImportRoster.Handle(r.Context(), command.ImportRosterCommand{
		Service: service,
		Tag:     req.Tag,
		Records: req.Records,
		Metrics: req.Metrics,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("roster imported",
		logger.String("service", service),
		logger.BatchID(res.BatchID),
		logger.RecordCount(res.Records),
	)
	writeJSON(w, r, http.StatusCreated, res)
}

func (s *Server) notConfigured(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Endpoint is not configured")
}
