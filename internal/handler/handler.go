// Package handler exposes the portal as a JSON API over chi.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/examportal/internal/admin"
	"github.com/pavelanni/examportal/internal/attempt"
	"github.com/pavelanni/examportal/internal/catalog"
	"github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/llm"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
	"github.com/pavelanni/examportal/internal/wizard"
)

const (
	maxBodyBytes   = 1 << 20
	maxImportBytes = 10 << 20
)

// Config holds HTTP-layer settings.
type Config struct {
	SecureCookies bool
	// GradeRate is the sustained number of grading submissions per second
	// allowed for one client. Zero disables the limit.
	GradeRate  float64
	GradeBurst int
}

// Services groups the domain services behind the API.
type Services struct {
	Store    *store.Store
	Identity *identity.Service
	Catalog  *catalog.Catalog
	Flow     *attempt.Flow
	Admin    *admin.Console
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	identity *identity.Service
	catalog  *catalog.Catalog
	flow     *attempt.Flow
	admin    *admin.Console
	config   Config
	submits  *clientLimiter
}

// New creates a new Handler.
func New(svc Services, cfg Config) (*Handler, error) {
	if svc.Store == nil || svc.Identity == nil || svc.Catalog == nil || svc.Flow == nil || svc.Admin == nil {
		return nil, errors.New("handler: all services are required")
	}
	return &Handler{
		store:    svc.Store,
		identity: svc.Identity,
		catalog:  svc.Catalog,
		flow:     svc.Flow,
		admin:    svc.Admin,
		config:   cfg,
		submits:  newClientLimiter(cfg.GradeRate, cfg.GradeBurst),
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(withDevice)
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)

			r.Post("/logout", h.handleLogout)
			r.Get("/me", h.handleMe)
			r.Put("/me", h.handleUpdateMe)
			r.Put("/credential", h.handleSetCredential)
			r.Delete("/credential", h.handleClearCredential)

			r.Get("/wizard", h.handleWizard)
			r.Get("/exams/{id}", h.handleGetExam)
			r.Post("/exams/{id}/start", h.handleStartExam)

			r.Get("/attempt", h.handleCurrentAttempt)
			r.Put("/attempt/answers/{questionID}", h.handleAnswer)
			r.Get("/attempt/readiness", h.handleReadiness)
			r.With(h.submits.middleware).Post("/attempt/submit", h.handleSubmit)
			r.Delete("/attempt", h.handleDiscard)

			r.Get("/history", h.handleHistory)
			r.Get("/leaderboard", h.handleLeaderboard)

			r.Get("/schedule", h.handleListSchedule)
			r.Post("/schedule", h.handleCreateSchedule)
			r.Put("/schedule/{id}", h.handleUpdateSchedule)
			r.Delete("/schedule/{id}", h.handleDeleteSchedule)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))

				r.Get("/dashboard", h.handleDashboard)

				r.Get("/exams", h.handleAdminExams)
				r.Post("/exams", h.handleCreateExam)
				r.Get("/exams/export", h.handleExportExams)
				r.Post("/exams/import", h.handleImportExams)
				r.Put("/exams/{id}", h.handleUpdateExam)
				r.Delete("/exams/{id}", h.handleDeleteExam)
				r.Post("/exams/{id}/toggle", h.handleToggleExam)
				r.Get("/exams/{id}/export", h.handleExportExam)

				r.Get("/users", h.handleAdminUsers)
				r.Delete("/users/{email}", h.handleDeleteUser)

				r.Get("/logs", h.handleAdminLogs)
				r.Delete("/logs", h.handleClearLogs)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, msgID string) {
	writeJSON(w, status, errorBody{Error: i18n.T(r.Context(), msgID), Kind: kind})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Debug("bad request body", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusBadRequest, "invalid_request", "InvalidRequest")
		return false
	}
	return true
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "InvalidRequest")
		return 0, false
	}
	return id, true
}

func confirmed(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return ok
}

// fail maps a domain error to a status code and localized body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *catalog.ValidationError
	if errors.As(err, &verr) {
		msg := i18n.Td(r.Context(), "ValidationFailed", map[string]any{"Field": verr.Field, "Message": verr.Message})
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: "validation", Field: verr.Field})
		return
	}
	if kind, ok := llm.KindOf(err); ok {
		h.gradingFailed(w, r, kind, err)
		return
	}

	switch {
	case errors.Is(err, identity.ErrInvalidLogin):
		writeError(w, r, http.StatusBadRequest, "invalid_login", "LoginRequired")
	case errors.Is(err, identity.ErrAdminDenied):
		writeError(w, r, http.StatusUnauthorized, "admin_denied", "AdminDenied")
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, r, http.StatusConflict, "email_taken", "EmailTaken")
	case errors.Is(err, identity.ErrUnknownUser), errors.Is(err, catalog.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "NotFound")
	case errors.Is(err, attempt.ErrNoAttempt):
		writeError(w, r, http.StatusNotFound, "no_attempt", "NoAttempt")
	case errors.Is(err, attempt.ErrInFlight):
		writeError(w, r, http.StatusConflict, "in_flight", "GradingInFlight")
	case errors.Is(err, attempt.ErrExamUnavailable):
		writeError(w, r, http.StatusForbidden, "exam_inactive", "ExamInactive")
	case errors.Is(err, attempt.ErrUnknownQuestion):
		writeError(w, r, http.StatusBadRequest, "unknown_question", "UnknownQuestion")
	case errors.Is(err, wizard.ErrWrongStep), errors.Is(err, wizard.ErrInvalidChoice):
		writeError(w, r, http.StatusBadRequest, "invalid_request", "InvalidRequest")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "InternalError")
	}
}

// gradingFailed reports a failed grading call. The attempt stays open, so
// the client may fix the cause and submit again.
func (h *Handler) gradingFailed(w http.ResponseWriter, r *http.Request, kind llm.Kind, err error) {
	slog.Warn("grading failed", "kind", kind, "error", err)
	switch kind {
	case llm.KindMissingCredential:
		writeError(w, r, http.StatusBadRequest, string(kind), "MissingCredential")
	case llm.KindInvalidCredential:
		writeError(w, r, http.StatusUnauthorized, string(kind), "InvalidCredential")
	case llm.KindRateLimited:
		w.Header().Set("Retry-After", "30")
		writeError(w, r, http.StatusTooManyRequests, string(kind), "RateLimited")
	default:
		msg := i18n.T(r.Context(), "GradingFailedGeneric")
		if cause := errors.Unwrap(err); cause != nil {
			msg = i18n.Td(r.Context(), "GradingFailed", map[string]any{"Detail": cause.Error()})
		}
		writeJSON(w, http.StatusBadGateway, errorBody{Error: msg, Kind: string(kind)})
	}
}

func attachment(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("write attachment", "name", name, "error", err)
	}
}
