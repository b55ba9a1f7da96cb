package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examportal/internal/admin"
	"github.com/pavelanni/examportal/internal/catalog"
	"github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/model"
)

func actorFrom(r *http.Request) admin.Actor {
	return admin.Actor{
		Email:  model.UserFromContext(r.Context()).Email,
		Device: model.DeviceFromContext(r.Context()),
	}
}

// needConfirm answers a destructive call made without ?confirm=true.
func needConfirm(w http.ResponseWriter, r *http.Request, msgID string) {
	writeError(w, r, http.StatusPreconditionRequired, "confirmation_required", msgID)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.admin.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleAdminExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.admin.Exams(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exams)
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var e model.Exam
	if !decodeJSON(w, r, &e) {
		return
	}
	created, err := h.admin.CreateExam(r.Context(), e, actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var e model.Exam
	if !decodeJSON(w, r, &e) {
		return
	}
	updated, err := h.admin.UpdateExam(r.Context(), id, e, actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	err := h.admin.DeleteExam(r.Context(), id, confirmed(r), actorFrom(r))
	if errors.Is(err, admin.ErrConfirmationRequired) {
		needConfirm(w, r, "ConfirmDeleteExam")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleToggleExam(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	e, err := h.admin.ToggleExam(r.Context(), id, actorFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) handleExportExams(w http.ResponseWriter, r *http.Request) {
	data, err := h.admin.ExportExams(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attachment(w, "exams.json", data)
}

func (h *Handler) handleExportExam(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	data, err := h.admin.ExportExam(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	attachment(w, fmt.Sprintf("exam-%d.json", id), data)
}

type importResponse struct {
	catalog.ImportResult
	Message string `json:"message"`
}

func (h *Handler) handleImportExams(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, "invalid_request", "ImportInvalid")
		return
	}
	res, err := h.admin.ImportExams(r.Context(), data, actorFrom(r))
	var verr *catalog.ValidationError
	if errors.As(err, &verr) && verr.Field == "document" {
		writeError(w, r, http.StatusBadRequest, "validation", "ImportInvalid")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{
		ImportResult: res,
		Message:      i18n.Tp(r.Context(), "ExamsImported", len(res.Imported)),
	})
}

func (h *Handler) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	f := admin.UserFilter{Query: r.URL.Query().Get("q")}
	if s := r.URL.Query().Get("grade"); s != "" {
		g, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "InvalidRequest")
			return
		}
		f.Grade = g
	}
	users, err := h.admin.Users(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.admin.DeleteUser(r.Context(), chi.URLParam(r, "email"), confirmed(r), actorFrom(r))
	if errors.Is(err, admin.ErrConfirmationRequired) {
		needConfirm(w, r, "ConfirmDeleteUser")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type logsResponse struct {
	Entries []model.LogEntry `json:"entries"`
	Actions []model.Action   `json:"actions"`
}

func (h *Handler) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.admin.Logs(r.Context(), admin.LogFilter{Query: q.Get("q"), Action: model.Action(q.Get("action"))})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	actions, err := h.admin.Actions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}
	if actions == nil {
		actions = []model.Action{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Entries: entries, Actions: actions})
}

func (h *Handler) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	err := h.admin.ClearLogs(r.Context(), confirmed(r), actorFrom(r))
	if errors.Is(err, admin.ErrConfirmationRequired) {
		needConfirm(w, r, "ConfirmClearLogs")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
