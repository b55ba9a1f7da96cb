package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examportal/internal/attempt"
	"github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/stats"
	"github.com/pavelanni/examportal/internal/wizard"
)

// handleWizard replays the selections in the query string on a fresh
// wizard and returns the resulting step. Admins pick a grade; students
// start at their profile grade.
func (h *Handler) handleWizard(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	exams, err := h.catalog.Active(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	profileGrade := user.Grade
	if user.IsAdmin() {
		profileGrade = 0
	}
	wz := wizard.New(exams, profileGrade)

	q := r.URL.Query()
	if s := q.Get("grade"); s != "" && wz.Step() == wizard.StepGrade {
		grade, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "InvalidRequest")
			return
		}
		if err := wz.SelectGrade(grade); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if s := q.Get("lesson"); s != "" {
		if err := wz.SelectLesson(model.LessonType(s)); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if q.Get("term") != "" || q.Get("examNumber") != "" {
		term, err1 := strconv.Atoi(q.Get("term"))
		number, err2 := strconv.Atoi(q.Get("examNumber"))
		if err1 != nil || err2 != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "InvalidRequest")
			return
		}
		if err := wz.SelectTerm(term, number); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, wz.View())
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	exam, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !exam.Active() && !model.UserFromContext(r.Context()).IsAdmin() {
		h.fail(w, r, attempt.ErrExamUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleStartExam(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	a, err := h.flow.Start(ctx, model.SessionFromContext(ctx), *model.UserFromContext(ctx), id, model.DeviceFromContext(ctx))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) handleCurrentAttempt(w http.ResponseWriter, r *http.Request) {
	a, err := h.flow.Current(model.SessionFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	qid, err := strconv.Atoi(chi.URLParam(r, "questionID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "InvalidRequest")
		return
	}
	var req answerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.flow.Answer(model.SessionFromContext(r.Context()), qid, req.Answer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// confirmation is the prompt shown before handing in an attempt.
type confirmation struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type readinessResponse struct {
	attempt.Status
	Confirm confirmation `json:"confirm"`
}

func confirmationFor(r *http.Request, st attempt.Status) confirmation {
	ctx := r.Context()
	switch st.Readiness {
	case attempt.ReadinessBlank:
		return confirmation{Title: i18n.T(ctx, "ConfirmBlankTitle"), Message: i18n.T(ctx, "ConfirmBlank")}
	case attempt.ReadinessPartial:
		return confirmation{
			Title:   i18n.T(ctx, "ConfirmPartialTitle"),
			Message: i18n.Td(ctx, "ConfirmPartial", map[string]any{"Answered": st.Answered, "Total": st.Total}),
		}
	default:
		return confirmation{Title: i18n.T(ctx, "ConfirmCompleteTitle"), Message: i18n.T(ctx, "ConfirmComplete")}
	}
}

func (h *Handler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	st, err := h.flow.Readiness(model.SessionFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, readinessResponse{Status: st, Confirm: confirmationFor(r, st)})
}

type submitRequest struct {
	Confirm bool `json:"confirm"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	token := model.SessionFromContext(ctx)
	out, err := h.flow.Submit(ctx, token, *model.UserFromContext(ctx), req.Confirm, model.DeviceFromContext(ctx))
	if errors.Is(err, attempt.ErrNotConfirmed) {
		st, serr := h.flow.Readiness(token)
		if serr != nil {
			h.fail(w, r, serr)
			return
		}
		writeJSON(w, http.StatusPreconditionRequired, readinessResponse{Status: st, Confirm: confirmationFor(r, st)})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := h.flow.Discard(model.SessionFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func lessonParam(r *http.Request) model.LessonType {
	if l := r.URL.Query().Get("lesson"); l != "" {
		return model.LessonType(l)
	}
	return stats.AllLessons
}

type historyResponse struct {
	Summary stats.Summary           `json:"summary"`
	Chart   []stats.Point           `json:"chart"`
	Items   []model.ExamHistoryItem `json:"items"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	history, err := h.store.History(r.Context(), user.Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lesson := lessonParam(r)
	items := make([]model.ExamHistoryItem, 0, len(history))
	for _, it := range history {
		if lesson == stats.AllLessons || it.Lesson == lesson {
			items = append(items, it)
		}
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Summary: stats.Summarize(history, lesson),
		Chart:   stats.ChartSeries(items),
		Items:   items,
	})
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := model.UserFromContext(ctx)
	grade := viewer.Grade
	if s := r.URL.Query().Get("grade"); s != "" && viewer.IsAdmin() {
		g, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "InvalidRequest")
			return
		}
		grade = g
	}

	users, err := h.store.ListUsers(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	histories := make(map[string][]model.ExamHistoryItem, len(users))
	for _, u := range users {
		if u.Grade != grade {
			continue
		}
		hist, err := h.store.History(ctx, u.Email)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		histories[u.Email] = hist
	}
	writeJSON(w, http.StatusOK, stats.Leaderboard(users, histories, grade, lessonParam(r), viewer.Email))
}
