package handler

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pavelanni/examportal/internal/catalog"
	"github.com/pavelanni/examportal/internal/model"
)

var errNoScheduleItem = errors.New("schedule item not found")

func (h *Handler) handleListSchedule(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.Schedule(r.Context(), model.UserFromContext(r.Context()).Email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []model.ScheduleItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// checkScheduleItem reports the first invalid field as a validation error.
func checkScheduleItem(it model.ScheduleItem) error {
	if err := it.Validate(); err != nil {
		field := "date"
		if strings.TrimSpace(it.Title) == "" {
			field = "title"
		}
		return &catalog.ValidationError{Field: field, Message: err.Error()}
	}
	if it.Lesson != "" && !it.Lesson.Valid() {
		return &catalog.ValidationError{Field: "lesson", Message: "unknown lesson " + string(it.Lesson)}
	}
	return nil
}

func (h *Handler) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var it model.ScheduleItem
	if !decodeJSON(w, r, &it) {
		return
	}
	it.ID = uuid.NewString()
	it.Title = strings.TrimSpace(it.Title)
	if err := checkScheduleItem(it); err != nil {
		h.fail(w, r, err)
		return
	}

	email := model.UserFromContext(r.Context()).Email
	err := h.store.UpdateSchedule(r.Context(), email, func(items []model.ScheduleItem) ([]model.ScheduleItem, error) {
		return append(items, it), nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (h *Handler) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var it model.ScheduleItem
	if !decodeJSON(w, r, &it) {
		return
	}
	it.ID = chi.URLParam(r, "id")
	it.Title = strings.TrimSpace(it.Title)
	if err := checkScheduleItem(it); err != nil {
		h.fail(w, r, err)
		return
	}

	email := model.UserFromContext(r.Context()).Email
	err := h.store.UpdateSchedule(r.Context(), email, func(items []model.ScheduleItem) ([]model.ScheduleItem, error) {
		i := slices.IndexFunc(items, func(s model.ScheduleItem) bool { return s.ID == it.ID })
		if i < 0 {
			return nil, errNoScheduleItem
		}
		items[i] = it
		return items, nil
	})
	if errors.Is(err, errNoScheduleItem) {
		writeError(w, r, http.StatusNotFound, "not_found", "NotFound")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *Handler) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	email := model.UserFromContext(r.Context()).Email
	err := h.store.UpdateSchedule(r.Context(), email, func(items []model.ScheduleItem) ([]model.ScheduleItem, error) {
		n := len(items)
		kept := slices.DeleteFunc(items, func(s model.ScheduleItem) bool { return s.ID == id })
		if len(kept) == n {
			return nil, errNoScheduleItem
		}
		return kept, nil
	})
	if errors.Is(err, errNoScheduleItem) {
		writeError(w, r, http.StatusNotFound, "not_found", "NotFound")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
