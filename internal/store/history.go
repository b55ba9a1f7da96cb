package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/pavelanni/examportal/internal/model"
)

// History returns a user's attempts in insertion order. Unreadable
// history is treated as empty.
func (s *Store) History(ctx context.Context, email string) ([]model.ExamHistoryItem, error) {
	items, err := readList(ctx, s, HistoryKey(email), model.ExamHistoryItem.Validate)
	var perr *ParseError
	if errors.As(err, &perr) {
		slog.Warn("history unreadable, using empty history", "email", email, "error", err)
		return nil, nil
	}
	return items, err
}

// AppendHistory adds one attempt to the user's history. Existing records
// are never modified.
func (s *Store) AppendHistory(ctx context.Context, email string, item model.ExamHistoryItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	s.listMu.Lock()
	defer s.listMu.Unlock()
	items, err := s.History(ctx, email)
	if err != nil {
		return err
	}
	items = append(items, item)
	if err := s.setJSON(ctx, HistoryKey(email), items); err != nil {
		return err
	}
	slog.Info("appended history", "email", email, "exam_id", item.ExamID, "score", item.Score)
	return nil
}

// Schedule returns a user's planner entries sorted by date.
func (s *Store) Schedule(ctx context.Context, email string) ([]model.ScheduleItem, error) {
	items, err := readList(ctx, s, ScheduleKey(email), model.ScheduleItem.Validate)
	var perr *ParseError
	if errors.As(err, &perr) {
		slog.Warn("schedule unreadable, using empty schedule", "email", email, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Date < items[j].Date })
	return items, nil
}

// SaveSchedule replaces a user's planner entries.
func (s *Store) SaveSchedule(ctx context.Context, email string, items []model.ScheduleItem) error {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return s.saveSchedule(ctx, email, items)
}

// UpdateSchedule replaces a user's planner entries with fn's result. No
// other history or schedule write runs in between; an error from fn
// leaves the entries unchanged.
func (s *Store) UpdateSchedule(ctx context.Context, email string, fn func([]model.ScheduleItem) ([]model.ScheduleItem, error)) error {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	items, err := s.Schedule(ctx, email)
	if err != nil {
		return err
	}
	items, err = fn(items)
	if err != nil {
		return err
	}
	return s.saveSchedule(ctx, email, items)
}

func (s *Store) saveSchedule(ctx context.Context, email string, items []model.ScheduleItem) error {
	if items == nil {
		items = []model.ScheduleItem{}
	}
	return s.setJSON(ctx, ScheduleKey(email), items)
}
