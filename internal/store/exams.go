package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examportal/internal/model"
)

// StoredExams returns the persisted catalog and whether one exists.
// A value that is not a list is returned as a *ParseError so the caller
// can fall back to the seed catalog.
func (s *Store) StoredExams(ctx context.Context) ([]model.Exam, bool, error) {
	_, ok, err := s.kv.Get(ctx, keyExams)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", keyExams, err)
	}
	if !ok {
		return nil, false, nil
	}
	exams, err := readList(ctx, s, keyExams, checkExam)
	if err != nil {
		return nil, false, err
	}
	return exams, true, nil
}

// SaveExams replaces the persisted catalog.
func (s *Store) SaveExams(ctx context.Context, exams []model.Exam) error {
	if exams == nil {
		exams = []model.Exam{}
	}
	return s.setJSON(ctx, keyExams, exams)
}

func checkExam(e model.Exam) error {
	if e.ID <= 0 {
		return fmt.Errorf("exam id %d must be positive", e.ID)
	}
	if !e.Lesson.Valid() {
		return fmt.Errorf("exam %d: unknown lesson %q", e.ID, e.Lesson)
	}
	if e.Term != 1 && e.Term != 2 {
		return fmt.Errorf("exam %d: term %d must be 1 or 2", e.ID, e.Term)
	}
	if e.ExamNumber != 1 && e.ExamNumber != 2 {
		return fmt.Errorf("exam %d: exam number %d must be 1 or 2", e.ID, e.ExamNumber)
	}
	return nil
}

// Logs returns the audit log, newest first. Unreadable logs are treated as empty.
func (s *Store) Logs(ctx context.Context) ([]model.LogEntry, error) {
	logs, err := readList(ctx, s, keyLogs, func(l model.LogEntry) error {
		if l.ID == "" || l.Timestamp.IsZero() {
			return errors.New("log entry missing id or timestamp")
		}
		return nil
	})
	var perr *ParseError
	if errors.As(err, &perr) {
		slog.Warn("system logs unreadable, using empty log", "error", err)
		return nil, nil
	}
	return logs, err
}

// SaveLogs replaces the audit log.
func (s *Store) SaveLogs(ctx context.Context, logs []model.LogEntry) error {
	if logs == nil {
		logs = []model.LogEntry{}
	}
	return s.setJSON(ctx, keyLogs, logs)
}

// ClearLogs wipes the audit log.
func (s *Store) ClearLogs(ctx context.Context) error {
	return s.Remove(ctx, keyLogs)
}

// RemovedExamIDs returns the ids of seed exams an admin deleted.
func (s *Store) RemovedExamIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	_, err := s.getJSON(ctx, keyRemovedExams, &ids)
	var perr *ParseError
	if errors.As(err, &perr) {
		slog.Warn("removed exam list unreadable, ignoring", "error", err)
		return nil, nil
	}
	return ids, err
}

// SaveRemovedExamIDs replaces the list of deleted seed exam ids.
func (s *Store) SaveRemovedExamIDs(ctx context.Context, ids []int64) error {
	return s.setJSON(ctx, keyRemovedExams, ids)
}
