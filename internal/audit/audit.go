// Package audit keeps the capped activity log and mirrors events to an
// optional remote sink.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

// MaxEntries is the number of log entries kept in the store.
const MaxEntries = 500

const sinkTimeout = 10 * time.Second

// Logger records audit events.
type Logger struct {
	store *store.Store
	sink  Sink
	now   func() time.Time

	mu      sync.Mutex // serializes read-modify-write of system_logs
	pending sync.WaitGroup
}

// NewLogger creates a logger writing to s and mirroring to sink.
// A nil sink disables mirroring.
func NewLogger(s *store.Store, sink Sink) *Logger {
	if sink == nil {
		sink = NopSink{}
	}
	return &Logger{store: s, sink: sink, now: time.Now}
}

// Record prepends an entry to the log, trims it to MaxEntries and mirrors
// the entry to the sink in the background.
func (l *Logger) Record(ctx context.Context, action model.Action, details, email string, device model.DeviceInfo) (model.LogEntry, error) {
	entry := model.LogEntry{
		ID:         uuid.NewString(),
		Action:     action,
		Details:    details,
		UserEmail:  email,
		Timestamp:  l.now().UTC(),
		DeviceInfo: &device,
	}

	l.mu.Lock()
	logs, err := l.store.Logs(ctx)
	if err == nil {
		logs = append([]model.LogEntry{entry}, logs...)
		if len(logs) > MaxEntries {
			logs = logs[:MaxEntries]
		}
		err = l.store.SaveLogs(ctx, logs)
	}
	l.mu.Unlock()
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("record %s: %w", action, err)
	}

	slog.Debug("audit", "action", action, "email", email, "details", details)
	l.mirror("activity", func(ctx context.Context) error {
		return l.sink.LogActivity(ctx, entry)
	})
	return entry, nil
}

// RecordResult mirrors a graded attempt to the sink in the background.
func (l *Logger) RecordResult(rec model.ExamResultRecord) {
	l.mirror("exam result", func(ctx context.Context) error {
		return l.sink.RecordResult(ctx, rec)
	})
}

// Entries returns the stored log, newest first.
func (l *Logger) Entries(ctx context.Context) ([]model.LogEntry, error) {
	return l.store.Logs(ctx)
}

// Clear empties the stored log.
func (l *Logger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.ClearLogs(ctx)
}

// Wait blocks until every pending sink call has finished.
func (l *Logger) Wait() {
	l.pending.Wait()
}

func (l *Logger) mirror(what string, fn func(context.Context) error) {
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("audit sink failed", "record", what, "error", err)
		}
	}()
}
