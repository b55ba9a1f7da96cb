package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Key families.
const (
	keyUserIndex     = "user_index"
	keyExams         = "app_exams"
	keyRemovedExams  = "app_exams_removed"
	keyLogs          = "system_logs"
	prefixUser       = "user_"
	prefixHistory    = "history_"
	prefixSchedule   = "schedule_"
	prefixSession    = "session_"
	prefixCredential = "gemini_api_key_"
)

// UserKey returns the key holding a user's profile.
func UserKey(email string) string { return prefixUser + email }

// HistoryKey returns the key holding a user's exam history.
func HistoryKey(email string) string { return prefixHistory + email }

// ScheduleKey returns the key holding a user's planner entries.
func ScheduleKey(email string) string { return prefixSchedule + email }

// CredentialKey returns the key holding a session's AI credential.
func CredentialKey(token string) string { return prefixCredential + token }

// Backend is a string-keyed document store.
type Backend interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// ParseError reports a stored document that could not be decoded.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stored %s: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Store reads and writes JSON records by key. Read-modify-write sequences
// are not atomic across processes; the last writer wins. Within one
// process the shared user index is updated under indexMu and per-user
// history and schedule lists under listMu.
type Store struct {
	kv      Backend
	indexMu sync.Mutex
	listMu  sync.Mutex
}

// New wraps an already opened backend.
func New(kv Backend) *Store {
	return &Store{kv: kv}
}

// Open connects to the backend selected by driver: sqlite, postgres or redis.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		kv  Backend
		err error
	)
	switch driver {
	case "sqlite", "":
		kv, err = openSQL(ctx, "sqlite", dsn)
	case "postgres", "pgx":
		kv, err = openSQL(ctx, "pgx", dsn)
	case "redis":
		kv, err = openRedis(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("opened store", "driver", driver)
	return New(kv), nil
}

func (s *Store) Close() error {
	return s.kv.Close()
}

// Remove deletes the given keys. Missing keys are ignored.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.kv.Delete(ctx, keys...)
}

// getJSON decodes the value at key into v. It reports false if the key is missing.
func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, &ParseError{Key: key, Err: err}
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// readList decodes a JSON array stored at key, keeping only the elements
// that decode into T and pass check. A value that is not an array at all
// yields a *ParseError.
func readList[T any](ctx context.Context, s *Store, key string, check func(T) error) ([]T, error) {
	var raws []json.RawMessage
	ok, err := s.getJSON(ctx, key, &raws)
	if err != nil || !ok {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			slog.Warn("dropping malformed record", "key", key, "index", i, "error", err)
			continue
		}
		if check != nil {
			if err := check(v); err != nil {
				slog.Warn("dropping invalid record", "key", key, "index", i, "error", err)
				continue
			}
		}
		out = append(out, v)
	}
	return out, nil
}
