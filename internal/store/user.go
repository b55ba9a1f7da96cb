package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examportal/internal/model"
)

// ListUsers returns every user in the shared index. A corrupt index is
// treated as empty.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := readList(ctx, s, keyUserIndex, model.User.Validate)
	var perr *ParseError
	if errors.As(err, &perr) {
		slog.Warn("user index unreadable, using empty index", "error", err)
		return nil, nil
	}
	return users, err
}

// GetUser returns a user by email, or nil if not found.
func (s *Store) GetUser(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	ok, err := s.getJSON(ctx, UserKey(email), &u)
	var perr *ParseError
	if errors.As(err, &perr) {
		slog.Warn("user record unreadable", "email", email, "error", err)
		return nil, nil
	}
	if err != nil || !ok {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		slog.Warn("user record invalid", "email", email, "error", err)
		return nil, nil
	}
	return &u, nil
}

// SaveUser writes the user record and upserts it in the shared index.
func (s *Store) SaveUser(ctx context.Context, u model.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}
	if err := s.setJSON(ctx, UserKey(u.Email), u); err != nil {
		return err
	}
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	replaced := false
	for i := range users {
		if users[i].Email == u.Email {
			users[i] = u
			replaced = true
			break
		}
	}
	if !replaced {
		users = append(users, u)
		slog.Info("created user", "email", u.Email, "grade", u.Grade, "role", u.Role)
	}
	return s.setJSON(ctx, keyUserIndex, users)
}

// DeleteUser removes a user from the index and deletes the user's
// profile, history and schedule records. Other users are untouched.
func (s *Store) DeleteUser(ctx context.Context, email string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	kept := users[:0]
	for _, u := range users {
		if u.Email != email {
			kept = append(kept, u)
		}
	}
	if err := s.setJSON(ctx, keyUserIndex, kept); err != nil {
		return err
	}
	if err := s.Remove(ctx, UserKey(email), HistoryKey(email), ScheduleKey(email)); err != nil {
		return fmt.Errorf("remove user records: %w", err)
	}
	slog.Info("deleted user", "email", email)
	return nil
}

// UserCount returns the number of indexed users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	users, err := s.ListUsers(ctx)
	return len(users), err
}
