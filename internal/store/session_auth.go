package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

const authSessionTTL = 24 * time.Hour

// CreateSession creates a new session token for a user.
func (s *Store) CreateSession(ctx context.Context, email string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	sess := model.AuthSession{
		Token:     token,
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(authSessionTTL),
	}
	if err := s.setJSON(ctx, prefixSession+token, sess); err != nil {
		return "", err
	}
	return token, nil
}

// GetSession returns the session for the given token, or nil if not found/expired.
func (s *Store) GetSession(ctx context.Context, token string) (*model.AuthSession, error) {
	if token == "" {
		return nil, nil
	}
	var sess model.AuthSession
	ok, err := s.getJSON(ctx, prefixSession+token, &sess)
	var perr *ParseError
	if errors.As(err, &perr) {
		slog.Warn("session unreadable, dropping it", "error", err)
		_ = s.DeleteSession(ctx, token)
		return nil, nil
	}
	if err != nil || !ok {
		return nil, err
	}
	if sess.Email == "" || time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteSession(ctx, token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteSession removes a session token and the credential cached for it.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	return s.Remove(ctx, prefixSession+token, CredentialKey(token))
}

// Credential returns the AI credential cached for a session, or "". An
// unreadable value is removed and reported as "".
func (s *Store) Credential(ctx context.Context, token string) (string, error) {
	var key string
	ok, err := s.getJSON(ctx, CredentialKey(token), &key)
	var perr *ParseError
	if errors.As(err, &perr) {
		slog.Warn("credential unreadable, discarding it", "error", err)
		if rerr := s.ClearCredential(ctx, token); rerr != nil {
			slog.Error("remove unreadable credential", "error", rerr)
		}
		return "", nil
	}
	if err != nil || !ok {
		return "", err
	}
	return strings.TrimSpace(key), nil
}

// SetCredential caches the AI credential for the whole session.
func (s *Store) SetCredential(ctx context.Context, token, key string) error {
	return s.setJSON(ctx, CredentialKey(token), strings.TrimSpace(key))
}

// ClearCredential forgets the session's AI credential.
func (s *Store) ClearCredential(ctx context.Context, token string) error {
	return s.Remove(ctx, CredentialKey(token))
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
