package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pavelanni/examportal/internal/attempt"
	"github.com/pavelanni/examportal/internal/audit"
	"github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/model"
)

const (
	sessionCookieName = "session"
	sessionCookieAge  = 24 * time.Hour
)

// withDevice stores the client's device snapshot in the request context.
func withDevice(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithDevice(r.Context(), audit.DeviceFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth is middleware that checks for a valid session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}

		user, err := h.identity.Resolve(r.Context(), cookie.Value)
		if err != nil && !errors.Is(err, identity.ErrUnknownUser) {
			slog.Error("failed to resolve session", "error", err)
			writeError(w, r, http.StatusInternalServerError, "internal", "InternalError")
			return
		}
		if user == nil {
			h.clearSessionCookie(w)
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "Unauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		ctx = model.ContextWithSession(ctx, cookie.Value)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "Unauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, http.StatusForbidden, "forbidden", "Forbidden")
		})
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionCookieAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
}

type loginRequest struct {
	Name     string `json:"name"`
	Grade    int    `json:"grade"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.identity.Login(r.Context(), req.Name, req.Grade, req.Password, model.DeviceFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setSessionCookie(w, sess.Token)
	writeJSON(w, http.StatusOK, sess)
}

type registerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Grade        int    `json:"grade"`
	Avatar       string `json:"avatar"`
	City         string `json:"city"`
	District     string `json:"district"`
	SchoolName   string `json:"schoolName"`
	ConsentGiven bool   `json:"consentGiven"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := h.identity.Register(r.Context(), model.User{
		Name:         req.Name,
		Email:        req.Email,
		Grade:        req.Grade,
		Avatar:       req.Avatar,
		City:         strings.TrimSpace(req.City),
		District:     strings.TrimSpace(req.District),
		SchoolName:   strings.TrimSpace(req.SchoolName),
		ConsentGiven: req.ConsentGiven,
	}, model.DeviceFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.setSessionCookie(w, sess.Token)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := model.SessionFromContext(r.Context())
	if err := h.flow.Discard(token); err != nil && !errors.Is(err, attempt.ErrNoAttempt) {
		slog.Warn("attempt kept open at logout", "error", err)
	}
	if err := h.identity.Logout(r.Context(), token, model.DeviceFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.UserFromContext(r.Context()))
}

type profileResponse struct {
	User    *model.User `json:"user"`
	Message string      `json:"message"`
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req identity.ProfileUpdate
	if !decodeJSON(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())
	updated, err := h.identity.UpdateProfile(r.Context(), user.Email, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{User: updated, Message: i18n.T(r.Context(), "ProfileUpdated")})
}

type credentialRequest struct {
	Key string `json:"key"`
}

func (h *Handler) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		writeError(w, r, http.StatusBadRequest, "missing_credential", "MissingCredential")
		return
	}
	if err := h.store.SetCredential(r.Context(), model.SessionFromContext(r.Context()), key); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearCredential(r.Context(), model.SessionFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
