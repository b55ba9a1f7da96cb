// Package identity simulates sign-in for the portal. There are no
// passwords for students: a name and a grade identify a student, and the
// admin is reached through a fixed name/grade pair.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examportal/internal/audit"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

// Built-in admin identity.
const (
	AdminLoginName   = "admin"
	AdminLoginGrade  = 12
	AdminEmail       = "admin@portal.com"
	AdminDisplayName = "Sistem Yöneticisi"
)

// Defaults given to students created at sign-in.
const (
	GuestSchool   = "Misafir Okulu"
	GuestCity     = "Genel"
	GuestDistrict = "Genel"
)

var (
	// ErrInvalidLogin is returned when the name or grade is missing.
	ErrInvalidLogin = errors.New("name and grade are required")
	// ErrAdminDenied is returned when the admin passphrase does not match.
	ErrAdminDenied = errors.New("admin passphrase mismatch")
	// ErrUnknownUser is returned when a session points to a missing user.
	ErrUnknownUser = errors.New("unknown user")
	// ErrEmailTaken is returned when registering an email that exists.
	ErrEmailTaken = errors.New("email already registered")
)

// AdminUser returns the built-in admin profile.
func AdminUser() model.User {
	return model.User{
		Name:  AdminDisplayName,
		Email: AdminEmail,
		Grade: AdminLoginGrade,
		Role:  model.UserRoleAdmin,
	}
}

// Service signs users in and out.
type Service struct {
	store     *store.Store
	audit     *audit.Logger
	adminHash []byte
	now       func() time.Time
}

// New creates the identity service. A non-empty adminPassword is required
// alongside the admin name/grade pair.
func New(s *store.Store, l *audit.Logger, adminPassword string) (*Service, error) {
	svc := &Service{store: s, audit: l, now: time.Now}
	if adminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		svc.adminHash = hash
	}
	return svc, nil
}

// Session is the outcome of a successful sign-in.
type Session struct {
	User    model.User `json:"user"`
	Token   string     `json:"-"`
	Created bool       `json:"created"`
}

// IsAdminLogin reports whether name and grade select the admin identity.
func IsAdminLogin(name string, grade int) bool {
	return strings.EqualFold(strings.TrimSpace(name), AdminLoginName) && grade == AdminLoginGrade
}

// Login signs in by name and grade. An unknown student is created on the fly.
func (s *Service) Login(ctx context.Context, name string, grade int, password string, dev model.DeviceInfo) (*Session, error) {
	if IsAdminLogin(name, grade) {
		return s.loginAdmin(ctx, password, dev)
	}

	name = strings.TrimSpace(name)
	if name == "" || grade < model.MinGrade || grade > model.MaxGrade {
		return nil, ErrInvalidLogin
	}

	user, err := s.findStudent(ctx, name, grade)
	if err != nil {
		return nil, err
	}
	created := false
	if user == nil {
		u, err := s.newGuest(ctx, name, grade)
		if err != nil {
			return nil, err
		}
		if err := s.store.SaveUser(ctx, u); err != nil {
			return nil, fmt.Errorf("save user: %w", err)
		}
		s.record(ctx, model.ActionRegister, fmt.Sprintf("Yeni öğrenci: %s, %d. Sınıf", name, grade), u.Email, dev)
		user, created = &u, true
	}

	token, err := s.store.CreateSession(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	s.record(ctx, model.ActionLogin, fmt.Sprintf("%s (%d. Sınıf) sisteme giriş yaptı.", user.Name, user.Grade), user.Email, dev)
	return &Session{User: *user, Token: token, Created: created}, nil
}

func (s *Service) loginAdmin(ctx context.Context, password string, dev model.DeviceInfo) (*Session, error) {
	if s.adminHash != nil {
		if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
			s.record(ctx, model.ActionLoginFailed, "Hatalı yönetici parolası.", AdminEmail, dev)
			slog.Warn("admin login rejected", "ip", dev.IPAddress)
			return nil, ErrAdminDenied
		}
	}
	token, err := s.store.CreateSession(ctx, AdminEmail)
	if err != nil {
		return nil, err
	}
	s.record(ctx, model.ActionLogin, "Admin yetkisiyle giriş yapıldı.", AdminEmail, dev)
	return &Session{User: AdminUser(), Token: token}, nil
}

func (s *Service) findStudent(ctx context.Context, name string, grade int) (*model.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Role == model.UserRoleStudent && u.Grade == grade && strings.EqualFold(u.Name, name) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *Service) newGuest(ctx context.Context, name string, grade int) (model.User, error) {
	email, err := s.freshEmail(ctx)
	if err != nil {
		return model.User{}, err
	}
	return model.User{
		Name:         name,
		Email:        email,
		Grade:        grade,
		Role:         model.UserRoleStudent,
		RegisteredAt: s.now().UTC(),
		SchoolName:   GuestSchool,
		City:         GuestCity,
		District:     GuestDistrict,
	}, nil
}

// freshEmail derives ogrenci_<last 6 digits of unix ms>@okul.com, moving
// to the next millisecond while the address is taken.
func (s *Service) freshEmail(ctx context.Context) (string, error) {
	ms := s.now().UnixMilli()
	for range 1000 {
		email := fmt.Sprintf("ogrenci_%06d@okul.com", ms%1_000_000)
		u, err := s.store.GetUser(ctx, email)
		if err != nil {
			return "", err
		}
		if u == nil {
			return email, nil
		}
		ms++
	}
	return "", errors.New("no free student email")
}

// Register creates a student from an explicit profile and signs it in.
func (s *Service) Register(ctx context.Context, u model.User, dev model.DeviceInfo) (*Session, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Role = model.UserRoleStudent
	u.RegisteredAt = s.now().UTC()
	if u.ConsentGiven {
		at := s.now().UTC()
		u.ConsentDate = &at
	} else {
		u.ConsentDate = nil
	}
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLogin, err)
	}
	if u.Email == AdminEmail {
		return nil, ErrEmailTaken
	}
	existing, err := s.store.GetUser(ctx, u.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}
	if err := s.store.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	s.record(ctx, model.ActionRegister, fmt.Sprintf("%s kayıt oldu (%s, %s).", u.Name, u.SchoolName, u.City), u.Email, dev)

	token, err := s.store.CreateSession(ctx, u.Email)
	if err != nil {
		return nil, err
	}
	s.record(ctx, model.ActionLogin, fmt.Sprintf("%s (%d. Sınıf) sisteme giriş yaptı.", u.Name, u.Grade), u.Email, dev)
	return &Session{User: u, Token: token, Created: true}, nil
}

// Logout ends the session and forgets its cached credential.
func (s *Service) Logout(ctx context.Context, token string, dev model.DeviceInfo) error {
	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return err
	}
	if sess != nil {
		s.record(ctx, model.ActionLogout, "Kullanıcı çıkış yaptı", sess.Email, dev)
	}
	return nil
}

// Resolve returns the user behind a session token, or nil if the session
// is missing or expired.
func (s *Service) Resolve(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := s.store.GetSession(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}
	return s.UserByEmail(ctx, sess.Email)
}

// UserByEmail returns the stored user or the built-in admin.
func (s *Service) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	if email == AdminEmail {
		u := AdminUser()
		return &u, nil
	}
	u, err := s.store.GetUser(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%s: %w", email, ErrUnknownUser)
	}
	return u, nil
}

// ProfileUpdate lists the fields a user may change. Nil fields are kept.
type ProfileUpdate struct {
	Name       *string `json:"name"`
	Avatar     *string `json:"avatar"`
	SchoolName *string `json:"schoolName"`
	City       *string `json:"city"`
	District   *string `json:"district"`
}

// UpdateProfile applies p to the user. The email never changes.
func (s *Service) UpdateProfile(ctx context.Context, email string, p ProfileUpdate) (*model.User, error) {
	if email == AdminEmail {
		return nil, fmt.Errorf("admin profile is fixed: %w", ErrInvalidLogin)
	}
	u, err := s.UserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.SchoolName != nil {
		u.SchoolName = strings.TrimSpace(*p.SchoolName)
	}
	if p.City != nil {
		u.City = strings.TrimSpace(*p.City)
	}
	if p.District != nil {
		u.District = strings.TrimSpace(*p.District)
	}
	if err := s.store.SaveUser(ctx, *u); err != nil {
		return nil, err
	}
	slog.Info("updated profile", "email", email)
	return u, nil
}

func (s *Service) record(ctx context.Context, action model.Action, details, email string, dev model.DeviceInfo) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(ctx, action, details, email, dev); err != nil {
		slog.Error("audit record failed", "action", action, "error", err)
	}
}
