// Package admin implements the admin console: user and log management,
// dashboard figures and bulk exam import/export.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/examportal/internal/audit"
	"github.com/pavelanni/examportal/internal/catalog"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

// ErrConfirmationRequired is returned by destructive operations called
// without confirmation.
var ErrConfirmationRequired = errors.New("confirmation required")

// catalogUpdated is the log detail for every catalog change.
const catalogUpdated = "Sınav listesi güncellendi"

// recentWindow is how far back Dashboard counts new registrations.
const recentWindow = 30 * 24 * time.Hour

// Console is the admin console over the shared store.
type Console struct {
	store    *store.Store
	catalog  *catalog.Catalog
	audit    *audit.Logger
	archiver Archiver
	now      func() time.Time
}

// New creates a console. A nil archiver disables export snapshots.
func New(s *store.Store, c *catalog.Catalog, l *audit.Logger, a Archiver) *Console {
	return &Console{store: s, catalog: c, audit: l, archiver: a, now: time.Now}
}

// Actor identifies who performs an admin operation.
type Actor struct {
	Email  string
	Device model.DeviceInfo
}

// UserFilter narrows the user list. Zero values match everything.
type UserFilter struct {
	Query string
	Grade int
}

// Users returns indexed users matching f by name or email.
func (c *Console) Users(ctx context.Context, f UserFilter) ([]model.User, error) {
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		if f.Grade != 0 && u.Grade != f.Grade {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(u.Name), q) && !strings.Contains(strings.ToLower(u.Email), q) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// DeleteUser removes a user with all of their records.
func (c *Console) DeleteUser(ctx context.Context, email string, confirm bool, by Actor) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	if err := c.store.DeleteUser(ctx, email); err != nil {
		return fmt.Errorf("delete user %s: %w", email, err)
	}
	c.record(ctx, "Kullanıcı silindi: "+email, by)
	return nil
}

// LogFilter narrows the log view. Zero values match everything.
type LogFilter struct {
	Query  string
	Action model.Action
}

// Logs returns log entries, newest first, whose email, details or IP
// contain the query and whose action matches.
func (c *Console) Logs(ctx context.Context, f LogFilter) ([]model.LogEntry, error) {
	entries, err := c.audit.Entries(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]model.LogEntry, 0, len(entries))
	for _, e := range entries {
		if f.Action != "" && f.Action != "all" && e.Action != f.Action {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(e.UserEmail), q) &&
			!strings.Contains(strings.ToLower(e.Details), q) &&
			!strings.Contains(e.IPAddress(), q) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Actions returns the distinct actions present in the log, in order of
// first appearance.
func (c *Console) Actions(ctx context.Context) ([]model.Action, error) {
	entries, err := c.audit.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Action
	for _, e := range entries {
		if !slices.Contains(out, e.Action) {
			out = append(out, e.Action)
		}
	}
	return out, nil
}

// ClearLogs wipes the log.
func (c *Console) ClearLogs(ctx context.Context, confirm bool, by Actor) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	if err := c.audit.Clear(ctx); err != nil {
		return err
	}
	slog.Info("cleared system logs", "by", by.Email)
	return nil
}

// Dashboard holds the admin overview figures.
type Dashboard struct {
	TotalUsers     int `json:"totalUsers"`
	TotalAttempts  int `json:"totalAttempts"`
	AverageScore   int `json:"averageScore"`
	RecentUsers    int `json:"recentUsers"`
	TotalQuestions int `json:"totalQuestions"`
	TotalExams     int `json:"totalExams"`
	ActiveExams    int `json:"activeExams"`
}

// Dashboard computes the overview over all users and exams.
func (c *Console) Dashboard(ctx context.Context) (Dashboard, error) {
	var d Dashboard
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return d, err
	}
	d.TotalUsers = len(users)

	cutoff := c.now().Add(-recentWindow)
	var total float64
	for _, u := range users {
		if u.RegisteredAt.After(cutoff) {
			d.RecentUsers++
		}
		history, err := c.store.History(ctx, u.Email)
		if err != nil {
			return d, err
		}
		d.TotalAttempts += len(history)
		for _, h := range history {
			total += h.Score
		}
	}
	if d.TotalAttempts > 0 {
		d.AverageScore = int(math.Round(total / float64(d.TotalAttempts)))
	}

	exams, err := c.catalog.All(ctx)
	if err != nil {
		return d, err
	}
	d.TotalExams = len(exams)
	for _, e := range exams {
		d.TotalQuestions += len(e.Questions)
		if e.Active() {
			d.ActiveExams++
		}
	}
	return d, nil
}

// Exams returns the whole catalog, active or not.
func (c *Console) Exams(ctx context.Context) ([]model.Exam, error) {
	return c.catalog.All(ctx)
}

// CreateExam adds an exam to the catalog.
func (c *Console) CreateExam(ctx context.Context, e model.Exam, by Actor) (model.Exam, error) {
	created, err := c.catalog.Create(ctx, e)
	if err != nil {
		return model.Exam{}, err
	}
	c.record(ctx, catalogUpdated, by)
	return created, nil
}

// UpdateExam replaces exam id.
func (c *Console) UpdateExam(ctx context.Context, id int64, e model.Exam, by Actor) (model.Exam, error) {
	updated, err := c.catalog.Update(ctx, id, e)
	if err != nil {
		return model.Exam{}, err
	}
	c.record(ctx, catalogUpdated, by)
	return updated, nil
}

// DeleteExam removes exam id. Past attempts keep their history records.
func (c *Console) DeleteExam(ctx context.Context, id int64, confirm bool, by Actor) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	if err := c.catalog.Delete(ctx, id); err != nil {
		return err
	}
	c.record(ctx, catalogUpdated, by)
	return nil
}

// ToggleExam flips the active flag of exam id.
func (c *Console) ToggleExam(ctx context.Context, id int64, by Actor) (model.Exam, error) {
	e, err := c.catalog.ToggleActive(ctx, id)
	if err != nil {
		return model.Exam{}, err
	}
	c.record(ctx, catalogUpdated, by)
	return e, nil
}

// ExportExams returns the whole catalog as an indented JSON array and,
// when an archiver is configured, stores a snapshot of it.
func (c *Console) ExportExams(ctx context.Context) ([]byte, error) {
	data, err := c.catalog.Export(ctx)
	if err != nil {
		return nil, err
	}
	if c.archiver != nil {
		name := ExportObjectName(c.now())
		if err := c.archiver.Archive(ctx, name, data); err != nil {
			slog.Warn("export snapshot failed", "object", name, "error", err)
		} else {
			slog.Info("archived catalog export", "object", name, "bytes", len(data))
		}
	}
	return data, nil
}

// ExportExam returns one exam as a single-element JSON array.
func (c *Console) ExportExam(ctx context.Context, id int64) ([]byte, error) {
	return c.catalog.ExportOne(ctx, id)
}

// ImportExams adds the exams in data to the catalog.
func (c *Console) ImportExams(ctx context.Context, data []byte, by Actor) (catalog.ImportResult, error) {
	res, err := c.catalog.Import(ctx, data)
	if err != nil {
		return res, err
	}
	c.record(ctx, catalogUpdated, by)
	return res, nil
}

func (c *Console) record(ctx context.Context, details string, by Actor) {
	if _, err := c.audit.Record(ctx, model.ActionAdmin, details, by.Email, by.Device); err != nil {
		slog.Error("audit record failed", "action", model.ActionAdmin, "error", err)
	}
}
