// Package catalog holds the exam definitions offered to students. The
// built-in seed is merged with the admin-edited copy kept in the store.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

//go:embed seed.json
var seedJSON []byte

// ErrNotFound is returned when no exam has the requested id.
var ErrNotFound = errors.New("exam not found")

// ValidationError reports an exam that cannot be accepted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Catalog reads and edits the exam list.
type Catalog struct {
	store *store.Store
	seed  []model.Exam
	now   func() time.Time

	mu sync.Mutex // serializes read-modify-write of app_exams
}

// New creates a catalog over s using the embedded seed exams.
func New(s *store.Store) (*Catalog, error) {
	var seed []model.Exam
	if err := json.Unmarshal(seedJSON, &seed); err != nil {
		return nil, fmt.Errorf("parse seed catalog: %w", err)
	}
	return &Catalog{store: s, seed: seed, now: time.Now}, nil
}

// Seed returns a copy of the built-in exams.
func (c *Catalog) Seed() []model.Exam {
	return cloneExams(c.seed)
}

// All returns the stored exams plus every seed exam whose id is not
// stored, sorted by id. A corrupt stored catalog falls back to the seed.
func (c *Catalog) All(ctx context.Context) ([]model.Exam, error) {
	stored, ok, err := c.store.StoredExams(ctx)
	var perr *store.ParseError
	if errors.As(err, &perr) {
		slog.Warn("stored catalog unreadable, using seed", "error", err)
		stored, ok, err = nil, false, nil
	}
	if err != nil {
		return nil, err
	}
	removed, err := c.store.RemovedExamIDs(ctx)
	if err != nil {
		return nil, err
	}

	exams := make([]model.Exam, 0, len(stored)+len(c.seed))
	seen := make(map[int64]bool, len(stored))
	if ok {
		for _, e := range stored {
			seen[e.ID] = true
			exams = append(exams, e)
		}
	}
	for _, e := range cloneExams(c.seed) {
		if seen[e.ID] || slices.Contains(removed, e.ID) {
			continue
		}
		exams = append(exams, e)
	}
	sort.SliceStable(exams, func(i, j int) bool { return exams[i].ID < exams[j].ID })
	return exams, nil
}

// Active returns the exams students may take.
func (c *Catalog) Active(ctx context.Context) ([]model.Exam, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, e := range all {
		if e.Active() {
			active = append(active, e)
		}
	}
	return active, nil
}

// Get returns the exam with the given id.
func (c *Catalog) Get(ctx context.Context, id int64) (model.Exam, error) {
	all, err := c.All(ctx)
	if err != nil {
		return model.Exam{}, err
	}
	for _, e := range all {
		if e.ID == id {
			return e, nil
		}
	}
	return model.Exam{}, fmt.Errorf("exam %d: %w", id, ErrNotFound)
}

// Validate checks an exam submitted by an admin.
func Validate(e model.Exam) error {
	if strings.TrimSpace(e.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if strings.TrimSpace(e.Theme) == "" {
		return &ValidationError{Field: "theme", Message: "theme is required"}
	}
	if len(e.Questions) == 0 {
		return &ValidationError{Field: "questions", Message: "at least one question is required"}
	}
	if !e.Lesson.Valid() {
		return &ValidationError{Field: "lesson", Message: fmt.Sprintf("unknown lesson %q", e.Lesson)}
	}
	if e.Grade < model.MinGrade || e.Grade > model.MaxGrade {
		return &ValidationError{Field: "grade", Message: fmt.Sprintf("grade must be between %d and %d", model.MinGrade, model.MaxGrade)}
	}
	if e.Term != 1 && e.Term != 2 {
		return &ValidationError{Field: "term", Message: "term must be 1 or 2"}
	}
	if e.ExamNumber != 1 && e.ExamNumber != 2 {
		return &ValidationError{Field: "examNumber", Message: "exam number must be 1 or 2"}
	}
	for i, q := range e.Questions {
		if strings.TrimSpace(q.Code) == "" || strings.TrimSpace(q.QuestionText) == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("questions[%d]", i),
				Message: "question code and text are required",
			}
		}
	}
	return nil
}

// Create validates e, assigns a fresh time-based id and stores it.
func (c *Catalog) Create(ctx context.Context, e model.Exam) (model.Exam, error) {
	if err := Validate(e); err != nil {
		return model.Exam{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.All(ctx)
	if err != nil {
		return model.Exam{}, err
	}
	e.ID = c.freshID(all, 0)
	e.QuestionSeq = 0
	assignQuestionIDs(&e, nil)
	all = append(all, e)
	if err := c.store.SaveExams(ctx, all); err != nil {
		return model.Exam{}, err
	}
	slog.Info("created exam", "id", e.ID, "title", e.Title, "questions", len(e.Questions))
	return e, nil
}

// Update replaces the exam with the given id. The id is preserved and
// existing question ids are kept.
func (c *Catalog) Update(ctx context.Context, id int64, e model.Exam) (model.Exam, error) {
	if err := Validate(e); err != nil {
		return model.Exam{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.All(ctx)
	if err != nil {
		return model.Exam{}, err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return model.Exam{}, fmt.Errorf("exam %d: %w", id, ErrNotFound)
	}
	prev := all[idx]
	e.ID = id
	e.QuestionSeq = prev.QuestionSeq
	assignQuestionIDs(&e, &prev)
	all[idx] = e
	if err := c.store.SaveExams(ctx, all); err != nil {
		return model.Exam{}, err
	}
	slog.Info("updated exam", "id", id, "title", e.Title, "questions", len(e.Questions))
	return e, nil
}

// Delete removes an exam. History records that mention it are unaffected.
func (c *Catalog) Delete(ctx context.Context, id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.All(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return fmt.Errorf("exam %d: %w", id, ErrNotFound)
	}
	all = slices.Delete(all, idx, idx+1)
	if err := c.store.SaveExams(ctx, all); err != nil {
		return err
	}
	if indexOf(c.seed, id) >= 0 {
		removed, err := c.store.RemovedExamIDs(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(removed, id) {
			if err := c.store.SaveRemovedExamIDs(ctx, append(removed, id)); err != nil {
				return err
			}
		}
	}
	slog.Info("deleted exam", "id", id)
	return nil
}

// ToggleActive flips the active flag. An exam without a flag counts as active.
func (c *Catalog) ToggleActive(ctx context.Context, id int64) (model.Exam, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.All(ctx)
	if err != nil {
		return model.Exam{}, err
	}
	idx := indexOf(all, id)
	if idx < 0 {
		return model.Exam{}, fmt.Errorf("exam %d: %w", id, ErrNotFound)
	}
	all[idx].SetActive(!all[idx].Active())
	if err := c.store.SaveExams(ctx, all); err != nil {
		return model.Exam{}, err
	}
	slog.Info("toggled exam", "id", id, "active", all[idx].Active())
	return all[idx], nil
}

// Export serializes the full catalog as an indented JSON array.
func (c *Catalog) Export(ctx context.Context) ([]byte, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(all, "", "  ")
}

// ExportOne serializes a single exam as a one-element JSON array so it
// can be imported back unchanged.
func (c *Catalog) ExportOne(ctx context.Context, id int64) ([]byte, error) {
	e, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent([]model.Exam{e}, "", "  ")
}

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Imported []model.Exam    `json:"imported"`
	Renamed  map[int64]int64 `json:"renamed,omitempty"`
}

// Import adds every exam in a JSON array document. An incoming exam whose
// id collides with an existing one gets a freshly minted id instead of
// overwriting it.
func (c *Catalog) Import(ctx context.Context, data []byte) (ImportResult, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return ImportResult{}, &ValidationError{Field: "document", Message: "document must be a JSON array of exams"}
	}
	incoming := make([]model.Exam, 0, len(raws))
	for i, raw := range raws {
		var e model.Exam
		if err := json.Unmarshal(raw, &e); err != nil {
			return ImportResult{}, &ValidationError{Field: fmt.Sprintf("[%d]", i), Message: err.Error()}
		}
		if err := Validate(e); err != nil {
			return ImportResult{}, fmt.Errorf("exam %d: %w", i, err)
		}
		incoming = append(incoming, e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.All(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Renamed: map[int64]int64{}}
	for i, e := range incoming {
		if e.ID <= 0 || indexOf(all, e.ID) >= 0 {
			fresh := c.freshID(all, int64(i))
			if e.ID > 0 {
				res.Renamed[e.ID] = fresh
			}
			e.ID = fresh
		}
		all = append(all, e)
		res.Imported = append(res.Imported, e)
	}
	if err := c.store.SaveExams(ctx, all); err != nil {
		return ImportResult{}, err
	}
	slog.Info("imported exams", "count", len(res.Imported), "renamed", len(res.Renamed))
	return res, nil
}

// freshID returns a time-based id not used by any exam in all.
func (c *Catalog) freshID(all []model.Exam, offset int64) int64 {
	id := c.now().UnixMilli() + offset
	for indexOf(all, id) >= 0 {
		id++
	}
	return id
}

// assignQuestionIDs gives new questions ids above every id the exam has
// ever used. Questions that already carry a known id keep it.
func assignQuestionIDs(e *model.Exam, prev *model.Exam) {
	seq := e.QuestionSeq
	known := map[int]bool{}
	if prev != nil {
		for _, q := range prev.Questions {
			known[q.ID] = true
			seq = max(seq, q.ID)
		}
	}
	for _, q := range e.Questions {
		if q.ID > 0 && (prev == nil || known[q.ID]) {
			seq = max(seq, q.ID)
		}
	}
	used := map[int]bool{}
	for i := range e.Questions {
		q := &e.Questions[i]
		keep := q.ID > 0 && !used[q.ID] && (prev == nil || known[q.ID])
		if !keep {
			seq++
			q.ID = seq
		}
		used[q.ID] = true
		if q.Type == "" {
			q.Type = model.QuestionText
		}
	}
	e.QuestionSeq = seq
}

func indexOf(exams []model.Exam, id int64) int {
	for i, e := range exams {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func cloneExams(in []model.Exam) []model.Exam {
	out := make([]model.Exam, len(in))
	for i, e := range in {
		e.Questions = slices.Clone(e.Questions)
		if e.IsActive != nil {
			v := *e.IsActive
			e.IsActive = &v
		}
		out[i] = e
	}
	return out
}
