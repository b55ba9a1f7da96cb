// Package attempt runs the exam-taking flow: it collects answers for the
// exam a session has open, gates submission and hands the attempt to the
// grading gateway.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/examportal/internal/audit"
	"github.com/pavelanni/examportal/internal/llm"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

var (
	// ErrNoAttempt is returned when the session has no open exam.
	ErrNoAttempt = errors.New("no exam in progress")
	// ErrInFlight is returned while the session's attempt is being graded.
	ErrInFlight = errors.New("grading already in progress")
	// ErrNotConfirmed is returned by Submit without confirmation.
	ErrNotConfirmed = errors.New("submission not confirmed")
	// ErrExamUnavailable is returned when starting an inactive exam.
	ErrExamUnavailable = errors.New("exam is not active")
	// ErrUnknownQuestion is returned when answering a question the exam lacks.
	ErrUnknownQuestion = errors.New("question not in exam")
)

// Readiness classifies an attempt before submission.
type Readiness string

const (
	ReadinessBlank    Readiness = "blank"
	ReadinessPartial  Readiness = "partial"
	ReadinessComplete Readiness = "complete"
)

// Classify returns exactly one readiness for answered of total questions.
func Classify(answered, total int) Readiness {
	switch {
	case answered <= 0:
		return ReadinessBlank
	case answered < total:
		return ReadinessPartial
	default:
		return ReadinessComplete
	}
}

// Status is the submission gate shown before confirming.
type Status struct {
	Readiness Readiness `json:"readiness"`
	Answered  int       `json:"answered"`
	Total     int       `json:"total"`
	InFlight  bool      `json:"inFlight"`
}

// Attempt is the open exam of one session.
type Attempt struct {
	Exam      model.Exam           `json:"exam"`
	Answers   model.StudentAnswers `json:"answers"`
	StartedAt time.Time            `json:"startedAt"`
	inFlight  bool
}

func (a *Attempt) status() Status {
	answered := a.Answers.Answered(a.Exam.Questions)
	return Status{
		Readiness: Classify(answered, len(a.Exam.Questions)),
		Answered:  answered,
		Total:     len(a.Exam.Questions),
		InFlight:  a.inFlight,
	}
}

func (a *Attempt) snapshot() Attempt {
	answers := make(model.StudentAnswers, len(a.Answers))
	for k, v := range a.Answers {
		answers[k] = v
	}
	return Attempt{Exam: a.Exam, Answers: answers, StartedAt: a.StartedAt, inFlight: a.inFlight}
}

// Grader scores an attempt. *llm.Gateway implements it.
type Grader interface {
	Evaluate(ctx context.Context, exam model.Exam, answers model.StudentAnswers, credential string) (*model.AIExamResult, error)
}

// ExamSource looks up exams by id. *catalog.Catalog implements it.
type ExamSource interface {
	Get(ctx context.Context, id int64) (model.Exam, error)
}

// Outcome is a graded attempt.
type Outcome struct {
	Result  model.AIExamResult    `json:"result"`
	History model.ExamHistoryItem `json:"history"`
}

// Flow holds the open attempts of all sessions.
type Flow struct {
	exams             ExamSource
	store             *store.Store
	audit             *audit.Logger
	grader            Grader
	defaultCredential string
	now               func() time.Time

	mu       sync.Mutex
	attempts map[string]*Attempt
}

// New creates a flow. defaultCredential is used when a session has not
// supplied its own.
func New(exams ExamSource, s *store.Store, l *audit.Logger, g Grader, defaultCredential string) *Flow {
	return &Flow{
		exams:             exams,
		store:             s,
		audit:             l,
		grader:            g,
		defaultCredential: strings.TrimSpace(defaultCredential),
		now:               time.Now,
		attempts:          make(map[string]*Attempt),
	}
}

// Start opens exam id for the session, replacing any previous attempt.
func (f *Flow) Start(ctx context.Context, token string, user model.User, id int64, dev model.DeviceInfo) (Attempt, error) {
	exam, err := f.exams.Get(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	if !exam.Active() {
		return Attempt{}, ErrExamUnavailable
	}

	f.mu.Lock()
	if cur, ok := f.attempts[token]; ok && cur.inFlight {
		f.mu.Unlock()
		return Attempt{}, ErrInFlight
	}
	a := &Attempt{Exam: exam, Answers: model.StudentAnswers{}, StartedAt: f.now().UTC()}
	f.attempts[token] = a
	snap := a.snapshot()
	f.mu.Unlock()

	f.record(ctx, model.ActionExamStart, exam.FullTitle()+" sınavına başlandı", user.Email, dev)
	slog.Info("started exam", "email", user.Email, "exam_id", exam.ID)
	return snap, nil
}

// Current returns the session's open attempt.
func (f *Flow) Current(token string) (Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[token]
	if !ok {
		return Attempt{}, ErrNoAttempt
	}
	return a.snapshot(), nil
}

// Answer overwrites the answer to one question.
func (f *Flow) Answer(token string, questionID int, text string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[token]
	if !ok {
		return Status{}, ErrNoAttempt
	}
	if a.inFlight {
		return Status{}, ErrInFlight
	}
	if !hasQuestion(a.Exam, questionID) {
		return Status{}, fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	a.Answers[questionID] = text
	return a.status(), nil
}

// Readiness reports how complete the session's attempt is.
func (f *Flow) Readiness(token string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[token]
	if !ok {
		return Status{}, ErrNoAttempt
	}
	return a.status(), nil
}

// Discard drops the open attempt. It fails while grading is in flight.
func (f *Flow) Discard(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[token]
	if !ok {
		return ErrNoAttempt
	}
	if a.inFlight {
		return ErrInFlight
	}
	delete(f.attempts, token)
	return nil
}

// Submit grades the open attempt. Only one submission per session runs at
// a time. On success the attempt is closed and recorded in the user's
// history; on failure it stays open for another try.
func (f *Flow) Submit(ctx context.Context, token string, user model.User, confirm bool, dev model.DeviceInfo) (*Outcome, error) {
	f.mu.Lock()
	a, ok := f.attempts[token]
	if !ok {
		f.mu.Unlock()
		return nil, ErrNoAttempt
	}
	if a.inFlight {
		f.mu.Unlock()
		return nil, ErrInFlight
	}
	if !confirm {
		f.mu.Unlock()
		return nil, ErrNotConfirmed
	}
	a.inFlight = true
	snap := a.snapshot()
	f.mu.Unlock()

	res, err := f.grade(ctx, token, snap)

	f.mu.Lock()
	a.inFlight = false
	if err == nil && f.attempts[token] == a {
		delete(f.attempts, token)
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	now := f.now().UTC()
	item := model.ExamHistoryItem{
		ID:        strconv.FormatInt(now.UnixMilli(), 10),
		ExamID:    snap.Exam.ID,
		ExamTitle: snap.Exam.FullTitle(),
		Lesson:    snap.Exam.Lesson,
		Score:     res.TotalScore,
		Date:      now,
	}
	if err := f.store.AppendHistory(ctx, user.Email, item); err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}
	f.record(ctx, model.ActionExamFinish, fmt.Sprintf("%s tamamlandı. Puan: %s", snap.Exam.Title, formatScore(res.TotalScore)), user.Email, dev)
	if f.audit != nil {
		f.audit.RecordResult(model.NewExamResultRecord(user, dev, snap.Exam, *res, now))
	}
	return &Outcome{Result: *res, History: item}, nil
}

func (f *Flow) grade(ctx context.Context, token string, a Attempt) (*model.AIExamResult, error) {
	credential, err := f.store.Credential(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("read credential: %w", err)
	}
	if credential == "" {
		credential = f.defaultCredential
	}
	res, err := f.grader.Evaluate(ctx, a.Exam, a.Answers, credential)
	if err != nil {
		if kind, _ := llm.KindOf(err); kind == llm.KindInvalidCredential {
			if cerr := f.store.ClearCredential(ctx, token); cerr != nil {
				slog.Error("clear credential failed", "error", cerr)
			}
		}
		return nil, err
	}
	return res, nil
}

func (f *Flow) record(ctx context.Context, action model.Action, details, email string, dev model.DeviceInfo) {
	if f.audit == nil {
		return
	}
	if _, err := f.audit.Record(ctx, action, details, email, dev); err != nil {
		slog.Error("audit record failed", "action", action, "error", err)
	}
}

func hasQuestion(e model.Exam, id int) bool {
	for _, q := range e.Questions {
		if q.ID == id {
			return true
		}
	}
	return false
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
