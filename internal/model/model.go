package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// Grade bounds for students.
const (
	MinGrade = 5
	MaxGrade = 12
)

// LessonType identifies a school subject.
type LessonType string

const (
	LessonTurkish    LessonType = "turkish"
	LessonArabic     LessonType = "arabic"
	LessonMath       LessonType = "math"
	LessonScience    LessonType = "science"
	LessonSocial     LessonType = "social"
	LessonEnglish    LessonType = "english"
	LessonReligious  LessonType = "religious"
	LessonLiterature LessonType = "literature"
	LessonPhysics    LessonType = "physics"
	LessonChemistry  LessonType = "chemistry"
	LessonBiology    LessonType = "biology"
	LessonHistory    LessonType = "history"
	LessonGeography  LessonType = "geography"
	LessonPhilosophy LessonType = "philosophy"
)

var lessonLabels = map[LessonType]string{
	LessonTurkish:    "Türkçe",
	LessonMath:       "Matematik",
	LessonScience:    "Fen Bilimleri",
	LessonSocial:     "Sosyal Bilgiler",
	LessonEnglish:    "İngilizce",
	LessonReligious:  "Din Kültürü",
	LessonArabic:     "Arapça",
	LessonLiterature: "Türk Dili ve Edebiyatı",
	LessonPhysics:    "Fizik",
	LessonChemistry:  "Kimya",
	LessonBiology:    "Biyoloji",
	LessonHistory:    "Tarih",
	LessonGeography:  "Coğrafya",
	LessonPhilosophy: "Felsefe",
}

// Valid reports whether l is a known lesson code.
func (l LessonType) Valid() bool {
	_, ok := lessonLabels[l]
	return ok
}

// Label returns the display name of the lesson, or the raw code if unknown.
func (l LessonType) Label() string {
	if s, ok := lessonLabels[l]; ok {
		return s
	}
	return string(l)
}

// User is an identity record. Email is the primary key and never changes.
type User struct {
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Grade        int        `json:"grade"`
	Role         UserRole   `json:"role"`
	RegisteredAt time.Time  `json:"registeredAt"`
	Avatar       string     `json:"avatar,omitempty"`
	City         string     `json:"city,omitempty"`
	District     string     `json:"district,omitempty"`
	SchoolName   string     `json:"schoolName,omitempty"`
	ConsentGiven bool       `json:"consentGiven,omitempty"`
	ConsentDate  *time.Time `json:"consentDate,omitempty"`
}

// IsAdmin reports whether the user has the admin role.
func (u User) IsAdmin() bool {
	return u.Role == UserRoleAdmin
}

// Validate checks the fields every stored user must carry.
func (u User) Validate() error {
	if strings.TrimSpace(u.Email) == "" {
		return errors.New("email is required")
	}
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("name is required")
	}
	switch u.Role {
	case UserRoleAdmin:
	case UserRoleStudent:
		if u.Grade < MinGrade || u.Grade > MaxGrade {
			return fmt.Errorf("grade %d out of range", u.Grade)
		}
	default:
		return fmt.Errorf("unknown role %q", u.Role)
	}
	return nil
}

// QuestionType is the input widget a question expects.
type QuestionType string

const (
	QuestionText     QuestionType = "text"
	QuestionTextarea QuestionType = "textarea"
	QuestionFillGap  QuestionType = "fill-gap"
)

// Question belongs to exactly one exam. Its ID is unique within the exam
// and is never reassigned.
type Question struct {
	ID           int          `json:"id"`
	Code         string       `json:"code"`
	Title        string       `json:"title"`
	Context      string       `json:"context,omitempty"`
	QuestionText string       `json:"questionText,omitempty"`
	Placeholder  string       `json:"placeholder,omitempty"`
	Type         QuestionType `json:"type"`
}

// Exam is a graded assessment.
type Exam struct {
	ID          int64      `json:"id"`
	Grade       int        `json:"grade"`
	Lesson      LessonType `json:"lesson"`
	Term        int        `json:"term"`
	ExamNumber  int        `json:"examNumber"`
	Title       string     `json:"title"`
	Theme       string     `json:"theme"`
	Description string     `json:"description"`
	Questions   []Question `json:"questions"`
	IsActive    *bool      `json:"isActive,omitempty"`
	// QuestionSeq is the highest question id ever assigned in this exam.
	QuestionSeq int `json:"questionSeq,omitempty"`
}

// Active reports whether the exam is offered to students.
// Only an explicit false deactivates an exam.
func (e Exam) Active() bool {
	return e.IsActive == nil || *e.IsActive
}

// SetActive records an explicit active flag.
func (e *Exam) SetActive(active bool) {
	e.IsActive = &active
}

// FullTitle is the denormalized title stored in history records.
func (e Exam) FullTitle() string {
	return e.Title + " - " + e.Theme
}

// StudentAnswers maps question id to free-text answer for one attempt.
type StudentAnswers map[int]string

// Answered counts the questions of qs that have a non-blank answer.
func (a StudentAnswers) Answered(qs []Question) int {
	n := 0
	for _, q := range qs {
		if strings.TrimSpace(a[q.ID]) != "" {
			n++
		}
	}
	return n
}

// AICorrection is the grader's verdict on a single question.
type AICorrection struct {
	QuestionID int     `json:"questionId"`
	Score      float64 `json:"score"`
	MaxScore   float64 `json:"maxScore"`
	Feedback   string  `json:"feedback"`
	IsCorrect  bool    `json:"isCorrect"`
}

// TokenUsage is the oracle's token accounting for one grading call.
type TokenUsage struct {
	PromptTokens   int `json:"promptTokens"`
	ResponseTokens int `json:"responseTokens"`
	TotalTokens    int `json:"totalTokens"`
}

// AIExamResult is produced once per submitted attempt.
type AIExamResult struct {
	TotalScore      float64        `json:"totalScore"`
	GeneralFeedback string         `json:"generalFeedback"`
	Corrections     []AICorrection `json:"corrections"`
	Usage           *TokenUsage    `json:"usage,omitempty"`
}

// ExamHistoryItem is the permanent summary of one completed attempt.
type ExamHistoryItem struct {
	ID        string     `json:"id"`
	ExamID    int64      `json:"examId"`
	ExamTitle string     `json:"examTitle"`
	Lesson    LessonType `json:"lesson"`
	Score     float64    `json:"score"`
	Date      time.Time  `json:"date"`
}

// Validate checks a history record read back from storage.
func (h ExamHistoryItem) Validate() error {
	if h.ID == "" {
		return errors.New("history id is required")
	}
	if h.Date.IsZero() {
		return errors.New("history date is required")
	}
	if h.Score < 0 || h.Score > 100 {
		return fmt.Errorf("score %v out of range", h.Score)
	}
	return nil
}

// ScheduleItem is a personal planner entry.
type ScheduleItem struct {
	ID     string     `json:"id"`
	Lesson LessonType `json:"lesson"`
	Title  string     `json:"title"`
	Date   string     `json:"date"`
}

// ScheduleDateLayout is the layout of ScheduleItem.Date.
const ScheduleDateLayout = "2006-01-02"

// Validate checks title and date format.
func (s ScheduleItem) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("title is required")
	}
	if _, err := time.Parse(ScheduleDateLayout, s.Date); err != nil {
		return fmt.Errorf("date %q must be YYYY-MM-DD", s.Date)
	}
	return nil
}

// AuthSession is the per-browser "current user" record.
type AuthSession struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type sessionCtxKey struct{}

// ContextWithSession stores the session token in context.
func ContextWithSession(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, token)
}

// SessionFromContext retrieves the session token from context.
func SessionFromContext(ctx context.Context) string {
	t, _ := ctx.Value(sessionCtxKey{}).(string)
	return t
}

type deviceCtxKey struct{}

// ContextWithDevice stores the request's device snapshot in context.
func ContextWithDevice(ctx context.Context, d DeviceInfo) context.Context {
	return context.WithValue(ctx, deviceCtxKey{}, d)
}

// DeviceFromContext retrieves the device snapshot, or an unknown device.
func DeviceFromContext(ctx context.Context) DeviceInfo {
	if d, ok := ctx.Value(deviceCtxKey{}).(DeviceInfo); ok {
		return d
	}
	return UnknownDevice()
}
