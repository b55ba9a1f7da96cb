package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examportal/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	// NoContext replaces an empty question context.
	NoContext = "Yok"
	// BlankAnswer replaces an unanswered question.
	BlankAnswer = "BOŞ BIRAKILDI"

	maxAnswerRunes = 10000
)

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

var (
	loadOnce   sync.Once
	loadErr    error
	systemTmpl *template.Template
	gradeTmpl  *template.Template
)

// SystemData holds template data for the grader's role prompt.
type SystemData struct {
	Grade          int
	LessonLabel    string
	QuestionWeight string
}

// QuestionData is one question as shown to the grader.
type QuestionData struct {
	ID      int
	Code    string
	Title   string
	Context string
	Text    string
	Answer  string
}

// GradeData holds template data for the exam prompt.
type GradeData struct {
	Title     string
	Questions []QuestionData
}

func load() error {
	loadOnce.Do(func() {
		var err error
		systemTmpl, err = template.ParseFS(templateFS, "templates/system.tmpl")
		if err != nil {
			loadErr = errors.New("failed to parse system prompt template: " + err.Error())
			return
		}
		gradeTmpl, err = template.ParseFS(templateFS, "templates/grade.tmpl")
		if err != nil {
			loadErr = errors.New("failed to parse grade prompt template: " + err.Error())
		}
	})
	return loadErr
}

// BuildSystemPrompt builds the grader's role instructions for exam.
func BuildSystemPrompt(exam model.Exam) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	weight := "0"
	if n := len(exam.Questions); n > 0 {
		weight = strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", 100/float64(n)), "0"), ".")
	}
	data := SystemData{
		Grade:          exam.Grade,
		LessonLabel:    exam.Lesson.Label(),
		QuestionWeight: weight,
	}
	var buf bytes.Buffer
	if err := systemTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildGradePrompt lists every question of exam with the student's answer.
// Missing context and blank answers are replaced by fixed markers.
func BuildGradePrompt(exam model.Exam, answers model.StudentAnswers) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	data := GradeData{Title: exam.FullTitle()}
	for _, q := range exam.Questions {
		ctx := strings.TrimSpace(q.Context)
		if ctx == "" {
			ctx = NoContext
		}
		data.Questions = append(data.Questions, QuestionData{
			ID:      q.ID,
			Code:    q.Code,
			Title:   q.Title,
			Context: ctx,
			Text:    q.QuestionText,
			Answer:  sanitizeAnswer(answers[q.ID]),
		})
	}
	var buf bytes.Buffer
	if err := gradeTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return BlankAnswer
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Cevap uzunluk nedeniyle kısaltıldı]"
	}

	return answer
}
