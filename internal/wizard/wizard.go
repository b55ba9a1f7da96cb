// Package wizard narrows the exam catalog down to a concrete exam in four
// steps: grade, lesson, term/exam number, exam list.
package wizard

import (
	"errors"
	"fmt"
	"net/url"
	"slices"

	"github.com/pavelanni/examportal/internal/model"
)

// Step is a wizard state.
type Step int

const (
	StepGrade Step = iota
	StepLesson
	StepTerm
	StepExamList
)

func (s Step) String() string {
	switch s {
	case StepGrade:
		return "grade-select"
	case StepLesson:
		return "lesson-select"
	case StepTerm:
		return "term-select"
	case StepExamList:
		return "exam-list"
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

var (
	// ErrWrongStep is returned when a selection does not belong to the current step.
	ErrWrongStep = errors.New("selection not allowed at this step")
	// ErrInvalidChoice is returned for values outside the taxonomy.
	ErrInvalidChoice = errors.New("invalid choice")
)

var (
	middleSchoolLessons = []model.LessonType{
		model.LessonTurkish, model.LessonMath, model.LessonScience, model.LessonSocial,
		model.LessonEnglish, model.LessonReligious, model.LessonArabic,
	}
	highSchoolLessons = []model.LessonType{
		model.LessonLiterature, model.LessonMath, model.LessonPhysics, model.LessonChemistry,
		model.LessonBiology, model.LessonHistory, model.LessonGeography, model.LessonEnglish,
		model.LessonReligious, model.LessonPhilosophy, model.LessonArabic,
	}
)

// LessonsForGrade returns the lessons offered at a grade.
func LessonsForGrade(grade int) []model.LessonType {
	if grade <= 8 {
		return slices.Clone(middleSchoolLessons)
	}
	return slices.Clone(highSchoolLessons)
}

// TermSlot is one term/exam-number pair.
type TermSlot struct {
	Term       int `json:"term"`
	ExamNumber int `json:"examNumber"`
}

// TermSlots lists every term/exam-number pair in display order.
var TermSlots = []TermSlot{{1, 1}, {1, 2}, {2, 1}, {2, 2}}

// GradeOption is a selectable grade.
type GradeOption struct {
	Grade     int  `json:"grade"`
	Count     int  `json:"count"`
	Available bool `json:"available"`
}

// LessonOption is a selectable lesson.
type LessonOption struct {
	Lesson    model.LessonType `json:"lesson"`
	Label     string           `json:"label"`
	Count     int              `json:"count"`
	Available bool             `json:"available"`
}

// TermOption is a selectable term/exam-number pair.
type TermOption struct {
	TermSlot
	Count     int  `json:"count"`
	Available bool `json:"available"`
}

// Wizard is the selection state machine. It is not safe for concurrent use.
type Wizard struct {
	exams      []model.Exam
	fixedGrade bool

	step   Step
	grade  int
	lesson model.LessonType
	slot   TermSlot
}

// New starts a wizard over exams. A known profile grade skips the grade
// step and cannot be changed afterwards.
func New(exams []model.Exam, profileGrade int) *Wizard {
	w := &Wizard{exams: exams}
	if profileGrade >= model.MinGrade && profileGrade <= model.MaxGrade {
		w.grade = profileGrade
		w.fixedGrade = true
		w.step = StepLesson
	}
	return w
}

// Step returns the current state.
func (w *Wizard) Step() Step { return w.step }

// SelectGrade moves from grade-select to lesson-select.
func (w *Wizard) SelectGrade(grade int) error {
	if w.step != StepGrade {
		return ErrWrongStep
	}
	if grade < model.MinGrade || grade > model.MaxGrade {
		return fmt.Errorf("grade %d: %w", grade, ErrInvalidChoice)
	}
	w.grade = grade
	w.step = StepLesson
	return nil
}

// SelectLesson moves from lesson-select to term-select. Lessons without
// active exams may still be chosen; they lead to an empty list.
func (w *Wizard) SelectLesson(lesson model.LessonType) error {
	if w.step != StepLesson {
		return ErrWrongStep
	}
	if !slices.Contains(LessonsForGrade(w.grade), lesson) {
		return fmt.Errorf("lesson %q: %w", lesson, ErrInvalidChoice)
	}
	w.lesson = lesson
	w.step = StepTerm
	return nil
}

// SelectTerm moves from term-select to exam-list.
func (w *Wizard) SelectTerm(term, examNumber int) error {
	if w.step != StepTerm {
		return ErrWrongStep
	}
	slot := TermSlot{Term: term, ExamNumber: examNumber}
	if !slices.Contains(TermSlots, slot) {
		return fmt.Errorf("term %d exam %d: %w", term, examNumber, ErrInvalidChoice)
	}
	w.slot = slot
	w.step = StepExamList
	return nil
}

// CanGoBack reports whether Back would change the state.
func (w *Wizard) CanGoBack() bool {
	switch w.step {
	case StepGrade:
		return false
	case StepLesson:
		return !w.fixedGrade
	}
	return true
}

// Back moves one step backwards. It is a no-op at grade-select and at
// lesson-select when the grade comes from the profile.
func (w *Wizard) Back() {
	if !w.CanGoBack() {
		return
	}
	switch w.step {
	case StepLesson:
		w.grade = 0
	case StepTerm:
		w.lesson = ""
	case StepExamList:
		w.slot = TermSlot{}
	}
	w.step--
}

func (w *Wizard) count(match func(model.Exam) bool) int {
	n := 0
	for _, e := range w.exams {
		if e.Active() && match(e) {
			n++
		}
	}
	return n
}

// Grades lists every grade with its availability.
func (w *Wizard) Grades() []GradeOption {
	out := make([]GradeOption, 0, model.MaxGrade-model.MinGrade+1)
	for g := model.MinGrade; g <= model.MaxGrade; g++ {
		n := w.count(func(e model.Exam) bool { return e.Grade == g })
		out = append(out, GradeOption{Grade: g, Count: n, Available: n > 0})
	}
	return out
}

// Lessons lists the lessons of the chosen grade with their availability.
func (w *Wizard) Lessons() []LessonOption {
	if w.grade == 0 {
		return nil
	}
	lessons := LessonsForGrade(w.grade)
	out := make([]LessonOption, 0, len(lessons))
	for _, l := range lessons {
		n := w.count(func(e model.Exam) bool { return e.Grade == w.grade && e.Lesson == l })
		out = append(out, LessonOption{Lesson: l, Label: l.Label(), Count: n, Available: n > 0})
	}
	return out
}

// Terms lists every term/exam-number pair for the chosen grade and lesson.
func (w *Wizard) Terms() []TermOption {
	if w.lesson == "" {
		return nil
	}
	out := make([]TermOption, 0, len(TermSlots))
	for _, s := range TermSlots {
		n := w.count(func(e model.Exam) bool {
			return e.Grade == w.grade && e.Lesson == w.lesson && e.Term == s.Term && e.ExamNumber == s.ExamNumber
		})
		out = append(out, TermOption{TermSlot: s, Count: n, Available: n > 0})
	}
	return out
}

// Exams returns the active exams matching all four selections.
func (w *Wizard) Exams() []model.Exam {
	if w.step != StepExamList {
		return nil
	}
	var out []model.Exam
	for _, e := range w.exams {
		if e.Active() && e.Grade == w.grade && e.Lesson == w.lesson &&
			e.Term == w.slot.Term && e.ExamNumber == w.slot.ExamNumber {
			out = append(out, e)
		}
	}
	return out
}

// PrepVideoQuery is the search phrase for preparation videos on the
// chosen exam slot.
func (w *Wizard) PrepVideoQuery() string {
	if w.step != StepExamList {
		return ""
	}
	return fmt.Sprintf("%d. Sınıf %s %d. Dönem %d. Yazılı Hazırlık Konu Anlatımı",
		w.grade, w.lesson.Label(), w.slot.Term, w.slot.ExamNumber)
}

// View is a serializable snapshot of the wizard.
type View struct {
	Step         string           `json:"step"`
	Grade        int              `json:"grade,omitempty"`
	Lesson       model.LessonType `json:"lesson,omitempty"`
	Term         int              `json:"term,omitempty"`
	ExamNumber   int              `json:"examNumber,omitempty"`
	CanGoBack    bool             `json:"canGoBack"`
	Grades       []GradeOption    `json:"grades,omitempty"`
	Lessons      []LessonOption   `json:"lessons,omitempty"`
	Terms        []TermOption     `json:"terms,omitempty"`
	Exams        []model.Exam     `json:"exams,omitzero"`
	PrepVideoURL string           `json:"prepVideoUrl,omitempty"`
}

// View returns the options relevant to the current step.
func (w *Wizard) View() View {
	v := View{
		Step:       w.step.String(),
		Grade:      w.grade,
		Lesson:     w.lesson,
		Term:       w.slot.Term,
		ExamNumber: w.slot.ExamNumber,
		CanGoBack:  w.CanGoBack(),
	}
	switch w.step {
	case StepGrade:
		v.Grades = w.Grades()
	case StepLesson:
		v.Lessons = w.Lessons()
	case StepTerm:
		v.Terms = w.Terms()
	case StepExamList:
		v.Exams = w.Exams()
		if v.Exams == nil {
			v.Exams = []model.Exam{}
		}
		v.PrepVideoURL = "https://www.youtube.com/results?search_query=" + url.QueryEscape(w.PrepVideoQuery())
	}
	return v
}
