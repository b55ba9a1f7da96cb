// Package stats reduces exam histories to summaries, chart series and
// classmate leaderboards.
package stats

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

// AllLessons disables lesson filtering.
const AllLessons model.LessonType = "all"

// TopN is the size of the podium slice of a leaderboard.
const TopN = 3

// Summary describes a filtered set of attempts.
type Summary struct {
	Count   int     `json:"count"`
	Average int     `json:"average"`
	Max     float64 `json:"max"`
}

func matchLesson(h model.ExamHistoryItem, lesson model.LessonType) bool {
	return lesson == "" || lesson == AllLessons || h.Lesson == lesson
}

// Summarize counts the attempts for lesson (or all attempts when lesson
// is empty or "all") and reports the rounded average and best score.
func Summarize(history []model.ExamHistoryItem, lesson model.LessonType) Summary {
	var (
		s   Summary
		sum float64
	)
	for _, h := range history {
		if !matchLesson(h, lesson) {
			continue
		}
		s.Count++
		sum += h.Score
		s.Max = math.Max(s.Max, h.Score)
	}
	if s.Count > 0 {
		s.Average = int(math.Round(sum / float64(s.Count)))
	}
	return s
}

// Point is one attempt on the score trend chart.
type Point struct {
	Date  time.Time `json:"date"`
	Score float64   `json:"score"`
}

// ChartSeries projects history to points in ascending date order.
func ChartSeries(history []model.ExamHistoryItem) []Point {
	points := make([]Point, 0, len(history))
	for _, h := range history {
		points = append(points, Point{Date: h.Date, Score: h.Score})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

// Entry is one student's leaderboard row.
type Entry struct {
	Rank       int     `json:"rank"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Grade      int     `json:"grade"`
	TotalScore float64 `json:"totalScore"`
	ExamCount  int     `json:"examCount"`
}

// Board is a ranked classmate leaderboard.
type Board struct {
	Entries []Entry `json:"entries"`
	Top     []Entry `json:"top"`
	Viewer  *Entry  `json:"viewer,omitempty"`
	// ViewerOutsideTop is set when the viewer is ranked but not on the podium.
	ViewerOutsideTop bool `json:"viewerOutsideTop"`
}

// Leaderboard ranks the students of grade. Only the latest attempt per
// exam id counts toward a student's total. Ties are ordered by exam count
// descending, then name, then email.
func Leaderboard(users []model.User, histories map[string][]model.ExamHistoryItem, grade int, lesson model.LessonType, viewerEmail string) Board {
	entries := make([]Entry, 0)
	for _, u := range users {
		if u.Grade != grade || u.IsAdmin() {
			continue
		}
		total, count := latestTotals(histories[u.Email], lesson)
		entries = append(entries, Entry{
			Name:       u.Name,
			Email:      u.Email,
			Grade:      u.Grade,
			TotalScore: total,
			ExamCount:  count,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.ExamCount != b.ExamCount {
			return a.ExamCount > b.ExamCount
		}
		if an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name); an != bn {
			return an < bn
		}
		return a.Email < b.Email
	})

	board := Board{Entries: entries}
	for i := range entries {
		entries[i].Rank = i + 1
		if entries[i].Email == viewerEmail {
			e := entries[i]
			board.Viewer = &e
		}
	}
	board.Top = entries[:min(TopN, len(entries))]
	board.ViewerOutsideTop = board.Viewer != nil && board.Viewer.Rank > TopN
	return board
}

func latestTotals(history []model.ExamHistoryItem, lesson model.LessonType) (float64, int) {
	type latest struct {
		score float64
		date  time.Time
	}
	byExam := make(map[int64]latest)
	for _, h := range history {
		if !matchLesson(h, lesson) {
			continue
		}
		if cur, ok := byExam[h.ExamID]; !ok || h.Date.After(cur.date) {
			byExam[h.ExamID] = latest{score: h.Score, date: h.Date}
		}
	}
	var total float64
	for _, l := range byExam {
		total += l.score
	}
	return total, len(byExam)
}
