package identity

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

type demoUser struct {
	name       string
	email      string
	grade      int
	registered string
}

// demoUsers are the classmates used to populate leaderboards.
var demoUsers = []demoUser{
	{"Ali Yılmaz", "ali.yilmaz@okul.com", 5, "2024-01-15T09:00:00Z"},
	{"Zeynep Demir", "zeynep.demir@okul.com", 5, "2024-02-01T10:30:00Z"},
	{"Kerem Aktürkoğlu", "kerem.akturkoglu@okul.com", 5, "2024-03-05T14:20:00Z"},
	{"Barış Alper", "baris.alper@okul.com", 5, "2024-01-12T11:00:00Z"},
	{"Ferdi Kadıoğlu", "ferdi.kadioglu@okul.com", 5, "2024-02-28T09:15:00Z"},
	{"Semih Kılıçsoy", "semih.kilicsoy@okul.com", 5, "2024-03-10T16:45:00Z"},
	{"İsmail Yüksek", "ismail.yuksek@okul.com", 5, "2024-01-05T08:30:00Z"},
	{"Mert Günok", "mert.gunok@okul.com", 5, "2024-02-14T13:20:00Z"},
	{"Cengiz Ünder", "cengiz.under@okul.com", 5, "2024-03-01T10:10:00Z"},
	{"Hakan Çalhanoğlu", "hakan.calhanoglu@okul.com", 5, "2024-01-20T15:50:00Z"},
	{"Arda Güler", "arda.guler@okul.com", 5, "2024-02-05T12:00:00Z"},
	{"Kenan Yıldız", "kenan.yildiz@okul.com", 5, "2024-03-15T09:45:00Z"},
	{"Orkun Kökçü", "orkun.kokcu@okul.com", 5, "2024-01-25T14:30:00Z"},
	{"Salih Özcan", "salih.ozcan@okul.com", 5, "2024-02-18T11:15:00Z"},

	{"Mehmet Öz", "mehmet.oz@okul.com", 6, "2024-01-20T14:15:00Z"},
	{"Elif Kaya", "elif.kaya@okul.com", 6, "2024-03-10T08:45:00Z"},
	{"Burak Çelik", "burak.celik@okul.com", 7, "2024-01-05T11:20:00Z"},
	{"Ayşe Yıldız", "ayse.yildiz@okul.com", 7, "2024-02-15T16:00:00Z"},
	{"Caner Erkin", "caner.erkin@okul.com", 8, "2024-01-10T13:30:00Z"},
	{"Selin Aksoy", "selin.aksoy@okul.com", 8, "2024-03-01T09:15:00Z"},

	{"Baran Bulut", "baran.bulut@lise.com", 9, "2024-01-12T10:00:00Z"},
	{"Derya Deniz", "derya.deniz@lise.com", 9, "2024-02-20T15:45:00Z"},
	{"Emre Koç", "emre.koc@lise.com", 10, "2024-01-25T11:30:00Z"},
	{"Gamze Arslan", "gamze.arslan@lise.com", 10, "2024-03-05T14:00:00Z"},
	{"Hakan Şahin", "hakan.sahin@lise.com", 11, "2024-01-08T09:30:00Z"},
	{"İrem Kurt", "irem.kurt@lise.com", 11, "2024-02-10T13:45:00Z"},
	{"Kemal Sunal", "kemal.sunal@lise.com", 12, "2024-01-02T08:15:00Z"},
	{"Leyla Mecnun", "leyla.mecnun@lise.com", 12, "2024-03-12T16:30:00Z"},
}

var demoLessons = []model.LessonType{
	model.LessonTurkish,
	model.LessonMath,
	model.LessonScience,
	model.LessonSocial,
	model.LessonEnglish,
	model.LessonArabic,
	model.LessonReligious,
}

// SeedResult reports what SeedDemo wrote.
type SeedResult struct {
	Users     int `json:"users"`
	Histories int `json:"histories"`
}

// SeedDemo adds the demo classmates to the user index and gives each one a
// random history unless it already has one. Existing users are kept.
func (s *Service) SeedDemo(ctx context.Context, rng *rand.Rand) (SeedResult, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(s.now().UnixNano()), 0))
	}
	var res SeedResult
	for _, d := range demoUsers {
		existing, err := s.store.GetUser(ctx, d.email)
		if err != nil {
			return res, err
		}
		u := existing
		if u == nil {
			registered, err := time.Parse(time.RFC3339, d.registered)
			if err != nil {
				return res, fmt.Errorf("demo user %s: %w", d.email, err)
			}
			u = &model.User{
				Name:         d.name,
				Email:        d.email,
				Grade:        d.grade,
				Role:         model.UserRoleStudent,
				RegisteredAt: registered,
			}
			if err := s.store.SaveUser(ctx, *u); err != nil {
				return res, fmt.Errorf("save demo user: %w", err)
			}
			res.Users++
		}

		history, err := s.store.History(ctx, u.Email)
		if err != nil {
			return res, err
		}
		if len(history) > 0 {
			continue
		}
		for i, item := range s.mockHistory(rng, u.Grade) {
			item.ID = strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + strconv.Itoa(i)
			if err := s.store.AppendHistory(ctx, u.Email, item); err != nil {
				return res, fmt.Errorf("seed history for %s: %w", u.Email, err)
			}
		}
		res.Histories++
	}
	slog.Info("seeded demo users", "users", res.Users, "histories", res.Histories)
	return res, nil
}

// mockHistory returns 3 to 6 attempts scored 65 to 100 within the last 30 days.
func (s *Service) mockHistory(rng *rand.Rand, grade int) []model.ExamHistoryItem {
	n := rng.IntN(4) + 3
	now := s.now().UTC()
	items := make([]model.ExamHistoryItem, 0, n)
	for range n {
		lesson := demoLessons[rng.IntN(len(demoLessons))]
		score := 65 + rng.IntN(36)
		if rng.Float64() > 0.8 {
			score += 5
		}
		items = append(items, model.ExamHistoryItem{
			ExamID:    int64(rng.IntN(1000)),
			ExamTitle: fmt.Sprintf("%d. Sınıf %s Tarama", grade, lesson.Label()),
			Lesson:    lesson,
			Score:     float64(min(score, 100)),
			Date:      now.AddDate(0, 0, -rng.IntN(30)),
		})
	}
	return items
}
