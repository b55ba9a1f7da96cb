package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/examportal/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testUser(email string, grade int) model.User {
	return model.User{
		Name:         "Student " + email,
		Email:        email,
		Grade:        grade,
		Role:         model.UserRoleStudent,
		RegisteredAt: time.Now().UTC(),
	}
}

func TestRawKeyValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.kv.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected missing key")
	}

	if err := s.kv.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.kv.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	v, ok, err := s.kv.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if v != "v2" {
		t.Errorf("expected v2, got %q", v)
	}

	if err := s.Remove(ctx, "k", "never-existed"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := s.kv.Get(ctx, "k"); ok {
		t.Error("expected key removed")
	}
}

func TestGetJSONParseError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.kv.Set(ctx, "broken", "{not json"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v map[string]any
	_, err := s.getJSON(ctx, "broken", &v)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if perr.Key != "broken" {
		t.Errorf("expected key 'broken', got %q", perr.Key)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetUser(ctx, "nobody@okul.com")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil user, got %+v", u)
	}

	if err := s.SaveUser(ctx, testUser("a@okul.com", 5)); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	if err := s.SaveUser(ctx, testUser("b@okul.com", 6)); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	updated := testUser("a@okul.com", 5)
	updated.SchoolName = "Atatürk Ortaokulu"
	if err := s.SaveUser(ctx, updated); err != nil {
		t.Fatalf("SaveUser update: %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].SchoolName != "Atatürk Ortaokulu" {
		t.Errorf("expected index entry updated, got %q", users[0].SchoolName)
	}

	got, err := s.GetUser(ctx, "a@okul.com")
	if err != nil || got == nil {
		t.Fatalf("GetUser: %v %v", got, err)
	}
	if got.Grade != 5 {
		t.Errorf("expected grade 5, got %d", got.Grade)
	}

	if err := s.SaveUser(ctx, model.User{Email: "bad@okul.com", Name: "x", Role: model.UserRoleStudent, Grade: 3}); err == nil {
		t.Error("expected grade validation error")
	}
}

func TestDeleteUserCascade(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, email := range []string{"a@okul.com", "b@okul.com"} {
		if err := s.SaveUser(ctx, testUser(email, 7)); err != nil {
			t.Fatalf("SaveUser: %v", err)
		}
		item := model.ExamHistoryItem{ID: "1", ExamID: 301, ExamTitle: "t", Lesson: model.LessonMath, Score: 80, Date: time.Now()}
		if err := s.AppendHistory(ctx, email, item); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
		sched := []model.ScheduleItem{{ID: "s1", Lesson: model.LessonMath, Title: "Matematik 1. Yazılı", Date: "2026-11-02"}}
		if err := s.SaveSchedule(ctx, email, sched); err != nil {
			t.Fatalf("SaveSchedule: %v", err)
		}
	}

	if err := s.DeleteUser(ctx, "a@okul.com"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	for _, key := range []string{UserKey("a@okul.com"), HistoryKey("a@okul.com"), ScheduleKey("a@okul.com")} {
		if _, ok, _ := s.kv.Get(ctx, key); ok {
			t.Errorf("expected %s removed", key)
		}
	}
	for _, key := range []string{UserKey("b@okul.com"), HistoryKey("b@okul.com"), ScheduleKey("b@okul.com")} {
		if _, ok, _ := s.kv.Get(ctx, key); !ok {
			t.Errorf("expected %s kept", key)
		}
	}
	users, _ := s.ListUsers(ctx)
	if len(users) != 1 || users[0].Email != "b@okul.com" {
		t.Errorf("expected only b@okul.com in index, got %+v", users)
	}
}

func TestHistoryDropsInvalidRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	raw := `[
		{"id":"1","examId":301,"examTitle":"ok","lesson":"math","score":70,"date":"2026-01-02T10:00:00Z"},
		{"id":"","examId":302,"score":50,"date":"2026-01-03T10:00:00Z"},
		"garbage",
		{"id":"3","examId":303,"score":140,"date":"2026-01-04T10:00:00Z"}
	]`
	if err := s.kv.Set(ctx, HistoryKey("a@okul.com"), raw); err != nil {
		t.Fatalf("Set: %v", err)
	}
	items, err := s.History(ctx, "a@okul.com")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1" {
		t.Errorf("expected only record 1, got %+v", items)
	}

	if err := s.kv.Set(ctx, HistoryKey("b@okul.com"), `{"not":"a list"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	items, err = s.History(ctx, "b@okul.com")
	if err != nil {
		t.Fatalf("History on corrupt value: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty history, got %d", len(items))
	}
}

func TestConcurrentAppendHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item := model.ExamHistoryItem{ID: strconv.Itoa(i), ExamID: 301, ExamTitle: "t", Lesson: model.LessonMath, Score: 50, Date: time.Now()}
			if err := s.AppendHistory(ctx, "a@okul.com", item); err != nil {
				t.Errorf("AppendHistory: %v", err)
			}
		}()
	}
	wg.Wait()

	items, err := s.History(ctx, "a@okul.com")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(items) != n {
		t.Errorf("expected %d attempts, got %d", n, len(items))
	}
}

func TestUpdateSchedule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.UpdateSchedule(ctx, "a@okul.com", func(items []model.ScheduleItem) ([]model.ScheduleItem, error) {
				return append(items, model.ScheduleItem{ID: strconv.Itoa(i), Title: "Yazılı", Date: "2026-11-01"}), nil
			})
			if err != nil {
				t.Errorf("UpdateSchedule: %v", err)
			}
		}()
	}
	wg.Wait()

	boom := errors.New("boom")
	err := s.UpdateSchedule(ctx, "a@okul.com", func([]model.ScheduleItem) ([]model.ScheduleItem, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	items, err := s.Schedule(ctx, "a@okul.com")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(items) != n {
		t.Errorf("expected %d entries, got %d", n, len(items))
	}
}

func TestScheduleSortedByDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := []model.ScheduleItem{
		{ID: "2", Lesson: model.LessonMath, Title: "later", Date: "2026-12-01"},
		{ID: "1", Lesson: model.LessonTurkish, Title: "sooner", Date: "2026-11-01"},
	}
	if err := s.SaveSchedule(ctx, "a@okul.com", items); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}
	got, err := s.Schedule(ctx, "a@okul.com")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" {
		t.Errorf("expected sorted schedule, got %+v", got)
	}
}

func TestStoredExams(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.StoredExams(ctx)
	if err != nil || ok {
		t.Fatalf("expected no stored exams, ok=%v err=%v", ok, err)
	}

	if err := s.kv.Set(ctx, keyExams, `"oops"`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_, _, err = s.StoredExams(ctx)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}

	exams := []model.Exam{{ID: 1, Grade: 5, Lesson: model.LessonMath, Term: 1, ExamNumber: 1, Title: "A", Theme: "B"}}
	if err := s.SaveExams(ctx, exams); err != nil {
		t.Fatalf("SaveExams: %v", err)
	}
	got, ok, err := s.StoredExams(ctx)
	if err != nil || !ok {
		t.Fatalf("StoredExams: ok=%v err=%v", ok, err)
	}
	if len(got) != 1 || got[0].Title != "A" {
		t.Errorf("unexpected exams %+v", got)
	}
}

func TestSessionAndCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token, err := s.CreateSession(ctx, "a@okul.com")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := s.GetSession(ctx, token)
	if err != nil || sess == nil {
		t.Fatalf("GetSession: %v %v", sess, err)
	}
	if sess.Email != "a@okul.com" {
		t.Errorf("expected email a@okul.com, got %q", sess.Email)
	}

	if err := s.SetCredential(ctx, token, "  secret-key "); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	key, err := s.Credential(ctx, token)
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if key != "secret-key" {
		t.Errorf("expected trimmed key, got %q", key)
	}

	if err := s.DeleteSession(ctx, token); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	sess, _ = s.GetSession(ctx, token)
	if sess != nil {
		t.Error("expected session removed")
	}
	key, _ = s.Credential(ctx, token)
	if key != "" {
		t.Error("expected credential removed with session")
	}
}

func TestUnreadableSessionData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.kv.Set(ctx, CredentialKey("tok"), "{not json"); err != nil {
		t.Fatal(err)
	}
	key, err := s.Credential(ctx, "tok")
	if err != nil {
		t.Fatalf("Credential: %v", err)
	}
	if key != "" {
		t.Errorf("expected empty credential, got %q", key)
	}
	if _, ok, _ := s.kv.Get(ctx, CredentialKey("tok")); ok {
		t.Error("expected unreadable credential to be removed")
	}

	if err := s.kv.Set(ctx, prefixSession+"tok", "[1,2"); err != nil {
		t.Fatal(err)
	}
	sess, err := s.GetSession(ctx, "tok")
	if err != nil || sess != nil {
		t.Fatalf("expected no session and no error, got %v %v", sess, err)
	}
	if _, ok, _ := s.kv.Get(ctx, prefixSession+"tok"); ok {
		t.Error("expected unreadable session to be removed")
	}
}

func TestRebind(t *testing.T) {
	b := &sqlBackend{dollar: true}
	got := b.rebind(`INSERT INTO kv (key, value) VALUES (?, ?)`)
	if got != `INSERT INTO kv (key, value) VALUES ($1, $2)` {
		t.Errorf("unexpected rebind %q", got)
	}
	b.dollar = false
	if got := b.rebind(`SELECT ?`); got != `SELECT ?` {
		t.Errorf("expected unchanged query, got %q", got)
	}
}
