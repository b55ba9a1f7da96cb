package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examportal/internal/admin"
	"github.com/pavelanni/examportal/internal/attempt"
	"github.com/pavelanni/examportal/internal/audit"
	"github.com/pavelanni/examportal/internal/catalog"
	"github.com/pavelanni/examportal/internal/i18n"
	"github.com/pavelanni/examportal/internal/identity"
	"github.com/pavelanni/examportal/internal/llm"
	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/stats"
	"github.com/pavelanni/examportal/internal/store"
	"github.com/pavelanni/examportal/internal/wizard"
)

const gradedReply = `{
	"totalScore": 82.5,
	"generalFeedback": "Güzel",
	"corrections": [
		{"questionId": 1, "score": 100, "maxScore": 25, "feedback": "Doğru", "isCorrect": true}
	]
}`

type testEnv struct {
	router http.Handler
	store  *store.Store
	mock   *llm.MockProvider
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	require.NoError(t, i18n.Init("tr"))

	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	c, err := catalog.New(s)
	require.NoError(t, err)
	l := audit.NewLogger(s, nil)
	id, err := identity.New(s, l, "")
	require.NoError(t, err)

	mock := llm.NewMockProvider()
	g := llm.NewGatewayWithFactory("mock-http", func(context.Context, string) (llm.Provider, error) {
		return mock, nil
	})
	h, err := New(Services{
		Store:    s,
		Identity: id,
		Catalog:  c,
		Flow:     attempt.New(c, s, l, g, "server-key"),
		Admin:    admin.New(s, c, l, nil),
	}, cfg)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(Metrics)
	r.Use(i18n.Middleware)
	h.Routes(r)
	return &testEnv{router: r, store: s, mock: mock}
}

func (e *testEnv) do(t *testing.T, method, target string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Accept-Language", "en")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, name string, grade int) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/login", loginRequest{Name: name, Grade: grade}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresServices(t *testing.T) {
	_, err := New(Services{}, Config{})
	assert.Error(t, err)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `examportal_http_requests_total{method="GET",route="/healthz",status="200"}`)
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t, Config{SecureCookies: true})

	rec := env.do(t, http.MethodGet, "/api/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[errorBody](t, rec).Kind)

	rec = env.do(t, http.MethodPost, "/api/login", loginRequest{Name: " ", Grade: 5}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "invalid_login", body.Kind)
	assert.Equal(t, "Please enter your name and choose your grade.", body.Error)

	rec = env.do(t, http.MethodPost, "/api/login", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cookie := env.login(t, "Ali Yılmaz", 5)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)

	rec = env.do(t, http.MethodGet, "/api/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[model.User](t, rec)
	assert.Equal(t, "Ali Yılmaz", me.Name)
	assert.Equal(t, 5, me.Grade)
	assert.Equal(t, identity.GuestSchool, me.SchoolName)

	name := "Ali Can Yılmaz"
	rec = env.do(t, http.MethodPut, "/api/me", identity.ProfileUpdate{Name: &name}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	prof := decode[profileResponse](t, rec)
	assert.Equal(t, name, prof.User.Name)
	assert.Equal(t, "Profile updated!", prof.Message)
}

func TestRegisterConflict(t *testing.T) {
	env := newTestEnv(t, Config{})
	req := registerRequest{
		Name: "Zeynep Demir", Email: "Zeynep@Okul.com", Grade: 6,
		City: "Ankara", District: "Çankaya", SchoolName: "Atatürk Ortaokulu", ConsentGiven: true,
	}

	rec := env.do(t, http.MethodPost, "/api/register", req, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sess := decode[identity.Session](t, rec)
	assert.Equal(t, "zeynep@okul.com", sess.User.Email)
	assert.NotNil(t, sess.User.ConsentDate)

	rec = env.do(t, http.MethodPost, "/api/register", req, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email_taken", decode[errorBody](t, rec).Kind)
}

func TestLogoutEndsSession(t *testing.T) {
	env := newTestEnv(t, Config{})
	cookie := env.login(t, "Veli", 7)

	rec := env.do(t, http.MethodPut, "/api/credential", credentialRequest{Key: "user-key"}, cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/logout", nil, cookie)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	key, err := env.store.Credential(context.Background(), cookie.Value)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestStudentCannotReachAdmin(t *testing.T) {
	env := newTestEnv(t, Config{})
	cookie := env.login(t, "Ali", 5)

	rec := env.do(t, http.MethodGet, "/api/admin/dashboard", nil, cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You are not allowed to do this.", decode[errorBody](t, rec).Error)
}

func TestWizard(t *testing.T) {
	env := newTestEnv(t, Config{})
	student := env.login(t, "Ali", 5)
	adminCookie := env.login(t, identity.AdminLoginName, identity.AdminLoginGrade)

	tests := []struct {
		name   string
		cookie *http.Cookie
		query  string
		status int
		step   string
	}{
		{"student starts at lesson", student, "", http.StatusOK, "lesson-select"},
		{"student picks lesson", student, "?lesson=math", http.StatusOK, "term-select"},
		{"student reaches list", student, "?lesson=math&term=1&examNumber=1", http.StatusOK, "exam-list"},
		{"student cannot pick grade", student, "?grade=7", http.StatusOK, "lesson-select"},
		{"high school lesson at grade 5", student, "?lesson=physics", http.StatusBadRequest, ""},
		{"bad slot", student, "?lesson=math&term=3&examNumber=1", http.StatusBadRequest, ""},
		{"admin starts at grade", adminCookie, "", http.StatusOK, "grade-select"},
		{"admin picks grade", adminCookie, "?grade=5&lesson=turkish", http.StatusOK, "term-select"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/wizard"+tt.query, nil, tt.cookie)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.step != "" {
				assert.Equal(t, tt.step, decode[wizard.View](t, rec).Step)
			}
		})
	}

	rec := env.do(t, http.MethodGet, "/api/wizard?lesson=math&term=1&examNumber=1", nil, student)
	v := decode[wizard.View](t, rec)
	require.Len(t, v.Exams, 1)
	assert.Equal(t, int64(301), v.Exams[0].ID)
	assert.NotEmpty(t, v.PrepVideoURL)
}

type readinessBody struct {
	attempt.Status
	Confirm confirmation `json:"confirm"`
}

func TestExamFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	cookie := env.login(t, "Ali", 5)

	rec := env.do(t, http.MethodGet, "/api/attempt/readiness", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_attempt", decode[errorBody](t, rec).Kind)

	rec = env.do(t, http.MethodPost, "/api/exams/301/start", nil, cookie)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/attempt/readiness", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[readinessBody](t, rec)
	assert.Equal(t, attempt.ReadinessBlank, ready.Readiness)
	assert.Equal(t, "Are you sure?", ready.Confirm.Title)

	rec = env.do(t, http.MethodPut, "/api/attempt/answers/1", answerRequest{Answer: "5 milyon"}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, attempt.Status{Readiness: attempt.ReadinessPartial, Answered: 1, Total: 5}, decode[attempt.Status](t, rec))

	rec = env.do(t, http.MethodPut, "/api/attempt/answers/99", answerRequest{Answer: "x"}, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_question", decode[errorBody](t, rec).Kind)

	rec = env.do(t, http.MethodPost, "/api/attempt/submit", submitRequest{}, cookie)
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)
	ready = decode[readinessBody](t, rec)
	assert.Equal(t, "You answered only 1 of 5 questions. Do you want to finish the exam like this?", ready.Confirm.Message)
	assert.Zero(t, env.mock.CallCount())

	env.mock.AddResponse(llm.MockResponse{Content: json.RawMessage(gradedReply)})
	rec = env.do(t, http.MethodPost, "/api/attempt/submit", submitRequest{Confirm: true}, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[attempt.Outcome](t, rec)
	assert.InDelta(t, 82.5, out.Result.TotalScore, 0.001)
	assert.Equal(t, int64(301), out.History.ExamID)

	rec = env.do(t, http.MethodGet, "/api/attempt", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/history?lesson=math", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[historyResponse](t, rec)
	assert.Equal(t, 1, hist.Summary.Count)
	assert.Len(t, hist.Items, 1)
	assert.Len(t, hist.Chart, 1)

	rec = env.do(t, http.MethodGet, "/api/history?lesson=turkish", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[historyResponse](t, rec).Items)

	rec = env.do(t, http.MethodGet, "/api/leaderboard", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[stats.Board](t, rec)
	require.NotNil(t, board.Viewer)
	assert.Equal(t, 1, board.Viewer.Rank)
}

func TestStartInactiveExam(t *testing.T) {
	env := newTestEnv(t, Config{})
	adminCookie := env.login(t, identity.AdminLoginName, identity.AdminLoginGrade)
	student := env.login(t, "Ali", 5)

	rec := env.do(t, http.MethodPost, "/api/admin/exams/302/toggle", nil, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[model.Exam](t, rec).Active())

	rec = env.do(t, http.MethodGet, "/api/exams/302", nil, student)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/exams/302/start", nil, student)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "exam_inactive", decode[errorBody](t, rec).Kind)

	rec = env.do(t, http.MethodGet, "/api/exams/302", nil, adminCookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/exams/999", nil, student)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/exams/abc", nil, student)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitGradingErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   llm.Kind
	}{
		{"rate limited", errors.New("429 Quota exceeded"), http.StatusTooManyRequests, llm.KindRateLimited},
		{"bad key", errors.New("API key not valid"), http.StatusUnauthorized, llm.KindInvalidCredential},
		{"transport", errors.New("connection reset"), http.StatusBadGateway, llm.KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Config{})
			cookie := env.login(t, "Ali", 5)
			require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/exams/301/start", nil, cookie).Code)

			env.mock.AddResponse(llm.MockResponse{Err: tt.err})
			rec := env.do(t, http.MethodPost, "/api/attempt/submit", submitRequest{Confirm: true}, cookie)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.kind), decode[errorBody](t, rec).Kind)

			rec = env.do(t, http.MethodGet, "/api/attempt/readiness", nil, cookie)
			assert.Equal(t, http.StatusOK, rec.Code, "attempt stays open after a failed grading")
		})
	}
}

func TestSubmitThrottled(t *testing.T) {
	env := newTestEnv(t, Config{GradeRate: 0.001, GradeBurst: 1})
	cookie := env.login(t, "Ali", 5)

	rec := env.do(t, http.MethodPost, "/api/attempt/submit", submitRequest{Confirm: true}, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/attempt/submit", submitRequest{Confirm: true}, cookie)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "throttled", body.Kind)
	assert.Equal(t, "You are submitting too often. Please wait a moment and try again.", body.Error)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestClientLimiter(t *testing.T) {
	l := newClientLimiter(1, 2)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "clients are limited separately")

	now = now.Add(2 * time.Second)
	assert.True(t, l.allow("10.0.0.1"))

	now = now.Add(visitorTTL + 2*time.Minute)
	l.allow("10.0.0.3")
	assert.Len(t, l.visitors, 1, "idle clients are swept")

	assert.Nil(t, newClientLimiter(0, 5))
}

func TestAdminDestructiveCallsNeedConfirmation(t *testing.T) {
	env := newTestEnv(t, Config{})
	adminCookie := env.login(t, identity.AdminLoginName, identity.AdminLoginGrade)
	env.login(t, "Ali", 5)

	rec := env.do(t, http.MethodGet, "/api/admin/users?q=ali", nil, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	users := decode[[]model.User](t, rec)
	require.Len(t, users, 1)

	tests := []struct {
		name   string
		target string
		msg    string
	}{
		{"delete user", "/api/admin/users/" + users[0].Email, "Are you sure you want to delete this user?"},
		{"delete exam", "/api/admin/exams/101", "Are you sure you want to delete this exam?"},
		{"clear logs", "/api/admin/logs", "All system logs will be deleted. Are you sure?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodDelete, tt.target, nil, adminCookie)
			require.Equal(t, http.StatusPreconditionRequired, rec.Code)
			body := decode[errorBody](t, rec)
			assert.Equal(t, "confirmation_required", body.Kind)
			assert.Equal(t, tt.msg, body.Error)

			rec = env.do(t, http.MethodDelete, tt.target+"?confirm=true", nil, adminCookie)
			assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
		})
	}

	rec = env.do(t, http.MethodGet, "/api/admin/users", nil, adminCookie)
	assert.Empty(t, decode[[]model.User](t, rec))

	rec = env.do(t, http.MethodGet, "/api/admin/exams", nil, adminCookie)
	for _, e := range decode[[]model.Exam](t, rec) {
		assert.NotEqual(t, int64(101), e.ID)
	}
}

func TestAdminLogsAndDashboard(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.login(t, "Ali", 5)
	adminCookie := env.login(t, identity.AdminLoginName, identity.AdminLoginGrade)

	rec := env.do(t, http.MethodGet, "/api/admin/logs?action=REGISTER", nil, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[logsResponse](t, rec)
	require.Len(t, logs.Entries, 1)
	assert.Equal(t, model.ActionRegister, logs.Entries[0].Action)
	assert.ElementsMatch(t, []model.Action{model.ActionLogin, model.ActionRegister}, logs.Actions)

	rec = env.do(t, http.MethodGet, "/api/admin/dashboard", nil, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decode[admin.Dashboard](t, rec)
	assert.Equal(t, 1, d.TotalUsers)
	assert.Positive(t, d.TotalExams)
}

func TestAdminExamEditing(t *testing.T) {
	env := newTestEnv(t, Config{})
	adminCookie := env.login(t, identity.AdminLoginName, identity.AdminLoginGrade)

	exam := model.Exam{
		Grade: 7, Lesson: model.LessonScience, Term: 1, ExamNumber: 1, Title: "SINAV A", Theme: "Hücre",
		Questions: []model.Question{{Code: "F.7.1", Title: "Hücre", QuestionText: "Hücrenin bölümleri nelerdir?"}},
	}
	rec := env.do(t, http.MethodPost, "/api/admin/exams", exam, adminCookie)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Exam](t, rec)
	assert.NotZero(t, created.ID)

	created.Theme = ""
	rec = env.do(t, http.MethodPut, "/api/admin/exams/"+itoa(created.ID), created, adminCookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "validation", body.Kind)
	assert.Equal(t, "theme", body.Field)

	created.Theme = "Hücre ve Bölünmeler"
	rec = env.do(t, http.MethodPut, "/api/admin/exams/"+itoa(created.ID), created, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hücre ve Bölünmeler", decode[model.Exam](t, rec).Theme)
}

func TestAdminExportImport(t *testing.T) {
	env := newTestEnv(t, Config{})
	adminCookie := env.login(t, identity.AdminLoginName, identity.AdminLoginGrade)

	rec := env.do(t, http.MethodGet, "/api/admin/exams/export", nil, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="exams.json"`, rec.Header().Get("Content-Disposition"))

	rec = env.do(t, http.MethodGet, "/api/admin/exams/301/export", nil, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="exam-301.json"`, rec.Header().Get("Content-Disposition"))
	one := rec.Body.String()

	rec = env.do(t, http.MethodPost, "/api/admin/exams/import", one, adminCookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[importResponse](t, rec)
	assert.Len(t, res.Imported, 1)
	assert.Equal(t, "1 exam imported.", res.Message)

	rec = env.do(t, http.MethodPost, "/api/admin/exams/import", `{"id": 1}`, adminCookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Error: the uploaded file is not a valid exam list.", decode[errorBody](t, rec).Error)
}

func TestSchedule(t *testing.T) {
	env := newTestEnv(t, Config{})
	cookie := env.login(t, "Ali", 5)

	rec := env.do(t, http.MethodGet, "/api/schedule", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/schedule", model.ScheduleItem{Title: "Matematik", Lesson: model.LessonMath, Date: "2026-06-10"}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	late := decode[model.ScheduleItem](t, rec)
	assert.NotEmpty(t, late.ID)

	rec = env.do(t, http.MethodPost, "/api/schedule", model.ScheduleItem{Title: "Türkçe", Date: "2026-06-01"}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/schedule", model.ScheduleItem{Title: "Fen", Date: "10.06.2026"}, cookie)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "date", decode[errorBody](t, rec).Field)

	late.Date = "2026-05-20"
	rec = env.do(t, http.MethodPut, "/api/schedule/"+late.ID, late, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/schedule", nil, cookie)
	items := decode[[]model.ScheduleItem](t, rec)
	require.Len(t, items, 2)
	assert.Equal(t, late.ID, items[0].ID, "sorted by date")

	rec = env.do(t, http.MethodDelete, "/api/schedule/"+late.ID, nil, cookie)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/schedule/"+late.ID, nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/schedule/missing", late, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
