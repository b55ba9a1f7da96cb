package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/examportal/internal/model"
	"github.com/pavelanni/examportal/internal/store"
)

func newTestCatalog(t *testing.T) (*Catalog, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	c, err := New(s)
	require.NoError(t, err)
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, s
}

func sampleExam() model.Exam {
	return model.Exam{
		Grade:      6,
		Lesson:     model.LessonScience,
		Term:       2,
		ExamNumber: 1,
		Title:      "SINAV A",
		Theme:      "Kuvvet ve Hareket",
		Questions: []model.Question{
			{Code: "F.6.1", Title: "Kuvvet", QuestionText: "Kuvvetin birimi nedir?"},
			{Code: "F.6.2", Title: "Sürtünme", QuestionText: "Sürtünmeye bir örnek veriniz."},
		},
	}
}

func TestAllReturnsSeedWhenNothingStored(t *testing.T) {
	c, _ := newTestCatalog(t)
	all, err := c.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c.Seed(), all)
	require.Len(t, all, 12)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID, all[i].ID)
	}
}

func TestSeedExams(t *testing.T) {
	c, _ := newTestCatalog(t)
	questions := map[int64]int{
		101: 9, 102: 9, 107: 9,
		201: 5, 202: 5, 203: 5, 204: 5,
		301: 5, 302: 5,
		401: 7, 402: 8, 403: 10,
	}
	seed := c.Seed()
	require.Len(t, seed, len(questions))
	for _, e := range seed {
		assert.NoError(t, Validate(e), "exam %d", e.ID)
		assert.Len(t, e.Questions, questions[e.ID], "exam %d", e.ID)
		for i, q := range e.Questions {
			assert.Equal(t, i+1, q.ID, "exam %d", e.ID)
			assert.NotEmpty(t, q.Placeholder, "exam %d question %d", e.ID, q.ID)
		}
	}

	first := seed[0]
	assert.Equal(t, int64(101), first.ID)
	assert.Contains(t, first.Questions[0].Context, "ORMAN VE BİZ")
	assert.Equal(t, model.QuestionTextarea, first.Questions[8].Type)
}

func TestAllMergesStoredAndSeed(t *testing.T) {
	c, s := newTestCatalog(t)
	ctx := context.Background()

	edited := c.Seed()[0]
	edited.Title = "Edited"
	custom := sampleExam()
	custom.ID = 9000
	require.NoError(t, s.SaveExams(ctx, []model.Exam{edited, custom}))

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(c.Seed())+1)

	got, err := c.Get(ctx, edited.ID)
	require.NoError(t, err)
	assert.Equal(t, "Edited", got.Title)
}

// memBackend is an in-memory store.Backend.
type memBackend map[string]string

func (m memBackend) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memBackend) Set(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m memBackend) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m, k)
	}
	return nil
}

func (m memBackend) Close() error { return nil }

func TestAllFallsBackToSeedOnCorruptStore(t *testing.T) {
	kv := memBackend{"app_exams": `{"broken": true`}
	c, err := New(store.New(kv))
	require.NoError(t, err)

	all, err := c.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, c.Seed(), all)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*model.Exam)
		field string
	}{
		{"ok", func(*model.Exam) {}, ""},
		{"no title", func(e *model.Exam) { e.Title = " " }, "title"},
		{"no theme", func(e *model.Exam) { e.Theme = "" }, "theme"},
		{"no questions", func(e *model.Exam) { e.Questions = nil }, "questions"},
		{"bad lesson", func(e *model.Exam) { e.Lesson = "music" }, "lesson"},
		{"bad grade", func(e *model.Exam) { e.Grade = 4 }, "grade"},
		{"bad term", func(e *model.Exam) { e.Term = 3 }, "term"},
		{"question without code", func(e *model.Exam) { e.Questions[1].Code = "" }, "questions[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := sampleExam()
			tt.edit(&e)
			err := Validate(e)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCreateAssignsIDs(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	e, err := c.Create(ctx, sampleExam())
	require.NoError(t, err)
	assert.Equal(t, c.now().UnixMilli(), e.ID)
	assert.Equal(t, 1, e.Questions[0].ID)
	assert.Equal(t, 2, e.Questions[1].ID)
	assert.Equal(t, 2, e.QuestionSeq)

	second, err := c.Create(ctx, sampleExam())
	require.NoError(t, err)
	assert.NotEqual(t, e.ID, second.ID, "same clock must still yield unique ids")
}

func TestUpdatePreservesIDsAndNeverReusesQuestionIDs(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	e, err := c.Create(ctx, sampleExam())
	require.NoError(t, err)

	// Remove question 2, then add a new question.
	edit := e
	edit.Questions = []model.Question{
		e.Questions[0],
		{Code: "F.6.3", Title: "Yeni", QuestionText: "Yeni soru?"},
	}
	edit.Title = "SINAV B"
	updated, err := c.Update(ctx, e.ID, edit)
	require.NoError(t, err)
	assert.Equal(t, e.ID, updated.ID)
	assert.Equal(t, 1, updated.Questions[0].ID)
	assert.Equal(t, 3, updated.Questions[1].ID, "question 2 was removed; its id must not be reused")

	got, err := c.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "SINAV B", got.Title)

	_, err = c.Update(ctx, 1, edit)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSeedExamStaysDeleted(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()
	id := c.Seed()[0].ID

	require.NoError(t, c.Delete(ctx, id))
	_, err := c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(c.Seed())-1)

	assert.ErrorIs(t, c.Delete(ctx, id), ErrNotFound)
}

func TestToggleActive(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()
	id := c.Seed()[0].ID

	e, err := c.ToggleActive(ctx, id)
	require.NoError(t, err)
	assert.False(t, e.Active())

	active, err := c.Active(ctx)
	require.NoError(t, err)
	for _, a := range active {
		assert.NotEqual(t, id, a.ID)
	}

	e, err = c.ToggleActive(ctx, id)
	require.NoError(t, err)
	assert.True(t, e.Active())
	require.NotNil(t, e.IsActive)
}

func TestExportImportRoundTrip(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.ToggleActive(ctx, c.Seed()[1].ID)
	require.NoError(t, err)
	before, err := c.All(ctx)
	require.NoError(t, err)

	doc, err := c.Export(ctx)
	require.NoError(t, err)

	res, err := c.Import(ctx, doc)
	require.NoError(t, err)
	require.Len(t, res.Imported, len(before))
	assert.Len(t, res.Renamed, len(before), "every id collided with the existing catalog")

	for i, imp := range res.Imported {
		orig := before[i]
		assert.NotEqual(t, orig.ID, imp.ID)
		assert.Equal(t, imp.ID, res.Renamed[orig.ID])
		imp.ID = orig.ID
		a, _ := json.Marshal(orig)
		b, _ := json.Marshal(imp)
		assert.JSONEq(t, string(a), string(b))
	}

	all, err := c.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2*len(before))
}

func TestImportKeepsFreeIDs(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	e := sampleExam()
	e.ID = 777
	e.Questions[0].ID, e.Questions[1].ID = 1, 2
	doc, err := json.Marshal([]model.Exam{e})
	require.NoError(t, err)

	res, err := c.Import(ctx, doc)
	require.NoError(t, err)
	require.Len(t, res.Imported, 1)
	assert.Equal(t, int64(777), res.Imported[0].ID)
	assert.Empty(t, res.Renamed)
}

func TestImportRejectsNonList(t *testing.T) {
	c, _ := newTestCatalog(t)
	_, err := c.Import(context.Background(), []byte(`{"id": 1}`))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestExportOne(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()
	id := c.Seed()[2].ID

	doc, err := c.ExportOne(ctx, id)
	require.NoError(t, err)
	var exams []model.Exam
	require.NoError(t, json.Unmarshal(doc, &exams))
	require.Len(t, exams, 1)
	assert.Equal(t, id, exams[0].ID)
}
