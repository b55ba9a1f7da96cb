package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pavelanni/examportal/internal/model"
)

// Sink receives copies of audit events. Implementations must be safe for
// concurrent use.
type Sink interface {
	LogActivity(ctx context.Context, e model.LogEntry) error
	RecordResult(ctx context.Context, r model.ExamResultRecord) error
	Close()
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) LogActivity(context.Context, model.LogEntry) error { return nil }

func (NopSink) RecordResult(context.Context, model.ExamResultRecord) error { return nil }

func (NopSink) Close() {}

// PostgresSink writes events to the activity_logs and exam_results tables.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to dsn and creates the sink tables if needed.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit sink: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit sink: %w", err)
	}
	s := &PostgresSink{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS activity_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			details TEXT NOT NULL,
			user_email TEXT NOT NULL,
			ip_address TEXT,
			user_agent TEXT,
			platform TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS exam_results (
			id BIGSERIAL PRIMARY KEY,
			user_name TEXT NOT NULL,
			user_email TEXT NOT NULL,
			grade INTEGER NOT NULL,
			city TEXT,
			district TEXT,
			school_name TEXT,
			consent_given BOOLEAN NOT NULL DEFAULT FALSE,
			exam_id BIGINT NOT NULL,
			exam_title TEXT NOT NULL,
			lesson TEXT NOT NULL,
			total_score DOUBLE PRECISION NOT NULL,
			prompt_tokens INTEGER,
			response_tokens INTEGER,
			ip_address TEXT,
			user_agent TEXT,
			platform TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("migrate audit sink: %w", err)
	}
	return nil
}

func (s *PostgresSink) LogActivity(ctx context.Context, e model.LogEntry) error {
	d := model.UnknownDevice()
	if e.DeviceInfo != nil {
		d = *e.DeviceInfo
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_logs (id, action, details, user_email, ip_address, user_agent, platform, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, string(e.Action), e.Details, e.UserEmail, d.IPAddress, d.UserAgent, d.Platform, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}

func (s *PostgresSink) RecordResult(ctx context.Context, r model.ExamResultRecord) error {
	var promptTokens, responseTokens *int
	if r.Usage != nil {
		promptTokens, responseTokens = &r.Usage.PromptTokens, &r.Usage.ResponseTokens
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO exam_results (user_name, user_email, grade, city, district, school_name, consent_given,
			exam_id, exam_title, lesson, total_score, prompt_tokens, response_tokens,
			ip_address, user_agent, platform, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		r.UserName, r.UserEmail, r.Grade, r.City, r.District, r.SchoolName, r.ConsentGiven,
		r.ExamID, r.ExamTitle, string(r.Lesson), r.TotalScore, promptTokens, responseTokens,
		r.Device.IPAddress, r.Device.UserAgent, r.Device.Platform, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert exam result: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}
