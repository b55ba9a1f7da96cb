// Package llm grades exam attempts with a generative model behind a fixed
// JSON output contract.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pavelanni/examportal/internal/llm/prompts"
	"github.com/pavelanni/examportal/internal/model"
)

// Kind classifies a grading failure for the user.
type Kind string

const (
	KindMissingCredential Kind = "missing_credential"
	KindInvalidCredential Kind = "invalid_credential"
	KindRateLimited       Kind = "rate_limited"
	KindTransport         Kind = "transport"
)

// GradingError is returned by Gateway.Evaluate for every failure.
type GradingError struct {
	Kind Kind
	Err  error
}

func (e *GradingError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *GradingError) Unwrap() error { return e.Err }

// KindOf returns the kind of a *GradingError in err's chain.
func KindOf(err error) (Kind, bool) {
	var gerr *GradingError
	if errors.As(err, &gerr) {
		return gerr.Kind, true
	}
	return "", false
}

var (
	authSignals = []string{"403", "401", "API key", "PERMISSION_DENIED"}
	rateSignals = []string{"429", "Quota exceeded", "RESOURCE_EXHAUSTED"}
)

// Classify maps a provider error to a Kind. Credential problems win over
// rate limits; everything unrecognized is a transport failure.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	if k, ok := KindOf(err); ok {
		return k
	}
	var authErr *ErrAuth
	if errors.As(err, &authErr) || containsAny(err.Error(), authSignals) {
		return KindInvalidCredential
	}
	var rateErr *ErrRateLimit
	if errors.As(err, &rateErr) || containsAny(err.Error(), rateSignals) {
		return KindRateLimited
	}
	return KindTransport
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// GradingSchema is the output contract every oracle reply must satisfy.
var GradingSchema = &Schema{
	Name:        "exam-grading",
	Description: "Per-question scores and feedback for one exam attempt",
	Definition: map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"totalScore":      map[string]any{"type": "number", "description": "Öğrencinin aldığı toplam puan (0-100)"},
			"generalFeedback": map[string]any{"type": "string", "description": "Öğrenciye genel motivasyon ve durum değerlendirmesi"},
			"corrections": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"questionId": map[string]any{"type": "integer"},
						"score":      map[string]any{"type": "number", "description": "Bu soru için verilen puan (0-100)"},
						"maxScore":   map[string]any{"type": "number", "description": "Bu sorunun ağırlığı"},
						"feedback":   map[string]any{"type": "string", "description": "Öğretmen yorumu ve düzeltme"},
						"isCorrect":  map[string]any{"type": "boolean"},
					},
					"required": []any{"questionId", "score", "maxScore", "feedback", "isCorrect"},
				},
			},
		},
		"required": []any{"totalScore", "generalFeedback", "corrections"},
	},
}

var (
	gradingCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examportal_grading_requests_total",
			Help: "Grading calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)
	gradingTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "examportal_grading_tokens_total",
			Help: "Tokens consumed by grading calls",
		},
		[]string{"provider", "direction"},
	)
	gradingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "examportal_grading_duration_seconds",
			Help:    "Duration of grading calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(gradingCalls, gradingTokens, gradingDuration)
}

// Config selects the oracle backend.
type Config struct {
	Provider  string // gemini, openai or anthropic
	Model     string
	BaseURL   string
	MaxTokens int
}

// Factory builds a provider for one credential.
type Factory func(ctx context.Context, credential string) (Provider, error)

// NewFactory returns a Factory for cfg.Provider.
func NewFactory(cfg Config) (Factory, error) {
	switch cfg.Provider {
	case "gemini", "":
		return func(ctx context.Context, key string) (Provider, error) {
			return NewGeminiProvider(ctx, key, cfg.Model)
		}, nil
	case "openai":
		return func(_ context.Context, key string) (Provider, error) {
			return NewOpenAIProvider(cfg.BaseURL, key, cfg.Model)
		}, nil
	case "anthropic":
		return func(_ context.Context, key string) (Provider, error) {
			return NewAnthropicProvider(cfg.BaseURL, key, cfg.Model)
		}, nil
	}
	return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
}

// Gateway grades attempts. It keeps no state between calls.
type Gateway struct {
	name      string
	factory   Factory
	maxTokens int
}

// NewGateway creates a gateway for cfg.
func NewGateway(cfg Config) (*Gateway, error) {
	f, err := NewFactory(cfg)
	if err != nil {
		return nil, err
	}
	name := cfg.Provider
	if name == "" {
		name = "gemini"
	}
	g := NewGatewayWithFactory(name, f)
	if cfg.MaxTokens > 0 {
		g.maxTokens = cfg.MaxTokens
	}
	return g, nil
}

// NewGatewayWithFactory creates a gateway over an arbitrary provider factory.
func NewGatewayWithFactory(name string, f Factory) *Gateway {
	return &Gateway{name: name, factory: f, maxTokens: 8192}
}

// Name returns the provider name used in metrics.
func (g *Gateway) Name() string { return g.name }

// Evaluate grades answers to exam using credential. Every failure is a
// *GradingError.
func (g *Gateway) Evaluate(ctx context.Context, exam model.Exam, answers model.StudentAnswers, credential string) (*model.AIExamResult, error) {
	ctx, span := otel.Tracer("examportal/llm").Start(ctx, "llm.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", g.name),
		attribute.Int64("exam.id", exam.ID),
		attribute.Int("exam.questions", len(exam.Questions)),
	)

	start := time.Now()
	res, err := g.evaluate(ctx, exam, answers, credential)
	gradingDuration.WithLabelValues(g.name).Observe(time.Since(start).Seconds())

	if err != nil {
		kind := Classify(err)
		gradingCalls.WithLabelValues(g.name, string(kind)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		slog.Warn("grading failed", "provider", g.name, "exam_id", exam.ID, "kind", kind, "error", err)
		var gerr *GradingError
		if errors.As(err, &gerr) {
			return nil, gerr
		}
		return nil, &GradingError{Kind: kind, Err: err}
	}

	gradingCalls.WithLabelValues(g.name, "success").Inc()
	if res.Usage != nil {
		gradingTokens.WithLabelValues(g.name, "prompt").Add(float64(res.Usage.PromptTokens))
		gradingTokens.WithLabelValues(g.name, "response").Add(float64(res.Usage.ResponseTokens))
	}
	span.SetAttributes(attribute.Float64("exam.score", res.TotalScore))
	slog.Info("graded exam", "provider", g.name, "exam_id", exam.ID, "score", res.TotalScore)
	return res, nil
}

func (g *Gateway) evaluate(ctx context.Context, exam model.Exam, answers model.StudentAnswers, credential string) (*model.AIExamResult, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, &GradingError{Kind: KindMissingCredential}
	}

	system, err := prompts.BuildSystemPrompt(exam)
	if err != nil {
		return nil, &GradingError{Kind: KindTransport, Err: fmt.Errorf("build system prompt: %w", err)}
	}
	prompt, err := prompts.BuildGradePrompt(exam, answers)
	if err != nil {
		return nil, &GradingError{Kind: KindTransport, Err: fmt.Errorf("build grade prompt: %w", err)}
	}

	provider, err := g.factory(ctx, credential)
	if err != nil {
		return nil, err
	}
	resp, err := provider.Generate(ctx, Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Schema:      GradingSchema,
		MaxTokens:   g.maxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	return decodeResult(resp)
}

// decodeResult turns a reply into a result. Empty or nonconforming
// replies are transport failures.
func decodeResult(resp *Response) (*model.AIExamResult, error) {
	if resp == nil || len(bytes.TrimSpace(resp.Content)) == 0 {
		return nil, &GradingError{Kind: KindTransport, Err: errors.New("empty response from grading model")}
	}
	res, err := parseGradingReply(resp.Content)
	if err != nil {
		return nil, &GradingError{Kind: KindTransport, Err: err}
	}
	if resp.Usage.TotalTokens > 0 || resp.Usage.InputTokens > 0 {
		res.Usage = &model.TokenUsage{
			PromptTokens:   resp.Usage.InputTokens,
			ResponseTokens: resp.Usage.OutputTokens,
			TotalTokens:    resp.Usage.TotalTokens,
		}
	}
	return res, nil
}
