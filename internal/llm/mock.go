package llm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pavelanni/examportal/internal/model"
)

// MockResponse is one canned reply of a MockProvider.
type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// GradedReply builds a reply that satisfies GradingSchema.
func GradedReply(total float64, feedback string, corrections ...model.AICorrection) MockResponse {
	if corrections == nil {
		corrections = []model.AICorrection{}
	}
	raw, err := json.Marshal(model.AIExamResult{
		TotalScore:      total,
		GeneralFeedback: feedback,
		Corrections:     corrections,
	})
	if err != nil {
		return MockResponse{Err: err}
	}
	return MockResponse{Content: raw}
}

// MockProvider is an offline grading oracle. Replies are served in the
// order they were queued and every request is kept for inspection.
type MockProvider struct {
	mu       sync.Mutex
	replies  []MockResponse
	requests []Request
	// Block, when set, holds every reply until it yields or is closed.
	Block chan struct{}
}

// NewMockProvider creates a MockProvider with the given replies queued.
func NewMockProvider(replies ...MockResponse) *MockProvider {
	return &MockProvider{replies: replies}
}

// Generate serves the next queued reply. An empty queue looks like an
// unreachable oracle.
func (m *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.replies) == 0 {
		return nil, &ErrProviderUnavailable{Err: errors.New("mock grader has no reply queued")}
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	if next.Err != nil {
		return nil, next.Err
	}
	return &Response{Content: next.Content, Usage: next.Usage, Model: "mock", StopReason: "end"}, nil
}

func (m *MockProvider) ModelID() string { return "mock" }

// AddResponse queues another reply.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, resp)
}

// Requests returns the grading requests received so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// CallCount returns the number of Generate calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
