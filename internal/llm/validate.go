package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pavelanni/examportal/internal/model"
)

// gradingContract is GradingSchema compiled once per process.
var gradingContract = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return compileSchema(GradingSchema)
})

func compileSchema(s *Schema) (*jsonschema.Schema, error) {
	// The compiler wants decoded JSON, not a Go map with typed slices.
	def, err := json.Marshal(s.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %q: %w", s.Name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(def))
	if err != nil {
		return nil, fmt.Errorf("parse schema %q: %w", s.Name, err)
	}

	c := jsonschema.NewCompiler()
	url := "schema://" + s.Name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %q: %w", s.Name, err)
	}
	return c.Compile(url)
}

// gradingReply is the wire form of a reply. questionId stays a JSON
// number because the schema accepts integral values such as 1.0.
type gradingReply struct {
	TotalScore      float64 `json:"totalScore"`
	GeneralFeedback string  `json:"generalFeedback"`
	Corrections     []struct {
		QuestionID json.Number `json:"questionId"`
		Score      float64     `json:"score"`
		MaxScore   float64     `json:"maxScore"`
		Feedback   string      `json:"feedback"`
		IsCorrect  bool        `json:"isCorrect"`
	} `json:"corrections"`
}

// parseGradingReply checks raw against GradingSchema and converts it to
// a result with the total clamped to 0..100. Nonconforming content is
// reported as *ErrInvalidResponse.
func parseGradingReply(raw json.RawMessage) (*model.AIExamResult, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("invalid JSON: %w", err)}
	}
	contract, err := gradingContract()
	if err != nil {
		return nil, fmt.Errorf("compile grading schema: %w", err)
	}
	if err := contract.Validate(doc); err != nil {
		return nil, &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("reply breaks %s contract: %w", GradingSchema.Name, err)}
	}

	var wire gradingReply
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ErrInvalidResponse{Content: raw, Err: err}
	}
	res := &model.AIExamResult{
		TotalScore:      math.Max(0, math.Min(100, wire.TotalScore)),
		GeneralFeedback: wire.GeneralFeedback,
		Corrections:     make([]model.AICorrection, 0, len(wire.Corrections)),
	}
	for _, c := range wire.Corrections {
		id, err := wholeNumber(c.QuestionID)
		if err != nil {
			return nil, &ErrInvalidResponse{Content: raw, Err: err}
		}
		res.Corrections = append(res.Corrections, model.AICorrection{
			QuestionID: id,
			Score:      c.Score,
			MaxScore:   c.MaxScore,
			Feedback:   c.Feedback,
			IsCorrect:  c.IsCorrect,
		})
	}
	return res, nil
}

func wholeNumber(n json.Number) (int, error) {
	if v, err := n.Int64(); err == nil {
		return int(v), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("questionId %s is not a whole number", n)
	}
	return int(f), nil
}
