package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/providers/llm"
)

// ErrMalformedVerdict means the judge answered but not in the agreed shape.
var ErrMalformedVerdict = errors.New("malformed verdict")

type Verdict struct {
	Passed   bool     `json:"passed"`
	Score    *float64 `json:"score,omitempty"`
	Feedback string   `json:"feedback"`
}

// Judge grades one artifact. Implementations must respect ctx cancellation.
type Judge interface {
	JudgeCode(ctx context.Context, in models.CodeSubmission) (*Verdict, error)
	JudgeDesign(ctx context.Context, in models.DesignSubmission) (*Verdict, error)
}

type LLMJudge struct {
	llm llm.Provider
}

func NewLLMJudge(p llm.Provider) *LLMJudge {
	return &LLMJudge{llm: p}
}

const verdictFormat = `Reply with JSON only, no prose, in this exact shape:
{"passed": true|false, "score": <number 0-10>, "feedback": "<2-4 sentences for the candidate>"}`

func (j *LLMJudge) JudgeCode(ctx context.Context, in models.CodeSubmission) (*Verdict, error) {
	var b strings.Builder
	b.WriteString("You are a strict technical interviewer grading a coding answer.\n\n")
	if in.Question != "" {
		fmt.Fprintf(&b, "Question:\n%s\n\n", in.Question)
	}
	fmt.Fprintf(&b, "Language: %s\n\nCandidate code:\n```%s\n%s\n```\n\n", in.Language, in.Language, in.Code)
	b.WriteString("Judge correctness first, then clarity and complexity.\n")
	b.WriteString(verdictFormat)

	raw, err := j.llm.Complete(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return ParseVerdict(raw)
}

func (j *LLMJudge) JudgeDesign(ctx context.Context, in models.DesignSubmission) (*Verdict, error) {
	var b strings.Builder
	b.WriteString("You are a senior engineer grading a system design whiteboard.\n\n")
	if in.Question != "" {
		fmt.Fprintf(&b, "Design prompt:\n%s\n\n", in.Question)
	}
	if len(in.CanvasData) > 0 {
		fmt.Fprintf(&b, "Structured canvas elements (JSON):\n%s\n\n", string(in.CanvasData))
	}
	b.WriteString("The attached image is the candidate's canvas.\n")
	b.WriteString("Judge component choice, data flow, scaling and failure handling.\n")
	b.WriteString(verdictFormat)

	var atts []llm.Attachment
	if len(in.CanvasImage) > 0 {
		mime := in.ImageMIME
		if mime == "" {
			mime = "image/png"
		}
		atts = append(atts, llm.Attachment{MIMEType: mime, Data: in.CanvasImage})
	}

	raw, err := j.llm.Complete(ctx, b.String(), atts...)
	if err != nil {
		return nil, err
	}
	return ParseVerdict(raw)
}

// ParseVerdict reads the judge's JSON reply, tolerating markdown code fences around it.
func ParseVerdict(raw string) (*Verdict, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	// the model sometimes wraps the object in a sentence
	if i, k := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && k > i {
		s = s[i : k+1]
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if _, ok := probe["passed"]; !ok {
		return nil, fmt.Errorf("%w: missing passed", ErrMalformedVerdict)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	v.Feedback = strings.TrimSpace(v.Feedback)
	return &v, nil
}
