package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/lokeshkhabiya/round0/internal/metrics"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/providers/evaluator"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

const maxCodeBytes = 64 << 10

// EvaluationService grades one artifact and normalizes the verdict.
// It never retries; the round controller owns retry policy.
type EvaluationService interface {
	EvaluateCode(ctx context.Context, roundID string, in models.CodeSubmission) (*models.EvaluationResult, error)
	EvaluateDesign(ctx context.Context, roundID string, in models.DesignSubmission) (*models.EvaluationResult, error)
}

type evaluationService struct {
	judge   evaluator.Judge
	timeout time.Duration
}

func NewEvaluationService(judge evaluator.Judge, timeout time.Duration) EvaluationService {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &evaluationService{judge: judge, timeout: timeout}
}

func (s *evaluationService) EvaluateCode(ctx context.Context, roundID string, in models.CodeSubmission) (*models.EvaluationResult, error) {
	const op = "EvaluationService.EvaluateCode"

	in.Language = strings.TrimSpace(in.Language)
	in.Question = strings.TrimSpace(in.Question)
	if in.Language == "" {
		metrics.RecordEvaluation(string(models.ArtifactCode), "rejected", 0)
		return nil, utils.E(utils.CodeEvaluationRejected, op, "language is required", nil)
	}
	if strings.TrimSpace(in.Code) == "" {
		metrics.RecordEvaluation(string(models.ArtifactCode), "rejected", 0)
		return nil, utils.E(utils.CodeEvaluationRejected, op, "code is empty", nil)
	}
	if len(in.Code) > maxCodeBytes {
		metrics.RecordEvaluation(string(models.ArtifactCode), "rejected", 0)
		return nil, utils.E(utils.CodeEvaluationRejected, op, "code is too large", nil)
	}

	input, _ := json.Marshal(in)
	return s.run(ctx, op, roundID, models.ArtifactCode, in.Question, input, func(ctx context.Context) (*evaluator.Verdict, error) {
		return s.judge.JudgeCode(ctx, in)
	})
}

func (s *evaluationService) EvaluateDesign(ctx context.Context, roundID string, in models.DesignSubmission) (*models.EvaluationResult, error) {
	const op = "EvaluationService.EvaluateDesign"

	in.Question = strings.TrimSpace(in.Question)
	if len(in.CanvasImage) == 0 && len(in.CanvasData) == 0 {
		metrics.RecordEvaluation(string(models.ArtifactDesign), "rejected", 0)
		return nil, utils.E(utils.CodeEvaluationRejected, op, "canvas is empty", nil)
	}
	if len(in.CanvasData) > 0 && !json.Valid(in.CanvasData) {
		metrics.RecordEvaluation(string(models.ArtifactDesign), "rejected", 0)
		return nil, utils.E(utils.CodeEvaluationRejected, op, "canvas_data is not valid JSON", nil)
	}
	if in.ImageMIME != "" && !strings.HasPrefix(in.ImageMIME, "image/") {
		metrics.RecordEvaluation(string(models.ArtifactDesign), "rejected", 0)
		return nil, utils.E(utils.CodeEvaluationRejected, op, "canvas image must be an image", nil)
	}

	// the snapshot itself is too large for the result row; keep its shape
	input, _ := json.Marshal(map[string]any{
		"question":    in.Question,
		"image_mime":  in.ImageMIME,
		"image_bytes": len(in.CanvasImage),
		"canvas_data": in.CanvasData,
	})
	return s.run(ctx, op, roundID, models.ArtifactDesign, in.Question, input, func(ctx context.Context) (*evaluator.Verdict, error) {
		return s.judge.JudgeDesign(ctx, in)
	})
}

type verdictOrErr struct {
	v   *evaluator.Verdict
	err error
}

func (s *evaluationService) run(
	ctx context.Context,
	op, roundID string,
	artifact models.ArtifactType,
	question string,
	input []byte,
	call func(context.Context) (*evaluator.Verdict, error),
) (*models.EvaluationResult, error) {
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// the judge is expected to honor ctx, but the bound holds even if it does not
	out := make(chan verdictOrErr, 1)
	go func() {
		v, err := call(tctx)
		out <- verdictOrErr{v: v, err: err}
	}()

	var res verdictOrErr
	select {
	case res = <-out:
	case <-tctx.Done():
		res.err = tctx.Err()
	}
	took := time.Since(start)

	if res.err != nil {
		switch {
		case ctx.Err() != nil:
			metrics.RecordEvaluation(string(artifact), "cancelled", took)
			return nil, utils.E(utils.CodeTimeout, op, "evaluation cancelled", ctx.Err())
		case errors.Is(res.err, context.DeadlineExceeded) || tctx.Err() != nil:
			metrics.RecordEvaluation(string(artifact), "timeout", took)
			return nil, utils.E(utils.CodeEvaluationTimeout, op, "evaluation timed out", res.err)
		case errors.Is(res.err, evaluator.ErrMalformedVerdict):
			metrics.RecordEvaluation(string(artifact), "service_error", took)
			return nil, utils.E(utils.CodeEvaluationServiceError, op, "evaluator returned an unreadable verdict", res.err)
		default:
			metrics.RecordEvaluation(string(artifact), "service_error", took)
			return nil, utils.E(utils.CodeEvaluationServiceError, op, "evaluation service failed", res.err)
		}
	}
	if res.v == nil {
		metrics.RecordEvaluation(string(artifact), "service_error", took)
		return nil, utils.E(utils.CodeEvaluationServiceError, op, "evaluator returned no verdict", nil)
	}

	outcome := "fail"
	if res.v.Passed {
		outcome = "pass"
	}
	metrics.RecordEvaluation(string(artifact), outcome, took)

	return &models.EvaluationResult{
		ID:           uuid.NewString(),
		RoundID:      roundID,
		ArtifactType: artifact,
		Question:     question,
		Input:        datatypes.JSON(input),
		Passed:       res.v.Passed,
		Score:        res.v.Score,
		Feedback:     res.v.Feedback,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
