package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lokeshkhabiya/round0/config"
	"github.com/lokeshkhabiya/round0/internal/events"
	"github.com/lokeshkhabiya/round0/internal/media"
	"github.com/lokeshkhabiya/round0/internal/metrics"
	"github.com/lokeshkhabiya/round0/internal/models"
	pgrepo "github.com/lokeshkhabiya/round0/internal/repositories/postgres"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

const (
	verifyTimeout   = 10 * time.Second
	finalizeTimeout = 30 * time.Second
	failedRetention = 10 * time.Minute

	// upper bound on remembered verification failures per instance
	maxRememberedFailures = 10000
)

// roundTransitions lists every legal lifecycle move. Failed has no entry: it is absorbing.
var roundTransitions = map[models.RoundState][]models.RoundState{
	models.RoundPending:    {models.RoundVerifying, models.RoundFailed},
	models.RoundVerifying:  {models.RoundActive, models.RoundFailed},
	models.RoundActive:     {models.RoundEvaluating, models.RoundFailed},
	models.RoundEvaluating: {models.RoundActive, models.RoundCompleted, models.RoundFailed},
}

func CanTransition(from, to models.RoundState) bool {
	for _, s := range roundTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MediaPipeline is the part of the upload pipeline the controller drives.
type MediaPipeline interface {
	EnqueueUpload(roundID string, blob media.Blob) *media.UploadHandle
	AwaitCompletion(ctx context.Context, h *media.UploadHandle) error
	OnWarning(fn media.WarningFunc)
}

// RoundController drives one round from token verification to completion.
// Every operation after BeginRound takes the verified RoundContext explicitly.
type RoundController interface {
	BeginRound(ctx context.Context, token string) (*models.RoundContext, error)
	// Resolve returns the context of a known round in any state, beginning it if it is unknown.
	Resolve(ctx context.Context, token string) (*models.RoundContext, error)

	SubmitArtifact(ctx context.Context, rc *models.RoundContext, a models.Artifact) (*models.EvaluationResult, error)
	EndRound(ctx context.Context, rc *models.RoundContext, recording *media.Blob) (*models.RoundStatus, error)
	UploadRecording(ctx context.Context, rc *models.RoundContext, blob media.Blob) (*media.UploadHandle, error)

	AppendMessage(ctx context.Context, rc *models.RoundContext, role models.MessengerRole, typ models.MessageType, content string) (*models.TranscriptEvent, error)
	AppendToolResult(ctx context.Context, rc *models.RoundContext, tool models.ToolInvocation) (*models.TranscriptEvent, error)
	Transcript(ctx context.Context, rc *models.RoundContext, after, limit int64) ([]models.TranscriptEvent, error)

	Status(ctx context.Context, rc *models.RoundContext) (*models.RoundStatus, error)
	AgentURL(ctx context.Context, rc *models.RoundContext) (string, error)
}

type RoundControllerDeps struct {
	Verifier    TokenVerifier
	Evaluator   EvaluationService
	Transcript  TranscriptService
	Media       MediaPipeline
	Rounds      pgrepo.RoundRepository
	Evaluations pgrepo.EvaluationRepository
	Publisher   events.Publisher
	Policy      config.RoundPolicy
	Logger      *logrus.Logger
}

type roundRun struct {
	mu sync.Mutex

	rc         *models.RoundContext // nil when verification failed
	state      models.RoundState
	finalizing bool
	warnings   []string
	submitted  map[models.ArtifactType]int
	failErr    error
	failReason string
	expires    time.Time
}

func (r *roundRun) statusLocked() *models.RoundStatus {
	st := &models.RoundStatus{
		State:      r.state,
		Warnings:   append([]string{}, r.warnings...),
		FailReason: r.failReason,
	}
	if r.rc != nil {
		st.Context = *r.rc
	}
	for _, n := range r.submitted {
		st.Submissions += n
	}
	return st
}

type roundController struct {
	verifier    TokenVerifier
	evaluator   EvaluationService
	transcript  TranscriptService
	media       MediaPipeline
	rounds      pgrepo.RoundRepository
	evaluations pgrepo.EvaluationRepository
	publisher   events.Publisher
	policy      config.RoundPolicy
	log         *logrus.Logger

	sf singleflight.Group

	mu      sync.Mutex
	byToken map[string]*roundRun
	byRound map[string]*roundRun
}

func NewRoundController(d RoundControllerDeps) RoundController {
	if d.Logger == nil {
		d.Logger = logrus.New()
	}
	c := &roundController{
		verifier:    d.Verifier,
		evaluator:   d.Evaluator,
		transcript:  d.Transcript,
		media:       d.Media,
		rounds:      d.Rounds,
		evaluations: d.Evaluations,
		publisher:   d.Publisher,
		policy:      d.Policy,
		log:         d.Logger,
		byToken:     make(map[string]*roundRun),
		byRound:     make(map[string]*roundRun),
	}
	if c.media != nil {
		c.media.OnWarning(c.onUploadWarning)
	}
	return c
}

func (c *roundController) BeginRound(ctx context.Context, token string) (*models.RoundContext, error) {
	const op = "RoundController.BeginRound"

	if token == "" {
		return nil, utils.E(utils.CodeTokenInvalid, op, "interview token is required", nil)
	}
	key := TokenKey(token)

	if run := c.lookupToken(key); run != nil {
		return c.begun(op, run)
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if run := c.lookupToken(key); run != nil {
			return c.begun(op, run)
		}
		return c.verifyAndActivate(ctx, key, token)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.RoundContext), nil
}

func (c *roundController) Resolve(ctx context.Context, token string) (*models.RoundContext, error) {
	if run := c.lookupToken(TokenKey(token)); run != nil {
		run.mu.Lock()
		defer run.mu.Unlock()
		if run.rc == nil {
			return nil, run.failErr
		}
		rc := *run.rc
		return &rc, nil
	}
	return c.BeginRound(ctx, token)
}

// begun answers a repeated BeginRound without verifying again.
func (c *roundController) begun(op string, run *roundRun) (*models.RoundContext, error) {
	run.mu.Lock()
	defer run.mu.Unlock()

	switch run.state {
	case models.RoundActive, models.RoundEvaluating:
		if run.finalizing {
			return nil, utils.E(utils.CodeTokenAlreadyConsumed, op, "interview round is ending", nil)
		}
		rc := *run.rc
		return &rc, nil
	case models.RoundFailed:
		if run.failErr != nil {
			return nil, run.failErr
		}
	}
	return nil, utils.E(utils.CodeTokenAlreadyConsumed, op, "interview round already finished", nil)
}

func (c *roundController) verifyAndActivate(ctx context.Context, key, token string) (*models.RoundContext, error) {
	const op = "RoundController.BeginRound"

	// shared by every caller coalesced on this token, so the first caller's cancellation must not decide for the rest
	vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), verifyTimeout)
	defer cancel()

	run := &roundRun{state: models.RoundPending, submitted: map[models.ArtifactType]int{}}
	_ = c.transition(vctx, run, models.RoundVerifying)

	rc, err := c.verifier.Verify(vctx, token)
	if err != nil {
		if !utils.IsFatalVerification(err) {
			// backend trouble: nothing is remembered and the next call verifies again
			return nil, err
		}
		_ = c.transition(vctx, run, models.RoundFailed)
		if utils.IsCode(err, utils.CodeTokenInvalid) {
			// a token that does not parse is cheap to reject again
			return nil, err
		}
		run.failErr = err
		run.failReason = string(utils.CodeOf(err))
		run.expires = time.Now().Add(failedRetention)
		c.rememberFailure(key, run)
		return nil, err
	}

	if existing := c.lookupRound(rc.RoundID); existing != nil {
		c.mu.Lock()
		c.byToken[key] = existing
		c.mu.Unlock()
		return c.begun(op, existing)
	}

	run.rc = rc
	run.expires = rc.ExpiresAt

	log := c.log.WithFields(logrus.Fields{
		"round_id":     rc.RoundID,
		"interview_id": rc.InterviewID,
		"round_type":   rc.RoundType,
	})

	if err := c.rounds.SetStatus(vctx, rc.RoundID, models.RoundActive, time.Now()); err != nil {
		log.WithError(err).Error("failed to persist round activation")
		_ = c.transition(vctx, run, models.RoundFailed)
		run.failReason = "failed to persist round activation"
		run.expires = time.Now().Add(failedRetention)
		c.register(key, run)
		_ = c.rounds.SetStatus(vctx, rc.RoundID, models.RoundFailed, time.Now())
		return nil, utils.E(utils.CodeInternal, op, "failed to start interview round", err)
	}
	_ = c.transition(vctx, run, models.RoundActive)

	if winner := c.register(key, run); winner != run {
		return c.begun(op, winner)
	}
	log.Info("interview round started")

	out := *rc
	return &out, nil
}

func (c *roundController) lookupToken(key string) *roundRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byToken[key]
}

func (c *roundController) lookupRound(roundID string) *roundRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byRound[roundID]
}

// register indexes run by token and round. When another token already started the
// same round, that run wins and is returned.
func (c *roundController) register(key string, run *roundRun) *roundRun {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(time.Now())
	if existing, ok := c.byRound[run.rc.RoundID]; ok {
		c.byToken[key] = existing
		return existing
	}
	c.byToken[key] = run
	c.byRound[run.rc.RoundID] = run
	return run
}

// rememberFailure keeps a failed verification so repeats skip the verifier.
func (c *roundController) rememberFailure(key string, run *roundRun) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked(time.Now())
	if len(c.byToken) >= maxRememberedFailures {
		return
	}
	c.byToken[key] = run
}

// sweepLocked forgets runs whose token can no longer be presented.
func (c *roundController) sweepLocked(now time.Time) {
	for k, run := range c.byToken {
		if !run.expires.IsZero() && now.After(run.expires) {
			delete(c.byToken, k)
			if run.rc != nil && c.byRound[run.rc.RoundID] == run {
				delete(c.byRound, run.rc.RoundID)
			}
		}
	}
}

// transition applies one lifecycle move. Caller holds run.mu or owns run exclusively.
func (c *roundController) transition(ctx context.Context, run *roundRun, to models.RoundState) error {
	from := run.state
	if !CanTransition(from, to) {
		return utils.E(utils.CodeInvalidState, "RoundController.transition", fmt.Sprintf("round cannot move from %s to %s", from, to), nil)
	}
	run.state = to
	metrics.RecordRoundTransition(string(from), string(to))

	if run.rc != nil && c.publisher != nil {
		if err := c.publisher.PublishStatus(ctx, run.rc.RoundID, to, run.failReason); err != nil {
			c.log.WithError(err).WithField("round_id", run.rc.RoundID).Debug("status publish failed")
		}
	}
	return nil
}

// liveRun returns the run of a verified round, whatever its state.
func (c *roundController) liveRun(op string, rc *models.RoundContext) (*roundRun, error) {
	if rc == nil || rc.RoundID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "round context is required", nil)
	}
	run := c.lookupRound(rc.RoundID)
	if run == nil {
		return nil, utils.E(utils.CodeInvalidState, op, "interview round has not been started", nil)
	}
	return run, nil
}

func acceptsArtifact(rt models.RoundType, at models.ArtifactType) bool {
	switch rt {
	case models.RoundCode:
		return at == models.ArtifactCode
	case models.RoundDesign:
		return at == models.ArtifactDesign
	case models.RoundAgent:
		// the conversational agent may hand out either exercise
		return at == models.ArtifactCode || at == models.ArtifactDesign
	}
	return false
}

func (c *roundController) SubmitArtifact(ctx context.Context, rc *models.RoundContext, a models.Artifact) (*models.EvaluationResult, error) {
	const op = "RoundController.SubmitArtifact"

	run, err := c.liveRun(op, rc)
	if err != nil {
		return nil, err
	}
	if !acceptsArtifact(rc.RoundType, a.Type) {
		return nil, utils.E(utils.CodeEvaluationRejected, op, fmt.Sprintf("%s rounds do not accept %s submissions", rc.RoundType, a.Type), nil)
	}
	if (a.Type == models.ArtifactCode && a.Code == nil) || (a.Type == models.ArtifactDesign && a.Design == nil) {
		return nil, utils.E(utils.CodeEvaluationRejected, op, "submission body is missing", nil)
	}

	run.mu.Lock()
	if run.state != models.RoundActive || run.finalizing {
		state := run.state
		run.mu.Unlock()
		return nil, utils.E(utils.CodeInvalidState, op, fmt.Sprintf("cannot submit while round is %s", state), nil)
	}
	_ = c.transition(ctx, run, models.RoundEvaluating)
	run.mu.Unlock()

	res, err := c.evaluateWithRetry(ctx, rc, a)
	if err == nil {
		err = c.recordResult(ctx, rc, a, res)
	}

	run.mu.Lock()
	if run.state == models.RoundEvaluating {
		_ = c.transition(ctx, run, models.RoundActive)
	}
	if err == nil {
		run.submitted[a.Type]++
	}
	run.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *roundController) dispatch(ctx context.Context, rc *models.RoundContext, a models.Artifact) (*models.EvaluationResult, error) {
	if a.Type == models.ArtifactCode {
		return c.evaluator.EvaluateCode(ctx, rc.RoundID, *a.Code)
	}
	return c.evaluator.EvaluateDesign(ctx, rc.RoundID, *a.Design)
}

// evaluateWithRetry re-dispatches only on EVALUATION_SERVICE_ERROR. Rejected input
// and timeouts go straight back to the candidate.
func (c *roundController) evaluateWithRetry(ctx context.Context, rc *models.RoundContext, a models.Artifact) (*models.EvaluationResult, error) {
	maxAttempts := c.policy.EvaluationMaxRetries + 1

	for attempt := 1; ; attempt++ {
		res, err := c.dispatch(ctx, rc, a)
		if err == nil {
			return res, nil
		}
		if !utils.IsCode(err, utils.CodeEvaluationServiceError) || attempt >= maxAttempts {
			return nil, err
		}

		c.log.WithFields(logrus.Fields{
			"round_id": rc.RoundID,
			"artifact": a.Type,
			"attempt":  attempt,
		}).WithError(err).Warn("evaluation failed, retrying")

		select {
		case <-time.After(c.policy.EvaluationRetryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return nil, err
		}
	}
}

func (c *roundController) recordResult(ctx context.Context, rc *models.RoundContext, a models.Artifact, res *models.EvaluationResult) error {
	const op = "RoundController.SubmitArtifact"

	if err := c.evaluations.Insert(ctx, res); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to save evaluation result", err)
	}

	passed := res.Passed
	tool := models.ToolInvocation{
		Name:   "evaluate_" + string(a.Type),
		Output: res.Feedback,
		Passed: &passed,
	}
	if a.Code != nil {
		tool.Input = a.Code.Code
	} else if a.Design != nil {
		tool.Input = a.Design.Question
	}

	content := res.Feedback
	if strings.TrimSpace(content) == "" {
		content = res.Verdict()
	}

	_, err := c.transcript.Append(ctx, rc.RoundID, models.TranscriptEvent{
		MessengerRole: models.RoleSystem,
		MessageType:   models.MessageToolResult,
		Content:       content,
		Tool:          &tool,
	})
	return err
}

func (c *roundController) EndRound(ctx context.Context, rc *models.RoundContext, recording *media.Blob) (*models.RoundStatus, error) {
	const op = "RoundController.EndRound"

	run, err := c.liveRun(op, rc)
	if err != nil {
		return nil, err
	}

	// finalization outlives a client that hangs up mid-request
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	run.mu.Lock()
	if run.state != models.RoundActive || run.finalizing {
		state := run.state
		run.mu.Unlock()
		return nil, utils.E(utils.CodeInvalidState, op, fmt.Sprintf("cannot end round while it is %s", state), nil)
	}
	run.finalizing = true
	_ = c.transition(fctx, run, models.RoundEvaluating)
	missing := c.missingArtifactsLocked(run)
	run.mu.Unlock()

	log := c.log.WithFields(logrus.Fields{"round_id": rc.RoundID, "interview_id": rc.InterviewID})

	if len(missing) > 0 {
		c.addWarning(fctx, run, rc.RoundID, "round ended without required submissions: "+strings.Join(missing, ", "))
	}

	var handle *media.UploadHandle
	if recording != nil && c.media != nil {
		handle = c.media.EnqueueUpload(rc.RoundID, *recording)
	}

	g, gctx := errgroup.WithContext(fctx)
	g.Go(func() error {
		// with no grace the outcome arrives only through onUploadWarning
		if handle == nil || c.policy.UploadGrace <= 0 {
			return nil
		}
		wctx, cancel := context.WithTimeout(gctx, c.policy.UploadGrace)
		defer cancel()
		err := c.media.AwaitCompletion(wctx, handle)
		// hard failures come in through onUploadWarning, and a cancelled gctx means the round is failing anyway
		if errors.Is(err, context.DeadlineExceeded) && gctx.Err() == nil {
			c.addWarning(fctx, run, rc.RoundID, "recording upload still in progress when the round ended")
		}
		return nil
	})
	g.Go(func() error {
		if _, err := c.transcript.Append(gctx, rc.RoundID, models.TranscriptEvent{
			MessengerRole: models.RoleSystem,
			MessageType:   models.MessageSystem,
			Content:       "round ended",
		}); err != nil {
			return err
		}
		return c.transcript.Flush(gctx, rc.RoundID)
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("transcript flush failed, failing round")
		c.fail(fctx, run, "transcript flush failed")
		return nil, utils.E(utils.CodeInternal, op, "failed to finalize transcript", err)
	}

	if err := c.rounds.SetStatus(fctx, rc.RoundID, models.RoundCompleted, time.Now()); err != nil {
		log.WithError(err).Error("failed to persist round completion, failing round")
		c.fail(fctx, run, "failed to persist round completion")
		return nil, utils.E(utils.CodeInternal, op, "failed to complete interview round", err)
	}

	run.mu.Lock()
	_ = c.transition(fctx, run, models.RoundCompleted)
	st := run.statusLocked()
	run.mu.Unlock()

	c.transcript.Release(rc.RoundID)
	c.verifier.MarkConsumed(fctx, rc.RoundID, rc.ExpiresAt)

	log.WithField("warnings", len(st.Warnings)).Info("interview round completed")
	return st, nil
}

func (c *roundController) missingArtifactsLocked(run *roundRun) []string {
	var missing []string
	for _, kind := range c.policy.Required(run.rc.RoundType) {
		if run.submitted[models.ArtifactType(kind)] == 0 {
			missing = append(missing, kind)
		}
	}
	return missing
}

// fail moves a round to Failed after a fatal IO error. Failed rounds cannot be resumed.
func (c *roundController) fail(ctx context.Context, run *roundRun, reason string) {
	run.mu.Lock()
	if run.state.Terminal() {
		run.mu.Unlock()
		return
	}
	run.failReason = reason
	_ = c.transition(ctx, run, models.RoundFailed)
	rc := *run.rc
	run.mu.Unlock()

	if err := c.rounds.SetStatus(ctx, rc.RoundID, models.RoundFailed, time.Now()); err != nil {
		c.log.WithError(err).WithField("round_id", rc.RoundID).Error("failed to persist round failure")
	}
	c.transcript.Release(rc.RoundID)
	c.verifier.MarkConsumed(ctx, rc.RoundID, rc.ExpiresAt)
}

func (c *roundController) addWarning(ctx context.Context, run *roundRun, roundID, msg string) {
	if run != nil {
		run.mu.Lock()
		run.warnings = append(run.warnings, msg)
		run.mu.Unlock()
	}
	c.log.WithField("round_id", roundID).Warn(msg)
	if err := c.rounds.AppendWarning(ctx, roundID, msg); err != nil {
		c.log.WithError(err).WithField("round_id", roundID).Error("failed to persist round warning")
	}
}

func (c *roundController) onUploadWarning(w media.Warning) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := fmt.Sprintf("recording upload failed after %d attempts", w.Attempts)
	if w.Attempts == 0 {
		msg = "recording upload could not be queued"
	}
	c.addWarning(ctx, c.lookupRound(w.RoundID), w.RoundID, msg)
}

func (c *roundController) UploadRecording(ctx context.Context, rc *models.RoundContext, blob media.Blob) (*media.UploadHandle, error) {
	const op = "RoundController.UploadRecording"

	run, err := c.liveRun(op, rc)
	if err != nil {
		return nil, err
	}
	run.mu.Lock()
	open := !run.state.Terminal() && !run.finalizing
	run.mu.Unlock()
	if !open {
		return nil, utils.E(utils.CodeInvalidState, op, "interview round is not active", nil)
	}
	if c.media == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "recording uploads are disabled", nil)
	}

	// queue failures surface as round warnings, never as request errors
	return c.media.EnqueueUpload(rc.RoundID, blob), nil
}

func (c *roundController) appendable(op string, rc *models.RoundContext) error {
	run, err := c.liveRun(op, rc)
	if err != nil {
		return err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.state.Terminal() || run.finalizing {
		return utils.E(utils.CodeInvalidState, op, "interview round is not active", nil)
	}
	return nil
}

func (c *roundController) AppendMessage(ctx context.Context, rc *models.RoundContext, role models.MessengerRole, typ models.MessageType, content string) (*models.TranscriptEvent, error) {
	const op = "RoundController.AppendMessage"

	if err := c.appendable(op, rc); err != nil {
		return nil, err
	}
	if typ == "" {
		typ = models.MessageText
	}
	return c.transcript.Append(ctx, rc.RoundID, models.TranscriptEvent{
		MessengerRole: role,
		MessageType:   typ,
		Content:       content,
	})
}

func (c *roundController) AppendToolResult(ctx context.Context, rc *models.RoundContext, tool models.ToolInvocation) (*models.TranscriptEvent, error) {
	const op = "RoundController.AppendToolResult"

	if strings.TrimSpace(tool.Name) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "tool_name is required", nil)
	}
	if err := c.appendable(op, rc); err != nil {
		return nil, err
	}
	return c.transcript.Append(ctx, rc.RoundID, models.TranscriptEvent{
		MessengerRole: models.RoleSystem,
		MessageType:   models.MessageToolResult,
		Content:       tool.Output,
		Tool:          &tool,
	})
}

func (c *roundController) Transcript(ctx context.Context, rc *models.RoundContext, after, limit int64) ([]models.TranscriptEvent, error) {
	const op = "RoundController.Transcript"

	if rc == nil || rc.RoundID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "round context is required", nil)
	}
	return c.transcript.ListSince(ctx, rc.RoundID, after, limit)
}

func (c *roundController) Status(ctx context.Context, rc *models.RoundContext) (*models.RoundStatus, error) {
	const op = "RoundController.Status"

	run, err := c.liveRun(op, rc)
	if err != nil {
		return nil, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.statusLocked(), nil
}

func (c *roundController) AgentURL(ctx context.Context, rc *models.RoundContext) (string, error) {
	const op = "RoundController.AgentURL"

	if err := c.appendable(op, rc); err != nil {
		return "", err
	}
	round, err := c.rounds.GetByID(ctx, rc.RoundID)
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "failed to load interview round", err)
	}
	if round.AgentEndpoint == "" {
		return "", utils.E(utils.CodeNotFound, op, "no interview agent for this round", nil)
	}
	return round.AgentEndpoint, nil
}
