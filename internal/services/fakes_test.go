package services

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/providers/evaluator"
	"github.com/lokeshkhabiya/round0/internal/providers/llm"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

// rounds

type memRoundRepo struct {
	mu          sync.Mutex
	rows        map[string]*models.Round
	setStatusFn func(roundID string, status models.RoundState) error
	getErr      error
}

func newMemRoundRepo(rows ...models.Round) *memRoundRepo {
	r := &memRoundRepo{rows: map[string]*models.Round{}}
	for i := range rows {
		row := rows[i]
		r.rows[row.ID] = &row
	}
	return r
}

func (r *memRoundRepo) GetByID(_ context.Context, roundID string) (*models.Round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	row, ok := r.rows[roundID]
	if !ok {
		return nil, utils.ErrNotFound
	}
	out := *row
	return &out, nil
}

func (r *memRoundRepo) SetStatus(_ context.Context, roundID string, status models.RoundState, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setStatusFn != nil {
		if err := r.setStatusFn(roundID, status); err != nil {
			return err
		}
	}
	row, ok := r.rows[roundID]
	if !ok {
		return utils.ErrNotFound
	}
	row.Status = string(status)
	return nil
}

func (r *memRoundRepo) AppendWarning(_ context.Context, roundID, warning string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[roundID]; ok {
		row.Warnings = append(row.Warnings, warning)
	}
	return nil
}

func (r *memRoundRepo) status(roundID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[roundID].Status
}

func (r *memRoundRepo) warnings(roundID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.rows[roundID].Warnings...)
}

// transcript store with the same (round_id, sequence_no) uniqueness as the mongo index

type memTranscriptRepo struct {
	mu         sync.Mutex
	events     []models.TranscriptEvent
	insertHook func(ev *models.TranscriptEvent) error
	delay      time.Duration
	tailErr    error
}

func (r *memTranscriptRepo) Insert(_ context.Context, ev *models.TranscriptEvent) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertHook != nil {
		if err := r.insertHook(ev); err != nil {
			return err
		}
	}
	for _, e := range r.events {
		if e.RoundID == ev.RoundID && e.SequenceNo == ev.SequenceNo {
			return utils.ErrDuplicate
		}
	}
	r.events = append(r.events, *ev)
	return nil
}

func (r *memTranscriptRepo) LastSequence(_ context.Context, roundID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tailErr != nil {
		return 0, r.tailErr
	}
	var last int64
	for _, e := range r.events {
		if e.RoundID == roundID && e.SequenceNo > last {
			last = e.SequenceNo
		}
	}
	return last, nil
}

func (r *memTranscriptRepo) ListSince(_ context.Context, roundID string, after int64, limit int64) ([]models.TranscriptEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.TranscriptEvent{}
	for _, e := range r.events {
		if e.RoundID == roundID && e.SequenceNo > after {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNo < out[j].SequenceNo })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// evaluations

type memEvaluationRepo struct {
	mu   sync.Mutex
	rows []models.EvaluationResult
}

func (r *memEvaluationRepo) Insert(_ context.Context, res *models.EvaluationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *res)
	return nil
}

func (r *memEvaluationRepo) ListByRound(_ context.Context, roundID string) ([]models.EvaluationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EvaluationResult
	for _, row := range r.rows {
		if row.RoundID == roundID {
			out = append(out, row)
		}
	}
	return out, nil
}

// judge

type fakeJudge struct {
	mu       sync.Mutex
	calls    int
	codeFn   func(ctx context.Context, in models.CodeSubmission) (*evaluator.Verdict, error)
	designFn func(ctx context.Context, in models.DesignSubmission) (*evaluator.Verdict, error)
}

func (j *fakeJudge) JudgeCode(ctx context.Context, in models.CodeSubmission) (*evaluator.Verdict, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	if j.codeFn != nil {
		return j.codeFn(ctx, in)
	}
	return &evaluator.Verdict{Passed: true, Feedback: "looks right"}, nil
}

func (j *fakeJudge) JudgeDesign(ctx context.Context, in models.DesignSubmission) (*evaluator.Verdict, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	if j.designFn != nil {
		return j.designFn(ctx, in)
	}
	return &evaluator.Verdict{Passed: true, Feedback: "solid design"}, nil
}

func (j *fakeJudge) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

// verifier

type fakeVerifier struct {
	mu       sync.Mutex
	calls    int
	contexts map[string]models.RoundContext
	errs     map[string]error
	delay    time.Duration
	consumed []string
}

func (v *fakeVerifier) Verify(ctx context.Context, token string) (*models.RoundContext, error) {
	if v.delay > 0 {
		time.Sleep(v.delay)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if err, ok := v.errs[token]; ok {
		return nil, err
	}
	rc, ok := v.contexts[token]
	if !ok {
		return nil, utils.E(utils.CodeTokenInvalid, "fakeVerifier.Verify", "invalid interview token", nil)
	}
	return &rc, nil
}

func (v *fakeVerifier) Issue(context.Context, *models.Round, time.Duration) (string, error) {
	return "", errors.New("not supported")
}

func (v *fakeVerifier) MarkConsumed(_ context.Context, roundID string, _ time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.consumed = append(v.consumed, roundID)
}

func (v *fakeVerifier) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// evaluator scripted per call, for retry policy tests

type scriptedEvaluator struct {
	mu    sync.Mutex
	calls int
	errs  []error // errs[i] is returned by call i; past the end calls succeed
}

func (e *scriptedEvaluator) next(roundID string, typ models.ArtifactType) (*models.EvaluationResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.calls
	e.calls++
	if i < len(e.errs) && e.errs[i] != nil {
		return nil, e.errs[i]
	}
	return &models.EvaluationResult{ID: "res-" + string(rune('a'+i)), RoundID: roundID, ArtifactType: typ, Passed: true, Feedback: "ok"}, nil
}

func (e *scriptedEvaluator) EvaluateCode(_ context.Context, roundID string, _ models.CodeSubmission) (*models.EvaluationResult, error) {
	return e.next(roundID, models.ArtifactCode)
}

func (e *scriptedEvaluator) EvaluateDesign(_ context.Context, roundID string, _ models.DesignSubmission) (*models.EvaluationResult, error) {
	return e.next(roundID, models.ArtifactDesign)
}

func (e *scriptedEvaluator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// uploader that always fails

type brokenUploader struct {
	calls atomic.Int32
}

func (u *brokenUploader) Upload(context.Context, string, string, io.Reader) (string, error) {
	u.calls.Add(1)
	return "", errors.New("bucket unreachable")
}

// mentor store

type memMentorRepo struct {
	mu       sync.Mutex
	sessions map[string]models.MentorSession
	messages []models.MentorMessage
	updates  int
}

func newMemMentorRepo() *memMentorRepo {
	return &memMentorRepo{sessions: map[string]models.MentorSession{}}
}

func (r *memMentorRepo) CreateSession(_ context.Context, s *models.MentorSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memMentorRepo) GetSession(_ context.Context, id string) (*models.MentorSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	return &s, nil
}

func (r *memMentorRepo) ListSessions(_ context.Context, candidateID string, _ int) ([]models.MentorSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MentorSession
	for _, s := range r.sessions {
		if s.CandidateID == candidateID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memMentorRepo) InsertMessage(_ context.Context, m *models.MentorMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *m)
	return nil
}

func (r *memMentorRepo) UpdateMessage(_ context.Context, id, content string, status models.MessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		m := &r.messages[i]
		if m.ID == id && !m.Status.Frozen() {
			m.Content = content
			m.Status = status
			r.updates++
		}
	}
	return nil
}

func (r *memMentorRepo) ListMessages(_ context.Context, sessionID string) ([]models.MentorMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MentorMessage
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMentorRepo) message(id string) models.MentorMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			return m
		}
	}
	return models.MentorMessage{}
}

// streaming llm fed by the test

type llmStream struct {
	in   chan string
	fail chan error
}

type chanLLM struct {
	mu      sync.Mutex
	streams []*llmStream
	prompts []string
	started chan int
}

func newChanLLM() *chanLLM { return &chanLLM{started: make(chan int, 8)} }

func (l *chanLLM) StreamAnswer(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	st := &llmStream{in: make(chan string), fail: make(chan error, 1)}
	out := make(chan string)
	errs := make(chan error, 1)

	l.mu.Lock()
	l.streams = append(l.streams, st)
	l.prompts = append(l.prompts, prompt)
	idx := len(l.streams) - 1
	l.mu.Unlock()
	l.started <- idx

	go func() {
		defer close(errs)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case err := <-st.fail:
				errs <- err
				return
			case s, ok := <-st.in:
				if !ok {
					return
				}
				select {
				case out <- s:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}
	}()
	return out, errs
}

func (l *chanLLM) Complete(context.Context, string, ...llm.Attachment) (string, error) {
	return "", errors.New("not used")
}

func (l *chanLLM) Close() error { return nil }

func (l *chanLLM) stream(i int) *llmStream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streams[i]
}
