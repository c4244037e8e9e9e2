package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lokeshkhabiya/round0/internal/metrics"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/providers/llm"
	pgrepo "github.com/lokeshkhabiya/round0/internal/repositories/postgres"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

const (
	mentorHistoryLimit = 20
	mentorTitleMax     = 60
	// a superseded stream gets this long to freeze its message before the next one starts
	mentorHandoverWait = 5 * time.Second
)

type MentorService interface {
	CreateSession(ctx context.Context, candidateID, title string, interviewSessionID *string) (*models.MentorSession, error)
	ListSessions(ctx context.Context, candidateID string, limit int) ([]models.MentorSession, error)
	ListMessages(ctx context.Context, candidateID, sessionID string) ([]models.MentorMessage, error)
	// Stream stores the query and answers it, calling onDelta for every chunk.
	// The returned message is frozen: final on success, error with the partial answer otherwise.
	Stream(ctx context.Context, candidateID, sessionID, query string, onDelta func(delta string) error) (*models.MentorMessage, error)
}

type activeStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type mentorService struct {
	repo pgrepo.MentorRepository
	llm  llm.Provider
	log  *logrus.Logger

	persistEvery time.Duration

	mu      sync.Mutex
	streams map[string]*activeStream
}

func NewMentorService(repo pgrepo.MentorRepository, provider llm.Provider, log *logrus.Logger) MentorService {
	if log == nil {
		log = logrus.New()
	}
	return &mentorService{
		repo:         repo,
		llm:          provider,
		log:          log,
		persistEvery: 300 * time.Millisecond,
		streams:      make(map[string]*activeStream),
	}
}

func (s *mentorService) CreateSession(ctx context.Context, candidateID, title string, interviewSessionID *string) (*models.MentorSession, error) {
	const op = "MentorService.CreateSession"

	if candidateID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "candidate_id is required", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New mentor session"
	}
	if len(title) > mentorTitleMax {
		title = title[:mentorTitleMax]
	}
	if interviewSessionID != nil && *interviewSessionID == "" {
		interviewSessionID = nil
	}

	sess := &models.MentorSession{
		ID:                 uuid.NewString(),
		CandidateID:        candidateID,
		InterviewSessionID: interviewSessionID,
		Title:              title,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create mentor session", err)
	}
	return sess, nil
}

func (s *mentorService) ListSessions(ctx context.Context, candidateID string, limit int) ([]models.MentorSession, error) {
	const op = "MentorService.ListSessions"

	if candidateID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "candidate_id is required", nil)
	}
	rows, err := s.repo.ListSessions(ctx, candidateID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list mentor sessions", err)
	}
	return rows, nil
}

func (s *mentorService) ownedSession(ctx context.Context, op, candidateID, sessionID string) (*models.MentorSession, error) {
	if candidateID == "" || sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "candidate_id and session_id are required", nil)
	}
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "mentor session not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get mentor session", err)
	}
	// someone else's session looks the same as a missing one
	if sess.CandidateID != candidateID {
		return nil, utils.E(utils.CodeNotFound, op, "mentor session not found", nil)
	}
	return sess, nil
}

func (s *mentorService) ListMessages(ctx context.Context, candidateID, sessionID string) ([]models.MentorMessage, error) {
	const op = "MentorService.ListMessages"

	if _, err := s.ownedSession(ctx, op, candidateID, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list mentor messages", err)
	}
	return rows, nil
}

// claim makes this call the only live stream of the session, cancelling and
// waiting out any previous one.
func (s *mentorService) claim(ctx context.Context, sessionID string) (context.Context, *activeStream, func()) {
	sctx, cancel := context.WithCancel(ctx)
	mine := &activeStream{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	prev := s.streams[sessionID]
	s.streams[sessionID] = mine
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
		select {
		case <-prev.done:
		case <-time.After(mentorHandoverWait):
			s.log.WithField("session_id", sessionID).Warn("previous mentor stream did not settle in time")
		}
	}

	return sctx, mine, func() {
		cancel()
		s.mu.Lock()
		if s.streams[sessionID] == mine {
			delete(s.streams, sessionID)
		}
		s.mu.Unlock()
		close(mine.done)
	}
}

func (s *mentorService) Stream(ctx context.Context, candidateID, sessionID, query string, onDelta func(delta string) error) (*models.MentorMessage, error) {
	const op = "MentorService.Stream"

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}
	if _, err := s.ownedSession(ctx, op, candidateID, sessionID); err != nil {
		return nil, err
	}

	sctx, mine, release := s.claim(ctx, sessionID)
	defer release()

	history, err := s.repo.ListMessages(sctx, sessionID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load mentor history", err)
	}

	now := time.Now().UTC()
	question := &models.MentorMessage{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		MessengerRole: models.MentorRoleCandidate,
		Content:       query,
		Status:        models.MessageFinal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.InsertMessage(sctx, question); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save mentor query", err)
	}

	answer := &models.MentorMessage{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		MessengerRole: models.MentorRoleAI,
		Status:        models.MessagePending,
		CreatedAt:     now.Add(time.Millisecond),
		UpdatedAt:     now,
	}
	if err := s.repo.InsertMessage(sctx, answer); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create mentor answer", err)
	}

	log := s.log.WithFields(logrus.Fields{"session_id": sessionID, "message_id": answer.ID})
	metrics.MentorStreamStarted()

	chunks, errs := s.llm.StreamAnswer(sctx, mentorPrompt(history, query))

	var (
		full        strings.Builder
		lastPersist time.Time
		sinkErr     error
	)
	for chunk := range chunks {
		if chunk == "" || sinkErr != nil {
			continue
		}
		full.WriteString(chunk)

		if answer.Status == models.MessagePending {
			answer.Status = models.MessageStreaming
		}
		if time.Since(lastPersist) >= s.persistEvery {
			if err := s.repo.UpdateMessage(sctx, answer.ID, full.String(), models.MessageStreaming); err != nil {
				log.WithError(err).Warn("failed to persist partial mentor answer")
			}
			lastPersist = time.Now()
		}

		if onDelta != nil {
			if err := onDelta(chunk); err != nil {
				// the reader is gone; stop the model and keep what was produced
				sinkErr = err
				mine.cancel()
			}
		}
	}

	var streamErr error
	select {
	case streamErr = <-errs:
	default:
	}

	answer.Content = full.String()
	answer.UpdatedAt = time.Now().UTC()
	outcome := "final"
	switch {
	case sinkErr != nil, sctx.Err() != nil:
		answer.Status = models.MessageError
		outcome = "cancelled"
	case streamErr != nil:
		answer.Status = models.MessageError
		outcome = "error"
	default:
		answer.Status = models.MessageFinal
	}

	// frozen even when the request context is gone
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.repo.UpdateMessage(fctx, answer.ID, answer.Content, answer.Status); err != nil {
		log.WithError(err).Error("failed to freeze mentor answer")
	}
	metrics.MentorStreamFinished(outcome)

	switch outcome {
	case "cancelled":
		return answer, utils.E(utils.CodeStreamTransportError, op, "mentor stream cancelled", errors.Join(sinkErr, sctx.Err()))
	case "error":
		log.WithError(streamErr).Warn("mentor stream failed")
		return answer, utils.E(utils.CodeStreamTransportError, op, "mentor stream failed", streamErr)
	}
	return answer, nil
}

func mentorPrompt(history []models.MentorMessage, query string) string {
	if len(history) > mentorHistoryLimit {
		history = history[len(history)-mentorHistoryLimit:]
	}

	var b strings.Builder
	b.WriteString("You are an interview mentor helping a candidate prepare for technical interviews. ")
	b.WriteString("Answer clearly and concisely, with short examples when useful.\n\n")
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, m := range history {
			if m.Status == models.MessageError || strings.TrimSpace(m.Content) == "" {
				continue
			}
			b.WriteString(string(m.MessengerRole))
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("candidate: ")
	b.WriteString(query)
	b.WriteString("\nai_mentor:")
	return b.String()
}
