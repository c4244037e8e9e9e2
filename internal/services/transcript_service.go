package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lokeshkhabiya/round0/internal/events"
	"github.com/lokeshkhabiya/round0/internal/metrics"
	"github.com/lokeshkhabiya/round0/internal/models"
	mongorepo "github.com/lokeshkhabiya/round0/internal/repositories/mongo"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

// TranscriptService is the only writer of transcript sequence numbers.
// Appends for one round are serialized; different rounds never wait on each other.
type TranscriptService interface {
	Append(ctx context.Context, roundID string, ev models.TranscriptEvent) (*models.TranscriptEvent, error)
	ListSince(ctx context.Context, roundID string, after int64, limit int64) ([]models.TranscriptEvent, error)
	// Flush waits for in-flight appends of the round and checks the store has all of them.
	Flush(ctx context.Context, roundID string) error
	// Release drops the in-memory sequence state of a finished round.
	Release(roundID string)
}

// a store insert racing with another server instance can lose the sequence
// number; reload the tail and try again a few times
const maxSequenceConflicts = 3

type roundSeq struct {
	mu     sync.Mutex
	last   int64
	loaded bool

	refs    int // guarded by transcriptService.mu
	closing bool
}

type transcriptService struct {
	events    mongorepo.TranscriptRepository
	publisher events.Publisher
	log       *logrus.Logger

	mu     sync.Mutex
	rounds map[string]*roundSeq
}

func NewTranscriptService(repo mongorepo.TranscriptRepository, pub events.Publisher, log *logrus.Logger) TranscriptService {
	if log == nil {
		log = logrus.New()
	}
	return &transcriptService{
		events:    repo,
		publisher: pub,
		log:       log,
		rounds:    make(map[string]*roundSeq),
	}
}

func (s *transcriptService) acquire(roundID string) *roundSeq {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.rounds[roundID]
	if !ok {
		seq = &roundSeq{}
		s.rounds[roundID] = seq
	}
	seq.refs++
	return seq
}

func (s *transcriptService) release(roundID string, seq *roundSeq) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq.refs--
	if seq.refs == 0 && seq.closing && s.rounds[roundID] == seq {
		delete(s.rounds, roundID)
	}
}

func (s *transcriptService) Append(ctx context.Context, roundID string, ev models.TranscriptEvent) (*models.TranscriptEvent, error) {
	const op = "TranscriptService.Append"

	if roundID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "round_id is required", nil)
	}
	if !ev.MessengerRole.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid messenger_role", nil)
	}
	if !ev.MessageType.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid message_type", nil)
	}
	if strings.TrimSpace(ev.Content) == "" && ev.Tool == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "content is required", nil)
	}

	seq := s.acquire(roundID)
	defer s.release(roundID, seq)

	seq.mu.Lock()
	defer seq.mu.Unlock()

	if !seq.loaded {
		last, err := s.events.LastSequence(ctx, roundID)
		if err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to read transcript tail", err)
		}
		seq.last, seq.loaded = last, true
	}

	out := ev
	out.ID = primitive.NilObjectID
	out.RoundID = roundID
	out.CreatedAt = time.Now().UTC()

	for attempt := 1; ; attempt++ {
		out.SequenceNo = seq.last + 1

		err := s.events.Insert(ctx, &out)
		if err == nil {
			break
		}
		if !errors.Is(err, utils.ErrDuplicate) || attempt >= maxSequenceConflicts {
			// the counter only moves on success, so the next append retries this number
			return nil, utils.E(utils.CodeInternal, op, "failed to append transcript event", err)
		}

		last, lerr := s.events.LastSequence(ctx, roundID)
		if lerr != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to read transcript tail", lerr)
		}
		s.log.WithFields(logrus.Fields{
			"round_id":    roundID,
			"sequence_no": out.SequenceNo,
			"store_last":  last,
		}).Warn("transcript sequence conflict, reloading tail")
		seq.last = last
	}
	seq.last = out.SequenceNo
	metrics.RecordTranscriptAppend(string(out.MessageType))

	// published under the round lock so live subscribers see sequence order
	if s.publisher != nil {
		if err := s.publisher.PublishTranscript(ctx, &out); err != nil {
			s.log.WithError(err).WithField("round_id", roundID).Warn("transcript publish failed")
		}
	}
	return &out, nil
}

func (s *transcriptService) ListSince(ctx context.Context, roundID string, after int64, limit int64) ([]models.TranscriptEvent, error) {
	const op = "TranscriptService.ListSince"

	if roundID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "round_id is required", nil)
	}
	if after < 0 {
		after = 0
	}

	rows, err := s.events.ListSince(ctx, roundID, after, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list transcript", err)
	}
	return rows, nil
}

func (s *transcriptService) Flush(ctx context.Context, roundID string) error {
	const op = "TranscriptService.Flush"

	seq := s.acquire(roundID)
	defer s.release(roundID, seq)

	seq.mu.Lock()
	defer seq.mu.Unlock()

	stored, err := s.events.LastSequence(ctx, roundID)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to read transcript tail", err)
	}
	if seq.loaded && stored < seq.last {
		return utils.E(utils.CodeInternal, op, "transcript store is behind the logger", nil)
	}
	return nil
}

func (s *transcriptService) Release(roundID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.rounds[roundID]
	if !ok {
		return
	}
	if seq.refs == 0 {
		delete(s.rounds, roundID)
		return
	}
	seq.closing = true
}
