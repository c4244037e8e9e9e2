package workers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lokeshkhabiya/round0/internal/events"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/providers/stt"
)

// MessageAppender is the slice of the round controller the workers write to.
type MessageAppender interface {
	AppendMessage(ctx context.Context, rc *models.RoundContext, role models.MessengerRole, typ models.MessageType, content string) (*models.TranscriptEvent, error)
}

// AudioWorkerPool transcribes candidate audio chunks from the audio stream and
// appends the text to the round transcript.
type AudioWorkerPool struct {
	Redis      *redis.Client
	Rounds     MessageAppender
	STT        stt.Provider
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	Block          time.Duration

	wg sync.WaitGroup
}

func (p *AudioWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Rounds == nil || p.STT == nil {
		return errors.New("AudioWorkerPool missing dependency: Redis/Rounds/STT must be set")
	}
	if p.Stream == "" {
		p.Stream = events.AudioStream
	}
	if p.Group == "" {
		p.Group = "audio-workers"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.Block <= 0 {
		p.Block = 5 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runConsumer(ctx, consumer)
		}()
	}
	return nil
}

// Wait blocks until every consumer has returned after ctx was cancelled.
func (p *AudioWorkerPool) Wait() { p.wg.Wait() }

func (p *AudioWorkerPool) runConsumer(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    p.Block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("audio stream read failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.handleMsg(ctx, msg)
				_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
			}
		}
	}
}

type audioStatus struct {
	Type       string `json:"type"`
	RoundID    string `json:"round_id"`
	ChunkIndex int64  `json:"chunk_index"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

func (p *AudioWorkerPool) publishStatus(ctx context.Context, roundID string, chunkIndex int64, status, message string) {
	b, _ := json.Marshal(audioStatus{Type: "audio_status", RoundID: roundID, ChunkIndex: chunkIndex, Status: status, Message: message})
	_ = p.Redis.Publish(ctx, events.StatusChannel(roundID), string(b)).Err()
}

func (p *AudioWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) {
	getStr := func(k string) string {
		v, ok := msg.Values[k]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}

	roundID := getStr("round_id")
	chunkIndexStr := getStr("chunk_index")
	if roundID == "" || chunkIndexStr == "" {
		return
	}
	chunkIndex, _ := strconv.ParseInt(chunkIndexStr, 10, 64)

	log := p.Logger.WithFields(logrus.Fields{
		"redis_id":    msg.ID,
		"round_id":    roundID,
		"chunk_index": chunkIndex,
	})

	raw := getStr("audio_base64")
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[i+1:] // strip data:...;base64,
	}
	audio, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(audio) == 0 {
		log.WithError(err).Warn("invalid audio chunk")
		p.publishStatus(ctx, roundID, chunkIndex, "failed", "invalid audio_base64")
		return
	}

	p.publishStatus(ctx, roundID, chunkIndex, "processing", "")

	text, conf, err := p.STT.Transcribe(ctx, audio, stt.NormalizeLanguage(getStr("language")))
	if err != nil {
		log.WithError(err).Error("stt failed")
		p.publishStatus(ctx, roundID, chunkIndex, "failed", "speech recognition failed")
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.publishStatus(ctx, roundID, chunkIndex, "done", "no speech detected")
		return
	}

	rc := &models.RoundContext{RoundID: roundID}
	ev, err := p.Rounds.AppendMessage(ctx, rc, models.RoleCandidate, models.MessageAudio, text)
	if err != nil {
		// the round may live on another instance or be over already
		log.WithError(err).Warn("failed to append transcribed audio")
		p.publishStatus(ctx, roundID, chunkIndex, "failed", "round is not accepting audio")
		return
	}

	log.WithFields(logrus.Fields{"sequence_no": ev.SequenceNo, "confidence": conf}).Debug("audio chunk transcribed")
	p.publishStatus(ctx, roundID, chunkIndex, "done", "")
}
