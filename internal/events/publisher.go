package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lokeshkhabiya/round0/internal/models"
)

const AudioStream = "audio:stream"

func TranscriptChannel(roundID string) string { return "round:" + roundID + ":transcript" }
func StatusChannel(roundID string) string     { return "round:" + roundID + ":status" }

// Publisher fans round activity out to live subscribers (websocket clients).
// Publishing is best effort; the transcript store stays the source of truth.
type Publisher interface {
	PublishTranscript(ctx context.Context, ev *models.TranscriptEvent) error
	PublishStatus(ctx context.Context, roundID string, state models.RoundState, message string) error
}

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

type transcriptFrame struct {
	Type  string                  `json:"type"`
	Event *models.TranscriptEvent `json:"event"`
}

type statusFrame struct {
	Type    string            `json:"type"`
	RoundID string            `json:"round_id"`
	State   models.RoundState `json:"state"`
	Message string            `json:"message,omitempty"`
}

func (p *RedisPublisher) PublishTranscript(ctx context.Context, ev *models.TranscriptEvent) error {
	b, err := json.Marshal(transcriptFrame{Type: "transcript", Event: ev})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, TranscriptChannel(ev.RoundID), b).Err()
}

func (p *RedisPublisher) PublishStatus(ctx context.Context, roundID string, state models.RoundState, message string) error {
	b, err := json.Marshal(statusFrame{Type: "status", RoundID: roundID, State: state, Message: message})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, StatusChannel(roundID), b).Err()
}

// Subscribe listens on both channels of a round. Caller closes the returned PubSub.
func (p *RedisPublisher) Subscribe(ctx context.Context, roundID string) *redis.PubSub {
	return p.rdb.Subscribe(ctx, TranscriptChannel(roundID), StatusChannel(roundID))
}

// AudioChunk is one piece of candidate audio waiting for transcription.
type AudioChunk struct {
	RoundID     string
	ChunkIndex  int64
	AudioBase64 string
	Language    string
	IsFinal     bool
}

// EnqueueAudio pushes a chunk onto the audio stream consumed by the audio workers.
func (p *RedisPublisher) EnqueueAudio(ctx context.Context, c AudioChunk) error {
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: AudioStream,
		Values: map[string]any{
			"round_id":     c.RoundID,
			"chunk_index":  strconv.FormatInt(c.ChunkIndex, 10),
			"audio_base64": c.AudioBase64,
			"language":     c.Language,
			"is_final":     strconv.FormatBool(c.IsFinal),
			"ts_unix":      strconv.FormatInt(time.Now().UTC().Unix(), 10),
		},
	}).Err()
}
