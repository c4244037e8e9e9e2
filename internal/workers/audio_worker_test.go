package workers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokeshkhabiya/round0/internal/events"
	"github.com/lokeshkhabiya/round0/internal/logger"
	"github.com/lokeshkhabiya/round0/internal/models"
)

type fakeSTT struct {
	text string
	err  error

	mu        sync.Mutex
	languages []string
}

func (f *fakeSTT) Transcribe(_ context.Context, _ []byte, language string) (string, float64, error) {
	f.mu.Lock()
	f.languages = append(f.languages, language)
	f.mu.Unlock()
	return f.text, 0.9, f.err
}

func (f *fakeSTT) Close() error { return nil }

type recordingAppender struct {
	mu     sync.Mutex
	events []models.TranscriptEvent
	err    error
}

func (r *recordingAppender) AppendMessage(_ context.Context, rc *models.RoundContext, role models.MessengerRole, typ models.MessageType, content string) (*models.TranscriptEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	ev := models.TranscriptEvent{RoundID: rc.RoundID, SequenceNo: int64(len(r.events) + 1), MessengerRole: role, MessageType: typ, Content: content}
	r.events = append(r.events, ev)
	return &ev, nil
}

func (r *recordingAppender) snapshot() []models.TranscriptEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TranscriptEvent(nil), r.events...)
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestAudioWorkerPool_TranscribesIntoRound(t *testing.T) {
	rdb := setupRedis(t)
	speech := &fakeSTT{text: " I would use a heap "}
	rounds := &recordingAppender{}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &AudioWorkerPool{
		Redis:      rdb,
		Rounds:     rounds,
		STT:        speech,
		NumWorkers: 1,
		Block:      50 * time.Millisecond,
		Logger:     logger.Discard(),
	}
	require.NoError(t, pool.Start(ctx))
	defer func() {
		cancel()
		pool.Wait()
	}()

	pub := events.NewRedisPublisher(rdb)
	require.NoError(t, pub.EnqueueAudio(ctx, events.AudioChunk{
		RoundID:     "r-1",
		ChunkIndex:  1,
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("pcm")),
		Language:    "hi",
	}))

	require.Eventually(t, func() bool { return len(rounds.snapshot()) == 1 }, 3*time.Second, 10*time.Millisecond)

	ev := rounds.snapshot()[0]
	assert.Equal(t, "r-1", ev.RoundID)
	assert.Equal(t, models.RoleCandidate, ev.MessengerRole)
	assert.Equal(t, models.MessageAudio, ev.MessageType)
	assert.Equal(t, "I would use a heap", ev.Content)

	speech.mu.Lock()
	assert.Equal(t, []string{"hi-IN"}, speech.languages)
	speech.mu.Unlock()
}

func statusOf(t *testing.T, sub *redis.PubSub) audioStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var st audioStatus
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &st))
	return st
}

func TestAudioWorkerPool_HandleFailures(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, events.StatusChannel("r-1"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	msg := func(audio string) redis.XMessage {
		return redis.XMessage{ID: "1-0", Values: map[string]any{
			"round_id":     "r-1",
			"chunk_index":  "4",
			"audio_base64": audio,
		}}
	}

	t.Run("bad base64", func(t *testing.T) {
		rounds := &recordingAppender{}
		p := &AudioWorkerPool{Redis: rdb, Rounds: rounds, STT: &fakeSTT{text: "x"}, Logger: logger.Discard()}
		p.handleMsg(ctx, msg("%%%"))

		st := statusOf(t, sub)
		assert.Equal(t, "failed", st.Status)
		assert.Equal(t, int64(4), st.ChunkIndex)
		assert.Empty(t, rounds.snapshot())
	})

	t.Run("stt error", func(t *testing.T) {
		rounds := &recordingAppender{}
		p := &AudioWorkerPool{Redis: rdb, Rounds: rounds, STT: &fakeSTT{err: errors.New("quota")}, Logger: logger.Discard()}
		p.handleMsg(ctx, msg("data:audio/webm;base64,"+base64.StdEncoding.EncodeToString([]byte("pcm"))))

		assert.Equal(t, "processing", statusOf(t, sub).Status)
		assert.Equal(t, "failed", statusOf(t, sub).Status)
		assert.Empty(t, rounds.snapshot())
	})

	t.Run("silence is not appended", func(t *testing.T) {
		rounds := &recordingAppender{}
		p := &AudioWorkerPool{Redis: rdb, Rounds: rounds, STT: &fakeSTT{text: "  "}, Logger: logger.Discard()}
		p.handleMsg(ctx, msg(base64.StdEncoding.EncodeToString([]byte("pcm"))))

		assert.Equal(t, "processing", statusOf(t, sub).Status)
		assert.Equal(t, "done", statusOf(t, sub).Status)
		assert.Empty(t, rounds.snapshot())
	})

	t.Run("round not accepting", func(t *testing.T) {
		rounds := &recordingAppender{err: errors.New("interview round is not active")}
		p := &AudioWorkerPool{Redis: rdb, Rounds: rounds, STT: &fakeSTT{text: "hello"}, Logger: logger.Discard()}
		p.handleMsg(ctx, msg(base64.StdEncoding.EncodeToString([]byte("pcm"))))

		assert.Equal(t, "processing", statusOf(t, sub).Status)
		assert.Equal(t, "failed", statusOf(t, sub).Status)
	})
}

func TestAudioWorkerPool_StartRequiresDeps(t *testing.T) {
	p := &AudioWorkerPool{}
	assert.Error(t, p.Start(context.Background()))
}
