package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lokeshkhabiya/round0/internal/events"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/services"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

const wsReplayPage = 200

// RoundFeed is the live side of a round: subscriptions out, audio in.
type RoundFeed interface {
	Subscribe(ctx context.Context, roundID string) *redis.PubSub
	EnqueueAudio(ctx context.Context, c events.AudioChunk) error
}

type WSHandler struct {
	ctrl     services.RoundController
	feed     RoundFeed
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(ctrl services.RoundController, feed RoundFeed, log *logrus.Logger) *WSHandler {
	if log == nil {
		log = logrus.New()
	}
	return &WSHandler{
		ctrl: ctrl,
		feed: feed,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict origin once the web app domain is fixed
		},
	}
}

type wsClientMsg struct {
	Type string `json:"type"`

	// message
	Content string `json:"content"`

	// audio_chunk
	ChunkIndex  int64  `json:"chunk_index"`
	AudioBase64 string `json:"audio_base64"`
	Language    string `json:"language"`
	IsFinal     bool   `json:"is_final"`
}

type wsErrorMsg struct {
	Type    string     `json:"type"`
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type wsAckMsg struct {
	Type       string `json:"type"`
	ChunkIndex int64  `json:"chunk_index,omitempty"`
	Sequence   int64  `json:"sequence_no,omitempty"`
}

// transcriptPeek reads just enough of a published frame to drop replayed events.
type transcriptPeek struct {
	Type  string `json:"type"`
	Event struct {
		SequenceNo int64 `json:"sequence_no"`
	} `json:"event"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeText(b)
}

func (w *wsConn) writeError(err error) error {
	return w.writeJSON(wsErrorMsg{Type: "error", Code: utils.CodeOf(err), Message: utils.SafeMessage(err)})
}

// RoundWS streams the transcript of a round to the client, starting after ?after=N,
// and accepts candidate messages and audio chunks.
func (h *WSHandler) RoundWS(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}
	after, err := queryInt64(c, "after", 0)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	log := h.log.WithField("round_id", rc.RoundID)

	// subscribe before the replay so nothing falls between them
	pubsub := h.feed.Subscribe(ctx, rc.RoundID)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		log.WithError(err).Warn("ws subscribe failed")
		return
	}

	lastSent := after
	for {
		backlog, err := h.ctrl.Transcript(ctx, rc, lastSent, wsReplayPage)
		if err != nil {
			_ = wc.writeError(err)
			return
		}
		for i := range backlog {
			if err := wc.writeJSON(gin.H{"type": "transcript", "event": &backlog[i]}); err != nil {
				return
			}
			lastSent = backlog[i].SequenceNo
		}
		if len(backlog) < wsReplayPage {
			break
		}
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		h.readLoop(ctx, wc, rc)
	}()

	msgs := pubsub.Channel()
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if m.Channel == events.TranscriptChannel(rc.RoundID) {
				var peek transcriptPeek
				if json.Unmarshal([]byte(m.Payload), &peek) == nil {
					if peek.Event.SequenceNo <= lastSent {
						continue
					}
					lastSent = peek.Event.SequenceNo
				}
			}
			// forward as-is
			if werr := wc.writeText([]byte(m.Payload)); werr != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, wc *wsConn, rc *models.RoundContext) {
	conn := wc.c
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, rerr := conn.ReadMessage()
		if rerr != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var msg wsClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler.read", "invalid json", err))
			continue
		}

		switch msg.Type {
		case "message":
			ev, err := h.ctrl.AppendMessage(ctx, rc, models.RoleCandidate, models.MessageText, msg.Content)
			if err != nil {
				_ = wc.writeError(err)
				continue
			}
			_ = wc.writeJSON(wsAckMsg{Type: "ack", Sequence: ev.SequenceNo})

		case "audio_chunk":
			if msg.ChunkIndex <= 0 {
				_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler.read", "chunk_index must be > 0", nil))
				continue
			}
			if msg.AudioBase64 == "" {
				_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler.read", "audio_base64 required", nil))
				continue
			}
			err := h.feed.EnqueueAudio(ctx, events.AudioChunk{
				RoundID:     rc.RoundID,
				ChunkIndex:  msg.ChunkIndex,
				AudioBase64: msg.AudioBase64,
				Language:    msg.Language,
				IsFinal:     msg.IsFinal,
			})
			if err != nil {
				_ = wc.writeError(utils.E(utils.CodeUnavailable, "WSHandler.read", "failed to enqueue audio", err))
				continue
			}
			_ = wc.writeJSON(wsAckMsg{Type: "ack", ChunkIndex: msg.ChunkIndex})

		case "ping":
			_ = wc.writeJSON(wsAckMsg{Type: "pong"})

		default:
			_ = wc.writeError(utils.E(utils.CodeInvalidArgument, "WSHandler.read", "unknown message type", nil))
		}
	}
}
