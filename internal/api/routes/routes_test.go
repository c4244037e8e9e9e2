package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokeshkhabiya/round0/internal/api/handlers"
	"github.com/lokeshkhabiya/round0/internal/events"
	"github.com/lokeshkhabiya/round0/internal/logger"
	"github.com/lokeshkhabiya/round0/internal/media"
	"github.com/lokeshkhabiya/round0/internal/mentor"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

const testJWTSecret = "mentor-test-secret"

var codeRound = &models.RoundContext{
	InterviewID: "iv-1",
	RoundID:     "r-code",
	RoundType:   models.RoundCode,
	CandidateID: "cand-1",
	ExpiresAt:   time.Now().Add(time.Hour),
}

type stubController struct {
	mu sync.Mutex

	submitted []models.Artifact
	submitErr error
	ended     []*media.Blob
	messages  []string
	backlog   []models.TranscriptEvent
	after     []int64
}

func (s *stubController) BeginRound(_ context.Context, token string) (*models.RoundContext, error) {
	return s.Resolve(context.Background(), token)
}

func (s *stubController) Resolve(_ context.Context, token string) (*models.RoundContext, error) {
	if token != "good-token" {
		return nil, utils.E(utils.CodeTokenInvalid, "stub.Resolve", "interview token is invalid", nil)
	}
	return codeRound, nil
}

func (s *stubController) SubmitArtifact(_ context.Context, rc *models.RoundContext, a models.Artifact) (*models.EvaluationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, a)
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &models.EvaluationResult{ID: "ev-1", RoundID: rc.RoundID, ArtifactType: a.Type, Passed: true, Feedback: "ok"}, nil
}

func (s *stubController) EndRound(_ context.Context, rc *models.RoundContext, recording *media.Blob) (*models.RoundStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, recording)
	return &models.RoundStatus{Context: *rc, State: models.RoundCompleted}, nil
}

func (s *stubController) UploadRecording(_ context.Context, rc *models.RoundContext, _ media.Blob) (*media.UploadHandle, error) {
	return &media.UploadHandle{ID: "up-1", RoundID: rc.RoundID}, nil
}

func (s *stubController) AppendMessage(_ context.Context, rc *models.RoundContext, role models.MessengerRole, typ models.MessageType, content string) (*models.TranscriptEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !role.Valid() || !typ.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, "stub.AppendMessage", "invalid role or type", nil)
	}
	s.messages = append(s.messages, content)
	return &models.TranscriptEvent{RoundID: rc.RoundID, SequenceNo: int64(len(s.messages) + 10), MessengerRole: role, MessageType: typ, Content: content}, nil
}

func (s *stubController) AppendToolResult(_ context.Context, rc *models.RoundContext, tool models.ToolInvocation) (*models.TranscriptEvent, error) {
	return &models.TranscriptEvent{RoundID: rc.RoundID, SequenceNo: 1, MessageType: models.MessageToolResult, Tool: &tool}, nil
}

func (s *stubController) Transcript(_ context.Context, _ *models.RoundContext, after, limit int64) ([]models.TranscriptEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = append(s.after, after)
	var out []models.TranscriptEvent
	for _, ev := range s.backlog {
		if ev.SequenceNo > after && (limit <= 0 || int64(len(out)) < limit) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubController) Status(_ context.Context, rc *models.RoundContext) (*models.RoundStatus, error) {
	return &models.RoundStatus{Context: *rc, State: models.RoundActive}, nil
}

func (s *stubController) AgentURL(context.Context, *models.RoundContext) (string, error) {
	return "", utils.E(utils.CodeNotFound, "stub.AgentURL", "no interview agent for this round", nil)
}

type stubMentor struct {
	deltas    []string
	streamErr error
	msg       *models.MentorMessage
}

func (m *stubMentor) CreateSession(_ context.Context, candidateID, title string, _ *string) (*models.MentorSession, error) {
	return &models.MentorSession{ID: "ms-1", CandidateID: candidateID, Title: title}, nil
}

func (m *stubMentor) ListSessions(_ context.Context, candidateID string, _ int) ([]models.MentorSession, error) {
	return []models.MentorSession{{ID: "ms-1", CandidateID: candidateID}}, nil
}

func (m *stubMentor) ListMessages(_ context.Context, candidateID, sessionID string) ([]models.MentorMessage, error) {
	if sessionID != "ms-1" {
		return nil, utils.E(utils.CodeNotFound, "stub.ListMessages", "mentor session not found", nil)
	}
	return []models.MentorMessage{}, nil
}

func (m *stubMentor) Stream(_ context.Context, _, sessionID, _ string, onDelta func(string) error) (*models.MentorMessage, error) {
	if sessionID != "ms-1" {
		return nil, utils.E(utils.CodeNotFound, "stub.Stream", "mentor session not found", nil)
	}
	for _, d := range m.deltas {
		if err := onDelta(d); err != nil {
			return m.msg, err
		}
	}
	return m.msg, m.streamErr
}

type server struct {
	engine *gin.Engine
	ctrl   *stubController
	mentor *stubMentor
	pub    *events.RedisPublisher
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("SUPABASE_JWT_SECRET", testJWTSecret)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := &server{
		engine: gin.New(),
		ctrl:   &stubController{},
		mentor: &stubMentor{msg: &models.MentorMessage{ID: "mm-1", Status: models.MessageFinal}},
		pub:    events.NewRedisPublisher(rdb),
	}
	RegisterRoutes(s.engine, Deps{
		Interview: handlers.NewInterviewHandler(s.ctrl),
		Mentor:    handlers.NewMentorHandler(s.mentor),
		WS:        handlers.NewWSHandler(s.ctrl, s.pub, logger.Discard()),
		Rounds:    s.ctrl,
	})
	return s
}

func (s *server) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func roundRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer good-token")
	return req
}

func candidateToken(t *testing.T, sub string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return s
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    utils.Code      `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestPingAndMetrics(t *testing.T) {
	s := newServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVerify(t *testing.T) {
	s := newServer(t)

	w := s.do(roundRequest(http.MethodPost, "/interview/verify", nil))
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	var rc models.RoundContext
	require.NoError(t, json.Unmarshal(env.Data, &rc))
	assert.Equal(t, "r-code", rc.RoundID)

	req := httptest.NewRequest(http.MethodPost, "/interview/verify", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = s.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env = decodeEnvelope(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, utils.CodeTokenInvalid, env.Code)
}

func TestRoundRoutes_RequireInterviewToken(t *testing.T) {
	s := newServer(t)

	w := s.do(httptest.NewRequest(http.MethodGet, "/interview/round", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, utils.CodeTokenInvalid, decodeEnvelope(t, w).Code)

	// query token is accepted as well
	w = s.do(httptest.NewRequest(http.MethodGet, "/interview/round?token=good-token", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEvaluateCode(t *testing.T) {
	s := newServer(t)

	w := s.do(roundRequest(http.MethodPost, "/interview/evaluate/code", handlers.EvaluateCodeRequest{
		Language: "go", Code: "package main", Question: "two sum",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.EvaluationResult
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &res))
	assert.True(t, res.Passed)

	require.Len(t, s.ctrl.submitted, 1)
	a := s.ctrl.submitted[0]
	assert.Equal(t, models.ArtifactCode, a.Type)
	require.NotNil(t, a.Code)
	assert.Equal(t, "two sum", a.Code.Question)
}

func TestEvaluateCode_ErrorMapping(t *testing.T) {
	s := newServer(t)

	cases := []struct {
		err    error
		status int
	}{
		{utils.E(utils.CodeEvaluationRejected, "x", "code is required", nil), http.StatusBadRequest},
		{utils.E(utils.CodeEvaluationTimeout, "x", "evaluation timed out", nil), http.StatusGatewayTimeout},
		{utils.E(utils.CodeEvaluationServiceError, "x", "evaluation failed", nil), http.StatusBadGateway},
		{utils.E(utils.CodeInvalidState, "x", "round is not active", nil), http.StatusConflict},
	}
	for _, tc := range cases {
		s.ctrl.submitErr = tc.err
		w := s.do(roundRequest(http.MethodPost, "/interview/evaluate/code", handlers.EvaluateCodeRequest{Code: "x"}))
		assert.Equal(t, tc.status, w.Code)
		env := decodeEnvelope(t, w)
		assert.Equal(t, utils.CodeOf(tc.err), env.Code)
		assert.Equal(t, utils.SafeMessage(tc.err), env.Message)
	}
}

func TestEvaluateDesign_DataURL(t *testing.T) {
	s := newServer(t)

	w := s.do(roundRequest(http.MethodPost, "/interview/evaluate/design", map[string]any{
		"question":     "design a url shortener",
		"image_base64": "data:image/png;base64,aGVsbG8=",
		"canvas_data":  map[string]any{"shapes": 3},
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, s.ctrl.submitted, 1)
	d := s.ctrl.submitted[0].Design
	require.NotNil(t, d)
	assert.Equal(t, []byte("hello"), d.CanvasImage)
	assert.Equal(t, "image/png", d.ImageMIME)
	assert.JSONEq(t, `{"shapes":3}`, string(d.CanvasData))

	w = s.do(roundRequest(http.MethodPost, "/interview/evaluate/design", map[string]any{
		"question":     "q",
		"image_base64": "!!not base64!!",
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, utils.CodeEvaluationRejected, decodeEnvelope(t, w).Code)
}

func TestEndRound(t *testing.T) {
	s := newServer(t)

	w := s.do(roundRequest(http.MethodPost, "/interview/end", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("recording", "round.webm")
	require.NoError(t, err)
	_, _ = part.Write([]byte("webm-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/interview/end", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer good-token")
	w = s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Len(t, s.ctrl.ended, 2)
	assert.Nil(t, s.ctrl.ended[0])
	require.NotNil(t, s.ctrl.ended[1])
	assert.Equal(t, []byte("webm-bytes"), s.ctrl.ended[1].Data)
}

func TestUploadRecording_RequiresFile(t *testing.T) {
	s := newServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "no file"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/interview/recording", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer good-token")
	w := s.do(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAppendMessageAndTranscript(t *testing.T) {
	s := newServer(t)

	w := s.do(roundRequest(http.MethodPost, "/interview/messages", handlers.AppendMessageRequest{
		Role: models.RoleAIInterviewer, Type: models.MessageText, Content: "Tell me about heaps.",
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(roundRequest(http.MethodPost, "/interview/messages", handlers.AppendMessageRequest{
		Role: "narrator", Type: models.MessageText, Content: "x",
	}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(roundRequest(http.MethodGet, "/interview/transcript?after=7", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{7}, s.ctrl.after)

	w = s.do(roundRequest(http.MethodGet, "/interview/transcript?after=seven", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentURL_NotFound(t *testing.T) {
	s := newServer(t)
	w := s.do(roundRequest(http.MethodGet, "/interview/agent-url", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func mentorRequest(t *testing.T, method, path string, body any) *http.Request {
	req := roundRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+candidateToken(t, "cand-1"))
	return req
}

func readFrames(t *testing.T, body []byte) ([]mentor.Frame, bool) {
	t.Helper()
	var d mentor.Decoder
	frames := d.Feed(body)
	frames = append(frames, d.Flush()...)
	return frames, d.Done()
}

func TestMentor_RequiresCandidateJWT(t *testing.T) {
	s := newServer(t)

	w := s.do(roundRequest(http.MethodGet, "/mentor/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(mentorRequest(t, http.MethodGet, "/mentor/sessions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var rows []models.MentorSession
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "cand-1", rows[0].CandidateID)
}

func TestMentorStream_Frames(t *testing.T) {
	s := newServer(t)
	s.mentor.deltas = []string{"Use a ", "min-heap."}

	w := s.do(mentorRequest(t, http.MethodPost, "/mentor/sessions/ms-1/messages", handlers.MentorQueryRequest{Query: "top k?"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames, done := readFrames(t, w.Body.Bytes())
	assert.True(t, done)
	require.Len(t, frames, 2)
	assert.Equal(t, mentor.FrameTextDelta, frames[0].Type)
	assert.Equal(t, "Use a min-heap.", frames[0].Delta+frames[1].Delta)
}

func TestMentorStream_ErrorAfterDeltas(t *testing.T) {
	s := newServer(t)
	s.mentor.deltas = []string{"A bloom"}
	s.mentor.streamErr = utils.E(utils.CodeStreamTransportError, "x", "mentor stream failed", nil)

	w := s.do(mentorRequest(t, http.MethodPost, "/mentor/sessions/ms-1/messages", handlers.MentorQueryRequest{Query: "bloom?"}))
	require.Equal(t, http.StatusOK, w.Code)

	frames, done := readFrames(t, w.Body.Bytes())
	assert.True(t, done)
	require.Len(t, frames, 2)
	assert.Equal(t, mentor.FrameError, frames[1].Type)
	assert.Equal(t, "mentor stream failed", frames[1].Message)
}

func TestMentorStream_ValidationIsJSON(t *testing.T) {
	s := newServer(t)

	w := s.do(mentorRequest(t, http.MethodPost, "/mentor/sessions/other/messages", handlers.MentorQueryRequest{Query: "hi"}))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, utils.CodeNotFound, decodeEnvelope(t, w).Code)
}

func TestRoundWS_ReplayThenLive(t *testing.T) {
	s := newServer(t)
	s.ctrl.backlog = []models.TranscriptEvent{
		{RoundID: "r-code", SequenceNo: 1, MessengerRole: models.RoleAIInterviewer, MessageType: models.MessageText, Content: "hello"},
		{RoundID: "r-code", SequenceNo: 2, MessengerRole: models.RoleCandidate, MessageType: models.MessageText, Content: "hi"},
	}

	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/interview/ws?token=good-token"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type frame struct {
		Type       string                 `json:"type"`
		Event      models.TranscriptEvent `json:"event"`
		SequenceNo int64                  `json:"sequence_no"`
	}
	next := func() frame {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	assert.Equal(t, int64(1), next().Event.SequenceNo)
	assert.Equal(t, int64(2), next().Event.SequenceNo)

	ctx := context.Background()
	// already replayed
	require.NoError(t, s.pub.PublishTranscript(ctx, &s.ctrl.backlog[1]))
	require.NoError(t, s.pub.PublishTranscript(ctx, &models.TranscriptEvent{RoundID: "r-code", SequenceNo: 3, Content: "live"}))

	live := next()
	assert.Equal(t, "transcript", live.Type)
	assert.Equal(t, int64(3), live.Event.SequenceNo)
	assert.Equal(t, "live", live.Event.Content)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "message", "content": "my answer"}))
	ack := next()
	assert.Equal(t, "ack", ack.Type)
	assert.Equal(t, int64(11), ack.SequenceNo)

	s.ctrl.mu.Lock()
	assert.Equal(t, []string{"my answer"}, s.ctrl.messages)
	s.ctrl.mu.Unlock()
}
