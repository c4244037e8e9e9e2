package handlers

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lokeshkhabiya/round0/internal/api/middleware"
	"github.com/lokeshkhabiya/round0/internal/media"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/services"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

const defaultMaxRecordingBytes = 512 << 20

type InterviewHandler struct {
	ctrl              services.RoundController
	maxRecordingBytes int64
}

func NewInterviewHandler(ctrl services.RoundController) *InterviewHandler {
	return &InterviewHandler{ctrl: ctrl, maxRecordingBytes: defaultMaxRecordingBytes}
}

func (h *InterviewHandler) Verify(c *gin.Context) {
	rc, err := h.ctrl.BeginRound(c.Request.Context(), middleware.BearerToken(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "interview round verified", rc)
}

type EvaluateCodeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Question string `json:"question"`
}

func (h *InterviewHandler) EvaluateCode(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}

	var req EvaluateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.EvaluateCode", "invalid request body", err))
		return
	}

	res, err := h.ctrl.SubmitArtifact(c.Request.Context(), rc, models.Artifact{
		Type: models.ArtifactCode,
		Code: &models.CodeSubmission{Language: req.Language, Code: req.Code, Question: req.Question},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "code evaluated", res)
}

type EvaluateDesignRequest struct {
	Question    string          `json:"question"`
	ImageBase64 string          `json:"image_base64"` // raw base64 or a data: URL
	ImageMIME   string          `json:"image_mime"`
	CanvasData  json.RawMessage `json:"canvas_data"`
}

func (h *InterviewHandler) EvaluateDesign(c *gin.Context) {
	const op = "InterviewHandler.EvaluateDesign"

	rc, ok := requireRound(c)
	if !ok {
		return
	}

	var req EvaluateDesignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	image, mime, err := decodeImage(req.ImageBase64)
	if err != nil {
		writeError(c, utils.E(utils.CodeEvaluationRejected, op, "canvas image is not valid base64", err))
		return
	}
	if req.ImageMIME != "" {
		mime = req.ImageMIME
	}

	res, err := h.ctrl.SubmitArtifact(c.Request.Context(), rc, models.Artifact{
		Type: models.ArtifactDesign,
		Design: &models.DesignSubmission{
			Question:    req.Question,
			CanvasImage: image,
			ImageMIME:   mime,
			CanvasData:  req.CanvasData,
		},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "design evaluated", res)
}

// decodeImage accepts "data:image/png;base64,...." as well as bare base64.
func decodeImage(v string) ([]byte, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, "", nil
	}
	var mime string
	if strings.HasPrefix(v, "data:") {
		if i := strings.Index(v, ","); i >= 0 {
			mime = strings.TrimSuffix(strings.TrimPrefix(v[:i], "data:"), ";base64")
			v = v[i+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, "", err
	}
	return b, mime, nil
}

func (h *InterviewHandler) AgentURL(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}
	url, err := h.ctrl.AgentURL(c.Request.Context(), rc)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "agent url", gin.H{"agent_url": url})
}

// End finishes the round. The recording is an optional multipart "recording" file.
func (h *InterviewHandler) End(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}

	var blob *media.Blob
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		b, found, err := h.readRecording(c)
		if err != nil {
			writeError(c, err)
			return
		}
		if found {
			blob = b
		}
	}

	st, err := h.ctrl.EndRound(c.Request.Context(), rc, blob)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "interview round ended", st)
}

func (h *InterviewHandler) UploadRecording(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}

	blob, found, err := h.readRecording(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.UploadRecording", "recording file is required", nil))
		return
	}

	handle, err := h.ctrl.UploadRecording(c.Request.Context(), rc, *blob)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "recording queued", gin.H{"upload_id": handle.ID})
}

func (h *InterviewHandler) readRecording(c *gin.Context) (*media.Blob, bool, error) {
	const op = "InterviewHandler.readRecording"

	fh, err := c.FormFile("recording")
	if err != nil {
		// no file part
		return nil, false, nil
	}
	if fh.Size > h.maxRecordingBytes {
		return nil, false, utils.E(utils.CodeInvalidArgument, op, "recording is too large", nil)
	}

	f, err := fh.Open()
	if err != nil {
		return nil, false, utils.E(utils.CodeInvalidArgument, op, "failed to read recording", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxRecordingBytes))
	if err != nil {
		return nil, false, utils.E(utils.CodeInvalidArgument, op, "failed to read recording", err)
	}
	return &media.Blob{Data: data, ContentType: fh.Header.Get("Content-Type")}, true, nil
}

type AppendMessageRequest struct {
	Role    models.MessengerRole `json:"messenger_role"`
	Type    models.MessageType   `json:"message_type"`
	Content string               `json:"content"`
}

func (h *InterviewHandler) AppendMessage(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}

	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.AppendMessage", "invalid request body", err))
		return
	}

	ev, err := h.ctrl.AppendMessage(c.Request.Context(), rc, req.Role, req.Type, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "message appended", ev)
}

type AppendToolResultRequest struct {
	ToolName string `json:"tool_name"`
	Input    string `json:"input"`
	Output   string `json:"output"`
	Passed   *bool  `json:"passed"`
}

func (h *InterviewHandler) AppendToolResult(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}

	var req AppendToolResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "InterviewHandler.AppendToolResult", "invalid request body", err))
		return
	}

	ev, err := h.ctrl.AppendToolResult(c.Request.Context(), rc, models.ToolInvocation{
		Name:   req.ToolName,
		Input:  req.Input,
		Output: req.Output,
		Passed: req.Passed,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "tool result appended", ev)
}

func (h *InterviewHandler) Transcript(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}

	after, err := queryInt64(c, "after", 0)
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := queryInt64(c, "limit", 500)
	if err != nil {
		writeError(c, err)
		return
	}

	events, err := h.ctrl.Transcript(c.Request.Context(), rc, after, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "transcript", events)
}

func (h *InterviewHandler) Round(c *gin.Context) {
	rc, ok := requireRound(c)
	if !ok {
		return
	}
	st, err := h.ctrl.Status(c.Request.Context(), rc)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "round status", st)
}
