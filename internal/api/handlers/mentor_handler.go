package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/lokeshkhabiya/round0/internal/mentor"
	"github.com/lokeshkhabiya/round0/internal/services"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

type MentorHandler struct {
	svc services.MentorService
}

func NewMentorHandler(svc services.MentorService) *MentorHandler {
	return &MentorHandler{svc: svc}
}

type CreateMentorSessionRequest struct {
	Title              string  `json:"title"`
	InterviewSessionID *string `json:"interview_session_id"`
}

func (h *MentorHandler) CreateSession(c *gin.Context) {
	candidateID, ok := requireCandidateID(c)
	if !ok {
		return
	}

	var req CreateMentorSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "MentorHandler.CreateSession", "invalid request body", err))
		return
	}

	sess, err := h.svc.CreateSession(c.Request.Context(), candidateID, req.Title, req.InterviewSessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "mentor session created", sess)
}

func (h *MentorHandler) ListSessions(c *gin.Context) {
	candidateID, ok := requireCandidateID(c)
	if !ok {
		return
	}

	limit, err := queryInt64(c, "limit", 50)
	if err != nil {
		writeError(c, err)
		return
	}

	rows, err := h.svc.ListSessions(c.Request.Context(), candidateID, int(limit))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "mentor sessions", rows)
}

func (h *MentorHandler) ListMessages(c *gin.Context) {
	candidateID, ok := requireCandidateID(c)
	if !ok {
		return
	}

	msgs, err := h.svc.ListMessages(c.Request.Context(), candidateID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, "mentor messages", msgs)
}

type MentorQueryRequest struct {
	Query string `json:"query"`
}

// SendMessage answers a query as a stream of frames. Failures found before the model
// starts answering come back as a normal JSON error.
func (h *MentorHandler) SendMessage(c *gin.Context) {
	const op = "MentorHandler.SendMessage"

	candidateID, ok := requireCandidateID(c)
	if !ok {
		return
	}

	var req MentorQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}

	var (
		sw     *mentor.Writer
		swErr  error
		opened bool
	)
	open := func() *mentor.Writer {
		if !opened {
			opened = true
			sw, swErr = mentor.NewWriter(c.Writer)
		}
		return sw
	}

	msg, err := h.svc.Stream(c.Request.Context(), candidateID, c.Param("session_id"), req.Query, func(delta string) error {
		w := open()
		if w == nil {
			return swErr
		}
		return w.Delta(delta)
	})

	if msg == nil {
		// nothing was stored
		if err == nil {
			err = utils.E(utils.CodeInternal, op, "mentor stream returned no message", nil)
		}
		writeError(c, err)
		return
	}

	w := open()
	if w == nil {
		writeError(c, utils.E(utils.CodeInternal, op, "streaming is not supported", swErr))
		return
	}
	if err != nil {
		_ = w.Error(utils.SafeMessage(err))
	}
	_ = w.Done()
}
