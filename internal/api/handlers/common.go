package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lokeshkhabiya/round0/internal/api/middleware"
	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

// Envelope is the shape of every JSON response. Clients branch on Success only.
type Envelope struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Code    utils.Code `json:"code,omitempty"`
	Data    any        `json:"data,omitempty"`
}

func writeOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Message: message, Data: data})
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, Envelope{
			Code:    ae.Code,
			Message: utils.SafeMessage(err),
		})
		return
	}

	c.JSON(status, Envelope{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}

func requireCandidateID(c *gin.Context) (string, bool) {
	if id := middleware.CandidateID(c); id != "" {
		return id, true
	}
	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}

func requireRound(c *gin.Context) (*models.RoundContext, bool) {
	if rc := middleware.RoundContext(c); rc != nil {
		return rc, true
	}
	writeError(c, utils.E(utils.CodeTokenInvalid, "Auth", "interview token is required", nil))
	return nil, false
}

func queryInt64(c *gin.Context, key string, def int64) (int64, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, utils.E(utils.CodeInvalidArgument, "Query", key+" must be an integer", err)
	}
	return n, nil
}
