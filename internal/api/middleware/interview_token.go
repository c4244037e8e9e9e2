package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/utils"
)

const roundContextKey = "round_context"

// RoundResolver maps an interview token to its verified round.
type RoundResolver interface {
	Resolve(ctx context.Context, token string) (*models.RoundContext, error)
}

// RoundContext is set by InterviewToken.
func RoundContext(c *gin.Context) *models.RoundContext {
	v, ok := c.Get(roundContextKey)
	if !ok {
		return nil
	}
	rc, _ := v.(*models.RoundContext)
	return rc
}

// InterviewToken authenticates a request with the interview token of a round.
// Browsers cannot set headers on websocket upgrades, so ?token= is accepted too.
func InterviewToken(r RoundResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			abort(c, http.StatusUnauthorized, utils.CodeTokenInvalid, "interview token is required")
			return
		}

		rc, err := r.Resolve(c.Request.Context(), token)
		if err != nil {
			code := utils.CodeOf(err)
			var ae *utils.AppError
			if !errors.As(err, &ae) {
				code = utils.CodeInternal
			}
			abort(c, utils.HTTPStatus(err), code, utils.SafeMessage(err))
			return
		}

		c.Set(roundContextKey, rc)
		c.Set("round_id", rc.RoundID)
		c.Next()
	}
}
