package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokeshkhabiya/round0/internal/api/handlers"
	"github.com/lokeshkhabiya/round0/internal/api/middleware"
)

type Deps struct {
	Interview *handlers.InterviewHandler
	Mentor    *handlers.MentorHandler
	WS        *handlers.WSHandler
	Rounds    middleware.RoundResolver

	// nil means middleware.JWTAuth()
	CandidateAuth gin.HandlerFunc
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// the interview token is checked by BeginRound itself
	r.POST("/interview/verify", d.Interview.Verify)

	round := r.Group("/interview")
	round.Use(middleware.InterviewToken(d.Rounds))

	round.GET("/round", d.Interview.Round)
	round.GET("/agent-url", d.Interview.AgentURL)
	round.POST("/evaluate/code", d.Interview.EvaluateCode)
	round.POST("/evaluate/design", d.Interview.EvaluateDesign)
	round.POST("/messages", d.Interview.AppendMessage)
	round.POST("/tool-results", d.Interview.AppendToolResult)
	round.GET("/transcript", d.Interview.Transcript)
	round.POST("/recording", d.Interview.UploadRecording)
	round.POST("/end", d.Interview.End)

	// WebSocket
	if d.WS != nil {
		round.GET("/ws", d.WS.RoundWS)
	}

	// Protected routes (JWT)
	auth := d.CandidateAuth
	if auth == nil {
		auth = middleware.JWTAuth()
	}
	mentor := r.Group("/mentor")
	mentor.Use(auth)

	mentor.POST("/sessions", d.Mentor.CreateSession)
	mentor.GET("/sessions", d.Mentor.ListSessions)
	mentor.GET("/sessions/:session_id/messages", d.Mentor.ListMessages)
	mentor.POST("/sessions/:session_id/messages", d.Mentor.SendMessage)
}
