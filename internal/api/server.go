package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"expertgate/internal/approval"
	"expertgate/internal/evaluation"
	"expertgate/internal/sharing"
)

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Evaluations *evaluation.Service
	Approvals   *approval.Service
	Gate        *approval.Gate
	Sharing     *sharing.Authority
	Users       UserStore
	Health      Pinger
	Progress    *ProgressHub
	JWTSecret   string
	CORSOrigins []string
	Logger      *zerolog.Logger
}

// Server represents the main API handler of the gate
type Server struct {
	Router *gin.Engine

	evaluations *evaluation.Service
	approvals   *approval.Service
	gate        *approval.Gate
	sharing     *sharing.Authority
	health      Pinger
	progress    *ProgressHub
	logger      *zerolog.Logger
}

// NewServer creates the router and wires every route
func NewServer(deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), errorLogger(deps.Logger))
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s := &Server{
		Router:      router,
		evaluations: deps.Evaluations,
		approvals:   deps.Approvals,
		gate:        deps.Gate,
		sharing:     deps.Sharing,
		health:      deps.Health,
		progress:    deps.Progress,
		logger:      deps.Logger,
	}
	s.setupRoutes(AuthMiddleware(deps.JWTSecret, deps.Users))
	return s
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	s.Router.GET("/health", s.Health)

	v1 := s.Router.Group("/api/v1", auth)
	{
		// Evaluations
		v1.POST("/evaluations", s.CreateEvaluation)
		v1.GET("/evaluations", s.ListEvaluations)
		v1.GET("/evaluations/:id", s.GetEvaluation)
		v1.PATCH("/evaluations/:id/status", s.UpdateEvaluationStatus)
		v1.GET("/evaluations/:id/criteria", s.GetCriteria)
		v1.POST("/evaluations/:id/recompute", s.Recompute)
		v1.POST("/evaluations/:id/questions/:questionId/run", s.RunQuestion)
		v1.POST("/evaluations/:id/run", s.RunPending)
		v1.POST("/evaluations/:id/results", s.RecordTestResult)
		v1.GET("/evaluations/:id/results", s.ListTestResults)

		// Fast-track approvals
		v1.POST("/sharing-approvals", s.SubmitSharingApproval)
		v1.GET("/sharing-approvals", s.ListSharingApprovals)
		v1.GET("/sharing-approvals/:id", s.GetSharingApproval)
		v1.POST("/sharing-approvals/:id/review", s.ReviewSharingApproval)

		// Agents and shares
		v1.GET("/agents/:agentId/approval", s.CheckApproval)
		v1.POST("/agents/:agentId/shares", s.ShareAgent)
		v1.GET("/agents/:agentId/shares", s.ListShares)
		v1.GET("/agents/:agentId/access", s.GetAccess)
		v1.DELETE("/shares/:id", s.RevokeShare)

		// Progress stream
		v1.GET("/ws/evaluations/:id", s.StreamProgress)
	}
}

// Health reports liveness and store reachability
func (s *Server) Health(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "expertgate API is running"})
}

// errorLogger writes errors attached to the request with zerolog
func errorLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if logger == nil || len(c.Errors) == 0 {
			return
		}
		for _, e := range c.Errors {
			logger.Error().Err(e.Err).
				Str("method", c.Request.Method).
				Str("path", c.FullPath()).
				Int("status", c.Writer.Status()).
				Msg("Request failed")
		}
	}
}
