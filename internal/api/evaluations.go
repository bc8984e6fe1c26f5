package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"expertgate/internal/models"
)

type statusUpdate struct {
	Status models.EvaluationStatus `json:"status"`
	Reason string                  `json:"reason,omitempty"`
}

type runRequest struct {
	Prompt string `json:"prompt,omitempty"`
}

func (s *Server) CreateEvaluation(c *gin.Context) {
	var plan models.EvaluationPlan
	if !bindJSON(c, &plan) {
		return
	}

	e, err := s.evaluations.CreateEvaluation(c.Request.Context(), actorFrom(c), plan)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *Server) ListEvaluations(c *gin.Context) {
	evaluations, err := s.evaluations.ListEvaluations(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluations": evaluations})
}

func (s *Server) GetEvaluation(c *gin.Context) {
	e, err := s.evaluations.GetEvaluation(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) UpdateEvaluationStatus(c *gin.Context) {
	var req statusUpdate
	if !bindJSON(c, &req) {
		return
	}

	e, err := s.evaluations.UpdateEvaluationStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) GetCriteria(c *gin.Context) {
	report, err := s.evaluations.Criteria(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) Recompute(c *gin.Context) {
	e, err := s.evaluations.RecomputeAs(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// RunQuestion executes one question. The body is optional and may override the prompt.
func (s *Server) RunQuestion(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	run, err := s.evaluations.RunQuestion(c.Request.Context(), actorFrom(c), c.Param("id"), c.Param("questionId"), req.Prompt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (s *Server) RunPending(c *gin.Context) {
	outcomes, err := s.evaluations.RunPending(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": outcomes})
}

func (s *Server) RecordTestResult(c *gin.Context) {
	var in models.TestResultInput
	if !bindJSON(c, &in) {
		return
	}

	r, err := s.evaluations.RecordTestResult(c.Request.Context(), actorFrom(c), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) ListTestResults(c *gin.Context) {
	results, err := s.evaluations.ListTestResults(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// StreamProgress upgrades to a websocket that receives a snapshot after every recompute
func (s *Server) StreamProgress(c *gin.Context) {
	e, err := s.evaluations.GetEvaluation(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	s.progress.Serve(c, e)
}
