package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"expertgate/internal/apperr"
	"expertgate/internal/events"
	"expertgate/internal/models"
	"expertgate/internal/monitoring"
)

const recomputeAttempts = 3

// Store is the persistence the evaluation service needs.
type Store interface {
	RunStore
	CreateEvaluation(ctx context.Context, e *models.Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*models.Evaluation, error)
	ListEvaluations(ctx context.Context, createdBy string) ([]models.Evaluation, error)
	RecomputeEvaluation(ctx context.Context, id string, fold func(e *models.Evaluation, results []models.TestResult)) (*models.Evaluation, error)
	DecideEvaluation(ctx context.Context, id string, from models.EvaluationStatus, d models.EvaluationDecision) error
	GetAgentRun(ctx context.Context, id string) (*models.AgentRun, error)
	CreateTestResult(ctx context.Context, r *models.TestResult) error
	ListTestResults(ctx context.Context, evaluationID string) ([]models.TestResult, error)
}

// ProgressSink receives the evaluation after every successful recompute.
type ProgressSink interface {
	Broadcast(e *models.Evaluation)
}

// Service implements the evaluation lifecycle: authoring, execution, result
// recording, aggregation, criteria reports and reviewer decisions.
type Service struct {
	store     Store
	executor  *Executor
	publisher events.Publisher
	progress  ProgressSink
	metrics   *monitoring.Collector
	logger    *zerolog.Logger

	concurrency int
	now         func() time.Time
}

// ServiceConfig carries the collaborators of a Service.
type ServiceConfig struct {
	Store       Store
	Executor    *Executor
	Publisher   events.Publisher
	Progress    ProgressSink
	Metrics     *monitoring.Collector
	Logger      *zerolog.Logger
	Concurrency int
	Now         func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		store:       cfg.Store,
		executor:    cfg.Executor,
		publisher:   cfg.Publisher,
		progress:    cfg.Progress,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		now:         cfg.Now,
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.logger == nil {
		nop := zerolog.Nop()
		s.logger = &nop
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetProgressSink attaches the receiver of recompute snapshots.
func (s *Service) SetProgressSink(p ProgressSink) {
	s.progress = p
}

func canEdit(actor models.Actor, e *models.Evaluation) bool {
	return actor.Role.IsElevated() || (actor.Role.IsReviewer() && e.CreatedBy == actor.ID)
}

// CreateEvaluation validates a plan and stores it as a draft evaluation.
func (s *Service) CreateEvaluation(ctx context.Context, actor models.Actor, plan models.EvaluationPlan) (*models.Evaluation, error) {
	if !actor.Role.IsReviewer() {
		return nil, apperr.Forbidden("only experts and admins can create evaluations")
	}
	if err := models.Validate(&plan); err != nil {
		return nil, err
	}
	if err := plan.Check(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	questions := make(models.QuestionList, len(plan.Questions))
	for i, q := range plan.Questions {
		q.Tested = false
		q.TestResult = nil
		if q.Number == 0 {
			q.Number = i + 1
		}
		questions[i] = q
	}

	criteria := plan.SuccessCriteria
	criteria.AdditionalRequirements = models.SanitizeText(criteria.AdditionalRequirements)

	e := &models.Evaluation{
		ID:              models.NewEvaluationID(plan.AgentID, now, plan.Version),
		AgentID:         plan.AgentID,
		AgentName:       plan.AgentName,
		Version:         plan.Version,
		CreatedBy:       actor.ID,
		CreatedByEmail:  actor.Email,
		CreatedAt:       now,
		UpdatedAt:       now,
		TotalQuestions:  plan.TotalQuestions,
		Questions:       questions,
		Categories:      plan.Categories,
		SuccessCriteria: criteria,
		Status:          models.StatusDraft,
		Source:          plan.Source,
		Notes:           models.SanitizeText(plan.Notes),
	}
	if err := s.store.CreateEvaluation(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Info().Str("evaluation_id", e.ID).Str("agent_id", e.AgentID).Str("actor", actor.ID).
		Int("questions", e.TotalQuestions).Msg("Evaluation created")
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:    events.EvaluationCreated,
		Subject: e.ID,
		Actor:   actor.ID,
		Fields:  map[string]string{"agentId": e.AgentID, "version": e.Version},
	})
	return e, nil
}

// GetEvaluation returns an evaluation the actor may see.
func (s *Service) GetEvaluation(ctx context.Context, actor models.Actor, id string) (*models.Evaluation, error) {
	e, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsElevated() && e.CreatedBy != actor.ID {
		return nil, apperr.Forbidden("evaluation %s belongs to another reviewer", id)
	}
	return e, nil
}

// ListEvaluations returns every evaluation to elevated actors and their own to everyone else.
func (s *Service) ListEvaluations(ctx context.Context, actor models.Actor) ([]models.Evaluation, error) {
	createdBy := actor.ID
	if actor.Role.IsElevated() {
		createdBy = ""
	}
	return s.store.ListEvaluations(ctx, createdBy)
}

func (s *Service) editable(ctx context.Context, actor models.Actor, id string) (*models.Evaluation, error) {
	e, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(actor, e) {
		return nil, apperr.Forbidden("actor %s cannot edit evaluation %s", actor.ID, id)
	}
	if e.Status.IsDecided() {
		return nil, apperr.Conflict("evaluation %s is already %s; create a new version to test again", id, e.Status)
	}
	return e, nil
}

// RunQuestion executes one planned question against the evaluation's agent.
// An empty prompt uses the question text.
func (s *Service) RunQuestion(ctx context.Context, actor models.Actor, evaluationID, questionID, prompt string) (*models.AgentRun, error) {
	e, err := s.editable(ctx, actor, evaluationID)
	if err != nil {
		return nil, err
	}
	q, ok := e.Question(questionID)
	if !ok {
		return nil, apperr.NotFound("question %s is not part of evaluation %s", questionID, evaluationID)
	}
	if prompt == "" {
		prompt = q.Question
	}
	return s.executor.Run(ctx, actor, e.ID, q.ID, e.AgentID, prompt)
}

// RunOutcome is the result of one question in a batch run.
type RunOutcome struct {
	QuestionID string `json:"questionId"`
	RunID      string `json:"runId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunPending executes every untested question with bounded concurrency.
// Each run is stored independently, so one failure does not undo the others.
func (s *Service) RunPending(ctx context.Context, actor models.Actor, evaluationID string) ([]RunOutcome, error) {
	e, err := s.editable(ctx, actor, evaluationID)
	if err != nil {
		return nil, err
	}

	var pending []models.EvaluationQuestion
	for _, q := range e.Questions {
		if !q.Tested {
			pending = append(pending, q)
		}
	}

	outcomes := make([]RunOutcome, len(pending))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, q := range pending {
		i, q := i, q
		g.Go(func() error {
			outcomes[i].QuestionID = q.ID
			run, err := s.executor.Run(ctx, actor, e.ID, q.ID, e.AgentID, q.Question)
			if err != nil {
				outcomes[i].Error = apperr.Message(err)
				return nil
			}
			outcomes[i].RunID = run.ID
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, nil
}

// RecordTestResult finalizes one question execution with the reviewer's judgement
// and rebuilds the evaluation's aggregates. A failed rebuild is logged and left
// for the next trigger; the stored result is still returned.
func (s *Service) RecordTestResult(ctx context.Context, actor models.Actor, evaluationID string, in models.TestResultInput) (*models.TestResult, error) {
	e, err := s.editable(ctx, actor, evaluationID)
	if err != nil {
		return nil, err
	}
	if err := models.Validate(&in); err != nil {
		return nil, err
	}
	q, ok := e.Question(in.QuestionID)
	if !ok {
		return nil, apperr.Validation("question %s is not part of evaluation %s", in.QuestionID, evaluationID)
	}

	r := &models.TestResult{
		ID:             uuid.NewString(),
		EvaluationID:   e.ID,
		QuestionID:     q.ID,
		AgentID:        e.AgentID,
		TestedBy:       actor.ID,
		TestedByEmail:  actor.Email,
		TestedAt:       s.now().UTC(),
		Prompt:         in.Prompt,
		Response:       in.Response,
		Model:          in.Model,
		ResponseTimeMs: in.ResponseTimeMs,
		References:     in.References,
		Quality:        in.Quality,
		Notes:          models.SanitizeText(in.Notes),
	}

	if in.RunID != "" {
		if err := s.fillFromRun(ctx, r, in.RunID); err != nil {
			return nil, err
		}
	}
	if r.Prompt == "" {
		r.Prompt = q.Question
	}
	if r.References == nil {
		r.References = models.ReferenceList{}
	}

	phantoms := PhantomCitations(r.Response, len(r.References))
	r.PhantomRefs = in.PhantomRefs || len(phantoms) > 0

	if in.ExpectedTopicsFound == nil && in.ExpectedTopicsMissing == nil {
		found, missing := models.MatchTopics(q.ExpectedTopics, r.Response)
		r.ExpectedTopicsFound, r.ExpectedTopicsMissing = found, missing
	} else {
		r.ExpectedTopicsFound, r.ExpectedTopicsMissing = in.ExpectedTopicsFound, in.ExpectedTopicsMissing
	}

	criteria := e.SuccessCriteria
	r.PassedCriteria = float64(r.Quality) >= criteria.MinimumQuality && (criteria.AllowPhantomRefs || !r.PhantomRefs)

	if err := s.store.CreateTestResult(ctx, r); err != nil {
		return nil, err
	}
	s.metrics.RecordTestResult(r.PassedCriteria, r.PhantomRefs)
	s.logger.Info().Str("evaluation_id", e.ID).Str("question_id", q.ID).Str("result_id", r.ID).
		Int("quality", r.Quality).Bool("phantom_refs", r.PhantomRefs).Strs("phantom_markers", phantoms).
		Msg("Test result recorded")

	if _, err := s.Recompute(ctx, e.ID); err != nil {
		s.metrics.RecordRecomputeFailure()
		s.logger.Error().Err(err).Str("evaluation_id", e.ID).Msg("Aggregate recompute failed; will retry on next trigger")
	}
	return r, nil
}

// fillFromRun copies the agent's raw answer into r where the reviewer left it empty.
func (s *Service) fillFromRun(ctx context.Context, r *models.TestResult, runID string) error {
	run, err := s.store.GetAgentRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.EvaluationID != r.EvaluationID || run.QuestionID != r.QuestionID {
		return apperr.Validation("run %s belongs to %s/%s, not %s/%s",
			runID, run.EvaluationID, run.QuestionID, r.EvaluationID, r.QuestionID)
	}

	r.RunID = run.ID
	if r.Prompt == "" {
		r.Prompt = run.Prompt
	}
	if r.Response == "" {
		r.Response = run.Response
	}
	if r.References == nil {
		r.References = run.References
	}
	if r.Model == "" {
		r.Model = run.Model
	}
	if r.ResponseTimeMs == 0 {
		r.ResponseTimeMs = run.ResponseTimeMs
	}
	return nil
}

// ListTestResults returns the result history of an evaluation the actor may see.
func (s *Service) ListTestResults(ctx context.Context, actor models.Actor, evaluationID string) ([]models.TestResult, error) {
	if _, err := s.GetEvaluation(ctx, actor, evaluationID); err != nil {
		return nil, err
	}
	return s.store.ListTestResults(ctx, evaluationID)
}

// Recompute rebuilds an evaluation's aggregates from its full result history.
// A concurrent write makes the attempt start over from a fresh read.
func (s *Service) Recompute(ctx context.Context, evaluationID string) (*models.Evaluation, error) {
	var lastErr error
	for attempt := 0; attempt < recomputeAttempts; attempt++ {
		e, err := s.store.RecomputeEvaluation(ctx, evaluationID, func(e *models.Evaluation, results []models.TestResult) {
			Aggregate(*e, results).Apply(e)
		})
		if err == nil {
			if e.AverageQuality != nil {
				s.metrics.RecordAverageQuality(e.ID, *e.AverageQuality)
			}
			if s.progress != nil {
				s.progress.Broadcast(e)
			}
			return e, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("recompute of %s gave up after %d attempts: %w", evaluationID, recomputeAttempts, lastErr)
}

// RecomputeAs is Recompute guarded by the actor's edit rights.
func (s *Service) RecomputeAs(ctx context.Context, actor models.Actor, evaluationID string) (*models.Evaluation, error) {
	e, err := s.store.GetEvaluation(ctx, evaluationID)
	if err != nil {
		return nil, err
	}
	if !canEdit(actor, e) {
		return nil, apperr.Forbidden("actor %s cannot edit evaluation %s", actor.ID, evaluationID)
	}
	return s.Recompute(ctx, evaluationID)
}

// Criteria reports how the evaluation's aggregates compare against its success criteria.
func (s *Service) Criteria(ctx context.Context, actor models.Actor, evaluationID string) (*Report, error) {
	e, err := s.GetEvaluation(ctx, actor, evaluationID)
	if err != nil {
		return nil, err
	}
	return NewReport(*e), nil
}

// UpdateEvaluationStatus records an elevated reviewer's approval or rejection.
// Approval needs a completed evaluation; rejection is allowed from any other state.
func (s *Service) UpdateEvaluationStatus(ctx context.Context, actor models.Actor, id string, status models.EvaluationStatus, reason string) (*models.Evaluation, error) {
	if !status.IsDecided() {
		return nil, apperr.Validation("status can only be set to approved or rejected; %q is derived from test results", status)
	}
	if !actor.Role.IsElevated() {
		return nil, apperr.Forbidden("only admins can approve or reject evaluations")
	}

	e, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	decision := models.EvaluationDecision{Status: status}
	switch status {
	case models.StatusApproved:
		if e.Status != models.StatusCompleted {
			return nil, apperr.Conflict("evaluation %s is %s; only completed evaluations can be approved", id, e.Status)
		}
		decision.ApprovedBy = actor.ID
		decision.ApprovedAt = &now
	case models.StatusRejected:
		if e.Status == models.StatusRejected {
			return nil, apperr.Conflict("evaluation %s is already rejected", id)
		}
		decision.RejectedBy = actor.ID
		decision.RejectionReason = models.SanitizeText(reason)
	}

	if err := s.store.DecideEvaluation(ctx, id, e.Status, decision); err != nil {
		return nil, err
	}

	s.metrics.RecordDecision("evaluation", string(status))
	s.logger.Info().Str("evaluation_id", id).Str("from", string(e.Status)).Str("to", string(status)).
		Str("actor", actor.ID).Msg("Evaluation decided")
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:    events.EvaluationDecided,
		Subject: id,
		Actor:   actor.ID,
		Fields:  map[string]string{"agentId": e.AgentID, "status": string(status)},
	})

	return s.store.GetEvaluation(ctx, id)
}
