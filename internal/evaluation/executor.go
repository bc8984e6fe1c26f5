package evaluation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"expertgate/internal/apperr"
	"expertgate/internal/models"
	"expertgate/internal/monitoring"
)

// AgentInvoker reaches the agent under evaluation.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID, prompt string) (*models.AgentAnswer, error)
}

// RunStore persists raw agent runs.
type RunStore interface {
	CreateAgentRun(ctx context.Context, run *models.AgentRun) error
}

// Executor runs one question against an agent and stores the raw answer.
type Executor struct {
	invoker AgentInvoker
	runs    RunStore
	limiter *rate.Limiter
	timeout time.Duration
	metrics *monitoring.Collector
	logger  *zerolog.Logger
	now     func() time.Time
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithRateLimit caps calls to the agent at perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) ExecutorOption {
	return func(x *Executor) {
		if perSecond > 0 {
			x.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithTimeout bounds a single agent call.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(x *Executor) { x.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ExecutorOption {
	return func(x *Executor) { x.now = now }
}

func NewExecutor(invoker AgentInvoker, runs RunStore, metrics *monitoring.Collector, logger *zerolog.Logger, opts ...ExecutorOption) *Executor {
	x := &Executor{
		invoker: invoker,
		runs:    runs,
		limiter: rate.NewLimiter(rate.Inf, 0),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Run asks agentID the prompt of one question and stores the answer as an AgentRun.
// A failed call stores nothing and returns an upstream error.
func (x *Executor) Run(ctx context.Context, actor models.Actor, evaluationID, questionID, agentID, prompt string) (*models.AgentRun, error) {
	if err := x.limiter.Wait(ctx); err != nil {
		return nil, apperr.Upstream(err, "agent %s was not called", agentID)
	}

	callCtx := ctx
	if x.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	start := x.now()
	answer, err := x.invoker.Invoke(callCtx, agentID, prompt)
	elapsed := x.now().Sub(start)
	if err != nil {
		x.metrics.RecordInvocation("failure", elapsed)
		x.logger.Warn().Err(err).
			Str("evaluation_id", evaluationID).
			Str("question_id", questionID).
			Str("agent_id", agentID).
			Msg("Agent invocation failed")
		if kind := apperr.KindOf(err); kind != apperr.KindInternal {
			return nil, err
		}
		return nil, apperr.Upstream(err, "agent %s did not answer", agentID)
	}
	x.metrics.RecordInvocation("success", elapsed)

	run := &models.AgentRun{
		ID:             uuid.NewString(),
		EvaluationID:   evaluationID,
		QuestionID:     questionID,
		AgentID:        agentID,
		Prompt:         prompt,
		Response:       answer.Response,
		References:     answer.References,
		PhantomRefs:    HasPhantomReferences(answer.Response, answer.References),
		Model:          answer.Model,
		ResponseTimeMs: elapsed.Milliseconds(),
		RanBy:          actor.ID,
		RanAt:          start.UTC(),
	}
	if err := x.runs.CreateAgentRun(ctx, run); err != nil {
		return nil, err
	}

	x.logger.Info().
		Str("evaluation_id", evaluationID).
		Str("question_id", questionID).
		Str("run_id", run.ID).
		Bool("phantom_refs", run.PhantomRefs).
		Int64("response_ms", run.ResponseTimeMs).
		Msg("Question executed")
	return run, nil
}
