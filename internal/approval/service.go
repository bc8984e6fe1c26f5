package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"expertgate/internal/apperr"
	"expertgate/internal/evaluation"
	"expertgate/internal/events"
	"expertgate/internal/models"
	"expertgate/internal/monitoring"
)

// Store is the persistence of the fast-track approval lifecycle.
type Store interface {
	CreateSharingApproval(ctx context.Context, a *models.AgentSharingApproval) error
	GetSharingApproval(ctx context.Context, id string) (*models.AgentSharingApproval, error)
	ListSharingApprovals(ctx context.Context, requestedBy string) ([]models.AgentSharingApproval, error)
	ReviewSharingApproval(ctx context.Context, id string, review models.ApprovalReview) error
	GetEvaluation(ctx context.Context, id string) (*models.Evaluation, error)
}

// Service handles submission and review of sample-based sharing approvals.
type Service struct {
	store     Store
	publisher events.Publisher
	metrics   *monitoring.Collector
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewService(store Store, publisher events.Publisher, metrics *monitoring.Collector, logger *zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit stores a pending request backed by one bad, one reasonable and one outstanding sample.
func (s *Service) Submit(ctx context.Context, actor models.Actor, req models.SharingApprovalRequest) (*models.AgentSharingApproval, error) {
	if err := models.Validate(&req); err != nil {
		return nil, err
	}
	if err := req.Check(); err != nil {
		return nil, err
	}

	a := &models.AgentSharingApproval{
		ID:               uuid.NewString(),
		AgentID:          req.AgentID,
		AgentName:        req.AgentName,
		RequestedBy:      actor.ID,
		RequestedByEmail: actor.Email,
		RequestedAt:      s.now().UTC(),
		Samples:          req.Samples,
		Status:           models.ApprovalPending,
	}

	if req.EvaluationID != "" {
		e, err := s.store.GetEvaluation(ctx, req.EvaluationID)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return nil, apperr.Validation("linked evaluation %s does not exist", req.EvaluationID)
			}
			return nil, err
		}
		if e.AgentID != req.AgentID {
			return nil, apperr.Validation("linked evaluation %s belongs to agent %s, not %s", e.ID, e.AgentID, req.AgentID)
		}
		passed := evaluation.NewReport(*e).Verdict == evaluation.OutcomePass
		a.EvaluationID = e.ID
		a.EvaluationPassed = &passed
	}

	if err := s.store.CreateSharingApproval(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info().Str("approval_id", a.ID).Str("agent_id", a.AgentID).Str("actor", actor.ID).Msg("Sharing approval submitted")
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:    events.SharingApprovalSubmitted,
		Subject: a.ID,
		Actor:   actor.ID,
		Fields:  map[string]string{"agentId": a.AgentID},
	})
	return a, nil
}

// Review resolves a pending request. Only elevated actors may review, and only once.
func (s *Service) Review(ctx context.Context, actor models.Actor, id string, req models.ReviewRequest) (*models.AgentSharingApproval, error) {
	if !actor.Role.IsElevated() {
		return nil, apperr.Forbidden("only admins can review sharing approvals")
	}
	if err := models.Validate(&req); err != nil {
		return nil, err
	}

	review := models.ApprovalReview{
		Status:          req.Decision.Status(),
		ReviewedBy:      actor.ID,
		ReviewedByEmail: actor.Email,
		ReviewedAt:      s.now().UTC(),
		ReviewNotes:     models.SanitizeText(req.Notes),
	}
	if err := s.store.ReviewSharingApproval(ctx, id, review); err != nil {
		return nil, err
	}

	a, err := s.store.GetSharingApproval(ctx, id)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDecision("sample", string(review.Status))
	s.logger.Info().Str("approval_id", id).Str("agent_id", a.AgentID).Str("status", string(review.Status)).
		Str("actor", actor.ID).Msg("Sharing approval reviewed")
	events.Emit(ctx, s.publisher, s.logger, events.Event{
		Type:    events.SharingApprovalReviewed,
		Subject: id,
		Actor:   actor.ID,
		Fields:  map[string]string{"agentId": a.AgentID, "status": string(review.Status)},
	})
	return a, nil
}

// Get returns a request visible to the actor.
func (s *Service) Get(ctx context.Context, actor models.Actor, id string) (*models.AgentSharingApproval, error) {
	a, err := s.store.GetSharingApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsReviewer() && a.RequestedBy != actor.ID {
		return nil, apperr.Forbidden("sharing approval %s belongs to another user", id)
	}
	return a, nil
}

// List returns every request to reviewers and the actor's own requests to everyone else.
func (s *Service) List(ctx context.Context, actor models.Actor) ([]models.AgentSharingApproval, error) {
	requestedBy := actor.ID
	if actor.Role.IsReviewer() {
		requestedBy = ""
	}
	return s.store.ListSharingApprovals(ctx, requestedBy)
}
