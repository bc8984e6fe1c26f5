package sharing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"expertgate/internal/apperr"
	"expertgate/internal/events"
	"expertgate/internal/models"
	"expertgate/internal/monitoring"
)

// Store persists share grants and resolves group membership.
type Store interface {
	CreateShare(ctx context.Context, share *models.AgentShare) error
	GetShare(ctx context.Context, id string) (*models.AgentShare, error)
	ListShares(ctx context.Context, agentID string) ([]models.AgentShare, error)
	DeleteShare(ctx context.Context, id string) error
	GroupsOf(ctx context.Context, userID string) ([]string, error)
}

// Gate decides whether an agent passed either approval track.
type Gate interface {
	CanShare(ctx context.Context, agentID string) (bool, error)
}

// Authority grants, lists and revokes agent shares behind the approval gate.
type Authority struct {
	store     Store
	gate      Gate
	publisher events.Publisher
	metrics   *monitoring.Collector
	logger    *zerolog.Logger
	now       func() time.Time
}

func NewAuthority(store Store, gate Gate, publisher events.Publisher, metrics *monitoring.Collector, logger *zerolog.Logger) *Authority {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Authority{
		store:     store,
		gate:      gate,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Share grants req.AccessLevel on agentID to req.Targets.
// A closed gate can only be bypassed by an elevated actor setting Forced; such grants are stored with Forced set.
func (a *Authority) Share(ctx context.Context, actor models.Actor, agentID string, req models.ShareRequest) (*models.AgentShare, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, apperr.Validation("agentId is required")
	}
	if err := models.Validate(&req); err != nil {
		return nil, err
	}
	now := a.now().UTC()
	if err := req.Check(now); err != nil {
		return nil, err
	}
	if req.Forced && !actor.Role.IsElevated() {
		return nil, apperr.Forbidden("only admins can force a share past the approval gate")
	}
	if req.AccessLevel == models.AccessAdmin {
		manager, err := a.manages(ctx, actor, agentID)
		if err != nil {
			return nil, err
		}
		if !manager {
			return nil, apperr.Forbidden("only reviewers and admin grantees of agent %s can grant admin access", agentID)
		}
	}

	open, err := a.gate.CanShare(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !open && !req.Forced {
		return nil, apperr.Forbidden("agent %s has neither an approved evaluation nor an approved sharing approval", agentID)
	}

	share := &models.AgentShare{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		OwnerID:     actor.ID,
		SharedWith:  req.Targets,
		AccessLevel: req.AccessLevel,
		ExpiresAt:   req.ExpiresAt,
		Forced:      !open,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateShare(ctx, share); err != nil {
		return nil, err
	}

	a.metrics.RecordShare(string(share.AccessLevel), share.Forced)
	if share.Forced {
		a.logger.Warn().Str("share_id", share.ID).Str("agent_id", agentID).Str("actor", actor.ID).
			Msg("Share forced past closed approval gate")
	} else {
		a.logger.Info().Str("share_id", share.ID).Str("agent_id", agentID).Str("actor", actor.ID).
			Str("access_level", string(share.AccessLevel)).Msg("Agent shared")
	}
	events.Emit(ctx, a.publisher, a.logger, events.Event{
		Type:    events.ShareCreated,
		Subject: share.ID,
		Actor:   actor.ID,
		Fields: map[string]string{
			"agentId":     agentID,
			"accessLevel": string(share.AccessLevel),
			"forced":      strconv.FormatBool(share.Forced),
		},
	})
	return share, nil
}

// Revoke deletes a grant. The owner and elevated actors may revoke.
func (a *Authority) Revoke(ctx context.Context, actor models.Actor, shareID string) error {
	share, err := a.store.GetShare(ctx, shareID)
	if err != nil {
		return err
	}
	if share.OwnerID != actor.ID && !actor.Role.IsElevated() {
		return apperr.Forbidden("only the owner or an admin can revoke share %s", shareID)
	}
	if err := a.store.DeleteShare(ctx, shareID); err != nil {
		return err
	}

	a.logger.Info().Str("share_id", shareID).Str("agent_id", share.AgentID).Str("actor", actor.ID).Msg("Share revoked")
	events.Emit(ctx, a.publisher, a.logger, events.Event{
		Type:    events.ShareRevoked,
		Subject: shareID,
		Actor:   actor.ID,
		Fields:  map[string]string{"agentId": share.AgentID},
	})
	return nil
}

// manages reports whether actor is a reviewer or holds admin access on agentID.
func (a *Authority) manages(ctx context.Context, actor models.Actor, agentID string) (bool, error) {
	if actor.Role.IsReviewer() {
		return true, nil
	}
	level, err := a.AccessFor(ctx, actor.ID, agentID)
	if err != nil {
		return false, err
	}
	return level == models.AccessAdmin, nil
}

// ListShares returns the grants on an agent, expired ones included. Reviewers and
// admin grantees see all of them; anyone else sees the grants they created or receive.
func (a *Authority) ListShares(ctx context.Context, actor models.Actor, agentID string) ([]models.AgentShare, error) {
	shares, err := a.store.ListShares(ctx, agentID)
	if err != nil {
		return nil, err
	}
	manager, err := a.manages(ctx, actor, agentID)
	if err != nil {
		return nil, err
	}
	if manager {
		return shares, nil
	}

	groups, err := a.store.GroupsOf(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	visible := make([]models.AgentShare, 0, len(shares))
	for _, s := range shares {
		if s.OwnerID == actor.ID || s.Covers(actor.ID, groups) {
			visible = append(visible, s)
		}
	}
	return visible, nil
}

// AccessFor returns the highest level any unexpired share gives userID on agentID,
// directly or through a group. The empty level means no access.
func (a *Authority) AccessFor(ctx context.Context, userID, agentID string) (models.AccessLevel, error) {
	shares, err := a.store.ListShares(ctx, agentID)
	if err != nil {
		return "", err
	}
	groups, err := a.store.GroupsOf(ctx, userID)
	if err != nil {
		return "", err
	}

	now := a.now()
	var best models.AccessLevel
	for i := range shares {
		s := &shares[i]
		if s.Expired(now) || !s.Covers(userID, groups) {
			continue
		}
		if s.AccessLevel.Rank() > best.Rank() {
			best = s.AccessLevel
		}
	}
	return best, nil
}
