package database

import (
	"context"
	"fmt"

	"github.com/jinzhu/gorm"

	"expertgate/internal/apperr"
	"expertgate/internal/models"
)

// CreateSharingApproval stores a new fast-track request
func (s *Store) CreateSharingApproval(ctx context.Context, a *models.AgentSharingApproval) error {
	if err := s.db.Create(a).Error; err != nil {
		return fmt.Errorf("failed to store sharing approval: %w", err)
	}
	return nil
}

// GetSharingApproval loads one fast-track request
func (s *Store) GetSharingApproval(ctx context.Context, id string) (*models.AgentSharingApproval, error) {
	var a models.AgentSharingApproval
	if err := s.db.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, lookupErr(err, "sharing approval %s not found", id)
	}
	return &a, nil
}

// ListSharingApprovals returns requests newest first; an empty requestedBy lists all
func (s *Store) ListSharingApprovals(ctx context.Context, requestedBy string) ([]models.AgentSharingApproval, error) {
	q := s.db.Order("requested_at desc")
	if requestedBy != "" {
		q = q.Where("requested_by = ?", requestedBy)
	}

	var approvals []models.AgentSharingApproval
	if err := q.Find(&approvals).Error; err != nil {
		return nil, fmt.Errorf("failed to list sharing approvals: %w", err)
	}
	return approvals, nil
}

// ReviewSharingApproval resolves a pending request. Only one review can ever win.
func (s *Store) ReviewSharingApproval(ctx context.Context, id string, review models.ApprovalReview) error {
	res := s.db.Model(&models.AgentSharingApproval{}).
		Where("id = ? AND status = ?", id, models.ApprovalPending).
		Updates(map[string]interface{}{
			"status":            review.Status,
			"reviewed_by":       review.ReviewedBy,
			"reviewed_by_email": review.ReviewedByEmail,
			"reviewed_at":       &review.ReviewedAt,
			"review_notes":      review.ReviewNotes,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to review sharing approval %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.GetSharingApproval(ctx, id)
		if err != nil {
			return err
		}
		return apperr.Conflict("sharing approval %s is already %s", id, current.Status)
	}
	return nil
}

// LatestApprovedSharingApproval returns the most recently approved request of an agent, or nil
func (s *Store) LatestApprovedSharingApproval(ctx context.Context, agentID string) (*models.AgentSharingApproval, error) {
	var a models.AgentSharingApproval
	err := s.db.Where("agent_id = ? AND status = ?", agentID, models.ApprovalApproved).
		Order("reviewed_at desc").
		First(&a).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up sharing approval for %s: %w", agentID, err)
	}
	return &a, nil
}

// CreateShare stores a grant
func (s *Store) CreateShare(ctx context.Context, share *models.AgentShare) error {
	if err := s.db.Create(share).Error; err != nil {
		return fmt.Errorf("failed to store share: %w", err)
	}
	return nil
}

// GetShare loads one grant
func (s *Store) GetShare(ctx context.Context, id string) (*models.AgentShare, error) {
	var share models.AgentShare
	if err := s.db.Where("id = ?", id).First(&share).Error; err != nil {
		return nil, lookupErr(err, "share %s not found", id)
	}
	return &share, nil
}

// ListShares returns every grant on an agent, expired ones included
func (s *Store) ListShares(ctx context.Context, agentID string) ([]models.AgentShare, error) {
	var shares []models.AgentShare
	if err := s.db.Where("agent_id = ?", agentID).Order("created_at asc").Find(&shares).Error; err != nil {
		return nil, fmt.Errorf("failed to list shares of %s: %w", agentID, err)
	}
	return shares, nil
}

// DeleteShare removes a grant permanently
func (s *Store) DeleteShare(ctx context.Context, id string) error {
	res := s.db.Where("id = ?", id).Delete(&models.AgentShare{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete share %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("share %s not found", id)
	}
	return nil
}

// GetUser resolves a JWT subject to its account
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.Where("id = ?", id).First(&u).Error; err != nil {
		return nil, lookupErr(err, "user %s not found", id)
	}
	return &u, nil
}

// SaveUser creates or updates an account
func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	if err := s.db.Save(u).Error; err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

// AddGroupMember puts a user into a group; adding twice is a no-op
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	m := models.GroupMember{GroupID: groupID, UserID: userID}
	if err := s.db.Where(m).FirstOrCreate(&m).Error; err != nil {
		return fmt.Errorf("failed to add %s to group %s: %w", userID, groupID, err)
	}
	return nil
}

// GroupsOf lists the groups a user belongs to
func (s *Store) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	var groups []string
	if err := s.db.Model(&models.GroupMember{}).Where("user_id = ?", userID).Pluck("group_id", &groups).Error; err != nil {
		return nil, fmt.Errorf("failed to list groups of %s: %w", userID, err)
	}
	return groups, nil
}
