package models

import "time"

// ShareTarget names one principal a share is granted to.
type ShareTarget struct {
	Type TargetType `json:"type" validate:"enum"`
	ID   string     `json:"id" validate:"required"`
}

// AgentShare grants an access level on an agent to users and groups.
type AgentShare struct {
	ID          string      `gorm:"primary_key;size:64" json:"id"`
	AgentID     string      `gorm:"index;size:128" json:"agentId"`
	OwnerID     string      `gorm:"index;size:128" json:"ownerId"`
	SharedWith  TargetList  `gorm:"type:text" json:"sharedWith"`
	AccessLevel AccessLevel `gorm:"size:16" json:"accessLevel"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
	Forced      bool        `json:"forced"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (AgentShare) TableName() string {
	return "agent_shares"
}

// Expired reports whether the share lapsed at or before now.
func (s *AgentShare) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// Covers reports whether the share targets the user directly or one of the user's groups.
func (s *AgentShare) Covers(userID string, groups []string) bool {
	for _, t := range s.SharedWith {
		switch t.Type {
		case TargetUser:
			if t.ID == userID {
				return true
			}
		case TargetGroup:
			for _, g := range groups {
				if t.ID == g {
					return true
				}
			}
		}
	}
	return false
}

// ShareRequest is the input of a share grant.
type ShareRequest struct {
	Targets     []ShareTarget `json:"targets" validate:"required,min=1,dive"`
	AccessLevel AccessLevel   `json:"accessLevel" validate:"enum"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	Forced      bool          `json:"forced,omitempty"`
}

// Check rejects admin grants to groups and expirations that are not in the future.
func (r *ShareRequest) Check(now time.Time) error {
	if r.AccessLevel == AccessAdmin {
		for _, t := range r.Targets {
			if t.Type == TargetGroup {
				return invalid("access level admin is only valid for user targets, not group %q", t.ID)
			}
		}
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
		return invalid("expiresAt must be in the future")
	}
	return nil
}
