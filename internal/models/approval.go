package models

import (
	"strings"
	"time"
)

// SampleAnswer is one example answer of the fast-track approval.
type SampleAnswer struct {
	Type        SampleType `json:"type" validate:"enum"`
	Question    string     `json:"question" validate:"required"`
	Answer      string     `json:"answer" validate:"required"`
	Explanation string     `json:"explanation" validate:"required"`
	CsatScore   *int       `json:"csatScore,omitempty"`
	NpsScore    *int       `json:"npsScore,omitempty"`
}

// Check enforces that the texts are not blank and the scores fall in the band of the sample type.
func (s SampleAnswer) Check() error {
	texts := []struct{ name, value string }{
		{"question", s.Question},
		{"answer", s.Answer},
		{"explanation", s.Explanation},
	}
	for _, t := range texts {
		if strings.TrimSpace(t.value) == "" {
			return invalid("%s sample is missing %s text", s.Type, t.name)
		}
	}

	switch s.Type {
	case SampleReasonable:
		if s.CsatScore == nil || *s.CsatScore < 1 || *s.CsatScore > 3 {
			return invalid("reasonable sample needs csatScore between 1 and 3")
		}
		if s.NpsScore == nil || *s.NpsScore < 0 || *s.NpsScore >= 98 {
			return invalid("reasonable sample needs npsScore between 0 and 97")
		}
	case SampleOutstanding:
		if s.CsatScore == nil || *s.CsatScore < 4 || *s.CsatScore > 5 {
			return invalid("outstanding sample needs csatScore between 4 and 5")
		}
		if s.NpsScore == nil || *s.NpsScore < 98 || *s.NpsScore > 100 {
			return invalid("outstanding sample needs npsScore of at least 98")
		}
	case SampleBad:
		if s.CsatScore != nil && (*s.CsatScore < 1 || *s.CsatScore > 5) {
			return invalid("bad sample csatScore must be between 1 and 5")
		}
		if s.NpsScore != nil && (*s.NpsScore < 0 || *s.NpsScore > 100) {
			return invalid("bad sample npsScore must be between 0 and 100")
		}
	}
	return nil
}

// AgentSharingApproval is a fast-track request to share an agent on the strength of three samples.
type AgentSharingApproval struct {
	ID               string     `gorm:"primary_key;size:64" json:"id"`
	AgentID          string     `gorm:"index;size:128" json:"agentId"`
	AgentName        string     `json:"agentName"`
	RequestedBy      string     `gorm:"index;size:128" json:"requestedBy"`
	RequestedByEmail string     `json:"requestedByEmail"`
	RequestedAt      time.Time  `json:"requestedAt"`
	Samples          SampleList `gorm:"column:sample_questions;type:text" json:"sampleQuestions"`
	EvaluationID     string     `gorm:"size:128" json:"evaluationId,omitempty"`
	EvaluationPassed *bool      `json:"evaluationPassed,omitempty"`

	Status          ApprovalStatus `gorm:"index;size:32" json:"status"`
	ReviewedBy      string         `json:"reviewedBy,omitempty"`
	ReviewedByEmail string         `json:"reviewedByEmail,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewedAt,omitempty"`
	ReviewNotes     string         `gorm:"type:text" json:"reviewNotes,omitempty"`
}

func (AgentSharingApproval) TableName() string {
	return "agent_sharing_approvals"
}

// SharingApprovalRequest is the submission input of a fast-track approval.
type SharingApprovalRequest struct {
	AgentID      string         `json:"agentId" validate:"required,max=128"`
	AgentName    string         `json:"agentName" validate:"required"`
	Samples      []SampleAnswer `json:"sampleQuestions" validate:"dive"`
	EvaluationID string         `json:"evaluationId,omitempty"`
}

// Check requires exactly one complete sample of every type.
func (r *SharingApprovalRequest) Check() error {
	if len(r.Samples) != len(SampleTypes) {
		return invalid("exactly %d complete samples are required (bad, reasonable, outstanding), got %d",
			len(SampleTypes), len(r.Samples))
	}

	seen := make(map[SampleType]bool, len(SampleTypes))
	for _, s := range r.Samples {
		if seen[s.Type] {
			return invalid("sample type %q appears more than once", s.Type)
		}
		seen[s.Type] = true
		if err := s.Check(); err != nil {
			return err
		}
	}
	for _, t := range SampleTypes {
		if !seen[t] {
			return invalid("a %q sample is required", t)
		}
	}
	return nil
}

// ApprovalReview is the persisted outcome of a review.
type ApprovalReview struct {
	Status          ApprovalStatus
	ReviewedBy      string
	ReviewedByEmail string
	ReviewedAt      time.Time
	ReviewNotes     string
}

// ReviewRequest is a reviewer's verdict on a pending approval.
type ReviewRequest struct {
	Decision Decision `json:"decision" validate:"enum"`
	Notes    string   `json:"notes,omitempty"`
}
