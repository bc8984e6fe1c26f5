package events

import (
	"context"
	"time"
)

// Event types published by the core.
const (
	EvaluationCreated        = "evaluation.created"
	EvaluationDecided        = "evaluation.decided"
	SharingApprovalSubmitted = "sharing_approval.submitted"
	SharingApprovalReviewed  = "sharing_approval.reviewed"
	ShareCreated             = "share.created"
	ShareRevoked             = "share.revoked"
)

// Event is a domain notification for reviewers and downstream consumers.
type Event struct {
	Type    string            `json:"type"`
	Subject string            `json:"subject"`
	Actor   string            `json:"actor"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// Publisher delivers domain events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
