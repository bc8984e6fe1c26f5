package approval

import (
	"context"

	"expertgate/internal/models"
)

// Track names the approval path that opened the gate.
type Track string

const (
	TrackEvaluation Track = "evaluation"
	TrackSample     Track = "sample"
)

// GateStore looks up the approved records of an agent. Both methods return nil when none exists.
type GateStore interface {
	LatestApprovedEvaluation(ctx context.Context, agentID string) (*models.Evaluation, error)
	LatestApprovedSharingApproval(ctx context.Context, agentID string) (*models.AgentSharingApproval, error)
}

// Decision explains whether an agent may be shared.
type Decision struct {
	AgentID      string `json:"agentId"`
	Approved     bool   `json:"approved"`
	Track        Track  `json:"track,omitempty"`
	EvaluationID string `json:"evaluationId,omitempty"`
	ApprovalID   string `json:"approvalId,omitempty"`
}

// Gate combines the full-evaluation and fast-sample tracks into one decision per agent.
type Gate struct {
	store GateStore
}

func NewGate(store GateStore) *Gate {
	return &Gate{store: store}
}

// Check reports the first open track, evaluation before sample.
func (g *Gate) Check(ctx context.Context, agentID string) (*Decision, error) {
	d := &Decision{AgentID: agentID}

	e, err := g.store.LatestApprovedEvaluation(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if e != nil {
		d.Approved = true
		d.Track = TrackEvaluation
		d.EvaluationID = e.ID
		return d, nil
	}

	a, err := g.store.LatestApprovedSharingApproval(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a != nil {
		d.Approved = true
		d.Track = TrackSample
		d.ApprovalID = a.ID
	}
	return d, nil
}

// CanShare reports whether either track approved the agent.
func (g *Gate) CanShare(ctx context.Context, agentID string) (bool, error) {
	d, err := g.Check(ctx, agentID)
	if err != nil {
		return false, err
	}
	return d.Approved, nil
}
