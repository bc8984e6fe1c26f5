package models

// EvaluationStatus is the lifecycle state of an Evaluation.
type EvaluationStatus string

const (
	StatusDraft      EvaluationStatus = "draft"
	StatusInProgress EvaluationStatus = "in_progress"
	StatusCompleted  EvaluationStatus = "completed"
	StatusApproved   EvaluationStatus = "approved"
	StatusRejected   EvaluationStatus = "rejected"
)

// evaluationStatusRank orders the states the aggregator may move between.
// Approved and rejected are reviewer decisions and share the top rank.
var evaluationStatusRank = map[EvaluationStatus]int{
	StatusDraft:      0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusApproved:   3,
	StatusRejected:   3,
}

func (s EvaluationStatus) Valid() bool {
	_, ok := evaluationStatusRank[s]
	return ok
}

// Rank returns the forward position of s in the lifecycle.
func (s EvaluationStatus) Rank() int {
	return evaluationStatusRank[s]
}

// IsDecided reports whether a reviewer has approved or rejected the evaluation.
func (s EvaluationStatus) IsDecided() bool {
	return s == StatusApproved || s == StatusRejected
}

// QuestionPriority ranks a question inside a plan.
type QuestionPriority string

const (
	PriorityCritical QuestionPriority = "critical"
	PriorityHigh     QuestionPriority = "high"
	PriorityMedium   QuestionPriority = "medium"
	PriorityLow      QuestionPriority = "low"
)

func (p QuestionPriority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// SampleType tags a sample answer of the fast-track approval.
type SampleType string

const (
	SampleBad         SampleType = "bad"
	SampleReasonable  SampleType = "reasonable"
	SampleOutstanding SampleType = "outstanding"
)

// SampleTypes lists every type a complete sample set must contain once.
var SampleTypes = []SampleType{SampleBad, SampleReasonable, SampleOutstanding}

func (t SampleType) Valid() bool {
	switch t {
	case SampleBad, SampleReasonable, SampleOutstanding:
		return true
	}
	return false
}

// ApprovalStatus is the lifecycle state of an AgentSharingApproval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Decision is a reviewer verdict on a sharing approval.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Status maps the decision onto the approval state it produces.
func (d Decision) Status() ApprovalStatus {
	if d == DecisionApprove {
		return ApprovalApproved
	}
	return ApprovalRejected
}

// AccessLevel is the capability tier granted by a share.
type AccessLevel string

const (
	AccessView  AccessLevel = "view"
	AccessUse   AccessLevel = "use"
	AccessAdmin AccessLevel = "admin"
)

var accessLevelRank = map[AccessLevel]int{
	AccessView:  1,
	AccessUse:   2,
	AccessAdmin: 3,
}

func (l AccessLevel) Valid() bool {
	_, ok := accessLevelRank[l]
	return ok
}

// Rank orders access levels; an unknown level ranks 0.
func (l AccessLevel) Rank() int {
	return accessLevelRank[l]
}

// TargetType is the kind of principal a share is granted to.
type TargetType string

const (
	TargetUser  TargetType = "user"
	TargetGroup TargetType = "group"
)

func (t TargetType) Valid() bool {
	return t == TargetUser || t == TargetGroup
}

// Role is a platform role resolved server-side for the acting user.
type Role string

const (
	RoleUser       Role = "user"
	RoleExpert     Role = "expert"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleExpert, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsElevated reports whether the role may approve, reject and force-share.
func (r Role) IsElevated() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IsReviewer reports whether the role may author and run evaluations.
func (r Role) IsReviewer() bool {
	return r == RoleExpert || r.IsElevated()
}

// Actor is the authenticated identity behind a core operation.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
