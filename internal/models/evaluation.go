package models

import (
	"fmt"
	"strings"
	"time"
)

// SuccessCriteria is the policy an evaluation must meet to be approvable.
type SuccessCriteria struct {
	MinimumQuality         float64 `json:"minimumQuality" validate:"gte=1,lte=10"`
	AllowPhantomRefs       bool    `json:"allowPhantomRefs"`
	MinCriticalCoverage    int     `json:"minCriticalCoverage" validate:"gte=0"`
	MinReferenceRelevance  float64 `json:"minReferenceRelevance" validate:"gte=0,lte=1"`
	AdditionalRequirements string  `json:"additionalRequirements,omitempty"`
}

// QuestionCategory groups questions of a plan.
type QuestionCategory struct {
	ID          string `json:"id" validate:"required,max=64"`
	Name        string `json:"name" validate:"required"`
	Count       int    `json:"count" validate:"gte=0"`
	Description string `json:"description,omitempty"`
}

// ResultSummary is the latest TestResult of a question, embedded in the plan.
type ResultSummary struct {
	Quality        int    `json:"quality"`
	PhantomRefs    bool   `json:"phantomRefs"`
	ReferenceCount int    `json:"referenceCount"`
	Date           string `json:"date"`
	Notes          string `json:"notes,omitempty"`
}

// EvaluationQuestion is one prompt inside a plan. Tested and TestResult are
// derived by the aggregator and ignored on input.
type EvaluationQuestion struct {
	ID                string           `json:"id" validate:"required,max=64"`
	Number            int              `json:"number,omitempty" validate:"gte=0"`
	Category          string           `json:"category" validate:"required"`
	Priority          QuestionPriority `json:"priority" validate:"enum"`
	Question          string           `json:"question" validate:"required"`
	ExpectedTopics    []string         `json:"expectedTopics,omitempty"`
	ExpectedDocuments []string         `json:"expectedDocuments,omitempty"`
	Tested            bool             `json:"tested"`
	TestResult        *ResultSummary   `json:"testResult,omitempty"`
}

// Evaluation is one test plan for one agent version.
type Evaluation struct {
	ID             string    `gorm:"primary_key;size:128" json:"id"`
	AgentID        string    `gorm:"index;size:128" json:"agentId"`
	AgentName      string    `json:"agentName"`
	Version        string    `gorm:"size:32" json:"version"`
	CreatedBy      string    `gorm:"index;size:128" json:"createdBy"`
	CreatedByEmail string    `json:"createdByEmail"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`

	TotalQuestions  int             `json:"totalQuestions"`
	Questions       QuestionList    `gorm:"type:text" json:"questions"`
	Categories      CategoryList    `gorm:"type:text" json:"categories"`
	SuccessCriteria SuccessCriteria `gorm:"type:text" json:"successCriteria"`

	Status EvaluationStatus `gorm:"index;size:32" json:"status"`

	QuestionsTested        int      `json:"questionsTested"`
	QuestionsPassedQuality int      `json:"questionsPassedQuality"`
	AverageQuality         *float64 `json:"averageQuality"`
	PhantomRefsDetected    int      `json:"phantomRefsDetected"`
	AvgSimilarity          *float64 `json:"avgSimilarity"`

	// Revision increases on every write and guards concurrent updates.
	Revision int64 `json:"revision"`

	Source          string     `json:"source,omitempty"`
	Notes           string     `gorm:"type:text" json:"notes,omitempty"`
	ApprovedBy      string     `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectionReason string     `gorm:"type:text" json:"rejectionReason,omitempty"`
}

func (Evaluation) TableName() string {
	return "evaluations"
}

// Question returns the planned question with the given id.
func (e *Evaluation) Question(id string) (EvaluationQuestion, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return EvaluationQuestion{}, false
}

// EvaluationDecision is the reviewer transition of an evaluation to approved or rejected.
type EvaluationDecision struct {
	Status          EvaluationStatus
	ApprovedBy      string
	ApprovedAt      *time.Time
	RejectedBy      string
	RejectionReason string
}

// EvaluationPlan is the authoring input of a new evaluation.
type EvaluationPlan struct {
	AgentID         string               `json:"agentId" validate:"required,max=128"`
	AgentName       string               `json:"agentName" validate:"required"`
	Version         string               `json:"version" validate:"required,max=32"`
	TotalQuestions  int                  `json:"totalQuestions" validate:"gte=1"`
	Questions       []EvaluationQuestion `json:"questions" validate:"required,min=1,dive"`
	Categories      []QuestionCategory   `json:"categories" validate:"required,min=1,dive"`
	SuccessCriteria SuccessCriteria      `json:"successCriteria"`
	Source          string               `json:"source,omitempty"`
	Notes           string               `json:"notes,omitempty"`
}

// Check enforces the cross-field invariants of a plan that tags cannot express.
func (p *EvaluationPlan) Check() error {
	if p.TotalQuestions != len(p.Questions) {
		return invalid("totalQuestions (%d) must equal the number of questions (%d)", p.TotalQuestions, len(p.Questions))
	}

	sum := 0
	ids := make(map[string]bool, len(p.Categories))
	names := make(map[string]bool, len(p.Categories))
	for _, c := range p.Categories {
		if ids[c.ID] {
			return invalid("category id %q is duplicated", c.ID)
		}
		ids[c.ID] = true
		names[strings.ToLower(c.Name)] = true
		sum += c.Count
	}
	if sum != p.TotalQuestions {
		return invalid("sum of category counts (%d) must equal totalQuestions (%d)", sum, p.TotalQuestions)
	}

	seen := make(map[string]bool, len(p.Questions))
	critical := 0
	for _, q := range p.Questions {
		if seen[q.ID] {
			return invalid("question id %q is duplicated", q.ID)
		}
		seen[q.ID] = true
		if !ids[q.Category] && !names[strings.ToLower(q.Category)] {
			return invalid("question %q references unknown category %q", q.ID, q.Category)
		}
		if q.Priority == PriorityCritical {
			critical++
		}
	}

	if p.SuccessCriteria.MinCriticalCoverage > critical {
		return invalid("minCriticalCoverage (%d) exceeds the number of critical questions (%d)",
			p.SuccessCriteria.MinCriticalCoverage, critical)
	}
	return nil
}

// NewEvaluationID derives the stable id of an evaluation from agent, date and version.
func NewEvaluationID(agentID string, day time.Time, version string) string {
	prefix := agentID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("EVAL-%s-%s-%s", prefix, day.Format("2006-01-02"), version)
}
