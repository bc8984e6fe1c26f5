package evaluation

import (
	"fmt"

	"expertgate/internal/models"
)

// Outcome is the tri-state result of checking one criterion.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeUnknown Outcome = "unknown"
)

// Criterion names one success criterion.
type Criterion string

const (
	CriterionQuality            Criterion = "quality"
	CriterionPhantomRefs        Criterion = "phantom_refs"
	CriterionCriticalCoverage   Criterion = "critical_coverage"
	CriterionReferenceRelevance Criterion = "reference_relevance"
)

// CriterionResult compares one criterion against the evaluation's aggregates.
// Passed is nil when the outcome is unknown.
type CriterionResult struct {
	Criterion Criterion `json:"criterion"`
	Required  string    `json:"required"`
	Achieved  string    `json:"achieved"`
	Passed    *bool     `json:"passed"`
	Outcome   Outcome   `json:"outcome"`
}

// Report is the full criteria evaluation of one evaluation.
type Report struct {
	EvaluationID string            `json:"evaluationId"`
	Status       string            `json:"status"`
	Criteria     []CriterionResult `json:"criteria"`
	Verdict      Outcome           `json:"verdict"`
}

// Evaluate checks an evaluation's aggregates against its success criteria.
// It only reads; approving or rejecting stays a reviewer decision.
func Evaluate(e models.Evaluation) []CriterionResult {
	c := e.SuccessCriteria

	quality := CriterionResult{
		Criterion: CriterionQuality,
		Required:  fmt.Sprintf(">= %.1f", c.MinimumQuality),
		Achieved:  "n/a",
	}
	if e.AverageQuality != nil {
		quality.Achieved = fmt.Sprintf("%.2f", *e.AverageQuality)
		quality.set(*e.AverageQuality >= c.MinimumQuality)
	} else {
		quality.markUnknown()
	}

	phantom := CriterionResult{
		Criterion: CriterionPhantomRefs,
		Required:  "0",
		Achieved:  fmt.Sprintf("%d", e.PhantomRefsDetected),
	}
	if c.AllowPhantomRefs {
		phantom.Required = "any"
	}
	phantom.set(c.AllowPhantomRefs || e.PhantomRefsDetected == 0)

	covered := 0
	for _, q := range e.Questions {
		if q.Priority == models.PriorityCritical && q.Tested {
			covered++
		}
	}
	coverage := CriterionResult{
		Criterion: CriterionCriticalCoverage,
		Required:  fmt.Sprintf(">= %d", c.MinCriticalCoverage),
		Achieved:  fmt.Sprintf("%d", covered),
	}
	coverage.set(covered >= c.MinCriticalCoverage)

	relevance := CriterionResult{
		Criterion: CriterionReferenceRelevance,
		Required:  fmt.Sprintf(">= %.2f", c.MinReferenceRelevance),
		Achieved:  "n/a",
	}
	if e.AvgSimilarity != nil {
		relevance.Achieved = fmt.Sprintf("%.3f", *e.AvgSimilarity)
		relevance.set(*e.AvgSimilarity >= c.MinReferenceRelevance)
	} else {
		relevance.markUnknown()
	}

	return []CriterionResult{quality, phantom, coverage, relevance}
}

// Verdict is pass when every criterion passes, fail when any fails and unknown otherwise.
func Verdict(results []CriterionResult) Outcome {
	verdict := OutcomePass
	for _, r := range results {
		switch r.Outcome {
		case OutcomeFail:
			return OutcomeFail
		case OutcomeUnknown:
			verdict = OutcomeUnknown
		}
	}
	return verdict
}

// NewReport evaluates e and wraps the results with their verdict.
func NewReport(e models.Evaluation) *Report {
	results := Evaluate(e)
	return &Report{
		EvaluationID: e.ID,
		Status:       string(e.Status),
		Criteria:     results,
		Verdict:      Verdict(results),
	}
}

func (r *CriterionResult) set(passed bool) {
	r.Passed = &passed
	if passed {
		r.Outcome = OutcomePass
	} else {
		r.Outcome = OutcomeFail
	}
}

func (r *CriterionResult) markUnknown() {
	r.Passed = nil
	r.Outcome = OutcomeUnknown
}
