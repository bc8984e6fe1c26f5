package evaluation

import (
	"math"
	"reflect"
	"testing"
	"time"

	"expertgate/internal/models"
)

var day = time.Date(2025, 10, 23, 9, 0, 0, 0, time.UTC)

// s001 mirrors the reference dataset: four critical questions in one category.
func s001() models.Evaluation {
	return models.Evaluation{
		ID:             "EVAL-vh5yLgNH-2025-10-23-v1",
		AgentID:        "vh5yLgNHnN0G4mRatDo9",
		TotalQuestions: 4,
		Status:         models.StatusDraft,
		Categories:     models.CategoryList{{ID: "structure", Name: "Structure", Count: 4}},
		Questions: models.QuestionList{
			{ID: "Q1", Category: "structure", Priority: models.PriorityCritical, Question: "q1"},
			{ID: "Q2", Category: "structure", Priority: models.PriorityCritical, Question: "q2"},
			{ID: "Q3", Category: "structure", Priority: models.PriorityCritical, Question: "q3"},
			{ID: "Q4", Category: "structure", Priority: models.PriorityCritical, Question: "q4"},
		},
		SuccessCriteria: models.SuccessCriteria{MinimumQuality: 5, MinCriticalCoverage: 3, MinReferenceRelevance: 0.7},
	}
}

func result(evalID, questionID string, quality int, offset time.Duration, sims ...float64) models.TestResult {
	r := models.TestResult{
		ID:             questionID + offset.String(),
		EvaluationID:   evalID,
		QuestionID:     questionID,
		Quality:        quality,
		TestedAt:       day.Add(offset),
		PassedCriteria: quality >= 5,
	}
	for _, s := range sims {
		r.References = append(r.References, models.Reference{Name: "doc", Similarity: s})
	}
	return r
}

func s001Results(evalID string) []models.TestResult {
	return []models.TestResult{
		result(evalID, "Q1", 10, 0, 0.748, 0.735),
		result(evalID, "Q2", 10, time.Minute, 0.808, 0.807),
		result(evalID, "Q3", 8, 2*time.Minute, 0.82),
		result(evalID, "Q4", 9, 3*time.Minute, 0.82),
	}
}

func TestAggregateS001(t *testing.T) {
	e := s001()
	stats := Aggregate(e, s001Results(e.ID))

	if stats.AverageQuality == nil || *stats.AverageQuality != 9.25 {
		t.Fatalf("AverageQuality = %v, want 9.25", stats.AverageQuality)
	}
	if stats.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want %q", stats.Status, models.StatusCompleted)
	}
	if stats.PhantomRefsDetected != 0 {
		t.Errorf("PhantomRefsDetected = %d, want 0", stats.PhantomRefsDetected)
	}
	if stats.QuestionsTested != 4 {
		t.Errorf("QuestionsTested = %d, want 4", stats.QuestionsTested)
	}
	if stats.QuestionsPassedQuality != 4 {
		t.Errorf("QuestionsPassedQuality = %d, want 4", stats.QuestionsPassedQuality)
	}

	wantSim := (0.748 + 0.735 + 0.808 + 0.807 + 0.82 + 0.82) / 6
	if stats.AvgSimilarity == nil || math.Abs(*stats.AvgSimilarity-wantSim) > 1e-9 {
		t.Errorf("AvgSimilarity = %v, want %v", stats.AvgSimilarity, wantSim)
	}

	for _, q := range stats.Questions {
		if !q.Tested || q.TestResult == nil {
			t.Fatalf("question %s not marked tested", q.ID)
		}
	}
	if got := stats.Questions[2].TestResult; got.Quality != 8 || got.ReferenceCount != 1 || got.Date != "2025-10-23" {
		t.Errorf("Q3 summary = %+v", got)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	e := s001()
	results := s001Results(e.ID)

	first := Aggregate(e, results)
	first.Apply(&e)
	second := Aggregate(e, results)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second Aggregate() = %+v, want %+v", second, first)
	}
}

func TestAggregateOrderInsensitive(t *testing.T) {
	e := s001()
	results := s001Results(e.ID)
	reversed := make([]models.TestResult, len(results))
	for i, r := range results {
		reversed[len(results)-1-i] = r
	}

	if a, b := Aggregate(e, results), Aggregate(e, reversed); !reflect.DeepEqual(a, b) {
		t.Errorf("Aggregate() depends on result order: %+v vs %+v", a, b)
	}
}

func TestAggregateCountsRetests(t *testing.T) {
	e := s001()
	results := []models.TestResult{
		result(e.ID, "Q1", 4, 0),
		result(e.ID, "Q1", 8, time.Hour),
		result("EVAL-other", "Q2", 1, 0),
	}
	results[0].PhantomRefs = true

	stats := Aggregate(e, results)

	if stats.QuestionsTested != 1 {
		t.Errorf("QuestionsTested = %d, want 1", stats.QuestionsTested)
	}
	if *stats.AverageQuality != 6 {
		t.Errorf("AverageQuality = %v, want 6", *stats.AverageQuality)
	}
	if stats.PhantomRefsDetected != 1 {
		t.Errorf("PhantomRefsDetected = %d, want 1", stats.PhantomRefsDetected)
	}
	if stats.AvgSimilarity != nil {
		t.Errorf("AvgSimilarity = %v, want nil without references", *stats.AvgSimilarity)
	}
	if stats.Status != models.StatusInProgress {
		t.Errorf("Status = %q, want %q", stats.Status, models.StatusInProgress)
	}
	if got := stats.Questions[0].TestResult.Quality; got != 8 {
		t.Errorf("latest Q1 quality = %d, want 8", got)
	}
}

func TestAggregateStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		current models.EvaluationStatus
		results int
		want    models.EvaluationStatus
	}{
		{"no results stays draft", models.StatusDraft, 0, models.StatusDraft},
		{"partial", models.StatusDraft, 2, models.StatusInProgress},
		{"complete", models.StatusInProgress, 4, models.StatusCompleted},
		{"approved preserved", models.StatusApproved, 4, models.StatusApproved},
		{"rejected preserved", models.StatusRejected, 1, models.StatusRejected},
		{"never backwards", models.StatusCompleted, 2, models.StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := s001()
			e.Status = tt.current
			got := Aggregate(e, s001Results(e.ID)[:tt.results]).Status
			if got != tt.want {
				t.Errorf("Aggregate().Status = %q, want %q", got, tt.want)
			}
		})
	}
}
