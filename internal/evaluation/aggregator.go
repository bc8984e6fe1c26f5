package evaluation

import (
	"expertgate/internal/models"
)

// Stats is everything the aggregator derives from an evaluation's test results.
type Stats struct {
	QuestionsTested        int
	QuestionsPassedQuality int
	AverageQuality         *float64
	PhantomRefsDetected    int
	AvgSimilarity          *float64
	Status                 models.EvaluationStatus
	Questions              models.QuestionList
}

// Aggregate folds the full result history of an evaluation into its derived state.
// Results of other evaluations are ignored. Every result counts, retests included.
// The fold has no memory of previous runs, so running it again over the same
// results yields the same Stats.
func Aggregate(e models.Evaluation, results []models.TestResult) Stats {
	var (
		stats         Stats
		qualitySum    float64
		qualityCount  int
		similaritySum float64
		refCount      int
	)

	latest := make(map[string]models.TestResult)
	for _, r := range results {
		if r.EvaluationID != e.ID {
			continue
		}

		qualitySum += float64(r.Quality)
		qualityCount++
		if r.PhantomRefs {
			stats.PhantomRefsDetected++
		}
		if r.PassedCriteria {
			stats.QuestionsPassedQuality++
		}
		for _, ref := range r.References {
			similaritySum += ref.Similarity
			refCount++
		}

		if prev, ok := latest[r.QuestionID]; !ok || !r.TestedAt.Before(prev.TestedAt) {
			latest[r.QuestionID] = r
		}
	}

	stats.QuestionsTested = len(latest)
	if qualityCount > 0 {
		avg := qualitySum / float64(qualityCount)
		stats.AverageQuality = &avg
	}
	if refCount > 0 {
		avg := similaritySum / float64(refCount)
		stats.AvgSimilarity = &avg
	}

	stats.Questions = make(models.QuestionList, len(e.Questions))
	for i, q := range e.Questions {
		q.Tested = false
		q.TestResult = nil
		if r, ok := latest[q.ID]; ok {
			q.Tested = true
			q.TestResult = &models.ResultSummary{
				Quality:        r.Quality,
				PhantomRefs:    r.PhantomRefs,
				ReferenceCount: len(r.References),
				Date:           r.TestedAt.Format("2006-01-02"),
				Notes:          r.Notes,
			}
		}
		stats.Questions[i] = q
	}

	stats.Status = nextStatus(e.Status, progressStatus(stats.QuestionsTested, e.TotalQuestions))
	return stats
}

// Apply writes stats onto the derived fields of e.
func (s Stats) Apply(e *models.Evaluation) {
	e.QuestionsTested = s.QuestionsTested
	e.QuestionsPassedQuality = s.QuestionsPassedQuality
	e.AverageQuality = s.AverageQuality
	e.PhantomRefsDetected = s.PhantomRefsDetected
	e.AvgSimilarity = s.AvgSimilarity
	e.Status = s.Status
	e.Questions = s.Questions
}

func progressStatus(tested, total int) models.EvaluationStatus {
	switch {
	case tested == 0:
		return models.StatusDraft
	case tested < total:
		return models.StatusInProgress
	default:
		return models.StatusCompleted
	}
}

// nextStatus never moves backwards and never overrides a reviewer decision.
func nextStatus(current, candidate models.EvaluationStatus) models.EvaluationStatus {
	if current.IsDecided() {
		return current
	}
	if candidate.Rank() > current.Rank() {
		return candidate
	}
	return current
}
