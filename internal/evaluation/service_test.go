package evaluation

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"expertgate/internal/apperr"
	"expertgate/internal/database"
	"expertgate/internal/models"
	"expertgate/internal/monitoring"
)

var (
	expert  = models.Actor{ID: "expert-1", Email: "expert@example.com", Role: models.RoleExpert}
	expert2 = models.Actor{ID: "expert-2", Email: "other@example.com", Role: models.RoleExpert}
	admin   = models.Actor{ID: "admin-1", Email: "admin@example.com", Role: models.RoleAdmin}
	user    = models.Actor{ID: "user-1", Email: "user@example.com", Role: models.RoleUser}
)

type mockInvoker struct {
	mock.Mock
}

func (m *mockInvoker) Invoke(ctx context.Context, agentID, prompt string) (*models.AgentAnswer, error) {
	args := m.Called(ctx, agentID, prompt)
	answer, _ := args.Get(0).(*models.AgentAnswer)
	return answer, args.Error(1)
}

type recordingSink struct {
	mu        sync.Mutex
	snapshots []models.Evaluation
}

func (r *recordingSink) Broadcast(e *models.Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, *e)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

// conflictingStore fails the first recomputes with a revision conflict.
type conflictingStore struct {
	*database.Store
	conflicts int
	attempts  int
}

func (c *conflictingStore) RecomputeEvaluation(ctx context.Context, id string, fold func(e *models.Evaluation, results []models.TestResult)) (*models.Evaluation, error) {
	c.attempts++
	if c.attempts <= c.conflicts {
		return nil, apperr.Conflict("evaluation %s changed during recompute", id)
	}
	return c.Store.RecomputeEvaluation(ctx, id, fold)
}

type fixture struct {
	svc     *Service
	store   *database.Store
	invoker *mockInvoker
	sink    *recordingSink
	metrics *monitoring.Collector
	clockMu sync.Mutex
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.Open(database.Config{Dialect: "sqlite3", DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		store:   database.NewStore(db),
		invoker: new(mockInvoker),
		sink:    &recordingSink{},
		metrics: monitoring.NewCollector(),
		clock:   time.Date(2025, 10, 23, 9, 0, 0, 0, time.UTC),
	}
	now := func() time.Time {
		f.clockMu.Lock()
		defer f.clockMu.Unlock()
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}

	logger := zerolog.Nop()
	executor := NewExecutor(f.invoker, f.store, f.metrics, &logger, WithClock(now), WithTimeout(time.Second))
	f.svc = NewService(ServiceConfig{
		Store:       f.store,
		Executor:    executor,
		Progress:    f.sink,
		Metrics:     f.metrics,
		Logger:      &logger,
		Concurrency: 2,
		Now:         now,
	})
	return f
}

func planS001() models.EvaluationPlan {
	return models.EvaluationPlan{
		AgentID:        "vh5yLgNHnN0G4mRatDo9",
		AgentName:      "Interview Coach",
		Version:        "v1",
		TotalQuestions: 4,
		Categories:     []models.QuestionCategory{{ID: "structure", Name: "Structure", Count: 4}},
		Questions: []models.EvaluationQuestion{
			{ID: "Q1", Category: "structure", Priority: models.PriorityCritical, Question: "How do I open an interview answer?", ExpectedTopics: []string{"STAR"}},
			{ID: "Q2", Category: "structure", Priority: models.PriorityCritical, Question: "How do I close?"},
			{ID: "Q3", Category: "structure", Priority: models.PriorityHigh, Question: "What is the STAR method?"},
			{ID: "Q4", Category: "structure", Priority: models.PriorityMedium, Question: "How long should answers be?"},
		},
		SuccessCriteria: models.SuccessCriteria{MinimumQuality: 5, MinCriticalCoverage: 2, MinReferenceRelevance: 0.7},
		Notes:           "<b>imported</b> from S001",
	}
}

func record(t *testing.T, f *fixture, actor models.Actor, evalID, questionID string, quality int, sims ...float64) *models.TestResult {
	t.Helper()
	in := models.TestResultInput{QuestionID: questionID, Response: "Use the STAR method.", Quality: quality}
	if len(sims) > 0 {
		in.Response = "Use the STAR method [1]."
	}
	for _, s := range sims {
		in.References = append(in.References, models.Reference{Name: "guide.pdf", Similarity: s})
	}
	r, err := f.svc.RecordTestResult(context.Background(), actor, evalID, in)
	require.NoError(t, err)
	return r
}

func TestCreateEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)

	assert.Equal(t, "EVAL-vh5yLgNH-2025-10-23-v1", e.ID)
	assert.Equal(t, models.StatusDraft, e.Status)
	assert.Equal(t, expert.ID, e.CreatedBy)
	assert.Equal(t, "imported from S001", e.Notes)
	assert.Equal(t, 3, e.Questions[2].Number)

	_, err = f.svc.CreateEvaluation(ctx, expert, planS001())
	assert.True(t, apperr.Is(err, apperr.KindConflict), "duplicate id: %v", err)

	_, err = f.svc.CreateEvaluation(ctx, user, planS001())
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	bad := planS001()
	bad.Categories[0].Count = 3
	bad.Version = "v2"
	_, err = f.svc.CreateEvaluation(ctx, expert, bad)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "sum of category counts (3)")
}

func TestEndToEndS001(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)

	record(t, f, expert, e.ID, "Q1", 10, 0.748, 0.735)
	record(t, f, expert, e.ID, "Q2", 10, 0.808, 0.807)
	record(t, f, expert, e.ID, "Q3", 8, 0.82)
	record(t, f, expert, e.ID, "Q4", 9, 0.82)

	got, err := f.svc.GetEvaluation(ctx, expert, e.ID)
	require.NoError(t, err)

	require.NotNil(t, got.AverageQuality)
	assert.Equal(t, 9.25, *got.AverageQuality)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 0, got.PhantomRefsDetected)
	assert.Equal(t, 4, got.QuestionsTested)
	assert.Equal(t, 4, got.QuestionsPassedQuality)
	assert.InDelta(t, 0.7897, *got.AvgSimilarity, 1e-3)
	assert.True(t, got.Questions[0].Tested)
	assert.Equal(t, 4, f.sink.count())

	results, err := f.svc.ListTestResults(ctx, expert, e.ID)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, []string{"STAR"}, []string(results[0].ExpectedTopicsFound))

	// a second rebuild without new writes changes nothing but the revision
	again, err := f.svc.Recompute(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, *got.AverageQuality, *again.AverageQuality)
	assert.Equal(t, got.QuestionsTested, again.QuestionsTested)
	assert.Equal(t, got.Status, again.Status)
	assert.Equal(t, got.Questions, again.Questions)

	report, err := f.svc.Criteria(ctx, expert, e.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePass, report.Verdict)
}

func TestRecordTestResultDerivesPhantomAndCriteria(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)

	// [2] with one reference is a phantom citation
	r, err := f.svc.RecordTestResult(ctx, expert, e.ID, models.TestResultInput{
		QuestionID: "Q1",
		Response:   "See [1] and [2].",
		References: []models.Reference{{Name: "guide.pdf", Similarity: 0.9}},
		Quality:    9,
	})
	require.NoError(t, err)
	assert.True(t, r.PhantomRefs)
	assert.False(t, r.PassedCriteria)

	got, err := f.svc.GetEvaluation(ctx, expert, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PhantomRefsDetected)
	assert.Equal(t, models.StatusInProgress, got.Status)

	_, err = f.svc.RecordTestResult(ctx, expert, e.ID, models.TestResultInput{QuestionID: "Q9", Response: "x", Quality: 5})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.RecordTestResult(ctx, expert, e.ID, models.TestResultInput{QuestionID: "Q1", Response: "x", Quality: 11})
	assert.ErrorContains(t, err, "quality must be <= 10")

	_, err = f.svc.RecordTestResult(ctx, expert2, e.ID, models.TestResultInput{QuestionID: "Q1", Response: "x", Quality: 5})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestRecordTestResultLogsPhantomMarkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	svc := NewService(ServiceConfig{Store: f.store, Logger: &logger})

	_, err = svc.RecordTestResult(ctx, expert, e.ID, models.TestResultInput{
		QuestionID: "Q2",
		Response:   "See [1] and [3], also [0].",
		References: []models.Reference{{Name: "guide.pdf", Similarity: 0.8}},
		Quality:    6,
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"phantom_markers":["[3]","[0]"]`)
}

func TestRunQuestionThenRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)

	f.invoker.On("Invoke", mock.Anything, e.AgentID, "How do I open an interview answer?").Return(&models.AgentAnswer{
		Response:   "Open with the STAR method [1].",
		References: []models.Reference{{Name: "guide.pdf", Similarity: 0.75}},
		Model:      "rag-v2",
	}, nil)

	run, err := f.svc.RunQuestion(ctx, expert, e.ID, "Q1", "")
	require.NoError(t, err)
	assert.False(t, run.PhantomRefs)
	assert.Equal(t, "rag-v2", run.Model)

	// running does not touch the evaluation
	unchanged, err := f.svc.GetEvaluation(ctx, expert, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, unchanged.QuestionsTested)

	r, err := f.svc.RecordTestResult(ctx, expert, e.ID, models.TestResultInput{QuestionID: "Q1", RunID: run.ID, Quality: 8})
	require.NoError(t, err)
	assert.Equal(t, run.Response, r.Response)
	assert.Equal(t, run.ID, r.RunID)
	assert.Len(t, r.References, 1)

	_, err = f.svc.RecordTestResult(ctx, expert, e.ID, models.TestResultInput{QuestionID: "Q2", RunID: run.ID, Quality: 8})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.invoker.AssertExpectations(t)
}

func TestRunQuestionUpstreamFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)

	f.invoker.On("Invoke", mock.Anything, e.AgentID, mock.Anything).Return(nil, errors.New("connection reset by peer"))

	_, err = f.svc.RunQuestion(ctx, expert, e.ID, "Q2", "")
	assert.True(t, apperr.Is(err, apperr.KindUpstream))
	assert.ErrorContains(t, err, "connection reset by peer")

	var count int
	require.NoError(t, f.store.DB().Model(&models.AgentRun{}).Count(&count).Error)
	assert.Zero(t, count)

	_, err = f.svc.RunQuestion(ctx, expert, e.ID, "Q7", "")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRunPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)
	record(t, f, expert, e.ID, "Q1", 9)

	f.invoker.On("Invoke", mock.Anything, e.AgentID, "How do I close?").Return(nil, errors.New("timeout"))
	f.invoker.On("Invoke", mock.Anything, e.AgentID, mock.Anything).Return(&models.AgentAnswer{Response: "ok"}, nil)

	outcomes, err := f.svc.RunPending(ctx, expert, e.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	byQuestion := map[string]RunOutcome{}
	for _, o := range outcomes {
		byQuestion[o.QuestionID] = o
	}
	assert.NotEmpty(t, byQuestion["Q2"].Error)
	assert.Empty(t, byQuestion["Q2"].RunID)
	assert.NotEmpty(t, byQuestion["Q3"].RunID)
	assert.NotEmpty(t, byQuestion["Q4"].RunID)
}

func TestUpdateEvaluationStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)

	_, err = f.svc.UpdateEvaluationStatus(ctx, admin, e.ID, models.StatusApproved, "")
	assert.True(t, apperr.Is(err, apperr.KindConflict), "draft cannot be approved: %v", err)

	for i, q := range []string{"Q1", "Q2", "Q3", "Q4"} {
		record(t, f, expert, e.ID, q, 7+i%3)
	}

	_, err = f.svc.UpdateEvaluationStatus(ctx, expert, e.ID, models.StatusApproved, "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.UpdateEvaluationStatus(ctx, admin, e.ID, models.StatusCompleted, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	approved, err := f.svc.UpdateEvaluationStatus(ctx, admin, e.ID, models.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Equal(t, admin.ID, approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	// recompute keeps the reviewer decision
	again, err := f.svc.Recompute(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, again.Status)

	// approved evaluations take no further results
	_, err = f.svc.RecordTestResult(ctx, expert, e.ID, models.TestResultInput{QuestionID: "Q1", Response: "x", Quality: 3})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	rejected, err := f.svc.UpdateEvaluationStatus(ctx, admin, e.ID, models.StatusRejected, "<i>stale</i> sources")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Equal(t, "stale sources", rejected.RejectionReason)

	_, err = f.svc.UpdateEvaluationStatus(ctx, admin, e.ID, models.StatusRejected, "")
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestListEvaluationsScopesByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)
	other := planS001()
	other.AgentID = "another-agent"
	_, err = f.svc.CreateEvaluation(ctx, expert2, other)
	require.NoError(t, err)

	mine, err := f.svc.ListEvaluations(ctx, expert)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := f.svc.ListEvaluations(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = f.svc.GetEvaluation(ctx, expert2, mine[0].ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestRecomputeRetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)
	record(t, f, expert, e.ID, "Q1", 8)

	logger := zerolog.Nop()
	newSvc := func(store Store) *Service {
		return NewService(ServiceConfig{Store: store, Metrics: f.metrics, Logger: &logger})
	}

	t.Run("succeeds after a conflict", func(t *testing.T) {
		store := &conflictingStore{Store: f.store, conflicts: 1}
		got, err := newSvc(store).Recompute(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, store.attempts)
		require.NotNil(t, got.AverageQuality)
		assert.Equal(t, 8.0, *got.AverageQuality)
	})

	t.Run("gives up after three conflicts", func(t *testing.T) {
		store := &conflictingStore{Store: f.store, conflicts: 5}
		_, err := newSvc(store).Recompute(ctx, e.ID)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.KindConflict))
		assert.Contains(t, err.Error(), "gave up after 3 attempts")
		assert.Equal(t, 3, store.attempts)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		store := &conflictingStore{Store: f.store}
		_, err := newSvc(store).Recompute(ctx, "EVAL-missing")
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		assert.Equal(t, 1, store.attempts)
	})
}

func TestConcurrentResultsConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.CreateEvaluation(ctx, expert, planS001())
	require.NoError(t, err)

	questions := []string{"Q1", "Q2", "Q3", "Q4"}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.RecordTestResult(ctx, expert, e.ID, models.TestResultInput{
				QuestionID: questions[i%len(questions)],
				Response:   "Use the STAR method.",
				Quality:    i + 3,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.store.GetEvaluation(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.QuestionsTested)
	require.NotNil(t, got.AverageQuality)
	assert.Equal(t, 6.5, *got.AverageQuality)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 8, f.sink.count())

	results, err := f.store.ListTestResults(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, results, 8)
}
