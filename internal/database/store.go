package database

import (
	"context"
	"fmt"

	"github.com/jinzhu/gorm"

	"expertgate/internal/apperr"
	"expertgate/internal/models"
)

// Store is the record store behind every core operation.
// Status transitions are compare-and-set updates; everything else is insert or read.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open connection
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying connection for migrations and shutdown
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the connection is usable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.DB().PingContext(ctx)
}

func lookupErr(err error, format string, args ...interface{}) error {
	if gorm.IsRecordNotFoundError(err) {
		return apperr.NotFound(format, args...)
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CreateEvaluation inserts a new evaluation; an existing id is a conflict
func (s *Store) CreateEvaluation(ctx context.Context, e *models.Evaluation) error {
	if err := s.db.Create(e).Error; err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("evaluation %s already exists; bump the version to create a new plan", e.ID)
		}
		return fmt.Errorf("failed to create evaluation %s: %w", e.ID, err)
	}
	return nil
}

// GetEvaluation loads one evaluation
func (s *Store) GetEvaluation(ctx context.Context, id string) (*models.Evaluation, error) {
	var e models.Evaluation
	if err := s.db.Where("id = ?", id).First(&e).Error; err != nil {
		return nil, lookupErr(err, "evaluation %s not found", id)
	}
	return &e, nil
}

// ListEvaluations returns evaluations newest first; an empty createdBy lists all
func (s *Store) ListEvaluations(ctx context.Context, createdBy string) ([]models.Evaluation, error) {
	q := s.db.Order("created_at desc")
	if createdBy != "" {
		q = q.Where("created_by = ?", createdBy)
	}

	var evaluations []models.Evaluation
	if err := q.Find(&evaluations).Error; err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	return evaluations, nil
}

// LatestApprovedEvaluation returns the most recently approved evaluation of an agent, or nil
func (s *Store) LatestApprovedEvaluation(ctx context.Context, agentID string) (*models.Evaluation, error) {
	var e models.Evaluation
	err := s.db.Where("agent_id = ? AND status = ?", agentID, models.StatusApproved).
		Order("approved_at desc").
		First(&e).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up approved evaluation for %s: %w", agentID, err)
	}
	return &e, nil
}

// RecomputeEvaluation loads an evaluation with all of its test results, lets fold rewrite
// the derived fields and persists them in one transaction. The write only lands if no
// other writer touched the evaluation in between; otherwise it returns a conflict.
func (s *Store) RecomputeEvaluation(ctx context.Context, id string, fold func(e *models.Evaluation, results []models.TestResult)) (*models.Evaluation, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var e models.Evaluation
	if err := tx.Where("id = ?", id).First(&e).Error; err != nil {
		tx.Rollback()
		return nil, lookupErr(err, "evaluation %s not found", id)
	}

	var results []models.TestResult
	if err := tx.Where("evaluation_id = ?", id).Order("tested_at asc").Find(&results).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to load test results of %s: %w", id, err)
	}

	observed := e.Revision
	fold(&e, results)
	e.Revision = observed + 1

	res := tx.Model(&models.Evaluation{}).
		Where("id = ? AND revision = ?", id, observed).
		Updates(map[string]interface{}{
			"questions":                e.Questions,
			"status":                   e.Status,
			"questions_tested":         e.QuestionsTested,
			"questions_passed_quality": e.QuestionsPassedQuality,
			"average_quality":          e.AverageQuality,
			"phantom_refs_detected":    e.PhantomRefsDetected,
			"avg_similarity":           e.AvgSimilarity,
			"revision":                 e.Revision,
		})
	if res.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to store aggregates of %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return nil, apperr.Conflict("evaluation %s changed during recompute", id)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit aggregates of %s: %w", id, err)
	}
	return &e, nil
}

// DecideEvaluation moves an evaluation from status from to the decision's status.
func (s *Store) DecideEvaluation(ctx context.Context, id string, from models.EvaluationStatus, d models.EvaluationDecision) error {
	fields := map[string]interface{}{
		"status":   d.Status,
		"revision": gorm.Expr("revision + ?", 1),
	}
	// earlier decision fields stay as the audit trail
	if d.ApprovedBy != "" {
		fields["approved_by"] = d.ApprovedBy
	}
	if d.ApprovedAt != nil {
		fields["approved_at"] = d.ApprovedAt
	}
	if d.RejectedBy != "" {
		fields["rejected_by"] = d.RejectedBy
		fields["rejection_reason"] = d.RejectionReason
	}

	res := s.db.Model(&models.Evaluation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update status of evaluation %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := s.GetEvaluation(ctx, id)
		if err != nil {
			return err
		}
		return apperr.Conflict("evaluation %s is %s, expected %s; re-read and retry", id, current.Status, from)
	}
	return nil
}

// CreateAgentRun stores the raw output of one question execution
func (s *Store) CreateAgentRun(ctx context.Context, run *models.AgentRun) error {
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to store agent run: %w", err)
	}
	return nil
}

// GetAgentRun loads one agent run
func (s *Store) GetAgentRun(ctx context.Context, id string) (*models.AgentRun, error) {
	var run models.AgentRun
	if err := s.db.Where("id = ?", id).First(&run).Error; err != nil {
		return nil, lookupErr(err, "agent run %s not found", id)
	}
	return &run, nil
}

// CreateTestResult appends an immutable test result
func (s *Store) CreateTestResult(ctx context.Context, r *models.TestResult) error {
	if err := s.db.Create(r).Error; err != nil {
		return fmt.Errorf("failed to store test result: %w", err)
	}
	return nil
}

// ListTestResults returns every result of an evaluation in execution order
func (s *Store) ListTestResults(ctx context.Context, evaluationID string) ([]models.TestResult, error) {
	var results []models.TestResult
	err := s.db.Where("evaluation_id = ?", evaluationID).
		Order("tested_at asc").
		Order("id asc").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list test results of %s: %w", evaluationID, err)
	}
	return results, nil
}
