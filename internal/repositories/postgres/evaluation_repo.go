package postgres

import (
	"context"

	"github.com/lokeshkhabiya/round0/internal/models"
	"gorm.io/gorm"
)

// EvaluationRepository is insert-only: results are never updated after creation.
type EvaluationRepository interface {
	Insert(ctx context.Context, res *models.EvaluationResult) error
	ListByRound(ctx context.Context, roundID string) ([]models.EvaluationResult, error)
}

type evaluationRepo struct {
	db *gorm.DB
}

func NewEvaluationRepo(db *gorm.DB) EvaluationRepository {
	return &evaluationRepo{db: db}
}

func (r *evaluationRepo) Insert(ctx context.Context, res *models.EvaluationResult) error {
	return r.db.WithContext(ctx).Create(res).Error
}

func (r *evaluationRepo) ListByRound(ctx context.Context, roundID string) ([]models.EvaluationResult, error) {
	var rows []models.EvaluationResult
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
