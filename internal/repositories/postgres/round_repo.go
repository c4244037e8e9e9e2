package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/utils"
	"gorm.io/gorm"
)

type RoundRepository interface {
	GetByID(ctx context.Context, roundID string) (*models.Round, error)
	SetStatus(ctx context.Context, roundID string, status models.RoundState, at time.Time) error
	AppendWarning(ctx context.Context, roundID, warning string) error
}

type roundRepo struct {
	db *gorm.DB
}

func NewRoundRepo(db *gorm.DB) RoundRepository {
	return &roundRepo{db: db}
}

func (r *roundRepo) GetByID(ctx context.Context, roundID string) (*models.Round, error) {
	var row models.Round
	err := r.db.WithContext(ctx).Where("id = ?", roundID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *roundRepo) SetStatus(ctx context.Context, roundID string, status models.RoundState, at time.Time) error {
	updates := map[string]any{"status": string(status)}
	switch status {
	case models.RoundActive:
		// keep the first start time across resumes
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", at.UTC())
	case models.RoundCompleted, models.RoundFailed:
		updates["ended_at"] = at.UTC()
	}

	res := r.db.WithContext(ctx).
		Model(&models.Round{}).
		Where("id = ?", roundID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *roundRepo) AppendWarning(ctx context.Context, roundID, warning string) error {
	return r.db.WithContext(ctx).
		Model(&models.Round{}).
		Where("id = ?", roundID).
		Update("warnings", gorm.Expr("array_append(COALESCE(warnings, '{}'), ?)", warning)).Error
}
