package postgres

import (
	"context"

	"github.com/lokeshkhabiya/round0/internal/models"
	"gorm.io/gorm"
)

type RecordingRepository interface {
	Insert(ctx context.Context, rec *models.Recording) error
	ListByRound(ctx context.Context, roundID string) ([]models.Recording, error)
}

type recordingRepo struct {
	db *gorm.DB
}

func NewRecordingRepo(db *gorm.DB) RecordingRepository {
	return &recordingRepo{db: db}
}

func (r *recordingRepo) Insert(ctx context.Context, rec *models.Recording) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *recordingRepo) ListByRound(ctx context.Context, roundID string) ([]models.Recording, error) {
	var rows []models.Recording
	err := r.db.WithContext(ctx).
		Where("round_id = ?", roundID).
		Order("uploaded_at ASC").
		Find(&rows).Error
	return rows, err
}
