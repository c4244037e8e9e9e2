package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/utils"
	"gorm.io/gorm"
)

type MentorRepository interface {
	CreateSession(ctx context.Context, s *models.MentorSession) error
	GetSession(ctx context.Context, sessionID string) (*models.MentorSession, error)
	ListSessions(ctx context.Context, candidateID string, limit int) ([]models.MentorSession, error)

	InsertMessage(ctx context.Context, m *models.MentorMessage) error
	// UpdateMessage only touches messages that are not frozen yet.
	UpdateMessage(ctx context.Context, messageID, content string, status models.MessageStatus) error
	ListMessages(ctx context.Context, sessionID string) ([]models.MentorMessage, error)
}

type mentorRepo struct {
	db *gorm.DB
}

func NewMentorRepo(db *gorm.DB) MentorRepository {
	return &mentorRepo{db: db}
}

func (r *mentorRepo) CreateSession(ctx context.Context, s *models.MentorSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *mentorRepo) GetSession(ctx context.Context, sessionID string) (*models.MentorSession, error) {
	var row models.MentorSession
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *mentorRepo) ListSessions(ctx context.Context, candidateID string, limit int) ([]models.MentorSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.MentorSession
	err := r.db.WithContext(ctx).
		Where("candidate_id = ?", candidateID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *mentorRepo) InsertMessage(ctx context.Context, m *models.MentorMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *mentorRepo) UpdateMessage(ctx context.Context, messageID, content string, status models.MessageStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.MentorMessage{}).
		Where("id = ? AND status IN ?", messageID, []string{string(models.MessagePending), string(models.MessageStreaming)}).
		Updates(map[string]any{
			"content":    content,
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *mentorRepo) ListMessages(ctx context.Context, sessionID string) ([]models.MentorMessage, error) {
	var rows []models.MentorMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
