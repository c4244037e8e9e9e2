package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/lokeshkhabiya/round0/internal/models"
	"github.com/lokeshkhabiya/round0/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TranscriptRepository stores transcript events. There is no update or delete.
type TranscriptRepository interface {
	Insert(ctx context.Context, ev *models.TranscriptEvent) error
	LastSequence(ctx context.Context, roundID string) (int64, error)
	ListSince(ctx context.Context, roundID string, after int64, limit int64) ([]models.TranscriptEvent, error)
}

type transcriptRepo struct {
	col *mongo.Collection
}

func NewTranscriptRepo(db *mongo.Database) TranscriptRepository {
	return &transcriptRepo{col: db.Collection("transcript_events")}
}

func (r *transcriptRepo) Insert(ctx context.Context, ev *models.TranscriptEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, ev)
	if mongo.IsDuplicateKeyError(err) {
		return utils.ErrDuplicate
	}
	return err
}

func (r *transcriptRepo) LastSequence(ctx context.Context, roundID string) (int64, error) {
	var last models.TranscriptEvent
	err := r.col.FindOne(ctx,
		bson.M{"round_id": roundID},
		options.FindOne().
			SetSort(bson.D{{Key: "sequence_no", Value: -1}}).
			SetProjection(bson.M{"sequence_no": 1}),
	).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.SequenceNo, nil
}

func (r *transcriptRepo) ListSince(ctx context.Context, roundID string, after int64, limit int64) ([]models.TranscriptEvent, error) {
	if limit <= 0 {
		limit = 500
	}

	cur, err := r.col.Find(ctx,
		bson.M{"round_id": roundID, "sequence_no": bson.M{"$gt": after}},
		options.Find().
			SetSort(bson.D{{Key: "sequence_no", Value: 1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.TranscriptEvent{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
