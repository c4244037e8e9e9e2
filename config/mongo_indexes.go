package config

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureMongoIndexes creates the transcript indexes. The unique (round_id, sequence_no)
// index backs the ordering invariant: a duplicate sequence number can never be stored.
func EnsureMongoIndexes() error {
	if MongoClient == nil {
		return errors.New("MongoClient is nil; call InitMongo() first")
	}
	db := MongoDatabase()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transcript := db.Collection("transcript_events")
	_, err := transcript.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "round_id", Value: 1}, {Key: "sequence_no", Value: 1}},
			Options: options.Index().
				SetName("uniq_round_sequence").
				SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "round_id", Value: 1}, {Key: "message_type", Value: 1}},
			Options: options.Index().SetName("by_round_type"),
		},
	})
	return err
}
