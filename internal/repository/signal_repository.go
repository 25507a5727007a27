package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"SignalLab/internal/domain/models"
	drepo "SignalLab/internal/domain/repository"
	"SignalLab/pkg/mongodb"
)

type MongoSignalRepository struct {
	coll *mongo.Collection
}

func NewMongoSignalRepository(client *mongodb.Client) drepo.SignalRepository {
	return &MongoSignalRepository{coll: client.Collection(mongodb.SignalsCollection)}
}

func (r *MongoSignalRepository) Insert(ctx context.Context, s *models.Signal) error {
	if _, err := r.coll.InsertOne(ctx, s); err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// ListByModel returns the newest signals first.
func (r *MongoSignalRepository) ListByModel(ctx context.Context, modelID string, limit int) ([]*models.Signal, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.coll.Find(ctx, bson.M{"model_id": modelID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find signals: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]*models.Signal, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	return out, nil
}

func (r *MongoSignalRepository) DeleteByModel(ctx context.Context, modelID string) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"model_id": modelID}); err != nil {
		return fmt.Errorf("delete signals: %w", err)
	}
	return nil
}
