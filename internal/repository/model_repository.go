package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"SignalLab/internal/domain/models"
	drepo "SignalLab/internal/domain/repository"
	"SignalLab/pkg/mongodb"
)

// MongoModelRepository stores models in the "models" collection.
type MongoModelRepository struct {
	coll *mongo.Collection
}

func NewMongoModelRepository(client *mongodb.Client) drepo.ModelRepository {
	return &MongoModelRepository{coll: client.Collection(mongodb.ModelsCollection)}
}

func (r *MongoModelRepository) Create(ctx context.Context, m *models.Model) error {
	if _, err := r.coll.InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrDuplicate
		}
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

func (r *MongoModelRepository) FindByID(ctx context.Context, id string) (*models.Model, error) {
	var m models.Model
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("find model: %w", err)
	}
	return &m, nil
}

func (r *MongoModelRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Model, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find models: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]*models.Model, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return out, nil
}

func (r *MongoModelRepository) Update(ctx context.Context, id string, patch models.ModelPatch, at time.Time) (*models.Model, error) {
	set := bson.M{"updated_at": at}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Symbol != nil {
		set["symbol"] = models.NormalizeSymbol(*patch.Symbol)
	}
	if patch.Type != nil {
		set["type"] = *patch.Type
	}
	if patch.Parameters != nil {
		set["parameters"] = patch.Parameters
	}
	if patch.Features != nil {
		set["features"] = patch.Features
	}
	if patch.Target != nil {
		set["target"] = *patch.Target
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var m models.Model
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("update model: %w", err)
	}
	return &m, nil
}

func (r *MongoModelRepository) Delete(ctx context.Context, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CompareAndSetStatus filters on the current status so the check and the
// write are one server-side operation.
func (r *MongoModelRepository) CompareAndSetStatus(ctx context.Context, id string, from []models.Status, change models.StatusChange) (*models.Model, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m models.Model
	err := r.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": statusSet(change)}, opts).Decode(&m)
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("compare and set status: %w", err)
	}

	n, err := r.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("count model: %w", err)
	}
	if n == 0 {
		return nil, models.ErrNotFound
	}
	return nil, models.ErrStatusConflict
}

func (r *MongoModelRepository) ListStale(ctx context.Context, status models.Status, olderThan time.Time) ([]*models.Model, error) {
	filter := bson.M{"status": status, "training_started_at": bson.M{"$lt": olderThan}}
	cur, err := r.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find stale models: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]*models.Model, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode stale models: %w", err)
	}
	return out, nil
}

func statusSet(c models.StatusChange) bson.M {
	set := bson.M{"status": c.To, "updated_at": c.At}
	if c.Error != nil {
		set["error"] = *c.Error
	}
	if c.Artifacts != nil {
		set["artifacts"] = c.Artifacts
	}
	if c.Metrics != nil {
		set["metrics"] = c.Metrics
	}
	if c.LastTrained != nil {
		set["last_trained"] = *c.LastTrained
	}
	if c.TrainingStartedAt != nil {
		set["training_started_at"] = *c.TrainingStartedAt
	}
	return set
}
