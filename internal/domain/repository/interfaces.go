package repository

import (
	"context"
	"time"

	"SignalLab/internal/domain/models"
)

// ModelRepository persists models. CompareAndSetStatus is the only way the
// lifecycle status changes.
type ModelRepository interface {
	Create(ctx context.Context, m *models.Model) error
	FindByID(ctx context.Context, id string) (*models.Model, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Model, error)
	Update(ctx context.Context, id string, patch models.ModelPatch, at time.Time) (*models.Model, error)
	Delete(ctx context.Context, id string) error
	// CompareAndSetStatus applies change atomically when the stored status is
	// one of from. It returns models.ErrNotFound when no model has the id and
	// models.ErrStatusConflict when the status is not in from.
	CompareAndSetStatus(ctx context.Context, id string, from []models.Status, change models.StatusChange) (*models.Model, error)
	// ListStale returns models in status whose training started before olderThan.
	ListStale(ctx context.Context, status models.Status, olderThan time.Time) ([]*models.Model, error)
}

type SignalRepository interface {
	Insert(ctx context.Context, s *models.Signal) error
	ListByModel(ctx context.Context, modelID string, limit int) ([]*models.Signal, error)
	DeleteByModel(ctx context.Context, modelID string) error
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error // models.ErrDuplicate on email clash
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// EventPublisher fans lifecycle and signal events out to other services.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e *models.ModelEvent) error
	Close() error
}

// SignalHistory is the analytical store of every signal ever produced.
type SignalHistory interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, s *models.Signal) error
	StoreBatch(ctx context.Context, signals []*models.Signal) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Signal, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics records service-level measurements.
type Metrics interface {
	RecordWorkerRun(role, outcome string, seconds float64)
	RecordTransition(to string)
	RecordCacheLookup(kind, result string)
	RecordUpstreamFetch(kind, result string, seconds float64)
	RecordStaleTraining(count int)
	RecordError(kind string)
}
