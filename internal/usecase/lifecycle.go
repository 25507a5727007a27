package usecase

import (
	"context"
	"errors"
	"time"

	"SignalLab/internal/domain/models"
	domrepo "SignalLab/internal/domain/repository"
	"SignalLab/internal/service/worker"
	"SignalLab/pkg/logger"
)

// Lifecycle performs the durable status transitions of a model. Every
// transition is a compare-and-set against the statuses the table allows, so
// a transition racing a manual edit or another writer changes nothing.
type Lifecycle struct {
	models  domrepo.ModelRepository
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

func NewLifecycle(models domrepo.ModelRepository, events domrepo.EventPublisher, metrics domrepo.Metrics, lgr *logger.Logger) *Lifecycle {
	return &Lifecycle{
		models:  models,
		events:  events,
		metrics: metrics,
		logger:  lgr.With(logger.String("component", "lifecycle")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// BeginTraining moves a model into training. A model already in training
// yields ErrTrainingInProgress.
func (l *Lifecycle) BeginTraining(ctx context.Context, id string) (*models.Model, error) {
	at := l.now()
	m, err := l.models.CompareAndSetStatus(ctx, id, models.Sources(models.StatusTraining), models.StatusChange{
		To:                models.StatusTraining,
		TrainingStartedAt: &at,
		At:                at,
	})
	if errors.Is(err, models.ErrStatusConflict) {
		// training is the only status outside the allowed sources
		return nil, models.ErrTrainingInProgress
	}
	if err != nil {
		return nil, err
	}
	l.transitioned(ctx, m, models.EventTrainingStarted)
	return m, nil
}

// CompleteTraining records the artifacts and metrics of a finished run and
// clears any previous error.
func (l *Lifecycle) CompleteTraining(ctx context.Context, id string, res *worker.TrainResult, finishedAt time.Time) (*models.Model, error) {
	cleared := ""
	m, err := l.models.CompareAndSetStatus(ctx, id, models.Sources(models.StatusTrained), models.StatusChange{
		To:          models.StatusTrained,
		Error:       &cleared,
		Artifacts:   &models.Artifacts{File: res.ModelFile, CreatedAt: finishedAt},
		Metrics:     res.Metrics,
		LastTrained: &finishedAt,
		At:          l.now(),
	})
	if err != nil {
		return nil, err
	}
	l.transitioned(ctx, m, models.EventTrained)
	return m, nil
}

// FailTraining moves a training model to error. Artifacts and metrics of an
// earlier successful run are kept.
func (l *Lifecycle) FailTraining(ctx context.Context, id, reason string) (*models.Model, error) {
	m, err := l.models.CompareAndSetStatus(ctx, id, models.Sources(models.StatusError), models.StatusChange{
		To:    models.StatusError,
		Error: &reason,
		At:    l.now(),
	})
	if err != nil {
		return nil, err
	}
	l.transitioned(ctx, m, models.EventTrainingFailed)
	return m, nil
}

func (l *Lifecycle) transitioned(ctx context.Context, m *models.Model, typ models.EventType) {
	if l.metrics != nil {
		l.metrics.RecordTransition(string(m.Status))
	}
	l.logger.Info("model status changed",
		logger.String("model_id", m.ID),
		logger.String("status", string(m.Status)),
		logger.String("error", m.Error))

	if l.events == nil {
		return
	}
	err := l.events.PublishEvent(ctx, &models.ModelEvent{
		Type:       typ,
		ModelID:    m.ID,
		OwnerID:    m.OwnerID,
		Symbol:     m.Symbol,
		Status:     m.Status,
		Error:      m.Error,
		OccurredAt: m.UpdatedAt,
	})
	if err != nil {
		l.logger.Warn("publish model event", logger.String("model_id", m.ID), logger.Error(err))
	}
}
