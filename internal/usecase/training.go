package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalLab/internal/domain/models"
	domrepo "SignalLab/internal/domain/repository"
	"SignalLab/internal/service/worker"
	"SignalLab/pkg/logger"
	"SignalLab/pkg/queue"
)

const (
	TrainJobType      = "train"
	DefaultWindowSize = 14
	DefaultDays       = 365

	reasonQueueFull = "training queue is full"
	reasonShutdown  = "shutdown before training started"
)

// TrainPayload is the queued description of one training run.
type TrainPayload struct {
	ModelID    string `json:"model_id"`
	Symbol     string `json:"symbol"`
	WindowSize int    `json:"window_size"`
	Days       int    `json:"days"`
}

// Trainer runs one training worker.
type Trainer interface {
	Train(ctx context.Context, req worker.TrainRequest) (*worker.TrainResult, error)
}

// TrainingService accepts training requests. The model is moved to training
// before the job is queued; the job settles the status later.
type TrainingService struct {
	models     domrepo.ModelRepository
	lifecycle  *Lifecycle
	dispatcher queue.Dispatcher
	logger     *logger.Logger
}

func NewTrainingService(models domrepo.ModelRepository, lifecycle *Lifecycle, dispatcher queue.Dispatcher, lgr *logger.Logger) *TrainingService {
	return &TrainingService{
		models:     models,
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		logger:     lgr.With(logger.String("component", "training")),
	}
}

// Request starts training for a model the caller owns. It returns once the
// job is queued; the returned handle settles when the job finishes (or is
// detached for distributed queues).
func (s *TrainingService) Request(ctx context.Context, ownerID, modelID string, req models.TrainRequest) (*models.Model, *queue.Handle, error) {
	m, err := findOwned(ctx, s.models, ownerID, modelID)
	if err != nil {
		return nil, nil, err
	}
	if m.Status == models.StatusTraining {
		return nil, nil, models.ErrTrainingInProgress
	}

	payload := TrainPayload{
		ModelID:    m.ID,
		Symbol:     m.Symbol,
		WindowSize: req.WindowSize,
		Days:       req.Days,
	}
	if payload.WindowSize <= 0 {
		payload.WindowSize = windowSizeOf(m)
	}
	if payload.Days <= 0 {
		payload.Days = DefaultDays
	}

	m, err = s.lifecycle.BeginTraining(ctx, m.ID)
	if err != nil {
		return nil, nil, err
	}

	h, err := s.dispatcher.Dispatch(ctx, TrainJobType, payload)
	if err != nil {
		reason := fmt.Sprintf("training could not be queued: %v", err)
		if errors.Is(err, queue.ErrQueueFull) {
			reason = reasonQueueFull
		}
		if _, ferr := s.lifecycle.FailTraining(context.WithoutCancel(ctx), m.ID, reason); ferr != nil {
			s.logger.Error("record dispatch failure", logger.String("model_id", m.ID), logger.Error(ferr))
		}
		return nil, nil, fmt.Errorf("dispatch training: %w", err)
	}

	s.logger.Info("training queued",
		logger.String("model_id", m.ID),
		logger.String("job_id", h.ID),
		logger.Int("window_size", payload.WindowSize),
		logger.Int("days", payload.Days))
	return m, h, nil
}

// TrainJob runs queued training requests and records the outcome.
type TrainJob struct {
	trainer   Trainer
	lifecycle *Lifecycle
	logger    *logger.Logger
	now       func() time.Time
}

func NewTrainJob(trainer Trainer, lifecycle *Lifecycle, lgr *logger.Logger) *TrainJob {
	return &TrainJob{
		trainer:   trainer,
		lifecycle: lifecycle,
		logger:    lgr.With(logger.String("job", "train")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (j *TrainJob) Name() string { return "model-training" }
func (j *TrainJob) Type() string { return TrainJobType }

// Handle never leaves the model in training: every outcome, including
// shutdown, ends in CompleteTraining or FailTraining. Outcomes are persisted
// with a context that outlives queue cancellation.
func (j *TrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[TrainPayload](payload)
	if err != nil {
		return err
	}
	persist := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		if _, ferr := j.lifecycle.FailTraining(persist, p.ModelID, reasonShutdown); ferr != nil {
			return ferr
		}
		return ctx.Err()
	}

	res, err := j.trainer.Train(ctx, worker.TrainRequest{
		ModelID:    p.ModelID,
		Symbol:     p.Symbol,
		WindowSize: p.WindowSize,
		Days:       p.Days,
	})
	if err != nil {
		return j.fail(persist, p.ModelID, err)
	}

	if _, err := j.lifecycle.CompleteTraining(persist, p.ModelID, res, j.now()); err != nil {
		if errors.Is(err, models.ErrStatusConflict) || errors.Is(err, models.ErrNotFound) {
			j.logger.Warn("training result discarded",
				logger.String("model_id", p.ModelID),
				logger.Error(err))
			return nil
		}
		return fmt.Errorf("complete training: %w", err)
	}
	return nil
}

func (j *TrainJob) fail(ctx context.Context, modelID string, err error) error {
	reason := err.Error()
	var f *worker.Failure
	if errors.As(err, &f) {
		reason = f.Reason
	}
	if _, ferr := j.lifecycle.FailTraining(ctx, modelID, reason); ferr != nil {
		if errors.Is(ferr, models.ErrStatusConflict) || errors.Is(ferr, models.ErrNotFound) {
			j.logger.Warn("training failure discarded",
				logger.String("model_id", modelID),
				logger.String("reason", reason),
				logger.Error(ferr))
			return nil
		}
		return fmt.Errorf("fail training: %w", ferr)
	}
	return nil
}

var _ queue.Job = (*TrainJob)(nil)

func windowSizeOf(m *models.Model) int {
	if n, ok := m.IntParameter("windowSize"); ok && n > 0 {
		return n
	}
	return DefaultWindowSize
}

// findOwned hides models of other owners behind ErrNotFound.
func findOwned(ctx context.Context, repo domrepo.ModelRepository, ownerID, id string) (*models.Model, error) {
	m, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && m.OwnerID != ownerID {
		return nil, models.ErrNotFound
	}
	return m, nil
}
