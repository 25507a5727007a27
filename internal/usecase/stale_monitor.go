package usecase

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"SignalLab/internal/domain/models"
	domrepo "SignalLab/internal/domain/repository"
	"SignalLab/pkg/logger"
)

// StaleTrainingMonitor reports models that have been in training longer
// than staleAfter, for example after a crash. It only reports; recovery is
// an operator decision.
type StaleTrainingMonitor struct {
	models     domrepo.ModelRepository
	metrics    domrepo.Metrics
	logger     *logger.Logger
	staleAfter time.Duration
	interval   time.Duration
	cron       *gocron.Scheduler
	now        func() time.Time
}

func NewStaleTrainingMonitor(models domrepo.ModelRepository, metrics domrepo.Metrics, lgr *logger.Logger, staleAfter, interval time.Duration) *StaleTrainingMonitor {
	return &StaleTrainingMonitor{
		models:     models,
		metrics:    metrics,
		logger:     lgr.With(logger.String("component", "stale_monitor")),
		staleAfter: staleAfter,
		interval:   interval,
		cron:       gocron.NewScheduler(time.UTC),
		now:        time.Now,
	}
}

func (m *StaleTrainingMonitor) Start() error {
	if _, err := m.cron.Every(m.interval).Do(func() { m.Check(context.Background()) }); err != nil {
		return err
	}
	m.cron.StartAsync()
	m.logger.Info("stale training monitor started",
		logger.Duration("stale_after", m.staleAfter),
		logger.Duration("interval", m.interval))
	return nil
}

func (m *StaleTrainingMonitor) Stop() {
	m.cron.Stop()
}

// Check runs one scan and returns the stale models found.
func (m *StaleTrainingMonitor) Check(ctx context.Context) []*models.Model {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	stale, err := m.models.ListStale(ctx, models.StatusTraining, m.now().Add(-m.staleAfter))
	if err != nil {
		m.logger.Error("list stale models", logger.Error(err))
		return nil
	}
	if m.metrics != nil {
		m.metrics.RecordStaleTraining(len(stale))
	}
	for _, s := range stale {
		m.logger.Warn("model stuck in training",
			logger.String("model_id", s.ID),
			logger.String("symbol", s.Symbol),
			logger.Any("training_started_at", s.TrainingStartedAt))
	}
	return stale
}
