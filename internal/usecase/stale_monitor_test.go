package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalLab/internal/domain/models"
	"SignalLab/pkg/logger"
)

func TestStaleMonitorReportsLongTraining(t *testing.T) {
	f := newFixture()
	f.seed(t, "old", models.StatusNew, nil)
	f.seed(t, "fresh", models.StatusNew, nil)
	f.seed(t, "idle", models.StatusTrained, nil)

	start := time.Now().UTC()
	_, err := f.models.CompareAndSetStatus(context.Background(), "old", []models.Status{models.StatusNew}, models.StatusChange{
		To: models.StatusTraining, TrainingStartedAt: ptrTime(start.Add(-2 * time.Hour)), At: start,
	})
	require.NoError(t, err)
	_, err = f.lifecycle.BeginTraining(context.Background(), "fresh")
	require.NoError(t, err)

	mon := NewStaleTrainingMonitor(f.models, f.metrics, logger.Nop(), time.Hour, time.Minute)
	stale := mon.Check(context.Background())

	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
	assert.Equal(t, 1, f.metrics.stale)
	assert.Equal(t, models.StatusTraining, f.status(t, "old").Status)
}

func TestStaleMonitorStartStop(t *testing.T) {
	f := newFixture()
	mon := NewStaleTrainingMonitor(f.models, f.metrics, logger.Nop(), time.Hour, 20*time.Millisecond)
	require.NoError(t, mon.Start())
	assert.Eventually(t, func() bool {
		f.metrics.mu.Lock()
		defer f.metrics.mu.Unlock()
		return f.metrics.scans > 0
	}, time.Second, 10*time.Millisecond)
	mon.Stop()
}

func ptrTime(t time.Time) *time.Time { return &t }
