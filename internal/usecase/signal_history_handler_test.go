package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalLab/internal/domain/models"
)

func TestSignalHistoryHandlerStoresCreatedSignals(t *testing.T) {
	hist := &memoryHistory{}
	metrics := &recordedMetrics{}
	h := NewSignalHistoryHandler("model-events", hist, metrics)
	assert.Equal(t, "model-events", h.Topic())

	created, _ := json.Marshal(models.ModelEvent{
		Type:       models.EventSignalCreated,
		ModelID:    "m1",
		Signal:     &models.Signal{ID: "s1", ModelID: "m1", Symbol: "AAPL", Direction: models.DirectionSell},
		OccurredAt: time.Now(),
	})
	trained, _ := json.Marshal(models.ModelEvent{Type: models.EventTrained, ModelID: "m1"})

	require.NoError(t, h.Handle(context.Background(), created))
	require.NoError(t, h.Handle(context.Background(), trained))
	require.NoError(t, h.Handle(context.Background(), []byte("{not json")))

	assert.Equal(t, 1, hist.len())
	assert.Equal(t, []string{"history_unmarshal"}, metrics.errors)
}

func TestSignalHistoryHandlerStoreFailureIsRetried(t *testing.T) {
	hist := &memoryHistory{err: errors.New("clickhouse down")}
	h := NewSignalHistoryHandler("model-events", hist, nil)

	b, _ := json.Marshal(models.ModelEvent{Type: models.EventSignalCreated, Signal: &models.Signal{ID: "s1", Symbol: "AAPL"}})
	assert.Error(t, h.Handle(context.Background(), b))
}
