package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalLab/internal/domain/models"
	"SignalLab/pkg/logger"
)

func TestModelCreateStartsNew(t *testing.T) {
	f := newFixture()
	svc := NewModelService(f.models, f.signals, logger.Nop())

	m, err := svc.Create(context.Background(), "owner", models.CreateModelRequest{
		Name:       " trend ",
		Symbol:     "aapl ",
		Type:       "lstm",
		Parameters: map[string]interface{}{"windowSize": 30},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "trend", m.Name)
	assert.Equal(t, "AAPL", m.Symbol)
	assert.Equal(t, models.StatusNew, m.Status)

	list, err := svc.List(context.Background(), "owner")
	require.NoError(t, err)
	require.Len(t, list, 1)

	others, err := svc.List(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestModelCreateRequiresSymbol(t *testing.T) {
	svc := NewModelService(newFixture().models, nil, logger.Nop())
	_, err := svc.Create(context.Background(), "owner", models.CreateModelRequest{Name: "x", Symbol: "  "})
	assert.Error(t, err)
}

func TestModelUpdateLeavesLifecycleAlone(t *testing.T) {
	f := newFixture()
	f.seed(t, "m1", models.StatusTrained, nil)
	svc := NewModelService(f.models, f.signals, logger.Nop())

	name := "renamed"
	symbol := "msft"
	m, err := svc.Update(context.Background(), "owner", "m1", models.UpdateModelRequest{Name: &name, Symbol: &symbol})
	require.NoError(t, err)
	assert.Equal(t, "renamed", m.Name)
	assert.Equal(t, "MSFT", m.Symbol)
	assert.Equal(t, models.StatusTrained, m.Status)

	_, err = svc.Update(context.Background(), "intruder", "m1", models.UpdateModelRequest{Name: &name})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestModelDelete(t *testing.T) {
	f := newFixture()
	f.seed(t, "m1", models.StatusTrained, nil)
	f.seed(t, "m2", models.StatusTraining, nil)
	require.NoError(t, f.signals.Insert(context.Background(), &models.Signal{ID: "s1", ModelID: "m1", Symbol: "AAPL"}))
	svc := NewModelService(f.models, f.signals, logger.Nop())

	require.NoError(t, svc.Delete(context.Background(), "owner", "m1"))
	_, err := svc.Get(context.Background(), "owner", "m1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	left, err := f.signals.ListByModel(context.Background(), "m1", 10)
	require.NoError(t, err)
	assert.Empty(t, left)

	err = svc.Delete(context.Background(), "owner", "m2")
	assert.ErrorIs(t, err, models.ErrTrainingInProgress)
	assert.Equal(t, models.StatusTraining, f.status(t, "m2").Status)
}

func TestModelStatusView(t *testing.T) {
	f := newFixture()
	f.seed(t, "m1", models.StatusNew, nil)
	svc := NewModelService(f.models, f.signals, logger.Nop())

	_, err := f.lifecycle.BeginTraining(context.Background(), "m1")
	require.NoError(t, err)
	_, err = f.lifecycle.FailTraining(context.Background(), "m1", "worker timed out after 5m0s")
	require.NoError(t, err)

	v, err := svc.Status(context.Background(), "owner", "m1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, v.Status)
	assert.Equal(t, "worker timed out after 5m0s", v.Error)
	assert.Nil(t, v.LastTrained)

	_, err = svc.Status(context.Background(), "intruder", "m1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
