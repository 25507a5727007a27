package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusNew, StatusTraining, StatusTrained, StatusError}
	allowed := map[[2]Status]bool{
		{StatusNew, StatusTraining}:     true,
		{StatusTrained, StatusTraining}: true,
		{StatusError, StatusTraining}:   true,
		{StatusTraining, StatusTrained}: true,
		{StatusTraining, StatusError}:   true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
			err := CheckTransition(from, to)
			if want {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrIllegalTransition))
				assert.True(t, IsPrecondition(err))
			}
		}
	}
}

func TestSourcesReturnsCopy(t *testing.T) {
	src := Sources(StatusTraining)
	assert.ElementsMatch(t, []Status{StatusNew, StatusTrained, StatusError}, src)
	src[0] = StatusTraining
	assert.False(t, CanTransition(StatusTraining, StatusTraining))
	assert.Empty(t, Sources(StatusNew))
}

func TestStatusChangeApplyKeepsUntouchedFields(t *testing.T) {
	prior := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &Model{
		Status:      StatusTraining,
		Artifacts:   &Artifacts{File: "old.h5", CreatedAt: prior},
		Metrics:     map[string]interface{}{"rmse": 0.5},
		LastTrained: &prior,
	}
	reason := "worker exited with code 1: OOM"
	StatusChange{To: StatusError, Error: &reason, At: prior.Add(time.Hour)}.Apply(m)

	assert.Equal(t, StatusError, m.Status)
	assert.Equal(t, reason, m.Error)
	assert.Equal(t, "old.h5", m.Artifacts.File)
	assert.Equal(t, 0.5, m.Metrics["rmse"])
	assert.Equal(t, prior, *m.LastTrained)
}

func TestNewSignalValidates(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewSignal("s1", SignalInput{
		ModelID: "m1", Symbol: " aapl ", Timestamp: ts,
		PercentChange: 1.5, Direction: "buy", Confidence: 0.8,
		CurrentPrice: 100, PredictedPrice: 101.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", s.Symbol)
	assert.Equal(t, DirectionBuy, s.Direction)
	assert.Equal(t, 1.5, s.Value)

	_, err = NewSignal("s2", SignalInput{Symbol: "AAPL", Direction: "HOLD", Confidence: 0.5})
	assert.Error(t, err)

	for _, c := range []float64{-0.01, 1.01} {
		_, err = NewSignal("s3", SignalInput{Symbol: "AAPL", Direction: "SELL", Confidence: c})
		assert.Error(t, err, "confidence %v", c)
	}

	for _, c := range []float64{0, 1} {
		_, err = NewSignal("s4", SignalInput{Symbol: "AAPL", Direction: "NEUTRAL", Confidence: c})
		assert.NoError(t, err, "confidence %v", c)
	}
}

func TestIntParameter(t *testing.T) {
	m := &Model{Parameters: map[string]interface{}{"windowSize": float64(30), "days": int32(90), "name": "x"}}
	v, ok := m.IntParameter("windowSize")
	assert.True(t, ok)
	assert.Equal(t, 30, v)
	v, ok = m.IntParameter("days")
	assert.True(t, ok)
	assert.Equal(t, 90, v)
	_, ok = m.IntParameter("name")
	assert.False(t, ok)
	_, ok = m.IntParameter("missing")
	assert.False(t, ok)
}
