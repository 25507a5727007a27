package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"SignalLab/internal/domain/models"
	"SignalLab/internal/repository"
	"SignalLab/pkg/logger"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []models.ModelEvent
}

func (r *recordedEvents) PublishEvent(_ context.Context, e *models.ModelEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *recordedEvents) Close() error { return nil }

func (r *recordedEvents) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type recordedMetrics struct {
	mu          sync.Mutex
	transitions []string
	stale       int
	scans       int
	errors      []string
}

func (m *recordedMetrics) RecordWorkerRun(string, string, float64) {}
func (m *recordedMetrics) RecordTransition(to string) {
	m.mu.Lock()
	m.transitions = append(m.transitions, to)
	m.mu.Unlock()
}
func (m *recordedMetrics) RecordCacheLookup(string, string)            {}
func (m *recordedMetrics) RecordUpstreamFetch(string, string, float64) {}
func (m *recordedMetrics) RecordStaleTraining(count int) {
	m.mu.Lock()
	m.stale = count
	m.scans++
	m.mu.Unlock()
}
func (m *recordedMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors = append(m.errors, kind)
	m.mu.Unlock()
}

type fixture struct {
	models    *repository.MemoryModelRepository
	signals   *repository.MemorySignalRepository
	events    *recordedEvents
	metrics   *recordedMetrics
	lifecycle *Lifecycle
}

func newFixture() *fixture {
	f := &fixture{
		models:  repository.NewMemoryModelRepository(),
		signals: repository.NewMemorySignalRepository(),
		events:  &recordedEvents{},
		metrics: &recordedMetrics{},
	}
	f.lifecycle = NewLifecycle(f.models, f.events, f.metrics, logger.Nop())
	return f
}

func (f *fixture) seed(t *testing.T, id string, status models.Status, params map[string]interface{}) *models.Model {
	t.Helper()
	m := &models.Model{
		ID:         id,
		OwnerID:    "owner",
		Name:       "model " + id,
		Symbol:     "AAPL",
		Type:       "lstm",
		Parameters: params,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.models.Create(context.Background(), m))
	return m
}

func (f *fixture) status(t *testing.T, id string) *models.Model {
	t.Helper()
	m, err := f.models.FindByID(context.Background(), id)
	require.NoError(t, err)
	return m
}
