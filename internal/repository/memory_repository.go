package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"SignalLab/internal/domain/models"
	drepo "SignalLab/internal/domain/repository"
)

// MemoryModelRepository keeps models in process. Stored values are copied on
// the way in and out so callers never alias repository state.
type MemoryModelRepository struct {
	mu     sync.Mutex
	models map[string]*models.Model
}

func NewMemoryModelRepository() *MemoryModelRepository {
	return &MemoryModelRepository{models: make(map[string]*models.Model)}
}

var _ drepo.ModelRepository = (*MemoryModelRepository)(nil)

func (r *MemoryModelRepository) Create(_ context.Context, m *models.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.ID]; ok {
		return models.ErrDuplicate
	}
	r.models[m.ID] = cloneModel(m)
	return nil
}

func (r *MemoryModelRepository) FindByID(_ context.Context, id string) (*models.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneModel(m), nil
}

func (r *MemoryModelRepository) ListByOwner(_ context.Context, ownerID string) ([]*models.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Model, 0)
	for _, m := range r.models {
		if m.OwnerID == ownerID {
			out = append(out, cloneModel(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryModelRepository) Update(_ context.Context, id string, patch models.ModelPatch, at time.Time) (*models.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	patch.Apply(m, at)
	return cloneModel(m), nil
}

func (r *MemoryModelRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.models, id)
	return nil
}

func (r *MemoryModelRepository) CompareAndSetStatus(_ context.Context, id string, from []models.Status, change models.StatusChange) (*models.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if !containsStatus(from, m.Status) {
		return nil, models.ErrStatusConflict
	}
	change.Apply(m)
	return cloneModel(m), nil
}

func (r *MemoryModelRepository) ListStale(_ context.Context, status models.Status, olderThan time.Time) ([]*models.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Model, 0)
	for _, m := range r.models {
		if m.Status == status && m.TrainingStartedAt != nil && m.TrainingStartedAt.Before(olderThan) {
			out = append(out, cloneModel(m))
		}
	}
	return out, nil
}

func containsStatus(set []models.Status, s models.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func cloneModel(m *models.Model) *models.Model {
	c := *m
	if m.Artifacts != nil {
		a := *m.Artifacts
		c.Artifacts = &a
	}
	if m.LastTrained != nil {
		t := *m.LastTrained
		c.LastTrained = &t
	}
	if m.TrainingStartedAt != nil {
		t := *m.TrainingStartedAt
		c.TrainingStartedAt = &t
	}
	c.Parameters = cloneMap(m.Parameters)
	c.Metrics = cloneMap(m.Metrics)
	if m.Features != nil {
		c.Features = append([]string(nil), m.Features...)
	}
	return &c
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type MemorySignalRepository struct {
	mu      sync.Mutex
	signals map[string][]models.Signal // by model id
}

func NewMemorySignalRepository() *MemorySignalRepository {
	return &MemorySignalRepository{signals: make(map[string][]models.Signal)}
}

var _ drepo.SignalRepository = (*MemorySignalRepository)(nil)

func (r *MemorySignalRepository) Insert(_ context.Context, s *models.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals[s.ModelID] = append(r.signals[s.ModelID], *s)
	return nil
}

func (r *MemorySignalRepository) ListByModel(_ context.Context, modelID string, limit int) ([]*models.Signal, error) {
	r.mu.Lock()
	stored := append([]models.Signal(nil), r.signals[modelID]...)
	r.mu.Unlock()

	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Timestamp.After(stored[j].Timestamp) })
	if limit > 0 && len(stored) > limit {
		stored = stored[:limit]
	}
	out := make([]*models.Signal, len(stored))
	for i := range stored {
		out[i] = &stored[i]
	}
	return out, nil
}

func (r *MemorySignalRepository) DeleteByModel(_ context.Context, modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.signals, modelID)
	return nil
}

type MemoryUserRepository struct {
	mu      sync.Mutex
	byID    map[string]models.User
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byID: make(map[string]models.User), byEmail: make(map[string]string)}
}

var _ drepo.UserRepository = (*MemoryUserRepository)(nil)

func (r *MemoryUserRepository) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := r.byEmail[email]; ok {
		return models.ErrDuplicate
	}
	r.byID[u.ID] = *u
	r.byEmail[email] = u.ID
	return nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, models.ErrNotFound
	}
	u := r.byID[id]
	return &u, nil
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}
