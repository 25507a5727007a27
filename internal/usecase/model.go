package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"SignalLab/internal/domain/models"
	domrepo "SignalLab/internal/domain/repository"
	"SignalLab/pkg/logger"
)

// ModelService owns model CRUD. Lifecycle fields are never written here.
type ModelService struct {
	models  domrepo.ModelRepository
	signals domrepo.SignalRepository
	logger  *logger.Logger
	now     func() time.Time
	newID   func() string
}

func NewModelService(models domrepo.ModelRepository, signals domrepo.SignalRepository, lgr *logger.Logger) *ModelService {
	return &ModelService{
		models:  models,
		signals: signals,
		logger:  lgr.With(logger.String("component", "models")),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// StatusView is what clients poll while a model trains.
type StatusView struct {
	ID          string                 `json:"id"`
	Status      models.Status          `json:"status"`
	LastTrained *time.Time             `json:"lastTrained,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
}

func (s *ModelService) Create(ctx context.Context, ownerID string, req models.CreateModelRequest) (*models.Model, error) {
	symbol := models.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	now := s.now()
	m := &models.Model{
		ID:          s.newID(),
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Symbol:      symbol,
		Type:        req.Type,
		Parameters:  req.Parameters,
		Features:    req.Features,
		Target:      req.Target,
		Status:      models.StatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.models.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	s.logger.Info("model created", logger.String("model_id", m.ID), logger.String("symbol", m.Symbol))
	return m, nil
}

func (s *ModelService) List(ctx context.Context, ownerID string) ([]*models.Model, error) {
	return s.models.ListByOwner(ctx, ownerID)
}

func (s *ModelService) Get(ctx context.Context, ownerID, id string) (*models.Model, error) {
	return findOwned(ctx, s.models, ownerID, id)
}

func (s *ModelService) Update(ctx context.Context, ownerID, id string, req models.UpdateModelRequest) (*models.Model, error) {
	if _, err := findOwned(ctx, s.models, ownerID, id); err != nil {
		return nil, err
	}
	return s.models.Update(ctx, id, req.Patch(), s.now())
}

// Delete removes a model and its signals. A model in training cannot be
// deleted because its job would write to a missing document.
func (s *ModelService) Delete(ctx context.Context, ownerID, id string) error {
	m, err := findOwned(ctx, s.models, ownerID, id)
	if err != nil {
		return err
	}
	if m.Status == models.StatusTraining {
		return models.ErrTrainingInProgress
	}
	if err := s.models.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.signals.DeleteByModel(ctx, id); err != nil {
		s.logger.Warn("delete model signals", logger.String("model_id", id), logger.Error(err))
	}
	return nil
}

func (s *ModelService) Status(ctx context.Context, ownerID, id string) (*StatusView, error) {
	m, err := findOwned(ctx, s.models, ownerID, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ID:          m.ID,
		Status:      m.Status,
		LastTrained: m.LastTrained,
		Error:       m.Error,
		Metrics:     m.Metrics,
	}, nil
}
