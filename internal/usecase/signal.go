package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"SignalLab/internal/domain/models"
	domrepo "SignalLab/internal/domain/repository"
	"SignalLab/internal/service/worker"
	"SignalLab/pkg/logger"
	xutil "SignalLab/pkg/util"
)

const (
	DefaultThreshold   = 0.01
	SignalListLimit    = 100
	defaultSignalSlots = 4
)

// ErrSignalBusy is returned when every signal slot is taken.
var ErrSignalBusy = errors.New("too many concurrent signal requests")

// Signaler runs one signal worker.
type Signaler interface {
	Signal(ctx context.Context, req worker.SignalRequest) (*worker.SignalResult, error)
}

// SignalService generates signals synchronously for trained models. Worker
// failures are returned to the caller and never touch the model's status.
type SignalService struct {
	models  domrepo.ModelRepository
	signals domrepo.SignalRepository
	history domrepo.SignalHistory
	// historyFed means the event consumer writes history, not Generate
	historyFed bool
	events     domrepo.EventPublisher
	worker     Signaler
	slots      chan struct{}
	logger     *logger.Logger
	newID      func() string
}

type SignalOption func(*SignalService)

// WithSignalHistory wires the analytical store. When fedByEvents is set the
// store is written by the signal.created consumer and Generate only reads it.
func WithSignalHistory(h domrepo.SignalHistory, fedByEvents bool) SignalOption {
	return func(s *SignalService) {
		s.history = h
		s.historyFed = fedByEvents
	}
}

func WithSignalEvents(p domrepo.EventPublisher) SignalOption {
	return func(s *SignalService) { s.events = p }
}

// WithMaxConcurrentSignals bounds simultaneous signal workers.
func WithMaxConcurrentSignals(n int) SignalOption {
	return func(s *SignalService) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

func NewSignalService(models domrepo.ModelRepository, signals domrepo.SignalRepository, w Signaler, lgr *logger.Logger, opts ...SignalOption) *SignalService {
	s := &SignalService{
		models:  models,
		signals: signals,
		worker:  w,
		slots:   make(chan struct{}, defaultSignalSlots),
		logger:  lgr.With(logger.String("component", "signal")),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate runs the signal worker for a trained model and stores the result.
func (s *SignalService) Generate(ctx context.Context, ownerID, modelID string, req models.SignalRequest) (*models.Signal, error) {
	m, err := findOwned(ctx, s.models, ownerID, modelID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.StatusTrained {
		return nil, models.ErrModelNotTrained
	}

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	default:
		return nil, ErrSignalBusy
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	res, err := s.worker.Signal(ctx, worker.SignalRequest{
		ModelID:    m.ID,
		Symbol:     m.Symbol,
		WindowSize: windowSizeOf(m),
		Threshold:  threshold,
	})
	if err != nil {
		return nil, err
	}

	sig, err := models.NewSignal(s.newID(), models.SignalInput{
		ModelID:        m.ID,
		Symbol:         firstNonEmpty(res.Symbol, m.Symbol),
		Timestamp:      parseWorkerTime(res.Timestamp),
		PercentChange:  res.PercentChange,
		Direction:      res.Direction,
		Confidence:     res.Confidence,
		CurrentPrice:   res.CurrentPrice,
		PredictedPrice: res.PredictedPrice,
	})
	if err != nil {
		return nil, &worker.Failure{
			Role:    worker.RoleSignal,
			ModelID: m.ID,
			Reason:  fmt.Sprintf("worker returned an invalid signal: %v", err),
			Err:     err,
		}
	}
	if err := s.signals.Insert(ctx, sig); err != nil {
		return nil, fmt.Errorf("save signal: %w", err)
	}

	s.fanOut(ctx, m, sig)
	return sig, nil
}

// List returns the newest signals of a model.
func (s *SignalService) List(ctx context.Context, ownerID, modelID string) ([]*models.Signal, error) {
	if _, err := findOwned(ctx, s.models, ownerID, modelID); err != nil {
		return nil, err
	}
	return s.signals.ListByModel(ctx, modelID, SignalListLimit)
}

// History queries the analytical store.
func (s *SignalService) History(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Signal, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.Query(ctx, models.NormalizeSymbol(symbol), from, to, limit)
}

// ErrHistoryDisabled is returned by History when no analytical store is wired.
var ErrHistoryDisabled = errors.New("signal history is not enabled")

func (s *SignalService) fanOut(ctx context.Context, m *models.Model, sig *models.Signal) {
	if s.events != nil {
		err := s.events.PublishEvent(ctx, &models.ModelEvent{
			Type:       models.EventSignalCreated,
			ModelID:    m.ID,
			OwnerID:    m.OwnerID,
			Symbol:     sig.Symbol,
			Status:     m.Status,
			Signal:     sig,
			OccurredAt: sig.Timestamp,
		})
		if err != nil {
			s.logger.Warn("publish signal event", logger.String("model_id", m.ID), logger.Error(err))
		}
	}
	if s.history != nil && !s.historyFed {
		if err := s.history.Store(ctx, sig); err != nil {
			s.logger.Warn("store signal history", logger.String("signal_id", sig.ID), logger.Error(err))
		}
	}
}

// parseWorkerTime returns the zero time for unknown layouts; NewSignal then
// stamps the signal with the current time.
func parseWorkerTime(s string) time.Time {
	t, _ := xutil.ParseTime(s)
	return t
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
