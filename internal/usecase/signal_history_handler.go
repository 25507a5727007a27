package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"SignalLab/internal/domain/models"
	domrepo "SignalLab/internal/domain/repository"
	pkgkafka "SignalLab/pkg/kafka"
)

// SignalHistoryHandler consumes model events and copies created signals
// into the analytical store. Other event types are acknowledged and skipped.
type SignalHistoryHandler struct {
	topic   string
	history domrepo.SignalHistory
	metrics domrepo.Metrics
}

func NewSignalHistoryHandler(topic string, history domrepo.SignalHistory, metrics domrepo.Metrics) *SignalHistoryHandler {
	return &SignalHistoryHandler{topic: topic, history: history, metrics: metrics}
}

func (h *SignalHistoryHandler) Topic() string { return h.topic }

func (h *SignalHistoryHandler) Handle(ctx context.Context, b []byte) error {
	var e models.ModelEvent
	if err := json.Unmarshal(b, &e); err != nil {
		h.recordError("history_unmarshal")
		// a malformed message will never decode; retrying cannot help
		return nil
	}
	if e.Type != models.EventSignalCreated || e.Signal == nil {
		return nil
	}
	if err := h.history.Store(ctx, e.Signal); err != nil {
		h.recordError("history_store")
		return fmt.Errorf("store signal %s: %w", e.Signal.ID, err)
	}
	return nil
}

func (h *SignalHistoryHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

var _ pkgkafka.MessageHandler = (*SignalHistoryHandler)(nil)
