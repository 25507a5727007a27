package models

import "time"

type EventType string

const (
	EventTrainingStarted EventType = "model.training"
	EventTrained         EventType = "model.trained"
	EventTrainingFailed  EventType = "model.error"
	EventSignalCreated   EventType = "signal.created"
)

// ModelEvent is published on every lifecycle transition and signal creation.
type ModelEvent struct {
	Type       EventType `json:"type"`
	ModelID    string    `json:"model_id"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Error      string    `json:"error,omitempty"`
	Signal     *Signal   `json:"signal,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
