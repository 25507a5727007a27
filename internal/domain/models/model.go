package models

import (
	"strings"
	"time"
)

// Model is a user-owned predictive model and the authoritative record of its
// training lifecycle.
type Model struct {
	ID                string                 `bson:"_id" json:"id"`
	OwnerID           string                 `bson:"owner_id" json:"ownerId"`
	Name              string                 `bson:"name" json:"name"`
	Description       string                 `bson:"description,omitempty" json:"description,omitempty"`
	Symbol            string                 `bson:"symbol" json:"symbol"`
	Type              string                 `bson:"type" json:"type"`
	Parameters        map[string]interface{} `bson:"parameters,omitempty" json:"parameters,omitempty"`
	Features          []string               `bson:"features,omitempty" json:"features,omitempty"`
	Target            string                 `bson:"target,omitempty" json:"target,omitempty"`
	Status            Status                 `bson:"status" json:"status"`
	Error             string                 `bson:"error,omitempty" json:"error,omitempty"`
	Artifacts         *Artifacts             `bson:"artifacts,omitempty" json:"artifacts,omitempty"`
	Metrics           map[string]interface{} `bson:"metrics,omitempty" json:"metrics,omitempty"`
	LastTrained       *time.Time             `bson:"last_trained,omitempty" json:"lastTrained,omitempty"`
	TrainingStartedAt *time.Time             `bson:"training_started_at,omitempty" json:"trainingStartedAt,omitempty"`
	CreatedAt         time.Time              `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time              `bson:"updated_at" json:"updatedAt"`
}

// Artifacts points at the file a successful training run produced.
type Artifacts struct {
	File      string    `bson:"file" json:"file"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// IntParameter reads a numeric training parameter, tolerating the float64
// and int32 forms JSON and BSON decoding produce.
func (m *Model) IntParameter(key string) (int, bool) {
	switch v := m.Parameters[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// StatusChange is the set of fields a lifecycle transition writes together
// with the new status. Nil pointers leave the stored value untouched.
type StatusChange struct {
	To                Status
	Error             *string
	Artifacts         *Artifacts
	Metrics           map[string]interface{}
	LastTrained       *time.Time
	TrainingStartedAt *time.Time
	At                time.Time
}

// Apply writes the change onto m. Repositories without native
// compare-and-set use it after checking the status themselves.
func (c StatusChange) Apply(m *Model) {
	m.Status = c.To
	if c.Error != nil {
		m.Error = *c.Error
	}
	if c.Artifacts != nil {
		a := *c.Artifacts
		m.Artifacts = &a
	}
	if c.Metrics != nil {
		m.Metrics = c.Metrics
	}
	if c.LastTrained != nil {
		t := *c.LastTrained
		m.LastTrained = &t
	}
	if c.TrainingStartedAt != nil {
		t := *c.TrainingStartedAt
		m.TrainingStartedAt = &t
	}
	m.UpdatedAt = c.At
}

// ModelPatch holds the metadata fields a client may change. Status, error,
// artifacts and metrics are owned by the lifecycle and never patched.
type ModelPatch struct {
	Name        *string
	Description *string
	Symbol      *string
	Type        *string
	Parameters  map[string]interface{}
	Features    []string
	Target      *string
}

func (p ModelPatch) Apply(m *Model, at time.Time) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Symbol != nil {
		m.Symbol = NormalizeSymbol(*p.Symbol)
	}
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.Parameters != nil {
		m.Parameters = p.Parameters
	}
	if p.Features != nil {
		m.Features = p.Features
	}
	if p.Target != nil {
		m.Target = *p.Target
	}
	m.UpdatedAt = at
}
