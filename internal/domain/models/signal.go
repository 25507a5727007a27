package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Direction string

const (
	DirectionBuy     Direction = "BUY"
	DirectionSell    Direction = "SELL"
	DirectionNeutral Direction = "NEUTRAL"
)

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToUpper(strings.TrimSpace(s))); d {
	case DirectionBuy, DirectionSell, DirectionNeutral:
		return d, nil
	}
	return "", fmt.Errorf("invalid direction %q", s)
}

// Signal is one persisted inference result of a trained model.
type Signal struct {
	ID             string    `bson:"_id" json:"id"`
	ModelID        string    `bson:"model_id" json:"modelId"`
	Symbol         string    `bson:"symbol" json:"symbol"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
	Value          float64   `bson:"value" json:"value"` // percent change
	Direction      Direction `bson:"direction" json:"direction"`
	Confidence     float64   `bson:"confidence" json:"confidence"`
	CurrentPrice   float64   `bson:"current_price" json:"currentPrice"`
	PredictedPrice float64   `bson:"predicted_price" json:"predictedPrice"`
}

// SignalInput is the raw worker output a Signal is built from.
type SignalInput struct {
	ModelID        string
	Symbol         string
	Timestamp      time.Time
	PercentChange  float64
	Direction      string
	Confidence     float64
	CurrentPrice   float64
	PredictedPrice float64
}

// NewSignal validates in and builds a Signal. Confidence must lie in [0,1]
// and the direction must be one of BUY, SELL, NEUTRAL.
func NewSignal(id string, in SignalInput) (*Signal, error) {
	dir, err := ParseDirection(in.Direction)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(in.Confidence) || in.Confidence < 0 || in.Confidence > 1 {
		return nil, fmt.Errorf("confidence %v outside [0,1]", in.Confidence)
	}
	symbol := NormalizeSymbol(in.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("signal symbol is empty")
	}
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Signal{
		ID:             id,
		ModelID:        in.ModelID,
		Symbol:         symbol,
		Timestamp:      ts,
		Value:          in.PercentChange,
		Direction:      dir,
		Confidence:     in.Confidence,
		CurrentPrice:   in.CurrentPrice,
		PredictedPrice: in.PredictedPrice,
	}, nil
}
