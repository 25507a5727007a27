package models

// Requests for the HTTP API. Bound by echo, defaulted by creasty/defaults and
// checked by validator tags.

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type CreateModelRequest struct {
	Name        string                 `json:"name" validate:"required,max=120"`
	Description string                 `json:"description" validate:"max=1000"`
	Symbol      string                 `json:"symbol" validate:"required,ticker"`
	Type        string                 `json:"type" default:"lstm" validate:"required,max=40"`
	Parameters  map[string]interface{} `json:"parameters"`
	Features    []string               `json:"features"`
	Target      string                 `json:"target" default:"close"`
}

type UpdateModelRequest struct {
	Name        *string                `json:"name" validate:"omitempty,max=120"`
	Description *string                `json:"description" validate:"omitempty,max=1000"`
	Symbol      *string                `json:"symbol" validate:"omitempty,ticker"`
	Type        *string                `json:"type" validate:"omitempty,max=40"`
	Parameters  map[string]interface{} `json:"parameters"`
	Features    []string               `json:"features"`
	Target      *string                `json:"target"`
}

// Patch converts the request into the metadata-only patch.
func (r UpdateModelRequest) Patch() ModelPatch {
	return ModelPatch{
		Name:        r.Name,
		Description: r.Description,
		Symbol:      r.Symbol,
		Type:        r.Type,
		Parameters:  r.Parameters,
		Features:    r.Features,
		Target:      r.Target,
	}
}

// TrainRequest leaves zero values for parameters the caller did not supply.
type TrainRequest struct {
	WindowSize int `json:"windowSize" validate:"gte=0,lte=1000"`
	Days       int `json:"days" validate:"gte=0,lte=10000"`
}

type SignalRequest struct {
	Threshold float64 `json:"threshold" validate:"gte=0,lte=1"`
}

type PriceRequest struct {
	Symbol string `query:"symbol" validate:"required,ticker"`
	Kind   string `query:"kind" default:"realtime" validate:"oneof=realtime historical"`
}

type SignalHistoryRequest struct {
	Symbol string `query:"symbol" validate:"required,ticker"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}
