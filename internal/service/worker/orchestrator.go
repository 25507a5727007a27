package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"SignalLab/internal/domain/repository"
	"SignalLab/pkg/logger"
	"SignalLab/pkg/process"
)

const (
	TrainScript  = "train_model.py"
	SignalScript = "generate_signal.py"
)

type Config struct {
	Interpreter   string
	ScriptDir     string
	ModelDir      string
	APIKey        string
	TrainTimeout  time.Duration
	SignalTimeout time.Duration
}

// Failure is the only error type Train and Signal return. Err keeps the
// executor error (exit code, timeout, stderr) when there is one.
type Failure struct {
	Role    Role
	ModelID string
	Reason  string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s worker for model %s: %s", f.Role, f.ModelID, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

type TrainRequest struct {
	ModelID    string
	Symbol     string
	WindowSize int
	Days       int
}

type TrainResult struct {
	ModelFile string
	Metrics   map[string]interface{}
}

type SignalRequest struct {
	ModelID    string
	Symbol     string
	WindowSize int
	Threshold  float64
}

// SignalResult mirrors the worker's signal document.
type SignalResult struct {
	Symbol         string  `json:"symbol"`
	Timestamp      string  `json:"timestamp"`
	PercentChange  float64 `json:"percent_change"`
	Direction      string  `json:"direction"`
	Confidence     float64 `json:"confidence"`
	CurrentPrice   float64 `json:"current_price"`
	PredictedPrice float64 `json:"predicted_price"`
}

// Orchestrator runs the train and signal worker commands through one executor.
type Orchestrator struct {
	exec    process.Executor
	cfg     Config
	logger  *logger.Logger
	metrics repository.Metrics
	tracer  trace.Tracer

	train  strategy[TrainRequest, TrainResult]
	signal strategy[SignalRequest, SignalResult]
}

type Option func(*Orchestrator)

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func New(exec process.Executor, cfg Config, opts ...Option) *Orchestrator {
	if cfg.TrainTimeout <= 0 {
		cfg.TrainTimeout = 5 * time.Minute
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 30 * time.Second
	}
	o := &Orchestrator{
		exec:   exec,
		cfg:    cfg,
		logger: logger.Nop(),
		tracer: noop.NewTracerProvider().Tracer("worker"),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.train = strategy[TrainRequest, TrainResult]{
		role:    RoleTrain,
		script:  TrainScript,
		timeout: cfg.TrainTimeout,
		args: func(r TrainRequest) []string {
			return flags{}.
				add("model_id", r.ModelID).
				add("symbol", r.Symbol).
				add("api_key", cfg.APIKey).
				add("output_dir", cfg.ModelDir).
				addInt("window_size", r.WindowSize).
				addInt("days", r.Days)
		},
		decode: decodeTrain,
	}
	o.signal = strategy[SignalRequest, SignalResult]{
		role:    RoleSignal,
		script:  SignalScript,
		timeout: cfg.SignalTimeout,
		args: func(r SignalRequest) []string {
			return flags{}.
				add("model_id", r.ModelID).
				add("symbol", r.Symbol).
				add("api_key", cfg.APIKey).
				add("model_dir", cfg.ModelDir).
				addInt("window_size", r.WindowSize).
				addFloat("threshold", r.Threshold)
		},
		decode: decodeSignal,
	}
	return o
}

// Train runs the training worker. The model directory is created first.
// A non-nil error is always a *Failure.
func (o *Orchestrator) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	if err := os.MkdirAll(o.cfg.ModelDir, 0o755); err != nil {
		return nil, &Failure{Role: RoleTrain, ModelID: req.ModelID, Reason: fmt.Sprintf("prepare model directory: %v", err), Err: err}
	}
	return execute(ctx, o, o.train, req.ModelID, req)
}

// Signal runs the inference worker. A non-nil error is always a *Failure.
func (o *Orchestrator) Signal(ctx context.Context, req SignalRequest) (*SignalResult, error) {
	return execute(ctx, o, o.signal, req.ModelID, req)
}

func (o *Orchestrator) scriptPath(name string) string {
	if o.cfg.ScriptDir == "" {
		return name
	}
	return filepath.Join(o.cfg.ScriptDir, name)
}

type trainResponse struct {
	Status    string                 `json:"status"`
	ModelFile string                 `json:"model_file"`
	Metrics   map[string]interface{} `json:"metrics"`
	Error     string                 `json:"error"`
}

func decodeTrain(out *process.Output) (*TrainResult, string) {
	var r trainResponse
	if err := out.Decode(&r); err != nil {
		return nil, "unexpected worker response"
	}
	switch r.Status {
	case "success":
		if r.ModelFile == "" {
			return nil, "worker reported success without a model file"
		}
		if r.Metrics == nil {
			r.Metrics = map[string]interface{}{}
		}
		return &TrainResult{ModelFile: r.ModelFile, Metrics: r.Metrics}, ""
	case "error":
		if r.Error == "" {
			return nil, "Unknown training error"
		}
		return nil, r.Error
	}
	return nil, "unexpected worker response"
}

type signalResponse struct {
	Status string        `json:"status"`
	Signal *SignalResult `json:"signal"`
	Error  string        `json:"error"`
}

func decodeSignal(out *process.Output) (*SignalResult, string) {
	var r signalResponse
	if err := out.Decode(&r); err != nil {
		return nil, "unexpected worker response"
	}
	switch r.Status {
	case "success":
		if r.Signal == nil {
			return nil, "worker reported success without a signal"
		}
		return r.Signal, ""
	case "error":
		if r.Error == "" {
			return nil, "Unknown signal generation error"
		}
		return nil, r.Error
	}
	return nil, "unexpected worker response"
}
