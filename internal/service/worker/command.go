package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"SignalLab/pkg/logger"
	"SignalLab/pkg/process"
)

// Role tags which command strategy ran.
type Role string

const (
	RoleTrain  Role = "train"
	RoleSignal Role = "signal"
)

// strategy is one worker command: where its script lives, how long it may
// run, how its arguments are built and how its output is decoded.
type strategy[Req any, Res any] struct {
	role    Role
	script  string
	timeout time.Duration
	args    func(Req) []string
	decode  func(*process.Output) (*Res, string)
}

// flags builds "--name value" pairs, skipping optional entries left unset.
type flags []string

func (f flags) add(name, value string) flags {
	return append(f, "--"+name, value)
}

func (f flags) addInt(name string, v int) flags {
	if v <= 0 {
		return f
	}
	return f.add(name, strconv.Itoa(v))
}

func (f flags) addFloat(name string, v float64) flags {
	if v <= 0 {
		return f
	}
	return f.add(name, strconv.FormatFloat(v, 'f', -1, 64))
}

func execute[Req any, Res any](ctx context.Context, o *Orchestrator, s strategy[Req, Res], modelID string, req Req) (*Res, error) {
	ctx, span := o.tracer.Start(ctx, "worker."+string(s.role))
	span.SetAttributes(
		attribute.String("model.id", modelID),
		attribute.String("worker.role", string(s.role)),
	)
	defer span.End()

	started := time.Now()
	out, err := o.exec.Run(ctx, process.Command{
		Path:    o.cfg.Interpreter,
		Script:  o.scriptPath(s.script),
		Args:    s.args(req),
		Timeout: s.timeout,
	})
	took := time.Since(started)

	if err != nil {
		f := &Failure{Role: s.role, ModelID: modelID, Reason: reasonFor(err), Err: err}
		o.record(s.role, outcomeFor(err), took)
		span.RecordError(err)
		span.SetStatus(codes.Error, f.Reason)
		o.logger.Error("worker run failed",
			logger.String("role", string(s.role)),
			logger.String("model_id", modelID),
			logger.String("kind", string(process.KindOf(err))),
			logger.Duration("took", took),
			logger.Error(err),
		)
		return nil, f
	}

	res, reason := s.decode(out)
	if res == nil {
		o.record(s.role, "rejected", took)
		span.SetStatus(codes.Error, reason)
		o.logger.Warn("worker reported failure",
			logger.String("role", string(s.role)),
			logger.String("model_id", modelID),
			logger.String("reason", reason),
		)
		return nil, &Failure{Role: s.role, ModelID: modelID, Reason: reason}
	}

	o.record(s.role, "success", took)
	o.logger.Info("worker run succeeded",
		logger.String("role", string(s.role)),
		logger.String("model_id", modelID),
		logger.Duration("took", took),
	)
	return res, nil
}

func (o *Orchestrator) record(role Role, outcome string, took time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordWorkerRun(string(role), outcome, took.Seconds())
	}
}

func reasonFor(err error) string {
	var pe *process.Error
	if !errors.As(err, &pe) {
		return err.Error()
	}
	switch pe.Kind {
	case process.KindSpawn:
		return fmt.Sprintf("worker could not be started: %v", pe.Err)
	case process.KindTimeout:
		// Err is set only when the caller's context ended first
		if errors.Is(pe.Err, context.Canceled) {
			return "worker cancelled at shutdown"
		}
		if pe.Err != nil {
			return fmt.Sprintf("worker cancelled: %v", pe.Err)
		}
		return fmt.Sprintf("worker timed out after %s", pe.Timeout)
	case process.KindProcess:
		if pe.Stderr != "" {
			return fmt.Sprintf("worker exited with code %d: %s", pe.ExitCode, pe.Stderr)
		}
		return fmt.Sprintf("worker exited with code %d", pe.ExitCode)
	case process.KindParse:
		return "worker produced no output"
	}
	return pe.Error()
}

func outcomeFor(err error) string {
	if k := process.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
