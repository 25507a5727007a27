package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalLab/pkg/process"
)

type fakeExecutor struct {
	got    []process.Command
	stdout string
	err    error
}

func (f *fakeExecutor) Run(_ context.Context, c process.Command) (*process.Output, error) {
	f.got = append(f.got, c)
	if f.err != nil {
		return nil, f.err
	}
	return process.ParseOutput(c.Script, []byte(f.stdout))
}

func newTestOrchestrator(t *testing.T, exec process.Executor) (*Orchestrator, Config) {
	t.Helper()
	cfg := Config{
		Interpreter: "python3",
		ScriptDir:   "/opt/ml",
		ModelDir:    filepath.Join(t.TempDir(), "models"),
		APIKey:      "k",
	}
	return New(exec, cfg), cfg
}

func TestTrainBuildsArgsAndOmitsUnsetOptionals(t *testing.T) {
	fx := &fakeExecutor{stdout: `{"status":"success","model_file":"m1.h5","metrics":{"rmse":0.1}}`}
	o, cfg := newTestOrchestrator(t, fx)

	res, err := o.Train(context.Background(), TrainRequest{ModelID: "m1", Symbol: "AAPL", Days: 365})
	require.NoError(t, err)
	assert.Equal(t, "m1.h5", res.ModelFile)
	assert.Equal(t, 0.1, res.Metrics["rmse"])

	require.Len(t, fx.got, 1)
	c := fx.got[0]
	assert.Equal(t, "python3", c.Path)
	assert.Equal(t, filepath.Join("/opt/ml", TrainScript), c.Script)
	assert.Equal(t, 5*time.Minute, c.Timeout)
	assert.Equal(t, []string{
		"--model_id", "m1",
		"--symbol", "AAPL",
		"--api_key", "k",
		"--output_dir", cfg.ModelDir,
		"--days", "365",
	}, c.Args)

	info, statErr := os.Stat(cfg.ModelDir)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestSignalBuildsArgs(t *testing.T) {
	fx := &fakeExecutor{stdout: `{"status":"success","signal":{"symbol":"AAPL","timestamp":"2024-05-01T00:00:00Z","percent_change":1.2,"direction":"BUY","confidence":0.7,"current_price":100,"predicted_price":101.2}}`}
	o, cfg := newTestOrchestrator(t, fx)

	res, err := o.Signal(context.Background(), SignalRequest{ModelID: "m1", Symbol: "AAPL", WindowSize: 14, Threshold: 0.01})
	require.NoError(t, err)
	assert.Equal(t, "BUY", res.Direction)
	assert.Equal(t, 101.2, res.PredictedPrice)

	c := fx.got[0]
	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.Equal(t, []string{
		"--model_id", "m1",
		"--symbol", "AAPL",
		"--api_key", "k",
		"--model_dir", cfg.ModelDir,
		"--window_size", "14",
		"--threshold", "0.01",
	}, c.Args)
}

func TestWorkerReportedErrors(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		reason string
	}{
		{name: "explicit error", stdout: `{"status":"error","error":"insufficient data"}`, reason: "insufficient data"},
		{name: "error without message", stdout: `{"status":"error"}`, reason: "Unknown training error"},
		{name: "plain text", stdout: "done", reason: "unexpected worker response"},
		{name: "unknown status", stdout: `{"status":"pending"}`, reason: "unexpected worker response"},
		{name: "success without file", stdout: `{"status":"success"}`, reason: "worker reported success without a model file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t, &fakeExecutor{stdout: tt.stdout})
			_, err := o.Train(context.Background(), TrainRequest{ModelID: "m1", Symbol: "AAPL"})

			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, tt.reason, f.Reason)
			assert.Equal(t, RoleTrain, f.Role)
			assert.Equal(t, "m1", f.ModelID)
		})
	}
}

func TestExecutorErrorsBecomeFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
		is     error
	}{
		{
			name:   "process",
			err:    &process.Error{Kind: process.KindProcess, ExitCode: 1, Stderr: "OOM"},
			reason: "worker exited with code 1: OOM",
			is:     process.ErrProcess,
		},
		{
			name:   "timeout",
			err:    &process.Error{Kind: process.KindTimeout, Timeout: 5 * time.Minute},
			reason: "worker timed out after 5m0s",
			is:     process.ErrTimeout,
		},
		{
			name:   "cancelled at shutdown",
			err:    &process.Error{Kind: process.KindTimeout, Timeout: 5 * time.Minute, Err: context.Canceled},
			reason: "worker cancelled at shutdown",
			is:     process.ErrTimeout,
		},
		{
			name:   "caller deadline",
			err:    &process.Error{Kind: process.KindTimeout, Timeout: 5 * time.Minute, Err: context.DeadlineExceeded},
			reason: "worker cancelled: context deadline exceeded",
			is:     process.ErrTimeout,
		},
		{
			name:   "spawn",
			err:    &process.Error{Kind: process.KindSpawn, Err: errors.New("no such file")},
			reason: "worker could not be started: no such file",
			is:     process.ErrSpawn,
		},
		{
			name:   "parse",
			err:    &process.Error{Kind: process.KindParse},
			reason: "worker produced no output",
			is:     process.ErrParse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t, &fakeExecutor{err: tt.err})
			_, err := o.Signal(context.Background(), SignalRequest{ModelID: "m1", Symbol: "AAPL"})

			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, tt.reason, f.Reason)
			assert.Equal(t, RoleSignal, f.Role)
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func TestTrainWithRealWorkerScript(t *testing.T) {
	scripts := t.TempDir()
	body := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output_dir) out="$2"; shift 2 ;;
    *) shift 2 ;;
  esac
done
touch "$out/m1.h5"
echo "training..." >&2
echo '{"status":"success","model_file":"'"$out"'/m1.h5","metrics":{"mae":1.5}}'
`
	require.NoError(t, os.WriteFile(filepath.Join(scripts, TrainScript), []byte(body), 0o644))

	modelDir := filepath.Join(t.TempDir(), "nested", "models")
	o := New(process.NewRunner(), Config{Interpreter: "sh", ScriptDir: scripts, ModelDir: modelDir, APIKey: "k"})

	res, err := o.Train(context.Background(), TrainRequest{ModelID: "m1", Symbol: "AAPL", WindowSize: 14, Days: 30})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(modelDir, "m1.h5"), res.ModelFile)
	assert.FileExists(t, res.ModelFile)
	assert.Equal(t, 1.5, res.Metrics["mae"])
}

func TestTrainWithCrashingWorkerScript(t *testing.T) {
	scripts := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scripts, TrainScript), []byte("echo OOM >&2\nexit 1\n"), 0o644))

	o := New(process.NewRunner(), Config{Interpreter: "sh", ScriptDir: scripts, ModelDir: t.TempDir()})
	_, err := o.Train(context.Background(), TrainRequest{ModelID: "m1", Symbol: "AAPL"})

	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, "worker exited with code 1: OOM", f.Reason)
}
