//go:build unix

package usecase

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalLab/internal/domain/models"
	"SignalLab/internal/service/worker"
	"SignalLab/pkg/logger"
	"SignalLab/pkg/process"
	"SignalLab/pkg/queue"
)

const successTrainScript = `#!/bin/sh
out=""; model=""; window=""; days=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output_dir) out="$2" ;;
    --model_id) model="$2" ;;
    --window_size) window="$2" ;;
    --days) days="$2" ;;
  esac
  shift 2
done
touch "$out/$model.h5"
echo '{"status":"success","model_file":"'"$out/$model.h5"'","metrics":{"window":'"$window"',"days":'"$days"'}}'
`

type trainEnv struct {
	*fixture
	queue    *queue.MemoryQueue
	training *TrainingService
	modelDir string
}

func newTrainEnv(t *testing.T, script string, timeout time.Duration, qcfg queue.Config) *trainEnv {
	t.Helper()
	scripts := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scripts, worker.TrainScript), []byte(script), 0o644))
	modelDir := filepath.Join(t.TempDir(), "models")

	f := newFixture()
	orch := worker.New(process.NewRunner(), worker.Config{
		Interpreter:  "sh",
		ScriptDir:    scripts,
		ModelDir:     modelDir,
		APIKey:       "test-key",
		TrainTimeout: timeout,
	})
	q := queue.NewMemoryQueue(logger.Nop(), qcfg, NewTrainJob(orch, f.lifecycle, logger.Nop()))
	require.NoError(t, q.Start())
	t.Cleanup(func() { _ = q.Stop(context.Background()) })

	return &trainEnv{
		fixture:  f,
		queue:    q,
		training: NewTrainingService(f.models, f.lifecycle, q, logger.Nop()),
		modelDir: modelDir,
	}
}

func waitHandle(t *testing.T, h *queue.Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
}

func TestTrainingEndToEnd(t *testing.T) {
	env := newTrainEnv(t, successTrainScript, time.Minute, queue.Config{Workers: 1, QueueSize: 4})
	env.seed(t, "m1", models.StatusNew, map[string]interface{}{"windowSize": float64(30)})

	m, h, err := env.training.Request(context.Background(), "owner", "m1", models.TrainRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusTraining, m.Status)

	waitHandle(t, h)
	got := env.status(t, "m1")
	assert.Equal(t, models.StatusTrained, got.Status)
	require.NotNil(t, got.Artifacts)
	assert.Equal(t, filepath.Join(env.modelDir, "m1.h5"), got.Artifacts.File)
	assert.FileExists(t, got.Artifacts.File)
	assert.EqualValues(t, 30, got.Metrics["window"])
	assert.EqualValues(t, DefaultDays, got.Metrics["days"])
	assert.NotNil(t, got.LastTrained)
	assert.Equal(t, []models.EventType{models.EventTrainingStarted, models.EventTrained}, env.events.types())
}

func TestTrainingRequestOverridesDefaults(t *testing.T) {
	env := newTrainEnv(t, successTrainScript, time.Minute, queue.Config{Workers: 1, QueueSize: 4})
	env.seed(t, "m1", models.StatusTrained, nil)

	_, h, err := env.training.Request(context.Background(), "owner", "m1", models.TrainRequest{WindowSize: 7, Days: 90})
	require.NoError(t, err)
	waitHandle(t, h)

	got := env.status(t, "m1")
	assert.EqualValues(t, 7, got.Metrics["window"])
	assert.EqualValues(t, 90, got.Metrics["days"])
}

func TestTrainingWorkerCrashEndsInError(t *testing.T) {
	env := newTrainEnv(t, "echo OOM >&2\nexit 1\n", time.Minute, queue.Config{Workers: 1, QueueSize: 4})
	env.seed(t, "m1", models.StatusNew, nil)

	_, h, err := env.training.Request(context.Background(), "owner", "m1", models.TrainRequest{})
	require.NoError(t, err)
	waitHandle(t, h)

	got := env.status(t, "m1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "worker exited with code 1: OOM", got.Error)
}

func TestTrainingWorkerReportedError(t *testing.T) {
	env := newTrainEnv(t, `echo '{"status":"error","error":"not enough data"}'`, time.Minute, queue.Config{Workers: 1, QueueSize: 4})
	env.seed(t, "m1", models.StatusNew, nil)

	_, h, err := env.training.Request(context.Background(), "owner", "m1", models.TrainRequest{})
	require.NoError(t, err)
	waitHandle(t, h)
	assert.Equal(t, "not enough data", env.status(t, "m1").Error)
}

func TestTrainingTimeoutEndsInError(t *testing.T) {
	env := newTrainEnv(t, "sleep 30\n", 200*time.Millisecond, queue.Config{Workers: 1, QueueSize: 4})
	env.seed(t, "m1", models.StatusNew, nil)

	start := time.Now()
	_, h, err := env.training.Request(context.Background(), "owner", "m1", models.TrainRequest{})
	require.NoError(t, err)
	waitHandle(t, h)

	assert.Less(t, time.Since(start), 10*time.Second)
	got := env.status(t, "m1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "worker timed out after 200ms", got.Error)
}

func TestSecondTrainRequestWhileTrainingIsRejected(t *testing.T) {
	env := newTrainEnv(t, "sleep 1\n"+successTrainScript, time.Minute, queue.Config{Workers: 1, QueueSize: 4})
	env.seed(t, "m1", models.StatusNew, nil)

	_, h, err := env.training.Request(context.Background(), "owner", "m1", models.TrainRequest{})
	require.NoError(t, err)
	_, _, err = env.training.Request(context.Background(), "owner", "m1", models.TrainRequest{})
	assert.ErrorIs(t, err, models.ErrTrainingInProgress)

	waitHandle(t, h)
	assert.Equal(t, models.StatusTrained, env.status(t, "m1").Status)
}

func TestTrainingOtherOwnerIsNotFound(t *testing.T) {
	env := newTrainEnv(t, successTrainScript, time.Minute, queue.Config{Workers: 1, QueueSize: 4})
	env.seed(t, "m1", models.StatusNew, nil)

	_, _, err := env.training.Request(context.Background(), "intruder", "m1", models.TrainRequest{})
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.StatusNew, env.status(t, "m1").Status)
}

type rejectingDispatcher struct{ err error }

func (d rejectingDispatcher) Dispatch(context.Context, string, interface{}) (*queue.Handle, error) {
	return nil, d.err
}

func TestFullQueueMovesModelToError(t *testing.T) {
	f := newFixture()
	f.seed(t, "m1", models.StatusNew, nil)
	svc := NewTrainingService(f.models, f.lifecycle, rejectingDispatcher{err: queue.ErrQueueFull}, logger.Nop())

	_, _, err := svc.Request(context.Background(), "owner", "m1", models.TrainRequest{})
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	got := f.status(t, "m1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "training queue is full", got.Error)
}

type stubTrainer struct {
	called bool
}

func (s *stubTrainer) Train(context.Context, worker.TrainRequest) (*worker.TrainResult, error) {
	s.called = true
	return &worker.TrainResult{ModelFile: "x"}, nil
}

func TestTrainJobAfterShutdownFailsModel(t *testing.T) {
	f := newFixture()
	f.seed(t, "m1", models.StatusNew, nil)
	_, err := f.lifecycle.BeginTraining(context.Background(), "m1")
	require.NoError(t, err)

	trainer := &stubTrainer{}
	job := NewTrainJob(trainer, f.lifecycle, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload, _ := json.Marshal(TrainPayload{ModelID: "m1", Symbol: "AAPL"})
	err = job.Handle(ctx, json.RawMessage(payload))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, trainer.called)

	got := f.status(t, "m1")
	assert.Equal(t, models.StatusError, got.Status)
	assert.Equal(t, "shutdown before training started", got.Error)
}

func TestTrainJobDiscardsResultWhenStatusMoved(t *testing.T) {
	f := newFixture()
	f.seed(t, "m1", models.StatusNew, nil)

	job := NewTrainJob(&stubTrainer{}, f.lifecycle, logger.Nop())
	require.NoError(t, job.Handle(context.Background(), TrainPayload{ModelID: "m1"}))
	assert.Equal(t, models.StatusNew, f.status(t, "m1").Status)
}
