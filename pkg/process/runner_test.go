//go:build unix

package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(script string, timeout time.Duration) Command {
	return Command{Path: "sh", Args: []string{"-c", script}, Timeout: timeout}
}

func TestRunParsesJSONStdout(t *testing.T) {
	r := NewRunner()
	out, err := r.Run(context.Background(), shell(`echo '  {"a": 1}  '`, 5*time.Second))
	require.NoError(t, err)

	var got map[string]int
	require.NoError(t, out.Decode(&got))
	assert.Equal(t, map[string]int{"a": 1}, got)
	assert.Empty(t, out.Text)
}

func TestRunWrapsPlainTextStdout(t *testing.T) {
	r := NewRunner()
	out, err := r.Run(context.Background(), shell(`printf '\n  done training  \n'`, 5*time.Second))
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, out.Decode(&got))
	assert.Equal(t, map[string]string{"output": "done training"}, got)
	assert.Equal(t, "done training", out.Text)
}

func TestRunEmptyStdoutIsParseError(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), shell(`echo "log line" >&2`, 5*time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
	assert.Equal(t, KindParse, KindOf(err))
}

func TestRunNonZeroExitCarriesCodeAndStderr(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), shell(`echo partial; echo OOM >&2; exit 3`, 5*time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcess)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.ExitCode)
	assert.Equal(t, "OOM", pe.Stderr)
	assert.Contains(t, pe.Error(), "exit code 3")
}

func TestRunKeepsStderrTail(t *testing.T) {
	r := NewRunner(WithStderrLimit(8))
	_, err := r.Run(context.Background(), shell(`echo "0123456789abcdef" >&2; exit 1`, 5*time.Second))

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "...89abcdef", pe.Stderr)
}

func TestStderrTailKeepsWholeRunes(t *testing.T) {
	got := tail([]byte("erreur: mémoire épuisée"), 8)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "...puisée", got)
}

func TestRunCleanExitWithLingeringChildSucceeds(t *testing.T) {
	r := NewRunner(WithWaitDelay(200 * time.Millisecond))
	out, err := r.Run(context.Background(), shell(`echo '{"a":1}'; sleep 5 &`, 3*time.Second))
	require.NoError(t, err)

	var got map[string]int
	require.NoError(t, out.Decode(&got))
	assert.Equal(t, map[string]int{"a": 1}, got)
}

func TestRunFailedExitWithLingeringChildIsProcessError(t *testing.T) {
	r := NewRunner(WithWaitDelay(200 * time.Millisecond))
	_, err := r.Run(context.Background(), shell(`sleep 5 & exit 4`, 3*time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcess)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 4, pe.ExitCode)
}

func TestRunMissingExecutableIsSpawnError(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), Command{Path: "definitely-not-a-real-binary-xyz", Timeout: time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestRunMissingScriptIsSpawnError(t *testing.T) {
	r := NewRunner()
	script := filepath.Join(t.TempDir(), "missing.sh")
	_, err := r.Run(context.Background(), Command{Path: "sh", Script: script, Timeout: time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunScriptReceivesArgs(t *testing.T) {
	script := filepath.Join(t.TempDir(), "worker.sh")
	require.NoError(t, os.WriteFile(script, []byte(`printf '{"first":"%s","count":%d}' "$1" "$#"`), 0o644))

	r := NewRunner()
	out, err := r.Run(context.Background(), Command{
		Path:    "sh",
		Script:  script,
		Args:    []string{"--model_id", "m1"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	var got struct {
		First string `json:"first"`
		Count int    `json:"count"`
	}
	require.NoError(t, out.Decode(&got))
	assert.Equal(t, "--model_id", got.First)
	assert.Equal(t, 2, got.Count)
}

func TestRunSlowButWithinDeadlineSucceeds(t *testing.T) {
	r := NewRunner()
	out, err := r.Run(context.Background(), shell(`sleep 0.2; echo '{"ok":true}'`, 5*time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out.Data))
}

func TestRunDeadlineKillsProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	r := NewRunner(WithWaitDelay(500 * time.Millisecond))

	start := time.Now()
	_, err := r.Run(context.Background(), shell(`echo $$ > `+pidFile+`; exec sleep 30`, 300*time.Millisecond))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 5*time.Second)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 300*time.Millisecond, pe.Timeout)
	assert.Nil(t, pe.Err)

	raw, readErr := os.ReadFile(pidFile)
	require.NoError(t, readErr)
	pid, convErr := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, convErr)
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH, "worker still running after timeout")
}

func TestRunParentCancellationKillsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	r := NewRunner()
	_, err := r.Run(ctx, shell(`exec sleep 30`, time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSettlesExactlyOnceUnderRaces(t *testing.T) {
	r := NewRunner()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// exit and deadline land close together; exactly one outcome must come back
			out, err := r.Run(context.Background(), shell(`sleep 0.1; echo '{"ok":true}'`, 100*time.Millisecond))
			if err != nil {
				assert.Nil(t, out)
				assert.Contains(t, []Kind{KindTimeout}, KindOf(err))
				return
			}
			assert.JSONEq(t, `{"ok":true}`, string(out.Data))
		}()
	}
	wg.Wait()
}

func TestRedactArgs(t *testing.T) {
	r := NewRunner(WithRedactedFlags("--api_key"))
	got := r.redactArgs([]string{"--model_id", "m1", "--api_key", "secret", "--symbol", "AAPL"})
	assert.Equal(t, "--model_id m1 --api_key *** --symbol AAPL", got)
}

func TestParseOutputTable(t *testing.T) {
	tests := []struct {
		name    string
		stdout  string
		want    string
		wantErr error
	}{
		{name: "object", stdout: `{"a":1}`, want: `{"a":1}`},
		{name: "array", stdout: "[1,2]\n", want: `[1,2]`},
		{name: "text", stdout: "hello\n", want: `{"output":"hello"}`},
		{name: "whitespace only", stdout: " \n\t", wantErr: ErrParse},
		{name: "empty", stdout: "", wantErr: ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseOutput("w", []byte(tt.stdout))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out.Data))
		})
	}
}
