package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"SignalLab/pkg/logger"
)

// Command describes one worker invocation. When Script is set the worker is
// run as "Path Script Args..." and the script must exist.
type Command struct {
	Path    string
	Script  string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

func (c Command) name() string {
	if c.Script != "" {
		return c.Script
	}
	return c.Path
}

// Output is the parsed stdout of a successful run. Data always holds a JSON
// document; when the worker printed non-JSON text, Data is {"output": text}
// and Text holds the trimmed text.
type Output struct {
	Data json.RawMessage
	Text string
}

// Decode unmarshals Data into dst.
func (o *Output) Decode(dst interface{}) error {
	return json.Unmarshal(o.Data, dst)
}

// Executor runs a worker process to completion or deadline.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

type Runner struct {
	logger         *logger.Logger
	defaultTimeout time.Duration
	waitDelay      time.Duration
	stderrLimit    int
	redact         []string
}

type Option func(*Runner)

func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithDefaultTimeout applies to commands that leave Timeout unset.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) { r.defaultTimeout = d }
}

// WithWaitDelay bounds how long Run waits for output pipes to close after the
// process has exited or been killed.
func WithWaitDelay(d time.Duration) Option {
	return func(r *Runner) { r.waitDelay = d }
}

// WithStderrLimit caps the stderr tail kept in process errors.
func WithStderrLimit(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.stderrLimit = n
		}
	}
}

// WithRedactedFlags hides the value following any of the given flags in logs.
func WithRedactedFlags(flags ...string) Option {
	return func(r *Runner) { r.redact = append(r.redact, flags...) }
}

func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger:         logger.Nop(),
		defaultTimeout: time.Minute,
		waitDelay:      2 * time.Second,
		stderrLimit:    4096,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the worker and blocks until it exits or its deadline passes,
// whichever happens first. The outcome is settled exactly once: on deadline
// the process is killed and reaped before Run returns.
func (r *Runner) Run(ctx context.Context, c Command) (*Output, error) {
	path, err := r.resolve(c)
	if err != nil {
		return nil, &Error{Kind: KindSpawn, Path: c.name(), Err: err}
	}

	argv := c.Args
	if c.Script != "" {
		argv = append([]string{c.Script}, c.Args...)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(path, argv...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay

	if err := cmd.Start(); err != nil {
		return nil, &Error{Kind: KindSpawn, Path: c.name(), Err: err}
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	started := time.Now()
	r.logger.Debug("worker started",
		logger.String("worker", c.name()),
		logger.Int("pid", cmd.Process.Pid),
		logger.String("args", r.redactArgs(c.Args)),
		logger.Duration("timeout", timeout),
	)

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case waitErr := <-exited:
		r.logger.Debug("worker exited",
			logger.String("worker", c.name()),
			logger.Int("exit_code", cmd.ProcessState.ExitCode()),
			logger.Duration("took", time.Since(started)),
		)
		return r.settle(c, cmd.ProcessState, waitErr, stdout.Bytes(), stderr.Bytes())
	case <-deadline.Done():
		_ = cmd.Process.Kill()
		<-exited
		cause := deadline.Err()
		if errors.Is(cause, context.DeadlineExceeded) && ctx.Err() == nil {
			cause = nil
		}
		r.logger.Warn("worker killed at deadline",
			logger.String("worker", c.name()),
			logger.Duration("timeout", timeout),
			logger.Duration("took", time.Since(started)),
		)
		return nil, &Error{Kind: KindTimeout, Path: c.name(), Timeout: timeout, Err: cause}
	}
}

func (r *Runner) resolve(c Command) (string, error) {
	path, err := exec.LookPath(c.Path)
	if err != nil {
		return "", err
	}
	if c.Script != "" {
		if _, err := os.Stat(c.Script); err != nil {
			return "", fmt.Errorf("worker script: %w", err)
		}
	}
	return path, nil
}

// settle classifies a finished run. A clean exit whose pipes were held open
// by a leftover child still counts as success.
func (r *Runner) settle(c Command, state *os.ProcessState, waitErr error, stdout, stderr []byte) (*Output, error) {
	if errors.Is(waitErr, exec.ErrWaitDelay) && state != nil && state.Success() {
		r.logger.Warn("worker left its output open after exiting", logger.String("worker", c.name()))
		waitErr = nil
	}
	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return nil, &Error{
			Kind:     KindProcess,
			Path:     c.name(),
			ExitCode: code,
			Stderr:   tail(stderr, r.stderrLimit),
			Err:      waitErr,
		}
	}
	return ParseOutput(c.name(), stdout)
}

// ParseOutput interprets the stdout of a worker that exited 0.
func ParseOutput(name string, stdout []byte) (*Output, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, &Error{Kind: KindParse, Path: name}
	}
	if json.Valid(trimmed) {
		return &Output{Data: json.RawMessage(trimmed)}, nil
	}
	text := string(trimmed)
	wrapped, err := json.Marshal(map[string]string{"output": text})
	if err != nil {
		return nil, &Error{Kind: KindParse, Path: name, Err: err}
	}
	return &Output{Data: wrapped, Text: text}, nil
}

func (r *Runner) redactArgs(args []string) string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		for _, flag := range r.redact {
			if out[i] == flag {
				out[i+1] = "***"
			}
		}
	}
	return strings.Join(out, " ")
}

func tail(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if limit > 0 && len(s) > limit {
		cut := len(s) - limit
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		s = "..." + s[cut:]
	}
	return s
}
