package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrNotRunning  = errors.New("queue not running")
	ErrUnknownType = errors.New("no job registered for message type")
	ErrDetached    = errors.New("job runs on another instance")
)

// Dispatcher accepts a message for asynchronous handling by the Job
// registered for its type. It never blocks on a full queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgType string, payload interface{}) (*Handle, error)
}

// Queue is a Dispatcher with a worker lifecycle. Jobs are registered
// before Start.
type Queue interface {
	Dispatcher
	RegisterJob(job Job)
	Start() error
	Stop(ctx context.Context) error
}

// Config contains the configuration for a queue.
type Config struct {
	Name       string
	Workers    int           // concurrent handlers
	QueueSize  int           // pending messages before Dispatch fails with ErrQueueFull
	RetryLimit int           // extra attempts after a handler error
	RetryDelay time.Duration // delay before each retry
}

func (c *Config) normalize() {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
}

// Message represents a message in the queue.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handle tracks one dispatched message. Handles from a distributed queue are
// detached: the message is processed elsewhere and Wait returns ErrDetached.
type Handle struct {
	ID       string
	detached bool
	done     chan struct{}
	err      error
}

func newHandle(id string) *Handle {
	return &Handle{ID: id, done: make(chan struct{})}
}

func detachedHandle(id string) *Handle {
	return &Handle{ID: id, detached: true}
}

func (h *Handle) finish(err error) {
	h.err = err
	close(h.done)
}

// Detached reports whether completion can be observed through this handle.
func (h *Handle) Detached() bool { return h.detached }

// Done is closed once the final attempt has returned. It is nil for
// detached handles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the message has been handled or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	if h.detached {
		return ErrDetached
	}
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParsePayload converts a payload as delivered to Job.Handle into T.
// In-process queues deliver the dispatched value; Redis delivers raw JSON.
func ParsePayload[T any](payload interface{}) (*T, error) {
	var result T

	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case []byte:
		if err := json.Unmarshal(p, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	case map[string]interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal map payload: %w", err)
		}
		if err := json.Unmarshal(b, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &result, nil
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}
