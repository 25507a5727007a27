package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalLab/pkg/logger"
)

type envelope struct {
	msg     Message
	payload interface{}
	handle  *Handle
}

// MemoryQueue runs jobs on a fixed pool of in-process workers with a bounded
// backlog.
type MemoryQueue struct {
	logger  *logger.Logger
	config  Config
	jobs    map[string]Job
	mu      sync.RWMutex
	running bool
	pending chan *envelope
	retries sync.WaitGroup
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(lgr *logger.Logger, config Config, jobs ...Job) *MemoryQueue {
	config.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		logger: lgr.With(logger.String("queue", config.Name)),
		config: config,
		jobs:   make(map[string]Job),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, j := range jobs {
		q.RegisterJob(j)
	}
	return q
}

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already running")
	}
	if q.ctx.Err() != nil {
		return fmt.Errorf("queue stopped")
	}
	q.running = true
	q.pending = make(chan *envelope, q.config.QueueSize)
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.logger.Info("memory queue started",
		logger.Int("workers", q.config.Workers),
		logger.Int("size", q.config.QueueSize))
	return nil
}

// Stop refuses new messages and cancels the context handed to running jobs.
// Messages still queued are handed to their job with that cancelled context
// so each one is settled.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	// retries re-enter pending, so they must settle before it closes
	q.retries.Wait()
	q.mu.Lock()
	close(q.pending)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("memory queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop queue: %w", ctx.Err())
	}
}

func (q *MemoryQueue) Dispatch(_ context.Context, msgType string, payload interface{}) (*Handle, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.running {
		return nil, ErrNotRunning
	}
	if _, ok := q.jobs[msgType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}

	env := &envelope{
		msg:     Message{ID: uuid.NewString(), Type: msgType, Timestamp: time.Now()},
		payload: payload,
	}
	env.handle = newHandle(env.msg.ID)

	select {
	case q.pending <- env:
		return env.handle, nil
	default:
		return nil, ErrQueueFull
	}
}

// Len returns the number of messages waiting for a worker.
func (q *MemoryQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.pending)
}

func (q *MemoryQueue) worker(id int) {
	defer q.wg.Done()
	for env := range q.pending {
		q.process(id, env)
	}
}

func (q *MemoryQueue) process(workerID int, env *envelope) {
	q.mu.RLock()
	job := q.jobs[env.msg.Type]
	q.mu.RUnlock()

	start := time.Now()
	err := safeHandle(q.ctx, job, env.payload)
	elapsed := time.Since(start)

	if err == nil {
		env.handle.finish(nil)
		return
	}
	q.logger.Error("message processing error",
		logger.String("id", env.msg.ID),
		logger.String("job", job.Name()),
		logger.Int("worker_id", workerID),
		logger.Int("attempt", env.msg.Attempts+1),
		logger.Duration("elapsed", elapsed),
		logger.Error(err))

	if env.msg.Attempts >= q.config.RetryLimit || q.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		env.handle.finish(err)
		return
	}
	env.msg.Attempts++
	q.scheduleRetry(env)
}

// scheduleRetry registers the retry under q.mu, so Stop either sees it in
// q.retries or the retry sees the queue stopped.
func (q *MemoryQueue) scheduleRetry(env *envelope) {
	q.mu.RLock()
	if !q.running || q.ctx.Err() != nil {
		q.mu.RUnlock()
		env.handle.finish(ErrNotRunning)
		return
	}
	q.retries.Add(1)
	q.mu.RUnlock()

	go func() {
		defer q.retries.Done()
		timer := time.NewTimer(q.config.RetryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-q.ctx.Done():
			env.handle.finish(fmt.Errorf("retry abandoned: %w", q.ctx.Err()))
			return
		}

		q.mu.RLock()
		defer q.mu.RUnlock()
		if !q.running {
			env.handle.finish(ErrNotRunning)
			return
		}
		select {
		case q.pending <- env:
		default:
			env.handle.finish(ErrQueueFull)
		}
	}()
}
