package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"SignalLab/pkg/logger"
)

// boundedPush enqueues ARGV[1] unless the list already holds ARGV[2] items.
var boundedPush = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('LPUSH', KEYS[1], ARGV[1])
return 1
`)

// promoteDue moves up to ARGV[2] retries scored <= ARGV[1] back onto the
// message list.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('LPUSH', KEYS[2], m)
end
return #due
`)

// RedisQueue shares training jobs between API instances. Messages live in
// <prefix>:messages, failed ones wait in the <prefix>:retry sorted set and
// end in <prefix>:dlq once RetryLimit is spent. Dispatch cannot wait for
// completion, so its handles are detached.
type RedisQueue struct {
	logger *logger.Logger
	config Config
	client *redis.Client

	prefix        string
	pollTimeout   time.Duration
	retryInterval time.Duration

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type RedisQueueOption func(*RedisQueue)

func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) { r.prefix = prefix + ":" + r.config.Name }
}

// WithPollTimeout bounds each BRPOP so workers notice shutdown.
func WithPollTimeout(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) { r.pollTimeout = d }
}

func WithRetryInterval(d time.Duration) RedisQueueOption {
	return func(r *RedisQueue) { r.retryInterval = d }
}

func NewRedisQueue(lgr *logger.Logger, config Config, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	config.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisQueue{
		logger:        lgr.With(logger.String("queue", config.Name), logger.String("backend", "redis")),
		config:        config,
		client:        client,
		prefix:        "signallab:queue:" + config.Name,
		pollTimeout:   time.Second,
		retryInterval: 5 * time.Second,
		jobs:          make(map[string]Job),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[job.Type()]; dup {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
}

func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis queue ping: %w", err)
	}

	r.running = true
	r.wg.Add(r.config.Workers + 1)
	for i := 0; i < r.config.Workers; i++ {
		go r.work(i)
	}
	go r.retryLoop()

	r.logger.Info("queue started", logger.Int("workers", r.config.Workers), logger.String("prefix", r.prefix))
	return nil
}

// Stop cancels the queue context, which reaches running jobs, and waits for
// the workers. Messages still in Redis stay there for the next start.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop queue: %w", ctx.Err())
	}
}

// Dispatch enqueues atomically against QueueSize; a full backlog returns
// ErrQueueFull.
func (r *RedisQueue) Dispatch(ctx context.Context, msgType string, payload interface{}) (*Handle, error) {
	r.mu.RLock()
	running := r.running
	_, known := r.jobs[msgType]
	r.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg := Message{ID: uuid.NewString(), Type: msgType, Payload: body, Timestamp: time.Now()}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	pushed, err := boundedPush.Run(ctx, r.client, []string{r.key("messages")}, data, r.config.QueueSize).Int()
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", msgType, err)
	}
	if pushed == 0 {
		return nil, ErrQueueFull
	}
	return detachedHandle(msg.ID), nil
}

// DeadLetters returns up to n messages that exhausted their retries, newest
// first.
func (r *RedisQueue) DeadLetters(ctx context.Context, n int64) ([]Message, error) {
	raw, err := r.client.LRange(ctx, r.key("dlq"), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, s := range raw {
		var m Message
		if json.Unmarshal([]byte(s), &m) == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *RedisQueue) work(id int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		msg, ok := r.pop()
		if ok {
			r.run(id, msg)
		}
	}
}

func (r *RedisQueue) pop() (Message, bool) {
	res, err := r.client.BRPop(r.ctx, r.pollTimeout, r.key("messages")).Result()
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil), r.ctx.Err() != nil:
		return Message{}, false
	default:
		r.logger.Error("pop message", logger.Error(err))
		sleep(r.ctx, time.Second)
		return Message{}, false
	}

	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		r.logger.Error("drop undecodable message", logger.Error(err))
		return Message{}, false
	}
	return msg, true
}

func (r *RedisQueue) run(workerID int, msg Message) {
	r.mu.RLock()
	job, ok := r.jobs[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error("no job for message", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.store("dlq", msg)
		return
	}

	began := time.Now()
	err := safeHandle(r.ctx, job, msg.Payload)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	r.logger.Error("job failed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("worker_id", workerID),
		logger.Int("attempt", msg.Attempts+1),
		logger.Duration("elapsed", time.Since(began)),
		logger.Error(err))

	if msg.Attempts >= r.config.RetryLimit {
		r.store("dlq", msg)
		return
	}
	msg.Attempts++
	r.store("retry", msg)
}

// store writes msg to the dlq list or the retry set. It uses a fresh
// context so a message failed by shutdown is not lost.
func (r *RedisQueue) store(where string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("encode message", logger.String("id", msg.ID), logger.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if where == "retry" {
		due := float64(time.Now().Add(r.config.RetryDelay).Unix())
		err = r.client.ZAdd(ctx, r.key("retry"), redis.Z{Score: due, Member: data}).Err()
	} else {
		err = r.client.LPush(ctx, r.key("dlq"), data).Err()
	}
	if err != nil {
		r.logger.Error("store message", logger.String("to", where), logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) retryLoop() {
	defer r.wg.Done()
	tick := time.NewTicker(r.retryInterval)
	defer tick.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-tick.C:
			r.promoteRetries(now)
		}
	}
}

func (r *RedisQueue) promoteRetries(now time.Time) {
	keys := []string{r.key("retry"), r.key("messages")}
	n, err := promoteDue.Run(r.ctx, r.client, keys, strconv.FormatInt(now.Unix(), 10), 100).Int()
	if err != nil {
		if r.ctx.Err() == nil {
			r.logger.Error("promote retries", logger.Error(err))
		}
		return
	}
	if n > 0 {
		r.logger.Debug("retries promoted", logger.Int("count", n))
	}
}

func (r *RedisQueue) key(suffix string) string {
	return r.prefix + ":" + suffix
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
