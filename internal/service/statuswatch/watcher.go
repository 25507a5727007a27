package statuswatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"SignalLab/internal/domain/models"
	"SignalLab/pkg/logger"
)

var (
	ErrNotFound     = errors.New("model not found")
	ErrUnauthorized = errors.New("session is not authorized")
)

// Snapshot is one observation of a model's lifecycle.
type Snapshot struct {
	ID          string                 `json:"id"`
	Status      models.Status          `json:"status"`
	LastTrained *time.Time             `json:"lastTrained,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
}

// Fetcher reads the current lifecycle of a model. It returns ErrNotFound
// and ErrUnauthorized (or errors wrapping them) for those outcomes.
type Fetcher interface {
	FetchStatus(ctx context.Context, id string) (*Snapshot, error)
}

// Notifier receives the terminal outcome of each watch. Callbacks run on
// the watch goroutine; they may call Watch but not Stop or Wait.
type Notifier interface {
	Finished(s *Snapshot)
	Removed(id string)
	Failed(id string, err error)
	ReauthRequired()
}

type loop struct {
	cancel context.CancelFunc
}

// Watcher polls models that are training until they leave training. At
// most one loop runs per id. An authorization failure stops every loop and
// refuses new watches until Reauthenticated is called.
type Watcher struct {
	fetcher     Fetcher
	notifier    Notifier
	interval    time.Duration
	tickTimeout time.Duration
	logger      *logger.Logger

	mu     sync.Mutex
	loops  map[string]*loop
	locked bool
	wg     sync.WaitGroup
}

type Option func(*Watcher)

func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithTickTimeout bounds each fetch.
func WithTickTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.tickTimeout = d
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func New(fetcher Fetcher, notifier Notifier, opts ...Option) *Watcher {
	w := &Watcher{
		fetcher:     fetcher,
		notifier:    notifier,
		interval:    5 * time.Second,
		tickTimeout: 3 * time.Second,
		logger:      logger.Nop(),
		loops:       make(map[string]*loop),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Track starts a watch for every snapshot in training and returns how many
// were started.
func (w *Watcher) Track(snapshots []*Snapshot) int {
	n := 0
	for _, s := range snapshots {
		if s != nil && s.Status == models.StatusTraining && w.Watch(s.ID) {
			n++
		}
	}
	return n
}

// Watch starts polling id. It returns false when id is already watched or
// the session needs re-authentication.
func (w *Watcher) Watch(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.locked {
		return false
	}
	if _, ok := w.loops[id]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{cancel: cancel}
	w.loops[id] = l
	w.wg.Add(1)
	go w.run(ctx, id, l)
	w.logger.Debug("watch started", logger.String("model_id", id))
	return true
}

// Unwatch stops polling id without notifying.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if l, ok := w.loops[id]; ok {
		l.cancel()
		delete(w.loops, id)
	}
}

// Watching reports whether id has an active loop.
func (w *Watcher) Watching(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.loops[id]
	return ok
}

// Active returns the number of running loops.
func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.loops)
}

// Reauthenticated lifts the lock set by an authorization failure.
func (w *Watcher) Reauthenticated() {
	w.mu.Lock()
	w.locked = false
	w.mu.Unlock()
}

// Stop cancels every loop without notifying and waits for them to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	w.stopAllLocked()
	w.mu.Unlock()
	w.wg.Wait()
}

// Wait blocks until every loop has ended.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) stopAllLocked() {
	for id, l := range w.loops {
		l.cancel()
		delete(w.loops, id)
	}
}

func (w *Watcher) run(ctx context.Context, id string, l *loop) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := w.tick(ctx, id, l); done {
				return
			}
		}
	}
}

// tick fetches once and reports whether the loop has ended.
func (w *Watcher) tick(ctx context.Context, id string, l *loop) bool {
	fctx, cancel := context.WithTimeout(ctx, w.tickTimeout)
	snap, err := w.fetcher.FetchStatus(fctx, id)
	cancel()

	if ctx.Err() != nil {
		return true
	}
	if err == nil && snap.Status == models.StatusTraining {
		return false
	}

	if err != nil && errors.Is(err, ErrUnauthorized) {
		if !w.lockSession(id, l) {
			return true
		}
		w.logger.Warn("status poll unauthorized, stopping all watches", logger.String("model_id", id))
		w.notifier.ReauthRequired()
		return true
	}

	if !w.claim(id, l) {
		return true
	}
	switch {
	case err == nil:
		w.logger.Info("model left training",
			logger.String("model_id", id),
			logger.String("status", string(snap.Status)))
		w.notifier.Finished(snap)
	case errors.Is(err, ErrNotFound):
		w.logger.Info("watched model removed", logger.String("model_id", id))
		w.notifier.Removed(id)
	default:
		w.logger.Warn("status poll failed", logger.String("model_id", id), logger.Error(err))
		w.notifier.Failed(id, err)
	}
	return true
}

// claim removes l from the registry if it is still the loop for id. A loop
// that lost its entry was stopped and must stay silent.
func (w *Watcher) claim(id string, l *loop) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loops[id] != l {
		return false
	}
	l.cancel()
	delete(w.loops, id)
	return true
}

// lockSession stops every loop. Only the loop that found the session
// unlocked returns true, so ReauthRequired fires once.
func (w *Watcher) lockSession(id string, l *loop) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.locked || w.loops[id] != l {
		return false
	}
	w.locked = true
	w.stopAllLocked()
	return true
}
