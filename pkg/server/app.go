package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SignalLab/internal/usecase"
	"SignalLab/pkg/config"
	xhttp "SignalLab/pkg/http"
	pkgkafka "SignalLab/pkg/kafka"
	"SignalLab/pkg/logger"
	"SignalLab/pkg/queue"
)

// Closer releases one infrastructure client on shutdown.
type Closer struct {
	Name  string
	Close func(ctx context.Context) error
}

func CloserOf(name string, c io.Closer) Closer {
	return Closer{Name: name, Close: func(context.Context) error { return c.Close() }}
}

// App owns the long-running parts of the service. Shutdown stops HTTP
// before the training queue and closes clients last.
type App struct {
	cfg      *config.Config
	logger   *logger.Logger
	http     *xhttp.Server
	queue    queue.Queue
	consumer *pkgkafka.Consumer
	handlers []pkgkafka.MessageHandler
	monitor  *usecase.StaleTrainingMonitor
	closers  []Closer
}

type Option func(*App)

// WithConsumer runs c with the given handlers. A nil consumer is ignored.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		if c != nil {
			a.consumer = c
			a.handlers = handlers
		}
	}
}

func WithStaleMonitor(m *usecase.StaleTrainingMonitor) Option {
	return func(a *App) { a.monitor = m }
}

// WithClosers appends clients closed last, in the given order.
func WithClosers(c ...Closer) Option {
	return func(a *App) { a.closers = append(a.closers, c...) }
}

func New(cfg *config.Config, lgr *logger.Logger, http *xhttp.Server, q queue.Queue, opts ...Option) *App {
	a := &App{cfg: cfg, logger: lgr, http: http, queue: q}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start brings up the queue workers, consumers and the HTTP listener.
func (a *App) Start() error {
	if err := a.queue.Start(); err != nil {
		return fmt.Errorf("start training queue: %w", err)
	}
	a.logger.Info("training queue started", logger.String("backend", a.cfg.Queue.Backend))

	if a.consumer != nil {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
	}

	if a.monitor != nil {
		if err := a.monitor.Start(); err != nil {
			return fmt.Errorf("start stale training monitor: %w", err)
		}
	}

	if err := a.http.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.logger.Info("signallab started",
		logger.String("env", a.cfg.Environment),
		logger.Int("port", a.cfg.Server.Port),
		logger.String("storage", a.cfg.Storage.Backend))
	return nil
}

// Run starts the app and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	a.logger.Info("shutdown signal received")
	a.Shutdown(context.Background())
	return nil
}

// Shutdown stops everything within the configured shutdown timeout.
// Training runs still queued when it expires are failed by the job.
func (a *App) Shutdown(parent context.Context) {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := a.http.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", logger.Error(err))
	}
	if err := a.queue.Stop(ctx); err != nil {
		a.logger.Warn("training queue stop error", logger.Error(err))
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	for _, c := range a.closers {
		if err := c.Close(ctx); err != nil {
			a.logger.Warn("close error", logger.String("client", c.Name), logger.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
