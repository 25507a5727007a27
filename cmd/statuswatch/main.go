package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"SignalLab/internal/domain/models"
	"SignalLab/internal/service/statuswatch"
	"SignalLab/pkg/config"
	xhttp "SignalLab/pkg/http"
	"SignalLab/pkg/logger"
)

// logNotifier prints watch outcomes and records whether any of them failed.
type logNotifier struct {
	log    *logger.Logger
	failed chan struct{}
}

func (n *logNotifier) Finished(s *statuswatch.Snapshot) {
	if s.Status == models.StatusError {
		n.log.Error("training failed", logger.String("model_id", s.ID), logger.String("reason", s.Error))
		n.fail()
		return
	}
	n.log.Info("training finished",
		logger.String("model_id", s.ID),
		logger.String("status", string(s.Status)),
		logger.Any("metrics", s.Metrics))
}

func (n *logNotifier) Removed(id string) {
	n.log.Warn("model was deleted while training", logger.String("model_id", id))
}

func (n *logNotifier) Failed(id string, err error) {
	n.log.Error("status check failed", logger.String("model_id", id), logger.Error(err))
	n.fail()
}

func (n *logNotifier) ReauthRequired() {
	n.log.Error("token rejected, log in again and rerun with a new -token")
	n.fail()
}

func (n *logNotifier) fail() {
	select {
	case n.failed <- struct{}{}:
	default:
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	token := flag.String("token", "", "bearer token (overrides poller.token and SIGNALLAB_TOKEN)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] model-id...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	lgr, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	if *token != "" {
		cfg.Poller.Token = *token
	}

	if err := run(cfg, lgr, flag.Args()); err != nil {
		lgr.Error("statuswatch failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, lgr *logger.Logger, ids []string) error {
	fetcher := statuswatch.NewHTTPFetcher(cfg.Poller.BaseURL, cfg.Poller.Token,
		xhttp.NewClient(xhttp.WithTimeout(cfg.Poller.TickTimeout)))
	notifier := &logNotifier{log: lgr, failed: make(chan struct{}, 1)}
	w := statuswatch.New(fetcher, notifier,
		statuswatch.WithInterval(cfg.Poller.Interval),
		statuswatch.WithTickTimeout(cfg.Poller.TickTimeout),
		statuswatch.WithLogger(lgr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snaps := make([]*statuswatch.Snapshot, 0, len(ids))
	for _, id := range ids {
		fctx, cancel := context.WithTimeout(ctx, cfg.Poller.TickTimeout)
		s, err := fetcher.FetchStatus(fctx, id)
		cancel()
		switch {
		case errors.Is(err, statuswatch.ErrUnauthorized):
			return err
		case err != nil:
			lgr.Error("initial status check failed", logger.String("model_id", id), logger.Error(err))
			notifier.fail()
			continue
		}
		lgr.Info("model status", logger.String("model_id", id), logger.String("status", string(s.Status)))
		snaps = append(snaps, s)
	}

	n := w.Track(snaps)
	lgr.Info("watching models", logger.Int("count", n), logger.Duration("interval", cfg.Poller.Interval))

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		lgr.Info("interrupted, stopping watches")
		w.Stop()
	}

	select {
	case <-notifier.failed:
		return errors.New("one or more models did not finish cleanly")
	default:
		return nil
	}
}
