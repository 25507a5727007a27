package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalLab/pkg/config"
	xhttp "SignalLab/pkg/http"
	"SignalLab/pkg/logger"
	"SignalLab/pkg/queue"
)

type recordingQueue struct {
	queue.Queue
	mu     sync.Mutex
	events *[]string
}

func (q *recordingQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	*q.events = append(*q.events, "queue")
	q.mu.Unlock()
	return q.Queue.Stop(ctx)
}

func newTestApp(t *testing.T, events *[]string, closers ...Closer) *App {
	t.Helper()
	cfg := &config.Config{Environment: "test"}
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Queue.Backend = "memory"

	srv := xhttp.NewServer(logger.Nop(), nil,
		xhttp.WithHost("127.0.0.1"),
		xhttp.WithPort(0),
		xhttp.WithMetrics(false, nil, nil),
	)
	q := &recordingQueue{Queue: queue.NewMemoryQueue(logger.Nop(), queue.Config{Name: "test"}), events: events}
	return New(cfg, logger.Nop(), srv, q, WithClosers(closers...))
}

func TestShutdownStopsQueueBeforeClosers(t *testing.T) {
	var events []string
	record := func(name string) Closer {
		return Closer{Name: name, Close: func(context.Context) error {
			events = append(events, name)
			return nil
		}}
	}
	app := newTestApp(t, &events, record("publisher"), record("mongo"))

	require.NoError(t, app.Start())
	app.Shutdown(context.Background())

	assert.Equal(t, []string{"queue", "publisher", "mongo"}, events)
}

func TestShutdownContinuesPastCloseErrors(t *testing.T) {
	var events []string
	app := newTestApp(t, &events,
		Closer{Name: "broken", Close: func(context.Context) error { return errors.New("boom") }},
		Closer{Name: "after", Close: func(context.Context) error {
			events = append(events, "after")
			return nil
		}},
	)

	require.NoError(t, app.Start())
	app.Shutdown(context.Background())
	assert.Contains(t, events, "after")
}

func TestShutdownWithoutStart(t *testing.T) {
	var events []string
	app := newTestApp(t, &events)
	assert.NotPanics(t, func() { app.Shutdown(context.Background()) })
}
