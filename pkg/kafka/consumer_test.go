package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalLab/pkg/logger"
)

type countingHandler struct {
	failures int
	calls    int
	panics   bool
}

func (h *countingHandler) Topic() string { return "model-events" }

func (h *countingHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.panics {
		panic("boom")
	}
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(logger.Nop(),
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(logger.Nop())
	assert.Error(t, err)
}

func TestHandleRetriesUntilSuccess(t *testing.T) {
	c := newTestConsumer(t, 3)
	h := &countingHandler{failures: 2}

	require.NoError(t, c.handle(context.Background(), h, []byte("{}")))
	assert.Equal(t, 3, h.calls)
}

func TestHandleGivesUpAfterRetryMax(t *testing.T) {
	c := newTestConsumer(t, 1)
	h := &countingHandler{failures: 10}

	assert.Error(t, c.handle(context.Background(), h, nil))
	assert.Equal(t, 2, h.calls)
}

func TestHandleRecoversPanic(t *testing.T) {
	c := newTestConsumer(t, 0)
	err := c.handle(context.Background(), &countingHandler{panics: true}, nil)
	assert.ErrorContains(t, err, "panicked")
}

func TestBackoffStaysInRange(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}

func TestProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
}

func TestProducerRejectsUnknownCompression(t *testing.T) {
	_, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("brotli"))
	assert.ErrorContains(t, err, "brotli")

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("zstd"))
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
