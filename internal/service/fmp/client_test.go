package fmp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalLab/internal/service/marketdata"
	"SignalLab/internal/service/ratelimit"
)

func TestFetchRealtimeQuote(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("apikey")
		_, _ = w.Write([]byte(`[{"symbol":"AAPL","price":187.2}]`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k1", BaseURL: srv.URL + "/"})
	payload, err := c.Fetch(context.Background(), "aapl", marketdata.Realtime)
	require.NoError(t, err)

	assert.Equal(t, "/quote/AAPL", gotPath)
	assert.Equal(t, "k1", gotKey)
	assert.JSONEq(t, `[{"symbol":"AAPL","price":187.2}]`, string(payload))
}

func TestFetchHistoricalUsesLineSeries(t *testing.T) {
	var gotPath, gotSerie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSerie = r.URL.Query().Get("serietype")
		_, _ = w.Write([]byte(`{"symbol":"MSFT","historical":[{"date":"2024-01-02","close":370.87}]}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k1", BaseURL: srv.URL})
	_, err := c.Fetch(context.Background(), "MSFT", marketdata.Historical)
	require.NoError(t, err)
	assert.Equal(t, "/historical-price-full/MSFT", gotPath)
	assert.Equal(t, "line", gotSerie)
}

func TestFetchFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
	}{
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", code: http.StatusBadGateway},
		{name: "rate limited upstream", status: http.StatusTooManyRequests, body: "slow down", code: http.StatusTooManyRequests},
		{name: "empty list", status: http.StatusOK, body: "[]"},
		{name: "error message", status: http.StatusOK, body: `{"Error Message":"Invalid API KEY."}`},
		{name: "not json", status: http.StatusOK, body: "<html>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{APIKey: "k1", BaseURL: srv.URL})
			_, err := c.Fetch(context.Background(), "AAPL", marketdata.Realtime)
			var ue *marketdata.UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.code, ue.Status)
			assert.Equal(t, "AAPL", ue.Symbol)
		})
	}
}

func TestFetchWithoutAPIKey(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Fetch(context.Background(), "AAPL", marketdata.Realtime)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestFetchRespectsRequestBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[{"symbol":"AAPL"}]`))
	}))
	defer srv.Close()

	now := time.Unix(1_700_000_000, 0)
	lim := ratelimit.NewWithClock(func() time.Time { return now })
	c := New(Config{APIKey: "k1", BaseURL: srv.URL, RateBurst: 2, RatePerSec: 1}, WithLimiter(lim))

	ctx := context.Background()
	_, err := c.Fetch(ctx, "AAPL", marketdata.Realtime)
	require.NoError(t, err)
	_, err = c.Fetch(ctx, "AAPL", marketdata.Realtime)
	require.NoError(t, err)
	_, err = c.Fetch(ctx, "AAPL", marketdata.Realtime)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.EqualValues(t, 2, hits.Load())
}
