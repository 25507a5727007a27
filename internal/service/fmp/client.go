package fmp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"SignalLab/internal/service/marketdata"
	"SignalLab/internal/service/ratelimit"
	xhttp "SignalLab/pkg/http"
	"SignalLab/pkg/logger"
)

var (
	ErrMissingAPIKey = errors.New("fmp api key is not configured")
	ErrRateLimited   = errors.New("fmp request budget exhausted")
	ErrEmptyResponse = errors.New("fmp returned no data")
)

const limiterKey = "fmp"

type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	RateBurst  float64
	RatePerSec float64
}

// Client fetches quotes and price history from Financial Modeling Prep.
type Client struct {
	cfg     Config
	http    *xhttp.Client
	limiter *ratelimit.Limiter
	logger  *logger.Logger
}

type Option func(*Client)

func WithHTTPClient(c *xhttp.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(cl *Client) { cl.limiter = l }
}

func WithLogger(l *logger.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{cfg: cfg, logger: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = xhttp.NewClient(xhttp.WithTimeout(cfg.Timeout))
	}
	return c
}

// Fetch implements marketdata.Upstream. Every failure is a
// *marketdata.UpstreamError.
func (c *Client) Fetch(ctx context.Context, symbol string, kind marketdata.Kind) (json.RawMessage, error) {
	fail := func(status int, err error) error {
		return &marketdata.UpstreamError{Symbol: symbol, Kind: kind, Status: status, Err: err}
	}
	if c.cfg.APIKey == "" {
		return nil, fail(0, ErrMissingAPIKey)
	}
	if c.limiter != nil && c.cfg.RateBurst > 0 && !c.limiter.Allow(limiterKey, c.cfg.RateBurst, c.cfg.RatePerSec) {
		return nil, fail(0, ErrRateLimited)
	}

	endpoint, query, err := c.endpoint(symbol, kind)
	if err != nil {
		return nil, fail(0, err)
	}

	var body []byte
	err = c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         endpoint,
		QueryParams: query,
	}, &body)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) {
			c.logger.Warn("fmp request rejected",
				logger.String("symbol", symbol),
				logger.String("kind", string(kind)),
				logger.Int("status", se.Code))
			return nil, fail(se.Code, err)
		}
		return nil, fail(0, err)
	}

	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return nil, fail(0, fmt.Errorf("decode fmp response: invalid json"))
	}
	if isEmpty(body) {
		return nil, fail(0, ErrEmptyResponse)
	}
	if msg := errorMessage(body); msg != "" {
		return nil, fail(0, fmt.Errorf("fmp error: %s", msg))
	}
	return json.RawMessage(body), nil
}

func (c *Client) endpoint(symbol string, kind marketdata.Kind) (string, map[string][]string, error) {
	sym := url.PathEscape(strings.ToUpper(symbol))
	query := map[string][]string{"apikey": {c.cfg.APIKey}}
	switch kind {
	case marketdata.Realtime:
		return c.cfg.BaseURL + "/quote/" + sym, query, nil
	case marketdata.Historical:
		query["serietype"] = []string{"line"}
		return c.cfg.BaseURL + "/historical-price-full/" + sym, query, nil
	}
	return "", nil, fmt.Errorf("unsupported kind %q", kind)
}

// FMP answers unknown symbols with [] or {}.
func isEmpty(body []byte) bool {
	s := string(body)
	return s == "[]" || s == "{}" || s == "null"
}

// FMP reports key problems with 200 and {"Error Message": "..."}.
func errorMessage(body []byte) string {
	if len(body) == 0 || body[0] != '{' {
		return ""
	}
	var e struct {
		Message string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	return e.Message
}
