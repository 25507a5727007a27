package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"SignalLab/pkg/http/middleware"
	"SignalLab/pkg/logger"
)

type ServerOption func(*serverOptions)

type serverOptions struct {
	host            string
	port            int
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	slowRequest     time.Duration
	origins         []string
	metrics         bool
	registerer      prometheus.Registerer
	gatherer        prometheus.Gatherer
}

// Server is the API's echo instance plus its listener lifecycle.
type Server struct {
	echo   *echo.Echo
	opts   serverOptions
	logger *logger.Logger
	addr   net.Addr
}

// NewServer builds the middleware chain (recovery, request log, metrics,
// CORS) and mounts every non-nil handler.
func NewServer(lgr *logger.Logger, handlers []Handler, opts ...ServerOption) *Server {
	o := serverOptions{
		host:            "0.0.0.0",
		port:            5000,
		readTimeout:     10 * time.Second,
		writeTimeout:    60 * time.Second,
		shutdownTimeout: 10 * time.Second,
		slowRequest:     2 * time.Second,
		origins:         []string{"*"},
		metrics:         true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	lgr = lgr.With(logger.String("component", "http"))

	e := echo.New()
	e.HideBanner, e.HidePort = true, true
	e.Server.ReadTimeout = o.readTimeout
	e.Server.WriteTimeout = o.writeTimeout

	e.Use(middleware.Recover(lgr), middleware.RequestLogging(lgr, o.slowRequest))
	if o.metrics {
		e.Use(middleware.Metrics(o.registerer))
	}
	if len(o.origins) > 0 {
		e.Use(middleware.CORS(middleware.CORSConfig{
			AllowOrigins: o.origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			MaxAge:       600,
		}))
	}

	for _, h := range handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
	if o.metrics {
		g := o.gatherer
		if g == nil {
			g = prometheus.DefaultGatherer
		}
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}

	return &Server{echo: e, opts: o, logger: lgr}
}

// Start binds the port synchronously, so a taken port fails here, then
// serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.opts.host, strconv.Itoa(s.opts.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.addr = ln.Addr()
	s.echo.Listener = ln

	go func() {
		s.logger.Info("http server listening", logger.String("addr", s.addr.String()))
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", logger.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address once Start has returned.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Stop drains in-flight requests for at most the shutdown timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.opts.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.shutdownTimeout)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func WithHost(host string) ServerOption {
	return func(o *serverOptions) { o.host = host }
}

func WithPort(port int) ServerOption {
	return func(o *serverOptions) { o.port = port }
}

// WithTimeouts overrides the non-zero values.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(o *serverOptions) {
		if read > 0 {
			o.readTimeout = read
		}
		if write > 0 {
			o.writeTimeout = write
		}
		if shutdown > 0 {
			o.shutdownTimeout = shutdown
		}
	}
}

// WithCORS sets the allowed origins. No origins turns CORS off.
func WithCORS(origins ...string) ServerOption {
	return func(o *serverOptions) { o.origins = origins }
}

func WithSlowRequest(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.slowRequest = d }
}

// WithMetrics toggles request metrics and the /metrics route. Nil registerer
// and gatherer mean the Prometheus defaults.
func WithMetrics(enabled bool, reg prometheus.Registerer, g prometheus.Gatherer) ServerOption {
	return func(o *serverOptions) {
		o.metrics = enabled
		o.registerer = reg
		o.gatherer = g
	}
}
