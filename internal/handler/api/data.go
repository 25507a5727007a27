package api

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"SignalLab/internal/domain/models"
	"SignalLab/internal/service/marketdata"
	"SignalLab/internal/service/ratelimit"
	"SignalLab/internal/usecase"
	xhttp "SignalLab/pkg/http"
	"SignalLab/pkg/http/middleware"
	"SignalLab/pkg/logger"
)

// RateBudget is a per-user token bucket for the market data routes.
type RateBudget struct {
	Burst  float64
	PerSec float64
}

// DataHandler serves market data through the cache and the signal history.
type DataHandler struct {
	prices  *marketdata.Cache
	signals *usecase.SignalService
	auth    echo.MiddlewareFunc
	limiter *ratelimit.Limiter
	budget  RateBudget
	logger  *logger.Logger
}

func NewDataHandler(
	prices *marketdata.Cache,
	signals *usecase.SignalService,
	auth echo.MiddlewareFunc,
	limiter *ratelimit.Limiter,
	budget RateBudget,
	lgr *logger.Logger,
) *DataHandler {
	return &DataHandler{
		prices:  prices,
		signals: signals,
		auth:    auth,
		limiter: limiter,
		budget:  budget,
		logger:  lgr.With(logger.String("handler", "data")),
	}
}

func (h *DataHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/data", h.auth)
	g.GET("/price", h.Price)
	g.GET("/signals/history", h.SignalHistory)
}

// Price returns the upstream payload for symbol unchanged.
func (h *DataHandler) Price(c echo.Context) error {
	req := &models.PriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	if !h.allow(c, "price") {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("Too many requests, try again later"))
	}

	kind, err := marketdata.ParseKind(req.Kind)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	}

	payload, err := h.prices.Get(c.Request().Context(), req.Symbol, kind)
	if err != nil {
		return respond(c, h.logger, "price", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, payload)
}

// SignalHistory reads the analytical store for one symbol. from and to
// default to the last 30 days.
func (h *DataHandler) SignalHistory(c echo.Context) error {
	req := &models.SignalHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	if !h.allow(c, "history") {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("Too many requests, try again later"))
	}
	now := time.Now().UTC()
	to := xhttp.QueryTime(c, "to", now)
	from := xhttp.QueryTime(c, "from", to.AddDate(0, 0, -30))
	if !from.Before(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be before to"))
	}

	list, err := h.signals.History(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		return respond(c, h.logger, "signal history", err)
	}
	return xhttp.ListResponse(c, list, int64(len(list)))
}

func (h *DataHandler) allow(c echo.Context, route string) bool {
	if h.limiter == nil || h.budget.Burst <= 0 {
		return true
	}
	key := middleware.UserID(c)
	if key == "" {
		key = c.RealIP()
	}
	ok, wait := h.limiter.Reserve(key+":"+route, h.budget.Burst, h.budget.PerSec)
	if !ok && wait > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	return ok
}
