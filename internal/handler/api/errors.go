package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"SignalLab/internal/domain/models"
	"SignalLab/internal/service/fmp"
	"SignalLab/internal/service/marketdata"
	"SignalLab/internal/service/worker"
	"SignalLab/internal/usecase"
	xhttp "SignalLab/pkg/http"
	"SignalLab/pkg/logger"
	"SignalLab/pkg/queue"
)

// toAppError maps domain errors onto HTTP errors. Unknown errors come back
// nil and are rendered as 500.
func toAppError(err error) *xhttp.AppError {
	var (
		pe *models.PreconditionError
		wf *worker.Failure
		ue *marketdata.UpstreamError
	)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError("Model not found").WithError(err)
	case errors.Is(err, models.ErrTrainingInProgress), errors.Is(err, models.ErrStatusConflict):
		return xhttp.ConflictError(models.ErrTrainingInProgress.Reason).WithError(err)
	case errors.As(err, &pe):
		return xhttp.BadRequestError(pe.Reason).WithError(err)
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, usecase.ErrSignalBusy), errors.Is(err, fmp.ErrRateLimited):
		return xhttp.TooManyRequestsError("Too many requests, try again later").WithError(err)
	case errors.As(err, &wf):
		return xhttp.BadGatewayError(wf.Reason).
			WithParam("role", string(wf.Role)).
			WithError(err)
	case errors.As(err, &ue):
		return xhttp.BadGatewayError("Market data provider unavailable").
			WithParam("symbol", ue.Symbol).
			WithError(err)
	case errors.Is(err, usecase.ErrInvalidCredentials):
		return xhttp.UnauthorizedError("Invalid credentials").WithError(err)
	case errors.Is(err, usecase.ErrEmailTaken):
		return xhttp.ConflictError("User already exists").WithError(err)
	case errors.Is(err, usecase.ErrHistoryDisabled):
		return xhttp.ServiceUnavailableError("Signal history is not enabled").WithError(err)
	}
	return nil
}

// respond writes err as an envelope. Unmapped errors are logged because
// their text never reaches the client.
func respond(c echo.Context, l *logger.Logger, op string, err error) error {
	if ae := toAppError(err); ae != nil {
		if ae.Status >= 500 {
			l.Warn(op+" failed", logger.Int("status", ae.Status), logger.Error(err))
		}
		return xhttp.AppErrorResponse(c, ae)
	}
	l.Error(op+" failed", logger.Error(err))
	return xhttp.InternalServerErrorResponse(c)
}
