package api

import (
	"github.com/labstack/echo/v4"

	"SignalLab/internal/domain/models"
	"SignalLab/internal/usecase"
	xhttp "SignalLab/pkg/http"
	"SignalLab/pkg/http/middleware"
	"SignalLab/pkg/logger"
)

// TrainAccepted is the body of a 202 answer to a train request. Completion
// is observed by polling the status route.
type TrainAccepted struct {
	Message string        `json:"message"`
	ModelID string        `json:"modelId"`
	Status  models.Status `json:"status"`
	JobID   string        `json:"jobId,omitempty"`
}

// ModelsHandler serves model CRUD, training and signals. Every route
// requires a token and only sees the caller's models.
type ModelsHandler struct {
	models   *usecase.ModelService
	training *usecase.TrainingService
	signals  *usecase.SignalService
	auth     echo.MiddlewareFunc
	logger   *logger.Logger
}

func NewModelsHandler(
	modelSvc *usecase.ModelService,
	training *usecase.TrainingService,
	signals *usecase.SignalService,
	auth echo.MiddlewareFunc,
	lgr *logger.Logger,
) *ModelsHandler {
	return &ModelsHandler{
		models:   modelSvc,
		training: training,
		signals:  signals,
		auth:     auth,
		logger:   lgr.With(logger.String("handler", "models")),
	}
}

func (h *ModelsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/models", h.auth)
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.POST("/:id/train", h.Train)
	g.GET("/:id/status", h.Status)
	g.POST("/:id/signal", h.Signal)
	g.GET("/:id/signals", h.Signals)
}

func (h *ModelsHandler) List(c echo.Context) error {
	list, err := h.models.List(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return respond(c, h.logger, "list models", err)
	}
	return xhttp.SuccessResponse(c, list)
}

func (h *ModelsHandler) Create(c echo.Context) error {
	req := &models.CreateModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	m, err := h.models.Create(c.Request().Context(), middleware.UserID(c), *req)
	if err != nil {
		return respond(c, h.logger, "create model", err)
	}
	return xhttp.CreatedResponse(c, m)
}

func (h *ModelsHandler) Get(c echo.Context) error {
	m, err := h.models.Get(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return respond(c, h.logger, "get model", err)
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *ModelsHandler) Update(c echo.Context) error {
	req := &models.UpdateModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	m, err := h.models.Update(c.Request().Context(), middleware.UserID(c), c.Param("id"), *req)
	if err != nil {
		return respond(c, h.logger, "update model", err)
	}
	return xhttp.SuccessResponse(c, m)
}

func (h *ModelsHandler) Delete(c echo.Context) error {
	if err := h.models.Delete(c.Request().Context(), middleware.UserID(c), c.Param("id")); err != nil {
		return respond(c, h.logger, "delete model", err)
	}
	return xhttp.SuccessResponse(c, map[string]string{"message": "Model removed"})
}

// Train answers 202 as soon as the job is queued.
func (h *ModelsHandler) Train(c echo.Context) error {
	req := &models.TrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	m, handle, err := h.training.Request(c.Request().Context(), middleware.UserID(c), c.Param("id"), *req)
	if err != nil {
		return respond(c, h.logger, "train model", err)
	}
	return xhttp.AcceptedResponse(c, TrainAccepted{
		Message: "Model training started",
		ModelID: m.ID,
		Status:  m.Status,
		JobID:   handle.ID,
	})
}

func (h *ModelsHandler) Status(c echo.Context) error {
	v, err := h.models.Status(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return respond(c, h.logger, "model status", err)
	}
	return xhttp.SuccessResponse(c, v)
}

func (h *ModelsHandler) Signal(c echo.Context) error {
	req := &models.SignalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	sig, err := h.signals.Generate(c.Request().Context(), middleware.UserID(c), c.Param("id"), *req)
	if err != nil {
		return respond(c, h.logger, "generate signal", err)
	}
	return xhttp.CreatedResponse(c, sig)
}

func (h *ModelsHandler) Signals(c echo.Context) error {
	list, err := h.signals.List(c.Request().Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		return respond(c, h.logger, "list signals", err)
	}
	return xhttp.SuccessResponse(c, list)
}
