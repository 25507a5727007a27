package api

import (
	"github.com/labstack/echo/v4"

	"SignalLab/internal/domain/models"
	"SignalLab/internal/usecase"
	xhttp "SignalLab/pkg/http"
	"SignalLab/pkg/logger"
)

type AuthHandler struct {
	auth   *usecase.AuthService
	logger *logger.Logger
}

func NewAuthHandler(auth *usecase.AuthService, lgr *logger.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: lgr.With(logger.String("handler", "auth"))}
}

func (h *AuthHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/auth")
	g.POST("/signup", h.Signup)
	g.POST("/login", h.Login)
}

func (h *AuthHandler) Signup(c echo.Context) error {
	req := &models.SignupRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	res, err := h.auth.Signup(c.Request().Context(), *req)
	if err != nil {
		return respond(c, h.logger, "signup", err)
	}
	h.logger.Info("user signed up", logger.String("user_id", res.User.ID))
	return xhttp.CreatedResponse(c, res)
}

func (h *AuthHandler) Login(c echo.Context) error {
	req := &models.LoginRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.ValidationErrorResponse(c, verr)
	}
	res, err := h.auth.Login(c.Request().Context(), *req)
	if err != nil {
		return respond(c, h.logger, "login", err)
	}
	return xhttp.SuccessResponse(c, res)
}
