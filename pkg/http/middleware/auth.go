package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// UserIDKey is the echo context key holding the authenticated user id.
const UserIDKey = "user_id"

// TokenParser validates a bearer token and returns the user id it carries.
type TokenParser func(token string) (string, error)

// Auth rejects requests without a valid "Authorization: Bearer" token with
// 401. Accepted requests carry the user id under UserIDKey.
func Auth(parse TokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				return unauthorized(c, "No token, authorization denied")
			}
			uid, err := parse(strings.TrimSpace(token))
			if err != nil {
				return unauthorized(c, "Token is not valid")
			}
			c.Set(UserIDKey, uid)
			return next(c)
		}
	}
}

// UserID returns the id set by Auth, or "" on public routes.
func UserID(c echo.Context) string {
	uid, _ := c.Get(UserIDKey).(string)
	return uid
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"status":  http.StatusUnauthorized,
		"message": http.StatusText(http.StatusUnauthorized),
		"data":    msg,
	})
}
