package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clipvault/clipvault/internal/auth"
	"github.com/clipvault/clipvault/internal/users"
)

// UsersHandler serves user account endpoints.
type UsersHandler struct {
	userService *users.Service
	logger      *slog.Logger
}

// NewUsersHandler creates a users handler.
func NewUsersHandler(log *slog.Logger, userService *users.Service) *UsersHandler {
	return &UsersHandler{
		userService: userService,
		logger:      log.With(slog.String("handler", "users")),
	}
}

// Register mounts user endpoints on the Echo instance.
func (h *UsersHandler) Register(e *echo.Echo) {
	e.GET("/users/me", h.GetMe)
}

// GetMe godoc
// @Summary Current user
// @Description Return the authenticated user's account
// @Tags users
// @Success 200 {object} users.User
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /users/me [get].
func (h *UsersHandler) GetMe(c echo.Context) error {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication")
	}
	user, err := h.userService.Get(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, user)
}
