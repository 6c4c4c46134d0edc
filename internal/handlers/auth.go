// Package handlers provides HTTP API handlers for the ClipVault server.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clipvault/clipvault/internal/auth"
	"github.com/clipvault/clipvault/internal/users"
)

// AuthHandler serves /auth/login and /auth/proxy and issues JWTs.
type AuthHandler struct {
	userService *users.Service
	verifier    *auth.TokenVerifier
	jwtSecret   string
	expiresIn   time.Duration
	logger      *slog.Logger
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is the success body (access_token, user info, expires_at).
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// NewAuthHandler creates an auth handler with user service and JWT config.
// The verifier may be nil when no identity proxy is configured.
func NewAuthHandler(log *slog.Logger, userService *users.Service, verifier *auth.TokenVerifier, jwtSecret string, expiresIn time.Duration) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		verifier:    verifier,
		jwtSecret:   jwtSecret,
		expiresIn:   expiresIn,
		logger:      log.With(slog.String("handler", "auth")),
	}
}

// Register mounts auth endpoints on the Echo instance.
func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
	e.POST("/auth/proxy", h.ProxyLogin)
}

// Login godoc
// @Summary Login
// @Description Validate user credentials and issue a JWT
// @Tags auth
// @Param payload body LoginRequest true "Login request"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /auth/login [post].
func (h *AuthHandler) Login(c echo.Context) error {
	if strings.TrimSpace(h.jwtSecret) == "" {
		return echo.NewHTTPError(http.StatusInternalServerError, "jwt secret not configured")
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || strings.TrimSpace(req.Password) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}

	user, err := h.userService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		if errors.Is(err, users.ErrInactive) {
			return echo.NewHTTPError(http.StatusUnauthorized, "user is inactive")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	token, expiresAt, err := auth.GenerateToken(user.ID, user.Role, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		UserID:      user.ID,
		Role:        user.Role,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	})
}

// ProxyLogin godoc
// @Summary Exchange an identity-proxy token
// @Description Verify an RS256 token from the identity proxy and issue a local JWT
// @Tags auth
// @Success 200 {object} LoginResponse
// @Failure 401 {object} ErrorResponse
// @Failure 501 {object} ErrorResponse
// @Router /auth/proxy [post].
func (h *AuthHandler) ProxyLogin(c echo.Context) error {
	if h.verifier == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "identity proxy not configured")
	}

	raw := strings.TrimSpace(strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer"))
	if raw == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing proxy token")
	}

	identity, err := h.verifier.Verify(c.Request().Context(), raw)
	if err != nil {
		h.logger.Warn("proxy token rejected", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid proxy token")
	}

	user, err := h.userService.EnsureBySubject(c.Request().Context(), identity.Subject, identity.Email, identity.Name)
	if err != nil {
		if errors.Is(err, users.ErrInactive) {
			return echo.NewHTTPError(http.StatusUnauthorized, "user is inactive")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	token, expiresAt, err := auth.GenerateToken(user.ID, user.Role, h.jwtSecret, h.expiresIn)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.Format(time.RFC3339),
		UserID:      user.ID,
		Role:        user.Role,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	})
}
