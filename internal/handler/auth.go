package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/abdusco/shorty/internal"
	"github.com/abdusco/shorty/internal/auth"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type Authenticator interface {
	Signup(ctx context.Context, name, email, password string) (*internal.User, error)
	Authenticate(ctx context.Context, creds auth.Credentials) (*internal.User, *http.Cookie, error)
}

type AuthHandler struct {
	auther Authenticator
}

func NewAuthHandler(auther Authenticator) *AuthHandler {
	return &AuthHandler{auther: auther}
}

type UserEnvelope struct {
	User *internal.User `json:"user"`
}

// Signup handles POST /signup
func (h *AuthHandler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := h.auther.Signup(c.Request().Context(), req.Name, req.Email, req.Password)
	if err != nil {
		return toHTTPError(c, err)
	}

	log.Info().Str("user_id", user.ID).Msg("user signed up")
	return c.JSON(http.StatusCreated, UserEnvelope{User: user})
}

// Login handles POST /login - validates credentials and sets JWT cookie
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, cookie, err := h.auther.Authenticate(c.Request().Context(), auth.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if errors.Is(err, auth.ErrUnauthorized) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return toHTTPError(c, err)
	}

	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return c.JSON(http.StatusOK, UserEnvelope{User: user})
}

// Logout handles GET /logout - clears the JWT cookie and redirects to /
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(auth.ExpireCookie())
	return c.Redirect(http.StatusFound, "/")
}
