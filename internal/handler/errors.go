package handler

import (
	"errors"
	"net/http"

	"github.com/abdusco/shorty/internal"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// toHTTPError maps lifecycle errors onto HTTP responses. Anything unknown
// becomes a generic internal failure; ErrorHandler logs the cause.
func toHTTPError(c echo.Context, err error) error {
	var ve *internal.ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Reason)
	case errors.Is(err, internal.ErrAliasTaken):
		return echo.NewHTTPError(http.StatusConflict, "alias is already taken, please choose another one")
	case errors.Is(err, internal.ErrEmailTaken):
		return echo.NewHTTPError(http.StatusConflict, "email is already registered")
	case errors.Is(err, internal.ErrLinkNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "link not found")
	case errors.Is(err, internal.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "you can only change your own links")
	case errors.Is(err, internal.ErrUnauthenticated):
		return echo.ErrUnauthorized
	}

	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

// ErrorHandler renders every error as {"error": message}.
func ErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := "internal server error"

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	// Already rendered, e.g. by the request logger; this is the second call.
	if c.Response().Committed {
		return
	}

	event := log.Warn()
	if code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Int("code", code).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Err(err).
		Msg("http error")

	if c.Request().Method == http.MethodHead {
		c.NoContent(code)
		return
	}

	c.JSON(code, map[string]any{
		"error": message,
	})
}
