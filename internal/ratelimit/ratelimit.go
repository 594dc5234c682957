package ratelimit

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Policy allows Limit requests per Window for each client IP. With
// FailuresOnly set, only responses with status >= 400 use up the allowance.
type Policy struct {
	Name         string
	Limit        int
	Window       time.Duration
	Message      string
	FailuresOnly bool
}

var (
	API = Policy{
		Name:    "api",
		Limit:   100,
		Window:  15 * time.Minute,
		Message: "too many requests, please try again later",
	}
	LinkCreation = Policy{
		Name:    "link_creation",
		Limit:   20,
		Window:  time.Hour,
		Message: "rate limit exceeded, you can only create 20 short links per hour",
	}
	Auth = Policy{
		Name:         "auth",
		Limit:        5,
		Window:       15 * time.Minute,
		Message:      "too many authentication attempts, please try again later",
		FailuresOnly: true,
	}
	QRCode = Policy{
		Name:    "qr_code",
		Limit:   50,
		Window:  time.Hour,
		Message: "too many QR codes generated, please try again later",
	}
)

// Middleware enforces p with a token bucket per client IP that refills
// evenly over the window.
func Middleware(p Policy) echo.MiddlewareFunc {
	if p.FailuresOnly {
		return failureMiddleware(p)
	}

	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Every(p.Window / time.Duration(p.Limit)),
		Burst:     p.Limit,
		ExpiresIn: p.Window,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			log.Warn().Str("policy", p.Name).Str("ip", identifier).Msg("rate limit exceeded")
			return echo.NewHTTPError(http.StatusTooManyRequests, p.Message)
		},
	})
}
