package handler

import (
	"github.com/abdusco/shorty/internal/ratelimit"
	"github.com/labstack/echo/v4"
)

// Routes holds what the route table needs. Metrics and Health are optional;
// a nil Limit disables rate limiting.
type Routes struct {
	Links       *LinkHandler
	Auth        *AuthHandler
	RequireUser echo.MiddlewareFunc
	Limit       func(p ratelimit.Policy) echo.MiddlewareFunc
	Metrics     echo.HandlerFunc
	Health      echo.HandlerFunc
}

// Register mounts every route. Top-level segments must stay in sync with
// shortid's reserved words.
func Register(e *echo.Echo, r Routes) {
	limit := r.Limit
	if limit == nil {
		limit = func(ratelimit.Policy) echo.MiddlewareFunc {
			return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
		}
	}

	e.POST("/signup", r.Auth.Signup, limit(ratelimit.Auth))
	e.POST("/login", r.Auth.Login, limit(ratelimit.Auth))
	e.GET("/logout", r.Auth.Logout)

	api := e.Group("/api", limit(ratelimit.API), r.RequireUser)
	api.POST("/links", r.Links.CreateLink, limit(ratelimit.LinkCreation))
	api.GET("/links", r.Links.ListLinks)
	api.PATCH("/links/:slug", r.Links.UpdateLink)
	api.DELETE("/links/:slug", r.Links.DeleteLink)
	api.GET("/analytics/:slug", r.Links.Analytics)

	e.GET("/qr/:slug", r.Links.QRCode, limit(ratelimit.QRCode))
	e.GET("/preview/:slug", r.Links.Preview)

	if r.Metrics != nil {
		e.GET("/metrics", r.Metrics)
	}
	if r.Health != nil {
		e.GET("/health", r.Health)
	}

	// Parameterized route (must be last)
	e.GET("/:slug", r.Links.Redirect)
}
