package ratelimit

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// failureStore keeps one bucket per IP. Buckets are only drawn from after a
// failed request, so successful ones never count against the client.
type failureStore struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	expiresIn time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newFailureStore(p Policy) *failureStore {
	return &failureStore{
		visitors:  make(map[string]*visitor),
		limit:     rate.Every(p.Window / time.Duration(p.Limit)),
		burst:     p.Limit,
		expiresIn: p.Window,
		now:       time.Now,
	}
}

func (s *failureStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > s.expiresIn {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > s.expiresIn {
				delete(s.visitors, k)
			}
		}
		s.lastSweep = now
	}

	v, ok := s.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func failureMiddleware(p Policy) echo.MiddlewareFunc {
	store := newFailureStore(p)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			limiter := store.get(ip)

			if limiter.Tokens() < 1 {
				log.Warn().Str("policy", p.Name).Str("ip", ip).Msg("rate limit exceeded")
				return echo.NewHTTPError(http.StatusTooManyRequests, p.Message)
			}

			err := next(c)
			if responseStatus(c, err) >= http.StatusBadRequest {
				limiter.Allow()
			}
			return err
		}
	}
}

// responseStatus is the status the client will see. Returned errors are
// rendered later by the error handler, so their code wins over the recorder.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return http.StatusInternalServerError
}
