package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/abdusco/shorty/internal"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	cookieName   = "auth_token"
	userIDCtxKey = "auth.user_id"
)

var ErrUnauthorized = errors.New("unauthorized")

type Credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type UserStore interface {
	Create(ctx context.Context, user internal.User) (*internal.User, error)
	GetByEmail(ctx context.Context, email string) (*internal.User, error)
	GetByID(ctx context.Context, id string) (*internal.User, error)
}

type Authenticator struct {
	users     UserStore
	jwtSecret string
	now       func() time.Time
}

func NewAuthenticator(users UserStore, jwtSecret string) *Authenticator {
	return &Authenticator{users: users, jwtSecret: jwtSecret, now: time.Now}
}

// Signup registers a user with a bcrypt-hashed password.
func (a *Authenticator) Signup(ctx context.Context, name, email, password string) (*internal.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	return a.users.Create(ctx, internal.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    a.now(),
	})
}

// Authenticate checks credentials and returns the user with a fresh session cookie.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*internal.User, *http.Cookie, error) {
	user, err := a.users.GetByEmail(ctx, creds.Email)
	if errors.Is(err, internal.ErrUserNotFound) {
		return nil, nil, ErrUnauthorized
	}
	if err != nil {
		return nil, nil, err
	}

	ok, err := CheckPassword(user.PasswordHash, creds.Password)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrUnauthorized
	}

	cookie, err := a.generateCookie(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, cookie, nil
}

func (a *Authenticator) generateCookie(userID string) (*http.Cookie, error) {
	token, err := SignToken(userID, a.jwtSecret, a.now())
	if err != nil {
		return nil, err
	}

	cookie := &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(tokenExpiry.Seconds()),
	}
	return cookie, nil
}

// NewAuthMiddleware accepts a session cookie or HTTP basic auth
// (email:password) and stores the user ID on the echo context.
func NewAuthMiddleware(auther *Authenticator) echo.MiddlewareFunc {
	type authStrategy func(c echo.Context) (string, error)
	strategies := []authStrategy{
		auther.authWithCookie,
		auther.authWithBasicAuth,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, strategy := range strategies {
				userID, err := strategy(c)
				if err != nil {
					log.Debug().Err(err).Msg("auth strategy failed")
					continue
				}

				if userID != "" {
					c.Set(userIDCtxKey, userID)
					return next(c)
				}
			}
			return echo.ErrUnauthorized
		}
	}
}

func (a *Authenticator) authWithCookie(c echo.Context) (string, error) {
	cookie, err := c.Cookie(cookieName)
	if err != nil || cookie == nil || cookie.Value == "" {
		return "", nil
	}

	claims, err := ValidateToken(cookie.Value, a.jwtSecret)
	if err != nil {
		return "", err
	}

	// A valid token can outlive its account.
	if _, err := a.users.GetByID(c.Request().Context(), claims.Subject); err != nil {
		return "", fmt.Errorf("failed to load session user: %w", err)
	}

	refreshedCookie, err := a.generateCookie(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("failed to generate cookie: %w", err)
	}
	refreshedCookie.Secure = c.IsTLS()
	c.SetCookie(refreshedCookie)

	return claims.Subject, nil
}

func (a *Authenticator) authWithBasicAuth(c echo.Context) (string, error) {
	email, password, ok := c.Request().BasicAuth()
	if !ok {
		return "", nil
	}

	user, cookie, err := a.Authenticate(c.Request().Context(), Credentials{Email: email, Password: password})
	if err != nil {
		return "", err
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return user.ID, nil
}

// UserID returns the authenticated user's ID, or "" outside the middleware.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDCtxKey).(string)
	return id
}

func ExpireCookie() *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	}
}
