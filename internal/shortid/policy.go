package shortid

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abdusco/shorty/internal"
	"github.com/samber/lo"
)

const (
	MinAliasLength = 3
	MaxAliasLength = 50

	// NeverToken clears an expiration on update.
	NeverToken = "never"

	// MaxExpirationHours caps hours-from-now at 100 years. Larger values are
	// clamped so the duration cannot overflow.
	MaxExpirationHours = 100 * 365 * 24

	generatedLength = 8
	alphabet        = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ReservedVersion changes whenever the reserved set does.
const ReservedVersion = 2

// reserved mirrors the top-level route segments registered by the server.
var reserved = []string{
	"url", "user", "users", "login", "signup", "logout",
	"dashboard", "api", "admin", "analytics", "static",
	"health", "healthz", "metrics", "db-status",
	"qr", "preview", "links",
}

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func ReservedWords() []string {
	return append([]string(nil), reserved...)
}

func IsReserved(s string) bool {
	return lo.Contains(reserved, strings.ToLower(s))
}

// ValidateDestination reports whether raw is an absolute http or https URL.
func ValidateDestination(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// ValidateAlias runs the alias checks in order and reports the first failure.
func ValidateAlias(alias string) error {
	if !aliasPattern.MatchString(alias) {
		return internal.NewValidationError("alias can only contain letters, numbers, hyphens, and underscores")
	}
	if len(alias) < MinAliasLength {
		return internal.NewValidationError("alias must be at least %d characters long", MinAliasLength)
	}
	if len(alias) > MaxAliasLength {
		return internal.NewValidationError("alias must be at most %d characters long", MaxAliasLength)
	}
	if IsReserved(alias) {
		return internal.NewValidationError("alias %q is reserved", alias)
	}
	return nil
}

// Generate returns a random slug drawn from a 62-character alphabet.
func Generate() (string, error) {
	base := big.NewInt(int64(len(alphabet)))
	slug := make([]byte, generatedLength)
	for i := range slug {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		slug[i] = alphabet[n.Int64()]
	}
	return string(slug), nil
}

// ParseExpiration turns an hours-from-now value into an absolute time.
// Anything that is not a positive integer means no expiration.
// Values above MaxExpirationHours are clamped to it.
func ParseExpiration(hours string, now time.Time) *time.Time {
	n, ok := parseHours(hours)
	if !ok {
		return nil
	}
	t := now.Add(time.Duration(n) * time.Hour)
	return &t
}

func parseHours(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	if n <= 0 {
		return 0, false
	}
	return min(n, MaxExpirationHours), true
}

// IsNever reports whether an expiration update asks to clear the expiration.
func IsNever(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, NeverToken)
}

// ValidHours reports whether s is a positive whole number of hours.
func ValidHours(s string) bool {
	_, ok := parseHours(s)
	return ok
}

type SlugChecker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

type Policy struct {
	checker  SlugChecker
	generate func() (string, error)
}

func NewPolicy(checker SlugChecker) *Policy {
	return &Policy{checker: checker, generate: Generate}
}

// Allocate picks the slug for a new link. A supplied alias is validated and
// checked for uniqueness; a taken alias is ErrAliasTaken, never a retry.
// Generated slugs are not pre-checked: the store rejects duplicates on insert.
func (p *Policy) Allocate(ctx context.Context, customAlias string) (slug string, custom bool, err error) {
	alias := strings.TrimSpace(customAlias)
	if alias == "" {
		slug, err = p.generate()
		return slug, false, err
	}

	if err := ValidateAlias(alias); err != nil {
		return "", true, err
	}

	exists, err := p.checker.SlugExists(ctx, alias)
	if err != nil {
		return "", true, fmt.Errorf("failed to check alias: %w", err)
	}
	if exists {
		return "", true, internal.ErrAliasTaken
	}

	return alias, true, nil
}
