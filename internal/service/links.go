package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abdusco/shorty/internal"
	"github.com/abdusco/shorty/internal/repo"
	"github.com/abdusco/shorty/internal/shortid"
	"github.com/abdusco/shorty/internal/useragent"
	"github.com/rs/zerolog/log"
)

const maxGenerateAttempts = 5

type LinkStore interface {
	Create(ctx context.Context, link repo.NewLink) (*internal.Link, error)
	GetBySlug(ctx context.Context, slug string) (*internal.Link, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*internal.Link, error)
	Update(ctx context.Context, slug, ownerID string, patch repo.LinkPatch) (*internal.Link, error)
	Delete(ctx context.Context, slug, ownerID string) error
}

type VisitStore interface {
	Append(ctx context.Context, slug string, visit internal.Visit) (bool, error)
	ListByLink(ctx context.Context, linkID int64) ([]internal.Visit, error)
}

// Recorder receives lifecycle events, typically for metrics.
type Recorder interface {
	LinkCreated(custom bool)
	LinkResolved(preview bool)
	LinkExpiredHit()
	LinkUpdated()
	LinkDeleted()
}

type nopRecorder struct{}

func (nopRecorder) LinkCreated(bool)  {}
func (nopRecorder) LinkResolved(bool) {}
func (nopRecorder) LinkExpiredHit()   {}
func (nopRecorder) LinkUpdated()      {}
func (nopRecorder) LinkDeleted()      {}

type Option func(*LinkService)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *LinkService) { s.now = now }
}

func WithRecorder(r Recorder) Option {
	return func(s *LinkService) { s.recorder = r }
}

type LinkService struct {
	links    LinkStore
	visits   VisitStore
	policy   *shortid.Policy
	recorder Recorder
	now      func() time.Time
}

func NewLinkService(links LinkStore, visits VisitStore, opts ...Option) *LinkService {
	s := &LinkService{
		links:    links,
		visits:   visits,
		policy:   shortid.NewPolicy(links),
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateLinkInput struct {
	URL       string
	Alias     string
	ExpiresIn string
}

// UpdateLinkInput fields are optional. A nil ExpiresIn keeps the current
// expiration; "" or "never" clears it; a positive hour count sets it relative
// to now.
type UpdateLinkInput struct {
	URL       *string
	ExpiresIn *string
}

type VisitMeta struct {
	UserAgent string
	IPAddress string
	Referer   string
}

func (s *LinkService) Create(ctx context.Context, userID string, in CreateLinkInput) (*internal.Link, error) {
	if userID == "" {
		return nil, internal.ErrUnauthenticated
	}

	dest := strings.TrimSpace(in.URL)
	if dest == "" {
		return nil, internal.NewValidationError("url is required")
	}
	if !shortid.ValidateDestination(dest) {
		return nil, internal.NewValidationError("invalid url, expected an absolute http or https address (e.g. https://example.com)")
	}

	now := s.now()
	expiresAt := shortid.ParseExpiration(in.ExpiresIn, now)

	for attempt := 1; ; attempt++ {
		slug, custom, err := s.policy.Allocate(ctx, in.Alias)
		if err != nil {
			return nil, err
		}

		link, err := s.links.Create(ctx, repo.NewLink{
			Slug:      slug,
			URL:       dest,
			OwnerID:   userID,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		})
		if err == nil {
			s.recorder.LinkCreated(custom)
			log.Info().Str("slug", slug).Str("owner_id", userID).Bool("custom", custom).Msg("link created")
			return link, nil
		}

		// A custom alias lost the race to another request; report it.
		if custom || !errors.Is(err, internal.ErrAliasTaken) {
			return nil, err
		}
		if attempt == maxGenerateAttempts {
			return nil, fmt.Errorf("failed to allocate a free slug after %d attempts: %w", attempt, err)
		}
		log.Warn().Str("slug", slug).Int("attempt", attempt).Msg("generated slug collided, retrying")
	}
}

// Resolve returns the destination for slug. Unless preview is set, a visit is
// recorded. Expired links yield *internal.ExpiredError and record nothing.
func (s *LinkService) Resolve(ctx context.Context, slug string, preview bool, meta VisitMeta) (*internal.Resolution, error) {
	link, err := s.links.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if link.ExpiredAt(now) {
		s.recorder.LinkExpiredHit()
		log.Debug().Str("slug", slug).Time("expired_at", *link.ExpiresAt).Msg("link expired")
		return nil, &internal.ExpiredError{At: *link.ExpiresAt}
	}

	res := &internal.Resolution{
		Slug:      link.Slug,
		URL:       link.URL,
		ExpiresAt: link.ExpiresAt,
	}

	if preview {
		s.recorder.LinkResolved(true)
		return res, nil
	}

	ok, err := s.visits.Append(ctx, slug, internal.Visit{
		VisitedAt: now,
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		Referer:   meta.Referer,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// deleted between lookup and append
		return nil, internal.ErrLinkNotFound
	}

	res.Recorded = true
	s.recorder.LinkResolved(false)
	return res, nil
}

func (s *LinkService) Update(ctx context.Context, userID, slug string, in UpdateLinkInput) (*internal.Link, error) {
	link, err := s.ownedLink(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	patch := repo.LinkPatch{
		URL:       link.URL,
		ExpiresAt: link.ExpiresAt,
	}

	if in.URL != nil && strings.TrimSpace(*in.URL) != "" {
		dest := strings.TrimSpace(*in.URL)
		if !shortid.ValidateDestination(dest) {
			return nil, internal.NewValidationError("invalid url, expected an absolute http or https address")
		}
		patch.URL = dest
	}

	if in.ExpiresIn != nil {
		switch {
		case shortid.IsNever(*in.ExpiresIn):
			patch.ExpiresAt = nil
		case shortid.ValidHours(*in.ExpiresIn):
			patch.ExpiresAt = shortid.ParseExpiration(*in.ExpiresIn, s.now())
		default:
			log.Debug().Str("slug", slug).Str("expires_in", *in.ExpiresIn).Msg("ignoring unusable expiration")
		}
	}

	updated, err := s.links.Update(ctx, slug, userID, patch)
	if err != nil {
		return nil, err
	}

	s.recorder.LinkUpdated()
	log.Info().Str("slug", slug).Str("owner_id", userID).Msg("link updated")
	return updated, nil
}

func (s *LinkService) Delete(ctx context.Context, userID, slug string) error {
	if _, err := s.ownedLink(ctx, userID, slug); err != nil {
		return err
	}

	if err := s.links.Delete(ctx, slug, userID); err != nil {
		return err
	}

	s.recorder.LinkDeleted()
	log.Info().Str("slug", slug).Str("owner_id", userID).Msg("link deleted")
	return nil
}

func (s *LinkService) List(ctx context.Context, userID string) ([]*internal.Link, error) {
	if userID == "" {
		return nil, internal.ErrUnauthenticated
	}
	return s.links.ListByOwner(ctx, userID)
}

// Get returns a link regardless of its expiration.
func (s *LinkService) Get(ctx context.Context, slug string) (*internal.Link, error) {
	return s.links.GetBySlug(ctx, slug)
}

// Analytics returns the raw visit log of a link in recorded order.
func (s *LinkService) Analytics(ctx context.Context, slug string) (*internal.Analytics, error) {
	link, err := s.links.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	events, err := s.visits.ListByLink(ctx, link.ID)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Device = useragent.Describe(events[i].UserAgent)
	}

	return &internal.Analytics{
		Slug:        link.Slug,
		TotalClicks: len(events),
		Events:      events,
	}, nil
}

func (s *LinkService) ownedLink(ctx context.Context, userID, slug string) (*internal.Link, error) {
	if userID == "" {
		return nil, internal.ErrUnauthenticated
	}

	link, err := s.links.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	if !link.OwnedBy(userID) {
		log.Warn().Str("slug", slug).Str("user_id", userID).Msg("refusing access to link owned by another user")
		return nil, internal.ErrForbidden
	}

	return link, nil
}
