package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abdusco/shorty/internal"
	"github.com/abdusco/shorty/internal/db"
	"github.com/abdusco/shorty/internal/repo"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *LinkService
	links  *repo.LinksRepo
	visits *repo.VisitsRepo
	clock  *fakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	conn, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	links := repo.NewLinksRepo(conn)
	visits := repo.NewVisitsRepo(conn)
	opts = append([]Option{WithClock(clock.Now)}, opts...)

	return &fixture{
		svc:    NewLinkService(links, visits, opts...),
		links:  links,
		visits: visits,
		clock:  clock,
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("requires a user", func(t *testing.T) {
		_, err := f.svc.Create(ctx, "", CreateLinkInput{URL: "https://example.com"})
		assert.ErrorIs(t, err, internal.ErrUnauthenticated)
	})

	t.Run("requires a url", func(t *testing.T) {
		_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "  "})
		var ve *internal.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "url is required", ve.Reason)
	})

	t.Run("rejects non-http destinations", func(t *testing.T) {
		for _, u := range []string{"ftp://example.com", "javascript:alert(1)", "not a url"} {
			_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: u})
			assert.True(t, internal.IsValidationError(err), u)
		}
		all, err := f.links.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("generates a slug and no expiration by default", func(t *testing.T) {
		link, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com"})
		require.NoError(t, err)
		assert.Len(t, link.Slug, 8)
		assert.Equal(t, "alice", link.OwnerID)
		assert.Nil(t, link.ExpiresAt)
	})

	t.Run("custom alias with expiration", func(t *testing.T) {
		link, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: " promo1 ", ExpiresIn: "2"})
		require.NoError(t, err)
		assert.Equal(t, "promo1", link.Slug)
		require.NotNil(t, link.ExpiresAt)
		assert.True(t, f.clock.Now().Add(2*time.Hour).Equal(*link.ExpiresAt))
	})

	t.Run("bad expiration means never", func(t *testing.T) {
		link, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", ExpiresIn: "soon"})
		require.NoError(t, err)
		assert.Nil(t, link.ExpiresAt)
	})

	t.Run("reserved alias is a validation error", func(t *testing.T) {
		_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "Admin"})
		assert.True(t, internal.IsValidationError(err))
	})
}

func TestCreateDuplicateAliasConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "promo1"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, "bob", CreateLinkInput{URL: "https://bob.example.com", Alias: "promo1"})
	require.ErrorIs(t, err, internal.ErrAliasTaken)
	assert.False(t, internal.IsValidationError(err))

	all, err := f.links.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice", all[0].OwnerID)
}

// collidingStore fails the first n inserts as if the generated slug were taken.
type collidingStore struct {
	*repo.LinksRepo
	remaining int
	attempts  []string
}

func (c *collidingStore) Create(ctx context.Context, link repo.NewLink) (*internal.Link, error) {
	c.attempts = append(c.attempts, link.Slug)
	if c.remaining > 0 {
		c.remaining--
		return nil, internal.ErrAliasTaken
	}
	return c.LinksRepo.Create(ctx, link)
}

func TestCreateRetriesGeneratedCollisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	store := &collidingStore{LinksRepo: f.links, remaining: 2}
	svc := NewLinkService(store, f.visits)

	link, err := svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Len(t, store.attempts, 3)
	assert.Equal(t, store.attempts[2], link.Slug)

	store.remaining = maxGenerateAttempts
	_, err = svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com"})
	assert.ErrorIs(t, err, internal.ErrAliasTaken)
}

func TestCreateDoesNotRetryCustomAliasRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	store := &collidingStore{LinksRepo: f.links, remaining: 1}
	svc := NewLinkService(store, f.visits)

	_, err := svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "promo1"})
	assert.ErrorIs(t, err, internal.ErrAliasTaken)
	assert.Len(t, store.attempts, 1)
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "promo1", ExpiresIn: "1"})
	require.NoError(t, err)

	t.Run("missing slug", func(t *testing.T) {
		_, err := f.svc.Resolve(ctx, "ghost", false, VisitMeta{})
		assert.ErrorIs(t, err, internal.ErrLinkNotFound)
	})

	t.Run("preview records nothing", func(t *testing.T) {
		res, err := f.svc.Resolve(ctx, "promo1", true, VisitMeta{})
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", res.URL)
		assert.False(t, res.Recorded)

		analytics, err := f.svc.Analytics(ctx, "promo1")
		require.NoError(t, err)
		assert.Zero(t, analytics.TotalClicks)
	})

	t.Run("records a visit with metadata", func(t *testing.T) {
		res, err := f.svc.Resolve(ctx, "promo1", false, VisitMeta{UserAgent: "ua", IPAddress: "1.2.3.4"})
		require.NoError(t, err)
		assert.True(t, res.Recorded)

		analytics, err := f.svc.Analytics(ctx, "promo1")
		require.NoError(t, err)
		require.Equal(t, 1, analytics.TotalClicks)
		assert.Equal(t, "ua", analytics.Events[0].UserAgent)
		assert.True(t, f.clock.Now().Equal(analytics.Events[0].VisitedAt))
	})

	t.Run("expired link records nothing, even in preview", func(t *testing.T) {
		f.clock.Advance(time.Hour + time.Second)

		for _, preview := range []bool{false, true} {
			_, err := f.svc.Resolve(ctx, "promo1", preview, VisitMeta{})
			var expired *internal.ExpiredError
			require.ErrorAs(t, err, &expired)
			assert.ErrorIs(t, err, internal.ErrExpired)
		}

		analytics, err := f.svc.Analytics(ctx, "promo1")
		require.NoError(t, err)
		assert.Equal(t, 1, analytics.TotalClicks)
	})
}

func TestResolveAtExactExpirationStillResolves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "edge", ExpiresIn: "1"})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Resolve(ctx, "edge", false, VisitMeta{})
	assert.NoError(t, err)
}

func TestHugeExpirationKeepsLinkActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	link, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "forever", ExpiresIn: "3000000"})
	require.NoError(t, err)
	require.NotNil(t, link.ExpiresAt)
	assert.True(t, link.ExpiresAt.After(f.clock.Now()))

	_, err = f.svc.Resolve(ctx, "forever", false, VisitMeta{})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "extend"})
	require.NoError(t, err)
	updated, err := f.svc.Update(ctx, "alice", "extend", UpdateLinkInput{ExpiresIn: lo.ToPtr("5124095")})
	require.NoError(t, err)
	require.NotNil(t, updated.ExpiresAt)
	assert.True(t, updated.ExpiresAt.After(f.clock.Now()))

	_, err = f.svc.Resolve(ctx, "extend", false, VisitMeta{})
	assert.NoError(t, err)
}

func TestConcurrentResolutionsRecordEveryVisit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "popular"})
	require.NoError(t, err)

	const n = 40
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Resolve(ctx, "popular", false, VisitMeta{})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	analytics, err := f.svc.Analytics(ctx, "popular")
	require.NoError(t, err)
	assert.Equal(t, n, analytics.TotalClicks)
	assert.Len(t, analytics.Events, n)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "promo1", ExpiresIn: "5"})
	require.NoError(t, err)
	original, err := f.links.GetBySlug(ctx, "promo1")
	require.NoError(t, err)

	t.Run("missing link", func(t *testing.T) {
		_, err := f.svc.Update(ctx, "alice", "ghost", UpdateLinkInput{URL: lo.ToPtr("https://x.example.com")})
		assert.ErrorIs(t, err, internal.ErrLinkNotFound)
	})

	t.Run("non-owner is forbidden and nothing changes", func(t *testing.T) {
		_, err := f.svc.Update(ctx, "bob", "promo1", UpdateLinkInput{URL: lo.ToPtr("https://bob.example.com"), ExpiresIn: lo.ToPtr("never")})
		assert.ErrorIs(t, err, internal.ErrForbidden)

		current, err := f.links.GetBySlug(ctx, "promo1")
		require.NoError(t, err)
		assert.Equal(t, original.URL, current.URL)
		assert.Equal(t, original.ExpiresAt, current.ExpiresAt)
	})

	t.Run("invalid url rejects the whole update", func(t *testing.T) {
		_, err := f.svc.Update(ctx, "alice", "promo1", UpdateLinkInput{URL: lo.ToPtr("ftp://example.com"), ExpiresIn: lo.ToPtr("never")})
		assert.True(t, internal.IsValidationError(err))

		current, err := f.links.GetBySlug(ctx, "promo1")
		require.NoError(t, err)
		assert.Equal(t, original.URL, current.URL)
		assert.NotNil(t, current.ExpiresAt)
	})

	t.Run("absent expiration keeps the existing one", func(t *testing.T) {
		updated, err := f.svc.Update(ctx, "alice", "promo1", UpdateLinkInput{URL: lo.ToPtr("https://new.example.com")})
		require.NoError(t, err)
		assert.Equal(t, "https://new.example.com", updated.URL)
		require.NotNil(t, updated.ExpiresAt)
		assert.True(t, original.ExpiresAt.Equal(*updated.ExpiresAt))
	})

	t.Run("hours are relative to now, not creation", func(t *testing.T) {
		f.clock.Advance(3 * time.Hour)
		updated, err := f.svc.Update(ctx, "alice", "promo1", UpdateLinkInput{ExpiresIn: lo.ToPtr("1")})
		require.NoError(t, err)
		require.NotNil(t, updated.ExpiresAt)
		assert.True(t, f.clock.Now().Add(time.Hour).Equal(*updated.ExpiresAt))
		assert.Equal(t, "https://new.example.com", updated.URL)
	})

	t.Run("unparseable hours keep the existing expiration", func(t *testing.T) {
		before, err := f.links.GetBySlug(ctx, "promo1")
		require.NoError(t, err)

		updated, err := f.svc.Update(ctx, "alice", "promo1", UpdateLinkInput{ExpiresIn: lo.ToPtr("-2")})
		require.NoError(t, err)
		assert.Equal(t, before.ExpiresAt, updated.ExpiresAt)
	})

	t.Run("empty string clears expiration", func(t *testing.T) {
		updated, err := f.svc.Update(ctx, "alice", "promo1", UpdateLinkInput{ExpiresIn: lo.ToPtr("")})
		require.NoError(t, err)
		assert.Nil(t, updated.ExpiresAt)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "promo1"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Delete(ctx, "alice", "ghost"), internal.ErrLinkNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "bob", "promo1"), internal.ErrForbidden)

	_, err = f.links.GetBySlug(ctx, "promo1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "alice", "promo1"))

	_, err = f.svc.Resolve(ctx, "promo1", false, VisitMeta{})
	assert.ErrorIs(t, err, internal.ErrLinkNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, alias := range []string{"one", "two"} {
		_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: alias})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	_, err := f.svc.Create(ctx, "bob", CreateLinkInput{URL: "https://example.com", Alias: "three"})
	require.NoError(t, err)

	links, err := f.svc.List(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "one"}, lo.Map(links, func(l *internal.Link, _ int) string { return l.Slug }))

	_, err = f.svc.List(ctx, "")
	assert.ErrorIs(t, err, internal.ErrUnauthenticated)
}

func TestAnalyticsMissingSlug(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Analytics(context.Background(), "ghost")
	assert.ErrorIs(t, err, internal.ErrLinkNotFound)
}

func TestAnalyticsDescribesDevices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "devices"})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, "devices", false, VisitMeta{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
		IPAddress: "203.0.113.7",
	})
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, "devices", false, VisitMeta{})
	require.NoError(t, err)

	analytics, err := f.svc.Analytics(ctx, "devices")
	require.NoError(t, err)
	require.Len(t, analytics.Events, 2)
	assert.Contains(t, analytics.Events[0].Device, "Firefox")
	assert.Equal(t, "203.0.113.7", analytics.Events[0].IPAddress)
	assert.Empty(t, analytics.Events[1].Device)
}

func TestGetIgnoresExpiration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "stale", ExpiresIn: "1"})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	link, err := f.svc.Get(ctx, "stale")
	require.NoError(t, err)
	assert.True(t, link.ExpiredAt(f.clock.Now()))

	_, err = f.svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, internal.ErrLinkNotFound)
}

func TestExpireAndReactivateScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "promo1", ExpiresIn: "1"})
	require.NoError(t, err)

	res, err := f.svc.Resolve(ctx, "promo1", false, VisitMeta{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.URL)

	analytics, err := f.svc.Analytics(ctx, "promo1")
	require.NoError(t, err)
	assert.Equal(t, 1, analytics.TotalClicks)

	f.clock.Advance(61 * time.Minute)
	_, err = f.svc.Resolve(ctx, "promo1", false, VisitMeta{})
	require.ErrorIs(t, err, internal.ErrExpired)

	_, err = f.svc.Update(ctx, "alice", "promo1", UpdateLinkInput{ExpiresIn: lo.ToPtr("never")})
	require.NoError(t, err)

	res, err = f.svc.Resolve(ctx, "promo1", false, VisitMeta{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.URL)

	analytics, err = f.svc.Analytics(ctx, "promo1")
	require.NoError(t, err)
	assert.Equal(t, 2, analytics.TotalClicks)
}

type countingRecorder struct {
	mu      sync.Mutex
	created int
	expired int
}

func (r *countingRecorder) LinkCreated(bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *countingRecorder) LinkExpiredHit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired++
}

func (r *countingRecorder) LinkResolved(bool) {}
func (r *countingRecorder) LinkUpdated()      {}
func (r *countingRecorder) LinkDeleted()      {}

func TestRecorderIsNotified(t *testing.T) {
	ctx := context.Background()
	rec := &countingRecorder{}
	f := newFixture(t, WithRecorder(rec))

	_, err := f.svc.Create(ctx, "alice", CreateLinkInput{URL: "https://example.com", Alias: "promo1", ExpiresIn: "1"})
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Resolve(ctx, "promo1", false, VisitMeta{})
	require.True(t, errors.Is(err, internal.ErrExpired))

	assert.Equal(t, 1, rec.created)
	assert.Equal(t, 1, rec.expired)
}
