package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/abdusco/shorty/internal"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const dialect = "sqlite3"

type NewLink struct {
	Slug      string
	URL       string
	OwnerID   string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// LinkPatch is the complete new mutable state of a link.
type LinkPatch struct {
	URL       string
	ExpiresAt *time.Time
}

type linkRow struct {
	ID            int64   `db:"id" goqu:"skipinsert,skipupdate"`
	Slug          string  `db:"slug"`
	URL           string  `db:"url"`
	OwnerID       *string `db:"owner_id"`
	CreatedAt     Date    `db:"created_at" goqu:"skipupdate"`
	ExpiresAt     *Date   `db:"expires_at"`
	Clicks        int64   `db:"clicks" goqu:"skipinsert,skipupdate"`
	LastClickedAt *Date   `db:"last_clicked_at" goqu:"skipinsert,skipupdate"`
}

type LinksRepo struct {
	db *sql.DB
}

func NewLinksRepo(db *sql.DB) *LinksRepo {
	return &LinksRepo{db: db}
}

// Create inserts a link. A duplicate slug is rejected with ErrAliasTaken,
// so a slug that passed an earlier existence check can still fail here.
func (r *LinksRepo) Create(ctx context.Context, link NewLink) (*internal.Link, error) {
	executor := goqu.New(dialect, r.db)

	log.Debug().Str("slug", link.Slug).Str("url", link.URL).Msg("creating link")

	query := executor.Insert("links").
		Cols("slug", "url", "owner_id", "created_at", "expires_at").
		Vals([]any{
			link.Slug,
			link.URL,
			lo.Ternary[any](link.OwnerID == "", nil, link.OwnerID),
			Date(link.CreatedAt),
			nullDate(link.ExpiresAt),
		})

	if _, err := query.Executor().ExecContext(ctx); err != nil {
		if isUniqueViolation(err) {
			log.Debug().Str("slug", link.Slug).Msg("slug already exists")
			return nil, internal.ErrAliasTaken
		}
		log.Error().Err(err).Str("slug", link.Slug).Msg("failed to create link")
		return nil, fmt.Errorf("failed to insert link: %w", err)
	}

	created, err := r.GetBySlug(ctx, link.Slug)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("id", created.ID).Str("slug", created.Slug).Msg("link created successfully")
	return created, nil
}

func (r *LinksRepo) GetBySlug(ctx context.Context, slug string) (*internal.Link, error) {
	log.Debug().Str("slug", slug).Msg("fetching link by slug")

	query := r.selectWithStats().Where(goqu.I("l.slug").Eq(slug))

	var row linkRow
	found, err := query.ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("failed to fetch link")
		return nil, fmt.Errorf("failed to fetch link: %w", err)
	}

	if !found {
		log.Debug().Str("slug", slug).Msg("link not found")
		return nil, internal.ErrLinkNotFound
	}

	link := row.toDomain()
	log.Debug().Int64("id", link.ID).Str("slug", slug).Int64("clicks", link.Stats.Clicks).Msg("link fetched")

	return link, nil
}

func (r *LinksRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	executor := goqu.New(dialect, r.db)

	count, err := executor.From("links").Where(goqu.C("slug").Eq(slug)).CountContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return count > 0, nil
}

func (r *LinksRepo) ListByOwner(ctx context.Context, ownerID string) ([]*internal.Link, error) {
	return r.list(ctx, r.selectWithStats().Where(goqu.I("l.owner_id").Eq(ownerID)))
}

func (r *LinksRepo) ListAll(ctx context.Context) ([]*internal.Link, error) {
	return r.list(ctx, r.selectWithStats())
}

func (r *LinksRepo) list(ctx context.Context, query *goqu.SelectDataset) ([]*internal.Link, error) {
	query = query.Order(goqu.I("l.created_at").Desc(), goqu.I("l.id").Desc())

	var rows []linkRow
	if err := query.ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	return lo.Map(rows, func(row linkRow, _ int) *internal.Link {
		return row.toDomain()
	}), nil
}

// Update writes URL and expiration in one statement. The owner is part of the
// filter so a link that changed hands in between is reported as not found.
func (r *LinksRepo) Update(ctx context.Context, slug, ownerID string, patch LinkPatch) (*internal.Link, error) {
	executor := goqu.New(dialect, r.db)

	query := executor.Update("links").
		Set(goqu.Record{
			"url":        patch.URL,
			"expires_at": nullDate(patch.ExpiresAt),
		}).
		Where(goqu.C("slug").Eq(slug), goqu.C("owner_id").Eq(ownerID))

	res, err := query.Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("failed to update link")
		return nil, fmt.Errorf("failed to update link: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil, internal.ErrLinkNotFound
	}

	log.Info().Str("slug", slug).Msg("link updated")
	return r.GetBySlug(ctx, slug)
}

// Delete removes the link and, through the foreign key, its visits.
func (r *LinksRepo) Delete(ctx context.Context, slug, ownerID string) error {
	executor := goqu.New(dialect, r.db)

	query := executor.Delete("links").
		Where(goqu.C("slug").Eq(slug), goqu.C("owner_id").Eq(ownerID))

	res, err := query.Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("failed to delete link")
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return internal.ErrLinkNotFound
	}

	log.Info().Str("slug", slug).Msg("link deleted")
	return nil
}

func (r *LinksRepo) selectWithStats() *goqu.SelectDataset {
	executor := goqu.New(dialect, r.db)

	return executor.From(goqu.T("links").As("l")).
		LeftJoin(goqu.T("visits").As("v"), goqu.On(goqu.I("v.link_id").Eq(goqu.I("l.id")))).
		Select(
			goqu.I("l.id").As("id"),
			goqu.I("l.slug").As("slug"),
			goqu.I("l.url").As("url"),
			goqu.I("l.owner_id").As("owner_id"),
			goqu.I("l.created_at").As("created_at"),
			goqu.I("l.expires_at").As("expires_at"),
			goqu.COUNT(goqu.I("v.id")).As("clicks"),
			goqu.MAX(goqu.I("v.visited_at")).As("last_clicked_at"),
		).
		GroupBy(goqu.I("l.id"))
}

func (r *linkRow) toDomain() *internal.Link {
	return &internal.Link{
		ID:        r.ID,
		Slug:      r.Slug,
		URL:       r.URL,
		OwnerID:   lo.FromPtr(r.OwnerID),
		CreatedAt: r.CreatedAt.Time(),
		ExpiresAt: r.ExpiresAt.timePtr(),
		Stats: &internal.LinkStats{
			Clicks:        r.Clicks,
			LastClickedAt: r.LastClickedAt.timePtr(),
		},
	}
}
