package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/abdusco/shorty/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type visitRow struct {
	ID        int64   `db:"id"`
	LinkID    int64   `db:"link_id"`
	VisitedAt Date    `db:"visited_at"`
	UserAgent *string `db:"user_agent"`
	IPAddress *string `db:"ip_address"`
	Referer   *string `db:"referer"`
}

type VisitsRepo struct {
	db *sql.DB
}

func NewVisitsRepo(db *sql.DB) *VisitsRepo {
	return &VisitsRepo{db: db}
}

// Append records one visit for slug as a single INSERT ... SELECT, so
// concurrent appends never overwrite each other. It reports false when no
// link has that slug.
func (r *VisitsRepo) Append(ctx context.Context, slug string, visit internal.Visit) (bool, error) {
	executor := goqu.New(dialect, r.db)

	log.Debug().Str("slug", slug).Str("ip", visit.IPAddress).Msg("recording visit")

	source := executor.From("links").
		Select(
			goqu.C("id"),
			goqu.V(Date(visit.VisitedAt).stored()),
			goqu.V(visit.UserAgent),
			goqu.V(visit.IPAddress),
			goqu.V(visit.Referer),
		).
		Where(goqu.C("slug").Eq(slug))

	query := executor.Insert("visits").
		Cols("link_id", "visited_at", "user_agent", "ip_address", "referer").
		FromQuery(source)

	res, err := query.Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("failed to record visit")
		return false, fmt.Errorf("failed to record visit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return n > 0, nil
}

// ListByLink returns the visits of a link in the order they were recorded.
func (r *VisitsRepo) ListByLink(ctx context.Context, linkID int64) ([]internal.Visit, error) {
	executor := goqu.New(dialect, r.db)

	query := executor.From("visits").
		Select("id", "link_id", "visited_at", "user_agent", "ip_address", "referer").
		Where(goqu.C("link_id").Eq(linkID)).
		Order(goqu.C("id").Asc())

	var rows []visitRow
	if err := query.ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}

	return lo.Map(rows, func(row visitRow, _ int) internal.Visit {
		return row.toDomain()
	}), nil
}

func (r *visitRow) toDomain() internal.Visit {
	return internal.Visit{
		ID:        r.ID,
		VisitedAt: r.VisitedAt.Time(),
		UserAgent: lo.FromPtr(r.UserAgent),
		IPAddress: lo.FromPtr(r.IPAddress),
		Referer:   lo.FromPtr(r.Referer),
	}
}
