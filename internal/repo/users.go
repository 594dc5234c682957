package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/abdusco/shorty/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
)

type userRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    Date   `db:"created_at"`
}

type UsersRepo struct {
	db *sql.DB
}

func NewUsersRepo(db *sql.DB) *UsersRepo {
	return &UsersRepo{db: db}
}

// Create stores a user. Emails are compared lowercased; a second account
// for the same address fails with ErrEmailTaken.
func (r *UsersRepo) Create(ctx context.Context, user internal.User) (*internal.User, error) {
	executor := goqu.New(dialect, r.db)

	row := userRow{
		ID:           user.ID,
		Name:         user.Name,
		Email:        normalizeEmail(user.Email),
		PasswordHash: user.PasswordHash,
		CreatedAt:    Date(user.CreatedAt),
	}

	if _, err := executor.Insert("users").Rows(row).Executor().ExecContext(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, internal.ErrEmailTaken
		}
		log.Error().Err(err).Str("email", row.Email).Msg("failed to create user")
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	log.Info().Str("user_id", row.ID).Msg("user created")
	return row.toDomain(), nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (*internal.User, error) {
	return r.getBy(ctx, goqu.Ex{"email": normalizeEmail(email)})
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (*internal.User, error) {
	return r.getBy(ctx, goqu.Ex{"id": id})
}

func (r *UsersRepo) getBy(ctx context.Context, where goqu.Ex) (*internal.User, error) {
	executor := goqu.New(dialect, r.db)

	var row userRow
	found, err := executor.From("users").Where(where).ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if !found {
		return nil, internal.ErrUserNotFound
	}
	return row.toDomain(), nil
}

func (r *userRow) toDomain() *internal.User {
	return &internal.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.Time(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
