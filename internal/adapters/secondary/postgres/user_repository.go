package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorrc/marketplace-realtime/internal/core/domain"
	apperrors "github.com/lorrc/marketplace-realtime/internal/core/errors"
	"github.com/lorrc/marketplace-realtime/internal/core/ports"
)

// UserRepository stores accounts in the users table. Emails are written
// lower-case by the domain, so lookups compare them directly.
type UserRepository struct {
	pool *pgxpool.Pool
}

var _ ports.UserRepository = (*UserRepository)(nil)

func NewUserRepository(pool *pgxpool.Pool) ports.UserRepository {
	return &UserRepository{pool: pool}
}

const selectUser = `SELECT id, full_name, email, password_hash, role, avatar_url, created_at FROM users`

type userRecord struct {
	ID           uuid.UUID   `db:"id"`
	FullName     string      `db:"full_name"`
	Email        string      `db:"email"`
	PasswordHash string      `db:"password_hash"`
	Role         string      `db:"role"`
	AvatarURL    pgtype.Text `db:"avatar_url"`
	CreatedAt    time.Time   `db:"created_at"`
}

func (rec userRecord) toDomain() *domain.User {
	return &domain.User{
		ID:             rec.ID,
		FullName:       rec.FullName,
		Email:          rec.Email,
		HashedPassword: rec.PasswordHash,
		Role:           domain.Role(rec.Role),
		AvatarURL:      fromText(rec.AvatarURL),
		CreatedAt:      rec.CreatedAt.UTC(),
	}
}

// one runs a query expected to match a single user.
func (r *UserRepository) one(ctx context.Context, sql string, args ...any) (*domain.User, error) {
	rows, err := GetDBTX(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[userRecord])
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, apperrors.ErrUserNotFound
	case isUniqueViolation(err):
		return nil, apperrors.ErrUserExists
	case err != nil:
		return nil, err
	}
	return rec.toDomain(), nil
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) (*domain.User, error) {
	return r.one(ctx, `
		INSERT INTO users (id, full_name, email, password_hash, role, avatar_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, full_name, email, password_hash, role, avatar_url, created_at`,
		u.ID, u.FullName, u.Email, u.HashedPassword, string(u.Role), toText(u.AvatarURL), u.CreatedAt,
	)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.one(ctx, selectUser+` WHERE email = $1`, email)
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.one(ctx, selectUser+` WHERE id = $1`, id)
}
