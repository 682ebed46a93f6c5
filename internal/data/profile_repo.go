package data

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/kerdos/kerdos-api/internal/data/pgxutil"
	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
)

const profileColumns = `id, username, full_name, avatar_url, current_streak, longest_streak,
	total_xp, last_activity_on, created_at, updated_at`

const (
	profileGetByIDQuery = `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	// The no-op update makes RETURNING yield the existing row on conflict.
	profileUpsertQuery = `
		INSERT INTO profiles (id, username, full_name, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET updated_at = profiles.updated_at
		RETURNING ` + profileColumns

	// Empty strings clear full_name and avatar_url; username is validated non-empty.
	profileUpdateQuery = `
		UPDATE profiles SET
			username   = COALESCE($2, username),
			full_name  = CASE WHEN $3::text IS NULL THEN full_name ELSE NULLIF($3, '') END,
			avatar_url = CASE WHEN $4::text IS NULL THEN avatar_url ELSE NULLIF($4, '') END,
			updated_at = $5
		WHERE id = $1
		RETURNING ` + profileColumns
)

// ProfileRepo provides database operations for user profiles.
type ProfileRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewProfileRepo creates a new ProfileRepo with real time provider.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewProfileRepoWithTimeProvider creates a new ProfileRepo with a custom time provider (useful for tests).
func NewProfileRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProfileRepo {
	return &ProfileRepo{DB: db, timeProvider: tp}
}

// GetByID returns the profile with the given id, or nil, nil when none exists.
func (r *ProfileRepo) GetByID(ctx context.Context, id string) (*model.UserProfile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrProfileIDRequired
	}

	p, err := r.queryOne(ctx, profileGetByIDQuery, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}

// Upsert creates the profile from seed when no row with seed.ID exists. An existing
// profile is returned as stored; seed values never overwrite user edits.
func (r *ProfileRepo) Upsert(ctx context.Context, seed model.ProfileSeed) (*model.UserProfile, error) {
	seed.ID = strings.TrimSpace(seed.ID)
	if seed.ID == "" {
		return nil, ErrProfileIDRequired
	}

	now := r.timeProvider.Now().UTC()
	p, err := r.queryOne(ctx, profileUpsertQuery, seed.ID, seed.Username, seed.FullName, seed.AvatarURL, now)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}

// Update applies the non-nil fields of req. A missing profile yields a not-found error.
func (r *ProfileRepo) Update(
	ctx context.Context,
	id string,
	req model.UpdateProfileRequest,
) (*model.UserProfile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrProfileIDRequired
	}
	if req.Empty() {
		return nil, ErrEmptyProfileUpdate
	}

	now := r.timeProvider.Now().UTC()
	p, err := r.queryOne(ctx, profileUpdateQuery, id, req.Username, req.FullName, req.AvatarURL, now)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return p, nil
}

func (r *ProfileRepo) queryOne(ctx context.Context, query string, args ...any) (*model.UserProfile, error) {
	var out model.UserProfile
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[model.UserProfile])
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
