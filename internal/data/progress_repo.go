package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kerdos/kerdos-api/internal/data/pgxutil"
	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
)

// ProgressRepo records lesson completions and keeps profile counters in step with them.
type ProgressRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewProgressRepo creates a new ProgressRepo with real time provider.
func NewProgressRepo(db *sql.DB) *ProgressRepo {
	return &ProgressRepo{DB: db, timeProvider: RealTimeProvider{}}
}

// NewProgressRepoWithTimeProvider creates a new ProgressRepo with a custom time provider (useful for tests).
func NewProgressRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *ProgressRepo {
	return &ProgressRepo{DB: db, timeProvider: tp}
}

// ApplyCompletion records c and, on first delivery, advances the owner's streak, adds
// the lesson XP and bumps the module counter in one transaction. Redelivered
// completions return applied=false and change nothing.
func (r *ProgressRepo) ApplyCompletion(ctx context.Context, c model.LessonCompletion) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, apperrors.Validation(err.Error())
	}

	now := r.timeProvider.Now().UTC()
	applied := false
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `
				INSERT INTO lesson_completions (user_id, lesson_id, module_id, xp, completed_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (user_id, lesson_id) DO NOTHING`,
				c.UserID, c.LessonID, c.ModuleID, c.XP, c.CompletedAt.UTC())
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}

			if err := applyStreak(ctx, tx, c, now); err != nil {
				return err
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO module_progress (user_id, module_id, lessons_completed, updated_at)
				VALUES ($1, $2, 1, $3)
				ON CONFLICT (user_id, module_id) DO UPDATE SET
					lessons_completed = module_progress.lessons_completed + 1,
					updated_at = EXCLUDED.updated_at`,
				c.UserID, c.ModuleID, now); err != nil {
				return fmt.Errorf("bump module progress: %w", err)
			}
			applied = true
			return nil
		},
	})
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return applied, nil
}

func applyStreak(ctx context.Context, tx pgx.Tx, c model.LessonCompletion, now time.Time) error {
	var s model.Streak
	if err := tx.QueryRow(ctx, `
		SELECT current_streak, longest_streak, last_activity_on
		FROM profiles WHERE id = $1 FOR UPDATE`, c.UserID,
	).Scan(&s.Current, &s.Longest, &s.LastActivityOn); err != nil {
		return fmt.Errorf("lock profile: %w", err)
	}

	next := s.Advance(c.CompletedAt)
	if _, err := tx.Exec(ctx, `
		UPDATE profiles SET
			current_streak = $2,
			longest_streak = $3,
			last_activity_on = $4,
			total_xp = total_xp + $5,
			updated_at = $6
		WHERE id = $1`,
		c.UserID, next.Current, next.Longest, next.LastActivityOn, c.XP, now); err != nil {
		return fmt.Errorf("update profile counters: %w", err)
	}
	return nil
}

// ListModuleProgress returns the per-module completion counters of a user, ordered by module id.
func (r *ProgressRepo) ListModuleProgress(ctx context.Context, userID string) ([]model.ModuleProgress, error) {
	if userID == "" {
		return nil, ErrProfileIDRequired
	}

	var out []model.ModuleProgress
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT module_id, lessons_completed
			FROM module_progress
			WHERE user_id = $1
			ORDER BY module_id`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectRows(rows, pgx.RowToStructByName[model.ModuleProgress])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out, nil
}
