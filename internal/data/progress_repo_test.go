package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/testutil"
)

func seedProfile(t *testing.T, db *sql.DB) string {
	t.Helper()
	id := uniqueID("learner")
	_, err := NewProfileRepo(db).Upsert(context.Background(), model.ProfileSeed{ID: id})
	require.NoError(t, err)
	return id
}

func TestProgressRepo_ApplyCompletion_AdvancesCounters(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewProgressRepo(db)
		profiles := NewProfileRepo(db)
		userID := seedProfile(t, db)

		day1 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		lessons := []model.LessonCompletion{
			{UserID: userID, LessonID: "1-1", ModuleID: "1", XP: 10, CompletedAt: day1},
			{UserID: userID, LessonID: "1-2", ModuleID: "1", XP: 15, CompletedAt: day1.Add(2 * time.Hour)},
			{UserID: userID, LessonID: "2-1", ModuleID: "2", XP: 20, CompletedAt: day1.AddDate(0, 0, 1)},
		}
		for _, l := range lessons {
			applied, err := repo.ApplyCompletion(ctx, l)
			require.NoError(t, err)
			assert.True(t, applied)
		}

		p, err := profiles.GetByID(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, 45, p.TotalXP)
		assert.Equal(t, 2, p.CurrentStreak)
		assert.Equal(t, 2, p.LongestStreak)
		require.NotNil(t, p.LastActivityOn)
		assert.Equal(t, "2025-03-11", p.LastActivityOn.Format(time.DateOnly))

		progress, err := repo.ListModuleProgress(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, []model.ModuleProgress{
			{ModuleID: "1", LessonsCompleted: 2},
			{ModuleID: "2", LessonsCompleted: 1},
		}, progress)
	})
}

func TestProgressRepo_ApplyCompletion_Duplicate(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewProgressRepo(db)
		userID := seedProfile(t, db)

		c := model.LessonCompletion{
			UserID: userID, LessonID: "1-1", ModuleID: "1", XP: 10, CompletedAt: testutil.TestTime(),
		}
		applied, err := repo.ApplyCompletion(ctx, c)
		require.NoError(t, err)
		require.True(t, applied)

		applied, err = repo.ApplyCompletion(ctx, c)
		require.NoError(t, err)
		assert.False(t, applied)

		p, err := NewProfileRepo(db).GetByID(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 10, p.TotalXP)
	})
}

func TestProgressRepo_ApplyCompletion_UnknownUser(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		_, err := NewProgressRepo(db).ApplyCompletion(context.Background(), model.LessonCompletion{
			UserID: uniqueID("nobody"), LessonID: "1-1", ModuleID: "1", XP: 5, CompletedAt: testutil.TestTime(),
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestProgressRepo_ApplyCompletion_Invalid(t *testing.T) {
	_, err := NewProgressRepo(nil).ApplyCompletion(context.Background(), model.LessonCompletion{UserID: "u"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
