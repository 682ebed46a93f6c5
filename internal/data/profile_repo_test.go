package data

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/testutil"
)

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestProfileRepo_GetByID_Missing(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewProfileRepo(db)
		p, err := repo.GetByID(context.Background(), uniqueID("missing"))
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func TestProfileRepo_Upsert_KeepsExistingRow(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewProfileRepoWithTimeProvider(db, tp)

		id := uniqueID("user")
		created, err := repo.Upsert(ctx, model.ProfileSeed{
			ID:       id,
			Username: testutil.StringPtr(uniqueID("ana")[:20]),
			FullName: testutil.StringPtr("Ana Pérez"),
		})
		require.NoError(t, err)
		assert.Equal(t, id, created.ID)
		assert.Equal(t, "Ana Pérez", *created.FullName)
		assert.Zero(t, created.TotalXP)
		assert.Nil(t, created.LastActivityOn)

		tp.Advance(time.Hour)
		again, err := repo.Upsert(ctx, model.ProfileSeed{
			ID:       id,
			FullName: testutil.StringPtr("Someone Else"),
		})
		require.NoError(t, err)
		assert.Equal(t, "Ana Pérez", *again.FullName)
		assert.Equal(t, created.UpdatedAt, again.UpdatedAt)
	})
}

func TestProfileRepo_Update(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewProfileRepo(db)

		id := uniqueID("user")
		_, err := repo.Upsert(ctx, model.ProfileSeed{
			ID:        id,
			FullName:  testutil.StringPtr("Luis"),
			AvatarURL: testutil.StringPtr("https://img.example.com/a.png"),
		})
		require.NoError(t, err)

		name := fmt.Sprintf("luis_%d", time.Now().UnixNano()%1_000_000)
		updated, err := repo.Update(ctx, id, model.UpdateProfileRequest{
			Username:  &name,
			AvatarURL: testutil.StringPtr(""),
		})
		require.NoError(t, err)
		require.NotNil(t, updated.Username)
		assert.Equal(t, name, *updated.Username)
		assert.Equal(t, "Luis", *updated.FullName, "untouched field is kept")
		assert.Nil(t, updated.AvatarURL, "empty avatar clears the column")
	})
}

func TestProfileRepo_Update_UsernameTaken(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewProfileRepo(db)

		taken := fmt.Sprintf("taken_%d", time.Now().UnixNano()%1_000_000)
		_, err := repo.Upsert(ctx, model.ProfileSeed{ID: uniqueID("a"), Username: &taken})
		require.NoError(t, err)

		other := uniqueID("b")
		_, err = repo.Upsert(ctx, model.ProfileSeed{ID: other})
		require.NoError(t, err)

		_, err = repo.Update(ctx, other, model.UpdateProfileRequest{Username: &taken})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))
		assert.True(t, apperrors.IsUniqueViolation(err))
		assert.Equal(t, "username", apperrors.GetField(err))
	})
}

func TestProfileRepo_Update_Missing(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewProfileRepo(db)
		_, err := repo.Update(context.Background(), uniqueID("ghost"), model.UpdateProfileRequest{
			FullName: testutil.StringPtr("Nadie"),
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestProfileRepo_RequiresID(t *testing.T) {
	repo := NewProfileRepo(nil)

	_, err := repo.GetByID(context.Background(), " ")
	require.ErrorIs(t, err, ErrProfileIDRequired)

	_, err = repo.Upsert(context.Background(), model.ProfileSeed{})
	require.ErrorIs(t, err, ErrProfileIDRequired)

	_, err = repo.Update(context.Background(), "id", model.UpdateProfileRequest{})
	require.ErrorIs(t, err, ErrEmptyProfileUpdate)
}
