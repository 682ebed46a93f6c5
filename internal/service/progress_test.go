package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/mocks"
)

type recordingNotifier struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingNotifier) NotifyUserUpdated(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return nil
}

func completion(user, lesson, module string) model.LessonCompletion {
	return model.LessonCompletion{
		UserID:      user,
		LessonID:    lesson,
		ModuleID:    module,
		XP:          10,
		CompletedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestProgressService_ApplyBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("notifies each updated user once", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockProgressStore(ctrl)
		notifier := &recordingNotifier{}
		svc := NewProgressService(ProgressServiceOptions{
			Store:    store,
			Notifier: notifier,
			Deps:     ProgressDeps{Catalog: loadCatalog(t)},
		})

		gomock.InOrder(
			store.EXPECT().ApplyCompletion(gomock.Any(), completion("u-1", "l-1", "1")).Return(true, nil),
			store.EXPECT().ApplyCompletion(gomock.Any(), completion("u-1", "l-2", "1")).Return(true, nil),
			store.EXPECT().ApplyCompletion(gomock.Any(), completion("u-2", "l-1", "2")).Return(false, nil),
		)

		err := svc.ApplyBatch(ctx, []model.LessonCompletion{
			completion("u-1", "l-1", "1"),
			completion("u-1", "l-2", "1"),
			completion("u-2", "l-1", "2"),
			completion("u-3", "l-1", "unknown"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"u-1"}, notifier.users)
	})

	t.Run("invalid completions are skipped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockProgressStore(ctrl)
		notifier := &recordingNotifier{}
		svc := NewProgressService(ProgressServiceOptions{Store: store, Notifier: notifier})

		store.EXPECT().ApplyCompletion(gomock.Any(), gomock.Any()).Return(false, apperrors.Validation("unknown user"))
		store.EXPECT().ApplyCompletion(gomock.Any(), gomock.Any()).Return(true, nil)

		err := svc.ApplyBatch(ctx, []model.LessonCompletion{
			completion("ghost", "l-1", "1"),
			completion("u-1", "l-1", "1"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"u-1"}, notifier.users)
	})

	t.Run("store failure stops the batch", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockProgressStore(ctrl)
		notifier := &recordingNotifier{}
		svc := NewProgressService(ProgressServiceOptions{Store: store, Notifier: notifier})

		store.EXPECT().ApplyCompletion(gomock.Any(), gomock.Any()).Return(false, errors.New("conn reset"))

		err := svc.ApplyBatch(ctx, []model.LessonCompletion{
			completion("u-1", "l-1", "1"),
			completion("u-1", "l-2", "1"),
		})
		require.Error(t, err)
		assert.Empty(t, notifier.users)
	})

	t.Run("users applied before a failure are notified", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockProgressStore(ctrl)
		notifier := &recordingNotifier{}
		svc := NewProgressService(ProgressServiceOptions{Store: store, Notifier: notifier})

		gomock.InOrder(
			store.EXPECT().ApplyCompletion(gomock.Any(), completion("u-a", "l-1", "1")).Return(true, nil),
			store.EXPECT().ApplyCompletion(gomock.Any(), completion("u-b", "l-2", "1")).Return(false, errors.New("conn reset")),
		)
		err := svc.ApplyBatch(ctx, []model.LessonCompletion{
			completion("u-a", "l-1", "1"),
			completion("u-b", "l-2", "1"),
		})
		require.Error(t, err)
		assert.Equal(t, []string{"u-a"}, notifier.users)

		// Redelivery: u-a is a duplicate now, u-b goes through.
		gomock.InOrder(
			store.EXPECT().ApplyCompletion(gomock.Any(), completion("u-a", "l-1", "1")).Return(false, nil),
			store.EXPECT().ApplyCompletion(gomock.Any(), completion("u-b", "l-2", "1")).Return(true, nil),
		)
		require.NoError(t, svc.ApplyBatch(ctx, []model.LessonCompletion{
			completion("u-a", "l-1", "1"),
			completion("u-b", "l-2", "1"),
		}))
		assert.Equal(t, []string{"u-a", "u-b"}, notifier.users)
	})
}

func TestProgressService_ModuleProgress(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockProgressStore(ctrl)
	store.EXPECT().ListModuleProgress(gomock.Any(), "u-1").Return([]model.ModuleProgress{
		{ModuleID: "1", LessonsCompleted: 3},
		{ModuleID: "2", LessonsCompleted: 1},
	}, nil)
	svc := NewProgressService(ProgressServiceOptions{Store: store, Notifier: &recordingNotifier{}})

	got, err := svc.ModuleProgress(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 3, "2": 1}, got)
}
