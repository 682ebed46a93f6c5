package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// UserNotifier announces that a user's profile changed.
type UserNotifier interface {
	NotifyUserUpdated(ctx context.Context, userID string) error
}

// ProgressServiceOptions groups dependencies for ProgressService.
type ProgressServiceOptions struct {
	Store    ports.ProgressStore
	Notifier UserNotifier
	Deps     ProgressDeps
}

// ProgressDeps are optional collaborators of ProgressService.
type ProgressDeps struct {
	// Catalog, when set, drops completions for modules it does not list.
	Catalog ports.CatalogSource
	Logger  *slog.Logger
}

// ProgressService applies lesson completions to profiles.
type ProgressService struct {
	store    ports.ProgressStore
	notifier UserNotifier
	catalog  ports.CatalogSource
	logger   *slog.Logger
}

// NewProgressService constructs a new ProgressService.
func NewProgressService(opts ProgressServiceOptions) *ProgressService {
	if opts.Store == nil || opts.Notifier == nil {
		panic("service: ProgressService requires Store and Notifier")
	}
	logger := opts.Deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressService{
		store:    opts.Store,
		notifier: opts.Notifier,
		catalog:  opts.Deps.Catalog,
		logger:   logger.With("component", "progress"),
	}
}

// ApplyBatch applies completions in order. Invalid completions are logged and
// skipped; any other failure stops the batch so it can be redelivered, which is
// safe because applying a completion twice is a no-op. Every user with an
// applied completion is notified once, including when the batch stops early:
// a redelivered completion is not applied again and so would not notify.
func (s *ProgressService) ApplyBatch(ctx context.Context, batch []model.LessonCompletion) error {
	var updated []string
	seen := make(map[string]bool)
	defer func() { s.notifyUpdated(ctx, updated) }()

	for i := range batch {
		c := batch[i]
		if !s.knownModule(c.ModuleID) {
			s.logger.WarnContext(ctx, "skipping completion for unknown module",
				"user_id", c.UserID, "lesson_id", c.LessonID, "module_id", c.ModuleID)
			continue
		}
		applied, err := s.store.ApplyCompletion(ctx, c)
		if apperrors.IsValidation(err) {
			s.logger.WarnContext(ctx, "skipping invalid completion",
				"user_id", c.UserID, "lesson_id", c.LessonID, "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("apply completion %s/%s: %w", c.UserID, c.LessonID, err)
		}
		if applied && !seen[c.UserID] {
			seen[c.UserID] = true
			updated = append(updated, c.UserID)
		}
	}
	return nil
}

func (s *ProgressService) notifyUpdated(ctx context.Context, userIDs []string) {
	// The batch context may already be cancelled when the consumer is stopping.
	ctx = context.WithoutCancel(ctx)
	for _, userID := range userIDs {
		if err := s.notifier.NotifyUserUpdated(ctx, userID); err != nil {
			s.logger.WarnContext(ctx, "notify user update failed", "user_id", userID, "error", err)
		}
	}
}

// ModuleProgress returns completed-lesson counts keyed by module id.
func (s *ProgressService) ModuleProgress(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.store.ListModuleProgress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list module progress: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ModuleID] = r.LessonsCompleted
	}
	return out, nil
}

func (s *ProgressService) knownModule(id string) bool {
	if s.catalog == nil {
		return true
	}
	_, ok := s.catalog.Catalog().Module(id)
	return ok
}
