package ports

import (
	"context"

	"github.com/kerdos/kerdos-api/internal/domain/model"
)

// ProfileStore persists user profiles.
type ProfileStore interface {
	// GetByID returns nil, nil when no profile exists.
	GetByID(ctx context.Context, id string) (*model.UserProfile, error)
	// Upsert creates the profile if absent, keyed by id; an existing row is returned unchanged.
	Upsert(ctx context.Context, seed model.ProfileSeed) (*model.UserProfile, error)
	// Update applies the non-nil fields of req.
	Update(ctx context.Context, id string, req model.UpdateProfileRequest) (*model.UserProfile, error)
}

// ProgressStore records lesson completions and the profile counters they drive.
type ProgressStore interface {
	// ApplyCompletion records a completion once; applied is false for a duplicate.
	ApplyCompletion(ctx context.Context, c model.LessonCompletion) (applied bool, err error)
	ListModuleProgress(ctx context.Context, userID string) ([]model.ModuleProgress, error)
}

// FlagStore persists per-device boolean flags such as hasSeenOnboarding.
type FlagStore interface {
	Get(ctx context.Context, deviceID, flag string) (bool, error)
	Set(ctx context.Context, deviceID, flag string) error
	Clear(ctx context.Context, deviceID, flag string) error
}

// CatalogSource provides the learning content catalog.
type CatalogSource interface {
	Catalog() *model.Catalog
}
