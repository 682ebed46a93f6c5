package service

import (
	"context"
	"fmt"

	"github.com/kerdos/kerdos-api/internal/domain/model"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// FlagHasSeenOnboarding is the device flag set once onboarding is completed.
const FlagHasSeenOnboarding = "hasSeenOnboarding"

// OnboardingView is the onboarding flag together with the slides to show.
type OnboardingView struct {
	HasSeenOnboarding bool          `json:"has_seen_onboarding"`
	Slides            []model.Slide `json:"slides"`
}

// OnboardingService reads and writes the per-device onboarding flag.
type OnboardingService struct {
	flags   ports.FlagStore
	catalog ports.CatalogSource
}

// NewOnboardingService constructs a new OnboardingService.
func NewOnboardingService(flags ports.FlagStore, catalog ports.CatalogSource) *OnboardingService {
	if flags == nil || catalog == nil {
		panic("service: OnboardingService requires flags and catalog")
	}
	return &OnboardingService{flags: flags, catalog: catalog}
}

// Seen reports whether the device has completed onboarding.
func (s *OnboardingService) Seen(ctx context.Context, deviceID string) (bool, error) {
	seen, err := s.flags.Get(ctx, deviceID, FlagHasSeenOnboarding)
	if err != nil {
		return false, fmt.Errorf("read onboarding flag: %w", err)
	}
	return seen, nil
}

// View returns the flag and the catalog slides.
func (s *OnboardingService) View(ctx context.Context, deviceID string) (OnboardingView, error) {
	seen, err := s.Seen(ctx, deviceID)
	if err != nil {
		return OnboardingView{}, err
	}
	return OnboardingView{HasSeenOnboarding: seen, Slides: s.catalog.Catalog().Slides}, nil
}

// Complete marks onboarding as seen. Completing twice is harmless.
func (s *OnboardingService) Complete(ctx context.Context, deviceID string) error {
	if err := s.flags.Set(ctx, deviceID, FlagHasSeenOnboarding); err != nil {
		return fmt.Errorf("set onboarding flag: %w", err)
	}
	return nil
}

// Reset clears the flag so the next launch shows onboarding again.
func (s *OnboardingService) Reset(ctx context.Context, deviceID string) error {
	if err := s.flags.Clear(ctx, deviceID, FlagHasSeenOnboarding); err != nil {
		return fmt.Errorf("clear onboarding flag: %w", err)
	}
	return nil
}
