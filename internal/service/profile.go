package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// Result codes of UpdateProfile that are not store SQLSTATEs.
const (
	UpdateCodeValidation   = "validation"
	UpdateCodeUnauthorized = "unauthorized"
	UpdateCodeFailed       = "update_failed"
)

const (
	msgUsernameInUse  = "username already in use"
	msgUsernameSame   = "the new username cannot be the same as the current one"
	msgUpdateFailed   = "could not update the profile, please try again"
	msgNoSignedInUser = "no user is signed in"
	fieldUsername     = "username"
)

// ProfileServiceOptions groups dependencies for ProfileService.
type ProfileServiceOptions struct {
	Store  ports.ProfileStore
	Mapper ports.ClaimMapper
	Logger *slog.Logger
}

// ProfileService loads, seeds and edits user profiles.
type ProfileService struct {
	store  ports.ProfileStore
	mapper ports.ClaimMapper
	logger *slog.Logger
}

// NewProfileService constructs a new ProfileService.
func NewProfileService(opts ProfileServiceOptions) *ProfileService {
	if opts.Store == nil || opts.Mapper == nil {
		panic("service: ProfileService requires Store and Mapper")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ProfileService{store: opts.Store, mapper: opts.Mapper, logger: logger.With("component", "profile")}
}

// Get returns the profile of userID, or nil when none exists.
func (s *ProfileService) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	p, err := s.store.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	return p, nil
}

// LoadOrCreate returns the identity's profile, creating it from the identity
// metadata when absent. If the seeded username is taken the profile is created
// without one.
func (s *ProfileService) LoadOrCreate(ctx context.Context, identity domainauth.Identity) (*model.UserProfile, error) {
	p, err := s.Get(ctx, identity.UserID)
	if err != nil || p != nil {
		return p, err
	}

	seed, err := s.mapper.Seed(identity)
	if err != nil {
		return nil, fmt.Errorf("seed profile %s: %w", identity.UserID, err)
	}
	p, err = s.store.Upsert(ctx, seed)
	if err != nil && seed.Username != nil && apperrors.IsUniqueViolation(err) {
		s.logger.InfoContext(ctx, "seeded username taken; creating profile without it",
			"user_id", identity.UserID, "username", *seed.Username)
		seed.Username = nil
		p, err = s.store.Upsert(ctx, seed)
	}
	if err != nil {
		return nil, fmt.Errorf("create profile %s: %w", identity.UserID, err)
	}
	return p, nil
}

// Update applies req to the profile of userID. current is the profile the caller
// holds; a username equal to its username is rejected before the store is called.
// Failures are reported in the result, never as an error.
func (s *ProfileService) Update(
	ctx context.Context,
	userID string,
	current *model.UserProfile,
	req model.UpdateProfileRequest,
) model.UpdateProfileResult {
	if userID == "" {
		return model.UpdateProfileResult{Code: UpdateCodeUnauthorized, Message: msgNoSignedInUser}
	}

	// Checked before the pattern so that a legacy username which no longer
	// validates is still reported as unchanged.
	if req.Username != nil && current != nil && current.Username != nil &&
		strings.TrimSpace(*req.Username) == *current.Username {
		return model.UpdateProfileResult{
			Code:    UpdateCodeValidation,
			Message: msgUsernameSame,
			Field:   fieldUsername,
		}
	}

	if err := req.Validate(); err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			return model.UpdateProfileResult{Code: UpdateCodeValidation, Message: verr.Message, Field: verr.Field}
		}
		return model.UpdateProfileResult{Code: UpdateCodeValidation, Message: err.Error()}
	}

	p, err := s.store.Update(ctx, userID, req)
	if err != nil {
		if state := apperrors.SQLState(err); state != "" && apperrors.IsUniqueViolation(err) {
			return model.UpdateProfileResult{Code: state, Message: msgUsernameInUse, Field: fieldUsername}
		}
		s.logger.WarnContext(ctx, "profile update failed", "user_id", userID, "error", err)
		code := UpdateCodeFailed
		if c := apperrors.GetCode(err); c != "" {
			code = string(c)
		}
		return model.UpdateProfileResult{Code: code, Message: msgUpdateFailed}
	}
	return model.UpdateProfileResult{Success: true, Profile: p}
}
