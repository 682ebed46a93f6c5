//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxFullNameLen = 100

	// DefaultDisplayName is shown when a profile has neither username nor full name.
	DefaultDisplayName = "Usuario"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

const maxUsernameLen = 30

// NormalizeUsername maps s onto the username alphabet: surrounding space is
// trimmed, any other character outside [a-zA-Z0-9_] becomes '_' and the result
// is cut to 30 characters. ok is false when fewer than 3 characters remain.
func NormalizeUsername(s string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		if b.Len() == maxUsernameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	return out, usernamePattern.MatchString(out)
}

// PlanType is the subscription tier shown on the profile screen.
type PlanType string

const (
	PlanFree  PlanType = "free"
	PlanBasic PlanType = "basic"
)

// UserProfile is the application's denormalized user record, keyed by identity id.
type UserProfile struct {
	ID             string     `json:"id"                         db:"id"`
	Username       *string    `json:"username,omitempty"         db:"username"`
	FullName       *string    `json:"full_name,omitempty"        db:"full_name"`
	AvatarURL      *string    `json:"avatar_url,omitempty"       db:"avatar_url"`
	CurrentStreak  int        `json:"current_streak"             db:"current_streak"`
	LongestStreak  int        `json:"longest_streak"             db:"longest_streak"`
	TotalXP        int        `json:"total_xp"                   db:"total_xp"`
	LastActivityOn *time.Time `json:"last_activity_on,omitempty" db:"last_activity_on"`
	CreatedAt      time.Time  `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"                 db:"updated_at"`
}

// DisplayName returns username, then full name, then the default greeting name.
func (p *UserProfile) DisplayName() string {
	if p == nil {
		return DefaultDisplayName
	}
	if p.Username != nil && *p.Username != "" {
		return *p.Username
	}
	if p.FullName != nil && *p.FullName != "" {
		return *p.FullName
	}
	return DefaultDisplayName
}

// Plan derives the plan type: basic once a full name is set, free otherwise.
func (p *UserProfile) Plan() PlanType {
	if p != nil && p.FullName != nil && *p.FullName != "" {
		return PlanBasic
	}
	return PlanFree
}

// ProfileSeed holds the fields used to create a profile on first sign-in.
type ProfileSeed struct {
	ID        string
	Username  *string
	FullName  *string
	AvatarURL *string
}

// ValidationError reports an invalid field in a profile request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UpdateProfileRequest carries the partial fields of a profile edit.
// Nil fields are left unchanged.
type UpdateProfileRequest struct {
	Username  *string `json:"username,omitempty"`
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Empty reports whether the request changes nothing.
func (r *UpdateProfileRequest) Empty() bool {
	return r.Username == nil && r.FullName == nil && r.AvatarURL == nil
}

// Validate trims the request and validates each provided field.
func (r *UpdateProfileRequest) Validate() error {
	if r.Empty() {
		return &ValidationError{Field: "", Message: "at least one field must be provided"}
	}
	if r.Username != nil {
		u := strings.TrimSpace(*r.Username)
		if !usernamePattern.MatchString(u) {
			return &ValidationError{
				Field:   "username",
				Message: "username must be 3-30 characters of letters, digits or underscore",
			}
		}
		r.Username = &u
	}
	if r.FullName != nil {
		n := strings.TrimSpace(*r.FullName)
		if utf8.RuneCountInString(n) > maxFullNameLen {
			return &ValidationError{Field: "full_name", Message: "full_name cannot exceed 100 characters"}
		}
		r.FullName = &n
	}
	if r.AvatarURL != nil {
		a := strings.TrimSpace(*r.AvatarURL)
		if a != "" {
			u, err := url.Parse(a)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return &ValidationError{Field: "avatar_url", Message: "avatar_url must be an absolute http(s) URL"}
			}
		}
		r.AvatarURL = &a
	}
	return nil
}

// UpdateProfileResult is the outcome of a profile edit. On failure Code is either
// a store error code (e.g. "23505") or an application error code.
type UpdateProfileResult struct {
	Success bool         `json:"success"`
	Code    string       `json:"code,omitempty"`
	Message string       `json:"message,omitempty"`
	Field   string       `json:"field,omitempty"`
	Profile *UserProfile `json:"profile,omitempty"`
}
