// Package claimmap derives profile seeds from identity metadata using JMESPath
// expressions.
package claimmap

import (
	"fmt"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/model"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// Expressions are evaluated against {"id", "email", "user_metadata"}.
type Expressions struct {
	Username  string
	FullName  string
	AvatarURL string
}

type searchFunc func(data any) (any, error)

// Mapper implements ports.ClaimMapper. Empty expressions are skipped.
type Mapper struct {
	username  searchFunc
	fullName  searchFunc
	avatarURL searchFunc
}

var _ ports.ClaimMapper = (*Mapper)(nil)

// New compiles the expressions.
func New(exprs Expressions) (*Mapper, error) {
	var m Mapper
	var err error
	if m.username, err = compile("username", exprs.Username); err != nil {
		return nil, err
	}
	if m.fullName, err = compile("full_name", exprs.FullName); err != nil {
		return nil, err
	}
	if m.avatarURL, err = compile("avatar_url", exprs.AvatarURL); err != nil {
		return nil, err
	}
	return &m, nil
}

func compile(field, expr string) (searchFunc, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	jp, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile %s claim expression: %w", field, err)
	}
	return jp.Search, nil
}

// Seed builds the first-sign-in profile seed. The username falls back to the
// local part of the email and is normalized to the username alphabet; it is
// left empty when too short to be valid.
func (m *Mapper) Seed(identity domainauth.Identity) (model.ProfileSeed, error) {
	if identity.UserID == "" {
		return model.ProfileSeed{}, fmt.Errorf("identity has no user id")
	}

	metadata := identity.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	doc := map[string]any{
		"id":            identity.UserID,
		"email":         identity.Email,
		"user_metadata": metadata,
	}

	seed := model.ProfileSeed{ID: identity.UserID}
	var err error
	if seed.Username, err = lookup(m.username, doc); err != nil {
		return model.ProfileSeed{}, err
	}
	if seed.Username == nil {
		seed.Username = emailLocalPart(identity.Email)
	}
	seed.Username = normalizeUsername(seed.Username)
	if seed.FullName, err = lookup(m.fullName, doc); err != nil {
		return model.ProfileSeed{}, err
	}
	if seed.AvatarURL, err = lookup(m.avatarURL, doc); err != nil {
		return model.ProfileSeed{}, err
	}
	return seed, nil
}

// lookup returns nil for missing, non-string or blank results.
func lookup(search searchFunc, doc map[string]any) (*string, error) {
	if search == nil {
		return nil, nil
	}
	v, err := search(doc)
	if err != nil {
		return nil, fmt.Errorf("evaluate claim expression: %w", err)
	}
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func emailLocalPart(email string) *string {
	local, _, found := strings.Cut(strings.TrimSpace(email), "@")
	if !found || local == "" {
		return nil
	}
	return &local
}

func normalizeUsername(u *string) *string {
	if u == nil {
		return nil
	}
	n, ok := model.NormalizeUsername(*u)
	if !ok {
		return nil
	}
	return &n
}
