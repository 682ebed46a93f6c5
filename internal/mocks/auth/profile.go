package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/ports"
)

var _ ports.ProfileStore = (*MemoryProfileStore)(nil)

// MemoryProfileStore is an in-memory ProfileStore. Username uniqueness is enforced
// and reported the way Postgres reports it.
type MemoryProfileStore struct {
	// Err, when set, is returned by every call.
	Err error

	mu       sync.Mutex
	profiles map[string]model.UserProfile
	calls    map[string]int
	now      func() time.Time
}

// NewMemoryProfileStore creates an empty store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]model.UserProfile),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// Put stores p as is.
func (m *MemoryProfileStore) Put(p model.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// Calls returns how many times the named method ran.
func (m *MemoryProfileStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MemoryProfileStore) GetByID(_ context.Context, id string) (*model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetByID"]++
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryProfileStore) Upsert(_ context.Context, seed model.ProfileSeed) (*model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Upsert"]++
	if m.Err != nil {
		return nil, m.Err
	}
	if seed.ID == "" {
		return nil, errors.New("profile id is required")
	}
	if p, ok := m.profiles[seed.ID]; ok {
		return &p, nil
	}
	if seed.Username != nil && m.usernameTaken(*seed.Username, seed.ID) {
		return nil, usernameViolation()
	}
	now := m.now().UTC()
	p := model.UserProfile{
		ID:        seed.ID,
		Username:  seed.Username,
		FullName:  seed.FullName,
		AvatarURL: seed.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.profiles[p.ID] = p
	return &p, nil
}

func (m *MemoryProfileStore) Update(
	_ context.Context,
	id string,
	req model.UpdateProfileRequest,
) (*model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Update"]++
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.profiles[id]
	if !ok {
		return nil, apperrors.NotFound("profile not found")
	}
	if req.Username != nil {
		if m.usernameTaken(*req.Username, id) {
			return nil, usernameViolation()
		}
		u := *req.Username
		p.Username = &u
	}
	if req.FullName != nil {
		p.FullName = nilIfEmpty(*req.FullName)
	}
	if req.AvatarURL != nil {
		p.AvatarURL = nilIfEmpty(*req.AvatarURL)
	}
	p.UpdatedAt = m.now().UTC()
	m.profiles[id] = p
	return &p, nil
}

func (m *MemoryProfileStore) usernameTaken(username, exceptID string) bool {
	for id, p := range m.profiles {
		if id != exceptID && p.Username != nil && *p.Username == username {
			return true
		}
	}
	return false
}

func usernameViolation() error {
	return apperrors.MapDBError(&pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		Message:        `duplicate key value violates unique constraint "profiles_username_key"`,
		Detail:         "Key (username)=(taken) already exists.",
		ConstraintName: "profiles_username_key",
	})
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
