package claimmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
)

var defaultExprs = Expressions{
	Username:  "user_metadata.username || user_metadata.preferred_username",
	FullName:  "user_metadata.full_name || user_metadata.name",
	AvatarURL: "user_metadata.avatar_url || user_metadata.picture",
}

func TestMapper_Seed(t *testing.T) {
	m, err := New(defaultExprs)
	require.NoError(t, err)

	tests := []struct {
		name     string
		identity domainauth.Identity
		username *string
		fullName *string
		avatar   *string
	}{
		{
			name: "explicit metadata",
			identity: domainauth.Identity{
				UserID: "u1",
				Email:  "ana@example.com",
				Metadata: map[string]any{
					"username":   "ana_p",
					"full_name":  "Ana Pérez",
					"avatar_url": "https://img.example.com/a.png",
				},
			},
			username: strPtr("ana_p"),
			fullName: strPtr("Ana Pérez"),
			avatar:   strPtr("https://img.example.com/a.png"),
		},
		{
			name: "google style claims",
			identity: domainauth.Identity{
				UserID: "u2",
				Email:  "luis@example.com",
				Metadata: map[string]any{
					"name":    "Luis Gómez",
					"picture": "https://img.example.com/l.png",
				},
			},
			username: strPtr("luis"),
			fullName: strPtr("Luis Gómez"),
			avatar:   strPtr("https://img.example.com/l.png"),
		},
		{
			name:     "no metadata and no email",
			identity: domainauth.Identity{UserID: "u3"},
		},
		{
			name: "blank and non-string values are ignored",
			identity: domainauth.Identity{
				UserID:   "u4",
				Email:    "xyz@example.com",
				Metadata: map[string]any{"username": "  ", "full_name": 42},
			},
			username: strPtr("xyz"),
		},
		{
			name:     "email local part is normalized",
			identity: domainauth.Identity{UserID: "u5", Email: "ana.perez+kerdos@example.com"},
			username: strPtr("ana_perez_kerdos"),
		},
		{
			name: "claimed username is normalized",
			identity: domainauth.Identity{
				UserID:   "u6",
				Metadata: map[string]any{"username": "first-last"},
			},
			username: strPtr("first_last"),
		},
		{
			name:     "too short to be a username",
			identity: domainauth.Identity{UserID: "u7", Email: "x@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed, err := m.Seed(tt.identity)
			require.NoError(t, err)
			assert.Equal(t, tt.identity.UserID, seed.ID)
			assert.Equal(t, tt.username, seed.Username)
			assert.Equal(t, tt.fullName, seed.FullName)
			assert.Equal(t, tt.avatar, seed.AvatarURL)
		})
	}
}

func TestMapper_RequiresUserID(t *testing.T) {
	m, err := New(defaultExprs)
	require.NoError(t, err)
	_, err = m.Seed(domainauth.Identity{Email: "a@b.c"})
	require.Error(t, err)
}

func TestNew_InvalidExpression(t *testing.T) {
	_, err := New(Expressions{Username: "user_metadata.["})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username")
}

func strPtr(s string) *string { return &s }
