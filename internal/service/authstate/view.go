package authstate

import (
	"time"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/model"
)

// SessionView describes a session without its tokens.
type SessionView struct {
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// View is the client-facing form of a State. Tokens never leave the service.
type View struct {
	User        *domainauth.Identity `json:"user"`
	Profile     *model.UserProfile   `json:"profile"`
	Session     *SessionView         `json:"session"`
	Loading     bool                 `json:"loading"`
	Initialized bool                 `json:"initialized"`
}

// ViewOf builds the View of s.
func ViewOf(s domainauth.State) View {
	v := View{
		User:        s.User,
		Profile:     s.Profile,
		Loading:     s.Loading,
		Initialized: s.Initialized,
	}
	if s.Session != nil {
		v.Session = &SessionView{ExpiresAt: s.Session.ExpiresAt(), CreatedAt: s.Session.CreatedAt}
	}
	return v
}
