package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/service"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
)

// OAuthFlow is the sign-in flow the auth handlers drive.
type OAuthFlow interface {
	Begin(ctx context.Context, deviceID, provider string) (string, error)
	CompleteRedirect(ctx context.Context, in service.RedirectInput) (string, error)
	ProcessDeepLink(ctx context.Context, deviceID, rawURL string) (service.DeepLinkResult, error)
}

var _ OAuthFlow = (*service.OAuthService)(nil)

// AuthHandlers serves the OAuth sign-in flow and sign-out.
type AuthHandlers struct {
	OAuth   OAuthFlow
	Devices *authstate.Registry
	Logger  *slog.Logger
}

type beginOAuthRequest struct {
	Provider string `json:"provider"`
}

type beginOAuthResponse struct {
	URL string `json:"url"`
}

type deepLinkRequest struct {
	URL string `json:"url"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// BeginOAuth handles POST /v1/auth/oauth and returns the provider URL the app opens.
func (h *AuthHandlers) BeginOAuth(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := DeviceIDFromContext(r.Context())
	var req beginOAuthRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	url, err := h.OAuth.Begin(r.Context(), deviceID, req.Provider)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "begin oauth failed", "provider", req.Provider, "error", err)
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, beginOAuthResponse{URL: url})
}

// Callback handles GET /auth/callback, the provider's redirect. It always
// redirects to the app deep link, which carries either tokens or an error.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	link, err := h.OAuth.CompleteRedirect(r.Context(), service.RedirectInput{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.Logger.WarnContext(r.Context(), "oauth callback failed", "error", err)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, link, http.StatusFound)
}

// DeepLink handles POST /v1/auth/deeplink with the callback URL the app received.
func (h *AuthHandlers) DeepLink(w http.ResponseWriter, r *http.Request) {
	m, ok := deviceManager(w, r, h.Devices)
	if !ok {
		return
	}
	var req deepLinkRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	res, err := h.OAuth.ProcessDeepLink(r.Context(), m.DeviceID(), req.URL)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "deep link rejected", "device_id", m.DeviceID(), "error", err)
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse{Status: string(res.Status)})
}

// SignOut handles POST /v1/auth/signout. The published SIGNED_OUT event resets
// the device state.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	m, ok := deviceManager(w, r, h.Devices)
	if !ok {
		return
	}
	if err := m.SignOut(r.Context()); err != nil {
		h.Logger.ErrorContext(r.Context(), "sign out failed", "device_id", m.DeviceID(), "error", err)
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "sign out failed")
		}
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse{Status: "signed_out"})
}
