package httpx

import (
	"log/slog"
	"net/http"

	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/service"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
)

// OnboardingHandlers serves the onboarding flag and slides.
type OnboardingHandlers struct {
	Svc     *service.OnboardingService
	Devices *authstate.Registry
	Logger  *slog.Logger
}

// Get handles GET /v1/onboarding.
func (h *OnboardingHandlers) Get(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := DeviceIDFromContext(r.Context())
	view, err := h.Svc.View(r.Context(), deviceID)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "read onboarding flag failed", "device_id", deviceID, "error", err)
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "onboarding unavailable"))
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// Complete handles POST /v1/onboarding/complete. A running manager picks up the
// flag immediately so the next guard decision routes past onboarding.
func (h *OnboardingHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	deviceID, _ := DeviceIDFromContext(r.Context())
	if err := h.Svc.Complete(r.Context(), deviceID); err != nil {
		h.Logger.ErrorContext(r.Context(), "store onboarding flag failed", "device_id", deviceID, "error", err)
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "onboarding unavailable"))
		return
	}
	if m, ok := h.Devices.Get(deviceID); ok {
		m.SetOnboarded()
	}
	WriteJSON(w, http.StatusOK, service.OnboardingView{HasSeenOnboarding: true})
}
