package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kerdos/kerdos-api/internal/domain/nav"
	"github.com/kerdos/kerdos-api/internal/service"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
)

const screensPrefix = "/v1/screens/"

// ScreenHandlers applies the navigation guard and renders screen models.
type ScreenHandlers struct {
	Screens    *service.ScreenService
	Onboarding *service.OnboardingService
	Devices    *authstate.Registry
	Logger     *slog.Logger
}

type screenResponse struct {
	Decision nav.Decision         `json:"decision"`
	Model    *service.ScreenModel `json:"model,omitempty"`
}

// ScreenPath returns the route of a screen.
func ScreenPath(s nav.Screen) string { return screensPrefix + string(s) }

// Screen handles GET /v1/screens/{screen...}. A guarded location answers 303
// with the entry screen in Location; a loading state answers 202.
func (h *ScreenHandlers) Screen(w http.ResponseWriter, r *http.Request) {
	screen, known := nav.ParseScreen(r.PathValue("screen"))
	if !known {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "not_found",
			Err:     errors.New("unknown screen"),
		})
		return
	}
	m, ok := deviceManager(w, r, h.Devices)
	if !ok {
		return
	}

	d := m.Navigate(screen)
	switch {
	case d.Status == nav.StatusLoading:
		w.Header().Set("Retry-After", retryAfterSeconds)
		WriteJSON(w, http.StatusAccepted, screenResponse{Decision: d})
		return
	case d.Redirect:
		w.Header().Set("Location", ScreenPath(d.Target))
		WriteJSON(w, http.StatusSeeOther, screenResponse{Decision: d})
		return
	}

	var onboarding service.OnboardingView
	if screen == nav.ScreenOnboarding {
		var err error
		if onboarding, err = h.Onboarding.View(r.Context(), m.DeviceID()); err != nil {
			h.Logger.WarnContext(r.Context(), "read onboarding failed", "device_id", m.DeviceID(), "error", err)
			WriteAppError(w, err)
			return
		}
	}
	model, err := h.Screens.Build(r.Context(), screen, m.State(), onboarding)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "build screen failed", "screen", screen, "error", err)
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, screenResponse{Decision: d, Model: &model})
}

// Calendar handles GET /v1/calendar?month=YYYY-MM.
func (h *ScreenHandlers) Calendar(w http.ResponseWriter, r *http.Request) {
	cal, err := h.Screens.Calendar(r.URL.Query().Get("month"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cal)
}
