package httpx

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgerrcode"

	"github.com/kerdos/kerdos-api/internal/domain/model"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/service"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
)

// ProfileHandlers serves reads and edits of the signed-in user's profile.
type ProfileHandlers struct {
	Devices *authstate.Registry
	Logger  *slog.Logger
}

// Refresh handles POST /v1/profile/refresh.
func (h *ProfileHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	m, ok := deviceManager(w, r, h.Devices)
	if !ok {
		return
	}
	if err := m.RefreshProfile(r.Context()); err != nil {
		h.Logger.WarnContext(r.Context(), "refresh profile failed", "device_id", m.DeviceID(), "error", err)
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "profile refresh failed"))
		return
	}
	WriteJSON(w, http.StatusOK, authstate.ViewOf(m.State()))
}

// Update handles PATCH /v1/profile. The body is always the update result; the
// status reflects its code.
func (h *ProfileHandlers) Update(w http.ResponseWriter, r *http.Request) {
	m, ok := deviceManager(w, r, h.Devices)
	if !ok {
		return
	}
	var req model.UpdateProfileRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	res := m.UpdateProfile(r.Context(), req)
	WriteJSON(w, updateStatus(res), res)
}

func updateStatus(res model.UpdateProfileResult) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case service.UpdateCodeValidation:
		return http.StatusUnprocessableEntity
	case service.UpdateCodeUnauthorized:
		return http.StatusUnauthorized
	case pgerrcode.UniqueViolation:
		return http.StatusConflict
	default:
		return StatusForCode(apperrors.ErrorCode(res.Code))
	}
}
