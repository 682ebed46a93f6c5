package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/service/authstate"
	"github.com/kerdos/kerdos-api/internal/stream"
)

const (
	// defaultLaunchWait bounds how long /v1/launch waits for the first session check.
	defaultLaunchWait = 3 * time.Second
	retryAfterSeconds = "1"
)

// DeviceHandlers serves the per-device session lifecycle and its state.
type DeviceHandlers struct {
	Devices    *authstate.Registry
	Hub        *stream.Hub
	Upgrader   *websocket.Upgrader
	LaunchWait time.Duration
	Logger     *slog.Logger
}

// deviceManager resolves the manager of the request's device, starting it if needed.
// It writes the error response and returns false on failure.
func deviceManager(w http.ResponseWriter, r *http.Request, devices *authstate.Registry) (*authstate.Manager, bool) {
	deviceID, ok := DeviceIDFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "device_id_required",
			Err:     errors.New(DeviceIDHeader + " header is required"),
		})
		return nil, false
	}
	m, err := devices.Acquire(deviceID)
	if err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "device session unavailable"))
		return nil, false
	}
	return m, true
}

// snapshot evaluates the guard at the device's current location and pairs the
// decision with the client view of the state.
func snapshot(m *authstate.Manager) stream.AuthStateData {
	d := m.Navigate(m.Location())
	return stream.AuthStateData{
		State:    authstate.ViewOf(m.State()),
		Location: m.Location(),
		Decision: d,
	}
}

// Launch handles POST /v1/launch. It answers 200 once the first session check
// resolves, or 202 with Retry-After if it is still pending after LaunchWait.
func (h *DeviceHandlers) Launch(w http.ResponseWriter, r *http.Request) {
	m, ok := deviceManager(w, r, h.Devices)
	if !ok {
		return
	}

	wait := h.LaunchWait
	if wait <= 0 {
		wait = defaultLaunchWait
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	_, err := m.WaitInitialized(ctx)
	switch {
	case err == nil:
		WriteJSON(w, http.StatusOK, snapshot(m))
	case errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", retryAfterSeconds)
		WriteJSON(w, http.StatusAccepted, snapshot(m))
	default:
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "device session unavailable"))
	}
}

// Release handles POST /v1/release: the app went away, so its manager and
// push connections are torn down.
func (h *DeviceHandlers) Release(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := DeviceIDFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "device_id_required",
			Err:     errors.New(DeviceIDHeader + " header is required"),
		})
		return
	}
	h.Devices.Release(deviceID)
	if h.Hub != nil {
		h.Hub.Disconnect(deviceID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// State handles GET /v1/auth/state.
func (h *DeviceHandlers) State(w http.ResponseWriter, r *http.Request) {
	m, ok := deviceManager(w, r, h.Devices)
	if !ok {
		return
	}
	snap := snapshot(m)
	if !snap.State.Initialized {
		w.Header().Set("Retry-After", retryAfterSeconds)
		WriteJSON(w, http.StatusAccepted, snap)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// Stream handles GET /v1/auth/stream by upgrading to a websocket that pushes
// every state change.
func (h *DeviceHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	m, ok := deviceManager(w, r, h.Devices)
	if !ok {
		return
	}
	upgrader := h.Upgrader
	if upgrader == nil {
		upgrader = stream.Upgrader(nil)
	}
	stream.ServeWs(h.Hub, upgrader, m, h.Logger, w, r)
}
