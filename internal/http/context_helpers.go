package httpx

import "context"

// deviceKey is an unexported context key type to avoid collisions across packages.
type deviceKey struct{}

// SetDeviceIDInContext returns a child context that carries the device id.
// An empty id leaves ctx unchanged.
func SetDeviceIDInContext(ctx context.Context, deviceID string) context.Context {
	if deviceID == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceKey{}, deviceID)
}

// DeviceIDFromContext returns the device id and whether one is present.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceKey{}).(string)
	return id, ok && id != ""
}
