package mesh

import "errors"

// Domain errors for the mesh bridge package.
var (
	// ErrMalformedPayload is returned when a gateway message cannot be decoded.
	ErrMalformedPayload = errors.New("mesh: malformed payload")

	// ErrTransport is returned when a publish to the gateway fails.
	ErrTransport = errors.New("mesh: transport error")

	// ErrUnknownEntity is returned when no light or group has the address.
	ErrUnknownEntity = errors.New("mesh: unknown entity")

	// ErrUnknownScene is returned when no scene has the ID.
	ErrUnknownScene = errors.New("mesh: unknown scene")

	// ErrInvalidBrightness is returned for brightness outside 0..255.
	ErrInvalidBrightness = errors.New("mesh: brightness must be between 0 and 255")

	// ErrInvalidPingKind is returned for an unrecognised ping kind.
	ErrInvalidPingKind = errors.New("mesh: ping kind must be lightness or power")

	// ErrInvalidMode is returned for an unrecognised polling mode.
	ErrInvalidMode = errors.New("mesh: polling mode must be independent or rotational")

	// ErrCyclePanic wraps a panic recovered from a rotational polling cycle.
	ErrCyclePanic = errors.New("mesh: polling cycle panicked")

	// ErrSessionStopped is returned by operations on a stopped session.
	ErrSessionStopped = errors.New("mesh: session stopped")
)
