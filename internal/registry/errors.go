package registry

import "errors"

// Domain errors for the registry package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, registry.ErrDecode) {
//	    // malformed payload, message was dropped
//	}
var (
	// ErrDecode is returned when a device-attribute payload cannot be decoded.
	// The device record is left unchanged; the error is never fatal.
	ErrDecode = errors.New("registry: payload decode failed")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("registry: device not found")

	// ErrInvalidDeviceID is returned when an empty device ID is supplied.
	ErrInvalidDeviceID = errors.New("registry: device id cannot be empty")
)
