package gateway

import "errors"

var (
	// ErrInvalidCommand is returned when a command is missing its device
	// ID or payload.
	ErrInvalidCommand = errors.New("gateway: invalid command")
)
