package model

import "errors"

// Sentinel validation errors, wrapped with context via fmt.Errorf("%w: ...").
var (
	ErrInvalidContext       = errors.New("invalid context")
	ErrInvalidMachineConfig = errors.New("invalid machine config")
	ErrInvalidTask          = errors.New("invalid task definition")
	ErrInvalidRetryPolicy   = errors.New("invalid retry policy")
	ErrUnknownTool          = errors.New("no adapter registered for tool")
)
