package reporting

import "errors"

// Sentinel errors for the reporting service layer.
var (
	ErrNoData            = errors.New("no snapshot covers the requested window and live fetch is unavailable")
	ErrAssistantOff      = errors.New("assistant is not enabled")
	ErrNoFetcher         = errors.New("live fetch is not configured")
	ErrInvalidAssignment = errors.New("invalid group assignment")
)
