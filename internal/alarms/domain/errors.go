package alarms

import "errors"

var (
	// ErrInvalidTolerance is returned when a tolerance configuration cannot be evaluated.
	ErrInvalidTolerance = errors.New("alarm: invalid tolerance")
	// ErrUnknownEventType is returned when parsing an unsupported event type.
	ErrUnknownEventType = errors.New("alarm: unknown event type")
)
