package statistic

import "errors"

var (
	// ErrInvalidCapacity is returned when a buffer capacity is not positive.
	ErrInvalidCapacity = errors.New("statistic: invalid buffer capacity")
	// ErrInsufficientData is returned when a window has no samples to aggregate.
	ErrInsufficientData = errors.New("statistic: insufficient data")
)
