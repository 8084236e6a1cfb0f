package hnsw

import "errors"

// Errors reported by the index. None are retried internally; callers decide.
var (
	// ErrDimensionMismatch means an input vector's length does not equal
	// the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidConfig means the index was constructed with an unusable
	// dimension. Non-positive parameters are replaced by defaults instead.
	ErrInvalidConfig = errors.New("invalid index config")

	// ErrUnknownMetric means a metric name did not parse.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrCorruptSnapshot means a snapshot failed its magic, version, CRC,
	// or structural validation on load.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)
