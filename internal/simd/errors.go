package simd

import "errors"

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrRunExists    = errors.New("run already exists")
	ErrRunTerminal  = errors.New("run is terminal")
	ErrRunIDMissing = errors.New("run_id is required")
	ErrInvalidInput = errors.New("invalid run input")
	ErrTooManyRuns  = errors.New("too many runs in progress")
	ErrNoResult     = errors.New("result not available")
)
