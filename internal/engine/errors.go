package engine

import (
	"errors"

	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
)

// Errors surfaced by blocking calls. Callers match them with errors.Is.
var (
	ErrResourceUnavailable = activity.ErrResourceUnavailable
	ErrDependencyNotSolved = activity.ErrDependencyNotSolved
	ErrDependencyFailed    = activity.ErrDependencyFailed
	ErrNotReady            = activity.ErrNotReady
	ErrCanceled            = activity.ErrCanceled
	ErrTimeout             = activity.ErrTimeout
	ErrInvalidState        = activity.ErrInvalidState

	// ErrActorKilled is the cause of activities canceled or failed because
	// their actor was killed, and the exit cause of killed actors.
	ErrActorKilled = errors.New("actor killed")
	// ErrHostOff is the exit cause of actors whose host turned off.
	ErrHostOff = errors.New("host turned off")
)
