package engine

import (
	"github.com/GoSim-25-26J-441/simkernel/internal/activity"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
)

// Signals delivers lifecycle notifications to subscribers. Callbacks run
// synchronously in the engine goroutine at the moment of the transition and
// must not block.
type Signals struct {
	actorCreated      []func(*Actor)
	actorTerminated   []func(*Actor)
	actorDestroyed    []func(*Actor)
	activityStarted   []func(activity.Activity)
	activityCompleted []func(activity.Activity)
	resourceState     []func(resource.Resource)
	clockAdvanced     []func(float64)
}

// Observer attaches itself to the signals of an engine.
type Observer interface {
	Subscribe(s *Signals)
}

func (s *Signals) SubscribeActorCreated(fn func(*Actor)) {
	s.actorCreated = append(s.actorCreated, fn)
}

func (s *Signals) SubscribeActorTerminated(fn func(*Actor)) {
	s.actorTerminated = append(s.actorTerminated, fn)
}

func (s *Signals) SubscribeActorDestroyed(fn func(*Actor)) {
	s.actorDestroyed = append(s.actorDestroyed, fn)
}

func (s *Signals) SubscribeClockAdvanced(fn func(float64)) {
	s.clockAdvanced = append(s.clockAdvanced, fn)
}

func (s *Signals) SubscribeActivityStarted(fn func(activity.Activity)) {
	s.activityStarted = append(s.activityStarted, fn)
}

func (s *Signals) SubscribeActivityCompleted(fn func(activity.Activity)) {
	s.activityCompleted = append(s.activityCompleted, fn)
}

// SubscribeResourceStateChanged registers fn for resources turning on or off.
func (s *Signals) SubscribeResourceStateChanged(fn func(resource.Resource)) {
	s.resourceState = append(s.resourceState, fn)
}

func emit[T any](fns []func(T), v T) {
	for _, fn := range fns {
		fn(v)
	}
}
