package resource

import (
	"fmt"
	"math"

	"github.com/GoSim-25-26J-441/simkernel/internal/lmm"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// ActionState is the lifecycle state of a model action.
type ActionState int

const (
	ActionStarted ActionState = iota
	ActionFinished
	ActionFailed
	ActionCanceled
)

func (s ActionState) String() string {
	switch s {
	case ActionStarted:
		return "started"
	case ActionFinished:
		return "finished"
	case ActionFailed:
		return "failed"
	case ActionCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("ActionState(%d)", int(s))
	}
}

// Action is the amount of work a model still has to serve for one activity.
// Its rate is the value of its sharing-system variable.
type Action struct {
	model    *ModelBase
	variable *lmm.Variable

	cost        float64
	remaining   float64
	startTime   float64
	finishTime  float64
	maxDuration float64

	// latency still to pay before the variable gets enabled
	latency    float64
	latCurrent float64

	penalty   float64
	userBound float64
	capBound  func(user float64) float64
	suspended bool

	state ActionState
	err   error
	data  any
}

func newAction(m *ModelBase, cost float64) *Action {
	return &Action{
		model:       m,
		cost:        cost,
		remaining:   cost,
		startTime:   m.clock.Now(),
		finishTime:  -1,
		maxDuration: utils.NoMaxDuration,
		penalty:     1,
		userBound:   -1,
		state:       ActionStarted,
	}
}

// Model returns the model serving the action.
func (a *Action) Model() Model { return a.model }

// Variable returns the sharing-system variable, nil once the action ended.
func (a *Action) Variable() *lmm.Variable { return a.variable }

// Cost returns the initial amount of work.
func (a *Action) Cost() float64 { return a.cost }

// Remaining returns the amount of work left. It only decreases while the
// action runs.
func (a *Action) Remaining() float64 { return a.remaining }

// Rate returns the share allocated by the last solve.
func (a *Action) Rate() float64 {
	if a.variable == nil {
		return 0
	}
	return a.variable.Value()
}

func (a *Action) State() ActionState  { return a.state }
func (a *Action) Err() error          { return a.err }
func (a *Action) StartTime() float64  { return a.startTime }
func (a *Action) FinishTime() float64 { return a.finishTime }
func (a *Action) Latency() float64    { return a.latency }
func (a *Action) IsSuspended() bool   { return a.suspended }

// Data returns the value attached with SetData, usually the owning activity.
func (a *Action) Data() any { return a.data }

// SetData attaches an arbitrary value to the action.
func (a *Action) SetData(d any) { a.data = d }

// SetMaxDuration finishes the action after d seconds even if work remains.
func (a *Action) SetMaxDuration(d float64) { a.maxDuration = d }

// MaxDuration returns the time left before a forced finish, or
// utils.NoMaxDuration.
func (a *Action) MaxDuration() float64 { return a.maxDuration }

// SetSharingPenalty changes the weight of the action in the sharing system:
// with a penalty of 2 the action receives half of the share of a penalty 1
// action on the same resources.
func (a *Action) SetSharingPenalty(p float64) {
	a.penalty = p
	if a.running() && !a.suspended && a.latency == 0 {
		a.model.system.UpdateVariablePenalty(a.variable, p)
	}
}

// SharingPenalty returns the current weight of the action.
func (a *Action) SharingPenalty() float64 { return a.penalty }

// SetBound caps the rate of the action. A non-positive bound removes the cap.
func (a *Action) SetBound(bound float64) {
	a.userBound = bound
	if !a.running() {
		return
	}
	if a.capBound != nil {
		bound = a.capBound(bound)
	}
	a.model.system.UpdateVariableBound(a.variable, bound)
}

// Bound returns the cap set with SetBound, -1 when none.
func (a *Action) Bound() float64 { return a.userBound }

// Suspend freezes the action: it keeps its remaining work and receives no share.
func (a *Action) Suspend() {
	if !a.running() || a.suspended {
		return
	}
	a.suspended = true
	a.model.system.UpdateVariablePenalty(a.variable, 0)
}

// Resume undoes Suspend.
func (a *Action) Resume() {
	if !a.running() || !a.suspended {
		return
	}
	a.suspended = false
	if a.latency == 0 {
		a.model.system.UpdateVariablePenalty(a.variable, a.penalty)
	}
}

// Cancel stops the action without reporting it through Drain. The remaining
// amount keeps its last value.
func (a *Action) Cancel() {
	if !a.running() {
		return
	}
	a.terminate(ActionCanceled, nil)
}

// Fail terminates the action with err. It is reported by the next Drain.
func (a *Action) Fail(err error) {
	if !a.running() {
		return
	}
	a.terminate(ActionFailed, err)
	a.model.done = append(a.model.done, a)
}

func (a *Action) finish() {
	a.terminate(ActionFinished, nil)
	a.model.done = append(a.model.done, a)
}

func (a *Action) running() bool { return a.state == ActionStarted }

func (a *Action) terminate(state ActionState, err error) {
	a.state = state
	a.err = err
	a.finishTime = a.model.clock.Now()
	if a.variable != nil {
		a.model.system.FreeVariable(a.variable)
		a.variable = nil
	}
	a.model.remove(a)
}

// nextEvent returns the time until the action ends at its current rate, or -1.
func (a *Action) nextEvent() float64 {
	if a.suspended {
		return -1
	}
	d := -1.0
	if a.latency > 0 {
		d = a.latency
	} else if rate := a.Rate(); rate > 0 {
		d = a.remaining / rate
	} else if a.remaining <= 0 && a.penalty > 0 {
		d = 0
	}
	if a.maxDuration != utils.NoMaxDuration {
		d = utils.MinDate(d, math.Max(a.maxDuration, 0))
	}
	return d
}

// update consumes delta seconds of the action and reports whether it ended.
func (a *Action) update(delta float64) bool {
	if a.suspended {
		return false
	}
	m := a.model
	deltap := delta
	if a.latency > 0 {
		if a.latency > deltap {
			utils.DoubleUpdate(&a.latency, deltap, m.timingPrecision)
			deltap = 0
		} else {
			deltap -= a.latency
			a.latency = 0
		}
		if a.latency == 0 {
			m.system.UpdateVariablePenalty(a.variable, a.penalty)
		}
	}

	if deltap > 0 {
		// Large amounts carry proportionally large rounding residues.
		tolerance := m.precision * m.timingPrecision * math.Max(1, a.cost)
		utils.DoubleUpdate(&a.remaining, a.Rate()*deltap, tolerance)
	}
	if a.maxDuration != utils.NoMaxDuration {
		utils.DoubleUpdate(&a.maxDuration, delta, m.timingPrecision)
	}

	done := a.remaining <= 0 && a.latency == 0 && a.penalty > 0
	if a.maxDuration != utils.NoMaxDuration && a.maxDuration <= 0 {
		done = true
	}
	if done {
		a.finish()
	}
	return done
}
