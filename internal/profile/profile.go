// Package profile holds external load and availability traces applied to
// resources at fixed simulated dates, and the future event set ordering them.
package profile

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
)

// DatedValue is one point of a profile.
type DatedValue struct {
	Date  float64
	Value float64
}

// Sampler draws one value from a distribution.
type Sampler interface {
	Rand() float64
}

// constant is a degenerate distribution.
type constant float64

func (c constant) Rand() float64 { return float64(c) }

// Profile is either a list of dated values, optionally replayed every period
// seconds, or a stochastic generator.
type Profile struct {
	name   string
	events []DatedValue
	period float64

	stochastic bool
	delay      config.Distribution
	value      config.Distribution
	seed       uint64
	count      int
}

// New creates a deterministic profile. Dates must be non-decreasing; with a
// positive period the list restarts every period seconds.
func New(name string, events []DatedValue, period float64) *Profile {
	return &Profile{name: name, events: append([]DatedValue(nil), events...), period: period}
}

// NewStochastic creates a profile whose inter-event delays and values are drawn
// from the given distributions. count bounds the number of events; 0 means
// unbounded.
func NewStochastic(name string, delay, value config.Distribution, seed uint64, count int) (*Profile, error) {
	if _, err := newSampler(delay, nil); err != nil {
		return nil, fmt.Errorf("profile %s delay: %w", name, err)
	}
	if _, err := newSampler(value, nil); err != nil {
		return nil, fmt.Errorf("profile %s value: %w", name, err)
	}
	return &Profile{
		name:       name,
		stochastic: true,
		delay:      delay,
		value:      value,
		seed:       seed,
		count:      count,
	}, nil
}

// FromConfig builds a profile from its YAML description. A nil description
// yields a nil profile.
func FromConfig(name string, p *config.Profile) (*Profile, error) {
	if p == nil {
		return nil, nil
	}
	if p.Stochastic != nil {
		s := p.Stochastic
		return NewStochastic(name, s.Delay, s.Value, s.Seed, s.Count)
	}
	events := make([]DatedValue, 0, len(p.Events))
	for _, ev := range p.Events {
		events = append(events, DatedValue{Date: ev.Date, Value: ev.Value})
	}
	return New(name, events, p.Period), nil
}

// Name returns the profile name.
func (p *Profile) Name() string { return p.name }

// Period returns the replay period, 0 when the profile does not repeat.
func (p *Profile) Period() float64 { return p.period }

// Schedule registers the first occurrence of the profile in fes and returns
// the handle that will be popped for target.
func (p *Profile) Schedule(fes *FutureEventSet, target any) *Event {
	ev := &Event{profile: p, target: target}
	if p.stochastic {
		ev.delay, _ = newSampler(p.delay, rand.NewSource(p.seed))
		ev.value, _ = newSampler(p.value, rand.NewSource(p.seed+1))
	}
	if !p.advance(ev) {
		ev.done = true
		return ev
	}
	fes.push(ev)
	return ev
}

// advance moves ev to the next occurrence and reports whether one exists.
func (p *Profile) advance(ev *Event) bool {
	if p.stochastic {
		if p.count > 0 && ev.emitted >= p.count {
			return false
		}
		d := ev.delay.Rand()
		if d < 0 {
			d = 0
		}
		v := ev.value.Rand()
		if v < 0 {
			v = 0
		}
		ev.date += d
		ev.current = v
		ev.emitted++
		return true
	}

	if len(p.events) == 0 {
		return false
	}
	if ev.emitted > 0 {
		ev.idx++
		if ev.idx >= len(p.events) {
			if p.period <= 0 {
				return false
			}
			ev.idx = 0
			ev.cycle++
		}
	}
	point := p.events[ev.idx]
	ev.date = point.Date + float64(ev.cycle)*p.period
	ev.current = point.Value
	ev.emitted++
	return true
}

func newSampler(d config.Distribution, src rand.Source) (Sampler, error) {
	param := func(i int) (float64, error) {
		if i >= len(d.Params) {
			return 0, fmt.Errorf("%s needs %d parameters", d.Kind, i+1)
		}
		return d.Params[i], nil
	}
	switch d.Kind {
	case "constant":
		v, err := param(0)
		return constant(v), err
	case "exponential":
		rate, err := param(0)
		if err != nil {
			return nil, err
		}
		if rate <= 0 {
			return nil, fmt.Errorf("exponential rate must be positive")
		}
		return distuv.Exponential{Rate: rate, Src: src}, nil
	case "uniform":
		lo, err := param(0)
		if err != nil {
			return nil, err
		}
		hi, err := param(1)
		if err != nil {
			return nil, err
		}
		return distuv.Uniform{Min: lo, Max: hi, Src: src}, nil
	case "normal":
		mu, err := param(0)
		if err != nil {
			return nil, err
		}
		sigma, err := param(1)
		if err != nil {
			return nil, err
		}
		return distuv.Normal{Mu: mu, Sigma: sigma, Src: src}, nil
	default:
		return nil, fmt.Errorf("unknown distribution %q", d.Kind)
	}
}
