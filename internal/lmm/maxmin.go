package lmm

import (
	"golang.org/x/exp/slices"

	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// solveMaxMin runs weighted water-filling. Each round finds the constraints
// with the smallest remaining/usage ratio, fixes every variable on them at
// that fair share (or at its own bound when the bound is smaller), and
// subtracts the fixed consumptions from every constraint those variables use.
func (s *System) solveMaxMin() {
	prec := s.precision

	for _, v := range s.variables {
		v.value = 0
		v.fixed = false
	}

	// Variables on a constraint with no capacity stay at 0 everywhere.
	for _, c := range s.constraints {
		c.inLight = false
		if len(c.elements) == 0 {
			continue
		}
		if !utils.DoublePositive(c.DynamicBound(), c.bound*prec) {
			for _, e := range c.elements {
				if e.enabled() {
					e.variable.fixed = true
				}
			}
		}
	}

	light := make([]*Constraint, 0, len(s.constraints))
	for _, c := range s.constraints {
		if len(c.elements) == 0 {
			continue
		}
		c.remaining = c.DynamicBound()
		c.usage = 0
		if !utils.DoublePositive(c.remaining, c.bound*prec) {
			continue
		}
		for _, e := range c.elements {
			e.active = false
			if !e.enabled() || e.variable.fixed {
				continue
			}
			share := e.consumption / e.variable.penalty
			if c.policy == Fatpipe {
				if share > c.usage {
					c.usage = share
				}
			} else {
				c.usage += share
			}
			e.active = true
		}
		if c.usage > 0 {
			c.inLight = true
			light = append(light, c)
		}
	}

	for len(light) > 0 {
		minUsage := -1.0
		var saturated []*Constraint
		for _, c := range light {
			ratio := c.remaining / c.usage
			switch {
			case minUsage < 0 || ratio < minUsage:
				minUsage = ratio
				saturated = append(saturated[:0], c)
			case ratio == minUsage:
				saturated = append(saturated, c)
			}
		}

		var vars []*Variable
		for _, c := range saturated {
			for _, e := range c.elements {
				v := e.variable
				if e.active && !v.fixed && !slices.Contains(vars, v) {
					vars = append(vars, v)
				}
			}
		}
		if len(vars) == 0 {
			for _, c := range saturated {
				c.inLight = false
			}
			light = compactLight(light)
			continue
		}
		slices.SortFunc(vars, func(a, b *Variable) int {
			switch {
			case a.id < b.id:
				return -1
			case a.id > b.id:
				return 1
			}
			return 0
		})

		minBound := -1.0
		for _, v := range vars {
			if v.bound > 0 && v.bound*v.penalty < minUsage {
				if minBound < 0 || v.bound*v.penalty < minBound {
					minBound = v.bound * v.penalty
				}
			}
		}

		for _, v := range vars {
			if minBound < 0 {
				v.value = minUsage / v.penalty
			} else if utils.DoubleEquals(minBound, v.bound*v.penalty, prec) {
				v.value = v.bound
			} else {
				// Bounded variables saturate first; the others wait for the next round.
				continue
			}
			v.fixed = true
			s.release(v)
		}
		light = compactLight(light)
	}
}

// release subtracts the consumption of the freshly fixed variable v from every
// constraint it uses and retires constraints that became saturated.
func (s *System) release(v *Variable) {
	prec := s.precision
	for _, e := range v.elements {
		c := e.constraint
		if !e.active {
			continue
		}
		e.active = false
		if c.policy == Fatpipe {
			c.usage = 0
			for _, other := range c.elements {
				if !other.active {
					continue
				}
				if share := other.consumption / other.variable.penalty; share > c.usage {
					c.usage = share
				}
			}
		} else {
			utils.DoubleUpdate(&c.remaining, e.consumption*v.value, c.bound*prec)
			utils.DoubleUpdate(&c.usage, e.consumption/v.penalty, prec)
		}
		if c.inLight && (!utils.DoublePositive(c.usage, prec) || !utils.DoublePositive(c.remaining, c.bound*prec)) {
			c.inLight = false
			for _, other := range c.elements {
				other.active = false
			}
		}
	}
}

func compactLight(light []*Constraint) []*Constraint {
	out := light[:0]
	for _, c := range light {
		if c.inLight {
			out = append(out, c)
		}
	}
	return out
}
