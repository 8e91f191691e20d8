// Package lmm implements the linear sharing system used by the resource models:
// constraints (resources) with a capacity bound, variables (actions) with a
// penalty and an optional rate bound, and the solvers that split capacities
// among variables.
package lmm

import (
	"fmt"
	"log/slog"

	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

// SharingPolicy selects how the consumptions of the variables using a
// constraint are aggregated against its bound.
type SharingPolicy int

const (
	// Shared constraints bound the sum of the consumptions.
	Shared SharingPolicy = iota
	// Fatpipe constraints bound the largest consumption only.
	Fatpipe
	// NonLinear constraints are shared against a bound recomputed by a
	// DynamicBound callback before each solve.
	NonLinear
)

func (p SharingPolicy) String() string {
	switch p {
	case Shared:
		return "shared"
	case Fatpipe:
		return "fatpipe"
	case NonLinear:
		return "nonlinear"
	default:
		return fmt.Sprintf("SharingPolicy(%d)", int(p))
	}
}

// DynamicBound returns the effective capacity of a NonLinear constraint given
// its nominal bound and the number of variables currently using it.
type DynamicBound func(bound float64, concurrency int) float64

// SolverKind selects the sharing algorithm.
type SolverKind int

const (
	MaxMin SolverKind = iota
	BMF
)

func (k SolverKind) String() string {
	if k == BMF {
		return "bmf"
	}
	return "maxmin"
}

// ParseSolverKind maps a configuration name to a SolverKind.
func ParseSolverKind(name string) (SolverKind, error) {
	switch name {
	case "", "maxmin":
		return MaxMin, nil
	case "bmf":
		return BMF, nil
	default:
		return MaxMin, fmt.Errorf("unknown solver %q", name)
	}
}

// Element links a variable to a constraint with a consumption weight.
type Element struct {
	constraint     *Constraint
	variable       *Variable
	consumption    float64
	maxConsumption float64

	active bool
}

// Consumption returns the weight of the variable on the constraint.
func (e *Element) Consumption() float64 { return e.consumption }

func (e *Element) enabled() bool {
	return e.variable.penalty > 0 && e.consumption > 0
}

// Constraint is one capacity row of the system, usually a resource.
type Constraint struct {
	sys      *System
	id       int64
	owner    any
	bound    float64
	policy   SharingPolicy
	dynBound DynamicBound
	elements []*Element

	remaining float64
	usage     float64
	inLight   bool
}

// ID returns the creation rank of the constraint; it orders tie-breaking.
func (c *Constraint) ID() int64 { return c.id }

// Owner returns the object the constraint was created for.
func (c *Constraint) Owner() any { return c.owner }

// Bound returns the nominal capacity.
func (c *Constraint) Bound() float64 { return c.bound }

// SharingPolicy returns how consumptions are aggregated.
func (c *Constraint) SharingPolicy() SharingPolicy { return c.policy }

// SetSharingPolicy changes the aggregation policy. cb is only used by NonLinear.
func (c *Constraint) SetSharingPolicy(policy SharingPolicy, cb DynamicBound) {
	c.policy = policy
	c.dynBound = cb
	c.sys.modified = true
}

// Concurrency counts the enabled variables using the constraint.
func (c *Constraint) Concurrency() int {
	n := 0
	for _, e := range c.elements {
		if e.enabled() {
			n++
		}
	}
	return n
}

// DynamicBound returns the capacity the solver uses for this constraint.
func (c *Constraint) DynamicBound() float64 {
	if c.policy == NonLinear && c.dynBound != nil {
		return c.dynBound(c.bound, c.Concurrency())
	}
	return c.bound
}

// Usage returns the capacity consumed by the last solution: the sum of
// consumption*value on shared constraints, the largest one on fatpipes.
func (c *Constraint) Usage() float64 {
	u := 0.0
	for _, e := range c.elements {
		if !e.enabled() {
			continue
		}
		x := e.consumption * e.variable.value
		if c.policy == Fatpipe {
			if x > u {
				u = x
			}
		} else {
			u += x
		}
	}
	return u
}

// Variables returns the variables using the constraint, in expansion order.
func (c *Constraint) Variables() []*Variable {
	out := make([]*Variable, 0, len(c.elements))
	for _, e := range c.elements {
		out = append(out, e.variable)
	}
	return out
}

// Variable is one column of the system, usually an action.
type Variable struct {
	id       int64
	owner    any
	penalty  float64
	bound    float64
	value    float64
	elements []*Element

	fixed bool
}

// ID returns the creation rank of the variable.
func (v *Variable) ID() int64 { return v.id }

// Owner returns the object the variable was created for.
func (v *Variable) Owner() any { return v.owner }

// Penalty returns the sharing weight; 0 disables the variable.
func (v *Variable) Penalty() float64 { return v.penalty }

// Bound returns the rate cap, or a non-positive value when unbounded.
func (v *Variable) Bound() float64 { return v.bound }

// Value returns the rate computed by the last solve.
func (v *Variable) Value() float64 { return v.value }

// Elements returns the constraint memberships of the variable.
func (v *Variable) Elements() []*Element { return v.elements }

// Constraints returns the constraints the variable uses, in expansion order.
func (v *Variable) Constraints() []*Constraint {
	out := make([]*Constraint, 0, len(v.elements))
	for _, e := range v.elements {
		out = append(out, e.constraint)
	}
	return out
}

// Consumption returns the weight of the variable on c, or 0.
func (v *Variable) Consumption(c *Constraint) float64 {
	total := 0.0
	for _, e := range v.elements {
		if e.constraint == c {
			total += e.consumption
		}
	}
	return total
}

// System is a sharing system instance, owned by one model or shared by the
// models of the ptask host model. It is not safe for concurrent use.
type System struct {
	kind          SolverKind
	precision     float64
	maxIterations int
	logger        *slog.Logger

	constraints []*Constraint
	variables   []*Variable
	modified    bool
	cnstSeq     int64
	varSeq      int64

	warnedNonLinear bool
}

// Option configures a System.
type Option func(*System)

// WithSolver selects the sharing algorithm.
func WithSolver(kind SolverKind) Option {
	return func(s *System) { s.kind = kind }
}

// WithPrecision sets the numerical precision of the solver.
func WithPrecision(p float64) Option {
	return func(s *System) {
		if p > 0 {
			s.precision = p
		}
	}
}

// WithMaxIterations bounds the BMF allocation search.
func WithMaxIterations(n int) Option {
	return func(s *System) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// WithLogger sets the logger used for solver warnings.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) { s.logger = l }
}

// NewSystem creates an empty sharing system.
func NewSystem(opts ...Option) *System {
	s := &System{
		kind:          MaxMin,
		precision:     utils.DefaultMaxminPrecision,
		maxIterations: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.Component(logger.OrDefault(s.logger), "lmm")
	return s
}

// Kind returns the solver used by Solve.
func (s *System) Kind() SolverKind { return s.kind }

// Precision returns the numerical precision.
func (s *System) Precision() float64 { return s.precision }

// Modified reports whether a mutation happened since the last Solve.
func (s *System) Modified() bool { return s.modified }

// Constraints returns the live constraints in ascending id.
func (s *System) Constraints() []*Constraint { return s.constraints }

// Variables returns the live variables in ascending id.
func (s *System) Variables() []*Variable { return s.variables }

// NewConstraint adds a shared constraint of capacity bound.
func (s *System) NewConstraint(owner any, bound float64) *Constraint {
	s.cnstSeq++
	c := &Constraint{sys: s, id: s.cnstSeq, owner: owner, bound: bound, policy: Shared}
	s.constraints = append(s.constraints, c)
	s.modified = true
	return c
}

// NewVariable adds a variable. A non-positive bound means unbounded and a
// zero penalty disables the variable until UpdateVariablePenalty.
func (s *System) NewVariable(owner any, penalty, bound float64) *Variable {
	s.varSeq++
	v := &Variable{id: s.varSeq, owner: owner, penalty: penalty, bound: bound}
	s.variables = append(s.variables, v)
	s.modified = true
	return v
}

// Expand makes v consume c with the given weight. Expanding the same pair
// twice adds a sub-flow: consumptions add up and the largest one is kept for
// the BMF fairness rows.
func (s *System) Expand(c *Constraint, v *Variable, consumption float64) {
	for _, e := range v.elements {
		if e.constraint == c {
			e.consumption += consumption
			if consumption > e.maxConsumption {
				e.maxConsumption = consumption
			}
			s.modified = true
			return
		}
	}
	e := &Element{constraint: c, variable: v, consumption: consumption, maxConsumption: consumption}
	c.elements = append(c.elements, e)
	v.elements = append(v.elements, e)
	s.modified = true
}

// ExpandAdd adds consumption to an existing membership of v on c, summing on
// shared constraints and keeping the maximum on fatpipes. Without a
// membership it behaves like Expand.
func (s *System) ExpandAdd(c *Constraint, v *Variable, consumption float64) {
	for _, e := range v.elements {
		if e.constraint != c {
			continue
		}
		if c.policy == Fatpipe {
			if consumption > e.consumption {
				e.consumption = consumption
			}
		} else {
			e.consumption += consumption
		}
		if consumption > e.maxConsumption {
			e.maxConsumption = consumption
		}
		s.modified = true
		return
	}
	s.Expand(c, v, consumption)
}

// UpdateVariablePenalty changes the sharing weight of v.
func (s *System) UpdateVariablePenalty(v *Variable, penalty float64) {
	if v.penalty == penalty {
		return
	}
	v.penalty = penalty
	s.modified = true
}

// UpdateVariableBound changes the rate cap of v.
func (s *System) UpdateVariableBound(v *Variable, bound float64) {
	if v.bound == bound {
		return
	}
	v.bound = bound
	s.modified = true
}

// UpdateConstraintBound changes the capacity of c.
func (s *System) UpdateConstraintBound(c *Constraint, bound float64) {
	if c.bound == bound {
		return
	}
	c.bound = bound
	s.modified = true
}

// FreeVariable removes v and its memberships from the system.
func (s *System) FreeVariable(v *Variable) {
	for _, e := range v.elements {
		c := e.constraint
		c.elements = removeElement(c.elements, e)
	}
	v.elements = nil
	v.value = 0
	s.variables = removeVariable(s.variables, v)
	s.modified = true
}

// FreeConstraint removes c and detaches every variable from it.
func (s *System) FreeConstraint(c *Constraint) {
	for _, e := range c.elements {
		e.variable.elements = removeElement(e.variable.elements, e)
	}
	c.elements = nil
	for i, x := range s.constraints {
		if x == c {
			s.constraints = append(s.constraints[:i], s.constraints[i+1:]...)
			break
		}
	}
	s.modified = true
}

// Solve recomputes every variable value if the system changed since the
// previous call. Solving twice without mutation is a no-op.
func (s *System) Solve() {
	if !s.modified {
		return
	}
	switch s.kind {
	case BMF:
		s.solveBMF()
	default:
		s.solveMaxMin()
	}
	s.modified = false
}

func removeElement(list []*Element, e *Element) []*Element {
	for i, x := range list {
		if x == e {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeVariable(list []*Variable, v *Variable) []*Variable {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
