package lmm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
)

const eps = 1e-5

func newMaxMin() *System {
	return NewSystem(WithLogger(logger.Discard()))
}

func TestMaxMinSharedLinkSplitsEvenly(t *testing.T) {
	s := newMaxMin()
	link := s.NewConstraint("link", 1000)
	a := s.NewVariable("a", 1, -1)
	b := s.NewVariable("b", 1, -1)
	s.Expand(link, a, 1)
	s.Expand(link, b, 1)
	s.Solve()

	assert.InDelta(t, 500, a.Value(), eps)
	assert.InDelta(t, 500, b.Value(), eps)

	s.FreeVariable(b)
	require.True(t, s.Modified())
	s.Solve()
	assert.InDelta(t, 1000, a.Value(), eps)
	assert.Equal(t, 0.0, b.Value())
}

func TestMaxMinVariablePenalty(t *testing.T) {
	s := newMaxMin()
	c := s.NewConstraint(nil, 3)
	v1 := s.NewVariable(nil, 1, -1)
	v2 := s.NewVariable(nil, 2, -1)
	s.Expand(c, v1, 1)
	s.Expand(c, v2, 1)
	s.Solve()

	assert.InDelta(t, 2, v1.Value(), eps)
	assert.InDelta(t, 1, v2.Value(), eps)
}

func TestMaxMinConsumptionWeight(t *testing.T) {
	s := newMaxMin()
	c := s.NewConstraint(nil, 3)
	v1 := s.NewVariable(nil, 1, -1)
	v2 := s.NewVariable(nil, 1, -1)
	s.Expand(c, v1, 1)
	s.Expand(c, v2, 2)
	s.Solve()

	assert.InDelta(t, 1, v1.Value(), eps)
	assert.InDelta(t, 1, v2.Value(), eps)
	assert.InDelta(t, 3, c.Usage(), eps)
}

func TestMaxMinFatpipe(t *testing.T) {
	t.Run("penalty", func(t *testing.T) {
		s := newMaxMin()
		c := s.NewConstraint(nil, 10)
		c.SetSharingPolicy(Fatpipe, nil)
		v1 := s.NewVariable(nil, 1, -1)
		v2 := s.NewVariable(nil, 2, -1)
		s.Expand(c, v1, 1)
		s.Expand(c, v2, 1)
		s.Solve()
		assert.InDelta(t, 10, v1.Value(), eps)
		assert.InDelta(t, 5, v2.Value(), eps)
	})
	t.Run("consumption", func(t *testing.T) {
		s := newMaxMin()
		c := s.NewConstraint(nil, 10)
		c.SetSharingPolicy(Fatpipe, nil)
		v1 := s.NewVariable(nil, 1, -1)
		v2 := s.NewVariable(nil, 1, -1)
		s.Expand(c, v1, 1)
		s.Expand(c, v2, 2)
		s.Solve()
		assert.InDelta(t, 5, v1.Value(), eps)
		assert.InDelta(t, 5, v2.Value(), eps)
		assert.InDelta(t, 10, c.Usage(), eps)
	})
}

func TestMaxMinBoundedVariableSaturatesFirst(t *testing.T) {
	s := newMaxMin()
	c := s.NewConstraint(nil, 1)
	v1 := s.NewVariable(nil, 1, 0.1)
	v2 := s.NewVariable(nil, 1, -1)
	s.Expand(c, v1, 1)
	s.Expand(c, v2, 1)
	s.Solve()

	assert.InDelta(t, 0.1, v1.Value(), eps)
	assert.InDelta(t, 0.9, v2.Value(), eps)
}

func TestMaxMinTwoConstraints(t *testing.T) {
	// v1 crosses both links, v2 only the narrow one, v3 only the wide one.
	s := newMaxMin()
	narrow := s.NewConstraint("narrow", 10)
	wide := s.NewConstraint("wide", 100)
	v1 := s.NewVariable(nil, 1, -1)
	v2 := s.NewVariable(nil, 1, -1)
	v3 := s.NewVariable(nil, 1, -1)
	s.Expand(narrow, v1, 1)
	s.Expand(wide, v1, 1)
	s.Expand(narrow, v2, 1)
	s.Expand(wide, v3, 1)
	s.Solve()

	assert.InDelta(t, 5, v1.Value(), eps)
	assert.InDelta(t, 5, v2.Value(), eps)
	assert.InDelta(t, 95, v3.Value(), eps)
}

func TestMaxMinDisabledAndBlockedVariables(t *testing.T) {
	s := newMaxMin()
	off := s.NewConstraint("off", 0)
	on := s.NewConstraint("on", 10)

	disabled := s.NewVariable(nil, 0, -1)
	s.Expand(on, disabled, 1)

	blocked := s.NewVariable(nil, 1, -1)
	s.Expand(off, blocked, 1)
	s.Expand(on, blocked, 1)

	free := s.NewVariable(nil, 1, -1)
	s.Expand(on, free, 1)

	s.Solve()
	assert.Equal(t, 0.0, disabled.Value())
	assert.Equal(t, 0.0, blocked.Value())
	assert.InDelta(t, 10, free.Value(), eps)

	s.UpdateVariablePenalty(disabled, 1)
	s.UpdateConstraintBound(off, 10)
	s.Solve()
	assert.InDelta(t, 10.0/3, disabled.Value(), eps)
	assert.InDelta(t, 10.0/3, blocked.Value(), eps)
	assert.InDelta(t, 10.0/3, free.Value(), eps)
}

func TestMaxMinNonLinearBound(t *testing.T) {
	s := newMaxMin()
	c := s.NewConstraint(nil, 1)
	c.SetSharingPolicy(NonLinear, func(bound float64, n int) float64 { return bound / float64(n) })

	v1 := s.NewVariable(nil, 1, -1)
	s.Expand(c, v1, 1)
	s.Solve()
	assert.InDelta(t, 1, v1.Value(), eps)

	v2 := s.NewVariable(nil, 1, -1)
	s.Expand(c, v2, 1)
	s.Solve()
	assert.InDelta(t, 0.5, c.DynamicBound(), eps)
	assert.InDelta(t, 0.25, v1.Value(), eps)
	assert.InDelta(t, 0.25, v2.Value(), eps)
}

func TestExpandAdd(t *testing.T) {
	s := newMaxMin()
	shared := s.NewConstraint(nil, 10)
	fat := s.NewConstraint(nil, 10)
	fat.SetSharingPolicy(Fatpipe, nil)
	v := s.NewVariable(nil, 1, -1)

	s.ExpandAdd(shared, v, 1)
	s.ExpandAdd(shared, v, 1)
	s.ExpandAdd(fat, v, 1)
	s.ExpandAdd(fat, v, 3)

	assert.Equal(t, 2.0, v.Consumption(shared))
	assert.Equal(t, 3.0, v.Consumption(fat))
	assert.Len(t, v.Elements(), 2)
}

func TestSolveIsIdempotent(t *testing.T) {
	s := newMaxMin()
	c1 := s.NewConstraint(nil, 7)
	c2 := s.NewConstraint(nil, 3)
	vars := make([]*Variable, 5)
	for i := range vars {
		vars[i] = s.NewVariable(nil, float64(i+1), -1)
		s.Expand(c1, vars[i], 1)
		if i%2 == 0 {
			s.Expand(c2, vars[i], 0.5)
		}
	}
	s.Solve()
	require.False(t, s.Modified())
	first := make([]float64, len(vars))
	for i, v := range vars {
		first[i] = v.Value()
	}

	s.Solve()
	for i, v := range vars {
		assert.Equal(t, first[i], v.Value(), "variable %d", i)
	}
}

func TestMaxMinCapacityInvariantRandomSystems(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		s := newMaxMin()
		cnsts := make([]*Constraint, 1+rng.Intn(6))
		for i := range cnsts {
			cnsts[i] = s.NewConstraint(nil, 1+rng.Float64()*100)
			if rng.Intn(4) == 0 {
				cnsts[i].SetSharingPolicy(Fatpipe, nil)
			}
		}
		for i := 0; i < 1+rng.Intn(12); i++ {
			bound := -1.0
			if rng.Intn(3) == 0 {
				bound = rng.Float64() * 20
			}
			v := s.NewVariable(nil, 0.5+rng.Float64()*2, bound)
			for _, c := range cnsts {
				if rng.Intn(2) == 0 {
					s.Expand(c, v, 0.1+rng.Float64())
				}
			}
		}
		s.Solve()

		for _, c := range cnsts {
			assert.LessOrEqual(t, c.Usage(), c.Bound()*(1+eps)+eps, "round %d constraint %d", round, c.ID())
		}
		for _, v := range s.Variables() {
			assert.GreaterOrEqual(t, v.Value(), 0.0)
			if v.Bound() > 0 {
				assert.LessOrEqual(t, v.Value(), v.Bound()+eps)
			}
		}
	}
}

func TestFreeConstraintDetachesVariables(t *testing.T) {
	s := newMaxMin()
	c1 := s.NewConstraint(nil, 1)
	c2 := s.NewConstraint(nil, 4)
	v := s.NewVariable(nil, 1, -1)
	s.Expand(c1, v, 1)
	s.Expand(c2, v, 1)
	s.Solve()
	assert.InDelta(t, 1, v.Value(), eps)

	s.FreeConstraint(c1)
	s.Solve()
	assert.InDelta(t, 4, v.Value(), eps)
	assert.Len(t, s.Constraints(), 1)
}

func TestParseSolverKind(t *testing.T) {
	k, err := ParseSolverKind("bmf")
	require.NoError(t, err)
	assert.Equal(t, BMF, k)
	k, err = ParseSolverKind("")
	require.NoError(t, err)
	assert.Equal(t, MaxMin, k)
	_, err = ParseSolverKind("simplex")
	assert.Error(t, err)
}
