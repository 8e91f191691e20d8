package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
)

func drain(t *testing.T, fes *FutureEventSet, limit int) (dates, values []float64) {
	t.Helper()
	for i := 0; i < limit; i++ {
		next := fes.NextDate()
		if next < 0 {
			break
		}
		ev, v, ok := fes.PopLeq(next)
		require.True(t, ok)
		require.NotNil(t, ev)
		dates = append(dates, next)
		values = append(values, v)
	}
	return dates, values
}

func TestDeterministicProfile(t *testing.T) {
	fes := NewFutureEventSet()
	p := New("speed", []DatedValue{{Date: 0, Value: 1}, {Date: 1, Value: 0.5}}, 0)
	ev := p.Schedule(fes, "cpu")
	assert.Equal(t, "cpu", ev.Target())
	assert.Equal(t, 0.0, fes.NextDate())

	_, _, ok := fes.PopLeq(-0.5)
	assert.False(t, ok)

	got, v, ok := fes.PopLeq(0)
	require.True(t, ok)
	assert.Same(t, ev, got)
	assert.Equal(t, 1.0, v)
	assert.Equal(t, 1.0, fes.NextDate())

	_, _, ok = fes.PopLeq(0.5)
	assert.False(t, ok)

	_, v, ok = fes.PopLeq(1)
	require.True(t, ok)
	assert.Equal(t, 0.5, v)
	assert.True(t, ev.Done())
	assert.Equal(t, -1.0, fes.NextDate())
	assert.True(t, fes.IsEmpty())
}

func TestPeriodicProfileRepeats(t *testing.T) {
	fes := NewFutureEventSet()
	p := New("bw", []DatedValue{{Date: 0, Value: 1}, {Date: 2, Value: 0.5}}, 5)
	p.Schedule(fes, nil)

	dates, values := drain(t, fes, 5)
	assert.Equal(t, []float64{0, 2, 5, 7, 10}, dates)
	assert.Equal(t, []float64{1, 0.5, 1, 0.5, 1}, values)
}

func TestEventsAtSameDateKeepInsertionOrder(t *testing.T) {
	fes := NewFutureEventSet()
	first := New("a", []DatedValue{{Date: 1, Value: 1}}, 0)
	second := New("b", []DatedValue{{Date: 1, Value: 2}}, 0)
	first.Schedule(fes, "first")
	second.Schedule(fes, "second")

	ev, _, ok := fes.PopLeq(1)
	require.True(t, ok)
	assert.Equal(t, "first", ev.Target())
	ev, _, ok = fes.PopLeq(1)
	require.True(t, ok)
	assert.Equal(t, "second", ev.Target())
}

func TestUnscheduleDropsEvent(t *testing.T) {
	fes := NewFutureEventSet()
	p := New("state", []DatedValue{{Date: 3, Value: 0}}, 10)
	ev := p.Schedule(fes, nil)
	other := New("other", []DatedValue{{Date: 4, Value: 1}}, 0)
	other.Schedule(fes, nil)

	ev.Unschedule()
	assert.Equal(t, 4.0, fes.NextDate())
}

func TestEmptyProfileIsDone(t *testing.T) {
	fes := NewFutureEventSet()
	ev := New("empty", nil, 0).Schedule(fes, nil)
	assert.True(t, ev.Done())
	assert.Equal(t, 0, fes.Size())
}

func TestStochasticProfileIsReproducible(t *testing.T) {
	delay := config.Distribution{Kind: "exponential", Params: []float64{2}}
	value := config.Distribution{Kind: "uniform", Params: []float64{0.2, 1}}

	run := func() ([]float64, []float64) {
		p, err := NewStochastic("load", delay, value, 7, 20)
		require.NoError(t, err)
		fes := NewFutureEventSet()
		p.Schedule(fes, nil)
		return drain(t, fes, 100)
	}
	d1, v1 := run()
	d2, v2 := run()
	assert.Len(t, d1, 20)
	assert.Equal(t, d1, d2)
	assert.Equal(t, v1, v2)
	for i := 1; i < len(d1); i++ {
		assert.GreaterOrEqual(t, d1[i], d1[i-1])
	}
	for _, v := range v1 {
		assert.GreaterOrEqual(t, v, 0.2)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestStochasticProfileClampsNegativeDraws(t *testing.T) {
	p, err := NewStochastic("noisy",
		config.Distribution{Kind: "constant", Params: []float64{-1}},
		config.Distribution{Kind: "constant", Params: []float64{-3}},
		1, 2)
	require.NoError(t, err)
	fes := NewFutureEventSet()
	p.Schedule(fes, nil)
	dates, values := drain(t, fes, 10)
	assert.Equal(t, []float64{0, 0}, dates)
	assert.Equal(t, []float64{0, 0}, values)
}

func TestNewStochasticRejectsBadDistribution(t *testing.T) {
	tests := []struct {
		name string
		dist config.Distribution
	}{
		{"unknown kind", config.Distribution{Kind: "pareto", Params: []float64{1}}},
		{"missing params", config.Distribution{Kind: "uniform", Params: []float64{1}}},
		{"zero rate", config.Distribution{Kind: "exponential", Params: []float64{0}}},
	}
	ok := config.Distribution{Kind: "constant", Params: []float64{1}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStochastic("p", tt.dist, ok, 1, 0)
			assert.Error(t, err)
		})
	}
}

func TestFromConfig(t *testing.T) {
	p, err := FromConfig("none", nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = FromConfig("speed", &config.Profile{
		Events: []config.ProfileEvent{{Date: 1, Value: 0.5}},
		Period: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "speed", p.Name())
	assert.Equal(t, 4.0, p.Period())

	p, err = FromConfig("random", &config.Profile{Stochastic: &config.Stochastic{
		Delay: config.Distribution{Kind: "constant", Params: []float64{1}},
		Value: config.Distribution{Kind: "normal", Params: []float64{1, 0.1}},
		Seed:  3,
	}})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestClearEmptiesSet(t *testing.T) {
	fes := NewFutureEventSet()
	New("a", []DatedValue{{Date: 1, Value: 1}}, 0).Schedule(fes, nil)
	require.Equal(t, 1, fes.Size())
	fes.Clear()
	assert.True(t, fes.IsEmpty())
}
