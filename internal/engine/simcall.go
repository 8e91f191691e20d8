package engine

import (
	"golang.org/x/exp/rand"
)

// Simcall is a blocking request issued by an actor. Simcalls issued during a
// scheduling round are serviced by the engine once every runnable actor has
// run, in the order chosen by the Policy.
type Simcall struct {
	Actor *Actor
	// Name identifies the call: "execute", "send", "recv", "lock"...
	Name   string
	handle func()
}

// Policy picks which pending simcall of a round is serviced next. Replay and
// model-checking drivers substitute their own to explore interleavings; rates
// and completion dates stay the business of the models.
type Policy interface {
	// Next returns an index into pending, which is never empty.
	Next(pending []*Simcall) int
}

// FIFOPolicy services simcalls in the order the actors ran, which is actor
// creation order within a round.
type FIFOPolicy struct{}

func (FIFOPolicy) Next(pending []*Simcall) int { return 0 }

// LIFOPolicy services the most recent simcall first.
type LIFOPolicy struct{}

func (LIFOPolicy) Next(pending []*Simcall) int { return len(pending) - 1 }

// RandomPolicy picks a pending simcall uniformly with a seeded source, so a
// given seed always produces the same interleaving.
type RandomPolicy struct {
	rng *rand.Rand
}

// NewRandomPolicy creates a random policy seeded with seed.
func NewRandomPolicy(seed uint64) *RandomPolicy {
	return &RandomPolicy{rng: rand.New(rand.NewSource(seed))}
}

func (p *RandomPolicy) Next(pending []*Simcall) int { return p.rng.Intn(len(pending)) }

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(pending []*Simcall) int

func (f PolicyFunc) Next(pending []*Simcall) int { return f(pending) }
