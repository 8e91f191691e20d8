package activity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
)

func TestMailboxPutThenGet(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	mb := env.ctx.Mailbox("box")
	assert.Same(t, mb, env.ctx.Mailbox("box"))
	assert.True(t, mb.Empty())

	send := mb.Put(env.host("a"), 1e6, WithPayload("hello"))
	assert.Equal(t, Scheduled, send.State())
	assert.True(t, mb.Ready())
	assert.Equal(t, 1, mb.Size())

	recv := mb.Get(env.host("b"))
	assert.Same(t, send, recv)
	assert.Equal(t, Started, recv.State())
	assert.True(t, mb.Empty())

	end := env.run(t)
	assert.InDelta(t, 1.0, end, eps)
	assert.Equal(t, Finished, recv.State())
	assert.Equal(t, "hello", recv.Payload())
	assert.Equal(t, "a", recv.Source().Name())
	assert.Equal(t, "b", recv.Destination().Name())
}

func TestMailboxGetThenPut(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	mb := env.ctx.Mailbox("box")

	recv := mb.Get(env.host("b"))
	assert.False(t, mb.Ready())
	assert.False(t, mb.Empty())

	send := mb.Put(env.host("a"), 5e5, WithRate(2.5e5), Detached())
	assert.Same(t, recv, send)
	assert.True(t, send.IsDetached())
	assert.Equal(t, 5e5, send.Size())

	end := env.run(t)
	assert.InDelta(t, 2.0, end, eps)
	assert.Equal(t, Finished, recv.State())
}

func TestMailboxMatchesInOrder(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	mb := env.ctx.Mailbox("box")
	first := mb.Put(env.host("a"), 1, WithPayload(1))
	second := mb.Put(env.host("a"), 1, WithPayload(2))

	assert.Same(t, first, mb.Get(env.host("b")))
	assert.Same(t, second, mb.Get(env.host("b")))
}

func TestCancelQueuedComm(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	mb := env.ctx.Mailbox("box")
	comm := mb.Put(env.host("a"), 10)
	require.NoError(t, comm.Cancel())
	assert.Equal(t, Canceled, comm.State())
	assert.True(t, mb.Empty())
	assert.Equal(t, 10.0, comm.Remaining())
}

func TestCommFailsOnLinkOff(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	mb := env.ctx.Mailbox("box")
	comm := mb.Put(env.host("a"), 2e6)
	mb.Get(env.host("b"))
	link, _ := env.plat.Link("wire")
	env.timers.Schedule(1, link.TurnOff)

	env.run(t)
	assert.Equal(t, Failed, comm.State())
	assert.True(t, errors.Is(comm.Err(), ErrResourceUnavailable))
	assert.InDelta(t, 1e6, comm.Remaining(), 1)
}

func TestCommWithoutRouteFails(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	mb := env.ctx.Mailbox("box")
	mb.Get(env.host("c"))
	comm := mb.Put(env.host("a"), 10)
	assert.Equal(t, Failed, comm.State())
}

func TestMutex(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	m := env.ctx.NewMutex("m")

	first := m.Lock("alice")
	assert.Equal(t, Finished, first.State())
	assert.True(t, m.IsLocked())
	assert.Equal(t, "alice", m.Owner())

	second := m.Lock("bob")
	third := m.Lock("carol")
	assert.Equal(t, Started, second.State())
	assert.False(t, m.TryLock("dave"))

	assert.True(t, errors.Is(m.Unlock("bob"), ErrInvalidState))

	require.NoError(t, third.Cancel())
	require.NoError(t, m.Unlock("alice"))
	assert.Equal(t, Finished, second.State())
	assert.Equal(t, "bob", m.Owner())

	require.NoError(t, m.Unlock("bob"))
	assert.False(t, m.IsLocked())
	assert.True(t, m.TryLock("dave"))
}

func TestSemaphore(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	s := env.ctx.NewSemaphore("s", 2)

	assert.Equal(t, Finished, s.Acquire("a").State())
	assert.True(t, s.TryAcquire())
	assert.True(t, s.WouldBlock())
	assert.False(t, s.TryAcquire())

	waiting := s.Acquire("c")
	assert.Equal(t, Started, waiting.State())

	s.Release()
	assert.Equal(t, Finished, waiting.State())
	assert.Equal(t, 0, s.Value())

	s.Release()
	assert.Equal(t, 1, s.Value())
}

func TestBarrier(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	b := env.ctx.NewBarrier("b", 3)

	w1 := b.Wait("a")
	w2 := b.Wait("b")
	assert.Equal(t, 2, b.Waiting())
	assert.Equal(t, Started, w1.State())

	w3 := b.Wait("c")
	for _, w := range []*Synchro{w1, w2, w3} {
		assert.Equal(t, Finished, w.State())
	}
	assert.True(t, w3.Serial())
	assert.False(t, w1.Serial())
	assert.Equal(t, 0, b.Waiting())

	// the barrier is reusable
	again := b.Wait("a")
	assert.Equal(t, Started, again.State())
	require.NoError(t, again.Cancel())
	assert.Equal(t, 0, b.Waiting())
}

func TestCondVar(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	m := env.ctx.NewMutex("m")
	cv := env.ctx.NewCondVar("cv")

	_, err := cv.Wait("alice", m)
	assert.True(t, errors.Is(err, ErrInvalidState))

	require.True(t, m.TryLock("alice"))
	w1, err := cv.Wait("alice", m)
	require.NoError(t, err)
	assert.False(t, m.IsLocked())

	require.True(t, m.TryLock("bob"))
	w2, err := cv.Wait("bob", m)
	require.NoError(t, err)
	assert.Equal(t, 2, cv.Waiting())

	cv.NotifyOne()
	assert.Equal(t, Finished, w1.State())
	assert.Equal(t, Started, w2.State())

	cv.NotifyAll()
	assert.Equal(t, Finished, w2.State())
	assert.Equal(t, 0, cv.Waiting())
}

func TestObserversSeeSynchros(t *testing.T) {
	env := newEnv(t, config.HostModelDefault)
	var events []string
	env.ctx.OnStarted(func(a Activity) { events = append(events, "start "+a.Kind().String()) })
	env.ctx.OnCompleted(func(a Activity) { events = append(events, "end "+a.State().String()) })

	m := env.ctx.NewMutex("m")
	m.Lock("x")
	assert.Equal(t, []string{"start synchro", "end FINISHED"}, events)
}
