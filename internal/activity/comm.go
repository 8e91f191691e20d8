package activity

import (
	"golang.org/x/exp/slices"

	"github.com/GoSim-25-26J-441/simkernel/internal/platform"
	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
)

// Comm is a transfer between two hosts. It is created by whichever side
// reaches the mailbox first and started when the other side matches it.
type Comm struct {
	Base
	mailbox  *Mailbox
	src      *platform.Host
	dst      *platform.Host
	size     float64
	rate     float64
	payload  any
	detached bool
	queued   bool
	action   *resource.Action
}

func (c *Comm) Mailbox() *Mailbox           { return c.mailbox }
func (c *Comm) Source() *platform.Host      { return c.src }
func (c *Comm) Destination() *platform.Host { return c.dst }
func (c *Comm) Size() float64               { return c.size }
func (c *Comm) Payload() any                { return c.payload }
func (c *Comm) IsDetached() bool            { return c.detached }

// Rate returns the current transfer rate.
func (c *Comm) Rate() float64 {
	if c.action == nil {
		return 0
	}
	return c.action.Rate()
}

func (c *Comm) ready() bool { return c.src != nil && c.dst != nil }

func (c *Comm) launch() error {
	a, err := c.ctx.plat.NetworkModel().Communicate(c.src.Name(), c.dst.Name(), c.size, c.rate)
	if err != nil {
		return err
	}
	a.SetData(c)
	c.action = a
	return nil
}

func (c *Comm) remaining() float64 {
	if c.action != nil {
		return c.action.Remaining()
	}
	return c.size
}

func (c *Comm) suspend() {
	if c.action != nil {
		c.action.Suspend()
	}
}

func (c *Comm) resume() {
	if c.action != nil {
		c.action.Resume()
	}
}

func (c *Comm) abort() {
	if c.queued {
		c.mailbox.remove(c)
	}
	if c.action != nil {
		c.action.Cancel()
	}
}

// SendOption tunes a send posted on a mailbox.
type SendOption func(*Comm)

// WithRate caps the transfer rate.
func WithRate(rate float64) SendOption {
	return func(c *Comm) { c.rate = rate }
}

// WithPayload attaches a value handed to the receiver.
func WithPayload(p any) SendOption {
	return func(c *Comm) { c.payload = p }
}

// Detached marks a send nobody waits for on the sender side.
func Detached() SendOption {
	return func(c *Comm) { c.detached = true }
}

// Mailbox is a rendezvous point where sends and receives are matched in
// arrival order.
type Mailbox struct {
	ctx  *Context
	name string
	// pending comms, all sends or all receives
	queue []*Comm
}

// Mailbox returns the mailbox registered under name, creating it on first use.
func (c *Context) Mailbox(name string) *Mailbox {
	mb, ok := c.mailboxes[name]
	if !ok {
		mb = &Mailbox{ctx: c, name: name}
		c.mailboxes[name] = mb
	}
	return mb
}

func (m *Mailbox) Name() string { return m.name }

// Empty reports whether no communication is pending.
func (m *Mailbox) Empty() bool { return len(m.queue) == 0 }

// Size returns the number of pending communications.
func (m *Mailbox) Size() int { return len(m.queue) }

// Ready reports whether a send is waiting for a receiver.
func (m *Mailbox) Ready() bool {
	return len(m.queue) > 0 && m.queue[0].src != nil
}

// Put posts a send of size bytes from src. When a receive is pending the
// returned comm is that receive, now matched and started.
func (m *Mailbox) Put(src *platform.Host, size float64, opts ...SendOption) *Comm {
	if len(m.queue) > 0 && m.queue[0].src == nil {
		c := m.pop()
		c.src = src
		c.size = size
		for _, opt := range opts {
			opt(c)
		}
		c.tryAutoStart()
		return c
	}
	c := m.newComm(size)
	c.src = src
	for _, opt := range opts {
		opt(c)
	}
	m.push(c)
	return c
}

// Get posts a receive on dst. When a send is pending the returned comm is
// that send, now matched and started.
func (m *Mailbox) Get(dst *platform.Host) *Comm {
	if m.Ready() {
		c := m.pop()
		c.dst = dst
		c.tryAutoStart()
		return c
	}
	c := m.newComm(0)
	c.dst = dst
	m.push(c)
	return c
}

func (m *Mailbox) newComm(size float64) *Comm {
	c := &Comm{mailbox: m, size: size, rate: -1}
	c.init(m.ctx, c, c, KindComm)
	return c
}

func (m *Mailbox) push(c *Comm) {
	c.queued = true
	c.startRequested = true
	c.state = Scheduled
	m.queue = append(m.queue, c)
}

func (m *Mailbox) pop() *Comm {
	c := m.queue[0]
	m.queue = slices.Delete(m.queue, 0, 1)
	c.queued = false
	return c
}

func (m *Mailbox) remove(c *Comm) {
	if i := slices.Index(m.queue, c); i >= 0 {
		m.queue = slices.Delete(m.queue, i, i+1)
	}
	c.queued = false
}
