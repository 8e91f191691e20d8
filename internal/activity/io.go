package activity

import (
	"math"

	"github.com/GoSim-25-26J-441/simkernel/internal/resource"
)

// Io is a read or a write on a disk.
type Io struct {
	Base
	disk   *resource.Disk
	op     resource.IoOp
	size   float64
	action *resource.Action
}

// NewIo creates a disk operation of size bytes.
func (c *Context) NewIo(disk *resource.Disk, op resource.IoOp, size float64) *Io {
	io := &Io{disk: disk, op: op, size: size}
	io.init(c, io, io, KindIo)
	return io
}

func (io *Io) Disk() *resource.Disk { return io.disk }
func (io *Io) Op() resource.IoOp    { return io.op }
func (io *Io) Size() float64        { return io.size }

func (io *Io) ready() bool { return io.disk != nil }

func (io *Io) launch() error {
	io.action = io.disk.Io(io.op, io.size)
	io.action.SetData(io)
	return nil
}

func (io *Io) remaining() float64 {
	if io.action != nil {
		return io.action.Remaining()
	}
	return io.size
}

func (io *Io) suspend() {
	if io.action != nil {
		io.action.Suspend()
	}
}

func (io *Io) resume() {
	if io.action != nil {
		io.action.Resume()
	}
}

func (io *Io) abort() {
	if io.action != nil {
		io.action.Cancel()
	}
}

// Sleep is a timer-only activity: it finishes duration seconds after its
// start without using any resource.
type Sleep struct {
	Base
	duration float64
	end      float64
	timer    Timer
}

// NewSleep creates a sleep of duration seconds.
func (c *Context) NewSleep(duration float64) *Sleep {
	s := &Sleep{duration: math.Max(duration, 0)}
	s.init(c, s, s, KindSleep)
	return s
}

// Duration returns the requested sleep duration.
func (s *Sleep) Duration() float64 { return s.duration }

func (s *Sleep) ready() bool { return true }

func (s *Sleep) launch() error {
	s.end = s.ctx.Now() + s.duration
	s.timer = s.ctx.timers.Schedule(s.end, func() {
		s.timer = nil
		s.complete(Finished, nil)
	})
	return nil
}

func (s *Sleep) remaining() float64 {
	if s.state == Started {
		return math.Max(s.end-s.ctx.Now(), 0)
	}
	return s.duration
}

func (s *Sleep) suspend() {}
func (s *Sleep) resume()  {}

func (s *Sleep) abort() {
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
}
