package resource

import (
	"math"

	"github.com/GoSim-25-26J-441/simkernel/internal/lmm"
	"github.com/GoSim-25-26J-441/simkernel/internal/profile"
)

// IoOp is the direction of a disk access.
type IoOp int

const (
	IoRead IoOp = iota
	IoWrite
)

func (op IoOp) String() string {
	if op == IoWrite {
		return "write"
	}
	return "read"
}

// DiskModel serves reads and writes on disks.
type DiskModel struct {
	*ModelBase
}

// NewDiskModel creates the disk model.
func NewDiskModel(o Options) *DiskModel {
	return &DiskModel{ModelBase: newModelBase("disk", o)}
}

// Disk has one constraint per direction and a global constraint bounded by
// the larger of the two bandwidths.
type Disk struct {
	Base
	host      string
	readBw    float64
	writeBw   float64
	readCnst  *lmm.Constraint
	writeCnst *lmm.Constraint
}

// CreateDisk registers a disk attached to host. Bandwidths are in bytes/s.
func (m *DiskModel) CreateDisk(name, host string, readBw, writeBw float64) *Disk {
	d := &Disk{host: host, readBw: readBw, writeBw: writeBw}
	d.init(d, m.ModelBase, name, math.Max(readBw, writeBw), func() float64 {
		return math.Max(d.readBw, d.writeBw) * d.scale
	})
	d.readCnst = m.system.NewConstraint(d, readBw)
	d.writeCnst = m.system.NewConstraint(d, writeBw)
	return d
}

// Disk returns the disk registered under name.
func (m *DiskModel) Disk(name string) (*Disk, bool) {
	r, ok := m.Resource(name)
	if !ok {
		return nil, false
	}
	d, ok := r.(*Disk)
	return d, ok
}

// Host returns the name of the host the disk is attached to.
func (d *Disk) Host() string { return d.host }

func (d *Disk) ReadBandwidth() float64  { return d.readBw }
func (d *Disk) WriteBandwidth() float64 { return d.writeBw }

// SetReadBandwidth changes the read bandwidth.
func (d *Disk) SetReadBandwidth(bw float64) {
	d.readBw = bw
	d.refreshAll()
}

// SetWriteBandwidth changes the write bandwidth.
func (d *Disk) SetWriteBandwidth(bw float64) {
	d.writeBw = bw
	d.refreshAll()
}

// SetScale applies an external load factor to both directions.
func (d *Disk) SetScale(scale float64) {
	d.Base.SetScale(scale)
	d.refreshAll()
}

func (d *Disk) TurnOn() {
	d.Base.TurnOn()
	d.refreshAll()
}

func (d *Disk) TurnOff() {
	d.Base.TurnOff()
	d.refreshAll()
}

func (d *Disk) refreshAll() {
	d.peak = math.Max(d.readBw, d.writeBw)
	d.refresh()
	read, write := 0.0, 0.0
	if d.on {
		read, write = d.readBw*d.scale, d.writeBw*d.scale
	}
	d.model.system.UpdateConstraintBound(d.readCnst, read)
	d.model.system.UpdateConstraintBound(d.writeCnst, write)
}

func (d *Disk) ApplyEvent(ev *profile.Event, value float64) {
	if !d.applyStateEvent(ev, value) {
		d.unknownEvent(ev)
	}
}

// Read starts reading size bytes.
func (d *Disk) Read(size float64) *Action { return d.Io(IoRead, size) }

// Write starts writing size bytes.
func (d *Disk) Write(size float64) *Action { return d.Io(IoWrite, size) }

// Io starts an access of size bytes in the given direction.
func (d *Disk) Io(op IoOp, size float64) *Action {
	m := d.model
	a := newAction(m, size)
	a.variable = m.system.NewVariable(a, 1, -1)
	m.system.Expand(d.cnst, a.variable, 1)
	if op == IoWrite {
		m.system.Expand(d.writeCnst, a.variable, 1)
	} else {
		m.system.Expand(d.readCnst, a.variable, 1)
	}
	m.start(a)
	validateStart(a, d)
	return a
}
