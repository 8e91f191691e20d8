package config

// Platform describes the simulated hardware: hosts, links and how they connect
type Platform struct {
	Hosts   []Host   `yaml:"hosts"`
	Links   []Link   `yaml:"links,omitempty"`
	Routers []string `yaml:"routers,omitempty"`
	Routes  []Route  `yaml:"routes,omitempty"`
	Edges   []Edge   `yaml:"edges,omitempty"`
}

// Host represents a compute node
type Host struct {
	Name         string            `yaml:"name"`
	Speed        float64           `yaml:"speed"` // flops per second per core
	Cores        int               `yaml:"cores,omitempty"`
	Disks        []Disk            `yaml:"disks,omitempty"`
	SpeedProfile *Profile          `yaml:"speed_profile,omitempty"`
	StateProfile *Profile          `yaml:"state_profile,omitempty"`
	Properties   map[string]string `yaml:"properties,omitempty"`
}

// Disk is a storage device attached to a host
type Disk struct {
	Name           string  `yaml:"name"`
	ReadBandwidth  float64 `yaml:"read_bw"`
	WriteBandwidth float64 `yaml:"write_bw"`
}

// Link is a network link
type Link struct {
	Name             string   `yaml:"name"`
	Bandwidth        float64  `yaml:"bandwidth"`         // bytes per second
	Latency          float64  `yaml:"latency"`           // seconds
	Sharing          string   `yaml:"sharing,omitempty"` // shared or fatpipe
	BandwidthProfile *Profile `yaml:"bandwidth_profile,omitempty"`
	LatencyProfile   *Profile `yaml:"latency_profile,omitempty"`
	StateProfile     *Profile `yaml:"state_profile,omitempty"`
}

// Route is an explicit ordered list of links between two endpoints
type Route struct {
	Src       string   `yaml:"src"`
	Dst       string   `yaml:"dst"`
	Links     []string `yaml:"links"`
	Symmetric *bool    `yaml:"symmetric,omitempty"` // defaults to true
}

// IsSymmetric reports whether the route also applies from Dst to Src.
func (r Route) IsSymmetric() bool {
	return r.Symmetric == nil || *r.Symmetric
}

// Edge connects two endpoints (hosts or routers) through a link. Edges feed the
// shortest-path fallback used when no explicit route exists.
type Edge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Link string `yaml:"link"`
}

// Profile is a list of dated values, optionally repeated every Period seconds,
// or a stochastic generator of such values.
type Profile struct {
	Events     []ProfileEvent `yaml:"events,omitempty"`
	Period     float64        `yaml:"period,omitempty"`
	Stochastic *Stochastic    `yaml:"stochastic,omitempty"`
}

// ProfileEvent is one dated value of a profile
type ProfileEvent struct {
	Date  float64 `yaml:"date"`
	Value float64 `yaml:"value"`
}

// Stochastic draws inter-event delays and values from distributions
type Stochastic struct {
	Delay Distribution `yaml:"delay"`
	Value Distribution `yaml:"value"`
	Seed  uint64       `yaml:"seed,omitempty"`
	Count int          `yaml:"count,omitempty"` // 0 means unbounded
}

// Distribution names a distribution and its parameters:
// constant(value), exponential(rate), uniform(min, max), normal(mu, sigma).
type Distribution struct {
	Kind   string    `yaml:"kind"`
	Params []float64 `yaml:"params"`
}

// Scenario represents a complete simulation: a platform plus actors
type Scenario struct {
	Name         string      `yaml:"name,omitempty"`
	Platform     *Platform   `yaml:"platform,omitempty"`
	PlatformFile string      `yaml:"platform_file,omitempty"`
	Actors       []Actor     `yaml:"actors"`
	Mutexes      []string    `yaml:"mutexes,omitempty"`
	Semaphores   []Semaphore `yaml:"semaphores,omitempty"`
	Barriers     []Barrier   `yaml:"barriers,omitempty"`
	MaxDate      float64     `yaml:"max_date,omitempty"` // 0 means run to completion
	Seed         uint64      `yaml:"seed,omitempty"`     // jitters exponential retry backoffs when set
}

// Semaphore declares a named counting semaphore
type Semaphore struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
}

// Barrier declares a named barrier
type Barrier struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

// Actor describes one simulated thread and the steps it performs
type Actor struct {
	Name     string  `yaml:"name"`
	Host     string  `yaml:"host"`
	Start    float64 `yaml:"start,omitempty"`
	KillTime float64 `yaml:"kill_time,omitempty"`
	Daemon   bool    `yaml:"daemon,omitempty"`
	Repeat   int     `yaml:"repeat,omitempty"` // run the steps Repeat times; 0 or 1 means once
	Steps    []Step  `yaml:"steps"`
}

// Step is one operation performed by a scenario actor.
type Step struct {
	Op         string  `yaml:"op"`
	Amount     float64 `yaml:"amount,omitempty"` // flops, bytes or seconds depending on Op
	Mailbox    string  `yaml:"mailbox,omitempty"`
	Target     string  `yaml:"target,omitempty"` // actor, host or resource name
	Object     string  `yaml:"object,omitempty"` // mutex, semaphore or barrier name
	Disk       string  `yaml:"disk,omitempty"`
	Rate       float64 `yaml:"rate,omitempty"`
	Bound      float64 `yaml:"bound,omitempty"`
	Priority   float64 `yaml:"priority,omitempty"`
	Timeout    float64 `yaml:"timeout,omitempty"`
	Detached   bool    `yaml:"detached,omitempty"`
	Retries    int     `yaml:"retries,omitempty"`
	Backoff    string  `yaml:"backoff,omitempty"`
	RetryDelay float64 `yaml:"retry_delay,omitempty"` // base delay of the backoff, 1s when unset
}

// Step operations understood by the scenario runner.
const (
	OpExecute  = "execute"
	OpSend     = "send"
	OpRecv     = "recv"
	OpRead     = "read"
	OpWrite    = "write"
	OpSleep    = "sleep"
	OpYield    = "yield"
	OpLock     = "lock"
	OpUnlock   = "unlock"
	OpAcquire  = "acquire"
	OpRelease  = "release"
	OpBarrier  = "barrier"
	OpSuspend  = "suspend"
	OpResume   = "resume"
	OpKill     = "kill"
	OpMigrate  = "migrate"
	OpTurnOff  = "turn_off"
	OpTurnOn   = "turn_on"
	OpSetSpeed = "set_speed"
)

var validOps = map[string]bool{
	OpExecute: true, OpSend: true, OpRecv: true, OpRead: true, OpWrite: true,
	OpSleep: true, OpYield: true, OpLock: true, OpUnlock: true, OpAcquire: true,
	OpRelease: true, OpBarrier: true, OpSuspend: true, OpResume: true, OpKill: true,
	OpMigrate: true, OpTurnOff: true, OpTurnOn: true, OpSetSpeed: true,
}
