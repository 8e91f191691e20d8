package config

// Config represents the kernel and daemon configuration
type Config struct {
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format,omitempty"` // json or text
	Kernel    KernelConfig `yaml:"kernel"`
	Daemon    DaemonConfig `yaml:"daemon,omitempty"`
}

// KernelConfig tunes the sharing solvers and the engine loop
type KernelConfig struct {
	HostModel        string        `yaml:"host_model"`   // default or ptask
	Solver           string        `yaml:"solver"`       // maxmin or bmf, used by cpu/network/disk models
	PTaskSolver      string        `yaml:"ptask_solver"` // solver of the parallel task model
	Precision        float64       `yaml:"precision"`
	TimingPrecision  float64       `yaml:"timing_precision"`
	BMFMaxIterations int           `yaml:"bmf_max_iterations"`
	ParallelSolve    bool          `yaml:"parallel_solve"`
	Network          NetworkConfig `yaml:"network"`
}

// NetworkConfig holds the CM02 network model factors
type NetworkConfig struct {
	LatencyFactor     float64 `yaml:"latency_factor"`
	BandwidthFactor   float64 `yaml:"bandwidth_factor"`
	WeightS           float64 `yaml:"weight_s"`
	TCPGamma          float64 `yaml:"tcp_gamma"`
	LoopbackBandwidth float64 `yaml:"loopback_bandwidth"`
	LoopbackLatency   float64 `yaml:"loopback_latency"`
	Crosstraffic      bool    `yaml:"crosstraffic"`
}

// DaemonConfig configures the simd listeners
type DaemonConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	MaxRuns  int    `yaml:"max_runs"`
}

// Solver names accepted in KernelConfig.
const (
	SolverMaxMin = "maxmin"
	SolverBMF    = "bmf"
)

// Host models. With HostModel "ptask" the cpu and network models share one
// sharing system solved with PTaskSolver, which parallel tasks require.
const (
	HostModelDefault = "default"
	HostModelPTask   = "ptask"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Kernel: KernelConfig{
			HostModel:        HostModelDefault,
			Solver:           SolverMaxMin,
			PTaskSolver:      SolverBMF,
			Precision:        1e-5,
			TimingPrecision:  1e-9,
			BMFMaxIterations: 1000,
			Network: NetworkConfig{
				LatencyFactor:     1.0,
				BandwidthFactor:   1.0,
				TCPGamma:          4194304.0,
				LoopbackBandwidth: 498000000.0,
				LoopbackLatency:   0.000015,
			},
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			GRPCAddr: ":50051",
			MaxRuns:  64,
		},
	}
}
