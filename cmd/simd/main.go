package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
)

// Environment variables overriding the configuration file. Flags set on the
// command line override both.
const (
	envLogLevel  = "SIMKERNEL_LOG_LEVEL"
	envLogFormat = "SIMKERNEL_LOG_FORMAT"
	envHTTPAddr  = "SIMKERNEL_HTTP_ADDR"
	envGRPCAddr  = "SIMKERNEL_GRPC_ADDR"
)

var (
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "simd",
		Short:         "Discrete-event simulation kernel and run daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "kernel and daemon configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of environment variables to load when present")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json or text)")

	rootCmd.AddCommand(newServeCmd(), newRunCmd(), newValidateCmd(), newSubmitCmd())
	return rootCmd
}

// loadConfig reads the environment file and the configuration file, applies
// the environment overrides and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	overrideFromEnv(&cfg.LogLevel, envLogLevel)
	overrideFromEnv(&cfg.LogFormat, envLogFormat)
	overrideFromEnv(&cfg.Daemon.HTTPAddr, envHTTPAddr)
	overrideFromEnv(&cfg.Daemon.GRPCAddr, envGRPCAddr)

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}

	// stdout carries command output, logs go to stderr
	log := logger.NewWithFormat(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	logger.SetDefault(log)
	return cfg, log, nil
}

func overrideFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
