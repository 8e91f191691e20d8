package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/simkernel/internal/engine"
	"github.com/GoSim-25-26J-441/simkernel/internal/replay"
	"github.com/GoSim-25-26J-441/simkernel/pkg/config"
)

func newRunCmd() *cobra.Command {
	var (
		scenarioFile string
		traceFile    string
		maxDate      float64
		seed         uint64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Simulate a scenario file and print its result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			scenario, err := config.LoadScenario(scenarioFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-date") {
				scenario.MaxDate = maxDate
			}

			opts := []replay.Option{replay.WithLogger(log)}
			if cmd.Flags().Changed("policy-seed") {
				opts = append(opts, replay.WithPolicy(engine.NewRandomPolicy(seed)))
			}

			res, tr, err := replay.Run(cmd.Context(), scenario, cfg.Kernel, opts...)
			if err != nil {
				return err
			}
			if traceFile != "" {
				if err := tr.WriteToFile(traceFile); err != nil {
					return err
				}
				log.Info("trace written", "file", traceFile)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&scenarioFile, "scenario", "s", "", "scenario file (YAML)")
	cmd.Flags().StringVarP(&traceFile, "trace", "o", "", "write the trace to this file, JSON for .json, YAML otherwise")
	cmd.Flags().Float64Var(&maxDate, "max-date", 0, "stop the simulation at this date, overriding the scenario")
	cmd.Flags().Uint64Var(&seed, "policy-seed", 0, "order simultaneous simcalls randomly with this seed")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var scenarioFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a scenario file and its platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := loadConfig(cmd); err != nil {
				return err
			}
			scenario, err := config.LoadScenario(scenarioFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %q is valid: %d hosts, %d links, %d actors\n",
				scenario.Name, len(scenario.Platform.Hosts), len(scenario.Platform.Links), len(scenario.Actors))
			return nil
		},
	}
	cmd.Flags().StringVarP(&scenarioFile, "scenario", "s", "", "scenario file (YAML)")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}
