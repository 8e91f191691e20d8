package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/GoSim-25-26J-441/simkernel/internal/simd"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

func newSubmitCmd() *cobra.Command {
	var (
		addr         string
		scenarioFile string
		maxDate      float64
		wait         bool
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a scenario to a running daemon over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// the daemon parses the scenario itself, so it must be self-contained
			data, err := os.ReadFile(scenarioFile)
			if err != nil {
				return fmt.Errorf("failed to read scenario file %s: %w", scenarioFile, err)
			}

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return err
			}
			defer conn.Close()
			client := simd.NewRunsClient(conn)

			ctx := cmd.Context()
			run, err := client.CreateRun(ctx, "", models.RunInput{ScenarioYAML: string(data), MaxDate: maxDate}, true)
			if err != nil {
				return err
			}
			log.Info("run submitted", "run_id", run.ID, "status", run.Status)
			if !wait {
				fmt.Fprintln(cmd.OutOrStdout(), run.ID)
				return nil
			}

			err = client.StreamRunEvents(ctx, run.ID, 200*time.Millisecond, func(ev simd.RunEvent) error {
				log.Info("run status", "run_id", ev.RunID, "status", ev.Current)
				return nil
			})
			if err != nil {
				return err
			}

			final, res, err := client.GetRunResult(ctx, run.ID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"run": final, "result": res})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "gRPC address of the daemon")
	cmd.Flags().StringVarP(&scenarioFile, "scenario", "s", "", "scenario file with an inline platform (YAML)")
	cmd.Flags().Float64Var(&maxDate, "max-date", 0, "stop the simulation at this date")
	cmd.Flags().BoolVar(&wait, "wait", true, "follow the run until it ends and print its result")
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}
