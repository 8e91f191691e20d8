package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/GoSim-25-26J-441/simkernel/internal/simd"
)

func newServeCmd() *cobra.Command {
	var (
		httpAddr string
		grpcAddr string
		maxRuns  int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP and gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("http-addr") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("grpc-addr") {
				cfg.Daemon.GRPCAddr = grpcAddr
			}
			if cmd.Flags().Changed("max-runs") {
				cfg.Daemon.MaxRuns = maxRuns
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := simd.NewRunStore()
			notifier := simd.NewNotifier(simd.WithNotifierLogger(log))
			executor := simd.NewRunExecutor(store,
				simd.WithKernelConfig(cfg.Kernel),
				simd.WithLogger(log),
				simd.WithNotifier(notifier),
				simd.WithMaxRuns(cfg.Daemon.MaxRuns))

			// TODO: configure TLS and authentication before exposing the
			// gRPC listener outside a trusted network.
			grpcServer := grpc.NewServer()
			simd.NewSimulationGRPCServer(store, executor, log).Register(grpcServer)

			grpcLis, err := net.Listen("tcp", cfg.Daemon.GRPCAddr)
			if err != nil {
				return err
			}

			httpSrv := &http.Server{
				Addr:              cfg.Daemon.HTTPAddr,
				Handler:           simd.NewHTTPServer(store, executor, log).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
				IdleTimeout:       120 * time.Second,
				MaxHeaderBytes:    1 << 20,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("gRPC server listening", "addr", cfg.Daemon.GRPCAddr)
				return grpcServer.Serve(grpcLis)
			})
			g.Go(func() error {
				log.Info("HTTP server listening", "addr", cfg.Daemon.HTTPAddr)
				if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutdown requested")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				grpcServer.GracefulStop()
				err := httpSrv.Shutdown(shutdownCtx)
				executor.Shutdown()
				notifier.Wait()
				return err
			})

			if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			log.Info("daemon stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":50051", "gRPC listen address")
	cmd.Flags().IntVar(&maxRuns, "max-runs", 64, "runs executing at once, 0 for no bound")
	return cmd
}
