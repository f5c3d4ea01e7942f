// The arbitrage-engine command runs one partition of the cross-venue
// arbitrage detection pipeline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sonicx222/arbitrage-new-sub012/internal/config"
	"github.com/sonicx222/arbitrage-new-sub012/internal/partition"
	"github.com/sonicx222/arbitrage-new-sub012/pkg/logger"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownGrace = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arbitrage-engine",
		Short:         "Cross-venue arbitrage detection engine",
		Long:          "Detects cross-chain, intra-chain and statistical arbitrage opportunities from DEX price feeds, whale flows and pending mempool swaps.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one detection partition",
		RunE:  runPartition,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func runPartition(cmd *cobra.Command, _ []string) error {
	log := logger.NewDefault()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Invalid configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runtime, err := partition.NewRuntime(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build partition", zap.Error(err))
		return err
	}
	if err := runtime.Start(ctx); err != nil {
		log.Error("Failed to start partition", zap.Error(err))
		runtime.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	runtime.Shutdown(shutCtx)
	return nil
}
