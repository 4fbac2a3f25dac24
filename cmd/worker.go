package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunutaxe/payment-service/internal/payment"
)

var pollerCmd = &cobra.Command{
	Use:   "poller",
	Short: "Start the payment status poller",
	Long:  `Sweeps open payments and refreshes their status from the providers. Catches USSD confirmations whose webhook never arrived.`,
	Run: func(cmd *cobra.Command, args []string) {
		startPoller()
	},
}

var (
	pollInterval time.Duration
	pollBatch    int
)

func init() {
	pollerCmd.Flags().DurationVar(&pollInterval, "interval", 2*time.Minute, "time between sweeps")
	pollerCmd.Flags().IntVar(&pollBatch, "batch", 50, "open payments refreshed per status per sweep")
}

func startPoller() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	poller := payment.NewPoller(deps.PaymentService, deps.Repo, pollInterval, pollBatch, deps.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		deps.Logger.Info("received signal, stopping poller", "signal", sig)
		cancel()
	}()

	poller.Run(ctx)

	if err := deps.DB.Close(); err != nil {
		deps.Logger.Error("database close error", "error", err)
	}
}
