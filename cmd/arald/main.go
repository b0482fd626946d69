// Command arald runs the ARA ledger: the HTTP API, background settlement and
// a few operator commands against the configured store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ara-foundation/ledger"
	"github.com/ara-foundation/ledger/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the flags shared by every subcommand.
type app struct {
	configPath string
}

func rootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "arald",
		Short: "ARA ledger daemon",
		Long: `arald keeps the ARA token ledger: account balances, crowd-funded
issues, production rewards and the pay-per-hour access escrow.

The store is chosen by the configured DSN: memory://, sqlite://<path>,
postgres://... or mongodb://...`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file path (YAML or TOML)")

	cmd.AddCommand(
		a.serveCmd(),
		a.balanceCmd(),
		a.transferCmd(),
		a.settleCmd(),
		a.migrateCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "arald %s\n", Version)
			},
		},
	)
	return cmd
}

// open loads the configuration and starts a Ledger over the configured store.
// The caller must Stop the returned Ledger.
func (a *app) open(ctx context.Context, extra ...ledger.Option) (*ledger.Ledger, *config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}
	opts, err := cfg.LedgerOptions()
	if err != nil {
		return nil, nil, err
	}

	s, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	logger := cfg.Logger()
	opts = append(opts, ledger.WithLogger(logger))
	opts = append(opts, extra...)

	l := ledger.New(s, opts...)
	if err := l.Start(ctx); err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	return l, cfg, nil
}

// oneShot opens a Ledger without the background settlement worker.
func (a *app) oneShot(ctx context.Context) (*ledger.Ledger, error) {
	l, _, err := a.open(ctx, ledger.WithSettleInterval(0))
	return l, err
}
