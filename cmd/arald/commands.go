package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ara-foundation/ledger/transaction"
	"github.com/ara-foundation/ledger/types"
)

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Print the balance of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.oneShot(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Stop() //nolint:errcheck // best-effort close

			bal, err := l.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], bal)
			return nil
		},
	}
}

func (a *app) transferCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "Move tokens between accounts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := types.ParseMoney(args[2])
			if err != nil {
				return err
			}
			k, err := transaction.ParseKind(kind)
			if err != nil {
				return err
			}

			l, err := a.oneShot(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Stop() //nolint:errcheck // best-effort close

			txID, err := l.Transfer(cmd.Context(), args[0], args[1], amount, k)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), txID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(transaction.KindTransfer), "Transaction kind")
	return cmd
}

func (a *app) settleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Pay out every expired access window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := a.oneShot(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Stop() //nolint:errcheck // best-effort close

			settled, err := l.SettleAll(cmd.Context())
			out := cmd.OutOrStdout()
			for _, s := range settled {
				fmt.Fprintf(out, "%s %s windows=%d\n", s.Key, s.Amount, s.Windows())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "settled %d projects\n", len(settled))
			return nil
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Start migrates.
			l, err := a.oneShot(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Stop() //nolint:errcheck // best-effort close

			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
