package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func settleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Pay out the week's allowance and bonuses, then reset the chore state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.settler.Settle(cmd.Context())
			if err != nil {
				return fmt.Errorf("settle week: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the chore completion state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current state document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.state.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear every completion flag, sized from the current config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.state.Reset(cmd.Context())
			if err != nil {
				return fmt.Errorf("reset state: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	})
	return cmd
}

func ledgerCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair allowance ledgers",
	}

	show := &cobra.Command{
		Use:   "show <user>",
		Short: "Print a user's account and recent transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.ledger.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get account: %w", err)
			}
			txs, err := a.ledger.RecentTransactions(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("list transactions: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"account":      acct,
				"transactions": txs,
			})
		},
	}
	show.Flags().IntVarP(&limit, "limit", "n", 20, "number of transactions to show")

	reconcile := &cobra.Command{
		Use:   "reconcile <user>",
		Short: "Recompute a user's balance from the transaction history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.ledger.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.AddCommand(show, reconcile)
	return cmd
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage encrypted snapshots in S3-compatible storage",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Snapshot config, state and ledgers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			obj, err := a.backup.Create(cmd.Context())
			if err != nil {
				return fmt.Errorf("create backup: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), obj)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			objects, err := a.backup.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list backups: %w", err)
			}
			for _, obj := range objects {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", obj.CreatedAt.Format("2006-01-02 15:04:05"), obj.Size, obj.Key)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore <key>",
		Short: "Overwrite config, state and ledgers from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.backup.Restore(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("restore backup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s (%d ledgers, taken %s)\n", args[0], len(snap.Ledgers), snap.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	})
	return cmd
}

func storageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Storage backend diagnostics",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show which backend each store type resolved to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.factory.Info())
		},
	})
	return cmd
}
