package commands

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ledgerbook/internal/core"
	"ledgerbook/internal/services"
)

// ErrBalanceMismatch is returned by check when a stored balance disagrees
// with the transaction history.
var ErrBalanceMismatch = errors.New("stored balances disagree with transactions")

func newInitCommand(s *session) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default ledger, account, categories and tags",
		Long:  "Create the default ledger, account, categories and tags. Running it again only fills in what is missing.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := s.engine.Initializer.Initialize(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "Ledger   %s%s\n", res.LedgerID, created(res.CreatedLedger))
			fmt.Fprintf(out, "Account  %s%s\n", res.AccountID, created(res.CreatedAccount))
			fmt.Fprintf(out, "Seeded %d categories and %d tags\n", res.CreatedCategoryCount, res.CreatedTagCount)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func created(ok bool) string {
	if ok {
		return " (created)"
	}
	return ""
}

func newCheckCommand(s *session) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare stored balances with the transaction history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ledgerID, err := s.ledger(ctx)
			if err != nil {
				return err
			}
			res, err := s.engine.Auditor.CheckBalanceConsistency(ctx, ledgerID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				err = writeJSON(out, res)
			} else {
				err = printBalanceItems(out, res.Items)
			}
			if err != nil {
				return err
			}
			if res.HasMismatch {
				return fmt.Errorf("ledger %s: %w", ledgerID, ErrBalanceMismatch)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func newRecalcCommand(s *session) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Rewrite stored balances from the transaction history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			ledgerID, err := s.ledger(ctx)
			if err != nil {
				return err
			}
			res, err := s.engine.Auditor.RecalculateBalances(ctx, ledgerID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, res)
			}
			if err := printBalanceItems(out, res.Items); err != nil {
				return err
			}
			fmt.Fprintf(out, "Updated %d accounts\n", res.UpdatedCount)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func printBalanceItems(w io.Writer, items []services.BalanceCheckItem) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tEXPECTED\tACTUAL\tDELTA")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			it.AccountID,
			core.FormatAmount(it.Expected),
			core.FormatAmount(it.Actual),
			core.FormatAmount(it.Delta))
	}
	return tw.Flush()
}
