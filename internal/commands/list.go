package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ledgerbook/internal/core"
	"ledgerbook/internal/services"
)

func newListCommand(s *session) *cobra.Command {
	var (
		filters filterFlags
		sortBy  string
		asc     bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions of a ledger, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			const op = "cli.list"
			ctx := cmd.Context()

			ledgerID, err := s.ledger(ctx)
			if err != nil {
				return err
			}
			p, err := filters.query(op, ledgerID)
			if err != nil {
				return err
			}
			p.SortField = services.SortField(sortBy)
			if asc {
				p.SortDirection = services.SortAsc
			}

			txs, err := s.engine.Query.QueryTransactions(ctx, p)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), txs)
			}
			return printTransactions(cmd.OutOrStdout(), txs)
		},
	}

	filters.bind(cmd)
	filters.bindAccount(cmd)
	cmd.Flags().StringVar(&sortBy, "sort", string(services.SortByOccurredAt), "sort by occurred_at or amount")
	cmd.Flags().BoolVar(&asc, "asc", false, "sort ascending")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func printTransactions(w io.Writer, txs []core.Transaction) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tTYPE\tAMOUNT\tCURRENCY\tACCOUNT\tCATEGORY\tNOTE\tID")
	for _, tx := range txs {
		account := tx.AccountID
		if tx.Type == core.Transfer {
			account = tx.FromAccountID + " -> " + tx.ToAccountID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.OccurredAt.Local().Format("2006-01-02 15:04"),
			tx.Type,
			core.FormatAmount(tx.Amount),
			tx.Currency,
			account,
			tx.CategoryID,
			tx.Note,
			tx.ID)
	}
	return tw.Flush()
}

func newStatsCommand(s *session) *cobra.Command {
	var (
		filters filterFlags
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize income and expense by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			const op = "cli.stats"
			ctx := cmd.Context()

			ledgerID, err := s.ledger(ctx)
			if err != nil {
				return err
			}
			start, end, err := filters.window(op)
			if err != nil {
				return err
			}

			summary, err := s.engine.Statistics.GetStatisticsSummary(ctx, services.StatisticsParams{
				LedgerID: ledgerID,
				Start:    start,
				End:      end,
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			return printSummary(cmd.OutOrStdout(), summary)
		},
	}

	filters.bindWindow(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func printSummary(w io.Writer, s core.StatisticsSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Income\t%s\t\n", core.FormatAmount(s.Income))
	fmt.Fprintf(tw, "Expense\t%s\t\n", core.FormatAmount(s.Expense))
	fmt.Fprintf(tw, "Balance\t%s\t\n", core.FormatAmount(s.Balance))
	for _, group := range []struct {
		title string
		items []core.CategoryAggregate
	}{
		{"Income by category", s.IncomeByCategory},
		{"Expense by category", s.ExpenseByCategory},
	} {
		if len(group.items) == 0 {
			continue
		}
		fmt.Fprintf(tw, "\t\t\n%s\t\t\n", group.title)
		for _, c := range group.items {
			fmt.Fprintf(tw, "%s\t%s\t\n", c.Name, core.FormatAmount(c.Amount))
		}
	}
	return tw.Flush()
}
