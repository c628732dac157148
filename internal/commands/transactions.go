package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"ledgerbook/internal/core"
	"ledgerbook/internal/services"
)

// entryFlags are the fields common to add, transfer and edit.
type entryFlags struct {
	id       string
	at       string
	currency string
	note     string
}

func (f *entryFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "transaction id (default: generated)")
	cmd.Flags().StringVar(&f.at, "at", "", "occurrence time (default: now)")
	cmd.Flags().StringVar(&f.currency, "currency", "", "currency code (default: the account currency)")
	cmd.Flags().StringVar(&f.note, "note", "", "free-form note")
}

func (f *entryFlags) occurredAt(op string) (time.Time, error) {
	if f.at == "" {
		return time.Now(), nil
	}
	return parseTime(op, "at", f.at, false)
}

// currencyFor falls back to the account currency, then to the configured
// default.
func (s *session) currencyFor(ctx context.Context, op, flag, accountID string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	a, err := s.backend.GetAccount(ctx, accountID)
	if err != nil {
		return "", core.Storage(op, err)
	}
	if a != nil && a.Currency != "" {
		return a.Currency, nil
	}
	return s.cfg.DefaultCurrency, nil
}

func newAddCommand(s *session) *cobra.Command {
	var (
		entry    entryFlags
		typ      string
		account  string
		category string
		tags     []string
		merchant string
	)

	cmd := &cobra.Command{
		Use:   "add <amount>",
		Short: "Record an income or an expense",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "cli.add"
			ctx := cmd.Context()

			amount, err := parseAmount(op, args[0])
			if err != nil {
				return err
			}
			at, err := entry.occurredAt(op)
			if err != nil {
				return err
			}
			ledgerID, defaultAccount, err := s.defaults(ctx)
			if err != nil {
				return err
			}
			if account == "" {
				account = defaultAccount
			}
			if account == "" {
				return core.Validation(op, core.ErrBlankAccount, "--account is required with --ledger")
			}
			currency, err := s.currencyFor(ctx, op, entry.currency, account)
			if err != nil {
				return err
			}

			tx, err := s.engine.Recorder.AddIncomeExpense(ctx, services.AddIncomeExpenseParams{
				ID:         entry.id,
				LedgerID:   ledgerID,
				Type:       core.TransactionType(typ),
				Amount:     amount,
				Currency:   currency,
				OccurredAt: at,
				Note:       entry.note,
				AccountID:  account,
				CategoryID: category,
				TagIDs:     tags,
				MerchantID: merchant,
			})
			if err != nil {
				return err
			}
			return printRecorded(cmd.OutOrStdout(), "Recorded", tx)
		},
	}

	entry.bind(cmd)
	cmd.Flags().StringVar(&typ, "type", string(core.Expense), "income or expense")
	cmd.Flags().StringVar(&account, "account", "", "account id (default: the default account)")
	cmd.Flags().StringVar(&category, "category", "", "category id")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag id (repeatable)")
	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant id")

	return cmd
}

func newTransferCommand(s *session) *cobra.Command {
	var (
		entry    entryFlags
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "transfer <amount>",
		Short: "Move money between two accounts of a ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "cli.transfer"
			ctx := cmd.Context()

			amount, err := parseAmount(op, args[0])
			if err != nil {
				return err
			}
			at, err := entry.occurredAt(op)
			if err != nil {
				return err
			}
			ledgerID, err := s.ledger(ctx)
			if err != nil {
				return err
			}
			currency, err := s.currencyFor(ctx, op, entry.currency, from)
			if err != nil {
				return err
			}

			tx, err := s.engine.Recorder.AddTransfer(ctx, services.AddTransferParams{
				ID:            entry.id,
				LedgerID:      ledgerID,
				Amount:        amount,
				Currency:      currency,
				OccurredAt:    at,
				Note:          entry.note,
				FromAccountID: from,
				ToAccountID:   to,
			})
			if err != nil {
				return err
			}
			return printRecorded(cmd.OutOrStdout(), "Recorded", tx)
		},
	}

	entry.bind(cmd)
	cmd.Flags().StringVar(&from, "from", "", "source account id")
	cmd.Flags().StringVar(&to, "to", "", "destination account id")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func newEditCommand(s *session) *cobra.Command {
	var (
		entry    entryFlags
		amount   string
		typ      string
		account  string
		category string
		tags     []string
		merchant string
		from, to string
		deleted  bool
	)

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a transaction",
		Long:  "Change fields of a transaction. Only the flags given are changed; balances are adjusted by the difference.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			const op = "cli.edit"
			ctx := cmd.Context()
			flags := cmd.Flags()

			existing, err := s.backend.GetTransaction(ctx, args[0])
			if err != nil {
				return core.Storage(op, err)
			}
			if existing == nil {
				return core.NotFound(op, "transaction", args[0])
			}

			p := services.EditTransactionParams{
				ID:            existing.ID,
				LedgerID:      existing.LedgerID,
				Type:          existing.Type,
				Amount:        existing.Amount,
				Currency:      existing.Currency,
				OccurredAt:    existing.OccurredAt,
				Note:          existing.Note,
				AccountID:     existing.AccountID,
				CategoryID:    existing.CategoryID,
				TagIDs:        existing.TagIDs,
				MerchantID:    existing.MerchantID,
				FromAccountID: existing.FromAccountID,
				ToAccountID:   existing.ToAccountID,
				Deleted:       existing.Deleted,
			}
			if flags.Changed("amount") {
				if p.Amount, err = parseAmount(op, amount); err != nil {
					return err
				}
			}
			if flags.Changed("at") {
				if p.OccurredAt, err = parseTime(op, "at", entry.at, false); err != nil {
					return err
				}
			}
			if flags.Changed("type") {
				p.Type = core.TransactionType(typ)
			}
			if flags.Changed("currency") {
				p.Currency = entry.currency
			}
			if flags.Changed("note") {
				p.Note = entry.note
			}
			if flags.Changed("account") {
				p.AccountID = account
			}
			if flags.Changed("category") {
				p.CategoryID = category
			}
			if flags.Changed("tag") {
				p.TagIDs = tags
			}
			if flags.Changed("merchant") {
				p.MerchantID = merchant
			}
			if flags.Changed("from") {
				p.FromAccountID = from
			}
			if flags.Changed("to") {
				p.ToAccountID = to
			}
			if flags.Changed("deleted") {
				p.Deleted = deleted
			}

			tx, err := s.engine.Recorder.EditTransaction(ctx, p)
			if err != nil {
				return err
			}
			return printRecorded(cmd.OutOrStdout(), "Updated", tx)
		},
	}

	cmd.Flags().StringVar(&entry.at, "at", "", "occurrence time")
	cmd.Flags().StringVar(&entry.currency, "currency", "", "currency code")
	cmd.Flags().StringVar(&entry.note, "note", "", "free-form note")
	cmd.Flags().StringVar(&amount, "amount", "", "amount")
	cmd.Flags().StringVar(&typ, "type", "", "income, expense or transfer")
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVar(&category, "category", "", "category id (empty clears it)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag ids, replacing the current ones")
	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant id (empty clears it)")
	cmd.Flags().StringVar(&from, "from", "", "transfer source account id")
	cmd.Flags().StringVar(&to, "to", "", "transfer destination account id")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "mark the transaction deleted or restore it")

	return cmd
}

func newDeleteCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a transaction and reverse its balance effect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.engine.Recorder.DeleteTransaction(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func printRecorded(w io.Writer, verb string, tx core.Transaction) error {
	_, err := fmt.Fprintf(w, "%s %s %s %s %s\n", verb, tx.Type, core.FormatAmount(tx.Amount), tx.Currency, tx.ID)
	return err
}
