package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/services"
	"ledgerbook/internal/sheets"
	"ledgerbook/internal/sheets/google"
)

func newExportCommand(s *session) *cobra.Command {
	var (
		filters  filterFlags
		accounts []string
		output   string
		toSheet  bool
		replace  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export transactions as CSV or to a spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			const op = "cli.export"
			ctx := cmd.Context()

			ledgerID, err := s.ledger(ctx)
			if err != nil {
				return err
			}
			q, err := filters.query(op, ledgerID)
			if err != nil {
				return err
			}
			p := services.ExportParams{
				LedgerID:   q.LedgerID,
				Start:      q.Start,
				End:        q.End,
				MinAmount:  q.MinAmount,
				MaxAmount:  q.MaxAmount,
				AccountIDs: accounts,
				CategoryID: q.CategoryID,
				TagID:      q.TagID,
				MerchantID: q.MerchantID,
				Keyword:    q.Keyword,
			}

			if toSheet {
				return s.exportToSheet(ctx, cmd.OutOrStdout(), p, replace)
			}

			csv, err := s.engine.Exporter.ExportCsv(ctx, p)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), csv)
				return err
			}
			if err := os.WriteFile(output, []byte(csv), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}

	filters.bind(cmd)
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "account id, matching either side of a transfer (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default: stdout)")
	cmd.Flags().BoolVar(&toSheet, "sheet", false, "append rows to the configured Google Sheet")
	cmd.Flags().BoolVar(&replace, "replace", false, "with --sheet, clear the sheet and write the header first")

	return cmd
}

// exportToSheet publishes the export rows. The header row is only written
// when the sheet is replaced, so repeated appends stay tabular.
func (s *session) exportToSheet(ctx context.Context, out io.Writer, p services.ExportParams, replace bool) error {
	const op = "cli.export_sheet"

	sink, err := s.sheet(ctx)
	if err != nil {
		return err
	}
	rows, err := s.engine.Exporter.ExportRows(ctx, p)
	if err != nil {
		return err
	}
	if !replace {
		rows = rows[1:]
	}

	ref, err := sheets.Publish(ctx, sink, rows, replace)
	if err != nil {
		s.logger.ErrorContext(ctx, "Sheet export failed",
			log.FieldOperation, log.OpExport,
			log.FieldLedgerID, p.LedgerID,
			log.FieldError, err.Error())
		return core.Storage(op, err)
	}
	if ref == "" {
		fmt.Fprintln(out, "Nothing to export")
		return nil
	}
	fmt.Fprintf(out, "Exported %d rows to %s\n", len(rows), ref)
	return nil
}

func (s *session) sheet(ctx context.Context) (sheets.Sink, error) {
	if s.env != nil && s.env.Sheet != nil {
		return s.env.Sheet, nil
	}
	if !s.cfg.SheetsEnabled() {
		return nil, errors.New("--sheet needs GOOGLE_SPREADSHEET_ID")
	}
	cfg := google.ConfigFromEnv(s.cfg.GoogleSpreadsheetID, s.cfg.GoogleSheetName)
	client, err := google.NewClient(ctx, cfg, s.logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newBackupCommand(s *session) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON snapshot of every ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := s.engine.Backup.CreateBackup(cmd.Context())
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return services.WriteBackup(cmd.OutOrStdout(), payload)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			if err := services.WriteBackup(f, payload); err != nil {
				f.Close()
				return fmt.Errorf("writing %s: %w", output, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d ledgers, %d transactions)\n",
				output, len(payload.Ledgers), len(payload.Transactions))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default: stdout)")

	return cmd
}

func newRestoreCommand(s *session) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Load a backup written by the backup command",
		Long:  "Load a backup written by the backup command. Existing data is kept unless --overwrite is given; entities with the same id are replaced.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening backup: %w", err)
			}
			defer f.Close()

			payload, err := services.ReadBackup(f)
			if err != nil {
				return err
			}
			sum, err := s.engine.Backup.RestoreBackup(cmd.Context(), payload, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Restored %d ledgers, %d accounts, %d categories, %d tags, %d merchants, %d transactions\n",
				sum.Ledgers, sum.Accounts, sum.Categories, sum.Tags, sum.Merchants, sum.Transactions)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "delete existing data first")

	return cmd
}
