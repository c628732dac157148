package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/store"
)

// CSV column order of ExportCsv.
var csvHeader = []string{
	"id", "type", "amount", "currency", "occurredAt", "account", "category",
	"tags", "merchant", "note", "fromAccount", "toAccount",
}

type ExportParams struct {
	LedgerID   string
	Start      *time.Time
	End        *time.Time
	MinAmount  *int64
	MaxAmount  *int64
	AccountIDs []string // matches account, source or destination
	CategoryID string
	TagID      string
	MerchantID string
	Keyword    string
}

type Exporter struct {
	stores store.Stores
	logger *log.Logger
}

// ExportRows returns the header followed by one row per matching
// transaction in store order. Account, category and merchant columns hold
// names, empty when the entity no longer exists; tags hold names joined
// with "|", falling back to the tag id.
func (e *Exporter) ExportRows(ctx context.Context, p ExportParams) ([][]string, error) {
	const op = "export.rows"
	if strings.TrimSpace(p.LedgerID) == "" {
		return nil, core.Validation(op, core.ErrBlankLedger, "ledger id is blank")
	}
	txs, err := e.stores.Transactions.FindTransactions(ctx, core.TransactionFilter{
		LedgerID:   p.LedgerID,
		Start:      p.Start,
		End:        p.End,
		MinAmount:  p.MinAmount,
		MaxAmount:  p.MaxAmount,
		AccountIDs: p.AccountIDs,
		CategoryID: p.CategoryID,
		TagID:      p.TagID,
		MerchantID: p.MerchantID,
		Keyword:    strings.TrimSpace(p.Keyword),
	})
	if err != nil {
		return nil, core.Storage(op, err)
	}
	names, err := e.lookupNames(ctx, p.LedgerID)
	if err != nil {
		return nil, core.Storage(op, err)
	}

	rows := make([][]string, 0, len(txs)+1)
	rows = append(rows, append([]string(nil), csvHeader...))
	for _, t := range txs {
		tags := make([]string, 0, len(t.TagIDs))
		for _, id := range t.TagIDs {
			if name, ok := names.tags[id]; ok {
				tags = append(tags, name)
			} else {
				tags = append(tags, id)
			}
		}
		rows = append(rows, []string{
			t.ID,
			strings.ToUpper(string(t.Type)),
			strconv.FormatInt(t.Amount, 10),
			t.Currency,
			strconv.FormatInt(t.OccurredAt.UnixMilli(), 10),
			names.accounts[t.AccountID],
			names.categories[t.CategoryID],
			strings.Join(tags, "|"),
			names.merchants[t.MerchantID],
			t.Note,
			names.accounts[t.FromAccountID],
			names.accounts[t.ToAccountID],
		})
	}
	return rows, nil
}

// exportNames maps entity ids of one ledger to display names.
type exportNames struct {
	accounts   map[string]string
	categories map[string]string
	tags       map[string]string
	merchants  map[string]string
}

func (e *Exporter) lookupNames(ctx context.Context, ledgerID string) (exportNames, error) {
	n := exportNames{
		accounts:   map[string]string{},
		categories: map[string]string{},
		tags:       map[string]string{},
		merchants:  map[string]string{},
	}
	accounts, err := e.stores.Accounts.ListAccounts(ctx, ledgerID)
	if err != nil {
		return n, err
	}
	for _, a := range accounts {
		n.accounts[a.ID] = a.Name
	}
	categories, err := e.stores.Categories.ListCategories(ctx, ledgerID, "")
	if err != nil {
		return n, err
	}
	for _, c := range categories {
		n.categories[c.ID] = c.Name
	}
	tags, err := e.stores.Tags.ListTags(ctx, ledgerID)
	if err != nil {
		return n, err
	}
	for _, t := range tags {
		n.tags[t.ID] = t.Name
	}
	merchants, err := e.stores.Merchants.ListMerchants(ctx, ledgerID)
	if err != nil {
		return n, err
	}
	for _, m := range merchants {
		n.merchants[m.ID] = m.Name
	}
	return n, nil
}

// ExportCsv renders ExportRows as CSV: rows joined by "\n" without a
// trailing newline, fields quoted only when they contain a comma, quote,
// CR or LF.
func (e *Exporter) ExportCsv(ctx context.Context, p ExportParams) (string, error) {
	rows, err := e.ExportRows(ctx, p)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(rows))
	for i, row := range rows {
		fields := make([]string, len(row))
		for j, f := range row {
			fields[j] = escapeCSV(f)
		}
		lines[i] = strings.Join(fields, ",")
	}
	e.logger.InfoContext(ctx, "Transactions exported",
		log.FieldLedgerID, p.LedgerID, log.FieldCount, len(rows)-1)
	return strings.Join(lines, "\n"), nil
}

func escapeCSV(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
