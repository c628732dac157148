package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/store"
)

type SortField string

const (
	SortByOccurredAt SortField = "occurred_at"
	SortByAmount     SortField = "amount"
)

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// QueryParams selects transactions of one ledger. Unset fields do not
// constrain the result.
type QueryParams struct {
	LedgerID   string
	Start      *time.Time
	End        *time.Time
	MinAmount  *int64
	MaxAmount  *int64
	AccountID  string
	CategoryID string
	TagID      string
	MerchantID string
	Keyword    string

	SortField     SortField
	SortDirection SortDirection
}

type QueryService struct {
	stores store.Stores
	logger *log.Logger
}

func (p QueryParams) filter() core.TransactionFilter {
	f := core.TransactionFilter{
		LedgerID:   p.LedgerID,
		Start:      p.Start,
		End:        p.End,
		MinAmount:  p.MinAmount,
		MaxAmount:  p.MaxAmount,
		CategoryID: p.CategoryID,
		TagID:      p.TagID,
		MerchantID: p.MerchantID,
		Keyword:    strings.TrimSpace(p.Keyword),
	}
	if p.AccountID != "" {
		f.AccountIDs = []string{p.AccountID}
	}
	return f
}

func (p QueryParams) validate(op string) error {
	if strings.TrimSpace(p.LedgerID) == "" {
		return core.Validation(op, core.ErrBlankLedger, "ledger id is blank")
	}
	switch p.SortField {
	case "", SortByOccurredAt, SortByAmount:
	default:
		return core.Validation(op, core.ErrInvalidType, "unknown sort field %q", p.SortField)
	}
	switch p.SortDirection {
	case "", SortAsc, SortDesc:
	default:
		return core.Validation(op, core.ErrInvalidType, "unknown sort direction %q", p.SortDirection)
	}
	return nil
}

// QueryTransactions returns the matching transactions sorted by the
// requested key. Ties keep store order.
func (q *QueryService) QueryTransactions(ctx context.Context, p QueryParams) ([]core.Transaction, error) {
	const op = "query.transactions"
	if err := p.validate(op); err != nil {
		return nil, err
	}
	txs, err := q.stores.Transactions.FindTransactions(ctx, p.filter())
	if err != nil {
		return nil, core.Storage(op, err)
	}
	sortTransactions(txs, p.SortField, p.SortDirection)
	return txs, nil
}

// WatchTransactions emits the query result now and after every change to
// the ledger until ctx is cancelled.
func (q *QueryService) WatchTransactions(ctx context.Context, p QueryParams) (<-chan []core.Transaction, error) {
	if err := p.validate("query.watch_transactions"); err != nil {
		return nil, err
	}
	return watch(ctx, q.stores.Changes, p.LedgerID, q.logger, func(ctx context.Context) ([]core.Transaction, error) {
		return q.QueryTransactions(ctx, p)
	})
}

func sortTransactions(txs []core.Transaction, field SortField, dir SortDirection) {
	desc := dir != SortAsc
	key := func(t core.Transaction) int64 {
		if field == SortByAmount {
			return t.Amount
		}
		return t.OccurredAt.UnixNano()
	}
	sort.SliceStable(txs, func(i, j int) bool {
		if desc {
			return key(txs[i]) > key(txs[j])
		}
		return key(txs[i]) < key(txs[j])
	})
}
