// Package store defines the persistence ports the ledger services depend on.
//
// Get methods return (nil, nil) when the entity does not exist. Adapters
// publish an events.Change on their bus after every successful write.
package store

import (
	"context"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
)

type LedgerStore interface {
	ListLedgers(ctx context.Context) ([]core.Ledger, error)
	GetLedger(ctx context.Context, id string) (*core.Ledger, error)
	UpsertLedger(ctx context.Context, l core.Ledger) error
	UpdateLedger(ctx context.Context, l core.Ledger) error
	DeleteLedger(ctx context.Context, id string) error
	GetDefaultLedger(ctx context.Context) (*core.Ledger, error)
	ClearDefaultLedger(ctx context.Context) error
	SetDefaultLedger(ctx context.Context, id string) error
}

type AccountStore interface {
	ListAccounts(ctx context.Context, ledgerID string) ([]core.Account, error)
	GetAccount(ctx context.Context, id string) (*core.Account, error)
	UpsertAccount(ctx context.Context, a core.Account) error
	UpdateAccount(ctx context.Context, a core.Account) error
	DeleteAccount(ctx context.Context, id string) error
	SetAccountActive(ctx context.Context, id string, active bool) error
	UpdateBalance(ctx context.Context, id string, balance int64) error
}

type CategoryStore interface {
	// ListCategories returns categories ordered by sort; an empty type
	// lists both types.
	ListCategories(ctx context.Context, ledgerID string, typ core.CategoryType) ([]core.Category, error)
	ListCategoryTrees(ctx context.Context, ledgerID string, typ core.CategoryType) ([]core.CategoryTree, error)
	GetCategory(ctx context.Context, id string) (*core.Category, error)
	UpsertCategory(ctx context.Context, c core.Category) error
	UpdateCategory(ctx context.Context, c core.Category) error
	DeleteCategory(ctx context.Context, id string) error
	UpdateCategorySort(ctx context.Context, id string, sort int) error
	UpdateCategoryPinned(ctx context.Context, id string, pinned bool) error
}

type TagStore interface {
	ListTags(ctx context.Context, ledgerID string) ([]core.Tag, error)
	GetTag(ctx context.Context, id string) (*core.Tag, error)
	UpsertTag(ctx context.Context, t core.Tag) error
	UpdateTag(ctx context.Context, t core.Tag) error
	DeleteTag(ctx context.Context, id string) error
	ListTagsByTransaction(ctx context.Context, transactionID string) ([]core.Tag, error)
}

type MerchantStore interface {
	ListMerchants(ctx context.Context, ledgerID string) ([]core.Merchant, error)
	SearchMerchants(ctx context.Context, ledgerID, keyword string) ([]core.Merchant, error)
	GetMerchant(ctx context.Context, id string) (*core.Merchant, error)
	UpsertMerchant(ctx context.Context, m core.Merchant) error
	UpdateMerchant(ctx context.Context, m core.Merchant) error
	DeleteMerchant(ctx context.Context, id string) error
}

// TransactionStore lists transactions newest first. The tag associations
// of a transaction are written together with it.
type TransactionStore interface {
	ListTransactions(ctx context.Context, ledgerID string) ([]core.Transaction, error)
	// FindTransactions hides deleted transactions unless asked. Keyword
	// matching is a case-insensitive substring test under Unicode case
	// folding on every backend.
	FindTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*core.Transaction, error)
	UpsertTransaction(ctx context.Context, t core.Transaction) error
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, id string) error
}

// PreferenceStore persists the user's default ledger and account. Getters
// return "" when unset.
type PreferenceStore interface {
	DefaultLedgerID(ctx context.Context) (string, error)
	SetDefaultLedgerID(ctx context.Context, id string) error
	ClearDefaultLedgerID(ctx context.Context) error
	DefaultAccountID(ctx context.Context) (string, error)
	SetDefaultAccountID(ctx context.Context, id string) error
	ClearDefaultAccountID(ctx context.Context) error
}

// Stores bundles every port. Adapters typically implement all of them on
// one value.
type Stores struct {
	Ledgers      LedgerStore
	Accounts     AccountStore
	Categories   CategoryStore
	Tags         TagStore
	Merchants    MerchantStore
	Transactions TransactionStore
	Preferences  PreferenceStore
	Changes      *events.Bus
}

// Backend is a single adapter implementing every port.
type Backend interface {
	LedgerStore
	AccountStore
	CategoryStore
	TagStore
	MerchantStore
	TransactionStore
	PreferenceStore
	Bus() *events.Bus
	Close() error
}

// FromBackend builds the bundle from a single adapter.
func FromBackend(b Backend) Stores {
	return Stores{
		Ledgers:      b,
		Accounts:     b,
		Categories:   b,
		Tags:         b,
		Merchants:    b,
		Transactions: b,
		Preferences:  b,
		Changes:      b.Bus(),
	}
}
