package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/store"
)

// BackupVersion is the only payload version RestoreBackup accepts.
const BackupVersion = 1

// BackupPayload is a full snapshot of every ledger and its entities.
type BackupPayload struct {
	Version      int                `json:"version"`
	CreatedAt    time.Time          `json:"createdAt"`
	Ledgers      []core.Ledger      `json:"ledgers"`
	Accounts     []core.Account     `json:"accounts"`
	Categories   []core.Category    `json:"categories"`
	Tags         []core.Tag         `json:"tags"`
	Merchants    []core.Merchant    `json:"merchants"`
	Transactions []core.Transaction `json:"transactions"`
}

type RestoreSummary struct {
	Ledgers      int `json:"ledgers"`
	Accounts     int `json:"accounts"`
	Categories   int `json:"categories"`
	Tags         int `json:"tags"`
	Merchants    int `json:"merchants"`
	Transactions int `json:"transactions"`
}

type BackupService struct {
	stores store.Stores
	locks  *ledgerLocks
	logger *log.Logger
	now    func() time.Time
}

type ledgerSnapshot struct {
	accounts     []core.Account
	categories   []core.Category
	tags         []core.Tag
	merchants    []core.Merchant
	transactions []core.Transaction
}

// CreateBackup snapshots every ledger. Ledgers load concurrently; the
// payload keeps ledger order, then store order within each ledger.
func (b *BackupService) CreateBackup(ctx context.Context) (BackupPayload, error) {
	const op = "backup.create"
	ledgers, err := b.stores.Ledgers.ListLedgers(ctx)
	if err != nil {
		return BackupPayload{}, core.Storage(op, err)
	}

	snapshots := make([]ledgerSnapshot, len(ledgers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, ledger := range ledgers {
		g.Go(func() error {
			snap, err := b.snapshot(gctx, ledger.ID)
			if err != nil {
				return fmt.Errorf("ledger %s: %w", ledger.ID, err)
			}
			snapshots[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BackupPayload{}, core.Storage(op, err)
	}

	payload := BackupPayload{
		Version:      BackupVersion,
		CreatedAt:    core.Timestamp(b.now()),
		Ledgers:      ledgers,
		Accounts:     []core.Account{},
		Categories:   []core.Category{},
		Tags:         []core.Tag{},
		Merchants:    []core.Merchant{},
		Transactions: []core.Transaction{},
	}
	for _, s := range snapshots {
		payload.Accounts = append(payload.Accounts, s.accounts...)
		payload.Categories = append(payload.Categories, s.categories...)
		payload.Tags = append(payload.Tags, s.tags...)
		payload.Merchants = append(payload.Merchants, s.merchants...)
		payload.Transactions = append(payload.Transactions, s.transactions...)
	}

	b.logger.InfoContext(ctx, "Backup created",
		"ledgers", len(payload.Ledgers), "transactions", len(payload.Transactions))
	return payload, nil
}

func (b *BackupService) snapshot(ctx context.Context, ledgerID string) (ledgerSnapshot, error) {
	var s ledgerSnapshot
	var err error
	if s.accounts, err = b.stores.Accounts.ListAccounts(ctx, ledgerID); err != nil {
		return s, fmt.Errorf("list accounts: %w", err)
	}
	for _, typ := range []core.CategoryType{core.CategoryIncome, core.CategoryExpense} {
		cats, err := b.stores.Categories.ListCategories(ctx, ledgerID, typ)
		if err != nil {
			return s, fmt.Errorf("list %s categories: %w", typ, err)
		}
		s.categories = append(s.categories, cats...)
	}
	if s.tags, err = b.stores.Tags.ListTags(ctx, ledgerID); err != nil {
		return s, fmt.Errorf("list tags: %w", err)
	}
	if s.merchants, err = b.stores.Merchants.ListMerchants(ctx, ledgerID); err != nil {
		return s, fmt.Errorf("list merchants: %w", err)
	}
	if s.transactions, err = b.stores.Transactions.ListTransactions(ctx, ledgerID); err != nil {
		return s, fmt.Errorf("list transactions: %w", err)
	}
	return s, nil
}

// Validate checks the version and that every entity belongs to a ledger
// present in the payload.
func (p BackupPayload) Validate() error {
	const op = "backup.validate"
	if p.Version != BackupVersion {
		return core.Validation(op, core.ErrInvalidType, "unsupported backup version %d", p.Version)
	}
	ledgers := make(map[string]bool, len(p.Ledgers))
	for _, l := range p.Ledgers {
		if l.ID == "" {
			return core.Validation(op, core.ErrBlankID, "ledger with blank id")
		}
		ledgers[l.ID] = true
	}
	check := func(kind, id, ledgerID string) error {
		if id == "" {
			return core.Validation(op, core.ErrBlankID, "%s with blank id", kind)
		}
		if !ledgers[ledgerID] {
			return core.Validation(op, core.ErrBlankLedger, "%s %q references unknown ledger %q", kind, id, ledgerID)
		}
		return nil
	}
	for _, a := range p.Accounts {
		if err := check("account", a.ID, a.LedgerID); err != nil {
			return err
		}
	}
	for _, c := range p.Categories {
		if err := check("category", c.ID, c.LedgerID); err != nil {
			return err
		}
	}
	for _, t := range p.Tags {
		if err := check("tag", t.ID, t.LedgerID); err != nil {
			return err
		}
	}
	for _, m := range p.Merchants {
		if err := check("merchant", m.ID, m.LedgerID); err != nil {
			return err
		}
	}
	for _, t := range p.Transactions {
		if err := check("transaction", t.ID, t.LedgerID); err != nil {
			return err
		}
	}
	return nil
}

// RestoreBackup writes the payload back. With overwrite every existing
// ledger is cleared first. Balances are restored as stored, not
// recomputed.
func (b *BackupService) RestoreBackup(ctx context.Context, p BackupPayload, overwrite bool) (RestoreSummary, error) {
	const op = "backup.restore"
	if err := p.Validate(); err != nil {
		return RestoreSummary{}, err
	}

	unlock := b.locks.lockAll()
	defer unlock()

	if overwrite {
		if err := b.clear(ctx); err != nil {
			return RestoreSummary{}, core.Storage(op, err)
		}
	}

	var sum RestoreSummary
	for _, l := range p.Ledgers {
		if err := b.stores.Ledgers.UpsertLedger(ctx, l); err != nil {
			return sum, core.Storage(op, err)
		}
		sum.Ledgers++
	}
	for _, a := range p.Accounts {
		if err := b.stores.Accounts.UpsertAccount(ctx, a); err != nil {
			return sum, core.Storage(op, err)
		}
		sum.Accounts++
	}
	for _, c := range p.Categories {
		if err := b.stores.Categories.UpsertCategory(ctx, c); err != nil {
			return sum, core.Storage(op, err)
		}
		sum.Categories++
	}
	for _, t := range p.Tags {
		if err := b.stores.Tags.UpsertTag(ctx, t); err != nil {
			return sum, core.Storage(op, err)
		}
		sum.Tags++
	}
	for _, m := range p.Merchants {
		if err := b.stores.Merchants.UpsertMerchant(ctx, m); err != nil {
			return sum, core.Storage(op, err)
		}
		sum.Merchants++
	}
	for _, t := range p.Transactions {
		if err := b.stores.Transactions.UpsertTransaction(ctx, t); err != nil {
			return sum, core.Storage(op, err)
		}
		sum.Transactions++
	}

	b.logger.InfoContext(ctx, "Backup restored",
		"overwrite", overwrite, "ledgers", sum.Ledgers, "transactions", sum.Transactions)
	return sum, nil
}

func (b *BackupService) clear(ctx context.Context) error {
	ledgers, err := b.stores.Ledgers.ListLedgers(ctx)
	if err != nil {
		return fmt.Errorf("list ledgers: %w", err)
	}
	for _, l := range ledgers {
		snap, err := b.snapshot(ctx, l.ID)
		if err != nil {
			return err
		}
		for _, t := range snap.transactions {
			if err := b.stores.Transactions.DeleteTransaction(ctx, t.ID); err != nil {
				return fmt.Errorf("delete transaction %s: %w", t.ID, err)
			}
		}
		for _, m := range snap.merchants {
			if err := b.stores.Merchants.DeleteMerchant(ctx, m.ID); err != nil {
				return fmt.Errorf("delete merchant %s: %w", m.ID, err)
			}
		}
		for _, t := range snap.tags {
			if err := b.stores.Tags.DeleteTag(ctx, t.ID); err != nil {
				return fmt.Errorf("delete tag %s: %w", t.ID, err)
			}
		}
		for _, c := range snap.categories {
			if err := b.stores.Categories.DeleteCategory(ctx, c.ID); err != nil {
				return fmt.Errorf("delete category %s: %w", c.ID, err)
			}
		}
		for _, a := range snap.accounts {
			if err := b.stores.Accounts.DeleteAccount(ctx, a.ID); err != nil {
				return fmt.Errorf("delete account %s: %w", a.ID, err)
			}
		}
	}
	for _, l := range ledgers {
		if err := b.stores.Ledgers.DeleteLedger(ctx, l.ID); err != nil {
			return fmt.Errorf("delete ledger %s: %w", l.ID, err)
		}
	}
	return nil
}

// WriteBackup encodes the payload as indented JSON.
func WriteBackup(w io.Writer, p BackupPayload) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// ReadBackup decodes a payload written by WriteBackup.
func ReadBackup(r io.Reader) (BackupPayload, error) {
	var p BackupPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return BackupPayload{}, core.Validation("backup.read", err, "decode backup: %v", err)
	}
	return p, nil
}
