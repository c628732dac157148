package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/store"
)

// Recorder creates, edits and deletes transactions while keeping every
// touched account balance in step with them.
type Recorder struct {
	stores store.Stores
	locks  *ledgerLocks
	logger *log.Logger
	now    func() time.Time
}

type AddIncomeExpenseParams struct {
	ID         string // generated when empty
	LedgerID   string
	Type       core.TransactionType
	Amount     int64
	Currency   string
	OccurredAt time.Time
	Note       string
	AccountID  string
	CategoryID string
	TagIDs     []string
	MerchantID string
}

type AddTransferParams struct {
	ID            string // generated when empty
	LedgerID      string
	Amount        int64
	Currency      string
	OccurredAt    time.Time
	Note          string
	FromAccountID string
	ToAccountID   string
}

// EditTransactionParams replaces every field of an existing transaction.
// Fields that do not apply to Type are ignored.
type EditTransactionParams struct {
	ID            string
	LedgerID      string
	Type          core.TransactionType
	Amount        int64
	Currency      string
	OccurredAt    time.Time
	Note          string
	AccountID     string
	CategoryID    string
	TagIDs        []string
	MerchantID    string
	FromAccountID string
	ToAccountID   string
	Deleted       bool
}

func (r *Recorder) AddIncomeExpense(ctx context.Context, p AddIncomeExpenseParams) (core.Transaction, error) {
	const op = "recorder.add_income_expense"
	if p.Type != core.Income && p.Type != core.Expense {
		return core.Transaction{}, core.Validation(op, core.ErrInvalidType, "type must be income or expense, got %q", p.Type)
	}
	tx := core.Transaction{
		ID:         newID(p.ID),
		LedgerID:   p.LedgerID,
		Type:       p.Type,
		Amount:     p.Amount,
		Currency:   strings.TrimSpace(p.Currency),
		OccurredAt: core.Timestamp(p.OccurredAt),
		Note:       p.Note,
		AccountID:  p.AccountID,
		CategoryID: p.CategoryID,
		TagIDs:     normalizeIDs(p.TagIDs),
		MerchantID: p.MerchantID,
	}
	return r.add(ctx, op, tx)
}

func (r *Recorder) AddTransfer(ctx context.Context, p AddTransferParams) (core.Transaction, error) {
	const op = "recorder.add_transfer"
	tx := core.Transaction{
		ID:            newID(p.ID),
		LedgerID:      p.LedgerID,
		Type:          core.Transfer,
		Amount:        p.Amount,
		Currency:      strings.TrimSpace(p.Currency),
		OccurredAt:    core.Timestamp(p.OccurredAt),
		Note:          p.Note,
		FromAccountID: p.FromAccountID,
		ToAccountID:   p.ToAccountID,
	}
	return r.add(ctx, op, tx)
}

func (r *Recorder) add(ctx context.Context, op string, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	unlock := r.locks.lock(tx.LedgerID)
	defer unlock()

	existing, err := r.stores.Transactions.GetTransaction(ctx, tx.ID)
	if err != nil {
		return core.Transaction{}, core.Storage(op, err)
	}
	if existing != nil {
		return core.Transaction{}, core.Conflict(op, "transaction %q already exists", tx.ID)
	}
	if err := r.checkReferences(ctx, op, tx); err != nil {
		return core.Transaction{}, err
	}

	deltas, err := tx.BalanceDeltas()
	if err != nil {
		return core.Transaction{}, err
	}
	accounts, err := r.loadAccounts(ctx, op, tx.LedgerID, tx.AccountRefs())
	if err != nil {
		return core.Transaction{}, err
	}
	if err := r.applyDeltas(ctx, op, accounts, deltas); err != nil {
		return core.Transaction{}, err
	}
	if err := r.stores.Transactions.UpsertTransaction(ctx, tx); err != nil {
		r.revert(ctx, accounts, deltas)
		return core.Transaction{}, core.Storage(op, err)
	}

	r.logger.InfoContext(ctx, "Transaction recorded", log.NewFields().WithOperation(op).WithTransaction(tx).ToSlice()...)
	return tx, nil
}

// EditTransaction replaces a transaction and applies only the net balance
// change between the old and the new version.
func (r *Recorder) EditTransaction(ctx context.Context, p EditTransactionParams) (core.Transaction, error) {
	const op = "recorder.edit_transaction"
	if strings.TrimSpace(p.ID) == "" {
		return core.Transaction{}, core.Validation(op, core.ErrBlankID, "transaction id is blank")
	}
	if strings.TrimSpace(p.LedgerID) == "" {
		return core.Transaction{}, core.Validation(op, core.ErrBlankLedger, "ledger id is blank")
	}

	unlock := r.locks.lock(p.LedgerID)
	defer unlock()

	existing, err := r.stores.Transactions.GetTransaction(ctx, p.ID)
	if err != nil {
		return core.Transaction{}, core.Storage(op, err)
	}
	if existing == nil {
		return core.Transaction{}, core.NotFound(op, "transaction", p.ID)
	}
	if existing.LedgerID != p.LedgerID {
		return core.Transaction{}, core.Validation(op, core.ErrLedgerChanged,
			"transaction %q belongs to ledger %q", p.ID, existing.LedgerID)
	}

	updated := core.Transaction{
		ID:         existing.ID,
		LedgerID:   existing.LedgerID,
		Type:       p.Type,
		Amount:     p.Amount,
		Currency:   strings.TrimSpace(p.Currency),
		OccurredAt: core.Timestamp(p.OccurredAt),
		Note:       p.Note,
	}
	if p.Type == core.Transfer {
		updated.FromAccountID = p.FromAccountID
		updated.ToAccountID = p.ToAccountID
	} else {
		updated.AccountID = p.AccountID
		updated.CategoryID = p.CategoryID
		updated.TagIDs = normalizeIDs(p.TagIDs)
		updated.MerchantID = p.MerchantID
	}
	if p.Deleted {
		updated.Deleted = true
		at := core.Timestamp(r.now())
		if existing.DeletedAt != nil {
			at = *existing.DeletedAt
		}
		updated.DeletedAt = &at
	}

	if err := updated.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := r.checkReferences(ctx, op, updated); err != nil {
		return core.Transaction{}, err
	}

	net, err := core.NetDeltas(*existing, updated)
	if err != nil {
		return core.Transaction{}, err
	}
	refs := net.Accounts()
	if !updated.Deleted {
		refs = append(refs, updated.AccountRefs()...)
	}
	accounts, err := r.loadAccounts(ctx, op, updated.LedgerID, refs)
	if err != nil {
		return core.Transaction{}, err
	}
	if err := r.applyDeltas(ctx, op, accounts, net); err != nil {
		return core.Transaction{}, err
	}
	if err := r.stores.Transactions.UpsertTransaction(ctx, updated); err != nil {
		r.revert(ctx, accounts, net)
		return core.Transaction{}, core.Storage(op, err)
	}

	r.logger.InfoContext(ctx, "Transaction edited",
		append(log.NewFields().WithOperation(op).WithTransaction(updated).ToSlice(), "adjusted_accounts", len(net.Accounts()))...)
	return updated, nil
}

// DeleteTransaction rolls back the balance effect of a transaction and
// removes it.
func (r *Recorder) DeleteTransaction(ctx context.Context, id string) error {
	const op = "recorder.delete_transaction"
	if strings.TrimSpace(id) == "" {
		return core.Validation(op, core.ErrBlankID, "transaction id is blank")
	}

	existing, err := r.stores.Transactions.GetTransaction(ctx, id)
	if err != nil {
		return core.Storage(op, err)
	}
	if existing == nil {
		return core.NotFound(op, "transaction", id)
	}

	unlock := r.locks.lock(existing.LedgerID)
	defer unlock()

	// Reload under the lock; a concurrent delete may have won.
	existing, err = r.stores.Transactions.GetTransaction(ctx, id)
	if err != nil {
		return core.Storage(op, err)
	}
	if existing == nil {
		return core.NotFound(op, "transaction", id)
	}

	deltas, err := existing.BalanceDeltas()
	if err != nil {
		return err
	}
	rollback := core.BalanceDeltas{}
	rollback.Merge(deltas, -1)

	accounts, err := r.loadAccounts(ctx, op, existing.LedgerID, rollback.Accounts())
	if err != nil {
		return err
	}
	if err := r.applyDeltas(ctx, op, accounts, rollback); err != nil {
		return err
	}
	if err := r.stores.Transactions.DeleteTransaction(ctx, id); err != nil {
		r.revert(ctx, accounts, rollback)
		return core.Storage(op, err)
	}

	r.logger.InfoContext(ctx, "Transaction deleted", log.NewFields().WithOperation(op).WithTransaction(*existing).ToSlice()...)
	return nil
}

func (r *Recorder) checkReferences(ctx context.Context, op string, tx core.Transaction) error {
	ledger, err := r.stores.Ledgers.GetLedger(ctx, tx.LedgerID)
	if err != nil {
		return core.Storage(op, err)
	}
	if ledger == nil {
		return core.NotFound(op, "ledger", tx.LedgerID)
	}
	if tx.CategoryID == "" {
		return nil
	}
	category, err := r.stores.Categories.GetCategory(ctx, tx.CategoryID)
	if err != nil {
		return core.Storage(op, err)
	}
	if category == nil || category.LedgerID != tx.LedgerID {
		return core.NotFound(op, "category", tx.CategoryID)
	}
	if want, _ := tx.Type.CategoryType(); category.Type != want {
		return core.Validation(op, core.ErrTypeMismatch,
			"category %q is %s but transaction is %s", category.ID, category.Type, tx.Type)
	}
	return nil
}

// loadAccounts fetches every referenced account before anything is written.
func (r *Recorder) loadAccounts(ctx context.Context, op, ledgerID string, ids []string) (map[string]core.Account, error) {
	accounts := make(map[string]core.Account, len(ids))
	for _, id := range ids {
		if _, ok := accounts[id]; ok {
			continue
		}
		a, err := r.stores.Accounts.GetAccount(ctx, id)
		if err != nil {
			return nil, core.Storage(op, err)
		}
		if a == nil || a.LedgerID != ledgerID {
			return nil, core.NotFound(op, "account", id)
		}
		accounts[id] = *a
	}
	return accounts, nil
}

// applyDeltas writes one balance per account with a non-zero delta. On
// failure the balances already written are restored.
func (r *Recorder) applyDeltas(ctx context.Context, op string, accounts map[string]core.Account, deltas core.BalanceDeltas) error {
	applied := core.BalanceDeltas{}
	for _, id := range deltas.Accounts() {
		a := accounts[id]
		if err := r.stores.Accounts.UpdateBalance(ctx, id, a.CurrentBalance+deltas[id]); err != nil {
			r.revert(ctx, accounts, applied)
			return core.Storage(op, err)
		}
		applied[id] = deltas[id]
	}
	return nil
}

func (r *Recorder) revert(ctx context.Context, accounts map[string]core.Account, applied core.BalanceDeltas) {
	for _, id := range applied.Accounts() {
		if err := r.stores.Accounts.UpdateBalance(ctx, id, accounts[id].CurrentBalance); err != nil {
			r.logger.ErrorContext(ctx, "Failed to restore account balance, run recalc",
				log.FieldAccountID, id, log.FieldError, err)
		}
	}
}

func newID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

// normalizeIDs drops blanks and duplicates, keeping first-seen order.
func normalizeIDs(ids []string) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
