package services

import (
	"context"
	"strings"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
	"ledgerbook/internal/store"
)

// Auditor compares stored balances with the balances implied by the
// transaction history.
type Auditor struct {
	stores store.Stores
	locks  *ledgerLocks
	logger *log.Logger
}

type BalanceCheckItem struct {
	AccountID string `json:"accountId"`
	Expected  int64  `json:"expected"`
	Actual    int64  `json:"actual"`
	Delta     int64  `json:"delta"` // expected - actual
}

type BalanceCheckResult struct {
	LedgerID    string             `json:"ledgerId"`
	Items       []BalanceCheckItem `json:"items"`
	HasMismatch bool               `json:"hasMismatch"`
}

type RecalculateResult struct {
	LedgerID     string             `json:"ledgerId"`
	Items        []BalanceCheckItem `json:"items"`
	UpdatedCount int                `json:"updatedCount"`
}

func (a *Auditor) CheckBalanceConsistency(ctx context.Context, ledgerID string) (BalanceCheckResult, error) {
	const op = "auditor.check"
	items, err := a.audit(ctx, op, ledgerID)
	if err != nil {
		return BalanceCheckResult{}, err
	}
	res := BalanceCheckResult{LedgerID: ledgerID, Items: items}
	for _, it := range items {
		if it.Delta != 0 {
			res.HasMismatch = true
			break
		}
	}
	if res.HasMismatch {
		a.logger.WarnContext(ctx, "Balance mismatch detected", log.FieldLedgerID, ledgerID)
	}
	return res, nil
}

// RecalculateBalances overwrites every drifted balance with its expected
// value. Running it twice leaves the second run with nothing to update.
func (a *Auditor) RecalculateBalances(ctx context.Context, ledgerID string) (RecalculateResult, error) {
	const op = "auditor.recalculate"
	if strings.TrimSpace(ledgerID) == "" {
		return RecalculateResult{}, core.Validation(op, core.ErrBlankLedger, "ledger id is blank")
	}

	unlock := a.locks.lock(ledgerID)
	defer unlock()

	items, err := a.audit(ctx, op, ledgerID)
	if err != nil {
		return RecalculateResult{}, err
	}
	res := RecalculateResult{LedgerID: ledgerID, Items: items}
	for _, it := range items {
		if it.Delta == 0 {
			continue
		}
		if err := a.stores.Accounts.UpdateBalance(ctx, it.AccountID, it.Expected); err != nil {
			return res, core.Storage(op, err)
		}
		res.UpdatedCount++
	}
	if res.UpdatedCount > 0 {
		a.logger.InfoContext(ctx, "Balances recalculated",
			log.FieldLedgerID, ledgerID, log.FieldCount, res.UpdatedCount)
	}
	return res, nil
}

func (a *Auditor) audit(ctx context.Context, op, ledgerID string) ([]BalanceCheckItem, error) {
	if strings.TrimSpace(ledgerID) == "" {
		return nil, core.Validation(op, core.ErrBlankLedger, "ledger id is blank")
	}
	accounts, err := a.stores.Accounts.ListAccounts(ctx, ledgerID)
	if err != nil {
		return nil, core.Storage(op, err)
	}
	txs, err := a.stores.Transactions.ListTransactions(ctx, ledgerID)
	if err != nil {
		return nil, core.Storage(op, err)
	}
	deltas := core.LedgerDeltas(txs)

	items := make([]BalanceCheckItem, 0, len(accounts))
	for _, acc := range accounts {
		expected := acc.InitialBalance + deltas[acc.ID]
		items = append(items, BalanceCheckItem{
			AccountID: acc.ID,
			Expected:  expected,
			Actual:    acc.CurrentBalance,
			Delta:     expected - acc.CurrentBalance,
		})
	}
	return items, nil
}
