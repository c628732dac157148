package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ledgerbook/internal/core"
	"ledgerbook/internal/store"
	"ledgerbook/internal/store/memory"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	mem    *memory.Store
	stores store.Stores
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New(nil)
	stores := store.FromBackend(mem)
	engine := New(stores, Options{Now: func() time.Time { return fixedNow }})
	t.Cleanup(engine.Close)
	return &fixture{t: t, ctx: context.Background(), mem: mem, stores: stores, engine: engine}
}

func (f *fixture) ledger(id string) core.Ledger {
	f.t.Helper()
	l := core.Ledger{ID: id, Name: "Ledger " + id, CreatedAt: fixedNow, UpdatedAt: fixedNow}
	require.NoError(f.t, f.mem.UpsertLedger(f.ctx, l))
	return l
}

func (f *fixture) account(ledgerID, id string, initial int64) core.Account {
	f.t.Helper()
	a := core.Account{
		ID: id, LedgerID: ledgerID, Name: displayName(id), Type: core.AccountCash, Currency: "EUR",
		InitialBalance: initial, CurrentBalance: initial, Active: true,
	}
	require.NoError(f.t, f.mem.UpsertAccount(f.ctx, a))
	return a
}

func (f *fixture) category(ledgerID, id, parentID string, typ core.CategoryType, name string) core.Category {
	f.t.Helper()
	c := core.Category{ID: id, LedgerID: ledgerID, Type: typ, ParentID: parentID, Name: name}
	require.NoError(f.t, f.mem.UpsertCategory(f.ctx, c))
	return c
}

func (f *fixture) balance(id string) int64 {
	f.t.Helper()
	a, err := f.mem.GetAccount(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, a)
	return a.CurrentBalance
}

func (f *fixture) expense(ledgerID, accountID string, amount int64, at time.Time) core.Transaction {
	f.t.Helper()
	tx, err := f.engine.Recorder.AddIncomeExpense(f.ctx, AddIncomeExpenseParams{
		LedgerID: ledgerID, Type: core.Expense, Amount: amount, Currency: "EUR",
		OccurredAt: at, AccountID: accountID,
	})
	require.NoError(f.t, err)
	return tx
}

func (f *fixture) income(ledgerID, accountID string, amount int64, at time.Time) core.Transaction {
	f.t.Helper()
	tx, err := f.engine.Recorder.AddIncomeExpense(f.ctx, AddIncomeExpenseParams{
		LedgerID: ledgerID, Type: core.Income, Amount: amount, Currency: "EUR",
		OccurredAt: at, AccountID: accountID,
	})
	require.NoError(f.t, err)
	return tx
}

// assertConsistent checks the ledger balance invariant for every account.
func (f *fixture) assertConsistent(ledgerID string) {
	f.t.Helper()
	res, err := f.engine.Auditor.CheckBalanceConsistency(f.ctx, ledgerID)
	require.NoError(f.t, err)
	require.False(f.t, res.HasMismatch, "balances drifted: %+v", res.Items)
}

// displayName turns "cash" into "Cash" so names never equal ids.
func displayName(id string) string {
	if id == "" {
		return ""
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

func day(d int) time.Time {
	return time.Date(2025, 1, d, 12, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }
