package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
)

func at(day int) time.Time {
	return time.Date(2025, 1, day, 12, 0, 0, 0, time.UTC)
}

func drain(ch <-chan events.Change) []events.Change {
	var out []events.Change
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestLedgersOrderAndDefault(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	require.NoError(t, s.UpsertLedger(ctx, core.Ledger{ID: "late", CreatedAt: at(5), IsDefault: true}))
	require.NoError(t, s.UpsertLedger(ctx, core.Ledger{ID: "early", CreatedAt: at(1)}))
	require.NoError(t, s.UpsertLedger(ctx, core.Ledger{ID: "tie", CreatedAt: at(1)}))

	ledgers, err := s.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, ledgers, 3)
	assert.Equal(t, []string{"early", "tie", "late"}, []string{ledgers[0].ID, ledgers[1].ID, ledgers[2].ID})

	require.NoError(t, s.SetDefaultLedger(ctx, "early"))
	def, err := s.GetDefaultLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, "early", def.ID)
	late, err := s.GetLedger(ctx, "late")
	require.NoError(t, err)
	assert.False(t, late.IsDefault, "only one ledger is the default")

	assert.ErrorIs(t, s.SetDefaultLedger(ctx, "missing"), core.ErrNotFound)

	require.NoError(t, s.ClearDefaultLedger(ctx))
	def, err = s.GetDefaultLedger(ctx)
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(nil)

	assert.ErrorIs(t, s.UpdateLedger(ctx, core.Ledger{ID: "x"}), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateAccount(ctx, core.Account{ID: "x"}), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateBalance(ctx, "x", 1), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateCategorySort(ctx, "x", 1), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateTag(ctx, core.Tag{ID: "x"}), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateMerchant(ctx, core.Merchant{ID: "x"}), core.ErrNotFound)
	assert.ErrorIs(t, s.UpdateTransaction(ctx, core.Transaction{ID: "x"}), core.ErrNotFound)
}

func TestGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.UpsertAccount(ctx, core.Account{ID: "visa", LedgerID: "l1", Credit: &core.CreditInfo{Limit: 100}}))
	require.NoError(t, s.UpsertTransaction(ctx, core.Transaction{ID: "t1", LedgerID: "l1", TagIDs: []string{"a"}}))

	a, err := s.GetAccount(ctx, "visa")
	require.NoError(t, err)
	a.Credit.Limit = 999
	tx, err := s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	tx.TagIDs[0] = "changed"

	a, err = s.GetAccount(ctx, "visa")
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.Credit.Limit)
	tx, err = s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tx.TagIDs)

	missing, err := s.GetTransaction(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCategoriesSortedBySortThenInsertion(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.UpsertCategory(ctx, core.Category{ID: "food", LedgerID: "l1", Type: core.CategoryExpense, Sort: 2}))
	require.NoError(t, s.UpsertCategory(ctx, core.Category{ID: "home", LedgerID: "l1", Type: core.CategoryExpense, Sort: 1}))
	require.NoError(t, s.UpsertCategory(ctx, core.Category{ID: "meals", LedgerID: "l1", Type: core.CategoryExpense, ParentID: "food", Sort: 1}))
	require.NoError(t, s.UpsertCategory(ctx, core.Category{ID: "pay", LedgerID: "l1", Type: core.CategoryIncome, Sort: 0}))

	cats, err := s.ListCategories(ctx, "l1", core.CategoryExpense)
	require.NoError(t, err)
	var got []string
	for _, c := range cats {
		got = append(got, c.ID)
	}
	assert.Equal(t, []string{"home", "meals", "food"}, got)

	all, err := s.ListCategories(ctx, "l1", "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	trees, err := s.ListCategoryTrees(ctx, "l1", core.CategoryExpense)
	require.NoError(t, err)
	require.Len(t, trees, 2)
	assert.Equal(t, "food", trees[1].Parent.ID)
	require.Len(t, trees[1].Children, 1)
	assert.Equal(t, "meals", trees[1].Children[0].ID)
}

func TestDeleteTagStripsTransactions(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.UpsertTag(ctx, core.Tag{ID: "a", LedgerID: "l1", Name: "A"}))
	require.NoError(t, s.UpsertTag(ctx, core.Tag{ID: "b", LedgerID: "l1", Name: "B"}))
	require.NoError(t, s.UpsertTransaction(ctx, core.Transaction{ID: "t1", LedgerID: "l1", TagIDs: []string{"b", "a"}}))

	tags, err := s.ListTagsByTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "b", tags[0].ID, "tags keep the transaction order")

	require.NoError(t, s.DeleteTag(ctx, "b"))
	tx, err := s.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, tx.TagIDs)

	none, err := s.ListTagsByTransaction(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindTransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	for _, tx := range []core.Transaction{
		{ID: "old", LedgerID: "l1", Type: core.Expense, Amount: 1, AccountID: "cash", OccurredAt: at(1)},
		{ID: "tie-1", LedgerID: "l1", Type: core.Expense, Amount: 2, AccountID: "cash", OccurredAt: at(3)},
		{ID: "tie-2", LedgerID: "l1", Type: core.Expense, Amount: 3, AccountID: "cash", OccurredAt: at(3)},
		{ID: "gone", LedgerID: "l1", Type: core.Expense, Amount: 4, AccountID: "cash", OccurredAt: at(2), Deleted: true},
		{ID: "other", LedgerID: "l2", Type: core.Expense, Amount: 5, AccountID: "x", OccurredAt: at(4)},
	} {
		require.NoError(t, s.UpsertTransaction(ctx, tx))
	}

	ids := func(txs []core.Transaction) []string {
		out := make([]string, len(txs))
		for i, tx := range txs {
			out[i] = tx.ID
		}
		return out
	}

	visible, err := s.FindTransactions(ctx, core.TransactionFilter{LedgerID: "l1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"tie-1", "tie-2", "old"}, ids(visible))

	all, err := s.ListTransactions(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tie-1", "tie-2", "gone", "old"}, ids(all))
}

func TestSearchMerchants(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	require.NoError(t, s.UpsertMerchant(ctx, core.Merchant{ID: "m1", LedgerID: "l1", Name: "Corner Cafe"}))
	require.NoError(t, s.UpsertMerchant(ctx, core.Merchant{ID: "m2", LedgerID: "l1", Name: "Bakery", Alias: "cafe bread"}))
	require.NoError(t, s.UpsertMerchant(ctx, core.Merchant{ID: "m3", LedgerID: "l2", Name: "Cafe Elsewhere"}))

	found, err := s.SearchMerchants(ctx, "l1", "  CAFE ")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "m1", found[0].ID)
	assert.Equal(t, "m2", found[1].ID)
}

func TestWritesPublishAndDeletesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(events.NewBusWithBuffer(32))
	changes, cancel := s.Bus().Subscribe()
	defer cancel()

	require.NoError(t, s.UpsertAccount(ctx, core.Account{ID: "cash", LedgerID: "l1"}))
	require.NoError(t, s.UpdateBalance(ctx, "cash", 10))
	require.NoError(t, s.SetDefaultAccountID(ctx, "cash"))
	require.NoError(t, s.DeleteAccount(ctx, "cash"))
	require.NoError(t, s.DeleteAccount(ctx, "cash"))

	got := drain(changes)
	require.Len(t, got, 4)
	assert.Equal(t, events.Change{Entity: events.EntityAccount, Op: events.OpUpsert, LedgerID: "l1", ID: "cash"}, withoutTime(got[0]))
	assert.Equal(t, events.OpUpdate, got[1].Op)
	assert.Equal(t, events.EntityPreference, got[2].Entity)
	assert.Equal(t, events.OpDelete, got[3].Op)

	pref, err := s.DefaultAccountID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cash", pref)
	require.NoError(t, s.ClearDefaultAccountID(ctx))
	pref, err = s.DefaultAccountID(ctx)
	require.NoError(t, err)
	assert.Empty(t, pref)
}

func withoutTime(c events.Change) events.Change {
	c.At = time.Time{}
	return c
}
