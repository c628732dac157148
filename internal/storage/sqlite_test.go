package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
	"ledgerbook/internal/store/memory"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "ledger.db"), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func at(d int) time.Time {
	return time.Date(2025, 3, d, 8, 30, 0, 0, time.UTC)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	repo, err := NewSQLiteRepository(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	require.NoError(t, RunMigrations(path))
	version, dirty, err := SchemaVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestLedgerRoundTripAndDefault(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.UpsertLedger(ctx, core.Ledger{ID: "b", Name: "B", IsDefault: true, CreatedAt: at(2), UpdatedAt: at(2)}))
	require.NoError(t, repo.UpsertLedger(ctx, core.Ledger{ID: "a", Name: "A", CreatedAt: at(1), UpdatedAt: at(1)}))

	ledgers, err := repo.ListLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, ledgers, 2)
	assert.Equal(t, "a", ledgers[0].ID)
	assert.Equal(t, at(1), ledgers[0].CreatedAt)

	def, err := repo.GetDefaultLedger(ctx)
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "b", def.ID)

	require.NoError(t, repo.SetDefaultLedger(ctx, "a"))
	def, err = repo.GetDefaultLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", def.ID)
	b, err := repo.GetLedger(ctx, "b")
	require.NoError(t, err)
	assert.False(t, b.IsDefault)

	assert.ErrorIs(t, repo.SetDefaultLedger(ctx, "missing"), core.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateLedger(ctx, core.Ledger{ID: "missing"}), core.ErrNotFound)

	require.NoError(t, repo.ClearDefaultLedger(ctx))
	def, err = repo.GetDefaultLedger(ctx)
	require.NoError(t, err)
	assert.Nil(t, def)

	require.NoError(t, repo.DeleteLedger(ctx, "a"))
	require.NoError(t, repo.DeleteLedger(ctx, "a"))
	missing, err := repo.GetLedger(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	visa := core.Account{
		ID: "visa", LedgerID: "l1", Name: "Visa", Type: core.AccountCreditCard, Currency: "EUR",
		InitialBalance: -100, CurrentBalance: -250, Active: true,
		Credit: &core.CreditInfo{BillingDay: 5, RepaymentDay: 25, Limit: 500000},
	}
	cash := core.Account{ID: "cash", LedgerID: "l1", Name: "Cash", Type: core.AccountCash, Currency: "EUR", Active: true}
	require.NoError(t, repo.UpsertAccount(ctx, visa))
	require.NoError(t, repo.UpsertAccount(ctx, cash))

	got, err := repo.GetAccount(ctx, "visa")
	require.NoError(t, err)
	assert.Equal(t, visa, *got)

	accounts, err := repo.ListAccounts(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []core.Account{visa, cash}, accounts)

	require.NoError(t, repo.UpdateBalance(ctx, "cash", 4200))
	require.NoError(t, repo.SetAccountActive(ctx, "cash", false))
	got, err = repo.GetAccount(ctx, "cash")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), got.CurrentBalance)
	assert.False(t, got.Active)
	assert.Nil(t, got.Credit)

	assert.ErrorIs(t, repo.UpdateBalance(ctx, "nope", 1), core.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateAccount(ctx, core.Account{ID: "nope"}), core.ErrNotFound)

	require.NoError(t, repo.DeleteAccount(ctx, "visa"))
	accounts, err = repo.ListAccounts(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestCategoriesOrderedBySort(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.UpsertCategory(ctx, core.Category{ID: "food", LedgerID: "l1", Type: core.CategoryExpense, Name: "Food", Sort: 2}))
	require.NoError(t, repo.UpsertCategory(ctx, core.Category{ID: "home", LedgerID: "l1", Type: core.CategoryExpense, Name: "Home", Sort: 1}))
	require.NoError(t, repo.UpsertCategory(ctx, core.Category{ID: "meals", LedgerID: "l1", Type: core.CategoryExpense, ParentID: "food", Name: "Meals", Sort: 1}))
	require.NoError(t, repo.UpsertCategory(ctx, core.Category{ID: "pay", LedgerID: "l1", Type: core.CategoryIncome, Name: "Pay", Sort: 1, Pinned: true}))

	expense, err := repo.ListCategories(ctx, "l1", core.CategoryExpense)
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "meals", "food"}, categoryIDs(expense))

	all, err := repo.ListCategories(ctx, "l1", "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	trees, err := repo.ListCategoryTrees(ctx, "l1", core.CategoryExpense)
	require.NoError(t, err)
	require.Len(t, trees, 2)
	assert.Equal(t, "food", trees[1].Parent.ID)
	require.Len(t, trees[1].Children, 1)
	assert.Equal(t, "meals", trees[1].Children[0].ID)

	require.NoError(t, repo.UpdateCategorySort(ctx, "food", 0))
	require.NoError(t, repo.UpdateCategoryPinned(ctx, "food", true))
	food, err := repo.GetCategory(ctx, "food")
	require.NoError(t, err)
	assert.Equal(t, 0, food.Sort)
	assert.True(t, food.Pinned)
	assert.Empty(t, food.ParentID)

	assert.ErrorIs(t, repo.UpdateCategorySort(ctx, "nope", 1), core.ErrNotFound)
}

func categoryIDs(cs []core.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestTagsAndMerchants(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.UpsertTag(ctx, core.Tag{ID: "trip", LedgerID: "l1", Name: "Travel", Color: "#fff"}))
	require.NoError(t, repo.UpsertTag(ctx, core.Tag{ID: "work", LedgerID: "l1", Name: "Work"}))
	require.NoError(t, repo.UpsertMerchant(ctx, core.Merchant{ID: "m1", LedgerID: "l1", Name: "Corner Cafe", Alias: "cafe"}))
	require.NoError(t, repo.UpsertMerchant(ctx, core.Merchant{ID: "m2", LedgerID: "l1", Name: "Grocer"}))

	tags, err := repo.ListTags(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []core.Tag{
		{ID: "trip", LedgerID: "l1", Name: "Travel", Color: "#fff"},
		{ID: "work", LedgerID: "l1", Name: "Work"},
	}, tags)

	found, err := repo.SearchMerchants(ctx, "l1", " CAFE ")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "m1", found[0].ID)

	require.NoError(t, repo.UpsertTransaction(ctx, core.Transaction{
		ID: "x", LedgerID: "l1", Type: core.Expense, Amount: 10, Currency: "EUR", OccurredAt: at(1),
		AccountID: "cash", TagIDs: []string{"work", "trip"},
	}))
	byTx, err := repo.ListTagsByTransaction(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "work", byTx[0].ID, "tags keep their recorded order")

	require.NoError(t, repo.DeleteTag(ctx, "work"))
	tx, err := repo.GetTransaction(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"trip"}, tx.TagIDs)

	assert.ErrorIs(t, repo.UpdateMerchant(ctx, core.Merchant{ID: "nope"}), core.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateTag(ctx, core.Tag{ID: "nope"}), core.ErrNotFound)
	require.NoError(t, repo.DeleteMerchant(ctx, "m2"))
	gone, err := repo.GetMerchant(ctx, "m2")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTransactionRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	deletedAt := at(9)
	tr := core.Transaction{
		ID: "tr", LedgerID: "l1", Type: core.Transfer, Amount: 500, Currency: "EUR", OccurredAt: at(3),
		Note: "move", FromAccountID: "bank", ToAccountID: "cash", Deleted: true, DeletedAt: &deletedAt,
	}
	require.NoError(t, repo.UpsertTransaction(ctx, tr))
	got, err := repo.GetTransaction(ctx, "tr")
	require.NoError(t, err)
	assert.Equal(t, tr, *got)

	tr.Deleted = false
	tr.DeletedAt = nil
	tr.Amount = 700
	require.NoError(t, repo.UpdateTransaction(ctx, tr))
	got, err = repo.GetTransaction(ctx, "tr")
	require.NoError(t, err)
	assert.Equal(t, tr, *got)

	assert.ErrorIs(t, repo.UpdateTransaction(ctx, core.Transaction{ID: "nope"}), core.ErrNotFound)

	require.NoError(t, repo.DeleteTransaction(ctx, "tr"))
	got, err = repo.GetTransaction(ctx, "tr")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func seedTransactions(t *testing.T, repo *SQLiteRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.UpsertCategory(ctx, core.Category{ID: "food", LedgerID: "l1", Type: core.CategoryExpense, Name: "Food"}))
	require.NoError(t, repo.UpsertCategory(ctx, core.Category{ID: "meals", LedgerID: "l1", Type: core.CategoryExpense, ParentID: "food", Name: "Meals"}))
	require.NoError(t, repo.UpsertMerchant(ctx, core.Merchant{ID: "m1", LedgerID: "l1", Name: "Corner Cafe", Alias: "espresso"}))
	require.NoError(t, repo.UpsertTag(ctx, core.Tag{ID: "trip", LedgerID: "l1", Name: "Travel"}))

	txs := []core.Transaction{
		{ID: "lunch", Type: core.Expense, Amount: 1500, OccurredAt: at(10), AccountID: "cash", CategoryID: "meals", MerchantID: "m1", Note: "Lunch"},
		{ID: "groceries", Type: core.Expense, Amount: 4000, OccurredAt: at(12), AccountID: "bank", CategoryID: "food", TagIDs: []string{"trip"}},
		{ID: "pay", Type: core.Income, Amount: 300000, OccurredAt: at(1), AccountID: "bank"},
		{ID: "same-day", Type: core.Expense, Amount: 1500, OccurredAt: at(10), AccountID: "cash"},
		{ID: "move", Type: core.Transfer, Amount: 2000, OccurredAt: at(11), FromAccountID: "bank", ToAccountID: "cash"},
		{ID: "hidden", Type: core.Expense, Amount: 1, OccurredAt: at(11), AccountID: "cash", Deleted: true},
	}
	for _, tx := range txs {
		tx.LedgerID = "l1"
		tx.Currency = "EUR"
		require.NoError(t, repo.UpsertTransaction(ctx, tx))
	}
	require.NoError(t, repo.UpsertTransaction(ctx, core.Transaction{
		ID: "foreign", LedgerID: "l2", Type: core.Expense, Amount: 100, Currency: "EUR", OccurredAt: at(10), AccountID: "x",
	}))
}

func TestFindTransactions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	seedTransactions(t, repo)

	p := func(v int64) *int64 { return &v }
	tp := func(v time.Time) *time.Time { return &v }

	cases := []struct {
		name string
		f    core.TransactionFilter
		want []string
	}{
		{"newest first with insertion tie-break", core.TransactionFilter{}, []string{"groceries", "move", "lunch", "same-day", "pay"}},
		{"window inclusive", core.TransactionFilter{Start: tp(at(10)), End: tp(at(11))}, []string{"move", "lunch", "same-day"}},
		{"amount range", core.TransactionFilter{MinAmount: p(1500), MaxAmount: p(2000)}, []string{"move", "lunch", "same-day"}},
		{"account includes transfers", core.TransactionFilter{AccountIDs: []string{"cash"}}, []string{"move", "lunch", "same-day"}},
		{"blank account ids match nothing", core.TransactionFilter{AccountIDs: []string{""}}, []string{}},
		{"category with children", core.TransactionFilter{CategoryID: "food"}, []string{"groceries", "lunch"}},
		{"tag", core.TransactionFilter{TagID: "trip"}, []string{"groceries"}},
		{"merchant", core.TransactionFilter{MerchantID: "m1"}, []string{"lunch"}},
		{"keyword on alias", core.TransactionFilter{Keyword: "ESPRESSO"}, []string{"lunch"}},
		{"keyword on tag", core.TransactionFilter{Keyword: "trav"}, []string{"groceries"}},
		{"keyword on note", core.TransactionFilter{Keyword: "lunch"}, []string{"lunch"}},
		{"deleted included", core.TransactionFilter{IncludeDeleted: true, Start: tp(at(11)), End: tp(at(11))}, []string{"move", "hidden"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.f
			f.LedgerID = "l1"
			txs, err := repo.FindTransactions(ctx, f)
			require.NoError(t, err)
			got := make([]string, len(txs))
			for i, tx := range txs {
				got[i] = tx.ID
			}
			assert.Equal(t, tc.want, got)
		})
	}

	all, err := repo.ListTransactions(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.DefaultLedgerID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, repo.SetDefaultLedgerID(ctx, "l1"))
	require.NoError(t, repo.SetDefaultLedgerID(ctx, "l2"))
	require.NoError(t, repo.SetDefaultAccountID(ctx, "a1"))
	id, err = repo.DefaultLedgerID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "l2", id)

	require.NoError(t, repo.ClearDefaultAccountID(ctx))
	account, err := repo.DefaultAccountID(ctx)
	require.NoError(t, err)
	assert.Empty(t, account)

	require.NoError(t, repo.ClearDefaultLedgerID(ctx))
	id, err = repo.DefaultLedgerID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestWritesPublishChanges(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"), bus, nil)
	require.NoError(t, err)
	defer repo.Close()

	changes, cancel := bus.Subscribe()
	defer cancel()

	require.NoError(t, repo.UpsertAccount(ctx, core.Account{ID: "a", LedgerID: "l1", Name: "A", Type: core.AccountCash, Currency: "EUR"}))
	require.NoError(t, repo.DeleteAccount(ctx, "a"))
	require.NoError(t, repo.DeleteAccount(ctx, "a"))

	first := <-changes
	assert.Equal(t, events.EntityAccount, first.Entity)
	assert.Equal(t, events.OpUpsert, first.Op)
	second := <-changes
	assert.Equal(t, events.OpDelete, second.Op)
	assert.Equal(t, "l1", second.LedgerID)

	select {
	case c := <-changes:
		t.Fatalf("unexpected change for idempotent delete: %+v", c)
	default:
	}
}

func TestKeywordMatchesAcrossBackends(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	mem := memory.New(nil)

	for _, s := range []interface {
		UpsertMerchant(context.Context, core.Merchant) error
		UpsertTransaction(context.Context, core.Transaction) error
	}{repo, mem} {
		require.NoError(t, s.UpsertMerchant(ctx, core.Merchant{ID: "m1", LedgerID: "l1", Name: "ÉPICERIE Dupont"}))
		require.NoError(t, s.UpsertTransaction(ctx, core.Transaction{
			ID: "dessert", LedgerID: "l1", Type: core.Expense, Amount: 800, Currency: "EUR",
			OccurredAt: at(3), AccountID: "cash", Note: "CRÈME BRÛLÉE",
		}))
		require.NoError(t, s.UpsertTransaction(ctx, core.Transaction{
			ID: "shop", LedgerID: "l1", Type: core.Expense, Amount: 1200, Currency: "EUR",
			OccurredAt: at(2), AccountID: "cash", MerchantID: "m1",
		}))
	}

	for _, kw := range []string{"brûlée", "Crème", "épicerie", "dupont"} {
		fromSQL, err := repo.FindTransactions(ctx, core.TransactionFilter{LedgerID: "l1", Keyword: kw})
		require.NoError(t, err)
		fromMem, err := mem.FindTransactions(ctx, core.TransactionFilter{LedgerID: "l1", Keyword: kw})
		require.NoError(t, err)
		require.Len(t, fromSQL, 1, "keyword %q", kw)
		require.Len(t, fromMem, 1, "keyword %q", kw)
		assert.Equal(t, fromMem[0].ID, fromSQL[0].ID, "keyword %q", kw)
	}

	found, err := repo.SearchMerchants(ctx, "l1", "épicerie")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "m1", found[0].ID)
}
