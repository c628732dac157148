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

// Defaults configures the data created on first run.
type Defaults struct {
	LedgerName  string
	AccountName string
	Currency    string
}

func DefaultDefaults() Defaults {
	return Defaults{
		LedgerName:  "Default ledger",
		AccountName: "Cash",
		Currency:    "EUR",
	}
}

func (d Defaults) withFallbacks() Defaults {
	base := DefaultDefaults()
	if strings.TrimSpace(d.LedgerName) == "" {
		d.LedgerName = base.LedgerName
	}
	if strings.TrimSpace(d.AccountName) == "" {
		d.AccountName = base.AccountName
	}
	if strings.TrimSpace(d.Currency) == "" {
		d.Currency = base.Currency
	}
	return d
}

type InitializeResult struct {
	LedgerID             string `json:"ledgerId"`
	AccountID            string `json:"accountId"`
	CreatedLedger        bool   `json:"createdLedger"`
	CreatedAccount       bool   `json:"createdAccount"`
	CreatedCategoryCount int    `json:"createdCategoryCount"`
	CreatedTagCount      int    `json:"createdTagCount"`
}

type categoryGroup struct {
	name     string
	children []string
}

var defaultCategories = map[core.CategoryType][]categoryGroup{
	core.CategoryIncome: {
		{"Work", []string{"Salary", "Bonus"}},
		{"Investment", []string{"Interest", "Wealth management"}},
		{"Other income", []string{"Other"}},
	},
	core.CategoryExpense: {
		{"Food", []string{"Meals", "Snacks"}},
		{"Transport", []string{"Bus", "Taxi"}},
		{"Shopping", []string{"Daily goods", "Clothing"}},
		{"Housing", []string{"Rent", "Utilities"}},
		{"Medical", []string{"Doctor"}},
		{"Entertainment", []string{"Games"}},
		{"Other expense", []string{"Other"}},
	},
}

var defaultTags = []string{"Daily", "Travel", "Important"}

// seedNamespace scopes the name-based ids of seeded categories and tags.
var seedNamespace = uuid.MustParse("8a4f3c2e-6b1d-4e7a-9c5f-2d8e1b0a7c43")

// Initializer makes sure a usable default ledger, account, category set
// and tag set exist. Running it again changes nothing.
type Initializer struct {
	stores   store.Stores
	defaults Defaults
	logger   *log.Logger
	now      func() time.Time
}

func (in *Initializer) Initialize(ctx context.Context) (InitializeResult, error) {
	const op = "initializer.initialize"
	var res InitializeResult

	ledger, created, err := in.resolveLedger(ctx, op)
	if err != nil {
		return res, err
	}
	res.LedgerID, res.CreatedLedger = ledger.ID, created

	accountID, created, err := in.resolveAccount(ctx, op, ledger.ID)
	if err != nil {
		return res, err
	}
	res.AccountID, res.CreatedAccount = accountID, created

	for _, typ := range []core.CategoryType{core.CategoryIncome, core.CategoryExpense} {
		n, err := in.seedCategories(ctx, op, ledger.ID, typ)
		if err != nil {
			return res, err
		}
		res.CreatedCategoryCount += n
	}

	if res.CreatedTagCount, err = in.seedTags(ctx, op, ledger.ID); err != nil {
		return res, err
	}

	in.logger.InfoContext(ctx, "Default data ready",
		log.FieldLedgerID, res.LedgerID,
		log.FieldAccountID, res.AccountID,
		"created_ledger", res.CreatedLedger,
		"created_account", res.CreatedAccount,
		"created_categories", res.CreatedCategoryCount,
		"created_tags", res.CreatedTagCount)
	return res, nil
}

// resolveLedger picks the preferred ledger, then the store default, then
// the first ledger, and creates one only when none exist.
func (in *Initializer) resolveLedger(ctx context.Context, op string) (core.Ledger, bool, error) {
	prefID, err := in.stores.Preferences.DefaultLedgerID(ctx)
	if err != nil {
		return core.Ledger{}, false, core.Storage(op, err)
	}

	var ledger *core.Ledger
	if prefID != "" {
		if ledger, err = in.stores.Ledgers.GetLedger(ctx, prefID); err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
	}
	if ledger == nil {
		if ledger, err = in.stores.Ledgers.GetDefaultLedger(ctx); err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
	}
	if ledger == nil {
		ledgers, err := in.stores.Ledgers.ListLedgers(ctx)
		if err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
		if len(ledgers) > 0 {
			ledger = &ledgers[0]
		}
	}

	if ledger == nil {
		now := core.Timestamp(in.now())
		l := core.Ledger{
			ID:        uuid.NewString(),
			Name:      in.defaults.LedgerName,
			IsDefault: true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := in.stores.Ledgers.ClearDefaultLedger(ctx); err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
		if err := in.stores.Ledgers.UpsertLedger(ctx, l); err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
		if err := in.stores.Ledgers.SetDefaultLedger(ctx, l.ID); err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
		if err := in.stores.Preferences.SetDefaultLedgerID(ctx, l.ID); err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
		return l, true, nil
	}

	if !ledger.IsDefault {
		if err := in.stores.Ledgers.SetDefaultLedger(ctx, ledger.ID); err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
		ledger.IsDefault = true
	}
	if prefID != ledger.ID {
		if err := in.stores.Preferences.SetDefaultLedgerID(ctx, ledger.ID); err != nil {
			return core.Ledger{}, false, core.Storage(op, err)
		}
	}
	return *ledger, false, nil
}

func (in *Initializer) resolveAccount(ctx context.Context, op, ledgerID string) (string, bool, error) {
	accounts, err := in.stores.Accounts.ListAccounts(ctx, ledgerID)
	if err != nil {
		return "", false, core.Storage(op, err)
	}
	prefID, err := in.stores.Preferences.DefaultAccountID(ctx)
	if err != nil {
		return "", false, core.Storage(op, err)
	}
	for _, a := range accounts {
		if a.ID == prefID {
			return a.ID, false, nil
		}
	}

	id, created := "", false
	if len(accounts) > 0 {
		id = accounts[0].ID
	} else {
		a := core.Account{
			ID:       uuid.NewString(),
			LedgerID: ledgerID,
			Name:     in.defaults.AccountName,
			Type:     core.AccountCash,
			Currency: in.defaults.Currency,
			Active:   true,
		}
		if err := in.stores.Accounts.UpsertAccount(ctx, a); err != nil {
			return "", false, core.Storage(op, err)
		}
		id, created = a.ID, true
	}
	if err := in.stores.Preferences.SetDefaultAccountID(ctx, id); err != nil {
		return "", false, core.Storage(op, err)
	}
	return id, created, nil
}

// seedCategories creates the default two-level tree for typ when the
// ledger has no category of that type.
func (in *Initializer) seedCategories(ctx context.Context, op, ledgerID string, typ core.CategoryType) (int, error) {
	existing, err := in.stores.Categories.ListCategories(ctx, ledgerID, typ)
	if err != nil {
		return 0, core.Storage(op, err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	created := 0
	for i, group := range defaultCategories[typ] {
		parent := core.Category{
			ID:       seedID(ledgerID, "category", string(typ), group.name),
			LedgerID: ledgerID,
			Type:     typ,
			Name:     group.name,
			Sort:     i + 1,
		}
		if err := in.stores.Categories.UpsertCategory(ctx, parent); err != nil {
			return created, core.Storage(op, err)
		}
		created++
		for j, name := range group.children {
			child := core.Category{
				ID:       seedID(ledgerID, "category", string(typ), group.name, name),
				LedgerID: ledgerID,
				Type:     typ,
				ParentID: parent.ID,
				Name:     name,
				Sort:     j + 1,
			}
			if err := in.stores.Categories.UpsertCategory(ctx, child); err != nil {
				return created, core.Storage(op, err)
			}
			created++
		}
	}
	return created, nil
}

func (in *Initializer) seedTags(ctx context.Context, op, ledgerID string) (int, error) {
	existing, err := in.stores.Tags.ListTags(ctx, ledgerID)
	if err != nil {
		return 0, core.Storage(op, err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, name := range defaultTags {
		tag := core.Tag{ID: seedID(ledgerID, "tag", name), LedgerID: ledgerID, Name: name}
		if err := in.stores.Tags.UpsertTag(ctx, tag); err != nil {
			return i, core.Storage(op, err)
		}
	}
	return len(defaultTags), nil
}

func seedID(parts ...string) string {
	return uuid.NewSHA1(seedNamespace, []byte(strings.Join(parts, "/"))).String()
}
