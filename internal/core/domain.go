package core

import (
	"strings"
	"time"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	CategoryIncome  CategoryType = "income"
	CategoryExpense CategoryType = "expense"
)

const (
	AccountCash       AccountType = "cash"
	AccountDebitCard  AccountType = "debit_card"
	AccountCreditCard AccountType = "credit_card"
	AccountEWallet    AccountType = "e_wallet"
	AccountInvestment AccountType = "investment"
	AccountDebt       AccountType = "debt"
	AccountOther      AccountType = "other"
)

type (
	TransactionType string
	CategoryType    string
	AccountType     string

	Ledger struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Archived  bool      `json:"archived"`
		IsDefault bool      `json:"isDefault"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// CreditInfo is only meaningful for credit card accounts.
	CreditInfo struct {
		BillingDay   int   `json:"billingDay"`
		RepaymentDay int   `json:"repaymentDay"`
		Limit        int64 `json:"limit"`
	}

	Account struct {
		ID             string      `json:"id"`
		LedgerID       string      `json:"ledgerId"`
		Name           string      `json:"name"`
		Type           AccountType `json:"type"`
		Currency       string      `json:"currency"`
		InitialBalance int64       `json:"initialBalance"`
		CurrentBalance int64       `json:"currentBalance"`
		Active         bool        `json:"active"`
		Credit         *CreditInfo `json:"credit,omitempty"`
	}

	Category struct {
		ID       string       `json:"id"`
		LedgerID string       `json:"ledgerId"`
		Type     CategoryType `json:"type"`
		ParentID string       `json:"parentId,omitempty"` // empty for top-level categories
		Name     string       `json:"name"`
		Sort     int          `json:"sort"`
		Pinned   bool         `json:"pinned"`
	}

	// CategoryTree is a top-level category with its direct children.
	CategoryTree struct {
		Parent   Category
		Children []Category
	}

	Tag struct {
		ID       string `json:"id"`
		LedgerID string `json:"ledgerId"`
		Name     string `json:"name"`
		Color    string `json:"color,omitempty"`
		Icon     string `json:"icon,omitempty"`
	}

	Merchant struct {
		ID       string `json:"id"`
		LedgerID string `json:"ledgerId"`
		Name     string `json:"name"`
		Alias    string `json:"alias,omitempty"`
	}

	// Transaction is a tagged union over Type. Income and expense use
	// AccountID; transfers use FromAccountID and ToAccountID.
	Transaction struct {
		ID            string          `json:"id"`
		LedgerID      string          `json:"ledgerId"`
		Type          TransactionType `json:"type"`
		Amount        int64           `json:"amount"`
		Currency      string          `json:"currency"`
		OccurredAt    time.Time       `json:"occurredAt"`
		Note          string          `json:"note,omitempty"`
		AccountID     string          `json:"accountId,omitempty"`
		CategoryID    string          `json:"categoryId,omitempty"`
		FromAccountID string          `json:"fromAccountId,omitempty"`
		ToAccountID   string          `json:"toAccountId,omitempty"`
		TagIDs        []string        `json:"tagIds,omitempty"`
		MerchantID    string          `json:"merchantId,omitempty"`
		Deleted       bool            `json:"deleted"`
		DeletedAt     *time.Time      `json:"deletedAt,omitempty"`
	}
)

// Timestamp normalizes t to UTC with millisecond precision, the resolution
// every store persists.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

func (t CategoryType) Valid() bool {
	return t == CategoryIncome || t == CategoryExpense
}

// CategoryType maps income and expense to the matching category type.
// Transfers have no category.
func (t TransactionType) CategoryType() (CategoryType, bool) {
	switch t {
	case Income:
		return CategoryIncome, true
	case Expense:
		return CategoryExpense, true
	}
	return "", false
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountCash, AccountDebitCard, AccountCreditCard, AccountEWallet,
		AccountInvestment, AccountDebt, AccountOther:
		return true
	}
	return false
}

// Validate checks the shape of a transaction against its type.
func (t Transaction) Validate() error {
	const op = "transaction.validate"
	if isBlank(t.ID) {
		return Validation(op, ErrBlankID, "transaction id is blank")
	}
	if isBlank(t.LedgerID) {
		return Validation(op, ErrBlankLedger, "ledger id is blank")
	}
	if t.Amount <= 0 {
		return Validation(op, ErrInvalidAmount, "amount must be positive, got %d", t.Amount)
	}
	if isBlank(t.Currency) {
		return Validation(op, ErrBlankCurrency, "currency is blank")
	}
	switch t.Type {
	case Income, Expense:
		if isBlank(t.AccountID) {
			return Validation(op, ErrBlankAccount, "%s requires an account", t.Type)
		}
		if t.FromAccountID != "" || t.ToAccountID != "" {
			return Validation(op, ErrInvalidShape, "%s cannot carry transfer accounts", t.Type)
		}
	case Transfer:
		if isBlank(t.FromAccountID) || isBlank(t.ToAccountID) {
			return Validation(op, ErrBlankAccount, "transfer requires both accounts")
		}
		if t.FromAccountID == t.ToAccountID {
			return Validation(op, ErrSameAccount, "transfer accounts must differ")
		}
		if t.AccountID != "" || t.CategoryID != "" {
			return Validation(op, ErrInvalidShape, "transfer cannot carry account or category")
		}
		if len(t.TagIDs) > 0 || t.MerchantID != "" {
			return Validation(op, ErrInvalidShape, "transfer cannot carry tags or merchant")
		}
	default:
		return Validation(op, ErrInvalidType, "unknown transaction type %q", t.Type)
	}
	return nil
}

// AccountRefs returns every account the transaction references, regardless
// of whether it is deleted.
func (t Transaction) AccountRefs() []string {
	var ids []string
	for _, id := range []string{t.AccountID, t.FromAccountID, t.ToAccountID} {
		if !isBlank(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clone returns a copy that shares no slices with t.
func (t Transaction) Clone() Transaction {
	if t.TagIDs != nil {
		t.TagIDs = append([]string(nil), t.TagIDs...)
	}
	if t.DeletedAt != nil {
		at := *t.DeletedAt
		t.DeletedAt = &at
	}
	return t
}

func (a Account) Clone() Account {
	if a.Credit != nil {
		c := *a.Credit
		a.Credit = &c
	}
	return a
}

// BuildCategoryTrees groups categories into top-level parents with their
// direct children, preserving input order. Children whose parent is
// missing are dropped.
func BuildCategoryTrees(categories []Category) []CategoryTree {
	var trees []CategoryTree
	index := make(map[string]int)
	for _, c := range categories {
		if c.ParentID == "" {
			index[c.ID] = len(trees)
			trees = append(trees, CategoryTree{Parent: c})
		}
	}
	for _, c := range categories {
		if c.ParentID == "" {
			continue
		}
		if i, ok := index[c.ParentID]; ok {
			trees[i].Children = append(trees[i].Children, c)
		}
	}
	return trees
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
