package core

import (
	"strings"
	"time"
)

// TransactionFilter selects transactions of one ledger. Zero-valued fields
// do not constrain the result; all set fields must match.
type TransactionFilter struct {
	LedgerID   string
	Start      *time.Time
	End        *time.Time
	MinAmount  *int64
	MaxAmount  *int64
	AccountIDs []string // matches account, source or destination
	CategoryID string   // matches the category or any direct child
	TagID      string
	MerchantID string
	Keyword    string // note, merchant name or alias, tag name

	IncludeDeleted bool
}

// FilterLookups holds the related entities a filter needs to evaluate
// category, merchant and tag predicates in memory.
type FilterLookups struct {
	CategoryParents map[string]string
	Merchants       map[string]Merchant
	Tags            map[string]Tag
}

func (f TransactionFilter) Matches(t Transaction, lk FilterLookups) bool {
	if f.LedgerID != "" && t.LedgerID != f.LedgerID {
		return false
	}
	if t.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.Start != nil && t.OccurredAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && t.OccurredAt.After(*f.End) {
		return false
	}
	if f.MinAmount != nil && t.Amount < *f.MinAmount {
		return false
	}
	if f.MaxAmount != nil && t.Amount > *f.MaxAmount {
		return false
	}
	if len(f.AccountIDs) > 0 && !touchesAny(t, f.AccountIDs) {
		return false
	}
	if f.CategoryID != "" {
		if t.CategoryID == "" {
			return false
		}
		if t.CategoryID != f.CategoryID && lk.CategoryParents[t.CategoryID] != f.CategoryID {
			return false
		}
	}
	if f.TagID != "" && !contains(t.TagIDs, f.TagID) {
		return false
	}
	if f.MerchantID != "" && t.MerchantID != f.MerchantID {
		return false
	}
	if f.Keyword != "" && !matchesKeyword(t, strings.ToLower(f.Keyword), lk) {
		return false
	}
	return true
}

func touchesAny(t Transaction, ids []string) bool {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if t.AccountID == id || t.FromAccountID == id || t.ToAccountID == id {
			return true
		}
	}
	return false
}

func matchesKeyword(t Transaction, kw string, lk FilterLookups) bool {
	if strings.Contains(strings.ToLower(t.Note), kw) {
		return true
	}
	if m, ok := lk.Merchants[t.MerchantID]; ok {
		if strings.Contains(strings.ToLower(m.Name), kw) || strings.Contains(strings.ToLower(m.Alias), kw) {
			return true
		}
	}
	for _, id := range t.TagIDs {
		if tag, ok := lk.Tags[id]; ok && strings.Contains(strings.ToLower(tag.Name), kw) {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
