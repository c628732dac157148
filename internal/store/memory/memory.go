// Package memory is an in-process implementation of every store port. It
// backs tests and ephemeral runs (DATA_BACKEND=memory).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
	"ledgerbook/internal/store"
)

// table keeps rows in insertion order; replacing a row keeps its position.
type table[T any] struct {
	ids  []string
	rows map[string]T
}

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]T)}
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

func (t *table[T]) put(id string, v T) {
	if _, ok := t.rows[id]; !ok {
		t.ids = append(t.ids, id)
	}
	t.rows[id] = v
}

func (t *table[T]) remove(id string) (T, bool) {
	v, ok := t.rows[id]
	if !ok {
		return v, false
	}
	delete(t.rows, id)
	for i, existing := range t.ids {
		if existing == id {
			t.ids = append(t.ids[:i], t.ids[i+1:]...)
			break
		}
	}
	return v, true
}

func (t *table[T]) all(keep func(T) bool) []T {
	out := make([]T, 0, len(t.ids))
	for _, id := range t.ids {
		v := t.rows[id]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

type Store struct {
	mu           sync.RWMutex
	ledgers      *table[core.Ledger]
	accounts     *table[core.Account]
	categories   *table[core.Category]
	tags         *table[core.Tag]
	merchants    *table[core.Merchant]
	transactions *table[core.Transaction]

	defaultLedgerID  string
	defaultAccountID string

	bus *events.Bus
}

var _ store.Backend = (*Store)(nil)

// New returns an empty store publishing on bus. A nil bus gets a fresh one.
func New(bus *events.Bus) *Store {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Store{
		ledgers:      newTable[core.Ledger](),
		accounts:     newTable[core.Account](),
		categories:   newTable[core.Category](),
		tags:         newTable[core.Tag](),
		merchants:    newTable[core.Merchant](),
		transactions: newTable[core.Transaction](),
		bus:          bus,
	}
}

func (s *Store) Bus() *events.Bus { return s.bus }

func (s *Store) Close() error { return nil }

func (s *Store) publish(entity events.Entity, op events.Op, ledgerID, id string) {
	s.bus.Publish(events.Change{Entity: entity, Op: op, LedgerID: ledgerID, ID: id})
}

// Ledgers

func (s *Store) ListLedgers(ctx context.Context) ([]core.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.ledgers.all(nil)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetLedger(ctx context.Context, id string) (*core.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ledgers.get(id)
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *Store) UpsertLedger(ctx context.Context, l core.Ledger) error {
	s.mu.Lock()
	if l.IsDefault {
		s.clearDefaultLocked()
	}
	s.ledgers.put(l.ID, l)
	s.mu.Unlock()
	s.publish(events.EntityLedger, events.OpUpsert, l.ID, l.ID)
	return nil
}

func (s *Store) UpdateLedger(ctx context.Context, l core.Ledger) error {
	s.mu.Lock()
	if _, ok := s.ledgers.get(l.ID); !ok {
		s.mu.Unlock()
		return core.NotFound("memory.update_ledger", "ledger", l.ID)
	}
	if l.IsDefault {
		s.clearDefaultLocked()
	}
	s.ledgers.put(l.ID, l)
	s.mu.Unlock()
	s.publish(events.EntityLedger, events.OpUpdate, l.ID, l.ID)
	return nil
}

func (s *Store) DeleteLedger(ctx context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.ledgers.remove(id)
	s.mu.Unlock()
	if ok {
		s.publish(events.EntityLedger, events.OpDelete, id, id)
	}
	return nil
}

func (s *Store) GetDefaultLedger(ctx context.Context) (*core.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.ledgers.all(nil) {
		if l.IsDefault {
			return &l, nil
		}
	}
	return nil, nil
}

func (s *Store) ClearDefaultLedger(ctx context.Context) error {
	s.mu.Lock()
	s.clearDefaultLocked()
	s.mu.Unlock()
	s.publish(events.EntityLedger, events.OpUpdate, "", "")
	return nil
}

func (s *Store) SetDefaultLedger(ctx context.Context, id string) error {
	s.mu.Lock()
	l, ok := s.ledgers.get(id)
	if !ok {
		s.mu.Unlock()
		return core.NotFound("memory.set_default_ledger", "ledger", id)
	}
	s.clearDefaultLocked()
	l.IsDefault = true
	s.ledgers.put(id, l)
	s.mu.Unlock()
	s.publish(events.EntityLedger, events.OpUpdate, id, id)
	return nil
}

func (s *Store) clearDefaultLocked() {
	for _, id := range s.ledgers.ids {
		l := s.ledgers.rows[id]
		if l.IsDefault {
			l.IsDefault = false
			s.ledgers.rows[id] = l
		}
	}
}

// Accounts

func (s *Store) ListAccounts(ctx context.Context, ledgerID string) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.accounts.all(func(a core.Account) bool { return a.LedgerID == ledgerID })
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts.get(id)
	if !ok {
		return nil, nil
	}
	a = a.Clone()
	return &a, nil
}

func (s *Store) UpsertAccount(ctx context.Context, a core.Account) error {
	s.mu.Lock()
	s.accounts.put(a.ID, a.Clone())
	s.mu.Unlock()
	s.publish(events.EntityAccount, events.OpUpsert, a.LedgerID, a.ID)
	return nil
}

func (s *Store) UpdateAccount(ctx context.Context, a core.Account) error {
	return s.modifyAccount("memory.update_account", a.ID, func(existing *core.Account) { *existing = a.Clone() })
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	a, ok := s.accounts.remove(id)
	s.mu.Unlock()
	if ok {
		s.publish(events.EntityAccount, events.OpDelete, a.LedgerID, id)
	}
	return nil
}

func (s *Store) SetAccountActive(ctx context.Context, id string, active bool) error {
	return s.modifyAccount("memory.set_account_active", id, func(a *core.Account) { a.Active = active })
}

func (s *Store) UpdateBalance(ctx context.Context, id string, balance int64) error {
	return s.modifyAccount("memory.update_balance", id, func(a *core.Account) { a.CurrentBalance = balance })
}

func (s *Store) modifyAccount(op, id string, fn func(*core.Account)) error {
	s.mu.Lock()
	a, ok := s.accounts.get(id)
	if !ok {
		s.mu.Unlock()
		return core.NotFound(op, "account", id)
	}
	fn(&a)
	s.accounts.put(id, a)
	s.mu.Unlock()
	s.publish(events.EntityAccount, events.OpUpdate, a.LedgerID, id)
	return nil
}

// Categories

func (s *Store) ListCategories(ctx context.Context, ledgerID string, typ core.CategoryType) ([]core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.categories.all(func(c core.Category) bool {
		return c.LedgerID == ledgerID && (typ == "" || c.Type == typ)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sort < out[j].Sort })
	return out, nil
}

func (s *Store) ListCategoryTrees(ctx context.Context, ledgerID string, typ core.CategoryType) ([]core.CategoryTree, error) {
	cats, err := s.ListCategories(ctx, ledgerID, typ)
	if err != nil {
		return nil, err
	}
	return core.BuildCategoryTrees(cats), nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories.get(id)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *Store) UpsertCategory(ctx context.Context, c core.Category) error {
	s.mu.Lock()
	s.categories.put(c.ID, c)
	s.mu.Unlock()
	s.publish(events.EntityCategory, events.OpUpsert, c.LedgerID, c.ID)
	return nil
}

func (s *Store) UpdateCategory(ctx context.Context, c core.Category) error {
	return s.modifyCategory("memory.update_category", c.ID, func(existing *core.Category) { *existing = c })
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	s.mu.Lock()
	c, ok := s.categories.remove(id)
	s.mu.Unlock()
	if ok {
		s.publish(events.EntityCategory, events.OpDelete, c.LedgerID, id)
	}
	return nil
}

func (s *Store) UpdateCategorySort(ctx context.Context, id string, sortOrder int) error {
	return s.modifyCategory("memory.update_category_sort", id, func(c *core.Category) { c.Sort = sortOrder })
}

func (s *Store) UpdateCategoryPinned(ctx context.Context, id string, pinned bool) error {
	return s.modifyCategory("memory.update_category_pinned", id, func(c *core.Category) { c.Pinned = pinned })
}

func (s *Store) modifyCategory(op, id string, fn func(*core.Category)) error {
	s.mu.Lock()
	c, ok := s.categories.get(id)
	if !ok {
		s.mu.Unlock()
		return core.NotFound(op, "category", id)
	}
	fn(&c)
	s.categories.put(id, c)
	s.mu.Unlock()
	s.publish(events.EntityCategory, events.OpUpdate, c.LedgerID, id)
	return nil
}

// Tags

func (s *Store) ListTags(ctx context.Context, ledgerID string) ([]core.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tags.all(func(t core.Tag) bool { return t.LedgerID == ledgerID }), nil
}

func (s *Store) GetTag(ctx context.Context, id string) (*core.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags.get(id)
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *Store) UpsertTag(ctx context.Context, t core.Tag) error {
	s.mu.Lock()
	s.tags.put(t.ID, t)
	s.mu.Unlock()
	s.publish(events.EntityTag, events.OpUpsert, t.LedgerID, t.ID)
	return nil
}

func (s *Store) UpdateTag(ctx context.Context, t core.Tag) error {
	s.mu.Lock()
	if _, ok := s.tags.get(t.ID); !ok {
		s.mu.Unlock()
		return core.NotFound("memory.update_tag", "tag", t.ID)
	}
	s.tags.put(t.ID, t)
	s.mu.Unlock()
	s.publish(events.EntityTag, events.OpUpdate, t.LedgerID, t.ID)
	return nil
}

func (s *Store) DeleteTag(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.tags.remove(id)
	if ok {
		for _, txID := range s.transactions.ids {
			tx := s.transactions.rows[txID]
			if idx := indexOf(tx.TagIDs, id); idx >= 0 {
				tx.TagIDs = append(append([]string(nil), tx.TagIDs[:idx]...), tx.TagIDs[idx+1:]...)
				s.transactions.rows[txID] = tx
			}
		}
	}
	s.mu.Unlock()
	if ok {
		s.publish(events.EntityTag, events.OpDelete, t.LedgerID, id)
	}
	return nil
}

func (s *Store) ListTagsByTransaction(ctx context.Context, transactionID string) ([]core.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions.get(transactionID)
	if !ok {
		return []core.Tag{}, nil
	}
	out := make([]core.Tag, 0, len(tx.TagIDs))
	for _, id := range tx.TagIDs {
		if t, ok := s.tags.get(id); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// Merchants

func (s *Store) ListMerchants(ctx context.Context, ledgerID string) ([]core.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merchants.all(func(m core.Merchant) bool { return m.LedgerID == ledgerID }), nil
}

func (s *Store) SearchMerchants(ctx context.Context, ledgerID, keyword string) ([]core.Merchant, error) {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.merchants.all(func(m core.Merchant) bool {
		if m.LedgerID != ledgerID {
			return false
		}
		return strings.Contains(strings.ToLower(m.Name), kw) || strings.Contains(strings.ToLower(m.Alias), kw)
	}), nil
}

func (s *Store) GetMerchant(ctx context.Context, id string) (*core.Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.merchants.get(id)
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *Store) UpsertMerchant(ctx context.Context, m core.Merchant) error {
	s.mu.Lock()
	s.merchants.put(m.ID, m)
	s.mu.Unlock()
	s.publish(events.EntityMerchant, events.OpUpsert, m.LedgerID, m.ID)
	return nil
}

func (s *Store) UpdateMerchant(ctx context.Context, m core.Merchant) error {
	s.mu.Lock()
	if _, ok := s.merchants.get(m.ID); !ok {
		s.mu.Unlock()
		return core.NotFound("memory.update_merchant", "merchant", m.ID)
	}
	s.merchants.put(m.ID, m)
	s.mu.Unlock()
	s.publish(events.EntityMerchant, events.OpUpdate, m.LedgerID, m.ID)
	return nil
}

func (s *Store) DeleteMerchant(ctx context.Context, id string) error {
	s.mu.Lock()
	m, ok := s.merchants.remove(id)
	s.mu.Unlock()
	if ok {
		s.publish(events.EntityMerchant, events.OpDelete, m.LedgerID, id)
	}
	return nil
}

// Transactions

func (s *Store) ListTransactions(ctx context.Context, ledgerID string) ([]core.Transaction, error) {
	return s.FindTransactions(ctx, core.TransactionFilter{LedgerID: ledgerID, IncludeDeleted: true})
}

func (s *Store) FindTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lk := s.lookupsLocked(f.LedgerID)
	out := s.transactions.all(func(t core.Transaction) bool { return f.Matches(t, lk) })
	for i := range out {
		out[i] = out[i].Clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (s *Store) lookupsLocked(ledgerID string) core.FilterLookups {
	lk := core.FilterLookups{
		CategoryParents: make(map[string]string),
		Merchants:       make(map[string]core.Merchant),
		Tags:            make(map[string]core.Tag),
	}
	inLedger := func(id string) bool { return ledgerID == "" || id == ledgerID }
	for _, c := range s.categories.all(func(c core.Category) bool { return inLedger(c.LedgerID) }) {
		if c.ParentID != "" {
			lk.CategoryParents[c.ID] = c.ParentID
		}
	}
	for _, m := range s.merchants.all(func(m core.Merchant) bool { return inLedger(m.LedgerID) }) {
		lk.Merchants[m.ID] = m
	}
	for _, t := range s.tags.all(func(t core.Tag) bool { return inLedger(t.LedgerID) }) {
		lk.Tags[t.ID] = t
	}
	return lk
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions.get(id)
	if !ok {
		return nil, nil
	}
	t = t.Clone()
	return &t, nil
}

func (s *Store) UpsertTransaction(ctx context.Context, t core.Transaction) error {
	s.mu.Lock()
	s.transactions.put(t.ID, t.Clone())
	s.mu.Unlock()
	s.publish(events.EntityTransaction, events.OpUpsert, t.LedgerID, t.ID)
	return nil
}

func (s *Store) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	s.mu.Lock()
	if _, ok := s.transactions.get(t.ID); !ok {
		s.mu.Unlock()
		return core.NotFound("memory.update_transaction", "transaction", t.ID)
	}
	s.transactions.put(t.ID, t.Clone())
	s.mu.Unlock()
	s.publish(events.EntityTransaction, events.OpUpdate, t.LedgerID, t.ID)
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	s.mu.Lock()
	t, ok := s.transactions.remove(id)
	s.mu.Unlock()
	if ok {
		s.publish(events.EntityTransaction, events.OpDelete, t.LedgerID, id)
	}
	return nil
}

// Preferences

func (s *Store) DefaultLedgerID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultLedgerID, nil
}

func (s *Store) SetDefaultLedgerID(ctx context.Context, id string) error {
	s.setPreference(&s.defaultLedgerID, id)
	return nil
}

func (s *Store) ClearDefaultLedgerID(ctx context.Context) error {
	s.setPreference(&s.defaultLedgerID, "")
	return nil
}

func (s *Store) DefaultAccountID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultAccountID, nil
}

func (s *Store) SetDefaultAccountID(ctx context.Context, id string) error {
	s.setPreference(&s.defaultAccountID, id)
	return nil
}

func (s *Store) ClearDefaultAccountID(ctx context.Context) error {
	s.setPreference(&s.defaultAccountID, "")
	return nil
}

func (s *Store) setPreference(field *string, value string) {
	s.mu.Lock()
	*field = value
	s.mu.Unlock()
	s.publish(events.EntityPreference, events.OpUpdate, "", "")
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
