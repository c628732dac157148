package core

import "sort"

// BalanceDeltas maps account ids to the signed change a set of
// transactions applies to them.
type BalanceDeltas map[string]int64

// BalanceDeltas returns the per-account effect of t. Deleted transactions
// have no effect.
func (t Transaction) BalanceDeltas() (BalanceDeltas, error) {
	d := BalanceDeltas{}
	if t.Deleted {
		return d, nil
	}
	switch t.Type {
	case Income:
		d.Add(t.AccountID, t.Amount)
	case Expense:
		d.Add(t.AccountID, -t.Amount)
	case Transfer:
		d.Add(t.FromAccountID, -t.Amount)
		d.Add(t.ToAccountID, t.Amount)
	default:
		return nil, Validation("transaction.deltas", ErrInvalidType, "unknown transaction type %q", t.Type)
	}
	return d, nil
}

// Add accumulates amount on accountID. Blank ids are ignored.
func (d BalanceDeltas) Add(accountID string, amount int64) {
	if isBlank(accountID) {
		return
	}
	d[accountID] += amount
}

// Merge adds every entry of other scaled by sign (+1 or -1).
func (d BalanceDeltas) Merge(other BalanceDeltas, sign int64) {
	for id, v := range other {
		d.Add(id, sign*v)
	}
}

// Accounts returns the ids with a non-zero delta in ascending order.
func (d BalanceDeltas) Accounts() []string {
	ids := make([]string, 0, len(d))
	for id, v := range d {
		if v != 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// NetDeltas merges the rollback of before with the effect of after.
func NetDeltas(before, after Transaction) (BalanceDeltas, error) {
	old, err := before.BalanceDeltas()
	if err != nil {
		return nil, err
	}
	updated, err := after.BalanceDeltas()
	if err != nil {
		return nil, err
	}
	net := BalanceDeltas{}
	net.Merge(old, -1)
	net.Merge(updated, 1)
	return net, nil
}

// LedgerDeltas folds the effect of every transaction. Entries with an
// unknown type are skipped.
func LedgerDeltas(txs []Transaction) BalanceDeltas {
	total := BalanceDeltas{}
	for _, t := range txs {
		d, err := t.BalanceDeltas()
		if err != nil {
			continue
		}
		total.Merge(d, 1)
	}
	return total
}
