package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
)

const transactionColumns = `t.id, t.ledger_id, t.type, t.amount, t.currency, t.occurred_at, t.note,
	t.account_id, t.category_id, t.from_account_id, t.to_account_id, t.merchant_id, t.deleted, t.deleted_at`

func scanTransaction(s scanner) (core.Transaction, error) {
	var t core.Transaction
	var typ string
	var occurred int64
	var account, category, from, to, merchant sql.NullString
	var deletedAt sql.NullInt64
	if err := s.Scan(&t.ID, &t.LedgerID, &typ, &t.Amount, &t.Currency, &occurred, &t.Note,
		&account, &category, &from, &to, &merchant, &t.Deleted, &deletedAt); err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.OccurredAt = fromMillis(occurred)
	t.AccountID = account.String
	t.CategoryID = category.String
	t.FromAccountID = from.String
	t.ToAccountID = to.String
	t.MerchantID = merchant.String
	if deletedAt.Valid {
		at := fromMillis(deletedAt.Int64)
		t.DeletedAt = &at
	}
	return t, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, ledgerID string) ([]core.Transaction, error) {
	return r.FindTransactions(ctx, core.TransactionFilter{LedgerID: ledgerID, IncludeDeleted: true})
}

// FindTransactions evaluates the filter in SQL. Keyword matching folds case
// with Unicode rules through the fold function.
func (r *SQLiteRepository) FindTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	var where []string
	var args []any

	if f.LedgerID != "" {
		where = append(where, "t.ledger_id = ?")
		args = append(args, f.LedgerID)
	}
	if !f.IncludeDeleted {
		where = append(where, "t.deleted = 0")
	}
	if f.Start != nil {
		where = append(where, "t.occurred_at >= ?")
		args = append(args, toMillis(*f.Start))
	}
	if f.End != nil {
		where = append(where, "t.occurred_at <= ?")
		args = append(args, toMillis(*f.End))
	}
	if f.MinAmount != nil {
		where = append(where, "t.amount >= ?")
		args = append(args, *f.MinAmount)
	}
	if f.MaxAmount != nil {
		where = append(where, "t.amount <= ?")
		args = append(args, *f.MaxAmount)
	}
	if accounts := nonBlank(f.AccountIDs); len(f.AccountIDs) > 0 {
		if len(accounts) == 0 {
			return []core.Transaction{}, nil
		}
		in := placeholders(len(accounts))
		where = append(where, "(t.account_id IN ("+in+") OR t.from_account_id IN ("+in+") OR t.to_account_id IN ("+in+"))")
		for i := 0; i < 3; i++ {
			for _, id := range accounts {
				args = append(args, id)
			}
		}
	}
	if f.CategoryID != "" {
		where = append(where, "(t.category_id = ? OR t.category_id IN (SELECT c.id FROM categories c WHERE c.parent_id = ?))")
		args = append(args, f.CategoryID, f.CategoryID)
	}
	if f.TagID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM transaction_tags tt WHERE tt.transaction_id = t.id AND tt.tag_id = ?)")
		args = append(args, f.TagID)
	}
	if f.MerchantID != "" {
		where = append(where, "t.merchant_id = ?")
		args = append(args, f.MerchantID)
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		where = append(where, `(instr(fold(t.note), ?) > 0
			OR EXISTS (SELECT 1 FROM merchants m WHERE m.id = t.merchant_id
				AND (instr(fold(m.name), ?) > 0 OR instr(fold(coalesce(m.alias, '')), ?) > 0))
			OR EXISTS (SELECT 1 FROM transaction_tags tt JOIN tags g ON g.id = tt.tag_id
				WHERE tt.transaction_id = t.id AND instr(fold(g.name), ?) > 0))`)
		args = append(args, kw, kw, kw, kw)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions t`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.occurred_at DESC, t.rowid ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	out := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}

	// Rows must be closed first: the pool holds a single connection.
	for i := range out {
		tags, err := r.fetchTagIDs(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].TagIDs = tags
	}
	return out, nil
}

func (r *SQLiteRepository) fetchTagIDs(ctx context.Context, transactionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tag_id FROM transaction_tags WHERE transaction_id = ? ORDER BY position ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("fetch tags for %s: %w", transactionID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tag id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.id = ?`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	if t.TagIDs, err = r.fetchTagIDs(ctx, id); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *SQLiteRepository) UpsertTransaction(ctx context.Context, t core.Transaction) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		return writeTransaction(ctx, tx, t)
	})
	if err != nil {
		return fmt.Errorf("upsert transaction %s: %w", t.ID, err)
	}
	r.publish(events.EntityTransaction, events.OpUpsert, t.LedgerID, t.ID)
	return nil
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE id = ?`, t.ID).Scan(&exists)
		if isNoRows(err) {
			return core.NotFound("sqlite.update_transaction", "transaction", t.ID)
		}
		if err != nil {
			return fmt.Errorf("update transaction %s: %w", t.ID, err)
		}
		if err := writeTransaction(ctx, tx, t); err != nil {
			return fmt.Errorf("update transaction %s: %w", t.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(events.EntityTransaction, events.OpUpdate, t.LedgerID, t.ID)
	return nil
}

// writeTransaction stores the row and replaces its tag associations.
func writeTransaction(ctx context.Context, tx *sql.Tx, t core.Transaction) error {
	var deletedAt any
	if t.DeletedAt != nil {
		deletedAt = toMillis(*t.DeletedAt)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, ledger_id, type, amount, currency, occurred_at, note,
			account_id, category_id, from_account_id, to_account_id, merchant_id, deleted, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ledger_id = excluded.ledger_id,
			type = excluded.type,
			amount = excluded.amount,
			currency = excluded.currency,
			occurred_at = excluded.occurred_at,
			note = excluded.note,
			account_id = excluded.account_id,
			category_id = excluded.category_id,
			from_account_id = excluded.from_account_id,
			to_account_id = excluded.to_account_id,
			merchant_id = excluded.merchant_id,
			deleted = excluded.deleted,
			deleted_at = excluded.deleted_at`,
		t.ID, t.LedgerID, string(t.Type), t.Amount, t.Currency, toMillis(t.OccurredAt), t.Note,
		nullable(t.AccountID), nullable(t.CategoryID), nullable(t.FromAccountID), nullable(t.ToAccountID),
		nullable(t.MerchantID), boolInt(t.Deleted), deletedAt)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ?`, t.ID); err != nil {
		return err
	}
	for i, tagID := range t.TagIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO transaction_tags (transaction_id, tag_id, position) VALUES (?, ?, ?)`,
			t.ID, tagID, i); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	var ledgerID string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `DELETE FROM transactions WHERE id = ? RETURNING ledger_id`, id).Scan(&ledgerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM transaction_tags WHERE transaction_id = ?`, id)
		return err
	})
	if isNoRows(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	r.publish(events.EntityTransaction, events.OpDelete, ledgerID, id)
	return nil
}

func nonBlank(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
