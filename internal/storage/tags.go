package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
)

const tagColumns = `id, ledger_id, name, color, icon`

func scanTag(s scanner) (core.Tag, error) {
	var t core.Tag
	var color, icon sql.NullString
	if err := s.Scan(&t.ID, &t.LedgerID, &t.Name, &color, &icon); err != nil {
		return core.Tag{}, err
	}
	t.Color = color.String
	t.Icon = icon.String
	return t, nil
}

func (r *SQLiteRepository) queryTags(ctx context.Context, query string, args ...any) ([]core.Tag, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Tag{}
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListTags(ctx context.Context, ledgerID string) ([]core.Tag, error) {
	tags, err := r.queryTags(ctx, `SELECT `+tagColumns+` FROM tags WHERE ledger_id = ? ORDER BY rowid ASC`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

func (r *SQLiteRepository) GetTag(ctx context.Context, id string) (*core.Tag, error) {
	t, err := scanTag(r.db.QueryRowContext(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tag %s: %w", id, err)
	}
	return &t, nil
}

func (r *SQLiteRepository) UpsertTag(ctx context.Context, t core.Tag) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tags (`+tagColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ledger_id = excluded.ledger_id,
			name = excluded.name,
			color = excluded.color,
			icon = excluded.icon`,
		t.ID, t.LedgerID, t.Name, nullable(t.Color), nullable(t.Icon))
	if err != nil {
		return fmt.Errorf("upsert tag %s: %w", t.ID, err)
	}
	r.publish(events.EntityTag, events.OpUpsert, t.LedgerID, t.ID)
	return nil
}

func (r *SQLiteRepository) UpdateTag(ctx context.Context, t core.Tag) error {
	ok, err := execOne(ctx, r.db, `UPDATE tags SET ledger_id = ?, name = ?, color = ?, icon = ? WHERE id = ?`,
		t.LedgerID, t.Name, nullable(t.Color), nullable(t.Icon), t.ID)
	if err != nil {
		return fmt.Errorf("update tag %s: %w", t.ID, err)
	}
	if !ok {
		return core.NotFound("sqlite.update_tag", "tag", t.ID)
	}
	r.publish(events.EntityTag, events.OpUpdate, t.LedgerID, t.ID)
	return nil
}

// DeleteTag also detaches the tag from every transaction.
func (r *SQLiteRepository) DeleteTag(ctx context.Context, id string) error {
	var ledgerID string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `DELETE FROM tags WHERE id = ? RETURNING ledger_id`, id).Scan(&ledgerID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM transaction_tags WHERE tag_id = ?`, id)
		return err
	})
	if isNoRows(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete tag %s: %w", id, err)
	}
	r.publish(events.EntityTag, events.OpDelete, ledgerID, id)
	return nil
}

func (r *SQLiteRepository) ListTagsByTransaction(ctx context.Context, transactionID string) ([]core.Tag, error) {
	tags, err := r.queryTags(ctx, `
		SELECT t.id, t.ledger_id, t.name, t.color, t.icon
		FROM transaction_tags tt
		JOIN tags t ON t.id = tt.tag_id
		WHERE tt.transaction_id = ?
		ORDER BY tt.position ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list tags for transaction %s: %w", transactionID, err)
	}
	return tags, nil
}
