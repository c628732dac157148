package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
)

const ledgerColumns = `id, name, archived, is_default, created_at, updated_at`

func scanLedger(s scanner) (core.Ledger, error) {
	var l core.Ledger
	var created, updated int64
	if err := s.Scan(&l.ID, &l.Name, &l.Archived, &l.IsDefault, &created, &updated); err != nil {
		return core.Ledger{}, err
	}
	l.CreatedAt = fromMillis(created)
	l.UpdatedAt = fromMillis(updated)
	return l, nil
}

func (r *SQLiteRepository) ListLedgers(ctx context.Context) ([]core.Ledger, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM ledgers ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	defer rows.Close()

	out := []core.Ledger{}
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetLedger(ctx context.Context, id string) (*core.Ledger, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id = ?`, id)
	l, err := scanLedger(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", id, err)
	}
	return &l, nil
}

func (r *SQLiteRepository) UpsertLedger(ctx context.Context, l core.Ledger) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if l.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE ledgers SET is_default = 0 WHERE is_default = 1`); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledgers (`+ledgerColumns+`) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				archived = excluded.archived,
				is_default = excluded.is_default,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at`,
			l.ID, l.Name, boolInt(l.Archived), boolInt(l.IsDefault), toMillis(l.CreatedAt), toMillis(l.UpdatedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert ledger %s: %w", l.ID, err)
	}
	r.publish(events.EntityLedger, events.OpUpsert, l.ID, l.ID)
	return nil
}

func (r *SQLiteRepository) UpdateLedger(ctx context.Context, l core.Ledger) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if l.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE ledgers SET is_default = 0 WHERE id <> ?`, l.ID); err != nil {
				return err
			}
		}
		ok, err := execOne(ctx, tx, `
			UPDATE ledgers SET name = ?, archived = ?, is_default = ?, created_at = ?, updated_at = ?
			WHERE id = ?`,
			l.Name, boolInt(l.Archived), boolInt(l.IsDefault), toMillis(l.CreatedAt), toMillis(l.UpdatedAt), l.ID)
		if err != nil {
			return fmt.Errorf("update ledger %s: %w", l.ID, err)
		}
		if !ok {
			return core.NotFound("sqlite.update_ledger", "ledger", l.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(events.EntityLedger, events.OpUpdate, l.ID, l.ID)
	return nil
}

func (r *SQLiteRepository) DeleteLedger(ctx context.Context, id string) error {
	ok, err := execOne(ctx, r.db, `DELETE FROM ledgers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ledger %s: %w", id, err)
	}
	if ok {
		r.publish(events.EntityLedger, events.OpDelete, id, id)
	}
	return nil
}

func (r *SQLiteRepository) GetDefaultLedger(ctx context.Context) (*core.Ledger, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledgers WHERE is_default = 1 ORDER BY created_at ASC, rowid ASC LIMIT 1`)
	l, err := scanLedger(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default ledger: %w", err)
	}
	return &l, nil
}

func (r *SQLiteRepository) ClearDefaultLedger(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE ledgers SET is_default = 0 WHERE is_default = 1`); err != nil {
		return fmt.Errorf("clear default ledger: %w", err)
	}
	r.publish(events.EntityLedger, events.OpUpdate, "", "")
	return nil
}

func (r *SQLiteRepository) SetDefaultLedger(ctx context.Context, id string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM ledgers WHERE id = ?`, id).Scan(&exists)
		if isNoRows(err) {
			return core.NotFound("sqlite.set_default_ledger", "ledger", id)
		}
		if err != nil {
			return fmt.Errorf("set default ledger %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE ledgers SET is_default = (id = ?)`, id); err != nil {
			return fmt.Errorf("set default ledger %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.publish(events.EntityLedger, events.OpUpdate, id, id)
	return nil
}
