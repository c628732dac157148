package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
)

const merchantColumns = `id, ledger_id, name, alias`

func scanMerchant(s scanner) (core.Merchant, error) {
	var m core.Merchant
	var alias sql.NullString
	if err := s.Scan(&m.ID, &m.LedgerID, &m.Name, &alias); err != nil {
		return core.Merchant{}, err
	}
	m.Alias = alias.String
	return m, nil
}

func (r *SQLiteRepository) queryMerchants(ctx context.Context, query string, args ...any) ([]core.Merchant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []core.Merchant{}
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merchant: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListMerchants(ctx context.Context, ledgerID string) ([]core.Merchant, error) {
	out, err := r.queryMerchants(ctx,
		`SELECT `+merchantColumns+` FROM merchants WHERE ledger_id = ? ORDER BY rowid ASC`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("list merchants: %w", err)
	}
	return out, nil
}

// SearchMerchants matches keyword against name and alias, ignoring case.
func (r *SQLiteRepository) SearchMerchants(ctx context.Context, ledgerID, keyword string) ([]core.Merchant, error) {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	out, err := r.queryMerchants(ctx, `
		SELECT `+merchantColumns+` FROM merchants
		WHERE ledger_id = ? AND (instr(fold(name), ?) > 0 OR instr(fold(coalesce(alias, '')), ?) > 0)
		ORDER BY rowid ASC`, ledgerID, kw, kw)
	if err != nil {
		return nil, fmt.Errorf("search merchants: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) GetMerchant(ctx context.Context, id string) (*core.Merchant, error) {
	m, err := scanMerchant(r.db.QueryRowContext(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get merchant %s: %w", id, err)
	}
	return &m, nil
}

func (r *SQLiteRepository) UpsertMerchant(ctx context.Context, m core.Merchant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO merchants (`+merchantColumns+`) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ledger_id = excluded.ledger_id,
			name = excluded.name,
			alias = excluded.alias`,
		m.ID, m.LedgerID, m.Name, nullable(m.Alias))
	if err != nil {
		return fmt.Errorf("upsert merchant %s: %w", m.ID, err)
	}
	r.publish(events.EntityMerchant, events.OpUpsert, m.LedgerID, m.ID)
	return nil
}

func (r *SQLiteRepository) UpdateMerchant(ctx context.Context, m core.Merchant) error {
	ok, err := execOne(ctx, r.db, `UPDATE merchants SET ledger_id = ?, name = ?, alias = ? WHERE id = ?`,
		m.LedgerID, m.Name, nullable(m.Alias), m.ID)
	if err != nil {
		return fmt.Errorf("update merchant %s: %w", m.ID, err)
	}
	if !ok {
		return core.NotFound("sqlite.update_merchant", "merchant", m.ID)
	}
	r.publish(events.EntityMerchant, events.OpUpdate, m.LedgerID, m.ID)
	return nil
}

func (r *SQLiteRepository) DeleteMerchant(ctx context.Context, id string) error {
	var ledgerID string
	err := r.db.QueryRowContext(ctx, `DELETE FROM merchants WHERE id = ? RETURNING ledger_id`, id).Scan(&ledgerID)
	if isNoRows(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete merchant %s: %w", id, err)
	}
	r.publish(events.EntityMerchant, events.OpDelete, ledgerID, id)
	return nil
}
