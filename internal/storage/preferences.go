package storage

import (
	"context"
	"fmt"

	"ledgerbook/internal/events"
)

const (
	prefDefaultLedger  = "default_ledger_id"
	prefDefaultAccount = "default_account_id"
)

func (r *SQLiteRepository) DefaultLedgerID(ctx context.Context) (string, error) {
	return r.preference(ctx, prefDefaultLedger)
}

func (r *SQLiteRepository) SetDefaultLedgerID(ctx context.Context, id string) error {
	return r.setPreference(ctx, prefDefaultLedger, id)
}

func (r *SQLiteRepository) ClearDefaultLedgerID(ctx context.Context) error {
	return r.clearPreference(ctx, prefDefaultLedger)
}

func (r *SQLiteRepository) DefaultAccountID(ctx context.Context) (string, error) {
	return r.preference(ctx, prefDefaultAccount)
}

func (r *SQLiteRepository) SetDefaultAccountID(ctx context.Context, id string) error {
	return r.setPreference(ctx, prefDefaultAccount, id)
}

func (r *SQLiteRepository) ClearDefaultAccountID(ctx context.Context) error {
	return r.clearPreference(ctx, prefDefaultAccount)
}

func (r *SQLiteRepository) preference(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read preference %s: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) setPreference(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write preference %s: %w", key, err)
	}
	r.publish(events.EntityPreference, events.OpUpdate, "", "")
	return nil
}

func (r *SQLiteRepository) clearPreference(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM preferences WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clear preference %s: %w", key, err)
	}
	r.publish(events.EntityPreference, events.OpUpdate, "", "")
	return nil
}
