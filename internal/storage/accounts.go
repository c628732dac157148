package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
)

const accountColumns = `id, ledger_id, name, type, currency, initial_balance, current_balance, active,
	billing_day, repayment_day, credit_limit`

func scanAccount(s scanner) (core.Account, error) {
	var a core.Account
	var typ string
	var billing, repayment, limit sql.NullInt64
	if err := s.Scan(&a.ID, &a.LedgerID, &a.Name, &typ, &a.Currency, &a.InitialBalance, &a.CurrentBalance,
		&a.Active, &billing, &repayment, &limit); err != nil {
		return core.Account{}, err
	}
	a.Type = core.AccountType(typ)
	if billing.Valid || repayment.Valid || limit.Valid {
		a.Credit = &core.CreditInfo{
			BillingDay:   int(billing.Int64),
			RepaymentDay: int(repayment.Int64),
			Limit:        limit.Int64,
		}
	}
	return a, nil
}

func creditArgs(c *core.CreditInfo) (any, any, any) {
	if c == nil {
		return nil, nil, nil
	}
	return c.BillingDay, c.RepaymentDay, c.Limit
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, ledgerID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE ledger_id = ? ORDER BY rowid ASC`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := []core.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return &a, nil
}

func (r *SQLiteRepository) UpsertAccount(ctx context.Context, a core.Account) error {
	billing, repayment, limit := creditArgs(a.Credit)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ledger_id = excluded.ledger_id,
			name = excluded.name,
			type = excluded.type,
			currency = excluded.currency,
			initial_balance = excluded.initial_balance,
			current_balance = excluded.current_balance,
			active = excluded.active,
			billing_day = excluded.billing_day,
			repayment_day = excluded.repayment_day,
			credit_limit = excluded.credit_limit`,
		a.ID, a.LedgerID, a.Name, string(a.Type), a.Currency, a.InitialBalance, a.CurrentBalance,
		boolInt(a.Active), billing, repayment, limit)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.ID, err)
	}
	r.publish(events.EntityAccount, events.OpUpsert, a.LedgerID, a.ID)
	return nil
}

func (r *SQLiteRepository) UpdateAccount(ctx context.Context, a core.Account) error {
	billing, repayment, limit := creditArgs(a.Credit)
	ok, err := execOne(ctx, r.db, `
		UPDATE accounts SET ledger_id = ?, name = ?, type = ?, currency = ?, initial_balance = ?,
			current_balance = ?, active = ?, billing_day = ?, repayment_day = ?, credit_limit = ?
		WHERE id = ?`,
		a.LedgerID, a.Name, string(a.Type), a.Currency, a.InitialBalance, a.CurrentBalance,
		boolInt(a.Active), billing, repayment, limit, a.ID)
	if err != nil {
		return fmt.Errorf("update account %s: %w", a.ID, err)
	}
	if !ok {
		return core.NotFound("sqlite.update_account", "account", a.ID)
	}
	r.publish(events.EntityAccount, events.OpUpdate, a.LedgerID, a.ID)
	return nil
}

func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id string) error {
	var ledgerID string
	err := r.db.QueryRowContext(ctx, `DELETE FROM accounts WHERE id = ? RETURNING ledger_id`, id).Scan(&ledgerID)
	if isNoRows(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	r.publish(events.EntityAccount, events.OpDelete, ledgerID, id)
	return nil
}

func (r *SQLiteRepository) SetAccountActive(ctx context.Context, id string, active bool) error {
	return r.modifyAccount(ctx, "sqlite.set_account_active", id,
		`UPDATE accounts SET active = ? WHERE id = ? RETURNING ledger_id`, boolInt(active), id)
}

func (r *SQLiteRepository) UpdateBalance(ctx context.Context, id string, balance int64) error {
	return r.modifyAccount(ctx, "sqlite.update_balance", id,
		`UPDATE accounts SET current_balance = ? WHERE id = ? RETURNING ledger_id`, balance, id)
}

func (r *SQLiteRepository) modifyAccount(ctx context.Context, op, id, query string, args ...any) error {
	var ledgerID string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&ledgerID)
	if isNoRows(err) {
		return core.NotFound(op, "account", id)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	r.publish(events.EntityAccount, events.OpUpdate, ledgerID, id)
	return nil
}
