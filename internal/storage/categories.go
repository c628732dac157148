package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ledgerbook/internal/core"
	"ledgerbook/internal/events"
)

const categoryColumns = `id, ledger_id, type, parent_id, name, sort, pinned`

func scanCategory(s scanner) (core.Category, error) {
	var c core.Category
	var typ string
	var parent sql.NullString
	if err := s.Scan(&c.ID, &c.LedgerID, &typ, &parent, &c.Name, &c.Sort, &c.Pinned); err != nil {
		return core.Category{}, err
	}
	c.Type = core.CategoryType(typ)
	c.ParentID = parent.String
	return c, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, ledgerID string, typ core.CategoryType) ([]core.Category, error) {
	where := "ledger_id = ?"
	args := []any{ledgerID}
	if typ != "" {
		where += " AND type = ?"
		args = append(args, string(typ))
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE `+where+` ORDER BY sort ASC, rowid ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := []core.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListCategoryTrees(ctx context.Context, ledgerID string, typ core.CategoryType) ([]core.CategoryTree, error) {
	cats, err := r.ListCategories(ctx, ledgerID, typ)
	if err != nil {
		return nil, err
	}
	return core.BuildCategoryTrees(cats), nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id string) (*core.Category, error) {
	c, err := scanCategory(r.db.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category %s: %w", id, err)
	}
	return &c, nil
}

func (r *SQLiteRepository) UpsertCategory(ctx context.Context, c core.Category) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ledger_id = excluded.ledger_id,
			type = excluded.type,
			parent_id = excluded.parent_id,
			name = excluded.name,
			sort = excluded.sort,
			pinned = excluded.pinned`,
		c.ID, c.LedgerID, string(c.Type), nullable(c.ParentID), c.Name, c.Sort, boolInt(c.Pinned))
	if err != nil {
		return fmt.Errorf("upsert category %s: %w", c.ID, err)
	}
	r.publish(events.EntityCategory, events.OpUpsert, c.LedgerID, c.ID)
	return nil
}

func (r *SQLiteRepository) UpdateCategory(ctx context.Context, c core.Category) error {
	ok, err := execOne(ctx, r.db, `
		UPDATE categories SET ledger_id = ?, type = ?, parent_id = ?, name = ?, sort = ?, pinned = ?
		WHERE id = ?`,
		c.LedgerID, string(c.Type), nullable(c.ParentID), c.Name, c.Sort, boolInt(c.Pinned), c.ID)
	if err != nil {
		return fmt.Errorf("update category %s: %w", c.ID, err)
	}
	if !ok {
		return core.NotFound("sqlite.update_category", "category", c.ID)
	}
	r.publish(events.EntityCategory, events.OpUpdate, c.LedgerID, c.ID)
	return nil
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id string) error {
	var ledgerID string
	err := r.db.QueryRowContext(ctx, `DELETE FROM categories WHERE id = ? RETURNING ledger_id`, id).Scan(&ledgerID)
	if isNoRows(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete category %s: %w", id, err)
	}
	r.publish(events.EntityCategory, events.OpDelete, ledgerID, id)
	return nil
}

func (r *SQLiteRepository) UpdateCategorySort(ctx context.Context, id string, sort int) error {
	return r.modifyCategory(ctx, "sqlite.update_category_sort", id,
		`UPDATE categories SET sort = ? WHERE id = ? RETURNING ledger_id`, sort, id)
}

func (r *SQLiteRepository) UpdateCategoryPinned(ctx context.Context, id string, pinned bool) error {
	return r.modifyCategory(ctx, "sqlite.update_category_pinned", id,
		`UPDATE categories SET pinned = ? WHERE id = ? RETURNING ledger_id`, boolInt(pinned), id)
}

func (r *SQLiteRepository) modifyCategory(ctx context.Context, op, id, query string, args ...any) error {
	var ledgerID string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&ledgerID)
	if isNoRows(err) {
		return core.NotFound(op, "category", id)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	r.publish(events.EntityCategory, events.OpUpdate, ledgerID, id)
	return nil
}
