// Copyright 2025 The go-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Row is a generic column-name → value view of one table row. Values are
// strings, int64s, float64s or nil; timestamps travel as TEXT (see TimeFormat).
type Row map[string]any

type rowQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// columnInfo describes one column as reported by PRAGMA table_info.
type columnInfo struct {
	Name         string
	DeclaredType string
	IsPrimaryKey bool
	NotNull      bool
}

// tableInfo holds the cached structure of one table.
type tableInfo struct {
	Table   string
	Columns []columnInfo
	names   map[string]bool
}

// HasColumn reports whether the table declares the given column.
func (t *tableInfo) HasColumn(name string) bool {
	return t.names[strings.ToLower(name)]
}

// tableInfoProvider caches PRAGMA table_info results per table. The cache is
// per-store so two stores over different databases never share entries.
type tableInfoProvider struct {
	mu    sync.RWMutex
	cache map[string]*tableInfo
}

func newTableInfoProvider() *tableInfoProvider {
	return &tableInfoProvider{cache: make(map[string]*tableInfo)}
}

func (p *tableInfoProvider) get(ctx context.Context, q rowQueryer, table string) (*tableInfo, error) {
	key := strings.ToLower(table)

	p.mu.RLock()
	if info, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return info, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if info, ok := p.cache[key]; ok {
		return info, nil
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", key))
	if err != nil {
		return nil, fmt.Errorf("failed to get table info for %s: %w", table, err)
	}
	defer rows.Close()

	info := &tableInfo{Table: key, names: make(map[string]bool)}
	for rows.Next() {
		var cid int
		var name, declaredType string
		var notNull, pk int
		var defaultValue sql.NullString
		if err := rows.Scan(&cid, &name, &declaredType, &notNull, &defaultValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		info.Columns = append(info.Columns, columnInfo{
			Name:         name,
			DeclaredType: declaredType,
			IsPrimaryKey: pk == 1,
			NotNull:      notNull == 1,
		})
		info.names[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	p.cache[key] = info
	return info, nil
}

// sortedColumns returns the row's keys restricted to declared columns, in a
// deterministic order. Unknown keys are an error: row maps are built from
// trusted transforms, and a typo silently dropped is worse than a failure.
func sortedColumns(info *tableInfo, row Row) ([]string, error) {
	cols := make([]string, 0, len(row))
	for k := range row {
		if !info.HasColumn(k) {
			return nil, fmt.Errorf("table %s has no column %q", info.Table, k)
		}
		cols = append(cols, strings.ToLower(k))
	}
	sort.Strings(cols)
	return cols, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[strings.ToLower(col)] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// GetRow loads a single row by primary key. Returns ErrNotFound if absent.
func (s *Store) GetRow(ctx context.Context, table, id string) (Row, error) {
	return s.getRow(ctx, s.DB, table, id)
}

// GetRowTx is the transaction-aware variant of GetRow.
func (s *Store) GetRowTx(ctx context.Context, tx *sql.Tx, table, id string) (Row, error) {
	return s.getRow(ctx, tx, table, id)
}

func (s *Store) getRow(ctx context.Context, q rowQueryer, table, id string) (Row, error) {
	info, err := s.tables.get(ctx, q, table)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM "%s" WHERE id = ?`, info.Table), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	all, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	return all[0], nil
}

// QueryRows runs a filtered scan over one table. where may be empty; it is a
// SQL fragment such as "work_order_id = ? ORDER BY started_at".
func (s *Store) QueryRows(ctx context.Context, table, where string, args ...any) ([]Row, error) {
	return s.queryRows(ctx, s.DB, table, where, args...)
}

// QueryRowsTx is the transaction-aware variant of QueryRows.
func (s *Store) QueryRowsTx(ctx context.Context, tx *sql.Tx, table, where string, args ...any) ([]Row, error) {
	return s.queryRows(ctx, tx, table, where, args...)
}

func (s *Store) queryRows(ctx context.Context, q rowQueryer, table, where string, args ...any) ([]Row, error) {
	info, err := s.tables.get(ctx, q, table)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT * FROM "%s"`, info.Table)
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// InsertRowTx inserts a new row. The row must include the id column.
func (s *Store) InsertRowTx(ctx context.Context, tx *sql.Tx, table string, row Row) error {
	info, err := s.tables.get(ctx, tx, table)
	if err != nil {
		return err
	}
	cols, err := sortedColumns(info, row)
	if err != nil {
		return err
	}
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = row[c]
	}
	query := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
		info.Table, quoteJoin(cols), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

// UpdateRowTx applies a partial column update to one row by primary key.
func (s *Store) UpdateRowTx(ctx context.Context, tx *sql.Tx, table, id string, row Row) error {
	info, err := s.tables.get(ctx, tx, table)
	if err != nil {
		return err
	}
	cols, err := sortedColumns(info, row)
	if err != nil {
		return err
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = fmt.Sprintf(`"%s" = ?`, c)
		args = append(args, row[c])
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE "%s" SET %s WHERE id = ?`, info.Table, strings.Join(sets, ", "))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRowTx removes one row by primary key. Missing rows are not an error:
// a pulled DELETE may arrive for a row the device never had.
func (s *Store) DeleteRowTx(ctx context.Context, tx *sql.Tx, table, id string) error {
	info, err := s.tables.get(ctx, tx, table)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM "%s" WHERE id = ?`, info.Table), id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// UpsertRows bulk-upserts pulled rows with last-write-wins semantics: an
// existing local row is only overwritten when the incoming updated_at is
// strictly newer. Rows must include id and updated_at.
func (s *Store) UpsertRows(ctx context.Context, tx *sql.Tx, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	info, err := s.tables.get(ctx, tx, table)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row["id"] == nil || row["updated_at"] == nil {
			return fmt.Errorf("upsert into %s requires id and updated_at", table)
		}
		cols, err := sortedColumns(info, row)
		if err != nil {
			return err
		}
		placeholders := make([]string, len(cols))
		sets := make([]string, 0, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			placeholders[i] = "?"
			args[i] = row[c]
			if c != "id" {
				sets = append(sets, fmt.Sprintf(`"%s" = excluded."%s"`, c, c))
			}
		}
		// Timestamps share one text encoding, so lexicographic comparison
		// matches chronological order.
		query := fmt.Sprintf(
			`INSERT INTO "%s" (%s) VALUES (%s)
			ON CONFLICT(id) DO UPDATE SET %s
			WHERE excluded.updated_at > "%s".updated_at`,
			info.Table, quoteJoin(cols), strings.Join(placeholders, ", "),
			strings.Join(sets, ", "), info.Table)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert into %s: %w", table, err)
		}
	}
	return nil
}

// ReplaceChildRows deletes all child rows matching fkColumn = fkValue and
// inserts the given replacements. Used by multi-table pulls (quote items).
func (s *Store) ReplaceChildRows(ctx context.Context, tx *sql.Tx, table, fkColumn, fkValue string, rows []Row) error {
	info, err := s.tables.get(ctx, tx, table)
	if err != nil {
		return err
	}
	if !info.HasColumn(fkColumn) {
		return fmt.Errorf("table %s has no column %q", table, fkColumn)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM "%s" WHERE "%s" = ?`, info.Table, strings.ToLower(fkColumn)), fkValue); err != nil {
		return fmt.Errorf("failed to clear child rows in %s: %w", table, err)
	}
	for _, row := range rows {
		if err := s.InsertRowTx(ctx, tx, table, row); err != nil {
			return err
		}
	}
	return nil
}

// CountWhere returns the number of rows matching the filter.
func (s *Store) CountWhere(ctx context.Context, table, where string, args ...any) (int, error) {
	info, err := s.tables.get(ctx, s.DB, table)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, info.Table)
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := s.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func quoteJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ", ")
}
