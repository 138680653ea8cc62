package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/repository"
)

const sqlFlavor = sqlbuilder.PostgreSQL

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidIdentifier reports whether s is safe to splice into SQL as a table or
// column name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Ensure the store and its transactions satisfy the interfaces
var (
	_ repository.TabularStore = &tabularStore{}
	_ repository.TabularTx    = &tabularTx{}
)

type tabularStore struct {
	BaseRepository
	tables map[string]struct{}
}

// NewTabularStore exposes generic row access to the named tables only.
func NewTabularStore(base BaseRepository, tables ...string) repository.TabularStore {
	allowed := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		allowed[t] = struct{}{}
	}
	return &tabularStore{BaseRepository: base, tables: allowed}
}

func (s *tabularStore) Get(ctx context.Context, table, id string) (model.Row, error) {
	return rowsOps{q: s.db, tables: s.tables}.get(ctx, table, id)
}

func (s *tabularStore) List(ctx context.Context, table string, filter map[string]interface{}, page, limit int) ([]model.Row, error) {
	return rowsOps{q: s.db, tables: s.tables}.list(ctx, table, filter, page, limit)
}

func (s *tabularStore) SelectAll(ctx context.Context, table string) ([]model.Row, error) {
	return rowsOps{q: s.db, tables: s.tables}.selectAll(ctx, table)
}

func (s *tabularStore) Insert(ctx context.Context, table string, row model.Row) error {
	return rowsOps{q: s.db, tables: s.tables}.insert(ctx, table, row)
}

func (s *tabularStore) Update(ctx context.Context, table, id string, partial model.Row) error {
	return rowsOps{q: s.db, tables: s.tables}.update(ctx, table, id, partial)
}

func (s *tabularStore) Delete(ctx context.Context, table, id string) error {
	return rowsOps{q: s.db, tables: s.tables}.delete(ctx, table, id)
}

func (s *tabularStore) WithTransaction(ctx context.Context, fn func(tx repository.TabularTx) error) error {
	return s.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&tabularTx{ops: rowsOps{q: tx, tables: s.tables}})
	})
}

type tabularTx struct {
	ops rowsOps
}

func (t *tabularTx) Get(ctx context.Context, table, id string) (model.Row, error) {
	return t.ops.get(ctx, table, id)
}

func (t *tabularTx) List(ctx context.Context, table string, filter map[string]interface{}, page, limit int) ([]model.Row, error) {
	return t.ops.list(ctx, table, filter, page, limit)
}

func (t *tabularTx) SelectAll(ctx context.Context, table string) ([]model.Row, error) {
	return t.ops.selectAll(ctx, table)
}

func (t *tabularTx) Insert(ctx context.Context, table string, row model.Row) error {
	return t.ops.insert(ctx, table, row)
}

func (t *tabularTx) Update(ctx context.Context, table, id string, partial model.Row) error {
	return t.ops.update(ctx, table, id, partial)
}

func (t *tabularTx) Delete(ctx context.Context, table, id string) error {
	return t.ops.delete(ctx, table, id)
}

func (t *tabularTx) Truncate(ctx context.Context, table string) error {
	if err := t.ops.checkTable(table); err != nil {
		return err
	}
	if _, err := t.ops.q.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", table, err)
	}
	return nil
}

// rowsOps runs the generic statements against either the pool or a transaction.
type rowsOps struct {
	q      sqlx.ExtContext
	tables map[string]struct{}
}

func (o rowsOps) checkTable(table string) error {
	if _, ok := o.tables[table]; !ok || !ValidIdentifier(table) {
		return fmt.Errorf("%w: table %q", repository.ErrInvalidName, table)
	}
	return nil
}

func (o rowsOps) get(ctx context.Context, table, id string) (model.Row, error) {
	if err := o.checkTable(table); err != nil {
		return nil, err
	}
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("*").From(table).Where(sb.Equal("id", id))

	query, args := sb.Build()
	rows, err := o.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", table, id, err)
	}
	if len(rows) == 0 {
		return nil, repository.ErrNotFound
	}
	return rows[0], nil
}

func (o rowsOps) list(ctx context.Context, table string, filter map[string]interface{}, page, limit int) ([]model.Row, error) {
	if err := o.checkTable(table); err != nil {
		return nil, err
	}
	p := model.Pagination{Page: page, PageSize: limit}.Normalize()

	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("*").From(table)
	for _, col := range sortedKeys(filter) {
		if !ValidIdentifier(col) {
			return nil, fmt.Errorf("%w: column %q", repository.ErrInvalidName, col)
		}
		sb.Where(sb.Equal(col, filter[col]))
	}
	sb.OrderBy("id").Limit(p.PageSize).Offset(p.Offset())

	query, args := sb.Build()
	rows, err := o.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return rows, nil
}

func (o rowsOps) selectAll(ctx context.Context, table string) ([]model.Row, error) {
	if err := o.checkTable(table); err != nil {
		return nil, err
	}
	query, args := sqlFlavor.NewSelectBuilder().Select("*").From(table).Build()
	rows, err := o.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	return rows, nil
}

func (o rowsOps) insert(ctx context.Context, table string, row model.Row) error {
	if err := o.checkTable(table); err != nil {
		return err
	}
	if len(row) == 0 {
		return fmt.Errorf("failed to insert into %s: empty row", table)
	}

	cols := sortedKeys(row)
	values := make([]interface{}, 0, len(cols))
	for _, col := range cols {
		if !ValidIdentifier(col) {
			return fmt.Errorf("%w: column %q", repository.ErrInvalidName, col)
		}
		v, err := toSQLValue(row[col])
		if err != nil {
			return fmt.Errorf("failed to encode %s.%s: %w", table, col, err)
		}
		values = append(values, v)
	}

	ib := sqlFlavor.NewInsertBuilder()
	ib.InsertInto(table).Cols(cols...).Values(values...)

	query, args := ib.Build()
	if _, err := o.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, translateError(err))
	}
	return nil
}

func (o rowsOps) update(ctx context.Context, table, id string, partial model.Row) error {
	if err := o.checkTable(table); err != nil {
		return err
	}
	if len(partial) == 0 {
		return nil
	}

	ub := sqlFlavor.NewUpdateBuilder()
	ub.Update(table)
	assignments := make([]string, 0, len(partial))
	for _, col := range sortedKeys(partial) {
		if !ValidIdentifier(col) {
			return fmt.Errorf("%w: column %q", repository.ErrInvalidName, col)
		}
		v, err := toSQLValue(partial[col])
		if err != nil {
			return fmt.Errorf("failed to encode %s.%s: %w", table, col, err)
		}
		assignments = append(assignments, ub.Assign(col, v))
	}
	ub.Set(assignments...).Where(ub.Equal("id", id))

	query, args := ub.Build()
	res, err := o.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", table, id, translateError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (o rowsOps) delete(ctx context.Context, table, id string) error {
	if err := o.checkTable(table); err != nil {
		return err
	}
	db := sqlFlavor.NewDeleteBuilder()
	db.DeleteFrom(table).Where(db.Equal("id", id))

	query, args := db.Build()
	res, err := o.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (o rowsOps) query(ctx context.Context, query string, args ...interface{}) ([]model.Row, error) {
	rows, err := o.q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Row, 0)
	for rows.Next() {
		m := make(map[string]interface{})
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		out = append(out, normalizeRow(m))
	}
	return out, rows.Err()
}

// normalizeRow turns driver byte slices (numeric, uuid, json) into strings so
// rows serialize as readable JSON and insert back unchanged.
func normalizeRow(m map[string]interface{}) model.Row {
	row := make(model.Row, len(m))
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
			continue
		}
		row[k] = v
	}
	return row
}

// toSQLValue flattens nested JSON values, which only appear for json columns.
func toSQLValue(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case json.Number:
		return x.String(), nil
	}
	return v, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
