package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/hcegateway/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresRecordStore はPostgreSQLへ直接接続するRecordStore実装。
// PostgRESTを介さずに同じフィルタ構文をSQLへ変換して実行する。
type PostgresRecordStore struct {
	db *sql.DB
}

// NewPostgresRecordStore はPostgresRecordStoreを生成する。
func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

// Find はテーブルをフィルタで検索する。order未指定時は主キー昇順。
func (s *PostgresRecordStore) Find(ctx context.Context, table string, filter model.Filter) ([]model.Record, error) {
	query, args, err := buildSelect(table, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Create はレコードを1件INSERTし、RETURNING * の結果を返す。
func (s *PostgresRecordStore) Create(ctx context.Context, table string, rec model.Record) (model.Record, error) {
	schema, ok := lookupSchema(table)
	if !ok {
		return nil, fmt.Errorf("unknown table: %s", table)
	}

	cols, err := sortedColumns(schema, rec)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no columns to insert into %s", table)
	}

	idents := make([]string, len(cols))
	holders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		idents[i] = pq.QuoteIdentifier(c)
		holders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = sqlValue(rec[c])
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pq.QuoteIdentifier(table), strings.Join(idents, ", "), strings.Join(holders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(table, "insert", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, translateError(table, "insert", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("insert into %s returned no row", table)
	}
	return records[0], nil
}

// Update はフィルタに一致するレコードをUPDATEし、更新後の行を返す。
// 条件なしの全件更新は拒否する。
func (s *PostgresRecordStore) Update(ctx context.Context, table string, filter model.Filter, patch model.Record) ([]model.Record, error) {
	schema, ok := lookupSchema(table)
	if !ok {
		return nil, fmt.Errorf("unknown table: %s", table)
	}

	cols, err := sortedColumns(schema, patch)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no columns to update in %s", table)
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(c), i+1)
		args = append(args, sqlValue(patch[c]))
	}

	where, whereArgs, err := buildWhere(schema, filter, len(cols)+1)
	if err != nil {
		return nil, err
	}
	if where == "" {
		return nil, fmt.Errorf("refusing to update %s without a filter", table)
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *",
		pq.QuoteIdentifier(table), strings.Join(sets, ", "), where)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(table, "update", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// buildSelect はSELECT文とパラメータを組み立てる。
func buildSelect(table string, filter model.Filter) (string, []any, error) {
	schema, ok := lookupSchema(table)
	if !ok {
		return "", nil, fmt.Errorf("unknown table: %s", table)
	}

	where, args, err := buildWhere(schema, filter, 1)
	if err != nil {
		return "", nil, err
	}
	order, err := buildOrder(schema, filter.Get("order"), tableColumns[table][0])
	if err != nil {
		return "", nil, err
	}
	limit, err := buildLimit(filter)
	if err != nil {
		return "", nil, err
	}

	return "SELECT * FROM " + pq.QuoteIdentifier(table) + where + order + limit, args, nil
}

// sortedColumns はレコードのキーを検証し、決定的な順序で返す。
func sortedColumns(schema tableSchema, rec model.Record) ([]string, error) {
	cols := make([]string, 0, len(rec))
	for k := range rec {
		if k == model.FieldOrigin {
			continue
		}
		if !schema.has(k) {
			return nil, fmt.Errorf("unknown column: %s", k)
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

// sqlValue はJSON由来の値をドライバが扱える型に変換する。
func sqlValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return v
	}
}

// scanRecords は任意のカラム構成の行をレコードへ変換する。
func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	records := []model.Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rec := make(model.Record, len(cols))
		for i, c := range cols {
			rec[c] = normalizeValue(vals[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return records, nil
}

// normalizeValue はドライバの値をPostgRESTと同じJSON表現に揃える。
// date型は YYYY-MM-DD 形式の文字列とする。
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.RFC3339Nano)
	default:
		return v
	}
}

// translateError は一意制約違反を model.ErrConflict に変換する。
func translateError(table, op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%w: %s %s: %s", model.ErrConflict, op, table, pqErr.Constraint)
	}
	return fmt.Errorf("failed to %s %s: %w", op, table, err)
}

// compile-time interface check
var _ RecordStore = (*PostgresRecordStore)(nil)
