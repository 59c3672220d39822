package repository

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/hcegateway/internal/model"
)

// reservedParams はカラム条件ではないPostgREST互換のクエリパラメータ。
var reservedParams = map[string]struct{}{
	"order":  {},
	"limit":  {},
	"offset": {},
	"select": {},
}

// comparisonOps はフィルタ演算子とSQL演算子の対応。
var comparisonOps = map[string]string{
	"eq":    "=",
	"neq":   "<>",
	"gt":    ">",
	"gte":   ">=",
	"lt":    "<",
	"lte":   "<=",
	"like":  "LIKE",
	"ilike": "ILIKE",
}

// buildWhere はフィルタからWHERE句を組み立てる。
// プレースホルダは $start から採番する。条件が無い場合は空文字列を返す。
func buildWhere(schema tableSchema, filter model.Filter, start int) (string, []any, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		if _, reserved := reservedParams[k]; reserved {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	var args []any
	n := start
	for _, col := range keys {
		if !schema.has(col) {
			return "", nil, fmt.Errorf("unknown filter column: %s", col)
		}
		for _, raw := range filter[col] {
			op, val, ok := strings.Cut(raw, ".")
			if !ok {
				return "", nil, fmt.Errorf("malformed filter for %s: %q", col, raw)
			}
			ident := pq.QuoteIdentifier(col)

			switch op {
			case "is":
				switch strings.ToLower(val) {
				case "null":
					conds = append(conds, ident+" IS NULL")
				case "true":
					conds = append(conds, ident+" IS TRUE")
				case "false":
					conds = append(conds, ident+" IS FALSE")
				default:
					return "", nil, fmt.Errorf("unsupported is value for %s: %q", col, val)
				}
			case "in":
				list := strings.TrimSuffix(strings.TrimPrefix(val, "("), ")")
				items := strings.Split(list, ",")
				for i := range items {
					items[i] = strings.TrimSpace(items[i])
				}
				conds = append(conds, fmt.Sprintf("%s = ANY($%d)", ident, n))
				args = append(args, pq.Array(items))
				n++
			default:
				sqlOp, known := comparisonOps[op]
				if !known {
					return "", nil, fmt.Errorf("unsupported filter operator for %s: %q", col, op)
				}
				if op == "like" || op == "ilike" {
					val = strings.ReplaceAll(val, "*", "%")
				}
				conds = append(conds, fmt.Sprintf("%s %s $%d", ident, sqlOp, n))
				args = append(args, val)
				n++
			}
		}
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// buildOrder は order=col.desc,col2.asc 形式からORDER BY句を組み立てる。
// 未指定の場合はfallbackカラムの昇順とする。
func buildOrder(schema tableSchema, raw, fallback string) (string, error) {
	if raw == "" {
		if fallback == "" {
			return "", nil
		}
		return " ORDER BY " + pq.QuoteIdentifier(fallback) + " ASC", nil
	}

	var terms []string
	for _, part := range strings.Split(raw, ",") {
		segs := strings.Split(strings.TrimSpace(part), ".")
		col := segs[0]
		if !schema.has(col) {
			return "", fmt.Errorf("unknown order column: %s", col)
		}
		term := pq.QuoteIdentifier(col)
		for _, mod := range segs[1:] {
			switch mod {
			case "asc":
				term += " ASC"
			case "desc":
				term += " DESC"
			case "nullsfirst":
				term += " NULLS FIRST"
			case "nullslast":
				term += " NULLS LAST"
			default:
				return "", fmt.Errorf("unsupported order modifier: %s", mod)
			}
		}
		terms = append(terms, term)
	}
	return " ORDER BY " + strings.Join(terms, ", "), nil
}

// buildLimit はlimit/offsetパラメータからLIMIT/OFFSET句を組み立てる。
func buildLimit(filter model.Filter) (string, error) {
	var clause string
	if v := filter.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid limit: %q", v)
		}
		clause += fmt.Sprintf(" LIMIT %d", n)
	}
	if v := filter.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid offset: %q", v)
		}
		clause += fmt.Sprintf(" OFFSET %d", n)
	}
	return clause, nil
}
