// Package repository はローカルストア（拠点ごとの正本データ）へのアクセスを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/hcegateway/internal/model"
)

// RecordStore はローカルストアのテーブル単位の読み書きインターフェース。
// フィルタはPostgREST互換の field=op.value 構文で表現する。
type RecordStore interface {
	// Find はテーブルをフィルタで検索し、ストアの返却順でレコードを返す。
	// 該当なしの場合は空スライスを返す。
	Find(ctx context.Context, table string, filter model.Filter) ([]model.Record, error)

	// Create はレコードを1件作成し、ストアが採番した値を含むレコードを返す。
	// 一意制約違反の場合は model.ErrConflict をラップしたエラーを返す。
	Create(ctx context.Context, table string, rec model.Record) (model.Record, error)

	// Update はフィルタに一致するレコードを部分更新し、更新後のレコードを返す。
	Update(ctx context.Context, table string, filter model.Filter, patch model.Record) ([]model.Record, error)
}
