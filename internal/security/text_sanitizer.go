// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は診療記録やアカウント情報の自由記述欄からマークアップを除去し、
// 保存前のレコードにHTMLやスクリプトが混入しないようにする。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/hcegateway/internal/model"
)

// maxSanitizePasses はエンティティ経由の多重エスケープを剥がす最大回数。
const maxSanitizePasses = 4

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Sanitize はすべてのタグを除去したプレーンテキストを返す。
	// "<" や "&" などの記号はエスケープせずにそのまま残す。
	Sanitize(text string) string

	// SanitizeRecord はレコードの文字列値をすべてサニタイズしたコピーを返す。
	// skipに指定したフィールドは変更しない。
	SanitizeRecord(rec model.Record, skip ...string) model.Record
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizer実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグ除去とエンティティ復元を出力が安定するまで繰り返す。
// "&lt;script&gt;" のようにエスケープされたタグも除去される。
func (s *textSanitizer) Sanitize(text string) string {
	out := text
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			return next
		}
		out = next
	}
	return out
}

// SanitizeRecord はレコードの文字列値をサニタイズしたコピーを返す。
func (s *textSanitizer) SanitizeRecord(rec model.Record, skip ...string) model.Record {
	skipped := make(map[string]struct{}, len(skip))
	for _, f := range skip {
		skipped[f] = struct{}{}
	}

	out := rec.Clone()
	for k, v := range out {
		if _, ok := skipped[k]; ok {
			continue
		}
		if str, ok := v.(string); ok {
			out[k] = s.Sanitize(str)
		}
	}
	return out
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
