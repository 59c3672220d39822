package model

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
)

// Record はリソース種別の1行を表すフィールド名と値のマップ。
// ローカルストアのカラム名をそのままキーとして持つ。
type Record map[string]any

// 共通フィールド名
const (
	FieldOrigin     = "origin"
	FieldUsername   = "usuario"
	FieldCredential = "contrasena"
)

// OriginLocal は自拠点のローカルストア由来であることを示すoriginタグ値。
const OriginLocal = "local"

// Filter はローカルストアのフィルタ構文 (field=op.value) をそのまま保持する。
// リレー経由で他拠点へ転送されるため、クエリ文字列として表現する。
type Filter = url.Values

// EqFilter は field=eq.value の単一条件フィルタを生成する。
func EqFilter(field string, value any) Filter {
	return Filter{field: {"eq." + fmt.Sprint(value)}}
}

// Origin はレコードのoriginタグを返す。
func (r Record) Origin() string {
	return r.String(FieldOrigin)
}

// String は指定フィールドを文字列として返す。存在しない場合は空文字列を返す。
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// Int64 は指定フィールドを整数として返す。
// JSONデコード由来の json.Number や float64、数値文字列も受け付ける。
func (r Record) Int64(field string) (int64, bool) {
	switch t := r[field].(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// Float は指定フィールドを浮動小数点数として返す。
func (r Record) Float(field string) (float64, bool) {
	switch t := r[field].(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Clone はレコードの浅いコピーを返す。
func (r Record) Clone() Record {
	out := make(Record, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Without は指定フィールドを除いたコピーを返す。
func (r Record) Without(fields ...string) Record {
	out := r.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// DecodeRecords はJSON配列をレコード列としてデコードする。
// 数値は精度を保つため json.Number のまま保持する。
func DecodeRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
