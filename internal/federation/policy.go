// Package federation はリソース種別ごとのフェデレーションポリシーと、
// ローカルストアおよび連携拠点からの並行収集（ファンアウト）とマージを提供する。
package federation

import (
	"sort"

	"github.com/hitoshi/hcegateway/internal/model"
)

// Scope はリソース種別の読み取り範囲を表す。
type Scope int

const (
	// ScopeLocal はローカルストアのみを参照する（アカウント系テーブル）。
	ScopeLocal Scope = iota
	// ScopeFederated はローカルストアと全連携拠点から収集する（診療記録系テーブル）。
	ScopeFederated
)

// String はログ出力用のスコープ名を返す。
func (s Scope) String() string {
	if s == ScopeFederated {
		return "federated"
	}
	return "local"
}

// Resource はリソース種別とローカルストア上のテーブルの対応を表す。
type Resource struct {
	Type    model.ResourceType
	Table   string
	IDField string
	Scope   Scope
}

// Federated はリソースがフェデレーション対象かを返す。
func (r Resource) Federated() bool {
	return r.Scope == ScopeFederated
}

// Policy はリソース種別からフェデレーション可否への読み取り専用マッピング。
// リモート呼び出しを行うかどうかの唯一の判断基準となる。
type Policy struct {
	resources map[model.ResourceType]Resource
}

// defaultResources はコンパイル時に固定されたリソース表。
var defaultResources = []Resource{
	{Type: model.ResourcePatient, Table: "pacientes", IDField: model.FieldPatientID, Scope: ScopeLocal},
	{Type: model.ResourcePractitioner, Table: "doctores", IDField: model.FieldPractitionerID, Scope: ScopeLocal},
	{Type: model.ResourceAdmissionsStaff, Table: "admisionistas", IDField: model.FieldAdmissionsID, Scope: ScopeLocal},
	{Type: model.ResourceClinicalEpisode, Table: "historia_clinica", IDField: model.FieldEpisodeID, Scope: ScopeFederated},
	{Type: model.ResourceExam, Table: "examenes", IDField: model.FieldExamID, Scope: ScopeFederated},
	{Type: model.ResourceProcedure, Table: "procedimientos", IDField: model.FieldProcedureID, Scope: ScopeFederated},
	{Type: model.ResourceDisease, Table: "enfermedades", IDField: model.FieldDiseaseID, Scope: ScopeFederated},
}

// DefaultPolicy は標準のリソース表からPolicyを生成する。
func DefaultPolicy() *Policy {
	return NewPolicy(defaultResources...)
}

// NewPolicy は任意のリソース表からPolicyを生成する。
func NewPolicy(resources ...Resource) *Policy {
	m := make(map[model.ResourceType]Resource, len(resources))
	for _, r := range resources {
		m[r.Type] = r
	}
	return &Policy{resources: m}
}

// Lookup はリソース種別の定義を返す。未知の種別の場合はfalseを返す。
func (p *Policy) Lookup(rt model.ResourceType) (Resource, bool) {
	r, ok := p.resources[rt]
	return r, ok
}

// IsFederated はリソース種別がフェデレーション対象かを返す。
// 未知の種別はローカル扱いではなくfalseを返す。
func (p *Policy) IsFederated(rt model.ResourceType) bool {
	r, ok := p.resources[rt]
	return ok && r.Federated()
}

// Resources は種別名順のリソース一覧を返す。
func (p *Policy) Resources() []Resource {
	out := make([]Resource, 0, len(p.resources))
	for _, r := range p.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
