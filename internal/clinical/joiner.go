package clinical

import (
	"context"
	"log/slog"

	"github.com/hitoshi/hcegateway/internal/model"
)

// FieldLastVisit は医師の担当患者一覧で最終受診日を表すフィールド名。
const FieldLastVisit = "ultima_consulta"

// Joiner は複数のフェデレーション収集結果を突き合わせる検索を提供する。
type Joiner struct {
	gatherer Gatherer
	logger   *slog.Logger
}

// NewJoiner はJoinerを生成する。
func NewJoiner(gatherer Gatherer, logger *slog.Logger) *Joiner {
	return &Joiner{
		gatherer: gatherer,
		logger:   logger,
	}
}

// SearchExams は患者の期間内の診療エピソードに紐づく検査を全拠点から検索する。
// 各検査には親エピソードの日付と、基準範囲に基づく estado (Normal/Abnormal) が付与される。
func (j *Joiner) SearchExams(ctx context.Context, patientID int64, from, to string) ([]model.Record, error) {
	return j.searchChildren(ctx, model.ResourceExam, patientID, from, to)
}

// SearchProcedures は患者の期間内の診療エピソードに紐づく処置を全拠点から検索する。
func (j *Joiner) SearchProcedures(ctx context.Context, patientID int64, from, to string) ([]model.Record, error) {
	return j.searchChildren(ctx, model.ResourceProcedure, patientID, from, to)
}

// searchChildren はエピソードを収集・絞り込みし、該当する子レコードを結合する。
// 期間は両端を含み、YYYY-MM-DD 形式の文字列として辞書順で比較する。
// 該当するエピソードがない場合は子レコードの収集を行わない。
func (j *Joiner) searchChildren(ctx context.Context, rt model.ResourceType, patientID int64, from, to string) ([]model.Record, error) {
	episodes, err := j.gatherer.Gather(ctx, model.ResourceClinicalEpisode, nil)
	if err != nil {
		return nil, err
	}

	parents := newEpisodeIndex()
	for _, ep := range episodes {
		pid, ok := ep.Int64(model.FieldPatientID)
		if !ok || pid != patientID {
			continue
		}
		d := dateOf(ep)
		if d < from || d > to {
			continue
		}
		parents.add(ep)
	}

	if parents.empty() {
		return []model.Record{}, nil
	}

	children, err := j.gatherer.Gather(ctx, rt, nil)
	if err != nil {
		return nil, err
	}

	out := make([]model.Record, 0, len(children))
	for _, child := range children {
		parent, ok := parents.lookup(child)
		if !ok {
			continue
		}
		joined := child.Clone()
		joined[model.FieldDate] = dateOf(parent)
		joined[model.FieldPatientID] = patientID
		if rt == model.ResourceExam {
			joined[model.FieldStatus] = examStatus(child)
		}
		out = append(out, joined)
	}

	j.logger.Debug("enrichment join completed",
		slog.String("resource", string(rt)),
		slog.Int64("patient", patientID),
		slog.Int("episodes", parents.size()),
		slog.Int("children", len(out)),
	)
	return out, nil
}

// PatientsOfPractitioner は医師が診療した患者の一覧を返す。
// エピソードは日付の新しい順に並べ、患者ごとに最初（最新）のエピソードの年齢と日付を採用する。
// 患者情報は自拠点の患者テーブルと結合し、患者テーブルの順に返す。
// 患者IDは拠点ごとに採番されるため、結合には自拠点由来のエピソードのみを使う。
func (j *Joiner) PatientsOfPractitioner(ctx context.Context, practitionerID int64) ([]model.Record, error) {
	episodes, err := j.gatherer.Gather(ctx, model.ResourceClinicalEpisode, model.EqFilter(model.FieldPractitionerID, practitionerID))
	if err != nil {
		return nil, err
	}
	sortByDateDesc(episodes)

	latest := make(map[int64]model.Record)
	for _, ep := range episodes {
		if ep.Origin() != model.OriginLocal {
			continue
		}
		pid, ok := ep.Int64(model.FieldPatientID)
		if !ok {
			continue
		}
		if _, seen := latest[pid]; !seen {
			latest[pid] = ep
		}
	}

	if len(latest) == 0 {
		return []model.Record{}, nil
	}

	patients, err := j.gatherer.Gather(ctx, model.ResourcePatient, nil)
	if err != nil {
		return nil, err
	}

	out := make([]model.Record, 0, len(latest))
	for _, p := range patients {
		pid, ok := p.Int64(model.FieldPatientID)
		if !ok {
			continue
		}
		ep, ok := latest[pid]
		if !ok {
			continue
		}
		joined := p.Without(model.FieldCredential)
		joined[model.FieldAge] = ep[model.FieldAge]
		joined[FieldLastVisit] = dateOf(ep)
		out = append(out, joined)
	}
	return out, nil
}

// examStatus は検査結果が基準範囲 [valor_bajo, valor_alto] 内なら Normal を返す。
// いずれかの値が数値として読めない場合は範囲内と確認できないため Abnormal とする。
func examStatus(exam model.Record) string {
	low, okLow := exam.Float(model.FieldLowBound)
	high, okHigh := exam.Float(model.FieldHighBound)
	result, okResult := exam.Float(model.FieldResult)
	if !okLow || !okHigh || !okResult {
		return model.ExamStatusAbnormal
	}
	if low <= result && result <= high {
		return model.ExamStatusNormal
	}
	return model.ExamStatusAbnormal
}

// episodeKey は拠点ごとに採番されるエピソードIDを拠点と組で識別する。
type episodeKey struct {
	origin string
	id     int64
}

// episodeIndex は絞り込み済みエピソードの索引。
// 子レコードと同じ拠点のエピソードを優先し、なければIDのみで最初に収集されたものを採用する。
type episodeIndex struct {
	byOrigin map[episodeKey]model.Record
	byID     map[int64]model.Record
}

func newEpisodeIndex() *episodeIndex {
	return &episodeIndex{
		byOrigin: make(map[episodeKey]model.Record),
		byID:     make(map[int64]model.Record),
	}
}

func (x *episodeIndex) add(ep model.Record) {
	id, ok := ep.Int64(model.FieldEpisodeID)
	if !ok {
		return
	}
	key := episodeKey{origin: ep.Origin(), id: id}
	if _, exists := x.byOrigin[key]; !exists {
		x.byOrigin[key] = ep
	}
	if _, exists := x.byID[id]; !exists {
		x.byID[id] = ep
	}
}

func (x *episodeIndex) lookup(child model.Record) (model.Record, bool) {
	id, ok := child.Int64(model.FieldEpisodeID)
	if !ok {
		return nil, false
	}
	if ep, ok := x.byOrigin[episodeKey{origin: child.Origin(), id: id}]; ok {
		return ep, true
	}
	ep, ok := x.byID[id]
	return ep, ok
}

func (x *episodeIndex) empty() bool { return len(x.byID) == 0 }

func (x *episodeIndex) size() int { return len(x.byID) }
