// Package clinical は診療記録（診療エピソード・検査・処置・疾患）の読み書きを提供する。
// 読み取りはフェデレーション収集を通じて全拠点を対象とし、書き込みは自拠点のローカルストアのみを対象とする。
package clinical

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/hcegateway/internal/federation"
	"github.com/hitoshi/hcegateway/internal/model"
	"github.com/hitoshi/hcegateway/internal/security"
)

// Gatherer はフェデレーション収集のインターフェース。
type Gatherer interface {
	Gather(ctx context.Context, rt model.ResourceType, filter model.Filter) ([]model.Record, error)
}

// Writer はローカルストアの書き込みインターフェース。
type Writer interface {
	Create(ctx context.Context, table string, rec model.Record) (model.Record, error)
	Update(ctx context.Context, table string, filter model.Filter, patch model.Record) ([]model.Record, error)
}

// recordKind は診療記録の種別ごとの定義。
type recordKind struct {
	label    string
	required []string
}

var recordKinds = map[model.ResourceType]recordKind{
	model.ResourceClinicalEpisode: {
		label:    "診療記録",
		required: []string{model.FieldPatientID, model.FieldPractitionerID, model.FieldDate},
	},
	model.ResourceExam: {
		label:    "検査",
		required: []string{model.FieldEpisodeID},
	},
	model.ResourceProcedure: {
		label:    "処置",
		required: []string{model.FieldEpisodeID},
	},
	model.ResourceDisease: {
		label:    "疾患",
		required: []string{model.FieldEpisodeID},
	},
}

// Service は診療記録のビジネスロジックを提供する。
type Service struct {
	gatherer  Gatherer
	writer    Writer
	policy    *federation.Policy
	sanitizer security.TextSanitizer
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(gatherer Gatherer, writer Writer, policy *federation.Policy, sanitizer security.TextSanitizer, logger *slog.Logger) *Service {
	return &Service{
		gatherer:  gatherer,
		writer:    writer,
		policy:    policy,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// EpisodesOfPatient は患者の診療エピソードを全拠点から収集し、日付の新しい順に返す。
func (s *Service) EpisodesOfPatient(ctx context.Context, patientID int64) ([]model.Record, error) {
	episodes, err := s.gatherer.Gather(ctx, model.ResourceClinicalEpisode, model.EqFilter(model.FieldPatientID, patientID))
	if err != nil {
		return nil, err
	}
	sortByDateDesc(episodes)
	return episodes, nil
}

// Episode は指定IDの診療エピソードを返す。どの拠点にも存在しない場合は NotFound を返す。
func (s *Service) Episode(ctx context.Context, id int64) (model.Record, error) {
	return s.get(ctx, model.ResourceClinicalEpisode, id)
}

// Exam は指定IDの検査を返す。
func (s *Service) Exam(ctx context.Context, id int64) (model.Record, error) {
	return s.get(ctx, model.ResourceExam, id)
}

// Procedure は指定IDの処置を返す。
func (s *Service) Procedure(ctx context.Context, id int64) (model.Record, error) {
	return s.get(ctx, model.ResourceProcedure, id)
}

// ChildrenOfEpisode は診療エピソードに紐づく検査・処置・疾患を全拠点から収集する。
func (s *Service) ChildrenOfEpisode(ctx context.Context, rt model.ResourceType, episodeID int64) ([]model.Record, error) {
	if rt == model.ResourceClinicalEpisode {
		return nil, model.NewInvalidRequestError("診療エピソードの子レコード種別ではありません")
	}
	if _, err := s.resource(rt); err != nil {
		return nil, err
	}
	return s.gatherer.Gather(ctx, rt, model.EqFilter(model.FieldEpisodeID, episodeID))
}

// Create は診療記録を自拠点のローカルストアに作成する。
// 自由記述欄はサニタイズされ、クライアント指定のIDとoriginは無視される。
func (s *Service) Create(ctx context.Context, rt model.ResourceType, input model.Record) (model.Record, error) {
	res, err := s.resource(rt)
	if err != nil {
		return nil, err
	}

	kind := recordKinds[rt]
	for _, f := range kind.required {
		if input.String(f) == "" {
			return nil, model.NewInvalidRequestError(fmt.Sprintf("%s は必須です", f))
		}
	}

	rec := s.sanitizer.SanitizeRecord(input.Without(res.IDField, model.FieldOrigin))
	created, err := s.writer.Create(ctx, res.Table, rec)
	if errors.Is(err, model.ErrConflict) {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("%sが既存のレコードと競合しています", kind.label))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", rt, err)
	}

	id, _ := created.Int64(res.IDField)
	s.logger.Info("clinical record created",
		slog.String("resource", string(rt)),
		slog.Int64("id", id),
	)
	return created, nil
}

// UpdateEpisode は自拠点の診療エピソードを部分更新する。
// 他拠点のエピソードは更新できず、NotFound となる。
func (s *Service) UpdateEpisode(ctx context.Context, id int64, patch model.Record) (model.Record, error) {
	res, err := s.resource(model.ResourceClinicalEpisode)
	if err != nil {
		return nil, err
	}

	rec := s.sanitizer.SanitizeRecord(patch.Without(res.IDField, model.FieldOrigin))
	if len(rec) == 0 {
		return nil, model.NewInvalidRequestError("更新する項目がありません")
	}

	updated, err := s.writer.Update(ctx, res.Table, model.EqFilter(res.IDField, id), rec)
	if err != nil {
		return nil, fmt.Errorf("failed to update episode %d: %w", id, err)
	}
	if len(updated) == 0 {
		return nil, model.NewNotFoundError(recordKinds[model.ResourceClinicalEpisode].label, id)
	}
	return updated[0], nil
}

// ClinicalID は患者IDから表示用の臨床IDを生成する。
func ClinicalID(patientID int64) string {
	return fmt.Sprintf("HC-%08d", patientID)
}

func (s *Service) get(ctx context.Context, rt model.ResourceType, id int64) (model.Record, error) {
	res, err := s.resource(rt)
	if err != nil {
		return nil, err
	}
	records, err := s.gatherer.Gather(ctx, rt, model.EqFilter(res.IDField, id))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.NewNotFoundError(recordKinds[rt].label, id)
	}
	return records[0], nil
}

// resource は診療記録系のリソース定義を返す。
func (s *Service) resource(rt model.ResourceType) (federation.Resource, error) {
	if _, ok := recordKinds[rt]; !ok {
		return federation.Resource{}, model.NewInvalidRequestError(fmt.Sprintf("診療記録の種別ではありません: %s", rt))
	}
	res, ok := s.policy.Lookup(rt)
	if !ok {
		return federation.Resource{}, fmt.Errorf("%w: %s", federation.ErrUnknownResource, rt)
	}
	return res, nil
}

// sortByDateDesc は日付の新しい順に並べ替える。同日のレコードは収集順を保つ。
func sortByDateDesc(records []model.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return dateOf(records[i]) > dateOf(records[j])
	})
}

// dateOf はfechaの日付部分 (YYYY-MM-DD) を返す。
// タイムスタンプ形式で返す拠点があっても比較できるよう先頭10文字に切り詰める。
func dateOf(rec model.Record) string {
	d := rec.String(model.FieldDate)
	if len(d) > 10 {
		d = d[:10]
	}
	return d
}
