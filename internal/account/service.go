// Package account は患者・医師・受付担当のアカウント（プリンシパル）管理を提供する。
// アカウント系テーブルはローカル専用であり、読み書きとも自拠点のローカルストアのみを対象とする。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/hcegateway/internal/federation"
	"github.com/hitoshi/hcegateway/internal/model"
	"github.com/hitoshi/hcegateway/internal/security"
)

// Gatherer はフェデレーション収集のインターフェース。
type Gatherer interface {
	Gather(ctx context.Context, rt model.ResourceType, filter model.Filter) ([]model.Record, error)
}

// LocalStore は自拠点のローカルストアのインターフェース。
// ユーザー名の重複確認と書き込みに使う。
type LocalStore interface {
	Find(ctx context.Context, table string, filter model.Filter) ([]model.Record, error)
	Create(ctx context.Context, table string, rec model.Record) (model.Record, error)
	Update(ctx context.Context, table string, filter model.Filter, patch model.Record) ([]model.Record, error)
}

// Hasher はパスワードハッシュ化のインターフェース。
type Hasher interface {
	Hash(plain string) (string, error)
}

// PatientMirror は患者情報の外部ミラーのインターフェース。
type PatientMirror interface {
	MirrorPatient(ctx context.Context, rec model.Record) error
}

// accountLabels はエラーメッセージ用のアカウント種別名。
var accountLabels = map[model.ResourceType]string{
	model.ResourcePatient:         "患者",
	model.ResourcePractitioner:    "医師",
	model.ResourceAdmissionsStaff: "受付担当",
}

// identityResources はユーザー名の重複確認対象。ログイン時の探索対象と同じ。
var identityResources = []model.ResourceType{
	model.ResourceAdmissionsStaff,
	model.ResourcePractitioner,
	model.ResourcePatient,
}

// Service はアカウント管理のビジネスロジックを提供する。
type Service struct {
	gatherer  Gatherer
	store     LocalStore
	policy    *federation.Policy
	hasher    Hasher
	sanitizer security.TextSanitizer
	mirror    PatientMirror
	logger    *slog.Logger
}

// NewService はServiceを生成する。mirrorはnil可。
func NewService(
	gatherer Gatherer,
	store LocalStore,
	policy *federation.Policy,
	hasher Hasher,
	sanitizer security.TextSanitizer,
	mirror PatientMirror,
	logger *slog.Logger,
) *Service {
	return &Service{
		gatherer:  gatherer,
		store:     store,
		policy:    policy,
		hasher:    hasher,
		sanitizer: sanitizer,
		mirror:    mirror,
		logger:    logger,
	}
}

// Create はアカウントを作成する。
//
// 無害化後のユーザー名がいずれかのアカウント系テーブルに既に存在する場合は
// 書き込みを行わずに DuplicateIdentity を返す。パスワードはハッシュ化して保存し、
// 応答からは除外する。患者の場合は作成後にFHIRサーバーへベストエフォートでミラーする。
func (s *Service) Create(ctx context.Context, rt model.ResourceType, input model.Record) (model.Record, error) {
	res, err := s.resource(rt)
	if err != nil {
		return nil, err
	}

	rec := s.sanitizer.SanitizeRecord(input.Without(res.IDField, model.FieldOrigin), model.FieldCredential)
	username := rec.String(model.FieldUsername)
	password := rec.String(model.FieldCredential)
	if username == "" || password == "" {
		return nil, model.NewInvalidRequestError("usuario と contrasena は必須です")
	}

	taken, err := s.usernameTaken(ctx, username, rt, 0)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, model.NewDuplicateIdentityError(username)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	rec[model.FieldCredential] = hash

	created, err := s.store.Create(ctx, res.Table, rec)
	if errors.Is(err, model.ErrConflict) {
		return nil, model.NewDuplicateIdentityError(username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", rt, err)
	}

	id, _ := created.Int64(res.IDField)
	s.logger.Info("account created",
		slog.String("resource", string(rt)),
		slog.Int64("id", id),
	)

	if rt == model.ResourcePatient && s.mirror != nil {
		if err := s.mirror.MirrorPatient(context.WithoutCancel(ctx), created); err != nil {
			s.logger.Warn("FHIR patient mirror failed",
				slog.Int64("id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	return redact(created), nil
}

// Get は指定IDのアカウントを返す。存在しない場合は NotFound を返す。
func (s *Service) Get(ctx context.Context, rt model.ResourceType, id int64) (model.Record, error) {
	res, err := s.resource(rt)
	if err != nil {
		return nil, err
	}

	records, err := s.gatherer.Gather(ctx, rt, model.EqFilter(res.IDField, id))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.NewNotFoundError(accountLabels[rt], id)
	}
	return redact(records[0]), nil
}

// List はアカウント一覧を返す。
func (s *Service) List(ctx context.Context, rt model.ResourceType) ([]model.Record, error) {
	if _, err := s.resource(rt); err != nil {
		return nil, err
	}

	records, err := s.gatherer.Gather(ctx, rt, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		out = append(out, redact(r))
	}
	return out, nil
}

// Update はアカウントを部分更新する。IDは変更できない。
// パスワードが含まれる場合はハッシュ化し、ユーザー名を変更する場合は重複を確認する。
func (s *Service) Update(ctx context.Context, rt model.ResourceType, id int64, patch model.Record) (model.Record, error) {
	res, err := s.resource(rt)
	if err != nil {
		return nil, err
	}

	rec := s.sanitizer.SanitizeRecord(patch.Without(res.IDField, model.FieldOrigin), model.FieldCredential)
	if len(rec) == 0 {
		return nil, model.NewInvalidRequestError("更新する項目がありません")
	}

	if _, ok := rec[model.FieldUsername]; ok {
		name := rec.String(model.FieldUsername)
		if name == "" {
			return nil, model.NewInvalidRequestError("usuario は空にできません")
		}
		taken, err := s.usernameTaken(ctx, name, rt, id)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, model.NewDuplicateIdentityError(name)
		}
	}

	if _, ok := rec[model.FieldCredential]; ok {
		plain := rec.String(model.FieldCredential)
		if plain == "" {
			return nil, model.NewInvalidRequestError("contrasena は空にできません")
		}
		hash, err := s.hasher.Hash(plain)
		if err != nil {
			return nil, err
		}
		rec[model.FieldCredential] = hash
	}

	updated, err := s.store.Update(ctx, res.Table, model.EqFilter(res.IDField, id), rec)
	if errors.Is(err, model.ErrConflict) {
		return nil, model.NewDuplicateIdentityError(rec.String(model.FieldUsername))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %d: %w", rt, id, err)
	}
	if len(updated) == 0 {
		return nil, model.NewNotFoundError(accountLabels[rt], id)
	}
	return redact(updated[0]), nil
}

// usernameTaken はユーザー名がローカルのアカウント系テーブルに存在するかを確認する。
// 読み取りに失敗した場合は重複なしとみなさずエラーを返す。
// selfIDが0でなければ、同じ種別の同一IDのレコードは重複とみなさない。
func (s *Service) usernameTaken(ctx context.Context, username string, self model.ResourceType, selfID int64) (bool, error) {
	filter := model.EqFilter(model.FieldUsername, username)
	for _, rt := range identityResources {
		res, ok := s.policy.Lookup(rt)
		if !ok {
			return false, fmt.Errorf("%w: %s", federation.ErrUnknownResource, rt)
		}
		records, err := s.store.Find(ctx, res.Table, filter)
		if err != nil {
			return false, fmt.Errorf("failed to check username in %s: %w", res.Table, err)
		}
		for _, r := range records {
			if rt == self && selfID != 0 {
				if id, ok := r.Int64(res.IDField); ok && id == selfID {
					continue
				}
			}
			return true, nil
		}
	}
	return false, nil
}

// resource はアカウント系のリソース定義を返す。
func (s *Service) resource(rt model.ResourceType) (federation.Resource, error) {
	if _, ok := accountLabels[rt]; !ok {
		return federation.Resource{}, model.NewInvalidRequestError(fmt.Sprintf("アカウント種別ではありません: %s", rt))
	}
	res, ok := s.policy.Lookup(rt)
	if !ok || res.Federated() {
		return federation.Resource{}, fmt.Errorf("%w: %s", federation.ErrUnknownResource, rt)
	}
	return res, nil
}

// redact は応答からパスワードハッシュを除去する。
func redact(rec model.Record) model.Record {
	return rec.Without(model.FieldCredential)
}
