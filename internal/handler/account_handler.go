package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/hcegateway/internal/model"
)

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	Create(ctx context.Context, rt model.ResourceType, input model.Record) (model.Record, error)
	Get(ctx context.Context, rt model.ResourceType, id int64) (model.Record, error)
	List(ctx context.Context, rt model.ResourceType) ([]model.Record, error)
	Update(ctx context.Context, rt model.ResourceType, id int64, patch model.Record) (model.Record, error)
}

// accountKind はアカウント種別ごとの応答設定。
type accountKind struct {
	resource model.ResourceType
	idField  string
	created  string
}

var (
	patientAccount = accountKind{
		resource: model.ResourcePatient,
		idField:  model.FieldPatientID,
		created:  "患者を登録しました",
	}
	practitionerAccount = accountKind{
		resource: model.ResourcePractitioner,
		idField:  model.FieldPractitionerID,
		created:  "医師を登録しました",
	}
	admissionsAccount = accountKind{
		resource: model.ResourceAdmissionsStaff,
		idField:  model.FieldAdmissionsID,
		created:  "受付担当を登録しました",
	}
)

// AccountHandler は患者・医師・受付担当のアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service AccountServiceInterface
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface) *AccountHandler {
	return &AccountHandler{service: service}
}

// create は指定種別のアカウント作成ハンドラーを返す。
// 応答は {<id項目>: ID, mensaje} の形式。
func (h *AccountHandler) create(kind accountKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, ok := decodeRecord(w, r)
		if !ok {
			return
		}

		created, err := h.service.Create(r.Context(), kind.resource, input)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			kind.idField: created[kind.idField],
			"mensaje":    kind.created,
		})
	}
}

// list は指定種別のアカウント一覧ハンドラーを返す。
func (h *AccountHandler) list(kind accountKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := h.service.List(r.Context(), kind.resource)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeRecords(w, records)
	}
}

// get は指定種別のアカウント取得ハンドラーを返す。
func (h *AccountHandler) get(kind accountKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		rec, err := h.service.Get(r.Context(), kind.resource, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// RegisterPatient は患者を登録する。
// POST /api/pacientes
func (h *AccountHandler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	h.create(patientAccount)(w, r)
}

// ListPatients は自拠点の患者一覧を返す。
// GET /api/pacientes
func (h *AccountHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	h.list(patientAccount)(w, r)
}

// GetPatient は患者を返す。
// GET /api/pacientes/{id}
func (h *AccountHandler) GetPatient(w http.ResponseWriter, r *http.Request) {
	h.get(patientAccount)(w, r)
}

// UpdatePatient は患者情報を部分更新する。
// PUT /api/pacientes/{id}
func (h *AccountHandler) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	patch, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	if _, err := h.service.Update(r.Context(), model.ResourcePatient, id, patch); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Mensaje: "患者情報を更新しました"})
}

// CreatePractitioner は医師を登録する。
// POST /api/admin/doctores
func (h *AccountHandler) CreatePractitioner(w http.ResponseWriter, r *http.Request) {
	h.create(practitionerAccount)(w, r)
}

// ListPractitioners は医師一覧を返す。
// GET /api/admin/doctores
func (h *AccountHandler) ListPractitioners(w http.ResponseWriter, r *http.Request) {
	h.list(practitionerAccount)(w, r)
}

// GetPractitioner は医師を返す。
// GET /api/doctores/{id}
func (h *AccountHandler) GetPractitioner(w http.ResponseWriter, r *http.Request) {
	h.get(practitionerAccount)(w, r)
}

// CreateAdmissionsStaff は受付担当を登録する。
// POST /api/admin/admisionistas
func (h *AccountHandler) CreateAdmissionsStaff(w http.ResponseWriter, r *http.Request) {
	h.create(admissionsAccount)(w, r)
}

// ListAdmissionsStaff は受付担当一覧を返す。
// GET /api/admin/admisionistas
func (h *AccountHandler) ListAdmissionsStaff(w http.ResponseWriter, r *http.Request) {
	h.list(admissionsAccount)(w, r)
}
