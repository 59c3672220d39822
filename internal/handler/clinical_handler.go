package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/hcegateway/internal/clinical"
	"github.com/hitoshi/hcegateway/internal/model"
)

// dateLayout は検索期間パラメータの日付書式。
const dateLayout = "2006-01-02"

// ClinicalServiceInterface は診療記録ハンドラーが必要とするサービスインターフェース。
type ClinicalServiceInterface interface {
	EpisodesOfPatient(ctx context.Context, patientID int64) ([]model.Record, error)
	Episode(ctx context.Context, id int64) (model.Record, error)
	Exam(ctx context.Context, id int64) (model.Record, error)
	Procedure(ctx context.Context, id int64) (model.Record, error)
	ChildrenOfEpisode(ctx context.Context, rt model.ResourceType, episodeID int64) ([]model.Record, error)
	Create(ctx context.Context, rt model.ResourceType, input model.Record) (model.Record, error)
	UpdateEpisode(ctx context.Context, id int64, patch model.Record) (model.Record, error)
}

// EnrichmentInterface は結合検索のインターフェース。
type EnrichmentInterface interface {
	SearchExams(ctx context.Context, patientID int64, from, to string) ([]model.Record, error)
	SearchProcedures(ctx context.Context, patientID int64, from, to string) ([]model.Record, error)
	PatientsOfPractitioner(ctx context.Context, practitionerID int64) ([]model.Record, error)
}

// ClinicalHandler は診療記録のHTTPハンドラー。
type ClinicalHandler struct {
	service ClinicalServiceInterface
	joiner  EnrichmentInterface
}

// NewClinicalHandler はClinicalHandlerを生成する。
func NewClinicalHandler(service ClinicalServiceInterface, joiner EnrichmentInterface) *ClinicalHandler {
	return &ClinicalHandler{
		service: service,
		joiner:  joiner,
	}
}

// createdKind は作成応答のID項目とメッセージ。
type createdKind struct {
	idField string
	message string
}

var createdKinds = map[model.ResourceType]createdKind{
	model.ResourceClinicalEpisode: {idField: model.FieldEpisodeID, message: "診療記録を登録しました"},
	model.ResourceExam:            {idField: model.FieldExamID, message: "検査を登録しました"},
	model.ResourceProcedure:       {idField: model.FieldProcedureID, message: "処置を登録しました"},
	model.ResourceDisease:         {idField: model.FieldDiseaseID, message: "疾患を登録しました"},
}

// EpisodesOfPatient は患者の診療記録を全拠点から日付の新しい順に返す。
// GET /api/historia-clinica/{id}
func (h *ClinicalHandler) EpisodesOfPatient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	records, err := h.service.EpisodesOfPatient(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeRecords(w, records)
}

// GetEpisode は診療記録を1件返す。
// GET /api/historia-clinica/registro/{id}
func (h *ClinicalHandler) GetEpisode(w http.ResponseWriter, r *http.Request) {
	h.getOne(w, r, h.service.Episode)
}

// GetExam は検査を1件返す。
// GET /api/examenes/{id}
func (h *ClinicalHandler) GetExam(w http.ResponseWriter, r *http.Request) {
	h.getOne(w, r, h.service.Exam)
}

// GetProcedure は処置を1件返す。
// GET /api/procedimientos/{id}
func (h *ClinicalHandler) GetProcedure(w http.ResponseWriter, r *http.Request) {
	h.getOne(w, r, h.service.Procedure)
}

func (h *ClinicalHandler) getOne(w http.ResponseWriter, r *http.Request, fetch func(context.Context, int64) (model.Record, error)) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	rec, err := fetch(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ChildrenOfEpisode は診療記録に紐づく子レコード一覧のハンドラーを返す。
// GET /api/examenes/historia/{id}, /api/procedimientos/historia/{id}, /api/enfermedades/{id}
func (h *ClinicalHandler) ChildrenOfEpisode(rt model.ResourceType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		records, err := h.service.ChildrenOfEpisode(r.Context(), rt, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeRecords(w, records)
	}
}

// Create は診療記録の作成ハンドラーを返す。書き込みは自拠点のみ。
// POST /api/historia-clinica, /api/examenes, /api/procedimientos, /api/enfermedades
func (h *ClinicalHandler) Create(rt model.ResourceType) http.HandlerFunc {
	kind := createdKinds[rt]
	return func(w http.ResponseWriter, r *http.Request) {
		input, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		created, err := h.service.Create(r.Context(), rt, input)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			kind.idField: created[kind.idField],
			"mensaje":    kind.message,
		})
	}
}

// UpdateEpisode は自拠点の診療記録を部分更新する。
// PUT /api/historia-clinica/{id}
func (h *ClinicalHandler) UpdateEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	patch, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	if _, err := h.service.UpdateEpisode(r.Context(), id, patch); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Mensaje: "診療記録を更新しました"})
}

// SearchExams は患者と期間で検査を検索する。
// GET /api/examenes/buscar?id_paciente=&fecha_inicio=&fecha_fin=
func (h *ClinicalHandler) SearchExams(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, h.joiner.SearchExams)
}

// SearchProcedures は患者と期間で処置を検索する。
// GET /api/procedimientos/buscar?id_paciente=&fecha_inicio=&fecha_fin=
func (h *ClinicalHandler) SearchProcedures(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, h.joiner.SearchProcedures)
}

func (h *ClinicalHandler) search(w http.ResponseWriter, r *http.Request, find func(context.Context, int64, string, string) ([]model.Record, error)) {
	q := r.URL.Query()

	patientID, err := strconv.ParseInt(q.Get(model.FieldPatientID), 10, 64)
	if err != nil || patientID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("id_paciente は正の整数で指定してください"))
		return
	}
	from, ok := parseDateParam(w, q.Get("fecha_inicio"), "fecha_inicio")
	if !ok {
		return
	}
	to, ok := parseDateParam(w, q.Get("fecha_fin"), "fecha_fin")
	if !ok {
		return
	}
	if from > to {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("fecha_inicio は fecha_fin 以前を指定してください"))
		return
	}

	records, err := find(r.Context(), patientID, from, to)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeRecords(w, records)
}

// PatientsOfPractitioner は医師が診療した患者の一覧を返す。
// GET /api/doctores/{id}/pacientes
func (h *ClinicalHandler) PatientsOfPractitioner(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	records, err := h.joiner.PatientsOfPractitioner(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeRecords(w, records)
}

type clinicalIDRequest struct {
	IDPaciente int64 `json:"id_paciente"`
}

type clinicalIDResponse struct {
	IDClinico string `json:"id_clinico"`
}

// GenerateClinicalID は患者IDから臨床IDを生成する。
// POST /api/generar-id-clinico
func (h *ClinicalHandler) GenerateClinicalID(w http.ResponseWriter, r *http.Request) {
	var req clinicalIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IDPaciente <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("id_paciente は正の整数で指定してください"))
		return
	}
	writeJSON(w, http.StatusOK, clinicalIDResponse{IDClinico: clinical.ClinicalID(req.IDPaciente)})
}

// parseDateParam は YYYY-MM-DD 形式の日付パラメータを検証する。
func parseDateParam(w http.ResponseWriter, raw, name string) (string, bool) {
	if _, err := time.Parse(dateLayout, raw); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(fmt.Sprintf("%s は YYYY-MM-DD 形式で指定してください", name)))
		return "", false
	}
	return raw, true
}
