package model

import "time"

// ResourceType はゲートウェイが扱うリソース種別を表す。
// 値はリレーパス (/internal/relay/{resourceType}) にもそのまま使われる。
type ResourceType string

const (
	ResourcePatient         ResourceType = "patient"
	ResourcePractitioner    ResourceType = "practitioner"
	ResourceAdmissionsStaff ResourceType = "admissions-staff"
	ResourceClinicalEpisode ResourceType = "clinical-episode"
	ResourceExam            ResourceType = "exam"
	ResourceProcedure       ResourceType = "procedure"
	ResourceDisease         ResourceType = "disease"
)

// 診療記録のフィールド名
const (
	FieldPatientID      = "id_paciente"
	FieldPractitionerID = "id_doctor"
	FieldAdmissionsID   = "id_admisionista"
	FieldEpisodeID      = "id_historia_clinica"
	FieldExamID         = "id_examen"
	FieldProcedureID    = "id_procedimiento"
	FieldDiseaseID      = "id_enfermedad"
	FieldDate           = "fecha"
	FieldAge            = "edad"
	FieldLowBound       = "valor_bajo"
	FieldHighBound      = "valor_alto"
	FieldResult         = "resultado"
	FieldStatus         = "estado"
)

// 検査結果の派生ステータス
const (
	ExamStatusNormal   = "Normal"
	ExamStatusAbnormal = "Abnormal"
)

// Role はプリンシパルの種別を表す。
type Role string

const (
	RoleAdmissions Role = "admisionista"
	RolePhysician  Role = "medico"
	RolePatient    Role = "paciente"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmissions, RolePhysician, RolePatient:
		return true
	}
	return false
}

// TokenClaims はセッショントークンの検証結果を表す。
type TokenClaims struct {
	Subject   int64
	Role      Role
	ExpiresAt time.Time
}
