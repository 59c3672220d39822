package repository

// tableColumns はローカルストアで扱うテーブルとカラムの許可リスト。
// 直接接続時のSQL組み立てでは、ここに無い識別子を拒否する。
var tableColumns = map[string][]string{
	"pacientes": {
		"id_paciente", "usuario", "contrasena", "nombres", "apellidos",
		"cedula", "email", "telefono", "direccion",
	},
	"doctores": {
		"id_doctor", "usuario", "contrasena", "nombres", "apellidos",
		"cedula", "especialidad", "celula", "email", "telefono",
		"id_estado_civil", "talentono", "direccion",
	},
	"admisionistas": {
		"id_admisionista", "usuario", "contrasena", "nombres", "apellidos",
		"cedula", "email", "telefono", "direccion",
	},
	"historia_clinica": {
		"id_historia_clinica", "id_paciente", "id_doctor", "fecha", "edad",
		"motivo", "estado_nutricion", "antecedentes_patologicos",
		"sintomas_presentes", "signos_presenciales", "tratamiento",
	},
	"examenes": {
		"id_examen", "id_historia_clinica", "nombre_examen", "descripcion",
		"valor_bajo", "valor_alto", "resultado", "valor", "fecha_registro",
	},
	"procedimientos": {
		"id_procedimiento", "id_historia_clinica", "nombre_procedimiento",
		"descripcion", "resultado", "fecha_registro",
	},
	"enfermedades": {
		"id_enfermedad", "id_historia_clinica", "nombre_enfermedad",
		"codigo", "descripcion",
	},
}

// tableSchema は1テーブル分のカラム集合。
type tableSchema map[string]struct{}

func (s tableSchema) has(column string) bool {
	_, ok := s[column]
	return ok
}

// lookupSchema はテーブルのカラム集合を返す。未登録のテーブルはfalse。
func lookupSchema(table string) (tableSchema, bool) {
	cols, ok := tableColumns[table]
	if !ok {
		return nil, false
	}
	s := make(tableSchema, len(cols))
	for _, c := range cols {
		s[c] = struct{}{}
	}
	return s, true
}
