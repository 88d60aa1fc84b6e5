package sqlstore

import (
	"strings"
	"time"

	"github.com/uptrace/bun"

	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

type patientModel struct {
	bun.BaseModel `bun:"table:patients"`

	ID          string    `bun:"id,pk"`
	DisplayName string    `bun:"display_name,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
}

type medicationModel struct {
	bun.BaseModel `bun:"table:medications"`

	ID           string    `bun:"id,pk"`
	PatientID    string    `bun:"patient_id,notnull,unique:medications_patient_name"`
	NameKey      string    `bun:"name_key,notnull,unique:medications_patient_name"`
	Name         string    `bun:"name,notnull"`
	DoseQuantity float64   `bun:"dose_quantity,notnull"`
	DoseUnit     string    `bun:"dose_unit,notnull"`
	Schedule     string    `bun:"schedule,notnull"`
	TimesOfDay   string    `bun:"times_of_day,notnull"`
	Notes        string    `bun:"notes,notnull"`
	RegisteredAt time.Time `bun:"registered_at,notnull"`
	UpdatedAt    time.Time `bun:"updated_at,notnull"`
}

type intakeModel struct {
	bun.BaseModel `bun:"table:medication_intakes"`

	Seq          int64     `bun:"seq,pk,autoincrement"`
	MedicationID string    `bun:"medication_id,notnull"`
	TakenAt      time.Time `bun:"taken_at,notnull"`
	HasDose      bool      `bun:"has_dose,notnull"`
	DoseQuantity float64   `bun:"dose_quantity,notnull"`
	DoseUnit     string    `bun:"dose_unit,notnull"`
	Notes        string    `bun:"notes,notnull"`
	RecordedAt   time.Time `bun:"recorded_at,notnull"`
}

type symptomModel struct {
	bun.BaseModel `bun:"table:symptom_entries"`

	Seq        int64     `bun:"seq,pk,autoincrement"`
	ID         string    `bun:"id,notnull,unique"`
	PatientID  string    `bun:"patient_id,notnull"`
	Label      string    `bun:"label,notnull"`
	Severity   float64   `bun:"severity,notnull"`
	ScaleMax   float64   `bun:"scale_max,notnull"`
	Note       string    `bun:"note,notnull"`
	RecordedAt time.Time `bun:"recorded_at,notnull"`
}

type turnModel struct {
	bun.BaseModel `bun:"table:conversation_turns"`

	Seq       int64     `bun:"seq,pk,autoincrement"`
	ID        string    `bun:"id,notnull,unique"`
	PatientID string    `bun:"patient_id,notnull"`
	Role      string    `bun:"role,notnull"`
	Text      string    `bun:"text,notnull"`
	DedupKey  string    `bun:"dedup_key,notnull"`
	Trace     string    `bun:"trace,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func toMedicationModel(m *statex.MedicationRecord) *medicationModel {
	return &medicationModel{
		ID:           m.ID,
		PatientID:    m.PatientID,
		NameKey:      statex.NameKey(m.Name),
		Name:         strings.TrimSpace(m.Name),
		DoseQuantity: m.Dose.Quantity,
		DoseUnit:     m.Dose.Unit,
		Schedule:     m.Schedule,
		TimesOfDay:   strings.Join(m.TimesOfDay, ","),
		Notes:        m.Notes,
		RegisteredAt: m.RegisteredAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func (m *medicationModel) toRecord(intakes []intakeModel) statex.MedicationRecord {
	rec := statex.MedicationRecord{
		ID:           m.ID,
		PatientID:    m.PatientID,
		Name:         m.Name,
		Dose:         statex.Dose{Quantity: m.DoseQuantity, Unit: m.DoseUnit},
		Schedule:     m.Schedule,
		Notes:        m.Notes,
		RegisteredAt: m.RegisteredAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
	if m.TimesOfDay != "" {
		rec.TimesOfDay = strings.Split(m.TimesOfDay, ",")
	}
	for _, in := range intakes {
		rec.Intakes = append(rec.Intakes, in.toIntake())
	}
	return rec
}

func (in intakeModel) toIntake() statex.Intake {
	out := statex.Intake{
		TakenAt:    in.TakenAt.UTC(),
		Notes:      in.Notes,
		RecordedAt: in.RecordedAt.UTC(),
	}
	if in.HasDose {
		out.Dose = &statex.Dose{Quantity: in.DoseQuantity, Unit: in.DoseUnit}
	}
	return out
}

func (s symptomModel) toEntry() statex.SymptomEntry {
	return statex.SymptomEntry{
		ID:         s.ID,
		PatientID:  s.PatientID,
		Label:      s.Label,
		Severity:   s.Severity,
		ScaleMax:   s.ScaleMax,
		Note:       s.Note,
		RecordedAt: s.RecordedAt.UTC(),
	}
}

func (t turnModel) toTurn() statex.ConversationTurn {
	out := statex.ConversationTurn{
		ID:        t.ID,
		PatientID: t.PatientID,
		Role:      statex.Role(t.Role),
		Text:      t.Text,
		DedupKey:  t.DedupKey,
		CreatedAt: t.CreatedAt.UTC(),
	}
	if t.Trace != "" {
		out.Trace = []byte(t.Trace)
	}
	return out
}
