package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

const (
	ToolMedicationRegister    = "medication.register"
	ToolMedicationUpdate      = "medication.update"
	ToolMedicationRecordTaken = "medication.record_intake"
	ToolMedicationList        = "medication.list"
	ToolMedicationLastIntake  = "medication.last_intake"

	// UnspecifiedSchedule marks a medication registered implicitly by its
	// first logged intake.
	UnspecifiedSchedule = "unspecified"
)

type MedicationView struct {
	Name        string     `json:"name"`
	Dose        string     `json:"dose,omitempty"`
	Schedule    string     `json:"schedule"`
	TimesOfDay  []string   `json:"times_of_day,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	IntakeCount int        `json:"intake_count"`
	LastTakenAt *time.Time `json:"last_taken_at,omitempty"`
}

func viewOf(m statex.MedicationRecord) MedicationView {
	v := MedicationView{
		Name:        m.Name,
		Dose:        m.Dose.String(),
		Schedule:    m.Schedule,
		TimesOfDay:  m.TimesOfDay,
		Notes:       m.Notes,
		IntakeCount: len(m.Intakes),
	}
	if last, ok := m.LastIntake(); ok {
		at := last.TakenAt
		v.LastTakenAt = &at
	}
	return v
}

type MedicationSaved struct {
	Medication MedicationView `json:"medication"`
	Action     string         `json:"action"`
}

func (r MedicationSaved) Summary() string {
	return fmt.Sprintf("%s %s (%s, %s).", r.Medication.Name, r.Action, orDash(r.Medication.Dose), r.Medication.Schedule)
}

type IntakeRecorded struct {
	Medication     string    `json:"medication"`
	TakenAt        time.Time `json:"taken_at"`
	Dose           string    `json:"dose,omitempty"`
	AutoRegistered bool      `json:"auto_registered"`
	IntakeCount    int       `json:"intake_count"`
}

func (r IntakeRecorded) Summary() string {
	s := fmt.Sprintf("Recorded %s", r.Medication)
	if r.Dose != "" {
		s += " " + r.Dose
	}
	s += " taken at " + r.TakenAt.Format(time.RFC3339) + "."
	if r.AutoRegistered {
		s += " The medication was added to the list without a schedule."
	}
	return s
}

type MedicationList struct {
	Count       int              `json:"count"`
	Medications []MedicationView `json:"medications"`
}

func (r MedicationList) Summary() string {
	if r.Count == 0 {
		return "No medications are registered."
	}
	names := make([]string, 0, len(r.Medications))
	for _, m := range r.Medications {
		names = append(names, m.Name)
	}
	return fmt.Sprintf("%d medication(s): %s.", r.Count, strings.Join(names, ", "))
}

type LastIntake struct {
	Medication string     `json:"medication"`
	NeverTaken bool       `json:"never_taken"`
	TakenAt    *time.Time `json:"taken_at,omitempty"`
	Dose       string     `json:"dose,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

func (r LastIntake) Summary() string {
	if r.NeverTaken || r.TakenAt == nil {
		return fmt.Sprintf("%s is registered but no intake has been logged.", r.Medication)
	}
	return fmt.Sprintf("%s was last taken at %s.", r.Medication, r.TakenAt.Format(time.RFC3339))
}

// Medication registers medications and logs intakes.
type Medication struct {
	sealed
	store statex.Store
}

func NewMedication(store statex.Store) *Medication {
	return &Medication{store: store}
}

func (m *Medication) Kind() contractx.CapabilityKind {
	return contractx.CapabilityMedication
}

func (m *Medication) Specs() []contractx.ToolSpec {
	name := &schema.ParameterInfo{Type: schema.String, Desc: "Medication name, e.g. Lisinopril", Required: true}
	times := &schema.ParameterInfo{
		Type:     schema.Array,
		Desc:     "Clock times the doses are due, 24h HH:MM",
		ElemInfo: &schema.ParameterInfo{Type: schema.String},
	}
	notes := &schema.ParameterInfo{Type: schema.String, Desc: "Free-text notes"}

	return []contractx.ToolSpec{
		{
			Name: ToolMedicationRegister,
			Desc: "Register a new medication with its dose and schedule.",
			Params: map[string]*schema.ParameterInfo{
				"name":          name,
				"dose_quantity": {Type: schema.Number, Desc: "Dose amount, e.g. 10", Required: true},
				"dose_unit":     {Type: schema.String, Desc: "Dose unit, e.g. mg", Required: true},
				"schedule":      {Type: schema.String, Desc: "Frequency, e.g. once daily, twice daily, every 8 hours, as needed", Required: true},
				"times_of_day":  times,
				"notes":         notes,
			},
		},
		{
			Name: ToolMedicationUpdate,
			Desc: "Change the dose, schedule, times or notes of a registered medication.",
			Params: map[string]*schema.ParameterInfo{
				"name":          name,
				"dose_quantity": {Type: schema.Number, Desc: "New dose amount"},
				"dose_unit":     {Type: schema.String, Desc: "New dose unit"},
				"schedule":      {Type: schema.String, Desc: "New frequency"},
				"times_of_day":  times,
				"notes":         notes,
			},
		},
		{
			Name: ToolMedicationRecordTaken,
			Desc: "Log that the patient took a medication. Unknown medications are added automatically.",
			Params: map[string]*schema.ParameterInfo{
				"name":          name,
				"dose_quantity": {Type: schema.Number, Desc: "Dose taken when different from the registered dose"},
				"dose_unit":     {Type: schema.String, Desc: "Unit of dose_quantity"},
				"taken_at":      {Type: schema.String, Desc: "When it was taken, RFC3339; defaults to now"},
				"notes":         notes,
			},
		},
		{
			Name:   ToolMedicationList,
			Desc:   "List the patient's registered medications.",
			Params: map[string]*schema.ParameterInfo{},
		},
		{
			Name: ToolMedicationLastIntake,
			Desc: "Return when a registered medication was last taken.",
			Params: map[string]*schema.ParameterInfo{
				"name": name,
			},
		},
	}
}

func (m *Medication) Invoke(ctx context.Context, call Call) (any, error) {
	switch call.Tool {
	case ToolMedicationRegister:
		return m.register(ctx, call)
	case ToolMedicationUpdate:
		return m.update(ctx, call)
	case ToolMedicationRecordTaken:
		return m.recordIntake(ctx, call)
	case ToolMedicationList:
		return m.list(ctx, call)
	case ToolMedicationLastIntake:
		return m.lastIntake(ctx, call)
	default:
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, call.Tool)
	}
}

func (m *Medication) register(ctx context.Context, call Call) (any, error) {
	qty, _ := call.Args.Float("dose_quantity")
	if qty < 0 {
		return nil, fmt.Errorf("%w: dose_quantity must not be negative", contractx.ErrOutOfRange)
	}
	rec := &statex.MedicationRecord{
		ID:           uuid.NewString(),
		PatientID:    call.PatientID,
		Name:         strings.TrimSpace(call.Args.String("name")),
		Dose:         statex.Dose{Quantity: qty, Unit: call.Args.String("dose_unit")},
		Schedule:     call.Args.String("schedule"),
		TimesOfDay:   stringList(call.Args, "times_of_day"),
		Notes:        call.Args.String("notes"),
		RegisteredAt: call.Now,
		UpdatedAt:    call.Now,
	}
	if len(rec.TimesOfDay) == 0 {
		rec.TimesOfDay = nil
	}
	if err := m.store.AddMedication(ctx, rec); err != nil {
		return nil, err
	}
	return MedicationSaved{Medication: viewOf(*rec), Action: "registered"}, nil
}

func (m *Medication) update(ctx context.Context, call Call) (any, error) {
	var patch statex.MedicationPatch
	changed := false

	if call.Args.Has("dose_quantity") || call.Args.Has("dose_unit") {
		current, err := m.store.GetMedication(ctx, call.PatientID, call.Args.String("name"))
		if err != nil {
			return nil, err
		}
		dose := current.Dose
		if qty, ok := call.Args.Float("dose_quantity"); ok {
			if qty < 0 {
				return nil, fmt.Errorf("%w: dose_quantity must not be negative", contractx.ErrOutOfRange)
			}
			dose.Quantity = qty
		}
		if call.Args.Has("dose_unit") {
			dose.Unit = call.Args.String("dose_unit")
		}
		patch.Dose = &dose
		changed = true
	}
	if call.Args.Has("schedule") {
		s := call.Args.String("schedule")
		patch.Schedule = &s
		changed = true
	}
	if call.Args.Has("times_of_day") {
		patch.TimesOfDay = stringList(call.Args, "times_of_day")
		changed = true
	}
	if call.Args.Has("notes") {
		n := call.Args.String("notes")
		patch.Notes = &n
		changed = true
	}
	if !changed {
		return nil, fmt.Errorf("%w: nothing to update, pass dose_quantity, dose_unit, schedule, times_of_day or notes", contractx.ErrInvalidArguments)
	}

	rec, err := m.store.UpdateMedication(ctx, call.PatientID, call.Args.String("name"), patch, call.Now)
	if err != nil {
		return nil, err
	}
	return MedicationSaved{Medication: viewOf(*rec), Action: "updated"}, nil
}

func (m *Medication) recordIntake(ctx context.Context, call Call) (any, error) {
	name := strings.TrimSpace(call.Args.String("name"))
	takenAt, err := timeArg(call.Args, "taken_at", call.Now, call.Now, call.Location)
	if err != nil {
		return nil, err
	}
	if takenAt.After(call.Now.Add(time.Minute)) {
		return nil, fmt.Errorf("%w: taken_at %s is in the future", contractx.ErrOutOfRange, takenAt.Format(time.RFC3339))
	}

	var override *statex.Dose
	if qty, ok := call.Args.Float("dose_quantity"); ok {
		if qty < 0 {
			return nil, fmt.Errorf("%w: dose_quantity must not be negative", contractx.ErrOutOfRange)
		}
		override = &statex.Dose{Quantity: qty, Unit: call.Args.String("dose_unit")}
	}

	autoRegistered := false
	current, err := m.store.GetMedication(ctx, call.PatientID, name)
	switch {
	case errors.Is(err, statex.ErrMedicationNotFound):
		rec := &statex.MedicationRecord{
			ID:           uuid.NewString(),
			PatientID:    call.PatientID,
			Name:         name,
			Schedule:     UnspecifiedSchedule,
			RegisteredAt: call.Now,
			UpdatedAt:    call.Now,
		}
		if override != nil {
			rec.Dose = *override
		}
		if err := m.store.AddMedication(ctx, rec); err != nil && !errors.Is(err, statex.ErrMedicationExists) {
			return nil, err
		}
		autoRegistered = true
	case err != nil:
		return nil, err
	default:
		if override != nil && override.Unit == "" {
			override.Unit = current.Dose.Unit
		}
	}

	intake := statex.Intake{
		TakenAt:    takenAt,
		Dose:       override,
		Notes:      call.Args.String("notes"),
		RecordedAt: call.Now,
	}
	rec, err := m.store.AppendIntake(ctx, call.PatientID, name, intake)
	if err != nil {
		return nil, err
	}

	dose := rec.Dose.String()
	if override != nil {
		dose = override.String()
	}
	return IntakeRecorded{
		Medication:     rec.Name,
		TakenAt:        takenAt,
		Dose:           dose,
		AutoRegistered: autoRegistered,
		IntakeCount:    len(rec.Intakes),
	}, nil
}

func (m *Medication) list(ctx context.Context, call Call) (any, error) {
	meds, err := m.store.ListMedications(ctx, call.PatientID)
	if err != nil {
		return nil, err
	}
	out := MedicationList{Count: len(meds), Medications: make([]MedicationView, 0, len(meds))}
	for _, med := range meds {
		out.Medications = append(out.Medications, viewOf(med))
	}
	return out, nil
}

func (m *Medication) lastIntake(ctx context.Context, call Call) (any, error) {
	rec, err := m.store.GetMedication(ctx, call.PatientID, call.Args.String("name"))
	if err != nil {
		return nil, err
	}
	out := LastIntake{Medication: rec.Name}
	last, ok := rec.LastIntake()
	if !ok {
		out.NeverTaken = true
		return out, nil
	}
	at := last.TakenAt
	out.TakenAt = &at
	out.Notes = last.Notes
	out.Dose = rec.Dose.String()
	if last.Dose != nil {
		out.Dose = last.Dose.String()
	}
	return out, nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
