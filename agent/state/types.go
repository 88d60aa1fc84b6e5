package state

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

type Patient struct {
	ID          string    `json:"id" validate:"required,max=128"`
	DisplayName string    `json:"display_name" validate:"max=256"`
	CreatedAt   time.Time `json:"created_at" validate:"required"`
}

type Dose struct {
	Quantity float64 `json:"quantity" validate:"gte=0"`
	Unit     string  `json:"unit" validate:"max=32"`
}

func (d Dose) IsZero() bool {
	return d.Quantity == 0 && strings.TrimSpace(d.Unit) == ""
}

func (d Dose) String() string {
	if d.IsZero() {
		return ""
	}
	return strings.TrimSpace(formatQuantity(d.Quantity) + " " + d.Unit)
}

type Intake struct {
	TakenAt    time.Time `json:"taken_at" validate:"required"`
	Dose       *Dose     `json:"dose,omitempty"`
	Notes      string    `json:"notes,omitempty" validate:"max=1000"`
	RecordedAt time.Time `json:"recorded_at" validate:"required"`
}

// MedicationRecord owns the intake log of one medication. Intakes are kept in
// recording order.
type MedicationRecord struct {
	ID           string    `json:"id" validate:"required"`
	PatientID    string    `json:"patient_id" validate:"required"`
	Name         string    `json:"name" validate:"required,max=128"`
	Dose         Dose      `json:"dose"`
	Schedule     string    `json:"schedule" validate:"max=128"`
	TimesOfDay   []string  `json:"times_of_day,omitempty" validate:"dive,datetime=15:04"`
	Notes        string    `json:"notes,omitempty" validate:"max=1000"`
	RegisteredAt time.Time `json:"registered_at" validate:"required"`
	UpdatedAt    time.Time `json:"updated_at"`
	Intakes      []Intake  `json:"intakes,omitempty" validate:"dive"`
}

func (m *MedicationRecord) LastIntake() (Intake, bool) {
	if m == nil || len(m.Intakes) == 0 {
		return Intake{}, false
	}
	last := m.Intakes[0]
	for _, in := range m.Intakes[1:] {
		if in.TakenAt.After(last.TakenAt) {
			last = in
		}
	}
	return last, true
}

func (m MedicationRecord) Clone() MedicationRecord {
	out := m
	out.TimesOfDay = append([]string(nil), m.TimesOfDay...)
	out.Intakes = make([]Intake, len(m.Intakes))
	for i, in := range m.Intakes {
		out.Intakes[i] = in
		if in.Dose != nil {
			d := *in.Dose
			out.Intakes[i].Dose = &d
		}
	}
	return out
}

// MedicationPatch carries the optional fields of an update.
type MedicationPatch struct {
	Dose       *Dose
	Schedule   *string
	TimesOfDay []string
	Notes      *string
}

type SymptomEntry struct {
	ID         string    `json:"id" validate:"required"`
	PatientID  string    `json:"patient_id" validate:"required"`
	Label      string    `json:"label" validate:"required,max=128"`
	Severity   float64   `json:"severity" validate:"gte=0,ltefield=ScaleMax"`
	ScaleMax   float64   `json:"scale_max" validate:"gt=0"`
	Note       string    `json:"note,omitempty" validate:"max=1000"`
	RecordedAt time.Time `json:"recorded_at" validate:"required"`
}

type SymptomQuery struct {
	PatientID string
	Label     string
	From      time.Time
	To        time.Time
}

func (q SymptomQuery) Matches(e SymptomEntry) bool {
	if q.Label != "" && e.Label != q.Label {
		return false
	}
	if !q.From.IsZero() && e.RecordedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.RecordedAt.After(q.To) {
		return false
	}
	return true
}

type ConversationTurn struct {
	ID        string          `json:"id" validate:"required"`
	PatientID string          `json:"patient_id" validate:"required"`
	Role      Role            `json:"role" validate:"oneof=user agent"`
	Text      string          `json:"text" validate:"required"`
	DedupKey  string          `json:"dedup_key,omitempty" validate:"max=128"`
	Trace     json.RawMessage `json:"trace,omitempty"`
	CreatedAt time.Time       `json:"created_at" validate:"required"`
}

// NormalizeLabel lower-cases a symptom label and collapses inner whitespace.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// NameKey is the case-insensitive lookup key of a medication name.
func NameKey(name string) string {
	return NormalizeLabel(name)
}

// UserDedupKey and AgentDedupKey store the two turns of one request under
// role-prefixed keys, so a caller key never collides with a derived one.
func UserDedupKey(key string) string {
	return roleDedupKey(RoleUser, key)
}

func AgentDedupKey(key string) string {
	return roleDedupKey(RoleAgent, key)
}

func roleDedupKey(role Role, key string) string {
	if strings.TrimSpace(key) == "" {
		return ""
	}
	return string(role) + ":" + key
}

func formatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
