package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Each patient's records sit behind their
// own mutex so writers for different patients never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[string]*patientRecords
}

type patientRecords struct {
	mu          sync.RWMutex
	patient     Patient
	medications map[string]*MedicationRecord
	symptoms    []SymptomEntry
	turns       []ConversationTurn
	dedup       map[string]int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patients: make(map[string]*patientRecords)}
}

func (s *MemoryStore) EnsurePatient(ctx context.Context, id, displayName string, now time.Time) (*Patient, bool, error) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.patients[id]; ok {
		p := rec.patient
		return &p, false, nil
	}

	if strings.TrimSpace(displayName) == "" {
		displayName = id
	}
	p := Patient{ID: id, DisplayName: strings.TrimSpace(displayName), CreatedAt: now.UTC()}
	if err := Validate(&p); err != nil {
		return nil, false, err
	}
	s.patients[id] = &patientRecords{
		patient:     p,
		medications: make(map[string]*MedicationRecord),
		dedup:       make(map[string]int),
	}
	return &p, true, nil
}

func (s *MemoryStore) GetPatient(ctx context.Context, id string) (*Patient, error) {
	rec, err := s.records(id)
	if err != nil {
		return nil, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	p := rec.patient
	return &p, nil
}

func (s *MemoryStore) AddMedication(ctx context.Context, m *MedicationRecord) error {
	if m == nil {
		return fmt.Errorf("%w: medication is nil", ErrInvalidRecord)
	}
	if err := Validate(m); err != nil {
		return err
	}
	rec, err := s.records(m.PatientID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	key := NameKey(m.Name)
	if _, ok := rec.medications[key]; ok {
		return fmt.Errorf("%w: %s", ErrMedicationExists, m.Name)
	}
	clone := m.Clone()
	rec.medications[key] = &clone
	return nil
}

func (s *MemoryStore) UpdateMedication(ctx context.Context, patientID, name string, patch MedicationPatch, now time.Time) (*MedicationRecord, error) {
	rec, err := s.records(patientID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	m, ok := rec.medications[NameKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMedicationNotFound, name)
	}
	next := m.Clone()
	ApplyPatch(&next, patch, now)
	if err := Validate(&next); err != nil {
		return nil, err
	}
	*m = next
	out := next.Clone()
	return &out, nil
}

func (s *MemoryStore) GetMedication(ctx context.Context, patientID, name string) (*MedicationRecord, error) {
	rec, err := s.records(patientID)
	if err != nil {
		return nil, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()

	m, ok := rec.medications[NameKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMedicationNotFound, name)
	}
	out := m.Clone()
	return &out, nil
}

func (s *MemoryStore) ListMedications(ctx context.Context, patientID string) ([]MedicationRecord, error) {
	rec, err := s.records(patientID)
	if err != nil {
		return nil, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()

	out := make([]MedicationRecord, 0, len(rec.medications))
	for _, m := range rec.medications {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return NameKey(out[i].Name) < NameKey(out[j].Name)
	})
	return out, nil
}

func (s *MemoryStore) AppendIntake(ctx context.Context, patientID, name string, intake Intake) (*MedicationRecord, error) {
	if err := Validate(&intake); err != nil {
		return nil, err
	}
	rec, err := s.records(patientID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	m, ok := rec.medications[NameKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMedicationNotFound, name)
	}
	if intake.Dose != nil {
		d := *intake.Dose
		intake.Dose = &d
	}
	m.Intakes = append(m.Intakes, intake)
	m.UpdatedAt = intake.RecordedAt
	out := m.Clone()
	return &out, nil
}

func (s *MemoryStore) AppendSymptom(ctx context.Context, entry *SymptomEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: symptom entry is nil", ErrInvalidRecord)
	}
	if err := Validate(entry); err != nil {
		return err
	}
	rec, err := s.records(entry.PatientID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.symptoms = append(rec.symptoms, *entry)
	return nil
}

func (s *MemoryStore) QuerySymptoms(ctx context.Context, q SymptomQuery) ([]SymptomEntry, error) {
	rec, err := s.records(q.PatientID)
	if err != nil {
		return nil, err
	}
	q.Label = NormalizeLabel(q.Label)

	rec.mu.RLock()
	defer rec.mu.RUnlock()

	out := make([]SymptomEntry, 0, len(rec.symptoms))
	for _, e := range rec.symptoms {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, turn *ConversationTurn) (bool, error) {
	if turn == nil {
		return false, fmt.Errorf("%w: turn is nil", ErrInvalidRecord)
	}
	if err := Validate(turn); err != nil {
		return false, err
	}
	rec, err := s.records(turn.PatientID)
	if err != nil {
		return false, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if turn.DedupKey != "" {
		if _, ok := rec.dedup[turn.DedupKey]; ok {
			return false, nil
		}
		rec.dedup[turn.DedupKey] = len(rec.turns)
	}
	t := *turn
	t.Trace = append([]byte(nil), turn.Trace...)
	rec.turns = append(rec.turns, t)
	return true, nil
}

func (s *MemoryStore) RecentTurns(ctx context.Context, patientID string, limit int) ([]ConversationTurn, error) {
	rec, err := s.records(patientID)
	if err != nil {
		return nil, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()

	start := 0
	if limit > 0 && len(rec.turns) > limit {
		start = len(rec.turns) - limit
	}
	return append([]ConversationTurn(nil), rec.turns[start:]...), nil
}

func (s *MemoryStore) FindTurn(ctx context.Context, patientID, dedupKey string) (*ConversationTurn, error) {
	rec, err := s.records(patientID)
	if err != nil {
		return nil, err
	}

	rec.mu.RLock()
	defer rec.mu.RUnlock()

	idx, ok := rec.dedup[dedupKey]
	if !ok || dedupKey == "" {
		return nil, ErrTurnNotFound
	}
	t := rec.turns[idx]
	return &t, nil
}

func (s *MemoryStore) records(patientID string) (*patientRecords, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.patients[strings.TrimSpace(patientID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, patientID)
	}
	return rec, nil
}

// ApplyPatch copies the set fields of patch onto m.
func ApplyPatch(m *MedicationRecord, patch MedicationPatch, now time.Time) {
	if patch.Dose != nil {
		m.Dose = *patch.Dose
	}
	if patch.Schedule != nil {
		m.Schedule = strings.TrimSpace(*patch.Schedule)
	}
	if patch.TimesOfDay != nil {
		m.TimesOfDay = append([]string(nil), patch.TimesOfDay...)
	}
	if patch.Notes != nil {
		m.Notes = strings.TrimSpace(*patch.Notes)
	}
	m.UpdatedAt = now.UTC()
}
