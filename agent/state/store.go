package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrPatientNotFound    = errors.New("patient not found")
	ErrMedicationNotFound = errors.New("medication not found")
	ErrMedicationExists   = errors.New("medication already registered")
	ErrTurnNotFound       = errors.New("conversation turn not found")
	ErrInvalidRecord      = errors.New("invalid record")
)

// Store is the patient persistence contract. Implementations serialize writes
// per patient and guarantee read-after-write for a single patient.
type Store interface {
	EnsurePatient(ctx context.Context, id, displayName string, now time.Time) (*Patient, bool, error)
	GetPatient(ctx context.Context, id string) (*Patient, error)

	AddMedication(ctx context.Context, rec *MedicationRecord) error
	UpdateMedication(ctx context.Context, patientID, name string, patch MedicationPatch, now time.Time) (*MedicationRecord, error)
	GetMedication(ctx context.Context, patientID, name string) (*MedicationRecord, error)
	ListMedications(ctx context.Context, patientID string) ([]MedicationRecord, error)
	AppendIntake(ctx context.Context, patientID, name string, intake Intake) (*MedicationRecord, error)

	AppendSymptom(ctx context.Context, entry *SymptomEntry) error
	QuerySymptoms(ctx context.Context, q SymptomQuery) ([]SymptomEntry, error)

	AppendTurn(ctx context.Context, turn *ConversationTurn) (bool, error)
	RecentTurns(ctx context.Context, patientID string, limit int) ([]ConversationTurn, error)
	FindTurn(ctx context.Context, patientID, dedupKey string) (*ConversationTurn, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// AllowedScale reports whether max is a supported severity scale.
func AllowedScale(max float64) bool {
	return max == 5 || max == 10
}

func Validate(record any) error {
	if err := validate.Struct(record); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if e, ok := record.(*SymptomEntry); ok && !AllowedScale(e.ScaleMax) {
		return fmt.Errorf("%w: unsupported severity scale %v", ErrInvalidRecord, e.ScaleMax)
	}
	return nil
}
