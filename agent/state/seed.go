package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DemoPatientID = "demo_patient_001"

var demoMedications = []struct {
	name     string
	dose     Dose
	schedule string
	times    []string
	notes    string
}{
	{name: "Lisinopril", dose: Dose{Quantity: 10, Unit: "mg"}, schedule: "once daily", times: []string{"08:00"}, notes: "Take in the morning"},
	{name: "Metformin", dose: Dose{Quantity: 500, Unit: "mg"}, schedule: "twice daily", times: []string{"08:00", "20:00"}, notes: "Take with meals"},
	{name: "Vitamin D", dose: Dose{Quantity: 1000, Unit: "IU"}, schedule: "once daily", times: []string{"12:00"}, notes: "Take with lunch"},
}

// SeedDemo creates the demo patient and its medication list. Existing
// medications are left untouched.
func SeedDemo(ctx context.Context, store Store, now time.Time) error {
	if _, _, err := store.EnsurePatient(ctx, DemoPatientID, "Demo Patient", now); err != nil {
		return fmt.Errorf("seed demo patient: %w", err)
	}
	for _, m := range demoMedications {
		err := store.AddMedication(ctx, &MedicationRecord{
			ID:           uuid.NewString(),
			PatientID:    DemoPatientID,
			Name:         m.name,
			Dose:         m.dose,
			Schedule:     m.schedule,
			TimesOfDay:   m.times,
			Notes:        m.notes,
			RegisteredAt: now.UTC(),
			UpdatedAt:    now.UTC(),
		})
		if err != nil && !errors.Is(err, ErrMedicationExists) {
			return fmt.Errorf("seed demo medication %s: %w", m.name, err)
		}
	}
	return nil
}
