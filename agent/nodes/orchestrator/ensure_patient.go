package orchestratornode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

// EnsurePatient creates the patient on first contact.
func EnsurePatient(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	patient, created, err := store.EnsurePatient(ctx, in.PatientID, "", in.Now)
	if err != nil {
		return nil, fmt.Errorf("ensure patient %s: %w", in.PatientID, err)
	}
	if created {
		log.Info().Str("patient_id", in.PatientID).Msg("patient created")
	}
	in.Patient = patient
	in.PatientCreated = created
	return in, nil
}
