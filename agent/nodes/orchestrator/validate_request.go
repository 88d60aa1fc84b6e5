package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

const (
	MaxPatientIDLength = 128
	MaxDedupKeyLength  = 120
	MaxMessageLength   = 4000
)

var (
	ErrInvalidMessage = errors.New("message is empty")
	ErrInvalidPatient = errors.New("patient id is empty")
)

type GraphInput struct {
	PatientID string
	Message   string
	DedupKey  string
}

type GraphOutput struct {
	Response contractx.TurnResponse
	Rounds   int
}

// GraphState is carried through every node of one turn.
type GraphState struct {
	PatientID string
	Message   string
	DedupKey  string
	Now       time.Time

	Patient        *statex.Patient
	PatientCreated bool

	Replay *contractx.TurnResponse

	History  []statex.ConversationTurn
	UserTurn *statex.ConversationTurn

	Result   contractx.ReasonResult
	Response contractx.TurnResponse
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		return nil, ErrInvalidPatient
	}
	if len(patientID) > MaxPatientIDLength {
		return nil, fmt.Errorf("%w: patient id longer than %d bytes", contractx.ErrValidation, MaxPatientIDLength)
	}

	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, ErrInvalidMessage
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message longer than %d characters", contractx.ErrValidation, MaxMessageLength)
	}

	dedupKey := strings.TrimSpace(in.DedupKey)
	if len(dedupKey) > MaxDedupKeyLength {
		return nil, fmt.Errorf("%w: dedup key longer than %d bytes", contractx.ErrValidation, MaxDedupKeyLength)
	}

	return &GraphState{
		PatientID: patientID,
		Message:   message,
		DedupKey:  dedupKey,
		Now:       nowFn().UTC(),
	}, nil
}
