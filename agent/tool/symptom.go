package tool

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

const (
	ToolSymptomRecord = "symptom.record"
	ToolSymptomQuery  = "symptom.query"

	DefaultScaleMax = 10
)

type SymptomView struct {
	Label      string    `json:"label"`
	Severity   float64   `json:"severity"`
	ScaleMax   float64   `json:"scale_max"`
	Note       string    `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

func symptomViewOf(e statex.SymptomEntry) SymptomView {
	return SymptomView{
		Label:      e.Label,
		Severity:   e.Severity,
		ScaleMax:   e.ScaleMax,
		Note:       e.Note,
		RecordedAt: e.RecordedAt,
	}
}

type SymptomRecorded struct {
	Entry SymptomView `json:"entry"`
}

func (r SymptomRecorded) Summary() string {
	return fmt.Sprintf("Recorded %s with severity %g/%g at %s.",
		r.Entry.Label, r.Entry.Severity, r.Entry.ScaleMax, r.Entry.RecordedAt.Format(time.RFC3339))
}

type SymptomList struct {
	Label   string        `json:"label,omitempty"`
	From    *time.Time    `json:"from,omitempty"`
	To      *time.Time    `json:"to,omitempty"`
	Count   int           `json:"count"`
	Entries []SymptomView `json:"entries"`
}

func (r SymptomList) Summary() string {
	what := "symptom entries"
	if r.Label != "" {
		what = fmt.Sprintf("%q entries", r.Label)
	}
	if r.Count == 0 {
		return "No " + what + " found."
	}
	return fmt.Sprintf("%d %s from %s to %s.", r.Count, what,
		r.Entries[0].RecordedAt.Format(time.RFC3339), r.Entries[r.Count-1].RecordedAt.Format(time.RFC3339))
}

// Symptom logs symptom entries and reads them back in chronological order.
type Symptom struct {
	sealed
	store statex.Store
}

func NewSymptom(store statex.Store) *Symptom {
	return &Symptom{store: store}
}

func (s *Symptom) Kind() contractx.CapabilityKind {
	return contractx.CapabilitySymptom
}

func (s *Symptom) Specs() []contractx.ToolSpec {
	return []contractx.ToolSpec{
		{
			Name: ToolSymptomRecord,
			Desc: "Record a symptom with its severity on a 0-5 or 0-10 scale.",
			Params: map[string]*schema.ParameterInfo{
				"label":       {Type: schema.String, Desc: "Symptom name, e.g. headache", Required: true},
				"severity":    {Type: schema.Number, Desc: "Severity between 0 and scale_max", Required: true},
				"scale_max":   {Type: schema.Integer, Desc: "Top of the severity scale, 5 or 10 (default 10)", Enum: []string{"5", "10"}},
				"note":        {Type: schema.String, Desc: "Free-text note"},
				"recorded_at": {Type: schema.String, Desc: "When the symptom occurred, RFC3339; defaults to now"},
			},
		},
		{
			Name: ToolSymptomQuery,
			Desc: "List recorded symptoms, optionally filtered by label and time window, oldest first.",
			Params: map[string]*schema.ParameterInfo{
				"label": {Type: schema.String, Desc: "Symptom name to filter by"},
				"from":  {Type: schema.String, Desc: "Window start, RFC3339"},
				"to":    {Type: schema.String, Desc: "Window end, RFC3339"},
			},
		},
	}
}

func (s *Symptom) Invoke(ctx context.Context, call Call) (any, error) {
	switch call.Tool {
	case ToolSymptomRecord:
		return s.record(ctx, call)
	case ToolSymptomQuery:
		return s.query(ctx, call)
	default:
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, call.Tool)
	}
}

func (s *Symptom) record(ctx context.Context, call Call) (any, error) {
	scale := float64(DefaultScaleMax)
	if v, ok := call.Args.Int("scale_max"); ok {
		scale = float64(v)
	}
	if !statex.AllowedScale(scale) {
		return nil, fmt.Errorf("%w: scale_max must be 5 or 10, got %g", contractx.ErrOutOfRange, scale)
	}
	severity, _ := call.Args.Float("severity")
	if math.IsNaN(severity) || severity < 0 || severity > scale {
		return nil, fmt.Errorf("%w: severity %g is outside 0-%g", contractx.ErrOutOfRange, severity, scale)
	}

	recordedAt, err := timeArg(call.Args, "recorded_at", call.Now, call.Now, call.Location)
	if err != nil {
		return nil, err
	}
	if recordedAt.After(call.Now.Add(time.Minute)) {
		return nil, fmt.Errorf("%w: recorded_at %s is in the future", contractx.ErrOutOfRange, recordedAt.Format(time.RFC3339))
	}

	label := statex.NormalizeLabel(call.Args.String("label"))
	if label == "" {
		return nil, fmt.Errorf("%w: label is empty", contractx.ErrInvalidArguments)
	}

	entry := &statex.SymptomEntry{
		ID:         uuid.NewString(),
		PatientID:  call.PatientID,
		Label:      label,
		Severity:   severity,
		ScaleMax:   scale,
		Note:       call.Args.String("note"),
		RecordedAt: recordedAt,
	}
	if err := s.store.AppendSymptom(ctx, entry); err != nil {
		return nil, err
	}
	return SymptomRecorded{Entry: symptomViewOf(*entry)}, nil
}

func (s *Symptom) query(ctx context.Context, call Call) (any, error) {
	q := statex.SymptomQuery{
		PatientID: call.PatientID,
		Label:     statex.NormalizeLabel(call.Args.String("label")),
	}
	var err error
	if q.From, err = timeArg(call.Args, "from", call.Now, time.Time{}, call.Location); err != nil {
		return nil, err
	}
	if q.To, err = timeArg(call.Args, "to", call.Now, time.Time{}, call.Location); err != nil {
		return nil, err
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, fmt.Errorf("%w: to is before from", contractx.ErrInvalidArguments)
	}

	entries, err := s.store.QuerySymptoms(ctx, q)
	if err != nil {
		return nil, err
	}
	out := SymptomList{Label: q.Label, Count: len(entries), Entries: make([]SymptomView, 0, len(entries))}
	if !q.From.IsZero() {
		out.From = &q.From
	}
	if !q.To.IsZero() {
		out.To = &q.To
	}
	for _, e := range entries {
		out.Entries = append(out.Entries, symptomViewOf(e))
	}
	return out, nil
}
