package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/healthguard-agent/agent/analysis"
	contractx "github.com/tanpawarit/healthguard-agent/agent/contract"
	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

const (
	ToolAnalysisAdherence    = "health_analysis.adherence"
	ToolAnalysisSymptomTrend = "health_analysis.symptom_trend"

	DefaultAdherenceWindow = 7 * 24 * time.Hour
	DefaultTrendWindow     = 30 * 24 * time.Hour
)

// HealthAnalysis derives adherence and trend summaries from stored records.
type HealthAnalysis struct {
	sealed
	store statex.Store
}

func NewHealthAnalysis(store statex.Store) *HealthAnalysis {
	return &HealthAnalysis{store: store}
}

func (h *HealthAnalysis) Kind() contractx.CapabilityKind {
	return contractx.CapabilityHealthAnalysis
}

func (h *HealthAnalysis) Specs() []contractx.ToolSpec {
	window := func(def string) (*schema.ParameterInfo, *schema.ParameterInfo) {
		return &schema.ParameterInfo{Type: schema.String, Desc: "Window start, RFC3339; defaults to " + def},
			&schema.ParameterInfo{Type: schema.String, Desc: "Window end, RFC3339; defaults to now"}
	}
	adhFrom, adhTo := window("7 days ago")
	trendFrom, trendTo := window("30 days ago")

	return []contractx.ToolSpec{
		{
			Name: ToolAnalysisAdherence,
			Desc: "Compute how many scheduled doses were logged on time in a window, for one medication or all of them.",
			Params: map[string]*schema.ParameterInfo{
				"medication": {Type: schema.String, Desc: "Registered medication name; omit for every medication"},
				"from":       adhFrom,
				"to":         adhTo,
			},
		},
		{
			Name: ToolAnalysisSymptomTrend,
			Desc: "Describe whether a symptom is improving or worsening and when it tends to occur.",
			Params: map[string]*schema.ParameterInfo{
				"label": {Type: schema.String, Desc: "Symptom name", Required: true},
				"from":  trendFrom,
				"to":    trendTo,
			},
		},
	}
}

func (h *HealthAnalysis) Invoke(ctx context.Context, call Call) (any, error) {
	switch call.Tool {
	case ToolAnalysisAdherence:
		from, to, err := window(call, DefaultAdherenceWindow)
		if err != nil {
			return nil, err
		}
		if name := strings.TrimSpace(call.Args.String("medication")); name != "" {
			return h.Adherence(ctx, call.PatientID, name, from, to, call.Location)
		}
		return h.AdherenceOverview(ctx, call.PatientID, from, to, call.Location)
	case ToolAnalysisSymptomTrend:
		from, to, err := window(call, DefaultTrendWindow)
		if err != nil {
			return nil, err
		}
		return h.SymptomTrend(ctx, call.PatientID, call.Args.String("label"), from, to, call.Location)
	default:
		return nil, fmt.Errorf("%w: %s", contractx.ErrUnknownTool, call.Tool)
	}
}

// Adherence loads the medication and computes its adherence report.
func (h *HealthAnalysis) Adherence(ctx context.Context, patientID, medication string, from, to time.Time, loc *time.Location) (analysis.AdherenceReport, error) {
	med, err := h.store.GetMedication(ctx, patientID, medication)
	if err != nil {
		return analysis.AdherenceReport{}, translate(err)
	}
	return analysis.Adherence(*med, from, to, loc), nil
}

// AdherenceOverview computes a report for every registered medication.
func (h *HealthAnalysis) AdherenceOverview(ctx context.Context, patientID string, from, to time.Time, loc *time.Location) (analysis.AdherenceOverview, error) {
	meds, err := h.store.ListMedications(ctx, patientID)
	if err != nil {
		return analysis.AdherenceOverview{}, translate(err)
	}
	return analysis.Overview(meds, from, to, loc), nil
}

// SymptomTrend loads the entries of label in [from, to] and describes them.
func (h *HealthAnalysis) SymptomTrend(ctx context.Context, patientID, label string, from, to time.Time, loc *time.Location) (analysis.TrendReport, error) {
	label = statex.NormalizeLabel(label)
	entries, err := h.store.QuerySymptoms(ctx, statex.SymptomQuery{
		PatientID: patientID,
		Label:     label,
		From:      from,
		To:        to,
	})
	if err != nil {
		return analysis.TrendReport{}, translate(err)
	}
	return analysis.SymptomTrend(label, entries, from, to, loc), nil
}

func window(call Call, def time.Duration) (time.Time, time.Time, error) {
	to, err := timeArg(call.Args, "to", call.Now, call.Now, call.Location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, err := timeArg(call.Args, "from", call.Now, to.Add(-def), call.Location)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to must be after from", contractx.ErrInvalidArguments)
	}
	return from, to, nil
}
