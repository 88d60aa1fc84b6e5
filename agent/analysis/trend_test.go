package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

func symptom(at time.Time, severity, scale float64) statex.SymptomEntry {
	return statex.SymptomEntry{ID: at.String(), PatientID: "p1", Label: "headache", Severity: severity, ScaleMax: scale, RecordedAt: at}
}

func TestSymptomTrendWorsening(t *testing.T) {
	t.Parallel()

	entries := []symptomInput{
		{day(9, 20, 0), 7}, {day(1, 8, 0), 2}, {day(2, 8, 0), 3}, {day(8, 21, 0), 8},
	}
	r := SymptomTrend("Headache", toEntries(entries, 10), day(1, 0, 0), day(10, 0, 0), time.UTC)

	require.Equal(t, StatusOK, r.Status)
	assert.Equal(t, DirectionWorsening, r.Direction)
	assert.Equal(t, 4, r.Count)
	require.NotNil(t, r.FirstHalfMean)
	assert.InDelta(t, 2.5, *r.FirstHalfMean, 1e-9)
	assert.InDelta(t, 7.5, *r.SecondHalfMean, 1e-9)
	assert.InDelta(t, 5.0, *r.Change, 1e-9)
	for i := 1; i < len(r.Series); i++ {
		assert.False(t, r.Series[i].At.Before(r.Series[i-1].At))
	}
	assert.Contains(t, r.Summary(), "higher in the second half")
}

func TestSymptomTrendStableAcrossScales(t *testing.T) {
	t.Parallel()

	entries := []statex.SymptomEntry{
		symptom(day(1, 9, 0), 2, 5),
		symptom(day(2, 9, 0), 4, 10),
		symptom(day(6, 9, 0), 4.2, 10),
		symptom(day(7, 9, 0), 2, 5),
	}
	r := SymptomTrend("headache", entries, day(1, 0, 0), day(8, 0, 0), time.UTC)

	assert.Equal(t, DirectionStable, r.Direction)
	assert.InDelta(t, 4.05, r.Mean, 0.01)
	assert.Equal(t, "morning", r.PeakTimeOfDay)
}

func TestSymptomTrendImprovingWithCountSplit(t *testing.T) {
	t.Parallel()

	// all entries fall in the second half of the window
	entries := []statex.SymptomEntry{
		symptom(day(20, 9, 0), 9, 10),
		symptom(day(21, 9, 0), 8, 10),
		symptom(day(22, 9, 0), 3, 10),
		symptom(day(23, 9, 0), 2, 10),
	}
	r := SymptomTrend("headache", entries, day(1, 0, 0), day(24, 0, 0), time.UTC)

	assert.Equal(t, DirectionImproving, r.Direction)
	assert.InDelta(t, 8.5, *r.FirstHalfMean, 1e-9)
	assert.InDelta(t, 2.5, *r.SecondHalfMean, 1e-9)
}

func TestSymptomTrendInsufficientData(t *testing.T) {
	t.Parallel()

	r := SymptomTrend("headache", nil, day(1, 0, 0), day(2, 0, 0), time.UTC)
	assert.Equal(t, DirectionInsufficientData, r.Direction)
	assert.Equal(t, 0, r.Count)
	assert.NotEmpty(t, r.Summary())

	r = SymptomTrend("headache", []statex.SymptomEntry{symptom(day(1, 9, 0), 5, 10)}, time.Time{}, time.Time{}, time.UTC)
	assert.Equal(t, DirectionInsufficientData, r.Direction)
	assert.Nil(t, r.Change)
}

func TestSymptomTrendRecurrenceHistogram(t *testing.T) {
	t.Parallel()

	// 2026-03-02 is a Monday
	entries := []statex.SymptomEntry{
		symptom(day(2, 19, 0), 5, 10),
		symptom(day(9, 19, 30), 5, 10),
		symptom(day(16, 20, 0), 5, 10),
		symptom(day(11, 7, 0), 5, 10),
	}
	r := SymptomTrend("headache", entries, day(1, 0, 0), day(17, 0, 0), time.UTC)

	require.Len(t, r.DayOfWeek, 7)
	assert.Equal(t, Bucket{Label: "Monday", Count: 3}, r.DayOfWeek[1])
	assert.Equal(t, "Monday", r.PeakDay)
	assert.Equal(t, "evening", r.PeakTimeOfDay)
	assert.Equal(t, 2, r.Hourly[19])
	assert.Contains(t, r.Summary(), "Mondays")
}

type symptomInput struct {
	at       time.Time
	severity float64
}

func toEntries(in []symptomInput, scale float64) []statex.SymptomEntry {
	out := make([]statex.SymptomEntry, 0, len(in))
	for _, s := range in {
		out = append(out, symptom(s.at, s.severity, scale))
	}
	return out
}
