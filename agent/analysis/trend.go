package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

type Direction string

const (
	DirectionImproving        Direction = "improving"
	DirectionWorsening        Direction = "worsening"
	DirectionStable           Direction = "stable"
	DirectionInsufficientData Direction = "insufficient_data"
)

// StableBand is the largest change of mean severity, on a 0-10 scale, still
// reported as stable.
const StableBand = 0.5

type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type TrendPoint struct {
	At         time.Time `json:"at"`
	Severity   float64   `json:"severity"`
	ScaleMax   float64   `json:"scale_max"`
	Normalized float64   `json:"normalized"`
}

type TrendReport struct {
	Label          string       `json:"label"`
	From           time.Time    `json:"from"`
	To             time.Time    `json:"to"`
	Count          int          `json:"count"`
	Status         Status       `json:"status"`
	Direction      Direction    `json:"direction"`
	FirstHalfMean  *float64     `json:"first_half_mean,omitempty"`
	SecondHalfMean *float64     `json:"second_half_mean,omitempty"`
	Change         *float64     `json:"change,omitempty"`
	Mean           float64      `json:"mean"`
	Min            float64      `json:"min"`
	Max            float64      `json:"max"`
	DayOfWeek      []Bucket     `json:"day_of_week"`
	TimeOfDay      []Bucket     `json:"time_of_day"`
	Hourly         [24]int      `json:"hourly"`
	PeakDay        string       `json:"peak_day,omitempty"`
	PeakTimeOfDay  string       `json:"peak_time_of_day,omitempty"`
	Series         []TrendPoint `json:"series"`
	Description    string       `json:"summary"`
}

var timeOfDayLabels = []string{"night", "morning", "afternoon", "evening"}

func timeOfDayIndex(hour int) int {
	switch {
	case hour < 6:
		return 0
	case hour < 12:
		return 1
	case hour < 18:
		return 2
	default:
		return 3
	}
}

// Normalize maps a severity onto a 0-10 scale.
func Normalize(severity, scaleMax float64) float64 {
	if scaleMax <= 0 {
		return 0
	}
	return severity * 10 / scaleMax
}

// SymptomTrend describes how a symptom evolved over [from, to]. The direction
// compares the mean severity of the first and second half of the window;
// when one half holds no entries the entries are split by count instead.
func SymptomTrend(label string, entries []statex.SymptomEntry, from, to time.Time, loc *time.Location) TrendReport {
	if loc == nil {
		loc = time.UTC
	}
	sorted := append([]statex.SymptomEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RecordedAt.Before(sorted[j].RecordedAt) })

	if from.IsZero() && len(sorted) > 0 {
		from = sorted[0].RecordedAt
	}
	if to.IsZero() && len(sorted) > 0 {
		to = sorted[len(sorted)-1].RecordedAt
	}

	report := TrendReport{
		Label:     statex.NormalizeLabel(label),
		From:      from,
		To:        to,
		Count:     len(sorted),
		Status:    StatusInsufficientData,
		Direction: DirectionInsufficientData,
		Series:    make([]TrendPoint, 0, len(sorted)),
	}

	var dow [7]int
	var tod [4]int
	sum := 0.0
	for i, e := range sorted {
		n := Normalize(e.Severity, e.ScaleMax)
		report.Series = append(report.Series, TrendPoint{At: e.RecordedAt, Severity: e.Severity, ScaleMax: e.ScaleMax, Normalized: round2(n)})
		sum += n
		if i == 0 || n < report.Min {
			report.Min = n
		}
		if i == 0 || n > report.Max {
			report.Max = n
		}
		local := e.RecordedAt.In(loc)
		dow[local.Weekday()]++
		report.Hourly[local.Hour()]++
		tod[timeOfDayIndex(local.Hour())]++
	}

	for d := time.Sunday; d <= time.Saturday; d++ {
		report.DayOfWeek = append(report.DayOfWeek, Bucket{Label: d.String(), Count: dow[d]})
	}
	for i, l := range timeOfDayLabels {
		report.TimeOfDay = append(report.TimeOfDay, Bucket{Label: l, Count: tod[i]})
	}

	if len(sorted) == 0 {
		report.Description = fmt.Sprintf("No %s entries were logged in this period.", report.Label)
		return report
	}
	report.Mean = round2(sum / float64(len(sorted)))
	report.Min = round2(report.Min)
	report.Max = round2(report.Max)

	if len(sorted) >= 3 {
		report.PeakDay = peak(report.DayOfWeek)
		report.PeakTimeOfDay = peak(report.TimeOfDay)
	}

	if len(sorted) < 2 {
		report.Description = fmt.Sprintf("Only one %s entry was logged in this period (severity %.1f/10), which is not enough to describe a trend.", report.Label, report.Mean)
		return report
	}

	first, second := splitHalves(sorted, from, to)
	fm, sm := meanNormalized(first), meanNormalized(second)
	change := round2(sm - fm)
	report.FirstHalfMean = &fm
	report.SecondHalfMean = &sm
	report.Change = &change
	report.Status = StatusOK

	switch {
	case math.Abs(change) < StableBand:
		report.Direction = DirectionStable
	case change > 0:
		report.Direction = DirectionWorsening
	default:
		report.Direction = DirectionImproving
	}

	report.Description = describeTrend(report)
	return report
}

func splitHalves(sorted []statex.SymptomEntry, from, to time.Time) ([]statex.SymptomEntry, []statex.SymptomEntry) {
	mid := from.Add(to.Sub(from) / 2)
	cut := sort.Search(len(sorted), func(i int) bool { return !sorted[i].RecordedAt.Before(mid) })
	if cut == 0 || cut == len(sorted) {
		cut = len(sorted) / 2
	}
	return sorted[:cut], sorted[cut:]
}

func meanNormalized(entries []statex.SymptomEntry) float64 {
	if len(entries) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range entries {
		sum += Normalize(e.Severity, e.ScaleMax)
	}
	return round2(sum / float64(len(entries)))
}

func peak(buckets []Bucket) string {
	best, count, ties := "", 0, 0
	for _, b := range buckets {
		switch {
		case b.Count > count:
			best, count, ties = b.Label, b.Count, 0
		case b.Count == count:
			ties++
		}
	}
	if count < 2 || ties > 0 {
		return ""
	}
	return best
}

func describeTrend(r TrendReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s entries between %s and %s, average severity %.1f/10 (range %.1f to %.1f). ",
		r.Count, r.Label, r.From.Format("Jan 2"), r.To.Format("Jan 2"), r.Mean, r.Min, r.Max)
	switch r.Direction {
	case DirectionStable:
		fmt.Fprintf(&sb, "Severity stayed roughly the same (%.1f in the first half, %.1f in the second half).", *r.FirstHalfMean, *r.SecondHalfMean)
	case DirectionWorsening:
		fmt.Fprintf(&sb, "Logged severity was higher in the second half of the period (%.1f vs %.1f).", *r.SecondHalfMean, *r.FirstHalfMean)
	case DirectionImproving:
		fmt.Fprintf(&sb, "Logged severity was lower in the second half of the period (%.1f vs %.1f).", *r.SecondHalfMean, *r.FirstHalfMean)
	}
	if r.PeakDay != "" {
		fmt.Fprintf(&sb, " Entries were most frequent on %ss.", r.PeakDay)
	}
	if r.PeakTimeOfDay != "" {
		fmt.Fprintf(&sb, " Most entries were logged in the %s.", r.PeakTimeOfDay)
	}
	return sb.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (r TrendReport) Summary() string {
	return r.Description
}
