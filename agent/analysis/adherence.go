package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	statex "github.com/tanpawarit/healthguard-agent/agent/state"
)

// DefaultTolerance is the half-width of the window around an expected dose in
// which a logged intake counts as on time.
const DefaultTolerance = 2 * time.Hour

type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
)

type DayAdherence struct {
	Date     string `json:"date"`
	Expected int    `json:"expected"`
	Taken    int    `json:"taken"`
}

type AdherenceReport struct {
	Medication       string         `json:"medication"`
	Schedule         string         `json:"schedule"`
	From             time.Time      `json:"from"`
	To               time.Time      `json:"to"`
	Status           Status         `json:"status"`
	Reason           string         `json:"reason,omitempty"`
	Expected         int            `json:"expected"`
	Matched          int            `json:"matched"`
	Logged           int            `json:"logged"`
	OffSchedule      int            `json:"off_schedule"`
	Rate             *float64       `json:"rate,omitempty"`
	ToleranceMinutes int            `json:"tolerance_minutes"`
	Daily            []DayAdherence `json:"daily,omitempty"`
	Description      string         `json:"summary"`
}

// Adherence computes the share of expected intake occasions in [from, to]
// that have a logged intake within the tolerance window. An occasion whose
// window is still open at to is left out unless it is already matched.
func Adherence(med statex.MedicationRecord, from, to time.Time, loc *time.Location) AdherenceReport {
	if loc == nil {
		loc = time.UTC
	}
	report := AdherenceReport{
		Medication: med.Name,
		Schedule:   med.Schedule,
		From:       from,
		To:         to,
		Status:     StatusInsufficientData,
	}

	intakes := make([]time.Time, 0, len(med.Intakes))
	for _, in := range med.Intakes {
		intakes = append(intakes, in.TakenAt)
	}
	sort.Slice(intakes, func(i, j int) bool { return intakes[i].Before(intakes[j]) })
	for _, t := range intakes {
		if !t.Before(from) && !t.After(to) {
			report.Logged++
		}
	}

	sched, err := ParseSchedule(med.Schedule, med.TimesOfDay)
	switch {
	case err != nil:
		report.Reason = err.Error()
		report.Description = fmt.Sprintf("%s: adherence cannot be computed because the schedule %q has no fixed dosing times.", med.Name, med.Schedule)
		return report
	case sched.AsNeeded:
		report.Reason = "medication is taken as needed"
		report.Description = fmt.Sprintf("%s is taken as needed, so there are no expected doses to compare against. %d intakes were logged in this period.", med.Name, report.Logged)
		return report
	}

	tol := DefaultTolerance
	if half := sched.Spacing() / 2; half < tol {
		tol = half
	}
	report.ToleranceMinutes = int(tol / time.Minute)

	start := med.RegisteredAt
	if len(intakes) > 0 && intakes[0].Before(start) {
		start = intakes[0]
	}
	if sched.Interval == 0 {
		start = start.Add(-tol)
	}
	occasions := sched.Occasions(start, from, to, loc)

	daily := make(map[string]*DayAdherence)
	var days []string
	bump := func(o time.Time, taken bool) {
		key := o.In(loc).Format("2006-01-02")
		d, ok := daily[key]
		if !ok {
			d = &DayAdherence{Date: key}
			daily[key] = d
			days = append(days, key)
		}
		d.Expected++
		if taken {
			d.Taken++
		}
	}

	used := make([]bool, len(intakes))
	j := 0
	for _, o := range occasions {
		for j < len(intakes) && intakes[j].Before(o.Add(-tol)) {
			j++
		}
		matched := false
		if j < len(intakes) && !intakes[j].After(o.Add(tol)) {
			matched = true
			used[j] = true
			j++
		}
		if !matched && o.Add(tol).After(to) {
			continue
		}
		report.Expected++
		if matched {
			report.Matched++
		}
		bump(o, matched)
	}

	for i, t := range intakes {
		if !used[i] && !t.Before(from) && !t.After(to) {
			report.OffSchedule++
		}
	}
	for _, key := range days {
		report.Daily = append(report.Daily, *daily[key])
	}

	if report.Expected == 0 {
		report.Reason = "no expected doses in the requested period"
		report.Description = fmt.Sprintf("%s: not enough data to compute adherence between %s and %s.", med.Name, from.In(loc).Format("Jan 2"), to.In(loc).Format("Jan 2"))
		return report
	}

	rate := float64(report.Matched) / float64(report.Expected)
	report.Rate = &rate
	report.Status = StatusOK
	report.Description = fmt.Sprintf("%s: %d of %d expected doses were logged on time (%.0f%%) between %s and %s.",
		med.Name, report.Matched, report.Expected, rate*100, from.In(loc).Format("Jan 2"), to.In(loc).Format("Jan 2"))
	if report.OffSchedule > 0 {
		report.Description += fmt.Sprintf(" %d additional intakes fell outside the ±%d minute window.", report.OffSchedule, report.ToleranceMinutes)
	}
	return report
}

func (r AdherenceReport) Summary() string {
	return r.Description
}

// AdherenceOverview holds one report per medication and the rate pooled over
// the medications whose adherence could be computed.
type AdherenceOverview struct {
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Expected    int               `json:"expected"`
	Matched     int               `json:"matched"`
	Rate        *float64          `json:"rate,omitempty"`
	Medications []AdherenceReport `json:"medications"`
	Description string            `json:"summary"`
}

func Overview(meds []statex.MedicationRecord, from, to time.Time, loc *time.Location) AdherenceOverview {
	if loc == nil {
		loc = time.UTC
	}
	ov := AdherenceOverview{From: from, To: to, Medications: make([]AdherenceReport, 0, len(meds))}
	lines := make([]string, 0, len(meds)+1)
	for _, med := range meds {
		r := Adherence(med, from, to, loc)
		if r.Status == StatusOK {
			ov.Expected += r.Expected
			ov.Matched += r.Matched
		}
		ov.Medications = append(ov.Medications, r)
		lines = append(lines, r.Description)
	}

	span := fmt.Sprintf("between %s and %s", from.In(loc).Format("Jan 2"), to.In(loc).Format("Jan 2"))
	switch {
	case len(meds) == 0:
		ov.Description = "No medications are registered, so there is no adherence to report."
		return ov
	case ov.Expected == 0:
		lines = append([]string{fmt.Sprintf("Not enough data to compute overall adherence %s.", span)}, lines...)
	default:
		rate := float64(ov.Matched) / float64(ov.Expected)
		ov.Rate = &rate
		lines = append([]string{fmt.Sprintf("Across %d medications, %d of %d expected doses were logged on time (%.0f%%) %s.",
			len(meds), ov.Matched, ov.Expected, rate*100, span)}, lines...)
	}
	ov.Description = strings.Join(lines, "\n")
	return ov
}

func (o AdherenceOverview) Summary() string {
	return o.Description
}
