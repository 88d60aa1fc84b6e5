package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule is the parsed form of a free-text dosing frequency.
type Schedule struct {
	// Times holds daily anchors as offsets from midnight.
	Times []time.Duration
	// Interval is set for "every N hours", "every N weeks" and schedules
	// counted per week.
	Interval time.Duration
	AsNeeded bool
}

func (s Schedule) Recognized() bool {
	return len(s.Times) > 0 || s.Interval > 0
}

var (
	timesPerDayRe = regexp.MustCompile(`(\d+)\s*(?:x|times?)\s*(?:a|per|each)?\s*(?:day|daily)`)
	everyHoursRe  = regexp.MustCompile(`every\s+(\d+)\s*(?:h|hr|hrs|hour|hours)\b`)
	everyWeeksRe  = regexp.MustCompile(`every\s+(\d+)\s*(?:wks?|weeks?)\b`)
	perWeekRe     = regexp.MustCompile(`(?:\b(?:a|per|each|every)\s+|/\s*)(?:wk|week)s?\b|\bweekly\b`)
	perDayRe      = regexp.MustCompile(`(?:\b(?:a|per|each|every)\s+|/\s*)day\b|\b(?:daily|qd|bid|tid|qid)\b`)
	timesRe       = regexp.MustCompile(`(\d+)\s*(?:x|times?)\b`)

	wordCounts = []struct {
		words []string
		n     int
	}{
		{[]string{"four times", "qid", "q.i.d"}, 4},
		{[]string{"three times", "thrice", "tid", "t.i.d"}, 3},
		{[]string{"twice", "two times", "bid", "b.i.d"}, 2},
		{[]string{"once daily", "once a day", "once per day", "daily", "every day", "qd", "q.d"}, 1},
	}
)

// ParseSchedule interprets a frequency description. Explicit "HH:MM" anchors
// take precedence over the defaults derived from the description.
func ParseSchedule(frequency string, timesOfDay []string) (Schedule, error) {
	anchors, err := parseClock(timesOfDay)
	if err != nil {
		return Schedule{}, err
	}

	f := strings.ToLower(strings.TrimSpace(frequency))
	switch {
	case f == "" && len(anchors) > 0:
		return Schedule{Times: anchors}, nil
	case strings.Contains(f, "as needed") || strings.Contains(f, "prn") || strings.Contains(f, "when needed"):
		return Schedule{AsNeeded: true}, nil
	}

	if m := everyHoursRe.FindStringSubmatch(f); m != nil {
		h, _ := strconv.Atoi(m[1])
		if h <= 0 || h > 24*7 {
			return Schedule{}, fmt.Errorf("unsupported interval %q", frequency)
		}
		if 24%h == 0 {
			return Schedule{Times: evenlySpaced(24 / h)}, nil
		}
		return Schedule{Interval: time.Duration(h) * time.Hour}, nil
	}
	if m := everyWeeksRe.FindStringSubmatch(f); m != nil {
		w, _ := strconv.Atoi(m[1])
		if w <= 0 || w > 52 {
			return Schedule{}, fmt.Errorf("unsupported interval %q", frequency)
		}
		return Schedule{Interval: time.Duration(w) * week}, nil
	}
	if perWeekRe.MatchString(f) && !perDayRe.MatchString(f) {
		n := countOf(f)
		if n == 0 {
			n = 1
		}
		if n > 21 {
			return Schedule{}, fmt.Errorf("unsupported frequency %q", frequency)
		}
		return Schedule{Interval: week / time.Duration(n)}, nil
	}

	n := 0
	if m := timesPerDayRe.FindStringSubmatch(f); m != nil {
		n, _ = strconv.Atoi(m[1])
	}
	if n == 0 {
		n = countOf(f)
	}
	if n == 0 {
		switch {
		case containsAny(f, []string{"bedtime", "every night", "nightly", "every evening"}):
			return withAnchors(Schedule{Times: []time.Duration{21 * time.Hour}}, anchors), nil
		case containsAny(f, []string{"every morning", "each morning"}):
			return withAnchors(Schedule{Times: []time.Duration{8 * time.Hour}}, anchors), nil
		}
	}
	if n <= 0 {
		if len(anchors) > 0 {
			return Schedule{Times: anchors}, nil
		}
		return Schedule{}, fmt.Errorf("unrecognized frequency %q", frequency)
	}
	if n > 24 {
		return Schedule{}, fmt.Errorf("unsupported frequency %q", frequency)
	}
	return withAnchors(Schedule{Times: defaultAnchors(n)}, anchors), nil
}

const week = 7 * 24 * time.Hour

// countOf reads how many doses one period of f asks for, or 0.
func countOf(f string) int {
	if m := timesRe.FindStringSubmatch(f); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	for _, wc := range wordCounts {
		if containsAny(f, wc.words) {
			return wc.n
		}
	}
	return 0
}

func withAnchors(s Schedule, anchors []time.Duration) Schedule {
	if len(anchors) > 0 {
		s.Times = anchors
	}
	return s
}

func defaultAnchors(n int) []time.Duration {
	h := func(v int) time.Duration { return time.Duration(v) * time.Hour }
	switch n {
	case 1:
		return []time.Duration{h(8)}
	case 2:
		return []time.Duration{h(8), h(20)}
	case 3:
		return []time.Duration{h(8), h(14), h(20)}
	case 4:
		return []time.Duration{h(8), h(12), h(16), h(20)}
	default:
		return evenlySpaced(n)
	}
}

// evenlySpaced lays n anchors across the day starting at 00:00.
func evenlySpaced(n int) []time.Duration {
	step := 24 * time.Hour / time.Duration(n)
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = time.Duration(i) * step
	}
	return out
}

func parseClock(values []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(values))
	seen := make(map[time.Duration]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		t, err := time.Parse("15:04", v)
		if err != nil {
			return nil, fmt.Errorf("invalid time of day %q", v)
		}
		d := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Occasions lists expected intake times in [from, to]. Daily anchors are laid
// on the calendar of loc; interval schedules start at start.
func (s Schedule) Occasions(start, from, to time.Time, loc *time.Location) []time.Time {
	if !s.Recognized() || to.Before(from) {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if from.Before(start) {
		from = start
	}

	var out []time.Time
	if s.Interval > 0 {
		t := start
		if gap := from.Sub(start); gap > 0 {
			t = start.Add((gap + s.Interval - 1) / s.Interval * s.Interval)
		}
		for ; !t.After(to); t = t.Add(s.Interval) {
			out = append(out, t)
		}
		return out
	}

	lf := from.In(loc)
	day := time.Date(lf.Year(), lf.Month(), lf.Day(), 0, 0, 0, 0, loc)
	for !day.After(to) {
		for _, off := range s.Times {
			// wall clock, so anchors hold across DST changes
			t := time.Date(day.Year(), day.Month(), day.Day(),
				int(off/time.Hour), int(off%time.Hour/time.Minute), 0, 0, loc)
			if t.Before(from) || t.After(to) {
				continue
			}
			out = append(out, t)
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// Spacing is the shortest gap between consecutive occasions.
func (s Schedule) Spacing() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	if len(s.Times) < 2 {
		return 24 * time.Hour
	}
	min := 24*time.Hour - s.Times[len(s.Times)-1] + s.Times[0]
	for i := 1; i < len(s.Times); i++ {
		if gap := s.Times[i] - s.Times[i-1]; gap < min {
			min = gap
		}
	}
	return min
}
