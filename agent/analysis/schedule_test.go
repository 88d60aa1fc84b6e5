package analysis

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hours(v ...int) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, h := range v {
		out[i] = time.Duration(h) * time.Hour
	}
	return out
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		times    []string
		want     []time.Duration
		interval time.Duration
		asNeeded bool
	}{
		{in: "once daily", want: hours(8)},
		{in: "Daily", want: hours(8)},
		{in: "twice daily", want: hours(8, 20)},
		{in: "BID", want: hours(8, 20)},
		{in: "three times a day", want: hours(8, 14, 20)},
		{in: "4 times per day", want: hours(8, 12, 16, 20)},
		{in: "2x daily", want: hours(8, 20)},
		{in: "every 8 hours", want: hours(0, 8, 16)},
		{in: "every 36 hours", interval: 36 * time.Hour},
		{in: "every 6 hours", want: hours(0, 6, 12, 18)},
		{in: "6 times a day", want: hours(0, 4, 8, 12, 16, 20)},
		{in: "weekly", interval: 7 * 24 * time.Hour},
		{in: "once a week", interval: 7 * 24 * time.Hour},
		{in: "twice a week", interval: 84 * time.Hour},
		{in: "twice weekly", interval: 84 * time.Hour},
		{in: "three times a week", interval: 56 * time.Hour},
		{in: "3x/wk", interval: 56 * time.Hour},
		{in: "every 2 weeks", interval: 14 * 24 * time.Hour},
		{in: "twice daily for a week", want: hours(8, 20)},
		{in: "at bedtime", want: hours(21)},
		{in: "as needed"},
		{in: "twice daily", times: []string{"20:30", "07:00"}, want: []time.Duration{7 * time.Hour, 20*time.Hour + 30*time.Minute}},
		{in: "", times: []string{"09:00"}, want: hours(9)},
	}

	for _, tc := range cases {
		got, err := ParseSchedule(tc.in, tc.times)
		require.NoError(t, err, tc.in)
		if tc.in == "as needed" {
			assert.True(t, got.AsNeeded)
			assert.False(t, got.Recognized())
			continue
		}
		assert.Equal(t, tc.want, got.Times, tc.in)
		assert.Equal(t, tc.interval, got.Interval, tc.in)
	}
}

func TestParseScheduleRejectsUnknown(t *testing.T) {
	t.Parallel()

	_, err := ParseSchedule("whenever I remember", nil)
	assert.Error(t, err)
	_, err = ParseSchedule("daily", []string{"25:99"})
	assert.Error(t, err)
}

func TestScheduleOccasionsDaily(t *testing.T) {
	t.Parallel()

	s, err := ParseSchedule("twice daily", nil)
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	got := s.Occasions(start, from, to, time.UTC)

	want := []time.Time{
		time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 12*time.Hour, s.Spacing())
}

func TestScheduleOccasionsInterval(t *testing.T) {
	t.Parallel()

	s := Schedule{Interval: 36 * time.Hour}
	start := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	got := s.Occasions(start, start.Add(24*time.Hour), start.Add(100*time.Hour), time.UTC)

	require.Len(t, got, 2)
	assert.Equal(t, start.Add(36*time.Hour), got[0])
	assert.Equal(t, start.Add(72*time.Hour), got[1])
}

func TestScheduleOccasionsKeepWallClockAcrossDST(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := ParseSchedule("twice daily", nil)
	require.NoError(t, err)

	// clocks spring forward on 2026-03-08
	from := time.Date(2026, 3, 7, 0, 0, 0, 0, ny)
	to := time.Date(2026, 3, 9, 23, 0, 0, 0, ny)
	got := s.Occasions(from, from, to, ny)

	require.Len(t, got, 6)
	for _, o := range got {
		local := o.In(ny)
		assert.Contains(t, []int{8, 20}, local.Hour(), local.String())
		assert.Equal(t, 0, local.Minute())
	}
}
