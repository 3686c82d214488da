package reexpiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestSuggest_ShortenedFractionOfRemainingLife(t *testing.T) {
	p := DefaultPolicy()
	got := p.Suggest(date(t, "2025-12-31"), MethodBlister, date(t, "2025-01-01"))

	require.True(t, got.OK)
	assert.Equal(t, 2, got.Months)
	assert.Equal(t, date(t, "2025-03-01"), got.NewExpiry)
	assert.Equal(t, ClassShortened, got.Class)
}

func TestSuggest_ShortenedCappedAtMaxMonths(t *testing.T) {
	p := DefaultPolicy()
	got := p.Suggest(date(t, "2028-01-01"), MethodThreeMonths, date(t, "2025-01-01"))

	require.True(t, got.OK)
	assert.Equal(t, 6, got.Months)
	assert.Equal(t, date(t, "2025-07-01"), got.NewExpiry)
}

func TestSuggest_ShortenedAroundTwoYears(t *testing.T) {
	p := DefaultPolicy()

	// 730 days is 23.98 average months: a quarter floors to 5.
	got := p.Suggest(date(t, "2027-01-01"), MethodBlister, date(t, "2025-01-01"))
	require.True(t, got.OK)
	assert.Equal(t, 5, got.Months)
	assert.Equal(t, date(t, "2025-06-01"), got.NewExpiry)

	// 731 days crosses 24 average months: 2027-01-02 is the first original that reaches the cap.
	got = p.Suggest(date(t, "2027-01-02"), MethodBlister, date(t, "2025-01-01"))
	require.True(t, got.OK)
	assert.Equal(t, 6, got.Months)
	assert.Equal(t, date(t, "2025-07-01"), got.NewExpiry)
}

func TestSuggest_ShortenedNoRemainingLife(t *testing.T) {
	p := DefaultPolicy()

	got := p.Suggest(date(t, "2025-06-01"), MethodBlister, date(t, "2025-06-01"))
	assert.False(t, got.OK)
	assert.True(t, got.NewExpiry.IsZero())

	got = p.Suggest(date(t, "2025-05-01"), MethodThreeMonths, date(t, "2025-06-01"))
	assert.False(t, got.OK)
}

func TestSuggest_ShortenedZeroMonthsSuggestsToday(t *testing.T) {
	p := DefaultPolicy()
	got := p.Suggest(date(t, "2025-03-01"), MethodBlister, date(t, "2025-01-01"))

	require.True(t, got.OK)
	assert.Equal(t, 0, got.Months)
	assert.Equal(t, date(t, "2025-01-01"), got.NewExpiry)
}

func TestSuggest_UnchangedKeepsOriginal(t *testing.T) {
	p := DefaultPolicy()
	original := date(t, "2025-08-15")

	for _, now := range []string{"2020-01-01", "2025-08-15", "2026-01-01"} {
		for _, m := range []MethodID{MethodLooseUnit, MethodFourth} {
			got := p.Suggest(original, m, date(t, now))
			require.True(t, got.OK, "method %d now %s", m, now)
			assert.Equal(t, original, got.NewExpiry)
			assert.Equal(t, 0, got.Months)
		}
	}
}

func TestSuggest_UnknownMethod(t *testing.T) {
	p := DefaultPolicy()
	got := p.Suggest(date(t, "2026-01-01"), MethodID(9), date(t, "2025-01-01"))
	assert.False(t, got.OK)
	assert.Equal(t, ClassUnknown, got.Class)
}

func TestSuggest_MissingOriginal(t *testing.T) {
	p := DefaultPolicy()
	got := p.Suggest(time.Time{}, MethodBlister, date(t, "2025-01-01"))
	assert.False(t, got.OK)
}

func TestSuggest_CalendarMonthOverflow(t *testing.T) {
	p := DefaultPolicy()
	got := p.Suggest(date(t, "2030-01-01"), MethodBlister, date(t, "2025-08-31"))

	require.True(t, got.OK)
	assert.Equal(t, 6, got.Months)
	// February has no 31st; calendar arithmetic rolls into March.
	assert.Equal(t, date(t, "2026-03-03"), got.NewExpiry)
}

func TestSuggest_IgnoresTimeOfDay(t *testing.T) {
	p := DefaultPolicy()
	madrid := time.FixedZone("CET", 3600)
	now := time.Date(2025, 1, 1, 23, 30, 0, 0, madrid)
	original := time.Date(2025, 12, 31, 0, 5, 0, 0, madrid)

	got := p.Suggest(original, MethodBlister, now)
	require.True(t, got.OK)
	assert.Equal(t, date(t, "2025-03-01"), got.NewExpiry)
}

func TestSuggest_MonthCountWithinBounds(t *testing.T) {
	p := DefaultPolicy()
	now := date(t, "2025-01-01")
	for days := -40; days < 3*365; days += 7 {
		original := now.AddDate(0, 0, days)
		got := p.Suggest(original, MethodBlister, now)
		if !got.OK {
			assert.LessOrEqual(t, days, 0)
			continue
		}
		assert.GreaterOrEqual(t, got.Months, 0)
		assert.LessOrEqual(t, got.Months, p.MaxMonths)
		assert.False(t, got.NewExpiry.Before(now), "suggestion before today for %d days", days)
	}
}

func TestSuggest_CustomPolicy(t *testing.T) {
	p := Policy{
		Fraction:         0.5,
		MaxMonths:        12,
		AverageMonthDays: 30,
		Shortened:        []MethodID{7},
	}
	require.NoError(t, p.Validate())

	got := p.Suggest(date(t, "2026-01-01"), 7, date(t, "2025-01-01"))
	require.True(t, got.OK)
	assert.Equal(t, 6, got.Months)
	assert.Equal(t, date(t, "2025-07-01"), got.NewExpiry)
}

func TestIsReexpiryValid(t *testing.T) {
	tests := []struct {
		name     string
		original string
		reexpiry string
		want     bool
	}{
		{"equal", "2025-12-01", "2025-12-01", true},
		{"earlier", "2025-12-01", "2025-06-01", true},
		{"one day later", "2025-12-01", "2025-12-02", false},
		{"manual override past original", "2025-12-01", "2026-01-01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReexpiryValid(date(t, tt.original), date(t, tt.reexpiry)))
		})
	}
}

func TestIsReexpiryValid_SameDayDifferentTimes(t *testing.T) {
	original := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	reexpiry := time.Date(2025, 12, 1, 18, 0, 0, 0, time.UTC)
	assert.True(t, IsReexpiryValid(original, reexpiry))
}

func TestSuggestionsAlwaysPassTheGuard(t *testing.T) {
	p := DefaultPolicy()
	now := date(t, "2025-03-15")
	for _, m := range p.Methods() {
		for days := 1; days < 4*365; days += 11 {
			original := now.AddDate(0, 0, days)
			got := p.Suggest(original, m, now)
			require.True(t, got.OK)
			assert.True(t, IsReexpiryValid(original, got.NewExpiry), "method %d, %d days", m, days)
		}
	}
}

func TestEngine_UsesInjectedClock(t *testing.T) {
	fixed := date(t, "2025-01-01")
	e := NewEngine(DefaultPolicy()).WithClock(func() time.Time { return fixed })

	got := e.Suggest(date(t, "2025-12-31"), MethodBlister)
	require.True(t, got.OK)
	assert.Equal(t, date(t, "2025-03-01"), got.NewExpiry)
	assert.Equal(t, fixed, e.Today())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-02-28")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2025-02-28T14:00:00+01:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("28/02/2025")
	assert.Error(t, err)
}
