package reexpiry

import (
	"math"
	"time"
)

// DateLayout is the calendar date format used on the wire and in the CLI.
const DateLayout = "2006-01-02"

// Suggestion is the outcome of Suggest. OK is false when no date should be
// proposed; the caller keeps whatever date was already entered.
type Suggestion struct {
	NewExpiry time.Time
	Months    int
	Class     MethodClass
	OK        bool
}

// Suggest computes the re-expiry date for a unit repackaged with method on
// referenceNow, given the source product's original expiry.
//
// Unchanged methods return the original expiry as is. Shortened methods grant
// floor(remaining months * Fraction) calendar months from referenceNow, capped
// at MaxMonths, where remaining months is the fractional day difference over
// AverageMonthDays. Expired stock, a missing original date and unknown
// methods yield no suggestion.
func (p Policy) Suggest(originalExpiry time.Time, method MethodID, referenceNow time.Time) Suggestion {
	class := p.Classify(method)
	if originalExpiry.IsZero() {
		return Suggestion{Class: class}
	}
	original := CalendarDay(originalExpiry)
	today := CalendarDay(referenceNow)

	switch class {
	case ClassUnchanged:
		return Suggestion{NewExpiry: original, Class: class, OK: true}
	case ClassShortened:
		days := original.Sub(today).Hours() / 24
		remaining := days / p.AverageMonthDays
		if remaining <= 0 {
			return Suggestion{Class: class}
		}
		months := int(math.Floor(remaining * p.Fraction))
		if months > p.MaxMonths {
			months = p.MaxMonths
		}
		return Suggestion{
			NewExpiry: today.AddDate(0, months, 0),
			Months:    months,
			Class:     class,
			OK:        true,
		}
	default:
		return Suggestion{Class: class}
	}
}

// IsReexpiryValid reports whether reexpiry does not fall after original.
// Equal dates are valid. Comparison is by calendar day.
func IsReexpiryValid(original, reexpiry time.Time) bool {
	return !CalendarDay(reexpiry).After(CalendarDay(original))
}

// CalendarDay truncates t to midnight UTC of its own calendar date.
func CalendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses an ISO calendar date (2006-01-02). Timestamps in RFC 3339
// form are accepted and reduced to their calendar day.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return CalendarDay(t), nil
}

// Engine binds a Policy to a clock so callers that do not supply a
// reference date get today's date.
type Engine struct {
	policy Policy
	now    func() time.Time
}

// NewEngine returns an Engine using time.Now as its clock.
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy, now: time.Now}
}

// WithClock replaces the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	return &Engine{policy: e.policy, now: now}
}

// Policy returns the engine policy.
func (e *Engine) Policy() Policy { return e.policy }

// Today returns the engine clock reading as a calendar day.
func (e *Engine) Today() time.Time { return CalendarDay(e.now()) }

// Suggest computes a suggestion relative to the engine clock.
func (e *Engine) Suggest(originalExpiry time.Time, method MethodID) Suggestion {
	return e.policy.Suggest(originalExpiry, method, e.now())
}

// SuggestAt computes a suggestion relative to an explicit reference date.
func (e *Engine) SuggestAt(originalExpiry time.Time, method MethodID, referenceNow time.Time) Suggestion {
	return e.policy.Suggest(originalExpiry, method, referenceNow)
}
