// Package schedule turns free-text reminder commands into structured
// schedules and computes calendar-correct execution instants from them.
package schedule

import "time"

// Frequency is how often a reminder repeats. The zero value means one-time.
type Frequency string

const (
	FreqNone    Frequency = ""
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

// ParseFrequency maps a persisted string back to a Frequency.
// Unknown values collapse to FreqNone.
func ParseFrequency(s string) Frequency {
	switch Frequency(s) {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return Frequency(s)
	default:
		return FreqNone
	}
}

// DateModifier pins a recurring reminder to a calendar boundary instead of a
// fixed-length period. When both a Frequency and a DateModifier are set, the
// modifier wins during recurrence computation.
type DateModifier string

const (
	ModNone     DateModifier = ""
	ModFirstDay DateModifier = "first_day_of_month"
	ModLastDay  DateModifier = "last_day_of_month"
)

func ParseModifier(s string) DateModifier {
	switch DateModifier(s) {
	case ModFirstDay, ModLastDay:
		return DateModifier(s)
	default:
		return ModNone
	}
}

// DelayUnit is the unit of a relative "in N ..." expression.
type DelayUnit string

const (
	UnitSecond DelayUnit = "second"
	UnitMinute DelayUnit = "minute"
	UnitHour   DelayUnit = "hour"
	UnitDay    DelayUnit = "day"
	UnitWeek   DelayUnit = "week"
	UnitMonth  DelayUnit = "month"
)

// Delay is a relative offset from "now". Months are calendar-aware and
// cannot be collapsed into a fixed time.Duration.
type Delay struct {
	N    int
	Unit DelayUnit
}

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Schedule is the result of parsing a reminder command. Any of the time
// fields may be unset; the recurrence calculator resolves them in a fixed
// precedence order. A Schedule with no time fields set is not an error by
// itself; whether that is a failure is the caller's call.
type Schedule struct {
	Task      string
	Frequency Frequency
	Modifier  DateModifier

	ExplicitAt time.Time  // absolute instant from the natural-language stage
	Delay      *Delay     // "in 2 hours"
	TimeOfDay  *TimeOfDay // "at 8pm"
}

// Recurring reports whether the schedule describes a repeating reminder.
func (s Schedule) Recurring() bool {
	return s.Frequency != FreqNone || s.Modifier != ModNone
}
