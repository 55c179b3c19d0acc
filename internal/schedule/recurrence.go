package schedule

import (
	"errors"
	"time"
)

// ErrNoSchedule is returned by ComputeInitial when none of the schedule's
// time fields resolve to an instant.
var ErrNoSchedule = errors.New("no schedule could be derived")

// Calculator resolves schedules into execution instants. All arithmetic
// happens in the location of the supplied "now"; callers are expected to
// normalize to one canonical zone before calling in.
type Calculator struct {
	// ModifierHour is the wall-clock hour for first/last-day-of-month
	// schedules without an explicit time. Zero means 09:00.
	ModifierHour int
	// Grace is the forward bump for one-time instants that are not strictly
	// in the future. Zero means 5 minutes.
	Grace time.Duration
}

func (c *Calculator) grace() time.Duration {
	if c.Grace > 0 {
		return c.Grace
	}
	return 5 * time.Minute
}

func (c *Calculator) modifierHour() int {
	if c.ModifierHour > 0 {
		return c.ModifierHour
	}
	return 9
}

// resolver is one branch of the resolution chain. It either claims the
// schedule and produces an instant, or passes.
type resolver func(s Schedule, now time.Time) (time.Time, bool)

// ComputeInitial resolves the first execution instant for a freshly parsed
// schedule. The chain is ordered by precedence: explicit instant, relative
// delay, first day of month, last day of month, bare time of day. The first
// branch that claims the schedule wins.
//
// The raw instant is then normalized against now: a recurring schedule whose
// instant already passed advances period by period until it is strictly
// future; a one-time schedule gets the grace bump instead.
func (c *Calculator) ComputeInitial(s Schedule, now time.Time) (time.Time, error) {
	chain := []resolver{
		c.resolveExplicit,
		c.resolveDelay,
		c.resolveFirstDay,
		c.resolveLastDay,
		c.resolveTimeOfDay,
	}

	var at time.Time
	claimed := false
	for _, r := range chain {
		if t, ok := r(s, now); ok {
			at, claimed = t, true
			break
		}
	}
	if !claimed {
		return time.Time{}, ErrNoSchedule
	}

	if at.After(now) {
		return at, nil
	}
	if s.Recurring() {
		for !at.After(now) {
			at = c.advance(s.Frequency, s.Modifier, at)
		}
		return at, nil
	}
	return now.Add(c.grace()), nil
}

// ComputeNext computes the instant after a recurring reminder fires. It
// advances exactly one period from the stored instant when that instant is
// still in the future (an edit landed in between), otherwise from now.
// The modifier wins over the frequency when both are set.
func (c *Calculator) ComputeNext(freq Frequency, mod DateModifier, next, now time.Time) time.Time {
	base := next
	if !base.After(now) {
		base = now.In(next.Location())
		// modifier schedules keep their stored wall-clock time
		if mod != ModNone {
			base = time.Date(base.Year(), base.Month(), base.Day(),
				next.Hour(), next.Minute(), next.Second(), next.Nanosecond(), base.Location())
		}
	}
	return c.advance(freq, mod, base)
}

func (c *Calculator) advance(freq Frequency, mod DateModifier, base time.Time) time.Time {
	switch mod {
	case ModFirstDay:
		return firstDayOfFollowingMonth(base)
	case ModLastDay:
		return lastDayOfFollowingMonth(base)
	}
	switch freq {
	case FreqDaily:
		return base.AddDate(0, 0, 1)
	case FreqWeekly:
		return base.AddDate(0, 0, 7)
	case FreqMonthly:
		return AddMonths(base, 1)
	case FreqYearly:
		return AddYears(base, 1)
	}
	return base
}

// ---- resolution chain ----

func (c *Calculator) resolveExplicit(s Schedule, _ time.Time) (time.Time, bool) {
	if s.ExplicitAt.IsZero() {
		return time.Time{}, false
	}
	return s.ExplicitAt, true
}

func (c *Calculator) resolveDelay(s Schedule, now time.Time) (time.Time, bool) {
	if s.Delay == nil {
		return time.Time{}, false
	}
	n := s.Delay.N
	switch s.Delay.Unit {
	case UnitSecond:
		return now.Add(time.Duration(n) * time.Second), true
	case UnitMinute:
		return now.Add(time.Duration(n) * time.Minute), true
	case UnitHour:
		return now.Add(time.Duration(n) * time.Hour), true
	case UnitDay:
		return now.Add(time.Duration(n) * 24 * time.Hour), true
	case UnitWeek:
		return now.Add(time.Duration(n) * 7 * 24 * time.Hour), true
	case UnitMonth:
		return AddMonths(now, n), true
	}
	return time.Time{}, false
}

func (c *Calculator) resolveFirstDay(s Schedule, now time.Time) (time.Time, bool) {
	if s.Modifier != ModFirstDay {
		return time.Time{}, false
	}
	at := firstDayOfFollowingMonth(c.withTimeOfDay(s, now))
	return at, true
}

func (c *Calculator) resolveLastDay(s Schedule, now time.Time) (time.Time, bool) {
	if s.Modifier != ModLastDay {
		return time.Time{}, false
	}
	at := lastDayOfFollowingMonth(c.withTimeOfDay(s, now))
	return at, true
}

func (c *Calculator) resolveTimeOfDay(s Schedule, now time.Time) (time.Time, bool) {
	if s.TimeOfDay == nil {
		return time.Time{}, false
	}
	at := time.Date(now.Year(), now.Month(), now.Day(),
		s.TimeOfDay.Hour, s.TimeOfDay.Minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, true
}

// withTimeOfDay stamps the schedule's time of day (or the modifier default)
// onto now, so the day-of-month helpers carry the right wall-clock time.
func (c *Calculator) withTimeOfDay(s Schedule, now time.Time) time.Time {
	hour, minute := c.modifierHour(), 0
	if s.TimeOfDay != nil {
		hour, minute = s.TimeOfDay.Hour, s.TimeOfDay.Minute
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
}

// ---- calendar arithmetic ----

// AddMonths adds n calendar months, clamping the day to the target month's
// length (Jan 31 + 1 month = Feb 28/29, never Mar 3).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	first := time.Date(y, m+time.Month(n), 1, hh, mm, ss, t.Nanosecond(), t.Location())
	if dim := daysIn(first.Year(), first.Month()); d > dim {
		d = dim
	}
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// AddYears adds n calendar years with the same day clamping (Feb 29 on a
// non-leap target year becomes Feb 28).
func AddYears(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	if dim := daysIn(y+n, m); d > dim {
		d = dim
	}
	return time.Date(y+n, m, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// firstDayOfFollowingMonth returns day 1 of the month after t, keeping t's
// wall-clock time.
func firstDayOfFollowingMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m+1, 1, hh, mm, ss, 0, t.Location())
}

// lastDayOfFollowingMonth returns the last calendar day of the month after
// t: the first day of the month after that, minus one day.
func lastDayOfFollowingMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m+2, 1, hh, mm, ss, 0, t.Location()).AddDate(0, 0, -1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
