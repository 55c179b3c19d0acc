package schedule

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Parser extracts a Schedule from free text.
//
// Recognition order:
//  1. date-modifier phrase ("first/last day of every month")
//  2. frequency phrase ("every week", "daily", ...)
//  3. a single relative-delay or time-of-day expression
//  4. for one-time reminders without a delay, a literal "on <date>" pattern,
//     then a general natural-language pass (github.com/olebedev/when) over
//     whatever text remains
//
// The structured scans run before the natural-language pass so a clause like
// "at 8pm" inside "every day at 8pm" stays a time-of-day and is not swallowed
// as an absolute instant for today. A time-of-day found next to a literal
// date is folded into that date.
//
// Parse never fails; text without any recognizable time expression yields a
// Schedule whose time fields are all empty.
type Parser struct {
	w *when.Parser

	// DefaultHour is the hour assumed by the literal "on <date>" patterns
	// when the text carries no time. Zero means 10:00.
	DefaultHour int
}

func NewParser() *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w}
}

var (
	modifierRe = regexp.MustCompile(`(?i)\b(?:on\s+the\s+)?(first|1st|last)\s+day\s+of\s+(?:every|each|the)\s+month\b`)
	freqRe     = regexp.MustCompile(`(?i)\b(?:every\s+(day|week|month|year)|(daily|weekly|monthly|yearly))\b`)

	// One alternation, so at most one of delay / time-of-day matches.
	timeExprRe = regexp.MustCompile(`(?i)\b(?:in\s+(\d+)\s+(second|minute|hour|day|week|month)s?|at\s+(\d{1,2})(?::([0-5]\d))?\s*(am|pm)?)\b`)

	onDayMonthRe = regexp.MustCompile(`(?i)\bon\s+(\d{1,2})(?:st|nd|rd|th)?\s+(january|february|march|april|may|june|july|august|september|october|november|december)\b`)
	onSlashRe    = regexp.MustCompile(`(?i)\bon\s+(\d{1,2})/(\d{1,2})(?:/(\d{4}|\d{2}))?\b`)

	taskSplitRe = regexp.MustCompile(`(?i)\s(?:on\s+the|every)\s`)
)

var monthsByName = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
}

// Parse extracts a Schedule from text relative to now. The returned
// instants live in now's location.
func (p *Parser) Parse(text string, now time.Time) Schedule {
	s := Schedule{}
	// masked keeps the same byte length as text so match indices stay valid
	// while recognized phrases are blanked out.
	masked := text

	// Modifier before frequency: "first day of every month" contains the
	// frequency phrase "every month" and must not be double-counted.
	if m := modifierRe.FindStringSubmatchIndex(masked); m != nil {
		word := strings.ToLower(masked[m[2]:m[3]])
		if word == "last" {
			s.Modifier = ModLastDay
		} else {
			s.Modifier = ModFirstDay
		}
		masked = blank(masked, m[0], m[1])
	}

	if m := freqRe.FindStringSubmatchIndex(masked); m != nil {
		var word string
		if m[2] >= 0 {
			word = strings.ToLower(masked[m[2]:m[3]]) // "every <unit>"
		} else {
			word = strings.ToLower(masked[m[4]:m[5]]) // adverb form
		}
		s.Frequency = frequencyForWord(word)
		masked = blank(masked, m[0], m[1])
	}

	if m := timeExprRe.FindStringSubmatchIndex(masked); m != nil {
		if m[2] >= 0 { // relative delay
			n, _ := strconv.Atoi(masked[m[2]:m[3]])
			s.Delay = &Delay{N: n, Unit: DelayUnit(strings.ToLower(masked[m[4]:m[5]]))}
		} else { // time of day
			hour, _ := strconv.Atoi(masked[m[6]:m[7]])
			minute := 0
			if m[8] >= 0 {
				minute, _ = strconv.Atoi(masked[m[8]:m[9]])
			}
			meridiem := ""
			if m[10] >= 0 {
				meridiem = strings.ToLower(masked[m[10]:m[11]])
			}
			if tod, ok := normalizeTimeOfDay(hour, minute, meridiem); ok {
				s.TimeOfDay = &tod
			}
		}
		if s.Delay != nil || s.TimeOfDay != nil {
			masked = blank(masked, m[0], m[1])
		}
	}

	if !s.Recurring() && s.Delay == nil {
		masked = p.parseLiteralDate(&s, masked, now)
		if s.ExplicitAt.IsZero() {
			if r, err := p.w.Parse(masked, now); err == nil && r != nil {
				s.ExplicitAt = r.Time
				masked = blank(masked, r.Index, r.Index+len(r.Text))
			}
		}
		if !s.ExplicitAt.IsZero() && s.TimeOfDay != nil {
			at := s.ExplicitAt
			s.ExplicitAt = time.Date(at.Year(), at.Month(), at.Day(),
				s.TimeOfDay.Hour, s.TimeOfDay.Minute, 0, 0, at.Location())
			s.TimeOfDay = nil
		}
	}

	s.Task = taskFrom(text, masked)
	return s
}

// parseLiteralDate tries the literal "on <date>" fallbacks, in order:
// "on D Month", then "on D/M" (current year, rolled forward if past), then
// "on D/M/Y" (exact year, no rollover). Matched text is blanked.
func (p *Parser) parseLiteralDate(s *Schedule, masked string, now time.Time) string {
	hour := p.DefaultHour
	if hour <= 0 {
		hour = 10
	}

	if m := onDayMonthRe.FindStringSubmatchIndex(masked); m != nil {
		day, _ := strconv.Atoi(masked[m[2]:m[3]])
		month := monthsByName[strings.ToLower(masked[m[4]:m[5]])]
		at := time.Date(now.Year(), month, day, hour, 0, 0, 0, now.Location())
		if at.Day() == day {
			if !at.After(now) {
				at = at.AddDate(1, 0, 0)
			}
			s.ExplicitAt = at
		}
		return blank(masked, m[0], m[1])
	}

	if m := onSlashRe.FindStringSubmatchIndex(masked); m != nil {
		day, _ := strconv.Atoi(masked[m[2]:m[3]])
		month, _ := strconv.Atoi(masked[m[4]:m[5]])
		if month < 1 || month > 12 {
			return masked
		}
		year := now.Year()
		explicitYear := m[6] >= 0
		if explicitYear {
			year, _ = strconv.Atoi(masked[m[6]:m[7]])
			if year < 100 {
				year += 2000
			}
		}
		at := time.Date(year, time.Month(month), day, hour, 0, 0, 0, now.Location())
		if at.Day() == day {
			if !explicitYear && !at.After(now) {
				at = at.AddDate(1, 0, 0)
			}
			s.ExplicitAt = at
		}
		return blank(masked, m[0], m[1])
	}

	return masked
}

func frequencyForWord(word string) Frequency {
	switch word {
	case "day", "daily":
		return FreqDaily
	case "week", "weekly":
		return FreqWeekly
	case "month", "monthly":
		return FreqMonthly
	case "year", "yearly":
		return FreqYearly
	default:
		return FreqNone
	}
}

func normalizeTimeOfDay(hour, minute int, meridiem string) (TimeOfDay, bool) {
	switch meridiem {
	case "pm":
		if hour < 1 || hour > 12 {
			return TimeOfDay{}, false
		}
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour < 1 || hour > 12 {
			return TimeOfDay{}, false
		}
		if hour == 12 {
			hour = 0
		}
	default:
		if hour > 23 {
			return TimeOfDay{}, false
		}
	}
	return TimeOfDay{Hour: hour, Minute: minute}, true
}

// taskFrom rebuilds the reminder task from the masked text: everything the
// recognizers consumed is gone, remaining whitespace is collapsed, and
// dangling connector words are trimmed. An empty result falls back to the
// original text truncated at its first scheduling clause.
func taskFrom(original, masked string) string {
	task := strings.Join(strings.Fields(masked), " ")
	task = trimConnectors(task)
	if task != "" {
		return task
	}
	if loc := taskSplitRe.FindStringIndex(original); loc != nil {
		return strings.TrimSpace(original[:loc[0]])
	}
	return strings.TrimSpace(original)
}

func trimConnectors(task string) string {
	words := strings.Fields(task)
	for len(words) > 0 {
		switch strings.ToLower(words[len(words)-1]) {
		case "at", "on", "in":
			words = words[:len(words)-1]
		default:
			return strings.Join(words, " ")
		}
	}
	return ""
}

func blank(s string, lo, hi int) string {
	if lo < 0 || hi > len(s) || lo >= hi {
		return s
	}
	return s[:lo] + strings.Repeat(" ", hi-lo) + s[hi:]
}
