package timeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is how timestamps are written to the sheet.
const TimestampLayout = "01/02/2006, 15:04:05"

// TimeOfDay is a parsed wall-clock time.
type TimeOfDay struct {
	Hour, Minute, Second int
}

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June, "july": time.July,
	"august": time.August, "september": time.September, "october": time.October,
	"november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"jun": time.June, "jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

const monthAlternation = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`

var (
	// Most specific first so "3:45:10 pm" never matches as "3:45".
	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2}):(\d{2})\s*([ap]m)\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*([ap]m)\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2})\.(\d{2})\s*([ap]m)\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2})\s*([ap]m)\b`),
	}

	monthDayHeader = regexp.MustCompile(`(?i)^(` + monthAlternation + `)\s+(\d{1,2})$`)
	dayMonthHeader = regexp.MustCompile(`(?i)^(\d{1,2})\s+(` + monthAlternation + `)$`)
	monthDayLoose  = regexp.MustCompile(`(?i)\b(` + monthAlternation + `)\s+(\d{1,2})\b`)
	dayMonthLoose  = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(` + monthAlternation + `)\b`)

	createdOnPattern = regexp.MustCompile(`(?i)Created on\s+([A-Za-z]+)\s+(\d{1,2}),\s+(\d{4})\s+(\d{1,2}:\d{2}(?::\d{2})?\s*[ap]m)`)
)

// DateParser resolves timeline headers and times relative to a clock.
type DateParser struct {
	now func() time.Time
	loc *time.Location
}

// NewDateParser creates a parser. A nil now uses time.Now; a nil loc uses
// time.Local.
func NewDateParser(now func() time.Time, loc *time.Location) *DateParser {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &DateParser{now: now, loc: loc}
}

// Location returns the zone dates are resolved in.
func (p *DateParser) Location() *time.Location {
	return p.loc
}

// ParseTime extracts the first time-of-day expression in s.
func (p *DateParser) ParseTime(s string) (TimeOfDay, bool) {
	for _, re := range timePatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		meridiem := strings.ToLower(m[len(m)-1])
		nums := m[1 : len(m)-1]

		var parts [3]int
		for i, n := range nums {
			parts[i], _ = strconv.Atoi(n)
		}
		hour := parts[0]
		if hour < 1 || hour > 12 || parts[1] > 59 || parts[2] > 59 {
			return TimeOfDay{}, false
		}
		if meridiem == "pm" && hour < 12 {
			hour += 12
		}
		if meridiem == "am" && hour == 12 {
			hour = 0
		}
		return TimeOfDay{Hour: hour, Minute: parts[1], Second: parts[2]}, true
	}
	return TimeOfDay{}, false
}

// FindTime returns the raw time expression in text, or "".
func FindTime(text string) string {
	for _, re := range timePatterns {
		if loc := re.FindStringIndex(text); loc != nil {
			return text[loc[0]:loc[1]]
		}
	}
	return ""
}

// IsDateHeader reports whether text is exactly a timeline date header.
func IsDateHeader(text string) bool {
	t := strings.TrimSpace(text)
	switch strings.ToLower(t) {
	case "today", "yesterday":
		return true
	}
	return monthDayHeader.MatchString(t) || dayMonthHeader.MatchString(t)
}

// ParseHeader converts a date header to midnight of that day. A month/day
// header that would lie in the future belongs to the previous year.
func (p *DateParser) ParseHeader(header string) (time.Time, bool) {
	h := strings.ToLower(strings.TrimSpace(header))
	if h == "" {
		return time.Time{}, false
	}
	now := p.now().In(p.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)

	switch {
	case strings.Contains(h, "yesterday"):
		return today.AddDate(0, 0, -1), true
	case strings.Contains(h, "today"):
		return today, true
	}

	var monthName, dayText string
	if m := monthDayLoose.FindStringSubmatch(h); m != nil {
		monthName, dayText = m[1], m[2]
	} else if m := dayMonthLoose.FindStringSubmatch(h); m != nil {
		dayText, monthName = m[1], m[2]
	} else {
		return time.Time{}, false
	}

	day, _ := strconv.Atoi(dayText)
	date, ok := p.calendarDate(now.Year(), months[monthName], day)
	if !ok {
		return time.Time{}, false
	}
	if date.After(now) {
		date, ok = p.calendarDate(now.Year()-1, months[monthName], day)
	}
	return date, ok
}

// calendarDate rejects days that time.Date would normalize into the next
// month (Feb 30).
func (p *DateParser) calendarDate(year int, month time.Month, day int) (time.Time, bool) {
	if day < 1 || day > 31 {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, p.loc)
	if d.Month() != month {
		return time.Time{}, false
	}
	return d, true
}

// Combine sets the time of day on date.
func (p *DateParser) Combine(date time.Time, tod TimeOfDay) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), tod.Hour, tod.Minute, tod.Second, 0, p.loc)
}

// Resolve parses a header and a time expression into one timestamp.
func (p *DateParser) Resolve(header, timeText string) (time.Time, bool) {
	date, ok := p.ParseHeader(header)
	if !ok {
		return time.Time{}, false
	}
	tod, ok := p.ParseTime(timeText)
	if !ok {
		return time.Time{}, false
	}
	return p.Combine(date, tod), true
}

// ParseCreatedOn finds the "Created on <Month D, YYYY> <time>" line shown in
// the ticket sidebar.
func (p *DateParser) ParseCreatedOn(text string) (time.Time, bool) {
	m := createdOnPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := months[strings.ToLower(m[1])]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	date, ok := p.calendarDate(year, month, day)
	if !ok {
		return time.Time{}, false
	}
	tod, ok := p.ParseTime(m[4])
	if !ok {
		return time.Time{}, false
	}
	return p.Combine(date, tod), true
}

// FormatTimestamp renders t the way the sheet expects.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}
