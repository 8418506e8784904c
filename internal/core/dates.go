package core

// dates.go turns raw order-date cells into calendar dates.
//
// Spreadsheet exports deliver dates in several shapes:
//   - Serial day counts (Excel convention, day 1 = 1899-12-31)
//   - time.Time values from typed cells
//   - Text in DD/MM/YYYY, DD-MM-YYYY, YYYY-MM-DD, MM/DD/YYYY and 2-digit-year day-month forms
//
// Text is matched against an ordered list of layouts and the first layout whose
// pattern and component ranges match wins. Ambiguous inputs such as 03/04/2020
// are resolved purely by that order (day-month before month-day), never by content.
// Parsed dates then pass business sanity bounds; there is no fallback date.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultMinBusinessYear is the earliest year an order may carry.
	DefaultMinBusinessYear = 2000

	// DefaultHighConfidenceYear is the first year considered routine business data.
	DefaultHighConfidenceYear = 2019

	// DefaultMaxFutureMonths is how far past the current month a date may fall.
	DefaultMaxFutureMonths = 1

	// MinSerial and MaxSerial bound plausible spreadsheet serial dates.
	MinSerial = 1
	MaxSerial = 50000
)

// serialEpoch is day zero of the spreadsheet serial calendar.
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

var numericDateRegex = regexp.MustCompile(`^\d+(\.\d+)?$`)

// TwoDigitYearPolicy controls how YY years are expanded.
type TwoDigitYearPolicy string

const (
	// TwoDigitNearFuture maps YY <= (current YY + 5) to 20YY and anything else to 19YY.
	TwoDigitNearFuture TwoDigitYearPolicy = "near-future"
	// TwoDigitReject refuses 2-digit years.
	TwoDigitReject TwoDigitYearPolicy = "reject"
)

// ParseTwoDigitYearPolicy validates a policy name from configuration.
func ParseTwoDigitYearPolicy(s string) (TwoDigitYearPolicy, error) {
	switch TwoDigitYearPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case TwoDigitNearFuture, "":
		return TwoDigitNearFuture, nil
	case TwoDigitReject:
		return TwoDigitReject, nil
	default:
		return "", fmt.Errorf("unknown two-digit year policy %q", s)
	}
}

// DateLayout is one text date shape the normalizer understands.
type DateLayout struct {
	Name         string
	Pattern      *regexp.Regexp
	DayGroup     int
	MonthGroup   int
	YearGroup    int
	TwoDigitYear bool
}

// match extracts day, month and year when s has this layout's shape and
// plausible day/month components.
func (l DateLayout) match(s string) (day, month, year int, ok bool) {
	m := l.Pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, false
	}
	day, _ = strconv.Atoi(m[l.DayGroup])
	month, _ = strconv.Atoi(m[l.MonthGroup])
	year, _ = strconv.Atoi(m[l.YearGroup])
	if day < 1 || day > 31 || month < 1 || month > 12 {
		return 0, 0, 0, false
	}
	return day, month, year, true
}

// DefaultDateLayouts is the declared priority order for text dates.
var DefaultDateLayouts = []DateLayout{
	{Name: "DD/MM/YYYY", Pattern: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`), DayGroup: 1, MonthGroup: 2, YearGroup: 3},
	{Name: "DD-MM-YYYY", Pattern: regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`), DayGroup: 1, MonthGroup: 2, YearGroup: 3},
	{Name: "YYYY-MM-DD", Pattern: regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`), DayGroup: 3, MonthGroup: 2, YearGroup: 1},
	{Name: "MM/DD/YYYY", Pattern: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`), DayGroup: 2, MonthGroup: 1, YearGroup: 3},
	{Name: "DD/MM/YY", Pattern: regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2})$`), DayGroup: 1, MonthGroup: 2, YearGroup: 3, TwoDigitYear: true},
	{Name: "DD-MM-YY", Pattern: regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{2})$`), DayGroup: 1, MonthGroup: 2, YearGroup: 3, TwoDigitYear: true},
}

// DateOptions configures a DateNormalizer.
type DateOptions struct {
	MinBusinessYear    int
	HighConfidenceYear int
	MaxFutureMonths    int
	TwoDigitYears      TwoDigitYearPolicy
	Layouts            []DateLayout

	// Now supplies the current date; defaults to time.Now.
	Now func() time.Time
}

// DateError explains why a raw value is not an acceptable order date.
type DateError struct {
	Reason  Reason
	Value   any
	Message string
}

func (e *DateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// ParsedDate is an accepted order date.
type ParsedDate struct {
	Date       time.Time
	Format     string
	Confidence Confidence
	Warnings   []string
}

// DateNormalizer parses and sanity-checks order dates.
type DateNormalizer struct {
	opts DateOptions
}

// NewDateNormalizer creates a normalizer, filling unset options with defaults.
func NewDateNormalizer(opts DateOptions) *DateNormalizer {
	if opts.MinBusinessYear == 0 {
		opts.MinBusinessYear = DefaultMinBusinessYear
	}
	if opts.HighConfidenceYear == 0 {
		opts.HighConfidenceYear = DefaultHighConfidenceYear
	}
	if opts.MaxFutureMonths == 0 {
		opts.MaxFutureMonths = DefaultMaxFutureMonths
	}
	if opts.TwoDigitYears == "" {
		opts.TwoDigitYears = TwoDigitNearFuture
	}
	if opts.Layouts == nil {
		opts.Layouts = DefaultDateLayouts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DateNormalizer{opts: opts}
}

// Parse converts a raw cell into a calendar date.
// Every rejection is a *DateError carrying a machine-readable Reason.
func (n *DateNormalizer) Parse(raw any) (ParsedDate, error) {
	switch v := raw.(type) {
	case nil:
		return ParsedDate{}, &DateError{Reason: ReasonEmptyDate, Value: raw, Message: "date is empty"}
	case time.Time:
		if v.IsZero() {
			return ParsedDate{}, &DateError{Reason: ReasonEmptyDate, Value: raw, Message: "date is empty"}
		}
		return n.check(v.Year(), int(v.Month()), v.Day(), "date", raw)
	case float64:
		return n.parseSerial(v, raw)
	case float32:
		return n.parseSerial(float64(v), raw)
	case int:
		return n.parseSerial(float64(v), raw)
	case int64:
		return n.parseSerial(float64(v), raw)
	case string:
		return n.parseString(v, raw)
	default:
		return ParsedDate{}, &DateError{
			Reason:  ReasonUnparseableDate,
			Value:   raw,
			Message: fmt.Sprintf("unsupported date type %T", raw),
		}
	}
}

func (n *DateNormalizer) parseSerial(serial float64, raw any) (ParsedDate, error) {
	if math.IsNaN(serial) || math.IsInf(serial, 0) || serial < MinSerial || serial > MaxSerial {
		return ParsedDate{}, &DateError{
			Reason:  ReasonInvalidSerial,
			Value:   raw,
			Message: fmt.Sprintf("serial %v outside [%d, %d]", serial, MinSerial, MaxSerial),
		}
	}
	t := serialEpoch.AddDate(0, 0, int(math.Floor(serial)))
	return n.check(t.Year(), int(t.Month()), t.Day(), "serial", raw)
}

func (n *DateNormalizer) parseString(s string, raw any) (ParsedDate, error) {
	s = stripTime(CleanCell(s))
	if s == "" {
		return ParsedDate{}, &DateError{Reason: ReasonEmptyDate, Value: raw, Message: "date is empty"}
	}

	// Text cells sometimes carry the serial number itself.
	if numericDateRegex.MatchString(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return n.parseSerial(f, raw)
		}
	}

	for _, layout := range n.opts.Layouts {
		day, month, year, ok := layout.match(s)
		if !ok {
			continue
		}
		if layout.TwoDigitYear {
			expanded, err := n.expandYear(year, raw)
			if err != nil {
				return ParsedDate{}, err
			}
			year = expanded
		}
		return n.check(year, month, day, layout.Name, raw)
	}

	return ParsedDate{}, &DateError{
		Reason:  ReasonUnparseableDate,
		Value:   raw,
		Message: fmt.Sprintf("unrecognized date format %q", s),
	}
}

// expandYear applies the configured 2-digit year policy.
func (n *DateNormalizer) expandYear(yy int, raw any) (int, error) {
	if n.opts.TwoDigitYears == TwoDigitReject {
		return 0, &DateError{
			Reason:  ReasonUnparseableDate,
			Value:   raw,
			Message: "two-digit years are not accepted",
		}
	}
	cy2 := n.opts.Now().Year() % 100
	if yy <= cy2+5 {
		return 2000 + yy, nil
	}
	return 1900 + yy, nil
}

// check applies business sanity bounds and assigns confidence.
func (n *DateNormalizer) check(year, month, day int, format string, raw any) (ParsedDate, error) {
	if month < 1 || month > 12 {
		return ParsedDate{}, &DateError{Reason: ReasonDateOutOfRange, Value: raw, Message: fmt.Sprintf("invalid month %d", month)}
	}
	if day < 1 || day > 31 {
		return ParsedDate{}, &DateError{Reason: ReasonDateOutOfRange, Value: raw, Message: fmt.Sprintf("invalid day %d", day)}
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day {
		return ParsedDate{}, &DateError{
			Reason:  ReasonDateOutOfRange,
			Value:   raw,
			Message: fmt.Sprintf("day %d does not exist in %04d-%02d", day, year, month),
		}
	}

	now := n.opts.Now()
	currentYear, currentMonth := now.Year(), int(now.Month())

	if year < n.opts.MinBusinessYear {
		return ParsedDate{}, &DateError{
			Reason:  ReasonDateOutOfRange,
			Value:   raw,
			Message: fmt.Sprintf("year %d before minimum %d", year, n.opts.MinBusinessYear),
		}
	}
	if year > currentYear+1 {
		return ParsedDate{}, &DateError{
			Reason:  ReasonDateOutOfRange,
			Value:   raw,
			Message: fmt.Sprintf("year %d after maximum %d", year, currentYear+1),
		}
	}

	monthsAhead := (year-currentYear)*12 + (month - currentMonth)
	if monthsAhead > n.opts.MaxFutureMonths {
		return ParsedDate{}, &DateError{
			Reason:  ReasonImpossibleFutureDate,
			Value:   raw,
			Message: fmt.Sprintf("%02d/%04d is more than %d month(s) past %02d/%04d", month, year, n.opts.MaxFutureMonths, currentMonth, currentYear),
		}
	}

	parsed := ParsedDate{Date: date, Format: format, Confidence: ConfidenceHigh}
	switch {
	case monthsAhead > 0:
		parsed.Confidence = ConfidenceMedium
		parsed.Warnings = append(parsed.Warnings, fmt.Sprintf("future date %02d/%04d", month, year))
	case year < n.opts.HighConfidenceYear:
		parsed.Confidence = ConfidenceMedium
		parsed.Warnings = append(parsed.Warnings, fmt.Sprintf("old date: year %d predates %d", year, n.opts.HighConfidenceYear))
	}
	return parsed, nil
}

// stripTime drops a trailing time component ("15/03/2024 10:22", "2024-03-15T10:22:00").
func stripTime(s string) string {
	if i := strings.IndexAny(s, " T"); i > 0 {
		return s[:i]
	}
	return s
}
