package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration grammar of the moderation rules text: "30m", "3h", "2d", "1w",
// "6mo" (months approximated as 30 days), plus the unbounded markers
// "permanent" and "indefinite".
var spanPattern = regexp.MustCompile(`^(\d+)(mo|[smhdw])$`)

const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
)

// ParseSpan parses a duration string from the catalog document.
func ParseSpan(s string) (Span, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return Span{}, fmt.Errorf("empty duration")
	case "permanent", "indefinite":
		return Span{Unbounded: true}, nil
	}

	m := spanPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return Span{}, fmt.Errorf("invalid duration %q", s)
	}

	amount, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Span{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = day
	case "w":
		unit = week
	case "mo":
		unit = month
	}

	return Span{Duration: time.Duration(amount) * unit}, nil
}

// FormatSpan renders a span back into the rules-text grammar. Used for log
// output and API responses.
func FormatSpan(sp Span) string {
	if sp.Unbounded {
		return "indefinite"
	}

	d := sp.Duration
	switch {
	case d >= month && d%month == 0:
		return fmt.Sprintf("%dmo", d/month)
	case d >= week && d%week == 0:
		return fmt.Sprintf("%dw", d/week)
	case d >= day && d%day == 0:
		return fmt.Sprintf("%dd", d/day)
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}
