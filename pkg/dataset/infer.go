package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// inferThreshold is the share of non-empty cells that must parse as a type for the
// column to take that type.
const inferThreshold = 0.8

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var dayFirstLayouts = []string{
	"02/01/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
}

var monthFirstLayouts = []string{
	"01/02/2006",
	"01/02/2006 15:04",
	"01-02-2006",
	"1/2/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

var missingTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
}

func isMissingToken(s string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if isMissingToken(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ParseTime parses s using ISO layouts followed by day-first or month-first layouts.
func ParseTime(s string, dayFirst bool) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if isMissingToken(s) {
		return time.Time{}, false
	}
	groups := [][]string{isoLayouts, monthFirstLayouts, dayFirstLayouts}
	if dayFirst {
		groups = [][]string{isoLayouts, dayFirstLayouts, monthFirstLayouts}
	}
	for _, layouts := range groups {
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func isISOTime(s string) bool {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// detectType classifies raw cells. Numeric is checked before timestamp so that
// year-like integers stay numeric; only ISO dates are inferred without a hint.
func detectType(raw []string) ColumnType {
	var present, numeric, timestamps int
	for _, s := range raw {
		if isMissingToken(s) {
			continue
		}
		present++
		if _, ok := parseNumber(s); ok {
			numeric++
			continue
		}
		if isISOTime(s) {
			timestamps++
		}
	}
	if present == 0 {
		return TypeText
	}
	threshold := float64(present) * inferThreshold
	switch {
	case float64(numeric) >= threshold:
		return TypeNumeric
	case float64(timestamps) >= threshold:
		return TypeTimestamp
	default:
		return TypeText
	}
}

// convert turns raw cells into typed values. Cells that do not parse become missing,
// except in text columns where they are kept verbatim.
func convert(raw []string, typ ColumnType, dayFirst bool) []any {
	values := make([]any, len(raw))
	for i, s := range raw {
		switch typ {
		case TypeNumeric:
			if f, ok := parseNumber(s); ok {
				values[i] = f
			} else {
				values[i] = math.NaN()
			}
		case TypeTimestamp:
			if t, ok := ParseTime(s, dayFirst); ok {
				values[i] = t
			} else {
				values[i] = nil
			}
		default:
			if isMissingToken(s) {
				values[i] = nil
			} else {
				values[i] = s
			}
		}
	}
	return values
}

// Options control how raw tables are typed.
type Options struct {
	// DateColumns are parsed as day-first timestamps regardless of inference.
	DateColumns []string
}

func (o Options) isDateColumn(name string) bool {
	for _, c := range o.DateColumns {
		if c == name {
			return true
		}
	}
	return false
}

// FromRecords builds a typed dataset from a header and string rows. Short rows are
// padded with missing cells.
func FromRecords(header []string, rows [][]string, opts Options) (*Dataset, error) {
	cols := make([]*Column, len(header))
	for j, name := range header {
		raw := make([]string, len(rows))
		for i, row := range rows {
			if j < len(row) {
				raw[i] = row[j]
			}
		}
		name = strings.TrimSpace(name)
		typ := detectType(raw)
		dayFirst := false
		if opts.isDateColumn(name) {
			typ, dayFirst = TypeTimestamp, true
		}
		cols[j] = &Column{Name: name, Type: typ, Values: convert(raw, typ, dayFirst)}
	}
	return New(cols...)
}
