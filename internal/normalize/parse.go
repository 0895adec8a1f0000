package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// numberNoise lists glyphs stripped before numeric parsing: thousands
// separators, whitespace, percent signs and currency markers.
var numberNoise = strings.NewReplacer(
	",", "",
	" ", "",
	"\u00a0", "",
	"\t", "",
	"%", "",
	"₩", "",
	"￦", "",
	"원", "",
	"$", "",
)

// isBlankValue reports whether s is one of the placeholder values that mean "no data".
func isBlankValue(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "-" || strings.EqualFold(s, "N/A") || strings.EqualFold(s, "NA")
}

// parseNumberOK parses s leniently. ok is false only when s carried a value
// that could not be parsed; blank placeholders parse to (0, true).
func parseNumberOK(s string) (float64, bool) {
	if isBlankValue(s) {
		return 0, true
	}
	cleaned := numberNoise.Replace(strings.TrimSpace(s))
	if isBlankValue(cleaned) {
		return 0, true
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseNumber parses a numeric cell using the lenient parsing policy:
// thousands separators, whitespace, "%" and currency glyphs are stripped;
// empty strings, "-" and "N/A" parse to 0; anything unparseable also parses
// to 0. It never fails. Callers that need to report bad cells should go
// through Normalizer, which records an Issue for every unparseable value.
func ParseNumber(s string) float64 {
	v, _ := parseNumberOK(s)
	return v
}

// ParsePercent parses a percentage cell with the same policy as ParseNumber.
// Values are stored as already-percent ("88.1" means 88.1%); no scaling is applied.
func ParsePercent(s string) float64 {
	return ParseNumber(s)
}

// parseCount parses a head-count cell, rounding and clamping at zero.
func parseCount(s string) (int, bool) {
	v, ok := parseNumberOK(s)
	if v < 0 {
		v = 0
	}
	return int(math.Round(v)), ok
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006.01.02",
	"2006.1.2",
	"2006/01/02",
	"2006/1/2",
	"20060102",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
}

var koreanDate = strings.NewReplacer(
	"년", "-",
	"월", "-",
	"일", "",
	" ", "",
)

// ErrEmptyDate is returned by ParseDate for blank cells.
var ErrEmptyDate = eris.New("normalize: empty date")

// ParseDate parses an ISO or Korean-locale date string into a calendar date
// (midnight UTC). Unlike the numeric parsers it reports failure; the caller
// decides the fallback policy.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if isBlankValue(s) {
		return time.Time{}, ErrEmptyDate
	}

	candidates := []string{s}
	if strings.ContainsAny(s, "년월일") {
		candidates = append(candidates, strings.TrimRight(koreanDate.Replace(s), "-"))
	}
	if strings.Contains(s, ". ") || strings.HasSuffix(s, ".") {
		compact := strings.TrimRight(strings.ReplaceAll(s, ". ", "."), ".")
		candidates = append(candidates, compact)
	}

	for _, c := range candidates {
		for _, layout := range dateLayouts {
			t, err := time.Parse(layout, c)
			if err == nil {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
	}
	return time.Time{}, eris.Errorf("normalize: unrecognized date %q", s)
}

// isPresent reports whether a reference cell (partner, sponsor) carries a value.
// The source data uses "0" as an explicit "none".
func isPresent(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "0"
}
