package parser

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// CleanText applies NFKC normalization (folding non-breaking spaces into
// plain spaces) and collapses runs of whitespace.
func CleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// ParseAmount normalizes a portal currency string such as "$ 1.234.567,00"
// into a plain non-negative decimal.
//
// A single separator followed by exactly three digits is a thousands
// separator; otherwise the right-most separator is the decimal point.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := CleanText(s)
	if strings.HasPrefix(clean, "-") || strings.HasPrefix(clean, "(") ||
		strings.Contains(clean, "$-") || strings.Contains(clean, "$ -") {
		return decimal.Zero, eris.Errorf("parser: negative amount %q", s)
	}

	var b strings.Builder
	digits := 0
	for _, r := range clean {
		switch {
		case r >= '0' && r <= '9':
			digits++
			b.WriteRune(r)
		case r == '.' || r == ',':
			b.WriteRune(r)
		}
	}
	if digits == 0 {
		return decimal.Zero, eris.Errorf("parser: no digits in amount %q", s)
	}
	num := strings.Trim(b.String(), ".,")

	lastDot := strings.LastIndexByte(num, '.')
	lastComma := strings.LastIndexByte(num, ',')

	var plain string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		dec, thousands := ".", ","
		if lastComma > lastDot {
			dec, thousands = ",", "."
		}
		plain = strings.ReplaceAll(num, thousands, "")
		plain = strings.Replace(plain, dec, ".", 1)
	case lastComma >= 0:
		plain = resolveSingleSeparator(num, ",")
	case lastDot >= 0:
		plain = resolveSingleSeparator(num, ".")
	default:
		plain = num
	}

	amount, err := decimal.NewFromString(plain)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "parser: amount %q", s)
	}
	if amount.IsNegative() {
		return decimal.Zero, eris.Errorf("parser: negative amount %q", s)
	}
	return amount, nil
}

func resolveSingleSeparator(num, sep string) string {
	if strings.Count(num, sep) > 1 {
		return strings.ReplaceAll(num, sep, "")
	}
	idx := strings.LastIndex(num, sep)
	if len(num)-idx-1 == 3 {
		return strings.ReplaceAll(num, sep, "")
	}
	return strings.Replace(num, sep, ".", 1)
}

var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2006-01-02",
	"2006/01/02",
	"2.1.2006",
}

// ParseDate reads a portal date (day first, e.g. "05/01/2026") into a UTC
// calendar date. A trailing time component is ignored.
func ParseDate(s string) (time.Time, error) {
	clean := CleanText(s)
	if clean == "" {
		return time.Time{}, eris.New("parser: empty date")
	}
	if i := strings.IndexAny(clean, " T"); i > 0 {
		clean = clean[:i]
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, clean)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, eris.Errorf("parser: unrecognized date %q", s)
}

// NormalizeIdentifier strips separators and whitespace so "900.123.456"
// and "900123456" compare equal.
func NormalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range CleanText(s) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}
