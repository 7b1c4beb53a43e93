package packsize

import (
	"strconv"
	"strings"
)

// canSizes maps standard can designations to nominal fluid-ounce volume.
var canSizes = map[string]float64{
	"1":   10.5,
	"2":   20,
	"2.5": 28,
	"3":   46,
	"5":   56,
	"10":  109,
	"300": 14,
	"303": 16,
}

// CanSize returns the fluid-ounce volume of a can designation such as "10"
// (for "#10"). "2 1/2" and "2.5" are equivalent.
func CanSize(designation string) (float64, bool) {
	d := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(designation), "#"))
	d = strings.Join(strings.Fields(d), " ")
	if d == "2 1/2" {
		d = "2.5"
	}
	v, ok := canSizes[d]
	return v, ok
}

// ParseQuantity parses decimals ("2.5", ".5"), simple fractions ("1/2"), and
// mixed fractions ("1 1/2", "1-1/2").
func ParseQuantity(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	var whole, frac string
	switch {
	case strings.Contains(s, " "):
		parts := strings.Fields(s)
		if len(parts) != 2 {
			return 0, false
		}
		whole, frac = parts[0], parts[1]
	case strings.Contains(s, "-") && strings.Contains(s, "/"):
		whole, frac, _ = strings.Cut(s, "-")
	case strings.Contains(s, "/"):
		frac = s
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		return v, true
	}

	total := 0.0
	if whole != "" {
		w, err := strconv.ParseFloat(whole, 64)
		if err != nil || w < 0 {
			return 0, false
		}
		total = w
	}
	num, den, ok := strings.Cut(frac, "/")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return total + n/d, true
}

func parseCount(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
