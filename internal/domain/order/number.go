package order

import (
	"regexp"
	"strings"
	"time"
)

// NumberSuffixLen is the length of the random base36 part of an order number.
const NumberSuffixLen = 5

var numberPattern = regexp.MustCompile(`^ORD-\d{8}-[0-9A-Z]{5}$`)

// FormatNumber renders ORD-YYYYMMDD-XXXXX for the given day and suffix.
func FormatNumber(at time.Time, suffix string) string {
	return "ORD-" + at.UTC().Format("20060102") + "-" + strings.ToUpper(suffix)
}

// ValidNumber reports whether s looks like an order number rather than an id.
func ValidNumber(s string) bool {
	return numberPattern.MatchString(s)
}
