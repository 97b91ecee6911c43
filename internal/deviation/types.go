package deviation

import (
	"strings"

	"github.com/jmerrifield20/clinledger/internal/ledger"
)

// Severity grades a protocol deviation.
type Severity string

const (
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
)

var severities = map[Severity]bool{
	SeverityMinor:    true,
	SeverityMajor:    true,
	SeverityCritical: true,
}

func (s Severity) String() string { return string(s) }

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool { return severities[s] }

// ParseSeverity converts s into a Severity.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", ledger.ValidationErrorf("unknown severity %q", s)
	}
	return v, nil
}

// Category classifies what part of the protocol was deviated from.
type Category string

const (
	CategoryEligibility     Category = "ELIGIBILITY"
	CategoryInformedConsent Category = "INFORMED_CONSENT"
	CategoryDosing          Category = "DOSING"
	CategoryVisitWindow     Category = "VISIT_WINDOW"
	CategoryProcedure       Category = "PROCEDURE"
	CategorySafetyReporting Category = "SAFETY_REPORTING"
	CategoryDataHandling    Category = "DATA_HANDLING"
	CategoryOther           Category = "OTHER"
)

var categories = map[Category]bool{
	CategoryEligibility:     true,
	CategoryInformedConsent: true,
	CategoryDosing:          true,
	CategoryVisitWindow:     true,
	CategoryProcedure:       true,
	CategorySafetyReporting: true,
	CategoryDataHandling:    true,
	CategoryOther:           true,
}

func (c Category) String() string { return string(c) }

// Valid reports whether c is a known category.
func (c Category) Valid() bool { return categories[c] }

// ParseCategory converts s into a Category.
func ParseCategory(s string) (Category, error) {
	v := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", ledger.ValidationErrorf("unknown deviation category %q", s)
	}
	return v, nil
}
