package signature

import (
	"sort"
	"strings"

	"github.com/jmerrifield20/clinledger/internal/ledger"
)

// Meaning states what a signer attests to by signing.
type Meaning string

const (
	MeaningCreatedBy      Meaning = "CREATED_BY"
	MeaningReviewedBy     Meaning = "REVIEWED_BY"
	MeaningApprovedBy     Meaning = "APPROVED_BY"
	MeaningVerifiedBy     Meaning = "VERIFIED_BY"
	MeaningAuthoredBy     Meaning = "AUTHORED_BY"
	MeaningResponsibleFor Meaning = "RESPONSIBLE_FOR"
)

// meanings is the closed registry of signature meanings and the statement
// printed next to each signature.
var meanings = map[Meaning]string{
	MeaningCreatedBy:      "I created this record",
	MeaningReviewedBy:     "I have reviewed this record",
	MeaningApprovedBy:     "I approve this record",
	MeaningVerifiedBy:     "I have verified this record against source data",
	MeaningAuthoredBy:     "I am the author of this record",
	MeaningResponsibleFor: "I take responsibility for this record",
}

func (m Meaning) String() string { return string(m) }

// Valid reports whether m is a registered meaning.
func (m Meaning) Valid() bool {
	_, ok := meanings[m]
	return ok
}

// Description returns the attestation statement for m.
func (m Meaning) Description() string { return meanings[m] }

// ParseMeaning converts s into a registered Meaning.
func ParseMeaning(s string) (Meaning, error) {
	m := Meaning(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", ledger.ValidationErrorf("unknown signature meaning %q", s)
	}
	return m, nil
}

// Meanings returns every registered meaning, sorted.
func Meanings() []Meaning {
	out := make([]Meaning, 0, len(meanings))
	for m := range meanings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
