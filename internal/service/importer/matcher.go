package importer

import (
	"strings"

	"github.com/jwalitptl/clinic-records/internal/model"
)

// NameMatcher decides whether an incoming row describes the patient already
// stored under the same identifier.
type NameMatcher interface {
	Match(existing *model.Patient, incoming *NormalizedPatient) bool
}

// ExactNameMatcher compares trimmed, case-folded first and last names.
type ExactNameMatcher struct{}

func (ExactNameMatcher) Match(existing *model.Patient, incoming *NormalizedPatient) bool {
	return foldName(existing.FirstName, existing.LastName) == foldName(incoming.FirstName, incoming.LastName)
}

func foldName(first, last string) string {
	return strings.ToLower(strings.Join(strings.Fields(first+" "+last), " "))
}
