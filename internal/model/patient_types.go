package model

import "strings"

const (
	GenderMale   = "male"
	GenderFemale = "female"
	GenderOther  = "other"
)

// NormalizeGender maps common spellings onto the enum and keeps free text otherwise.
func NormalizeGender(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "m", "male", "man":
		return GenderMale
	case "f", "female", "woman":
		return GenderFemale
	case "o", "other":
		return GenderOther
	}
	return strings.TrimSpace(s)
}
