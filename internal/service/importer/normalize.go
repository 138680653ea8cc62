package importer

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/pkg/validator"
)

// Spreadsheet column headers.
const (
	ColUHID                     = "UHID"
	ColFullName                 = "FullName"
	ColDob                      = "Dob"
	ColAge                      = "Age"
	ColRegistered               = "Registered"
	ColMobile                   = "Mobile"
	ColGender                   = "Gender"
	ColBalance                  = "Balance"
	ColDiagnosis                = "Diagnosis"
	ColAddress                  = "Address"
	ColMedication               = "Medication"
	ColNationality              = "Nationality"
	ColSocialSecurityID         = "SocialSecurityId"
	ColSocialSecurityExpiration = "SocialSecurityExpiration"
	ColSocialSecurityCompany    = "SocialSecurityCompany"
	ColPurpose                  = "Purpose"
)

const (
	MaxIdentifierLength = 7
	// spreadsheet day 25569 is 1970-01-01
	serialEpochOffset = 25569
	msPerDay          = 86400000
)

// ErrSkipRow marks an incomplete row that is ignored rather than failed.
var ErrSkipRow = errors.New("row skipped: no name")

type ErrorKind string

const (
	InvalidIdentifier ErrorKind = "InvalidIdentifier"
	InvalidDate       ErrorKind = "InvalidDate"
	FutureBirthDate   ErrorKind = "FutureBirthDate"
	AgeMismatch       ErrorKind = "AgeMismatch"
	InvalidAge        ErrorKind = "InvalidAge"
	InvalidAmount     ErrorKind = "InvalidAmount"
	InvalidField      ErrorKind = "InvalidField"
)

type ValidationError struct {
	Kind    ErrorKind
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(kind ErrorKind, field, value, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Value: value, Message: fmt.Sprintf(format, args...)}
}

// RawRow is one spreadsheet row keyed by column header.
type RawRow map[string]string

// Get looks a column up ignoring case, spaces and underscores.
func (r RawRow) Get(column string) string {
	if v, ok := r[column]; ok {
		return strings.TrimSpace(v)
	}
	want := headerKey(column)
	for k, v := range r {
		if headerKey(k) == want {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func headerKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '\t', '\u00a0':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// NormalizedPatient is a row that passed every check.
type NormalizedPatient struct {
	ID                       string          `json:"id" validate:"required,max=32"`
	FirstName                string          `json:"first_name" validate:"required,max=100"`
	LastName                 string          `json:"last_name" validate:"max=100"`
	BirthDate                *time.Time      `json:"birth_date"`
	Age                      int             `json:"age" validate:"gte=0,lte=150"`
	Gender                   string          `json:"gender"`
	PhoneNumber              string          `json:"phone_number" validate:"max=32"`
	Address                  string          `json:"address"`
	Purpose                  string          `json:"purpose"`
	Diagnosis                string          `json:"diagnosis"`
	Medication               string          `json:"medication"`
	Nationality              string          `json:"nationality"`
	SocialSecurityID         string          `json:"social_security_id"`
	SocialSecurityExpiration *time.Time      `json:"social_security_expiration"`
	SocialSecurityCompany    string          `json:"social_security_company"`
	Balance                  decimal.Decimal `json:"balance"`
	Registered               *time.Time      `json:"registered"`
}

// FullName is first and last name as compared by the matcher.
func (n *NormalizedPatient) FullName() string {
	return strings.TrimSpace(n.FirstName + " " + n.LastName)
}

// ToPatient builds a new record with the given identifier.
func (n *NormalizedPatient) ToPatient(id string) *model.Patient {
	p := &model.Patient{ID: id}
	n.ApplyTo(p)
	return p
}

// ApplyTo overwrites the mutable fields of p.
func (n *NormalizedPatient) ApplyTo(p *model.Patient) {
	p.FirstName = n.FirstName
	p.LastName = n.LastName
	p.BirthDate = n.BirthDate
	p.Age = n.Age
	p.Gender = n.Gender
	p.PhoneNumber = n.PhoneNumber
	p.Address = n.Address
	p.Purpose = n.Purpose
	p.Diagnosis = n.Diagnosis
	p.Medication = n.Medication
	p.Nationality = n.Nationality
	p.SocialSecurityID = n.SocialSecurityID
	p.SocialSecurityExpiration = n.SocialSecurityExpiration
	p.SocialSecurityCompany = n.SocialSecurityCompany
	p.Balance = n.Balance
	p.Registered = n.Registered
}

// Raw renders the canonical row that normalizes back to n.
func (n *NormalizedPatient) Raw() RawRow {
	row := RawRow{
		ColUHID:                  n.ID,
		ColFullName:              n.FullName(),
		ColAge:                   strconv.Itoa(n.Age),
		ColMobile:                n.PhoneNumber,
		ColGender:                n.Gender,
		ColBalance:               n.Balance.StringFixed(2),
		ColDiagnosis:             n.Diagnosis,
		ColAddress:               n.Address,
		ColMedication:            n.Medication,
		ColNationality:           n.Nationality,
		ColSocialSecurityID:      n.SocialSecurityID,
		ColSocialSecurityCompany: n.SocialSecurityCompany,
		ColPurpose:               n.Purpose,
	}
	if n.BirthDate != nil {
		row[ColDob] = n.BirthDate.Format("2006-01-02")
	}
	if n.SocialSecurityExpiration != nil {
		row[ColSocialSecurityExpiration] = n.SocialSecurityExpiration.Format("2006-01-02")
	}
	if n.Registered != nil {
		row[ColRegistered] = n.Registered.Format(time.RFC3339)
	}
	return row
}

type Option func(*Normalizer)

// WithClock fixes "today" for date and age checks.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// WithPrefixes replaces the vendor prefixes stripped from identifiers.
func WithPrefixes(prefixes ...string) Option {
	return func(n *Normalizer) {
		n.prefixes = prefixes
	}
}

type Normalizer struct {
	prefixes []string
	now      func() time.Time
	validate validator.Validator
}

func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		prefixes: []string{"MKC", "UHID"},
		now:      time.Now,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NormalizeRow coerces one raw row. It returns ErrSkipRow for rows without
// a name and *ValidationError for bad data.
func (n *Normalizer) NormalizeRow(raw RawRow) (*NormalizedPatient, error) {
	fullName := raw.Get(ColFullName)
	if fullName == "" {
		return nil, ErrSkipRow
	}

	id, err := n.NormalizeIdentifier(raw.Get(ColUHID))
	if err != nil {
		return nil, err
	}

	// calendar date in the clock's zone, comparable with parsed dates
	today := truncateDay(n.now())
	out := &NormalizedPatient{
		ID:                    id,
		Gender:                model.NormalizeGender(raw.Get(ColGender)),
		PhoneNumber:           raw.Get(ColMobile),
		Address:               raw.Get(ColAddress),
		Purpose:               raw.Get(ColPurpose),
		Diagnosis:             raw.Get(ColDiagnosis),
		Medication:            raw.Get(ColMedication),
		Nationality:           raw.Get(ColNationality),
		SocialSecurityID:      raw.Get(ColSocialSecurityID),
		SocialSecurityCompany: raw.Get(ColSocialSecurityCompany),
	}
	out.FirstName, out.LastName = splitName(fullName)

	if out.BirthDate, err = parseOptionalDate(ColDob, raw.Get(ColDob)); err != nil {
		return nil, err
	}
	if out.BirthDate != nil {
		d := truncateDay(*out.BirthDate)
		out.BirthDate = &d
		if d.After(today) {
			return nil, newValidationError(FutureBirthDate, ColDob, raw.Get(ColDob),
				"birth date %s is in the future", d.Format("2006-01-02"))
		}
	}
	if out.Registered, err = parseOptionalDate(ColRegistered, raw.Get(ColRegistered)); err != nil {
		return nil, err
	}
	if out.SocialSecurityExpiration, err = parseOptionalDate(ColSocialSecurityExpiration, raw.Get(ColSocialSecurityExpiration)); err != nil {
		return nil, err
	}

	if out.Age, err = resolveAge(raw.Get(ColAge), out.BirthDate, today); err != nil {
		return nil, err
	}
	if out.Balance, err = ParseAmount(raw.Get(ColBalance)); err != nil {
		return nil, err
	}

	if err := n.validate.Validate(out); err != nil {
		var fe *validator.FieldError
		if errors.As(err, &fe) {
			return nil, newValidationError(InvalidField, fe.Field, fmt.Sprint(fe.Value),
				"invalid %s: failed %s check", fe.Field, fe.Rule)
		}
		return nil, err
	}
	return out, nil
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

// NormalizeIdentifier strips a vendor prefix and separators and keeps the
// last seven characters. The steps repeat until the value is stable, so a
// normalized identifier normalizes to itself.
func (n *Normalizer) NormalizeIdentifier(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	for {
		next := n.stripIdentifier(s)
		if next == s {
			break
		}
		s = next
	}
	if s == "" {
		return "", newValidationError(InvalidIdentifier, ColUHID, raw, "UHID is required")
	}
	return s, nil
}

func (n *Normalizer) stripIdentifier(s string) string {
	upper := strings.ToUpper(s)
	for _, p := range n.prefixes {
		if p != "" && strings.HasPrefix(upper, strings.ToUpper(p)) {
			s = s[len(p):]
			break
		}
	}
	s = nonAlnum.ReplaceAllString(s, "")
	if len(s) > MaxIdentifierLength {
		s = s[len(s)-MaxIdentifierLength:]
	}
	return s
}

// ValidateIdentifier checks an identifier chosen by hand, e.g. on rename.
func ValidateIdentifier(id string) error {
	if id == "" || len(id) > 32 || strings.ContainsAny(id, " \t\r\n/") {
		return newValidationError(InvalidIdentifier, "id", id, "invalid identifier %q", id)
	}
	return nil
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

var dmyPattern = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})$`)

var isoLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseDate tries a spreadsheet serial number, then DD/MM/YYYY or
// DD-MM-YYYY, then ISO forms.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial <= 0 || math.IsInf(serial, 0) || math.IsNaN(serial) {
			return time.Time{}, false
		}
		ms := math.Round((serial - serialEpochOffset) * msPerDay)
		return time.UnixMilli(int64(ms)).UTC(), true
	}

	if m := dmyPattern.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		// time.Date rolls 31/02 into March
		if t.Day() != day || int(t.Month()) != month {
			return time.Time{}, false
		}
		return t, true
	}

	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseOptionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, ok := ParseDate(s)
	if !ok {
		return nil, newValidationError(InvalidDate, field, s, "invalid date format for %s: %q", field, s)
	}
	return &t, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ComputeAge is the number of whole years between birth and today.
func ComputeAge(birth, today time.Time) int {
	age := today.Year() - birth.Year()
	if today.Month() < birth.Month() || (today.Month() == birth.Month() && today.Day() < birth.Day()) {
		age--
	}
	return age
}

func resolveAge(raw string, birth *time.Time, today time.Time) (int, error) {
	if raw == "" {
		if birth == nil {
			return 0, nil
		}
		return ComputeAge(*birth, today), nil
	}

	supplied, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != math.Trunc(f) {
			return 0, newValidationError(InvalidAge, ColAge, raw, "invalid age format: %q", raw)
		}
		supplied = int(f)
	}
	if birth == nil {
		return supplied, nil
	}

	computed := ComputeAge(*birth, today)
	if diff := supplied - computed; diff > 1 || diff < -1 {
		return 0, newValidationError(AgeMismatch, ColAge, raw,
			"age %d does not match birth date (computed %d)", supplied, computed)
	}
	return supplied, nil
}

var amountStrip = regexp.MustCompile(`[^0-9.\-]`)

// ParseAmount keeps digits, dots and minus signs and rounds to cents.
// Blank input is zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	cleaned := amountStrip.ReplaceAllString(s, "")
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, newValidationError(InvalidAmount, ColBalance, s, "invalid balance format: %q", s)
	}
	return d.Round(2), nil
}
