package importer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedToday = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(WithClock(func() time.Time { return fixedToday }))
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	assert.Equal(t, kind, verr.Kind)
}

func TestNormalizeLeapDayBirth(t *testing.T) {
	n, err := newTestNormalizer().NormalizeRow(RawRow{
		"UHID":     "MKC1234567",
		"FullName": "Ann Lee",
		"Dob":      "29/02/2020",
		"Age":      "5",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n.Age)
	assert.Equal(t, time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC), *n.BirthDate)
}

func TestNormalizeBalance(t *testing.T) {
	n, err := newTestNormalizer().NormalizeRow(RawRow{
		"UHID":     "1",
		"FullName": "Ann",
		"Balance":  "1,234.50 USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "1234.50", n.Balance.StringFixed(2))

	n, err = newTestNormalizer().NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Balance": "12.345"})
	require.NoError(t, err)
	assert.Equal(t, "12.35", n.Balance.StringFixed(2))

	n, err = newTestNormalizer().NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann"})
	require.NoError(t, err)
	assert.True(t, n.Balance.IsZero())

	_, err = newTestNormalizer().NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Balance": "n/a"})
	requireKind(t, err, InvalidAmount)
}

func TestNormalizeIdentifier(t *testing.T) {
	norm := newTestNormalizer()
	tests := []struct {
		raw  string
		want string
	}{
		{"MKC1234567", "1234567"},
		{"mkc0012345678", "2345678"},
		{"UHID-98 76", "9876"},
		{" 42 ", "42"},
		{"AB/12/34", "AB1234"},
		// the kept tail starts with a prefix, which is stripped as well
		{"MKC00MKC1234", "1234"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := norm.NormalizeIdentifier(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := norm.NormalizeIdentifier("")
	requireKind(t, err, InvalidIdentifier)
	_, err = norm.NormalizeIdentifier("MKCMKC")
	requireKind(t, err, InvalidIdentifier)
	_, err = norm.NormalizeIdentifier("MKC--")
	requireKind(t, err, InvalidIdentifier)
}

func TestNormalizeCustomPrefixes(t *testing.T) {
	norm := NewNormalizer(WithPrefixes("HN"))
	got, err := norm.NormalizeIdentifier("HN555")
	require.NoError(t, err)
	assert.Equal(t, "555", got)

	got, err = norm.NormalizeIdentifier("MKC555")
	require.NoError(t, err)
	assert.Equal(t, "MKC555", got)
}

func TestNormalizeSkipsRowsWithoutName(t *testing.T) {
	_, err := newTestNormalizer().NormalizeRow(RawRow{"UHID": "1234567", "FullName": "  "})
	assert.ErrorIs(t, err, ErrSkipRow)

	_, err = newTestNormalizer().NormalizeRow(RawRow{})
	assert.ErrorIs(t, err, ErrSkipRow)
}

func TestNormalizeSplitsName(t *testing.T) {
	n, err := newTestNormalizer().NormalizeRow(RawRow{"UHID": "1", "FullName": " Nguyen  Van An "})
	require.NoError(t, err)
	assert.Equal(t, "Nguyen", n.FirstName)
	assert.Equal(t, "Van An", n.LastName)
}

func TestNormalizeHeadersIgnoreCaseAndSpacing(t *testing.T) {
	n, err := newTestNormalizer().NormalizeRow(RawRow{
		"uhid":                     "7",
		"Full Name":                "Ann Lee",
		"MOBILE":                   "0812345678",
		"social_security_id":       "SS-1",
		"Social Security Company":  "ACME",
		"socialsecurityexpiration": "01/12/2026",
		"gender":                   "F",
	})
	require.NoError(t, err)
	assert.Equal(t, "0812345678", n.PhoneNumber)
	assert.Equal(t, "SS-1", n.SocialSecurityID)
	assert.Equal(t, "ACME", n.SocialSecurityCompany)
	assert.Equal(t, "female", n.Gender)
	require.NotNil(t, n.SocialSecurityExpiration)
	assert.Equal(t, time.December, n.SocialSecurityExpiration.Month())
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"43831", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"43831.5", time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"05/03/1990", time.Date(1990, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"5-3-1990", time.Date(1990, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"1990-03-05", time.Date(1990, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"1990-03-05T08:30:00Z", time.Date(1990, 3, 5, 8, 30, 0, 0, time.UTC)},
		{"1990-03-05T08:30:00+07:00", time.Date(1990, 3, 5, 1, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	for _, bad := range []string{"", "31/02/2020", "13/13/2020", "yesterday", "-5"} {
		_, ok := ParseDate(bad)
		assert.False(t, ok, bad)
	}
}

func TestNormalizeDateErrors(t *testing.T) {
	_, err := newTestNormalizer().NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Dob": "garbage"})
	requireKind(t, err, InvalidDate)
	assert.Equal(t, `invalid date format for Dob: "garbage"`, err.Error())

	_, err = newTestNormalizer().NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Dob": "02/06/2025"})
	requireKind(t, err, FutureBirthDate)

	_, err = newTestNormalizer().NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Registered": "soon"})
	requireKind(t, err, InvalidDate)
}

func TestNormalizeAbsentOptionalDates(t *testing.T) {
	n, err := newTestNormalizer().NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "SocialSecurityExpiration": ""})
	require.NoError(t, err)
	assert.Nil(t, n.SocialSecurityExpiration)
	assert.Nil(t, n.BirthDate)
	assert.Nil(t, n.Registered)
	assert.Equal(t, 0, n.Age)
}

func TestNormalizeAge(t *testing.T) {
	norm := newTestNormalizer()

	n, err := norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Dob": "1990-06-02"})
	require.NoError(t, err)
	assert.Equal(t, 34, n.Age)

	n, err = norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Dob": "1990-06-02", "Age": "35"})
	require.NoError(t, err)
	assert.Equal(t, 35, n.Age)

	_, err = norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Dob": "1990-06-02", "Age": "40"})
	requireKind(t, err, AgeMismatch)

	_, err = norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Age": "abc"})
	requireKind(t, err, InvalidAge)

	_, err = norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Age": "5.5"})
	requireKind(t, err, InvalidAge)

	n, err = norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Age": "41.0"})
	require.NoError(t, err)
	assert.Equal(t, 41, n.Age)

	_, err = norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Ann", "Dob": "1800-01-01"})
	requireKind(t, err, InvalidField)
}

func TestNormalizeBirthTodayEastOfUTC(t *testing.T) {
	ict := time.FixedZone("ICT", 7*3600)
	norm := NewNormalizer(WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 30, 0, 0, ict) }))

	p, err := norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Baby Lee", "Dob": "01/06/2025"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *p.BirthDate)
	assert.Equal(t, 0, p.Age)

	_, err = norm.NormalizeRow(RawRow{"UHID": "1", "FullName": "Baby Lee", "Dob": "02/06/2025"})
	requireKind(t, err, FutureBirthDate)
}

func TestComputeAge(t *testing.T) {
	birth := time.Date(2000, 6, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 24, ComputeAge(birth, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 25, ComputeAge(birth, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 24, ComputeAge(birth, time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC)))
}

func TestNormalizeIsIdempotent(t *testing.T) {
	norm := newTestNormalizer()
	rows := []RawRow{
		{"UHID": "MKC0001234", "FullName": "Ann Lee", "Dob": "29/02/2020", "Age": "5", "Balance": "1,234.50 USD"},
		{"UHID": "77", "FullName": "Somchai Jai Dee", "Dob": "33000", "Registered": "2024-01-02T03:04:05Z",
			"Mobile": "081", "Gender": "m", "SocialSecurityExpiration": "1-1-2030", "Diagnosis": "flu"},
		{"UHID": "abc", "FullName": "X", "Age": "70", "Address": "1 Road", "Nationality": "TH", "Purpose": "checkup"},
		{"UHID": "MKC00MKC1234", "FullName": "Dee Lee"},
		{"UHID": "uhid-12-UHID9", "FullName": "Eve Lee"},
	}

	for _, raw := range rows {
		first, err := norm.NormalizeRow(raw)
		require.NoError(t, err)
		second, err := norm.NormalizeRow(first.Raw())
		require.NoError(t, err)

		assert.True(t, first.Balance.Equal(second.Balance))
		second.Balance = first.Balance
		assert.Equal(t, first, second)
	}
}
