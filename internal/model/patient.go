package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Patient is one clinic patient record. ID is the clinic-issued identifier.
type Patient struct {
	ID                       string          `db:"id" json:"id"`
	FirstName                string          `db:"first_name" json:"first_name"`
	MiddleName               string          `db:"middle_name" json:"middle_name"`
	LastName                 string          `db:"last_name" json:"last_name"`
	BirthDate                *time.Time      `db:"birth_date" json:"birth_date,omitempty"`
	Age                      int             `db:"age" json:"age"`
	Gender                   string          `db:"gender" json:"gender"`
	PhoneNumber              string          `db:"phone_number" json:"phone_number"`
	Address                  string          `db:"address" json:"address"`
	Purpose                  string          `db:"purpose" json:"purpose"`
	Diagnosis                string          `db:"diagnosis" json:"diagnosis"`
	Medication               string          `db:"medication" json:"medication"`
	Nationality              string          `db:"nationality" json:"nationality"`
	SocialSecurityID         string          `db:"social_security_id" json:"social_security_id"`
	SocialSecurityExpiration *time.Time      `db:"social_security_expiration" json:"social_security_expiration,omitempty"`
	SocialSecurityCompany    string          `db:"social_security_company" json:"social_security_company"`
	Balance                  decimal.Decimal `db:"balance" json:"balance"`
	Registered               *time.Time      `db:"registered" json:"registered,omitempty"`
	Timestamps
}

// FullName joins the non-empty name parts.
func (p *Patient) FullName() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.FirstName, p.MiddleName, p.LastName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// PatientFilter narrows patient listings.
type PatientFilter struct {
	Search string `form:"search"`
	Pagination
}

type CreatePatientRequest struct {
	ID                       string          `json:"id" binding:"required,max=32"`
	FirstName                string          `json:"first_name" binding:"required,max=100"`
	MiddleName               string          `json:"middle_name" binding:"max=100"`
	LastName                 string          `json:"last_name" binding:"max=100"`
	BirthDate                *time.Time      `json:"birth_date"`
	Age                      int             `json:"age" binding:"gte=0,lte=150"`
	Gender                   string          `json:"gender"`
	PhoneNumber              string          `json:"phone_number" binding:"max=32"`
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

// ToPatient copies the request into a new record.
func (r *CreatePatientRequest) ToPatient() *Patient {
	return &Patient{
		ID:                       strings.TrimSpace(r.ID),
		FirstName:                r.FirstName,
		MiddleName:               r.MiddleName,
		LastName:                 r.LastName,
		BirthDate:                r.BirthDate,
		Age:                      r.Age,
		Gender:                   NormalizeGender(r.Gender),
		PhoneNumber:              r.PhoneNumber,
		Address:                  r.Address,
		Purpose:                  r.Purpose,
		Diagnosis:                r.Diagnosis,
		Medication:               r.Medication,
		Nationality:              r.Nationality,
		SocialSecurityID:         r.SocialSecurityID,
		SocialSecurityExpiration: r.SocialSecurityExpiration,
		SocialSecurityCompany:    r.SocialSecurityCompany,
		Balance:                  r.Balance.Round(2),
		Registered:               r.Registered,
	}
}

// UpdatePatientRequest is a partial update; nil fields are left alone.
type UpdatePatientRequest struct {
	FirstName                *string          `json:"first_name" binding:"omitempty,max=100"`
	MiddleName               *string          `json:"middle_name" binding:"omitempty,max=100"`
	LastName                 *string          `json:"last_name" binding:"omitempty,max=100"`
	BirthDate                *time.Time       `json:"birth_date"`
	Age                      *int             `json:"age" binding:"omitempty,gte=0,lte=150"`
	Gender                   *string          `json:"gender"`
	PhoneNumber              *string          `json:"phone_number" binding:"omitempty,max=32"`
	Address                  *string          `json:"address"`
	Purpose                  *string          `json:"purpose"`
	Diagnosis                *string          `json:"diagnosis"`
	Medication               *string          `json:"medication"`
	Nationality              *string          `json:"nationality"`
	SocialSecurityID         *string          `json:"social_security_id"`
	SocialSecurityExpiration *time.Time       `json:"social_security_expiration"`
	SocialSecurityCompany    *string          `json:"social_security_company"`
	Balance                  *decimal.Decimal `json:"balance"`
	Registered               *time.Time       `json:"registered"`
}

// Apply writes the non-nil fields onto p and returns the changed columns
// with their new values.
func (r *UpdatePatientRequest) Apply(p *Patient) map[string]interface{} {
	changes := make(map[string]interface{})
	setString := func(col string, dst *string, v *string) {
		if v != nil && *dst != *v {
			*dst = *v
			changes[col] = *v
		}
	}
	setTime := func(col string, dst **time.Time, v *time.Time) {
		if v != nil {
			t := *v
			*dst = &t
			changes[col] = t
		}
	}

	setString("first_name", &p.FirstName, r.FirstName)
	setString("middle_name", &p.MiddleName, r.MiddleName)
	setString("last_name", &p.LastName, r.LastName)
	setTime("birth_date", &p.BirthDate, r.BirthDate)
	if r.Age != nil && p.Age != *r.Age {
		p.Age = *r.Age
		changes["age"] = *r.Age
	}
	if r.Gender != nil {
		g := NormalizeGender(*r.Gender)
		setString("gender", &p.Gender, &g)
	}
	setString("phone_number", &p.PhoneNumber, r.PhoneNumber)
	setString("address", &p.Address, r.Address)
	setString("purpose", &p.Purpose, r.Purpose)
	setString("diagnosis", &p.Diagnosis, r.Diagnosis)
	setString("medication", &p.Medication, r.Medication)
	setString("nationality", &p.Nationality, r.Nationality)
	setString("social_security_id", &p.SocialSecurityID, r.SocialSecurityID)
	setTime("social_security_expiration", &p.SocialSecurityExpiration, r.SocialSecurityExpiration)
	setString("social_security_company", &p.SocialSecurityCompany, r.SocialSecurityCompany)
	if r.Balance != nil {
		b := r.Balance.Round(2)
		if !p.Balance.Equal(b) {
			p.Balance = b
			changes["balance"] = b.StringFixed(2)
		}
	}
	setTime("registered", &p.Registered, r.Registered)
	return changes
}

type ChangeIdentifierRequest struct {
	NewID string `json:"new_id" binding:"required,max=32"`
}
