package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// Validator provides validation functionality
type Validator interface {
	Validate(interface{}) error
}

// FieldError is the first failing field of a struct.
type FieldError struct {
	Field string
	Rule  string
	Value interface{}
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s failed %s validation", e.Field, e.Rule)
}

type validator struct {
	v *playground.Validate
}

// New returns a validator reading `validate` tags and reporting fields by
// their json name.
func New() Validator {
	v := playground.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &validator{v: v}
}

func (v *validator) Validate(obj interface{}) error {
	err := v.v.Struct(obj)
	if err == nil {
		return nil
	}

	var fieldErrs playground.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &FieldError{Field: fe.Field(), Rule: fe.Tag(), Value: fe.Value()}
	}
	return err
}
