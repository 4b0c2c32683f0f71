package session

import (
	"errors"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// MinPasswordLength is the shortest password accepted by Register and ResetPassword.
const MinPasswordLength = 8

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func engine() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("password", strongPassword)
	})
	return validate
}

// strongPassword requires MinPasswordLength runes with upper-case, lower-case and a digit.
func strongPassword(fl validator.FieldLevel) bool {
	s := fl.Field().String()

	var n int
	var upper, lower, digit bool
	for _, r := range s {
		n++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return n >= MinPasswordLength && upper && lower && digit
}

type rule struct {
	field string
	value string
	tag   string
}

// check runs every rule and collects failures into a *authsession.ValidationError.
func check(rules ...rule) error {
	fields := make(map[string]string)
	for _, r := range rules {
		err := engine().Var(r.value, r.tag)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fields[r.field] = message(verrs[0].Tag())
		} else {
			fields[r.field] = "is invalid"
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &authsession.ValidationError{Fields: fields}
}

func message(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "password":
		return "must be at least 8 characters and mix upper-case, lower-case and digits"
	case "max":
		return "is too long"
	default:
		return "is invalid"
	}
}

const (
	emailRule    = "required,email,max=254"
	passwordRule = "required,password,max=128"
	nameRule     = "required,max=100"
)
