package service

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"authsvc/internal/apperr"
)

var (
	hasLetter = regexp.MustCompile(`[A-Za-z]`)
	hasDigit  = regexp.MustCompile(`[0-9]`)
	hasSymbol = regexp.MustCompile(`[^A-Za-z0-9]`)
)

var passwordRules = []validation.Rule{
	validation.Required,
	validation.Length(8, 128),
	validation.Match(hasLetter).Error("must contain a letter"),
	validation.Match(hasDigit).Error("must contain a digit"),
	validation.Match(hasSymbol).Error("must contain a symbol"),
}

var emailRules = []validation.Rule{
	validation.Required,
	validation.Length(3, 254),
	is.Email,
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (in SignupInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&in.LastName, validation.Length(0, 100)),
		validation.Field(&in.Email, emailRules...),
		validation.Field(&in.Password, passwordRules...),
	)
}

type UpdateProfileInput struct {
	FirstName string
	LastName  string
}

func (in UpdateProfileInput) trimmed() UpdateProfileInput {
	return UpdateProfileInput{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}
}

func (in UpdateProfileInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.FirstName, validation.Length(1, 100)),
		validation.Field(&in.LastName, validation.Length(1, 100)),
	)
}

func validateEmail(email string) error {
	return validation.Validate(email, emailRules...)
}

func validatePassword(password string) error {
	return validation.Validate(password, passwordRules...)
}

// invalid maps rule failures onto ValidationError.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	var internal validation.InternalError
	if errors.As(err, &internal) {
		return apperr.Internal(err)
	}
	return apperr.Wrap(err, apperr.ValidationError, err.Error())
}
