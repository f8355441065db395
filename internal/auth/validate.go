package auth

import (
	"errors"
	"fmt"
	"strings"

	"slotbook/internal/apperr"

	"github.com/go-playground/validator/v10"
)

type RegisterRequest struct {
	Username string `validate:"required,min=3,max=32,alphanum"`
	// bcrypt ignores everything past 72 bytes.
	Password string `validate:"required,min=6,max=72"`
	Email    string `validate:"required,email,max=254"`
	FullName string `validate:"max=100"`
}

type LoginRequest struct {
	Username string `validate:"required,max=32"`
	Password string `validate:"required,max=72"`
}

var fieldNames = map[string]string{
	"Username": "username",
	"Password": "password",
	"Email":    "email",
	"FullName": "full name",
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// validateStruct runs tag validation and turns the first failure into a
// VALIDATION_ERROR with a readable message.
func validateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return apperr.Wrap(err, apperr.CodeValidation, "Invalid input")
	}

	messages := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		messages = append(messages, describe(fe))
	}
	return apperr.Validation(strings.Join(messages, "; "))
}

func describe(fe validator.FieldError) string {
	name, ok := fieldNames[fe.Field()]
	if !ok {
		name = strings.ToLower(fe.Field())
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", name, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", name)
	case "alphanum":
		return fmt.Sprintf("%s may contain only letters and digits", name)
	default:
		return fmt.Sprintf("%s is invalid", name)
	}
}
