package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func Validate[T any](value T) (T, error) {
	if err := validate.Struct(value); err != nil {
		return value, ValidationErrorToString(err)
	}
	return value, nil
}

func ValidateValue(value any, tag string) error {
	if err := validate.Var(value, tag); err != nil {
		return ValidationErrorToString(err)
	}
	return nil
}

// ValidationErrorToString flattens validator errors into one readable message
func ValidationErrorToString(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s'", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
