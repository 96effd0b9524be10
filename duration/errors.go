package duration

import (
	"errors"
	"fmt"
)

// ErrInvalidData is wrapped by every error that NewPHReg returns for
// data or settings that cannot be used to fit a model.
var ErrInvalidData = errors.New("invalid data")

// ValidationError describes a problem with one variable or setting.
type ValidationError struct {

	// Field is the name of the variable or configuration setting
	Field string

	// Message describes the problem
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidData, e.Field, e.Message)
}

// Unwrap returns ErrInvalidData.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidData
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}
