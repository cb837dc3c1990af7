package form

import "fmt"

// ValidationError rejects user input for a single field. It is an expected
// outcome of validation, not a failure of the service.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotANumber rejects an amount that does not parse as a decimal number.
func NotANumber() error {
	return invalid(FieldAmount, "Enter a number.")
}
