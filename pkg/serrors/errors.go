package serrors

import (
	"errors"
	"fmt"
)

// Base is a coded error carried across service boundaries. Code is stable and
// machine-readable; Message is for operators, not end users.
type Base struct {
	Code    string
	Message string
	Details string
}

func (e *Base) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewError(code, message, details string) *Base {
	return &Base{Code: code, Message: message, Details: details}
}

func WithDetails(err *Base, details string) *Base {
	return &Base{Code: err.Code, Message: err.Message, Details: details}
}

// Code extracts the stable code from err, unwrapping as needed, or "INTERNAL"
// when nothing in the chain is coded.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var b *Base
	if errors.As(err, &b) {
		return b.Code
	}
	return "INTERNAL"
}
