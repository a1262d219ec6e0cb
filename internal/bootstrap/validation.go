package bootstrap

import (
	"fmt"
	"strings"
)

// ValidationError is one invalid environment variable.
type ValidationError struct {
	Var     string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Var, e.Message)
}

// ValidationErrors collects every violation found while reading the process
// environment, rather than failing on the first: invalid required variables
// cause immediate nonzero exit after logging every validation error at once.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d environment validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// HasErrors reports whether any violation was recorded.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
