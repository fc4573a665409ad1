package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record is absent or soft-deleted
	ErrNotFound = errors.New("not found")

	// ErrConfiguration is matched by every *ConfigurationError
	ErrConfiguration = errors.New("invalid rule configuration")

	// ErrConflict is returned when an optimistic update lost against a concurrent writer
	ErrConflict = errors.New("concurrent modification")

	// ErrInvalidInput is returned for malformed caller input
	ErrInvalidInput = errors.New("invalid input")
)

// ConfigurationError reports a rule whose condition or step template cannot be used
type ConfigurationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("%s: %s: %s", ErrConfiguration, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: rule %s: %s: %s", ErrConfiguration, e.RuleID, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// NotFoundf wraps ErrNotFound with the kind and id of the missing record
func NotFoundf(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}
