package attachment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrISDConsistency is returned when the active attachments of a UserAS span more than
	// one ISD.
	ErrISDConsistency = errors.New("ISD consistency violated")

	// ErrInvalidState is returned for requests that cannot be applied to the current topology.
	ErrInvalidState = errors.New("invalid state")

	// ErrVPNUnsupported is returned when VPN is requested on an attachment point without VPN.
	ErrVPNUnsupported = fmt.Errorf("VPN not supported by attachment point: %w", ErrInvalidState)

	// ErrQuotaExceeded is returned when a user already owns the maximum number of ASes.
	ErrQuotaExceeded = fmt.Errorf("AS quota exceeded: %w", ErrInvalidState)

	// ErrInvalidAttachment is the sentinel of every ValidationError.
	ErrInvalidAttachment = errors.New("invalid attachment")
)

// ValidationError lists the problems found in a set of attachment configurations.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid attachment: " + e.Errors[0]
	}
	return fmt.Sprintf("invalid attachments:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAttachment
}

type validationBuilder struct {
	errors []string
}

func (v *validationBuilder) addf(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validationBuilder) build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
