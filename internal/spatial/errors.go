package spatial

import (
	"errors"
	"fmt"

	"mriprep/internal/services"
)

var (
	// ErrNotRegistered is returned when template space is requested before
	// registration has produced transforms.
	ErrNotRegistered = errors.New("template space unavailable before registration")
	// ErrTransformsFrozen is returned on a second attempt to set transforms.
	ErrTransformsFrozen = errors.New("transforms already set")
	// ErrNoSecondary is returned when secondary data is requested but absent.
	ErrNoSecondary = errors.New("no secondary modality supplied")
)

// PropagationError reports a failed native-to-template propagation.
type PropagationError struct {
	Field  Field
	Reason string
	Err    error
}

func (e *PropagationError) Error() string {
	msg := fmt.Sprintf("propagate %s to template: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PropagationError) Unwrap() []error {
	if e.Err != nil {
		return []error{services.ErrPropagation, e.Err}
	}
	return []error{services.ErrPropagation}
}

// MissingDependencyError reports an upstream field absent when the secondary
// chain needs it.
type MissingDependencyError struct {
	Step       string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s requires %s", e.Step, e.Dependency)
}

func (e *MissingDependencyError) Unwrap() error {
	return services.ErrSecondaryDependency
}
