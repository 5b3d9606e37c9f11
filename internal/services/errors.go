package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrMissingResource     = errors.New("missing resource")
	ErrDependencyOrder     = errors.New("dependency ordering error")
	ErrPropagation         = errors.New("propagation error")
	ErrAlgorithm           = errors.New("algorithm failure")
	ErrSecondaryDependency = errors.New("secondary dependency error")
	ErrExternalTool        = errors.New("external tool error")
	ErrValidation          = errors.New("validation error")
)

var markers = []error{
	ErrConfiguration,
	ErrMissingResource,
	ErrDependencyOrder,
	ErrPropagation,
	ErrAlgorithm,
	ErrSecondaryDependency,
	ErrExternalTool,
	ErrValidation,
}

// ServiceError carries the stage context of a wrapped failure. Its message
// has the form "marker: stage: operation: hint: cause".
type ServiceError struct {
	Marker    error
	Stage     string
	Operation string
	Hint      string
	Cause     error
}

func (e *ServiceError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Hint)
	if e.Cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Cause)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *ServiceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// Wrap builds an error that names the responsible stage and operation while
// tagging it with marker for later classification. hint should tell the
// operator how to fix the problem when one is known.
func Wrap(marker error, stage, operation, hint string, err error) error {
	if marker == nil {
		marker = ErrAlgorithm
	}
	return &ServiceError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Hint:      strings.TrimSpace(hint),
		Cause:     err,
	}
}

// Details extracts the outermost ServiceError. When err was not produced by
// Wrap the marker is still resolved from the chain.
func Details(err error) ServiceError {
	if err == nil {
		return ServiceError{}
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return *se
	}
	return ServiceError{Marker: MarkerOf(err), Cause: err}
}

// MarkerOf returns the first known marker found in err's chain, or nil.
func MarkerOf(err error) error {
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return marker
		}
	}
	return nil
}

// IsFatalForSubject reports whether err must abort the remaining stages of a
// subject. Secondary-modality dependency failures only end the secondary chain.
func IsFatalForSubject(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrSecondaryDependency)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
