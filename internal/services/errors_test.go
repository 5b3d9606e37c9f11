package services_test

import (
	"errors"
	"strings"
	"testing"

	"mriprep/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "registration", "antsRegistration", "check ants.bin_dir", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"external tool error", "registration", "antsRegistration", "check ants.bin_dir", "boom"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestDetailsExposesStageAndHint(t *testing.T) {
	err := services.Wrap(services.ErrMissingResource, "registration", "load template", "supply registration.template", nil)
	details := services.Details(err)
	if details.Stage != "registration" || details.Hint != "supply registration.template" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Marker != services.ErrMissingResource {
		t.Fatalf("unexpected marker %v", details.Marker)
	}
}

func TestDetailsResolvesForeignErrors(t *testing.T) {
	err := errors.Join(errors.New("x"), services.ErrPropagation)
	if got := services.Details(err).Marker; got != services.ErrPropagation {
		t.Fatalf("marker = %v, want propagation", got)
	}
}

func TestIsFatalForSubject(t *testing.T) {
	secondary := services.Wrap(services.ErrSecondaryDependency, "secondary-integration", "mask reuse", "", nil)
	if services.IsFatalForSubject(secondary) {
		t.Fatal("secondary dependency errors must not abort the subject")
	}
	if !services.IsFatalForSubject(services.Wrap(services.ErrAlgorithm, "registration", "register", "", nil)) {
		t.Fatal("registration failure must abort the subject")
	}
	if services.IsFatalForSubject(nil) {
		t.Fatal("nil is not fatal")
	}
}
