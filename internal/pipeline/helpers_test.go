package pipeline_test

import (
	"testing"

	"github.com/gofrs/flock"

	"mriprep/internal/outputs"
	"mriprep/internal/secondary"
	"mriprep/internal/skullstrip"
	"mriprep/internal/xform"
)

func secondaryWithRegistrar(r xform.Registrar) *secondary.Integrator {
	return secondary.New(r, nil)
}

func skullstripWithMasker(m skullstrip.Masker) *skullstrip.Stripper {
	return skullstrip.NewWithMasker(m, nil)
}

// lockSubject holds the subject directory lock the way a concurrent run would.
func lockSubject(t *testing.T, outputDir, subject string) func() {
	t.Helper()
	layout := outputs.NewLayout(outputDir, subject)
	if err := layout.Ensure(); err != nil {
		t.Fatalf("ensure layout: %v", err)
	}
	lock := flock.New(layout.LockPath())
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("take lock: locked=%v err=%v", locked, err)
	}
	return func() { _ = lock.Unlock() }
}
