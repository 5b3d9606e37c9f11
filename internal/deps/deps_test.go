package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Optional", Command: "also-not-present", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" || results[0].Path != present {
		t.Fatalf("unexpected lookup for available dependency: %#v", results[0])
	}
	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestResolveBinaryPrefersBinDir(t *testing.T) {
	binDir := t.TempDir()
	stub := filepath.Join(binDir, antsAtropos)
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	if got := ResolveBinary(binDir, antsAtropos); got != stub {
		t.Fatalf("expected %q, got %q", stub, got)
	}
	if got := ResolveBinary(binDir, antsApply); got != antsApply {
		t.Fatalf("expected PATH fallback %q, got %q", antsApply, got)
	}
	if got := ResolveBinary("", antsApply); got != antsApply {
		t.Fatalf("expected bare name without bin dir, got %q", got)
	}
}

func TestResolveBinaryIgnoresNonExecutable(t *testing.T) {
	binDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(binDir, antsAtropos), []byte("data"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if got := ResolveBinary(binDir, antsAtropos); got != antsAtropos {
		t.Fatalf("expected fallback for non-executable, got %q", got)
	}
}

func TestANTsRequirementsFollowStages(t *testing.T) {
	if got := ANTsRequirements("", false, false); len(got) != 0 {
		t.Fatalf("expected no requirements, got %#v", got)
	}
	if got := ANTsRequirements("", true, false); len(got) != 2 {
		t.Fatalf("expected registration tools, got %#v", got)
	}
	got := ANTsRequirements("", false, true)
	if len(got) != 1 || got[0].Command != antsAtropos {
		t.Fatalf("expected Atropos only, got %#v", got)
	}
}
