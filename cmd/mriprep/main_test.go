package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mriprep/internal/config"
	"mriprep/internal/services"
	"mriprep/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	inputDir   string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	base := testsupport.BaseDir(cfg)
	t.Setenv("HOME", filepath.Join(base, "home"))

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	inputDir := filepath.Join(base, "input")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatalf("mkdir input: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath, inputDir: inputDir}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) writeSubject(t *testing.T, name string) string {
	t.Helper()
	return testsupport.WriteVolume(t, e.inputDir, name, testsupport.Phantom(testsupport.NativeGrid(), [3]float64{3, -2, 1}))
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected %q in output:\n%s", needle, haystack)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestConfigShowPrintsEffectiveValues(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[registration]")
	requireContains(t, out, env.cfg.Registration.Template)

	out, _, err = runCLI(t, []string{"config", "show", "--format", "yaml"}, env.configPath)
	if err != nil {
		t.Fatalf("config show yaml: %v", err)
	}
	requireContains(t, out, "registration:")

	if _, _, err := runCLI(t, []string{"config", "show", "--format", "ini"}, env.configPath); err == nil {
		t.Fatal("expected unsupported format to fail")
	}
}

func TestBrokenConfigIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[logging\nlevel = "), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, err := runCLI(t, []string{"plan"}, path)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPlanCommand(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStages("skull-stripping", "registration", "quality-control"))
	out, _, err := runCLI(t, []string{"plan"}, env.configPath)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	requireContains(t, out, "skull-stripping")
	requireContains(t, out, "quality-control")
	requireContains(t, out, "disabled")
	requireContains(t, out, "[OK] valid")
}

func TestPlanCommandRejectsBrokenOrdering(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStages("skull-stripping", "roi-extraction"))
	out, _, err := runCLI(t, []string{"plan"}, env.configPath)
	if err == nil {
		t.Fatal("expected roi extraction without registration to be rejected")
	}
	requireContains(t, out, "[ERROR]")
}

func TestPreflightCommandReportsMissingTemplate(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithConfig(func(cfg *config.Config) {
		cfg.Registration.Template = filepath.Join(filepath.Dir(cfg.Paths.OutputDir), "refs", "missing.nii.gz")
	}))
	out, _, err := runCLI(t, []string{"preflight"}, env.configPath)
	if err == nil {
		t.Fatal("expected preflight to fail")
	}
	requireContains(t, out, "Registration template")
	requireContains(t, out, "[ERROR]")
}

func TestRunAndHistory(t *testing.T) {
	env := setupCLITestEnv(t)
	primary := env.writeSubject(t, "sub-01_T1w.nii.gz")

	out, _, err := runCLI(t, []string{"run", "--primary", primary, "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var view runView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode run output: %v\n%s", err, out)
	}
	if view.Subject != "sub-01" || view.Status != "completed" {
		t.Fatalf("unexpected run result: %+v", view)
	}
	if len(view.Stages) != 6 {
		t.Fatalf("expected six stage reports, got %d", len(view.Stages))
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.OutputDir, "sub-01", "sub-01_summary.json")); err != nil {
		t.Fatalf("summary not written: %v", err)
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, view.RunID)
	requireContains(t, out, "sub-01")

	out, _, err = runCLI(t, []string{"history", "show", view.RunID}, env.configPath)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	requireContains(t, out, "Skull Stripping")
	requireContains(t, out, "Quality Control")

	if _, _, err := runCLI(t, []string{"history", "show", "no-such-run"}, env.configPath); err == nil {
		t.Fatal("expected unknown run id to fail")
	}
}

func TestRunRequiresPrimary(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"run"}, env.configPath); err == nil {
		t.Fatal("expected missing --primary to fail")
	}
}

func TestBatchContinuesPastFailures(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStages("skull-stripping", "segmentation", "quality-control"))
	env.writeSubject(t, "sub-01_T1w.nii.gz")
	if err := os.WriteFile(filepath.Join(env.inputDir, "sub-02_T1w.nii.gz"), []byte("not nifti"), 0o644); err != nil {
		t.Fatalf("write bad subject: %v", err)
	}

	out, _, err := runCLI(t, []string{"batch", "--input-dir", env.inputDir, "--pattern", "*_T1w.nii.gz"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "1 of 2 subjects failed") {
		t.Fatalf("expected one failed subject, got %v", err)
	}
	requireContains(t, out, "sub-01")
	requireContains(t, out, "sub-02")
	requireContains(t, out, "1 succeeded, 1 failed")
}
