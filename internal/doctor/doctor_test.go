package doctor

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/charlie/internal/config"
)

type fakeDir struct{ dir bool }

func (f fakeDir) Name() string       { return "x" }
func (f fakeDir) Size() int64        { return 0 }
func (f fakeDir) Mode() fs.FileMode  { return 0 }
func (f fakeDir) ModTime() time.Time { return time.Time{} }
func (f fakeDir) IsDir() bool        { return f.dir }
func (f fakeDir) Sys() any           { return nil }

func parse(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return cfg
}

// newDoctor resolves every binary in found and treats every path in dirs as
// an existing directory.
func newDoctor(cfg *config.Config, found []string, dirs ...string) *Doctor {
	d := New(cfg)
	d.lookPath = func(name string) (string, error) {
		for _, f := range found {
			if f == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("executable file not found in $PATH")
	}
	d.stat = func(path string) (os.FileInfo, error) {
		for _, dir := range dirs {
			if dir == path {
				return fakeDir{dir: true}, nil
			}
		}
		if path == "/etc/passwd" {
			return fakeDir{}, nil
		}
		return nil, fs.ErrNotExist
	}
	return d
}

const validYAML = `
job.build:
  command: make
  workdir: /src
`

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	d := newDoctor(parse(t, validYAML), []string{"/bin/sh", "cmd"}, "/src")
	r := d.Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
	if r.Tasks != 1 {
		t.Fatalf("expected 1 task, got %d", r.Tasks)
	}
}

func TestValidate_ShellNotFound(t *testing.T) {
	t.Parallel()
	cfg := parse(t, validYAML)
	cfg.Settings.Shell = []string{"/opt/nosh", "-c"}
	r := newDoctor(cfg, nil, "/src").Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "shell", "/opt/nosh")
}

func TestValidate_TaskErrors(t *testing.T) {
	t.Parallel()
	cfg := parse(t, `
job.a:
  command: one
job.b:
  name: a
  command: two
`)
	r := newDoctor(cfg, []string{"/bin/sh", "cmd"}).Validate()
	if r.Valid {
		t.Fatal("expected invalid for duplicate names")
	}
	assertHasError(t, r, "tasks", "a")
}

func TestValidate_NoTasks(t *testing.T) {
	t.Parallel()
	r := newDoctor(parse(t, ""), []string{"/bin/sh", "cmd"}).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "tasks", "no job.*")
}

func TestValidate_MissingWorkdir(t *testing.T) {
	t.Parallel()
	cfg := parse(t, `
job.gone:
  command: ls
  workdir: /nowhere
job.file:
  command: ls
  workdir: /etc/passwd
`)
	r := newDoctor(cfg, []string{"/bin/sh", "cmd"}).Validate()
	if !r.Valid {
		t.Fatalf("missing workdir should only warn, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "workdir", "does not exist")
	assertHasWarning(t, r, "workdir", "not a directory")
}

func TestValidate_WrapperShellMissing(t *testing.T) {
	t.Parallel()
	cfg := parse(t, `
job.lint:
  command: golangci-lint run
  workdir: /src
  shell: wsl
job.ps:
  command: Get-Date
  workdir: /src
  shell: powershell
`)
	r := newDoctor(cfg, []string{"/bin/sh", "cmd", "bash"}, "/src").Validate()
	assertHasWarning(t, r, "shell", "powershell")
	for _, w := range r.Warnings {
		if strings.Contains(w.Message, "bash") {
			t.Fatalf("bash is on PATH, unexpected warning: %v", w)
		}
	}
}

func TestValidate_ShellVariablesNotFlagged(t *testing.T) {
	t.Parallel()
	cfg := parse(t, `
job.deploy:
  command: deploy --token ${CHARLIE_DOCTOR_TEST_UNSET}
  workdir: /src
`)
	r := newDoctor(cfg, []string{"/bin/sh", "cmd"}, "/src").Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("shell variables in commands should not warn, got: %v", r.Warnings)
	}
}

func TestValidate_IgnoredSections(t *testing.T) {
	t.Parallel()
	cfg := parse(t, validYAML+`
notes:
  owner: me
`)
	r := newDoctor(cfg, []string{"/bin/sh", "cmd"}, "/src").Validate()
	assertHasWarning(t, r, "sections", "ignored")
}

func TestValidate_APIExposure(t *testing.T) {
	t.Parallel()

	cfg := parse(t, validYAML)
	cfg.Settings.API = config.APIConfig{Enabled: true, Listen: "0.0.0.0:8321"}
	r := newDoctor(cfg, []string{"/bin/sh", "cmd"}, "/src").Validate()
	assertHasWarning(t, r, "api", "without an api_key")

	cfg.Settings.API.Listen = "127.0.0.1:8321"
	r = newDoctor(cfg, []string{"/bin/sh", "cmd"}, "/src").Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("loopback listener should not warn, got: %v", r.Warnings)
	}

	cfg.Settings.API.Listen = "nonsense"
	r = newDoctor(cfg, []string{"/bin/sh", "cmd"}, "/src").Validate()
	assertHasError(t, r, "api", "invalid listen address")
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:  false,
		Errors: []Issue{{Category: "test", Message: "bad thing"}},
	}
	out, err := FormatJSON(r)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "bad thing") {
		t.Fatalf("expected JSON to contain error message, got: %s", out)
	}
}

func TestFormatHuman_Valid(t *testing.T) {
	t.Parallel()
	r := &Result{Valid: true, Tasks: 2}
	out := FormatHuman(r)
	if !strings.Contains(out, "valid (2 task(s))") {
		t.Fatalf("expected 'valid' in output, got: %s", out)
	}
}

func TestFormatHuman_Errors(t *testing.T) {
	t.Parallel()
	r := &Result{
		Valid:    false,
		Errors:   []Issue{{Category: "test", Field: "x.y", Message: "broken"}},
		Warnings: []Issue{{Category: "test", Message: "odd"}},
	}
	out := FormatHuman(r)
	if !strings.Contains(out, "ERROR") || !strings.Contains(out, "broken") {
		t.Fatalf("expected error in output, got: %s", out)
	}
	if !strings.Contains(out, "WARN  [test] odd") {
		t.Fatalf("expected warning in output, got: %s", out)
	}
}

// --- helpers ---

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
