package runner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDescriptorsAnchoredAtRoot(t *testing.T) {
	t.Parallel()
	root := "/opt/airport-ops"

	m := Monitor(root)
	if m.Name != "Monitor" {
		t.Fatalf("name = %q", m.Name)
	}
	if m.Interpreter != filepath.Join(root, "venv/bin/python") {
		t.Fatalf("interpreter = %q", m.Interpreter)
	}
	if m.Script != filepath.Join(root, "src/monitor.py") {
		t.Fatalf("script = %q", m.Script)
	}
	if m.LogFile != filepath.Join(root, "data/logs/monitor.log") {
		t.Fatalf("log = %q", m.LogFile)
	}
	if m.WorkDir != root {
		t.Fatalf("workdir = %q", m.WorkDir)
	}

	r := Reporter(root)
	if r.Name != "Reporter" || r.Script != filepath.Join(root, "src/reporter.py") {
		t.Fatalf("unexpected reporter descriptor: %+v", r)
	}
}

func TestInstallRootIgnoresWorkingDirectory(t *testing.T) {
	first, err := InstallRoot()
	if err != nil {
		t.Fatalf("InstallRoot: %v", err)
	}
	if !filepath.IsAbs(first) {
		t.Fatalf("install root not absolute: %q", first)
	}

	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })

	if err := os.Chdir("/"); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	second, err := InstallRoot()
	if err != nil {
		t.Fatalf("InstallRoot from /: %v", err)
	}
	if first != second {
		t.Fatalf("install root changed with cwd: %q vs %q", first, second)
	}
}
