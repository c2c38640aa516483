package runner

import (
	"os"
	"path/filepath"
	"time"
)

// SearchPath is the fixed PATH handed to every subprocess. Jobs never inherit
// the caller's search path, so a sparse cron/systemd environment and an
// interactive shell resolve auxiliary commands identically.
const SearchPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Deploy layout, relative to the install root. These are deploy-time
// constants; ops.yaml may override them per task but nothing is read from the
// ambient environment.
const (
	defaultInterpreter = "venv/bin/python"

	monitorScript  = "src/monitor.py"
	monitorLog     = "data/logs/monitor.log"
	reporterScript = "src/reporter.py"
	reporterLog    = "data/logs/reporter.log"
)

// Descriptor identifies which interpreter/script/log triple one invocation
// targets. It is immutable for the process lifetime: built once from the
// install root, never from environment lookup.
type Descriptor struct {
	Name        string
	Interpreter string
	Script      string
	LogFile     string

	// WorkDir is the subprocess working directory. The pipeline scripts use
	// paths relative to the install root, so it defaults to that. Empty means
	// inherit.
	WorkDir string

	// ExtraEnv entries ("KEY=value") are appended after the fixed PATH.
	ExtraEnv []string

	// Timeout bounds the subprocess when > 0. A timed-out run is killed and
	// leaves the log without a finished marker, same as any failure.
	Timeout time.Duration
}

// Monitor returns the descriptor for the flight monitor job, anchored at root.
func Monitor(root string) Descriptor {
	return Descriptor{
		Name:        "Monitor",
		Interpreter: filepath.Join(root, defaultInterpreter),
		Script:      filepath.Join(root, monitorScript),
		LogFile:     filepath.Join(root, monitorLog),
		WorkDir:     root,
	}
}

// Reporter returns the descriptor for the daily reporter job, anchored at root.
func Reporter(root string) Descriptor {
	return Descriptor{
		Name:        "Reporter",
		Interpreter: filepath.Join(root, defaultInterpreter),
		Script:      filepath.Join(root, reporterScript),
		LogFile:     filepath.Join(root, reporterLog),
		WorkDir:     root,
	}
}

// InstallRoot resolves the directory holding the running executable, with
// symlinks evaluated. The result does not depend on the caller's working
// directory, so invoking a runner from "/" or from its own directory yields
// the same descriptor paths.
func InstallRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	return filepath.Dir(resolved), nil
}
