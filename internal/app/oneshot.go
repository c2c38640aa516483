// Package app wires the pipeline binaries: the no-argument one-shot runners
// and the opsched daemon.
package app

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/youssefjedidi/airport-operations-pipeline/internal/config"
	"github.com/youssefjedidi/airport-operations-pipeline/internal/history"
	"github.com/youssefjedidi/airport-operations-pipeline/internal/runner"
	logx "github.com/youssefjedidi/airport-operations-pipeline/pkg/logx"
)

// ManifestName is the deploy manifest expected next to the binaries.
const ManifestName = "ops.yaml"

// RunOnce executes the named task once and returns the process exit code:
// zero on success, the job's own code on failure, 1 on setup errors. The
// runner takes no arguments; everything derives from the install root.
func RunOnce(task string) int {
	log := logx.NewConsole("info")

	root, err := runner.InstallRoot()
	if err != nil {
		log.Error("cannot resolve install root", logx.Err(err))
		return 1
	}

	cfg, err := config.NewManager(filepath.Join(root, ManifestName)).Load()
	if err != nil {
		log.Error("deploy manifest invalid", logx.Err(err))
		return 1
	}
	log = logx.NewConsole(cfg.Logging.Level)

	d, err := cfg.Descriptor(task, root)
	if err != nil {
		log.Error("task not configured", logx.String("task", task), logx.Err(err))
		return 1
	}

	var rec runner.Recorder
	if cfg.History.Enabled {
		if st := openHistory(cfg, root, log); st != nil {
			defer st.Close()
			rec = st
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code, err := runner.New(log, rec).Run(ctx, d)
	if err != nil {
		if _, ok := runner.AsTaskFailure(err); !ok {
			log.Error("run setup failed", logx.String("task", d.Name), logx.Err(err))
		}
	}
	return code
}

// openHistory opens the result store, degrading to nil on failure: a broken
// result database must never block a scheduled run.
func openHistory(cfg *config.Config, root string, log logx.Logger) *history.Store {
	busy, err := config.ParseDurationOrDefault("history.busy_timeout", cfg.History.BusyTimeout, 5*time.Second)
	if err != nil {
		busy = 5 * time.Second
	}
	st, err := history.Open(history.Config{
		Enabled:     true,
		Path:        cfg.HistoryPath(root),
		BusyTimeout: busy,
	}, log)
	if err != nil {
		log.Warn("result store unavailable", logx.Err(err))
		return nil
	}
	return st
}
