package app

import (
	"context"
	"path/filepath"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"github.com/youssefjedidi/airport-operations-pipeline/internal/config"
	"github.com/youssefjedidi/airport-operations-pipeline/internal/history"
	"github.com/youssefjedidi/airport-operations-pipeline/internal/runner"
	"github.com/youssefjedidi/airport-operations-pipeline/internal/scheduler"
	logx "github.com/youssefjedidi/airport-operations-pipeline/pkg/logx"
)

const launchHistorySize = 50

// RunDaemon runs the opsched scheduler until ctx is cancelled. cfgPath
// overrides the manifest location; empty means next to the binary.
func RunDaemon(ctx context.Context, cfgPath string) error {
	root, err := runner.InstallRoot()
	if err != nil {
		return err
	}
	if cfgPath == "" {
		cfgPath = filepath.Join(root, ManifestName)
	}

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logCfg(cfg))
	defer logSvc.Close()
	mgr.SetLogger(log)
	mgr.SetValidator(func(c *config.Config) error { return validatePlans(c, root) })

	var rec runner.Recorder
	var store *history.Store
	if cfg.History.Enabled {
		if store = openHistory(cfg, root, log); store != nil {
			defer store.Close()
			rec = store
		}
	}

	run := runner.New(log, rec)
	sched := scheduler.New(scheduler.Config{
		Enabled:     cfg.Scheduler.IsEnabled(),
		Timezone:    cfg.Scheduler.Timezone,
		LaunchRate:  cfg.Scheduler.LaunchRate,
		LaunchBurst: cfg.Scheduler.LaunchBurst,
		HistorySize: launchHistorySize,
	}, log)

	if !sched.Enabled() {
		// Nothing to do, but stay up so systemd doesn't flap the unit; a
		// manifest reload cannot re-enable a disabled scheduler.
		log.Warn("scheduler disabled in manifest; idling")
		_, _ = sd.SdNotify(false, sd.SdNotifyReady)
		<-ctx.Done()
		_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
		return nil
	}

	jobs, err := buildJobs(cfg, root, run)
	if err != nil {
		return err
	}
	if err := sched.Replace(jobs); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)
	go func() { _ = mgr.Watch(ctx) }()

	if store != nil {
		go pruneLoop(ctx, store, cfg, log)
	}

	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	go watchdogLoop(ctx)

	log.Info("opsched running",
		logx.String("manifest", cfgPath),
		logx.Int("jobs", len(jobs)))

	for {
		select {
		case <-ctx.Done():
			_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
			return nil
		case newCfg := <-sub:
			logSvc.Apply(logCfg(newCfg))
			newJobs, err := buildJobs(newCfg, root, run)
			if err != nil {
				// The validator should have caught this; keep the old set.
				log.Error("reload produced unusable job set", logx.Err(err))
				continue
			}
			if err := sched.Replace(newJobs); err != nil {
				log.Error("schedule replace failed", logx.Err(err))
				continue
			}
			log.Info("schedules reloaded", logx.Int("jobs", len(newJobs)))
		}
	}
}

// buildJobs turns manifest plans into scheduler jobs. Overlapping ticks of
// the same task are skipped: the runner deliberately leaves same-task
// serialization to its invoker.
func buildJobs(cfg *config.Config, root string, run *runner.Runner) ([]scheduler.Job, error) {
	plans, err := cfg.Plans(root)
	if err != nil {
		return nil, err
	}
	jobs := make([]scheduler.Job, 0, len(plans))
	for _, p := range plans {
		d := p.Descriptor
		jobs = append(jobs, scheduler.Job{
			Name:    d.Name,
			Spec:    p.Schedule,
			Overlap: scheduler.OverlapSkipIfRunning,
			Run: func(ctx context.Context) error {
				_, err := run.Run(ctx, d)
				return err
			},
		})
	}
	return jobs, nil
}

// validatePlans rejects a reloaded manifest whose plans or schedules cannot
// be materialized, before it replaces the committed one.
func validatePlans(cfg *config.Config, root string) error {
	plans, err := cfg.Plans(root)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if _, err := scheduler.ParseSchedule(p.Schedule); err != nil {
			return err
		}
	}
	return nil
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// watchdogLoop pets the systemd watchdog at half its interval when one is
// configured on the unit.
func watchdogLoop(ctx context.Context) {
	interval, err := sd.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
		}
	}
}

// pruneLoop trims old result rows when history.keep is set.
func pruneLoop(ctx context.Context, store *history.Store, cfg *config.Config, log logx.Logger) {
	keep, err := config.ParseDurationField("history.keep", cfg.History.Keep)
	if err != nil || keep <= 0 {
		return
	}
	t := time.NewTicker(6 * time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			removed, err := store.Prune(pctx, keep)
			cancel()
			if err != nil {
				log.Warn("history prune failed", logx.Err(err))
			} else if removed > 0 {
				log.Debug("history pruned", logx.Int64("removed", removed))
			}
		}
	}
}
