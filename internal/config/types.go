package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/youssefjedidi/airport-operations-pipeline/internal/runner"
)

// Config is the deploy manifest (ops.yaml). It lives next to the binaries, so
// behavior is still fully determined by the install location: nothing is read
// from the ambient environment. A missing manifest means the built-in deploy
// layout.
type Config struct {
	Logging   LoggingConfig         `json:"logging"`
	History   HistoryConfig         `json:"history,omitempty"`
	Scheduler SchedulerConfig       `json:"scheduler"`
	Tasks     map[string]TaskConfig `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// HistoryConfig controls the optional structured result store.
type HistoryConfig struct {
	Enabled     bool   `json:"enabled"`
	Path        string `json:"path,omitempty"`         // default: data/history/runs.db under the install root
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
	Keep        string `json:"keep,omitempty"`         // prune rows older than this; "0s" keeps everything
}

// SchedulerConfig controls the opsched daemon.
//
// LaunchRate/LaunchBurst bound how fast the daemon may fork jobs when many
// schedules fire in the same instant (e.g. after clock resume).
type SchedulerConfig struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	Timezone    string  `json:"timezone,omitempty"` // IANA TZ, e.g. "America/Montreal"
	LaunchRate  float64 `json:"launch_rate,omitempty"`
	LaunchBurst int     `json:"launch_burst,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// TaskConfig overrides parts of a task's built-in descriptor. Relative paths
// are resolved against the install root.
//
// All durations are Go duration strings (e.g. "30s", "10m").
type TaskConfig struct {
	Interpreter string            `json:"interpreter,omitempty"`
	Script      string            `json:"script,omitempty"`
	Log         string            `json:"log,omitempty"`
	WorkDir     string            `json:"work_dir,omitempty"`
	Schedule    string            `json:"schedule,omitempty"`
	Timeout     string            `json:"timeout,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"`
}

// Built-in schedules for the two pipeline jobs: the monitor samples OpenSky
// state vectors every 15 minutes, the reporter builds the daily analysis at
// 08:00 scheduler time.
const (
	defaultMonitorSchedule  = "@every 15m"
	defaultReporterSchedule = "0 8 * * *"
)

// Default returns the manifest used when ops.yaml is absent. The two built-in
// tasks are always present; their schedules come from builtinSchedule so a
// partial manifest override cannot accidentally unschedule them.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Tasks: map[string]TaskConfig{
			"monitor":  {},
			"reporter": {},
		},
	}
}

func builtinSchedule(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "monitor":
		return defaultMonitorSchedule
	case "reporter":
		return defaultReporterSchedule
	default:
		return ""
	}
}

// Plan pairs a runnable descriptor with its schedule for the daemon.
type Plan struct {
	Descriptor runner.Descriptor
	Schedule   string
}

// Descriptor materializes the named task against root, starting from the
// built-in layout for the known tasks and applying manifest overrides.
func (c *Config) Descriptor(name, root string) (runner.Descriptor, error) {
	base, known := builtinDescriptor(name, root)
	tc := c.Tasks[name]

	if !known && strings.TrimSpace(tc.Script) == "" {
		return runner.Descriptor{}, fmt.Errorf("task %q: script is required", name)
	}

	d := base
	d.Name = displayName(name)
	if v := strings.TrimSpace(tc.Interpreter); v != "" {
		d.Interpreter = resolve(root, v)
	}
	if v := strings.TrimSpace(tc.Script); v != "" {
		d.Script = resolve(root, v)
	}
	if v := strings.TrimSpace(tc.Log); v != "" {
		d.LogFile = resolve(root, v)
	}
	if v := strings.TrimSpace(tc.WorkDir); v != "" {
		d.WorkDir = resolve(root, v)
	}
	if tc.Timeout != "" {
		timeout, err := ParseDurationField("tasks."+name+".timeout", tc.Timeout)
		if err != nil {
			return runner.Descriptor{}, err
		}
		d.Timeout = timeout
	}
	d.ExtraEnv = envList(tc.Env)

	if d.Interpreter == "" || d.LogFile == "" {
		return runner.Descriptor{}, fmt.Errorf("task %q: interpreter and log are required", name)
	}
	return d, nil
}

// Plans returns every enabled task with a schedule, in stable name order.
func (c *Config) Plans(root string) ([]Plan, error) {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Plan
	for _, name := range names {
		tc := c.Tasks[name]
		sched := strings.TrimSpace(tc.Schedule)
		if sched == "" {
			sched = builtinSchedule(name)
		}
		if tc.Disabled || sched == "" {
			continue
		}
		d, err := c.Descriptor(name, root)
		if err != nil {
			return nil, err
		}
		out = append(out, Plan{Descriptor: d, Schedule: sched})
	}
	return out, nil
}

// Validate checks the manifest without touching the filesystem.
func (c *Config) Validate() error {
	for name, tc := range c.Tasks {
		if tc.Timeout != "" {
			if _, err := ParseDurationField("tasks."+name+".timeout", tc.Timeout); err != nil {
				return err
			}
		}
		if _, known := builtinDescriptor(name, "/"); !known && strings.TrimSpace(tc.Script) == "" {
			return fmt.Errorf("task %q: script is required", name)
		}
	}
	if c.History.BusyTimeout != "" {
		if _, err := ParseDurationField("history.busy_timeout", c.History.BusyTimeout); err != nil {
			return err
		}
	}
	if c.History.Keep != "" {
		if _, err := ParseDurationField("history.keep", c.History.Keep); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	return nil
}

// HistoryPath resolves the result-store path against root.
func (c *Config) HistoryPath(root string) string {
	p := strings.TrimSpace(c.History.Path)
	if p == "" {
		p = "data/history/runs.db"
	}
	return resolve(root, p)
}

func builtinDescriptor(name, root string) (runner.Descriptor, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "monitor":
		return runner.Monitor(root), true
	case "reporter":
		return runner.Reporter(root), true
	default:
		// Custom tasks share the pipeline interpreter and the log directory.
		d := runner.Descriptor{WorkDir: root}
		d.Interpreter = runner.Monitor(root).Interpreter
		if key := strings.ToLower(strings.TrimSpace(name)); key != "" {
			d.LogFile = filepath.Join(root, "data/logs", key+".log")
		}
		return d, false
	}
}

func resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func displayName(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
