package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	logx "github.com/youssefjedidi/airport-operations-pipeline/pkg/logx"
)

// Recorder persists one structured result row per invocation. The textual job
// log stays the primary artifact; records exist so "did the last run finish"
// is answerable without grepping for marker lines.
type Recorder interface {
	RunStarted(ctx context.Context, task string, at time.Time) (int64, error)
	RunFinished(ctx context.Context, id int64, status string, exitCode int, at time.Time, errText string) error
}

// Result statuses written through the Recorder.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusError     = "error"
)

const recordTimeout = 2 * time.Second

// Runner executes one task synchronously: validate paths, append a started
// marker to the job log, run the script with combined output into the log,
// then append a finished marker only on success.
type Runner struct {
	log logx.Logger
	rec Recorder
}

// New builds a Runner. rec may be nil when no result store is configured.
func New(log logx.Logger, rec Recorder) *Runner {
	return &Runner{log: log, rec: rec}
}

// Run invokes d once and returns the exit code the calling process should
// propagate. Zero means success. A non-zero code comes straight from the
// subprocess (paired with a *TaskFailure error); setup problems return 1 with
// ErrConfiguration or ErrPermission wrapped in the error.
//
// Run blocks for the whole subprocess lifetime. Cancelling ctx (or exceeding
// d.Timeout) kills the subprocess, which leaves the log without a finished
// marker, the same signal as any mid-run failure.
func (r *Runner) Run(ctx context.Context, d Descriptor) (int, error) {
	if err := r.validate(d); err != nil {
		return 1, err
	}

	if dir := filepath.Dir(d.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 1, fmt.Errorf("%w: %s: %v", ErrPermission, d.LogFile, err)
		}
	}
	// O_RDWR instead of O_WRONLY so the finished-marker write can check
	// whether the job's output ended with a newline. Writes still go through
	// O_APPEND.
	f, err := os.OpenFile(d.LogFile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return 1, fmt.Errorf("%w: %s: %v", ErrPermission, d.LogFile, err)
	}
	defer f.Close()

	startedAt := time.Now()
	if _, err := f.WriteString(startMarker(d.Name, startedAt)); err != nil {
		return 1, fmt.Errorf("%w: %s: %v", ErrPermission, d.LogFile, err)
	}
	// Flush the marker now so a partial run is visible even if the job wedges.
	_ = f.Sync()

	recID := r.recordStart(d.Name, startedAt)

	r.log.Info("job started",
		logx.String("task", d.Name),
		logx.String("script", d.Script),
		logx.String("log", d.LogFile))

	runCtx := ctx
	var cancel context.CancelFunc
	if d.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, d.Interpreter, d.Script)
	if d.WorkDir != "" {
		cmd.Dir = d.WorkDir
	}
	// Explicit minimal environment; the ambient one is never inherited.
	cmd.Env = append([]string{"PATH=" + SearchPath}, d.ExtraEnv...)
	cmd.Stdout = f
	cmd.Stderr = f

	runErr := cmd.Run()
	finishedAt := time.Now()

	if runErr != nil {
		code := exitCode(runErr)
		errText := runErr.Error()
		if cerr := runCtx.Err(); cerr != nil {
			errText = cerr.Error()
		}
		r.recordFinish(recID, StatusFailed, code, finishedAt, errText)
		r.log.Warn("job failed",
			logx.String("task", d.Name),
			logx.Int("exit_code", code),
			logx.Duration("took", finishedAt.Sub(startedAt)),
			logx.Err(runErr))
		// No finished marker on failure: its absence is the failure signal.
		return code, &TaskFailure{Task: d.Name, ExitCode: code}
	}

	if err := writeFinishMarker(f, d.Name, finishedAt); err != nil {
		r.recordFinish(recID, StatusError, 0, finishedAt, err.Error())
		return 1, fmt.Errorf("%w: %s: %v", ErrPermission, d.LogFile, err)
	}

	r.recordFinish(recID, StatusSucceeded, 0, finishedAt, "")
	r.log.Info("job finished",
		logx.String("task", d.Name),
		logx.Duration("took", finishedAt.Sub(startedAt)))
	return 0, nil
}

// validate fails fast, before the job log is opened or modified, when the
// interpreter or script is missing.
func (r *Runner) validate(d Descriptor) error {
	if _, err := os.Stat(d.Interpreter); err != nil {
		return fmt.Errorf("%w: interpreter %s: %v", ErrConfiguration, d.Interpreter, err)
	}
	if _, err := os.Stat(d.Script); err != nil {
		return fmt.Errorf("%w: script %s: %v", ErrConfiguration, d.Script, err)
	}
	return nil
}

func (r *Runner) recordStart(task string, at time.Time) int64 {
	if r.rec == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	id, err := r.rec.RunStarted(ctx, task, at)
	if err != nil {
		r.log.Warn("result record write failed", logx.String("task", task), logx.Err(err))
		return 0
	}
	return id
}

func (r *Runner) recordFinish(id int64, status string, code int, at time.Time, errText string) {
	if r.rec == nil || id == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := r.rec.RunFinished(ctx, id, status, code, at, errText); err != nil {
		r.log.Warn("result record update failed", logx.Int64("run_id", id), logx.Err(err))
	}
}

func startMarker(name string, t time.Time) string {
	return fmt.Sprintf("--- %s job started: %s ---\n", name, t.Format(time.UnixDate))
}

func finishMarker(name string, t time.Time) string {
	return fmt.Sprintf("--- %s job finished: %s ---\n", name, t.Format(time.UnixDate))
}

// writeFinishMarker appends the finished marker, forcing it onto its own line
// when the job's last output byte was not a newline.
func writeFinishMarker(f *os.File, name string, t time.Time) error {
	marker := finishMarker(name, t)
	st, err := f.Stat()
	if err == nil && st.Size() > 0 {
		buf := make([]byte, 1)
		if _, rerr := f.ReadAt(buf, st.Size()-1); rerr == nil && buf[0] != '\n' {
			marker = "\n" + marker
		}
	}
	if _, err := f.WriteString(marker); err != nil {
		return err
	}
	return f.Sync()
}

// exitCode maps a cmd.Run error to the code the runner should exit with.
// Non-zero exits surface through exec.ExitError; anything else (including a
// signal kill, where ExitCode reports -1) collapses to 1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
