package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "github.com/youssefjedidi/airport-operations-pipeline/pkg/logx"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func testDescriptor(t *testing.T, body string) Descriptor {
	t.Helper()
	dir := t.TempDir()
	return Descriptor{
		Name:        "Monitor",
		Interpreter: "/bin/sh",
		Script:      writeScript(t, dir, "job.sh", body),
		LogFile:     filepath.Join(dir, "monitor.log"),
	}
}

func TestRunSuccessAppendsMarkers(t *testing.T) {
	t.Parallel()
	d := testDescriptor(t, "#!/bin/sh\necho OK\n")

	prior := "--- Monitor job started: earlier ---\nold output\n"
	if err := os.WriteFile(d.LogFile, []byte(prior), 0o644); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	code, err := New(logx.Nop(), nil).Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	got := readLog(t, d.LogFile)
	if !strings.HasPrefix(got, prior) {
		t.Fatalf("prior log contents modified:\n%s", got)
	}
	appended := strings.TrimPrefix(got, prior)
	lines := strings.Split(strings.TrimSuffix(appended, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 appended lines, got %d:\n%s", len(lines), appended)
	}
	if !strings.HasPrefix(lines[0], "--- Monitor job started: ") || !strings.HasSuffix(lines[0], " ---") {
		t.Fatalf("bad start marker: %q", lines[0])
	}
	if lines[1] != "OK" {
		t.Fatalf("captured output = %q, want OK", lines[1])
	}
	if !strings.HasPrefix(lines[2], "--- Monitor job finished: ") || !strings.HasSuffix(lines[2], " ---") {
		t.Fatalf("bad finish marker: %q", lines[2])
	}
}

func TestRunFailurePropagatesExitCode(t *testing.T) {
	t.Parallel()
	d := testDescriptor(t, "#!/bin/sh\necho 'FAIL: disk full' >&2\nexit 1\n")

	code, err := New(logx.Nop(), nil).Run(context.Background(), d)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	tf, ok := AsTaskFailure(err)
	if !ok {
		t.Fatalf("expected TaskFailure, got %v", err)
	}
	if tf.ExitCode != 1 || tf.Task != "Monitor" {
		t.Fatalf("unexpected failure details: %+v", tf)
	}

	got := readLog(t, d.LogFile)
	if !strings.Contains(got, "FAIL: disk full\n") {
		t.Fatalf("stderr not captured:\n%s", got)
	}
	if !strings.Contains(got, "job started: ") {
		t.Fatalf("start marker missing:\n%s", got)
	}
	if strings.Contains(got, "job finished") {
		t.Fatalf("finish marker written for a failed run:\n%s", got)
	}
}

func TestRunExitCodeVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		code int
	}{
		{name: "exit 2", body: "#!/bin/sh\nexit 2\n", code: 2},
		{name: "exit 42", body: "#!/bin/sh\nexit 42\n", code: 42},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := testDescriptor(t, tt.body)
			code, err := New(logx.Nop(), nil).Run(context.Background(), d)
			if code != tt.code {
				t.Fatalf("exit code = %d, want %d", code, tt.code)
			}
			if _, ok := AsTaskFailure(err); !ok {
				t.Fatalf("expected TaskFailure, got %v", err)
			}
		})
	}
}

func TestRunMissingScriptLeavesLogUntouched(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	d := Descriptor{
		Name:        "Monitor",
		Interpreter: "/bin/sh",
		Script:      filepath.Join(dir, "does-not-exist.sh"),
		LogFile:     filepath.Join(dir, "monitor.log"),
	}

	code, err := New(logx.Nop(), nil).Run(context.Background(), d)
	if code == 0 {
		t.Fatal("expected non-zero exit code")
	}
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, statErr := os.Stat(d.LogFile); !os.IsNotExist(statErr) {
		t.Fatalf("log file was created for a misconfigured task")
	}
}

func TestRunMissingInterpreter(t *testing.T) {
	t.Parallel()
	d := testDescriptor(t, "#!/bin/sh\necho OK\n")
	d.Interpreter = filepath.Join(filepath.Dir(d.Script), "no-such-python")

	code, err := New(logx.Nop(), nil).Run(context.Background(), d)
	if code == 0 || !errors.Is(err, ErrConfiguration) {
		t.Fatalf("code=%d err=%v, want non-zero + ErrConfiguration", code, err)
	}
	if _, statErr := os.Stat(d.LogFile); !os.IsNotExist(statErr) {
		t.Fatal("log file was touched before validation")
	}
}

func TestRepeatedRunsAppendInOrder(t *testing.T) {
	t.Parallel()
	d := testDescriptor(t, "#!/bin/sh\necho run\n")
	r := New(logx.Nop(), nil)

	const n = 3
	for i := 0; i < n; i++ {
		if code, err := r.Run(context.Background(), d); err != nil || code != 0 {
			t.Fatalf("run %d: code=%d err=%v", i, code, err)
		}
	}

	got := readLog(t, d.LogFile)
	if c := strings.Count(got, "job started: "); c != n {
		t.Fatalf("start markers = %d, want %d", c, n)
	}
	if c := strings.Count(got, "job finished: "); c != n {
		t.Fatalf("finish markers = %d, want %d", c, n)
	}
}

func TestRunUsesFixedEnvironment(t *testing.T) {
	d := testDescriptor(t, "#!/bin/sh\necho \"path=$PATH\"\necho \"ambient=$OPS_AMBIENT_PROBE\"\necho \"extra=$OPS_EXTRA\"\n")
	d.ExtraEnv = []string{"OPS_EXTRA=yes"}

	t.Setenv("OPS_AMBIENT_PROBE", "leaked")

	if code, err := New(logx.Nop(), nil).Run(context.Background(), d); err != nil || code != 0 {
		t.Fatalf("code=%d err=%v", code, err)
	}

	got := readLog(t, d.LogFile)
	if !strings.Contains(got, "path="+SearchPath+"\n") {
		t.Fatalf("subprocess PATH not fixed:\n%s", got)
	}
	if strings.Contains(got, "ambient=leaked") {
		t.Fatalf("ambient environment leaked into subprocess:\n%s", got)
	}
	if !strings.Contains(got, "extra=yes\n") {
		t.Fatalf("descriptor env not passed:\n%s", got)
	}
}

func TestFinishMarkerStartsItsOwnLine(t *testing.T) {
	t.Parallel()
	d := testDescriptor(t, "#!/bin/sh\nprintf 'no trailing newline'\n")

	if code, err := New(logx.Nop(), nil).Run(context.Background(), d); err != nil || code != 0 {
		t.Fatalf("code=%d err=%v", code, err)
	}

	got := readLog(t, d.LogFile)
	if !strings.Contains(got, "no trailing newline\n--- Monitor job finished: ") {
		t.Fatalf("finish marker glued to job output:\n%s", got)
	}
}

func TestTimeoutLeavesNoFinishMarker(t *testing.T) {
	t.Parallel()
	d := testDescriptor(t, "#!/bin/sh\nsleep 5\n")
	d.Timeout = 100 * time.Millisecond

	code, err := New(logx.Nop(), nil).Run(context.Background(), d)
	if code == 0 || err == nil {
		t.Fatalf("expected failure for timed-out job, code=%d err=%v", code, err)
	}

	got := readLog(t, d.LogFile)
	if !strings.Contains(got, "job started: ") {
		t.Fatalf("start marker missing:\n%s", got)
	}
	if strings.Contains(got, "job finished") {
		t.Fatalf("finish marker written for a killed job:\n%s", got)
	}
}

type fakeRecorder struct {
	startedTask string
	status      string
	exitCode    int
	finishID    int64
}

func (f *fakeRecorder) RunStarted(_ context.Context, task string, _ time.Time) (int64, error) {
	f.startedTask = task
	return 7, nil
}

func (f *fakeRecorder) RunFinished(_ context.Context, id int64, status string, code int, _ time.Time, _ string) error {
	f.finishID = id
	f.status = status
	f.exitCode = code
	return nil
}

func TestRecorderSeesBothOutcomes(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	d := testDescriptor(t, "#!/bin/sh\nexit 0\n")
	if code, err := New(logx.Nop(), rec).Run(context.Background(), d); err != nil || code != 0 {
		t.Fatalf("code=%d err=%v", code, err)
	}
	if rec.startedTask != "Monitor" || rec.finishID != 7 || rec.status != StatusSucceeded {
		t.Fatalf("unexpected record: %+v", rec)
	}

	rec = &fakeRecorder{}
	d = testDescriptor(t, "#!/bin/sh\nexit 3\n")
	if code, _ := New(logx.Nop(), rec).Run(context.Background(), d); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	if rec.status != StatusFailed || rec.exitCode != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return string(b)
}
