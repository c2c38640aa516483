// Package runner executes one pipeline job deterministically.
//
// A job is an opaque script run under a known interpreter. The runner never
// trusts the invoking environment: paths come from the install root, the
// subprocess gets a fixed PATH, and the working directory of the caller is
// irrelevant. Combined stdout+stderr goes into an append-only per-task log,
// bracketed by started/finished marker lines:
//
//	--- Monitor job started: <timestamp> ---
//	<raw job output>
//	--- Monitor job finished: <timestamp> ---
//
// A started marker with no finished marker means the run failed or was killed
// mid-flight; the runner additionally exits with the job's own non-zero code.
// Concurrent invocations of the same task are not serialized here; the
// scheduler's overlap policy is responsible for that.
package runner
