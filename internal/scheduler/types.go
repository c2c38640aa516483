package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the scheduler service.
type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "America/Montreal"

	// LaunchRate/LaunchBurst bound job launches per second across all
	// schedules. Zero means no limiter.
	LaunchRate  float64
	LaunchBurst int

	HistorySize int
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning drops a tick while the previous run of the same
	// job is still executing. This is the external serialization the runner
	// itself deliberately does not provide.
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// Job is one registered schedule. Run is a closure over the runner invocation;
// the scheduler knows nothing about descriptors or log files.
type Job struct {
	Name    string
	Spec    string
	Overlap OverlapPolicy
	Run     func(ctx context.Context) error
}

type runState struct {
	mu      sync.Mutex
	running bool
}

func (st *runState) tryAcquire() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.running {
		return false
	}
	st.running = true
	return true
}

func (st *runState) release() {
	st.mu.Lock()
	st.running = false
	st.mu.Unlock()
}

type jobDef struct {
	job     Job
	entryID cron.EntryID
	state   *runState
}

// HistoryItem is one completed (or skipped) launch, kept in a bounded
// in-memory ring for inspection.
type HistoryItem struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Skipped  bool
	Error    string
}
