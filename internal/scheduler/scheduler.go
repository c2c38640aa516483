package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	logx "github.com/youssefjedidi/airport-operations-pipeline/pkg/logx"
)

// Service triggers registered jobs on their schedules. Each firing launches
// the job in its own goroutine, gated by the overlap policy and the global
// launch limiter. Jobs that overrun into the next tick are skipped by default
// rather than doubled up.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	c    *cron.Cron
	jobs []*jobDef

	limiter *rate.Limiter

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	s := &Service{cfg: cfg, log: log}
	if cfg.LaunchRate > 0 {
		burst := cfg.LaunchBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.LaunchRate), burst)
	}
	return s
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Register adds a job definition. Jobs registered before Start are scheduled
// on Start; afterwards they are added to the live cron.
func (s *Service) Register(job Job) error {
	spec, err := ParseSchedule(job.Spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := &jobDef{job: job, state: &runState{}}
	s.jobs = append(s.jobs, d)
	if s.c != nil {
		return s.scheduleLocked(d, spec)
	}
	return nil
}

// Replace swaps the whole job set, restarting the cron if it is live. Used on
// manifest hot reload.
func (s *Service) Replace(jobs []Job) error {
	defs := make([]*jobDef, 0, len(jobs))
	for _, job := range jobs {
		if _, err := ParseSchedule(job.Spec); err != nil {
			return err
		}
		defs = append(defs, &jobDef{job: job, state: &runState{}})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = defs
	if s.c != nil {
		s.restartLocked()
	}
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(specParser), cron.WithLocation(s.loc))

	for _, d := range s.jobs {
		spec, err := ParseSchedule(d.job.Spec)
		if err != nil {
			// Register/Replace validated already; only a programming error
			// lands here.
			s.log.Error("dropping job with invalid schedule", logx.String("job", d.job.Name), logx.Err(err))
			continue
		}
		if err := s.scheduleLocked(d, spec); err != nil {
			s.log.Error("dropping unschedulable job", logx.String("job", d.job.Name), logx.Err(err))
		}
	}

	s.c.Start()
	s.log.Info("scheduler started",
		logx.Int("jobs", len(s.jobs)),
		logx.String("tz", s.loc.String()))
}

// Stop halts the cron and waits for in-flight launches to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Service) scheduleLocked(d *jobDef, spec Spec) error {
	id, err := s.c.AddFunc(spec.cronString(), func() { s.launch(d) })
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(specParser), cron.WithLocation(s.loc))
	for _, d := range s.jobs {
		if spec, err := ParseSchedule(d.job.Spec); err == nil {
			_ = s.scheduleLocked(d, spec)
		}
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// launch fires one job run. Called from the cron goroutine, so anything
// blocking (limiter, the run itself) happens in a new goroutine.
func (s *Service) launch(d *jobDef) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if d.job.Overlap == OverlapSkipIfRunning && !d.state.tryAcquire() {
		s.log.Warn("job still running, skipping this tick", logx.String("job", d.job.Name))
		s.remember(HistoryItem{Name: d.job.Name, Started: time.Now(), Skipped: true})
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if d.job.Overlap == OverlapSkipIfRunning {
			defer d.state.release()
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
		}

		start := time.Now()
		err := d.job.Run(ctx)

		item := HistoryItem{Name: d.job.Name, Started: start, Duration: time.Since(start)}
		if err != nil {
			item.Error = err.Error()
			s.log.Warn("job run failed", logx.String("job", d.job.Name), logx.Err(err))
		}
		s.remember(item)
	}()
}

func (s *Service) remember(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if s.cfg.HistorySize > 0 && len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

// History returns a copy of the recent launch ring, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}
