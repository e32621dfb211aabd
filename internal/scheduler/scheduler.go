package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookbag/internal/logging"
	"bookbag/internal/metrics"
	"bookbag/internal/services"
)

// ErrUnknownJob is returned when triggering a job that is not registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is one background job family.
type Job struct {
	Name string
	// Interval between timed runs. Zero or negative means the job only runs
	// when triggered.
	Interval time.Duration
	// Delay before the first timed run after Start.
	Delay time.Duration
	Run   func(ctx context.Context) error
}

// JobStatus is a snapshot of one job.
type JobStatus struct {
	Name         string
	Interval     time.Duration
	Running      bool
	Pending      bool
	Runs         int
	LastStart    time.Time
	LastDuration time.Duration
	LastError    string
	NextRun      time.Time
}

type jobState struct {
	job     Job
	trigger chan struct{}

	mu           sync.Mutex
	running      bool
	runs         int
	lastStart    time.Time
	lastDuration time.Duration
	lastErr      error
	nextRun      time.Time
}

// Scheduler owns the job goroutines.
type Scheduler struct {
	logger *slog.Logger
	jobs   map[string]*jobState
	order  []string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New registers jobs. Jobs without a name or function are ignored; a later
// job replaces an earlier one with the same name.
func New(logger *slog.Logger, jobs ...Job) *Scheduler {
	s := &Scheduler{
		logger: logging.NewComponentLogger(logger, "scheduler"),
		jobs:   make(map[string]*jobState, len(jobs)),
	}
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			continue
		}
		if _, exists := s.jobs[job.Name]; !exists {
			s.order = append(s.order, job.Name)
		}
		s.jobs[job.Name] = &jobState{job: job, trigger: make(chan struct{}, 1)}
	}
	return s
}

// Start launches one goroutine per job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}
	if len(s.order) == 0 {
		return errors.New("no jobs configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(len(s.order))
	for _, name := range s.order {
		go s.loop(runCtx, s.jobs[name])
	}
	s.logger.Info("scheduler started", logging.Int("jobs", len(s.order)))
	return nil
}

// Stop cancels running jobs and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger requests an immediate run of name. It never blocks; a request made
// while another is pending is absorbed by it.
func (s *Scheduler) Trigger(name string) error {
	st, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	select {
	case st.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Names lists registered jobs in registration order.
func (s *Scheduler) Names() []string {
	return append([]string(nil), s.order...)
}

// Status snapshots every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.jobs[name].snapshot())
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, st *jobState) {
	defer s.wg.Done()

	var (
		timer *time.Timer
		tick  <-chan time.Time
	)
	schedule := func(d time.Duration) {
		if st.job.Interval <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		tick = timer.C
		st.setNextRun(time.Now().Add(d))
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	schedule(st.job.Delay)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-st.trigger:
		}
		s.run(ctx, st)
		if ctx.Err() != nil {
			return
		}
		schedule(st.job.Interval)
	}
}

func (s *Scheduler) run(ctx context.Context, st *jobState) {
	name := st.job.Name
	runCtx := services.WithRequestID(services.WithJob(ctx, name), uuid.NewString())
	logger := logging.WithContext(runCtx, s.logger)

	start := st.begin()
	logger.Debug("job started")
	err := st.job.Run(runCtx)
	elapsed := time.Since(start)
	st.finish(elapsed, err)

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("job interrupted by shutdown", logging.Duration("elapsed", elapsed))
		return
	}
	metrics.RecordJobRun(name, elapsed, err)
	if err != nil {
		hint := "the job runs again on its next interval"
		if !services.IsRecoverable(err) {
			hint = "fix the configuration and trigger the job again"
		}
		logging.WarnWithContext(logger, "job failed", "job_failed",
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorHint, hint),
		)
		return
	}
	logger.Debug("job finished", logging.Duration("elapsed", elapsed))
}

func (st *jobState) begin() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.running = true
	st.lastStart = time.Now()
	st.nextRun = time.Time{}
	return st.lastStart
}

func (st *jobState) finish(elapsed time.Duration, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.running = false
	st.runs++
	st.lastDuration = elapsed
	st.lastErr = err
}

func (st *jobState) setNextRun(at time.Time) {
	st.mu.Lock()
	st.nextRun = at
	st.mu.Unlock()
}

func (st *jobState) snapshot() JobStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	status := JobStatus{
		Name:         st.job.Name,
		Interval:     st.job.Interval,
		Running:      st.running,
		Pending:      len(st.trigger) > 0,
		Runs:         st.runs,
		LastStart:    st.lastStart,
		LastDuration: st.lastDuration,
		NextRun:      st.nextRun,
	}
	if st.lastErr != nil {
		status.LastError = st.lastErr.Error()
	}
	return status
}
