// Package scheduler runs the periodic loops that notify workers and send
// admin reports at fixed wall-clock minutes in one time zone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLoopBusy is returned by RunNow while the loop is already firing.
var ErrLoopBusy = errors.New("loop is already firing")

// Config holds configuration for the scheduler.
type Config struct {
	// Timezone all trigger decisions are made in (e.g., "Europe/Warsaw").
	Timezone string
	// CheckInterval is how often each loop evaluates its trigger.
	CheckInterval time.Duration
	// SendTimeout bounds the work done for a single entity.
	SendTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Timezone:      "Europe/Warsaw",
		CheckInterval: 60 * time.Second,
		SendTimeout:   30 * time.Second,
	}
}

// RunStats summarises one firing.
type RunStats struct {
	Total    int
	Done     int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// Scheduler owns a set of independent loops that share a time zone.
type Scheduler struct {
	config   Config
	location *time.Location
	marker   Marker
	metrics  *Metrics
	logger   Logger
	now      func() time.Time

	mu    sync.Mutex
	loops map[string]*Loop
	order []string
}

// New creates a scheduler. marker and metrics may be nil.
func New(config Config, marker Marker, metrics *Metrics, logger Logger) (*Scheduler, error) {
	def := DefaultConfig()
	if config.Timezone == "" {
		config.Timezone = def.Timezone
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = def.CheckInterval
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = def.SendTimeout
	}
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", config.Timezone, err)
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Scheduler{
		config:   config,
		location: loc,
		marker:   marker,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		loops:    make(map[string]*Loop),
	}, nil
}

// Location returns the scheduler time zone.
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Now returns the current time in the scheduler time zone.
func (s *Scheduler) Now() time.Time {
	return s.now().In(s.location)
}

// Add registers a loop that runs job whenever trigger fires.
func (s *Scheduler) Add(trigger Trigger, job Job) *Loop {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := &Loop{
		name:    job.Name(),
		trigger: trigger,
		job:     job,
		sched:   s,
	}
	if _, exists := s.loops[l.name]; !exists {
		s.order = append(s.order, l.name)
	}
	s.loops[l.name] = l
	return l
}

// Loop returns a registered loop by job name.
func (s *Scheduler) Loop(name string) (*Loop, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loops[name]
	return l, ok
}

// Start runs every loop in its own goroutine and blocks until ctx is done
// and all loops have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	loops := make([]*Loop, 0, len(s.order))
	for _, name := range s.order {
		loops = append(loops, s.loops[name])
	}
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		"timezone", s.config.Timezone,
		"check_interval", s.config.CheckInterval,
		"loops", len(loops))

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			l.Start(ctx)
		}(l)
	}
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow forces an immediate firing of the named loop. It returns
// ErrLoopBusy instead of overlapping a firing that is still running.
func (s *Scheduler) RunNow(ctx context.Context, name string) (RunStats, error) {
	l, ok := s.Loop(name)
	if !ok {
		return RunStats{}, fmt.Errorf("unknown loop %q", name)
	}
	if !l.firing.TryLock() {
		return RunStats{}, ErrLoopBusy
	}
	defer l.firing.Unlock()

	s.logger.Info("manual run triggered", "loop", name)
	return l.run(ctx, s.Now()), nil
}

// Loop is one Idle -> Evaluating -> (Firing | Idle) polling cycle.
// Firing is best effort: at most once per trigger minute per marker, never
// guaranteed exactly once.
type Loop struct {
	name    string
	trigger Trigger
	job     Job
	sched   *Scheduler

	mu        sync.Mutex
	lastFired string // YYYY-MM-DDTHH:MM of the last firing

	// firing is held for the whole of one firing, scheduled or manual.
	firing sync.Mutex
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Start evaluates the trigger every CheckInterval until ctx is done. A
// firing in progress when ctx ends finishes its current task first.
func (l *Loop) Start(ctx context.Context) {
	s := l.sched
	s.logger.Info("loop started", "loop", l.name, "trigger", l.trigger.String())

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("loop stopped by context", "loop", l.name)
			return
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick evaluates the trigger once and fires if due. It reports whether the
// job ran. A due minute is skipped while a manual run of the loop is active.
func (l *Loop) Tick(ctx context.Context) bool {
	s := l.sched
	t := s.now()
	if !ShouldFireIn(l.trigger, s.location, t) {
		return false
	}
	now := t.In(s.location)
	key := now.Format("2006-01-02T15:04")

	if !l.firing.TryLock() {
		s.logger.Info("loop busy, skipping trigger minute", "loop", l.name, "key", key)
		s.metrics.incSkipped(l.name)
		return false
	}
	defer l.firing.Unlock()

	l.mu.Lock()
	already := l.lastFired == key
	if !already {
		l.lastFired = key
	}
	l.mu.Unlock()

	if already {
		s.metrics.incSkipped(l.name)
		return false
	}

	if s.marker != nil {
		claimed, err := s.marker.Claim(ctx, l.name, key)
		if err != nil {
			s.logger.Error("fired marker unavailable, firing anyway", "loop", l.name, "error", err)
		} else if !claimed {
			s.logger.Debug("trigger minute already claimed", "loop", l.name, "key", key)
			s.metrics.incSkipped(l.name)
			return false
		}
	}

	s.metrics.incFired(l.name)
	l.run(ctx, now)
	return true
}

// run executes every task of one firing. A failing task is logged and
// skipped. Shutdown stops new tasks from starting but lets the current one
// finish within SendTimeout.
func (l *Loop) run(ctx context.Context, now time.Time) RunStats {
	s := l.sched
	start := time.Now()
	var stats RunStats

	tasks, err := l.job.Tasks(ctx, now)
	if err != nil {
		s.logger.Error("failed to list tasks", "loop", l.name, "error", err)
		return stats
	}
	stats.Total = len(tasks)
	s.logger.Info("firing", "loop", l.name, "time", now.Format("2006-01-02 15:04"), "tasks", stats.Total)

	for _, task := range tasks {
		select {
		case <-ctx.Done():
			stats.Skipped = stats.Total - stats.Done - stats.Failed
			s.logger.Info("firing interrupted",
				"loop", l.name,
				"processed", stats.Done+stats.Failed,
				"remaining", stats.Skipped)
			stats.Duration = time.Since(start)
			return stats
		default:
		}

		if err := l.runTask(ctx, task); err != nil {
			stats.Failed++
			s.metrics.incTask(l.name, "failed")
			s.logger.Error("task failed", "loop", l.name, "key", task.Key, "error", err)
			continue
		}
		stats.Done++
		s.metrics.incTask(l.name, "done")
	}

	stats.Duration = time.Since(start)
	s.logger.Info("firing processed",
		"loop", l.name,
		"total", stats.Total,
		"done", stats.Done,
		"failed", stats.Failed,
		"duration", stats.Duration)
	return stats
}

func (l *Loop) runTask(ctx context.Context, task Task) (err error) {
	s := l.sched
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SendTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		s.metrics.observeTask(l.name, time.Since(start).Seconds())
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return task.Run(taskCtx)
}
