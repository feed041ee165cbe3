package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJob struct {
	name string

	mu    sync.Mutex
	runs  []string
	fail  map[string]error
	panic map[string]bool
	keys  []string
	err   error
	block bool
}

func (j *fakeJob) Name() string { return j.name }

func (j *fakeJob) Tasks(_ context.Context, _ time.Time) ([]Task, error) {
	if j.err != nil {
		return nil, j.err
	}
	tasks := make([]Task, 0, len(j.keys))
	for _, key := range j.keys {
		key := key
		tasks = append(tasks, Task{Key: key, Run: func(ctx context.Context) error {
			if j.block {
				<-ctx.Done()
				return ctx.Err()
			}
			if j.panic[key] {
				panic("boom")
			}
			j.mu.Lock()
			j.runs = append(j.runs, key)
			j.mu.Unlock()
			return j.fail[key]
		}})
	}
	return tasks, nil
}

func (j *fakeJob) ran() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.runs...)
}

// gatedJob's first task blocks until release is closed.
type gatedJob struct {
	name    string
	keys    []string
	started chan struct{}
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	runs    []string
	ctxErrs []error
}

func newGatedJob(name string, keys ...string) *gatedJob {
	return &gatedJob{
		name:    name,
		keys:    keys,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (j *gatedJob) Name() string { return j.name }

func (j *gatedJob) Tasks(_ context.Context, _ time.Time) ([]Task, error) {
	tasks := make([]Task, 0, len(j.keys))
	for i, key := range j.keys {
		i, key := i, key
		tasks = append(tasks, Task{Key: key, Run: func(ctx context.Context) error {
			if i == 0 {
				j.once.Do(func() { close(j.started) })
				<-j.release
			}
			j.mu.Lock()
			j.runs = append(j.runs, key)
			j.ctxErrs = append(j.ctxErrs, ctx.Err())
			j.mu.Unlock()
			return nil
		}})
	}
	return tasks, nil
}

func (j *gatedJob) ran() ([]string, []error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.runs...), append([]error(nil), j.ctxErrs...)
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func newTestScheduler(t *testing.T, now time.Time, marker Marker) *Scheduler {
	t.Helper()
	s, err := New(Config{Timezone: "Europe/Warsaw", SendTimeout: time.Second}, marker, nil, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}

func TestExactMinute(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	assert.True(t, MidnightTrigger.ShouldFire(time.Date(2025, 1, 15, 0, 0, 30, 0, loc)))
	assert.False(t, MidnightTrigger.ShouldFire(time.Date(2025, 1, 15, 0, 1, 0, 0, loc)))
	assert.False(t, MidnightTrigger.ShouldFire(time.Date(2025, 1, 15, 12, 0, 0, 0, loc)))
}

func TestReportTrigger_FiresOnlyAtRealHours(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	var fired []string
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)
	for m := 0; m < 24*60; m++ {
		now := day.Add(time.Duration(m) * time.Minute)
		if ReportTrigger.ShouldFire(now) {
			fired = append(fired, now.Format("15:04"))
		}
	}
	assert.Equal(t, []string{"08:00", "15:00", "21:00"}, fired)
}

func TestShouldFireIn_UsesZone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Warsaw")
	require.NoError(t, err)

	// 23:00 UTC in winter is midnight in Warsaw.
	utc := time.Date(2025, 1, 14, 23, 0, 0, 0, time.UTC)
	assert.False(t, MidnightTrigger.ShouldFire(utc))
	assert.True(t, ShouldFireIn(MidnightTrigger, loc, utc))

	// 22:00 UTC in summer is midnight in Warsaw.
	assert.True(t, ShouldFireIn(MidnightTrigger, loc, time.Date(2025, 7, 14, 22, 0, 0, 0, time.UTC)))
}

func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New(Config{Timezone: "Mars/Olympus"}, nil, nil, nil)
	assert.Error(t, err)
}

func TestTick_FiresOncePerMinute(t *testing.T) {
	now := time.Date(2025, 1, 14, 23, 0, 10, 0, time.UTC)
	s := newTestScheduler(t, now, nil)
	job := &fakeJob{name: "notify", keys: []string{"1", "2"}}
	l := s.Add(MidnightTrigger, job)

	ctx := context.Background()
	assert.True(t, l.Tick(ctx))
	assert.False(t, l.Tick(ctx))
	assert.Equal(t, []string{"1", "2"}, job.ran())

	// Next day's midnight fires again.
	s.now = func() time.Time { return now.Add(24 * time.Hour) }
	assert.True(t, l.Tick(ctx))
	assert.Len(t, job.ran(), 4)
}

func TestTick_NotDue(t *testing.T) {
	s := newTestScheduler(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), nil)
	job := &fakeJob{name: "notify", keys: []string{"1"}}
	l := s.Add(MidnightTrigger, job)

	assert.False(t, l.Tick(context.Background()))
	assert.Empty(t, job.ran())
}

func TestRun_FailureIsolation(t *testing.T) {
	s := newTestScheduler(t, time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC), nil)
	job := &fakeJob{
		name:  "report",
		keys:  []string{"Warszawa", "Kraków", "Gdańsk", "Łódź"},
		fail:  map[string]error{"Kraków": errors.New("send failed")},
		panic: map[string]bool{"Gdańsk": true},
	}
	s.Add(ReportTrigger, job)

	stats, err := s.RunNow(context.Background(), "report")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Done)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, []string{"Warszawa", "Kraków", "Łódź"}, job.ran())
}

func TestRun_TasksError(t *testing.T) {
	s := newTestScheduler(t, time.Now(), nil)
	s.Add(ReportTrigger, &fakeJob{name: "report", err: errors.New("db down")})

	stats, err := s.RunNow(context.Background(), "report")
	require.NoError(t, err)
	assert.Equal(t, RunStats{}, stats)
}

func TestRunNow_UnknownLoop(t *testing.T) {
	s := newTestScheduler(t, time.Now(), nil)
	_, err := s.RunNow(context.Background(), "missing")
	assert.Error(t, err)
}

func TestRun_TaskTimeout(t *testing.T) {
	s, err := New(Config{SendTimeout: 20 * time.Millisecond}, nil, nil, nil)
	require.NoError(t, err)
	s.Add(MidnightTrigger, &fakeJob{name: "notify", keys: []string{"1", "2"}, block: true})

	start := time.Now()
	stats, err := s.RunNow(context.Background(), "notify")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_CancelledContextStartsNothing(t *testing.T) {
	s := newTestScheduler(t, time.Now(), nil)
	job := &fakeJob{name: "notify", keys: []string{"1", "2", "3"}}
	s.Add(MidnightTrigger, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := s.RunNow(ctx, "notify")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	assert.Empty(t, job.ran())
}

func TestStart_StopsOnContext(t *testing.T) {
	s, err := New(Config{CheckInterval: 10 * time.Millisecond}, nil, nil, nil)
	require.NoError(t, err)
	s.Add(MidnightTrigger, &fakeJob{name: "notify"})
	s.Add(ReportTrigger, &fakeJob{name: "report"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStart_ShutdownFinishesInFlightTask(t *testing.T) {
	s, err := New(Config{
		Timezone:      "Europe/Warsaw",
		CheckInterval: 5 * time.Millisecond,
		SendTimeout:   time.Second,
	}, nil, nil, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 1, 14, 23, 0, 0, 0, time.UTC) }
	job := newGatedJob("notify", "1", "2")
	s.Add(MidnightTrigger, job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	waitFor(t, job.started, "first task")
	cancel()

	select {
	case <-done:
		t.Fatal("scheduler returned while a task was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(job.release)
	waitFor(t, done, "scheduler stop")

	runs, ctxErrs := job.ran()
	assert.Equal(t, []string{"1"}, runs)
	assert.Equal(t, []error{nil}, ctxErrs)
}

func TestRunNow_BusyLoop(t *testing.T) {
	// 07:00 UTC is 08:00 in Warsaw, a report minute.
	s := newTestScheduler(t, time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC), nil)
	job := newGatedJob("report", "Opole")
	l := s.Add(ReportTrigger, job)

	result := make(chan RunStats, 1)
	go func() {
		stats, _ := s.RunNow(context.Background(), "report")
		result <- stats
	}()
	waitFor(t, job.started, "manual run")

	_, err := s.RunNow(context.Background(), "report")
	assert.ErrorIs(t, err, ErrLoopBusy)
	assert.False(t, l.Tick(context.Background()))

	close(job.release)
	select {
	case stats := <-result:
		assert.Equal(t, 1, stats.Done)
	case <-time.After(2 * time.Second):
		t.Fatal("manual run did not finish")
	}
	runs, _ := job.ran()
	assert.Equal(t, []string{"Opole"}, runs)

	// The loop is free again once the manual run is over.
	assert.True(t, l.Tick(context.Background()))
}

func TestMemoryMarker_SharedAcrossSchedulers(t *testing.T) {
	now := time.Date(2025, 1, 14, 23, 0, 0, 0, time.UTC)
	marker := NewMemoryMarker()

	jobA := &fakeJob{name: "notify", keys: []string{"1"}}
	jobB := &fakeJob{name: "notify", keys: []string{"1"}}
	a := newTestScheduler(t, now, marker).Add(MidnightTrigger, jobA)
	b := newTestScheduler(t, now, marker).Add(MidnightTrigger, jobB)

	assert.True(t, a.Tick(context.Background()))
	assert.False(t, b.Tick(context.Background()))
	assert.Len(t, jobA.ran(), 1)
	assert.Empty(t, jobB.ran())
}

func TestRedisMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	m := NewRedisMarker(rdb, "", time.Hour)
	ctx := context.Background()

	ok, err := m.Claim(ctx, "report", "2025-01-15T08:00")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Claim(ctx, "report", "2025-01-15T08:00")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Claim(ctx, "notify", "2025-01-15T08:00")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, mr.Exists("cityshift:fired:report:2025-01-15T08:00"))
	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists("cityshift:fired:report:2025-01-15T08:00"))
}

func TestTick_MarkerErrorStillFires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	now := time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC)
	s := newTestScheduler(t, now, NewRedisMarker(rdb, "", time.Hour))
	job := &fakeJob{name: "report", keys: []string{"Opole"}}
	l := s.Add(ReportTrigger, job)

	assert.True(t, l.Tick(context.Background()))
	assert.Equal(t, []string{"Opole"}, job.ran())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	now := time.Date(2025, 1, 15, 7, 0, 0, 0, time.UTC)
	s, err := New(Config{}, nil, m, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	job := &fakeJob{name: "report", keys: []string{"a", "b"}, fail: map[string]error{"b": errors.New("x")}}
	l := s.Add(ReportTrigger, job)
	l.Tick(context.Background())
	l.Tick(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Firings.WithLabelValues("report")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SkippedTicks.WithLabelValues("report")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("report", "done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("report", "failed")))
}
