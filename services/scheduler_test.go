package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestScheduler(t *testing.T, clock *fakeClock, job func(context.Context)) (*Scheduler, string) {
	t.Helper()
	record := filepath.Join(t.TempDir(), "scheduled_time.txt")
	s := NewScheduler(SchedulerConfig{
		WindowStart: 8,
		WindowEnd:   11,
		Location:    time.UTC,
		RecordPath:  record,
		Clock:       clock,
		Rand:        testRand(),
	}, job)
	return s, record
}

func TestSleepFor(t *testing.T) {
	cases := []struct {
		name      string
		remaining time.Duration
		pending   bool
		err       error
		sleep     time.Duration
		rearm     bool
	}{
		{"within cap", 90 * time.Second, true, nil, 90 * time.Second, false},
		{"at cap", 1800 * time.Second, true, nil, 1800 * time.Second, false},
		{"over cap", 5 * time.Hour, true, nil, 1800 * time.Second, false},
		{"no trigger", 0, false, nil, 60 * time.Second, true},
		{"zero", 0, true, nil, 60 * time.Second, true},
		{"negative", -time.Minute, true, nil, 60 * time.Second, true},
		{"error", 10 * time.Second, true, errors.New("boom"), 300 * time.Second, false},
	}
	for _, tc := range cases {
		sleep, rearm := SleepFor(tc.remaining, tc.pending, tc.err)
		if sleep != tc.sleep || rearm != tc.rearm {
			t.Fatalf("%s: expected (%v,%v), got (%v,%v)", tc.name, tc.sleep, tc.rearm, sleep, rearm)
		}
	}
}

func TestArmStaysInWindowAndWritesRecord(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)}
	s, record := newTestScheduler(t, clock, func(context.Context) {})
	pattern := regexp.MustCompile(`^(0[89]|1[01]):[0-5][0-9]$`)

	for i := 0; i < 50; i++ {
		if err := s.Arm(clock.now); err != nil {
			t.Fatalf("Arm: %v", err)
		}
		st := s.Status()
		if st.State != "armed" || st.NextFire == nil {
			t.Fatalf("expected armed status, got %+v", st)
		}
		next := *st.NextFire
		if h := next.Hour(); h < 8 || h > 11 {
			t.Fatalf("hour %d outside window", h)
		}
		if !next.After(clock.now) || next.Sub(clock.now) > 6*time.Hour {
			t.Fatalf("expected a fire later today, got %v", next)
		}

		data, err := os.ReadFile(record)
		if err != nil {
			t.Fatalf("read record: %v", err)
		}
		if !pattern.Match(data) {
			t.Fatalf("bad record %q", data)
		}
		if string(data) != fmt.Sprintf("%02d:%02d", next.Hour(), next.Minute()) || string(data) != st.At {
			t.Fatalf("record %q does not match trigger %v", data, next)
		}
	}
}

func TestArmReplacesPendingTrigger(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)}
	fired := 0
	s, _ := newTestScheduler(t, clock, func(context.Context) { fired++ })

	for i := 0; i < 5; i++ {
		if err := s.Arm(clock.now); err != nil {
			t.Fatalf("Arm: %v", err)
		}
	}
	// Walk the whole day; only one trigger may fire.
	for clock.now.Before(time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)) {
		s.RunPending(context.Background(), clock.now)
		clock.now = clock.now.Add(time.Minute)
	}
	if fired != 1 {
		t.Fatalf("expected exactly one fire, got %d", fired)
	}
}

func TestRunPendingFiresOnceAndRearmsNextDay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)}
	fired := 0
	s, _ := newTestScheduler(t, clock, func(context.Context) { fired++ })
	ctx := context.Background()

	if err := s.Arm(clock.now); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	due := *s.Status().NextFire

	if s.RunPending(ctx, due.Add(-time.Second)) {
		t.Fatalf("fired early")
	}
	if !s.RunPending(ctx, due) {
		t.Fatalf("did not fire when due")
	}
	if s.RunPending(ctx, due) {
		t.Fatalf("fired twice for one trigger")
	}
	if st := s.Status(); st.State != "idle" || st.LastFired == nil || !st.LastFired.Equal(due) {
		t.Fatalf("unexpected status after fire: %+v", st)
	}

	clock.now = due
	if sleep := s.Step(ctx); sleep != RearmInterval {
		t.Fatalf("expected re-arm sleep %v, got %v", RearmInterval, sleep)
	}
	next := *s.Status().NextFire
	if next.Day() != due.Day()+1 {
		t.Fatalf("expected next trigger tomorrow, got %v (fired %v)", next, due)
	}
	if fired != 1 {
		t.Fatalf("expected 1 fire, got %d", fired)
	}
}

func TestIdleSecondsDropsSkewedTrigger(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)}
	s, _ := newTestScheduler(t, clock, func(context.Context) {})
	if err := s.Arm(clock.now); err != nil {
		t.Fatal(err)
	}

	// Clock jumped three days back.
	_, _, err := s.IdleSeconds(clock.now.AddDate(0, 0, -3))
	if !errors.Is(err, ErrClockSkew) {
		t.Fatalf("expected ErrClockSkew, got %v", err)
	}
	if st := s.Status(); st.State != "idle" {
		t.Fatalf("expected skewed trigger dropped, got %+v", st)
	}
}

func TestStepCapsSleep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 0, 30, 0, 0, time.UTC)}
	s, _ := newTestScheduler(t, clock, func(context.Context) {})
	if err := s.Arm(clock.now); err != nil {
		t.Fatal(err)
	}
	if sleep := s.Step(context.Background()); sleep != MaxIdle {
		t.Fatalf("expected %v, got %v", MaxIdle, sleep)
	}
}

func TestRunSendsOncePerDay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)}
	var fires []time.Time
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := newTestScheduler(t, clock, func(context.Context) {
		fires = append(fires, clock.now)
	})

	stop := time.Date(2026, 3, 9, 5, 0, 0, 0, time.UTC)
	wrapped := &stoppingClock{fakeClock: clock, stop: stop, cancel: cancel}
	s.clock = wrapped

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fires) != 7 {
		t.Fatalf("expected 7 daily fires, got %d: %v", len(fires), fires)
	}
	for i, f := range fires {
		if h := f.Hour(); h < 8 || h > 11 {
			t.Fatalf("fire %d at %v outside window", i, f)
		}
		if i > 0 && f.YearDay() == fires[i-1].YearDay() {
			t.Fatalf("two fires on %v", f)
		}
	}
	for _, d := range clock.sleeps {
		if d <= 0 || d > MaxIdle {
			t.Fatalf("sleep %v out of range", d)
		}
	}
}

type stoppingClock struct {
	*fakeClock
	stop   time.Time
	cancel context.CancelFunc
}

func (c *stoppingClock) Sleep(ctx context.Context, d time.Duration) error {
	if !c.now.Before(c.stop) {
		c.cancel()
	}
	return c.fakeClock.Sleep(ctx, d)
}

func TestLateWakeAfterMidnightSendsOnceThatDay(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)}
	var fires []time.Time
	s, _ := newTestScheduler(t, clock, func(context.Context) {
		fires = append(fires, clock.now)
	})
	ctx := context.Background()

	if err := s.Arm(clock.now); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	due := *s.Status().NextFire

	// Suspended past the trigger; resume early next morning.
	clock.now = due.Add(20 * time.Hour)
	end := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	for clock.now.Before(end) {
		if err := clock.Sleep(ctx, s.Step(ctx)); err != nil {
			t.Fatal(err)
		}
	}

	if len(fires) != 1 {
		t.Fatalf("expected one fire on %v, got %v", due.AddDate(0, 0, 1).Format("2006-01-02"), fires)
	}
	if fires[0].Day() != 3 {
		t.Fatalf("late fire should run on wake, got %v", fires[0])
	}
	next := s.Status().NextFire
	if next == nil || next.Day() != 4 {
		t.Fatalf("expected next trigger on the 4th, got %v", next)
	}
}

func TestStepRetriesWhenArmFails(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)}
	s := NewScheduler(SchedulerConfig{
		WindowStart: 8,
		WindowEnd:   11,
		Location:    time.FixedZone("Bogus/Zone", 0),
		Clock:       clock,
		Rand:        testRand(),
	}, func(context.Context) {})

	if err := s.Arm(clock.now); !errors.Is(err, ErrSchedulingCompute) {
		t.Fatalf("expected ErrSchedulingCompute, got %v", err)
	}
	if sleep := s.Step(context.Background()); sleep != RetryInterval {
		t.Fatalf("expected %v, got %v", RetryInterval, sleep)
	}
	if st := s.Status(); st.State != "idle" {
		t.Fatalf("expected idle after failed arm, got %+v", st)
	}
}

func TestNewSchedulerClampsWindow(t *testing.T) {
	cases := []struct {
		start, end int
		lo, hi     int
	}{
		{11, 8, 11, 11},
		{-3, 40, 0, 23},
		{30, 2, 23, 23},
	}
	for _, tc := range cases {
		clock := &fakeClock{now: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
		s := NewScheduler(SchedulerConfig{
			WindowStart: tc.start,
			WindowEnd:   tc.end,
			Location:    time.UTC,
			Clock:       clock,
			Rand:        testRand(),
		}, func(context.Context) {})

		for i := 0; i < 20; i++ {
			if err := s.Arm(clock.now); err != nil {
				t.Fatalf("%d..%d: Arm: %v", tc.start, tc.end, err)
			}
			if h := s.Status().NextFire.Hour(); h < tc.lo || h > tc.hi {
				t.Fatalf("%d..%d: hour %d outside %d..%d", tc.start, tc.end, h, tc.lo, tc.hi)
			}
		}
	}
}
