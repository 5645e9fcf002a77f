package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"coffee-bot/utils"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	RearmInterval = 60 * time.Second
	MaxIdle       = 30 * time.Minute
	RetryInterval = 5 * time.Minute

	// A daily trigger is never more than about 36h out.
	maxTriggerAhead = 48 * time.Hour
)

var (
	ErrSchedulingCompute = errors.New("scheduling compute failed")
	ErrClockSkew         = errors.New("armed trigger too far in the future")
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateArmed:
		return "armed"
	case StateFiring:
		return "firing"
	default:
		return "idle"
	}
}

// Clock is the time source and blocking sleep used by the loop.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Window hours are clamped to 0..23, and an end before the start collapses
// the window to the start hour.
type SchedulerConfig struct {
	WindowStart int // first hour, inclusive
	WindowEnd   int // last hour, inclusive
	Location    *time.Location
	RecordPath  string // HH:MM of the armed trigger; empty disables
	Clock       Clock
	Rand        *rand.Rand
}

// Scheduler fires job once per calendar day at a random minute inside the
// configured window. At most one trigger is outstanding at any time.
type Scheduler struct {
	cfg   SchedulerConfig
	job   func(context.Context)
	clock Clock
	rng   *rand.Rand

	mu        sync.Mutex
	state     State
	next      time.Time
	at        string
	lastFired time.Time
}

type SchedulerStatus struct {
	State     string     `json:"state"`
	At        string     `json:"at,omitempty"`
	NextFire  *time.Time `json:"nextFire,omitempty"`
	LastFired *time.Time `json:"lastFired,omitempty"`
}

func NewScheduler(cfg SchedulerConfig, job func(context.Context)) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	cfg.WindowStart = min(max(cfg.WindowStart, 0), 23)
	cfg.WindowEnd = min(max(cfg.WindowEnd, cfg.WindowStart), 23)
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Scheduler{
		cfg:   cfg,
		job:   job,
		clock: cfg.Clock,
		rng:   cfg.Rand,
	}
}

// Arm picks today's (or, after a fire, tomorrow's) send time and replaces
// any pending trigger with it.
func (s *Scheduler) Arm(now time.Time) error {
	hour := s.cfg.WindowStart + s.rng.IntN(s.cfg.WindowEnd-s.cfg.WindowStart+1)
	minute := s.rng.IntN(60)

	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	if s.cfg.Location != time.Local {
		spec = "CRON_TZ=" + s.cfg.Location.String() + " " + spec
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchedulingCompute, err)
	}

	s.mu.Lock()
	from := now.In(s.cfg.Location)
	if !s.lastFired.IsZero() {
		// Never fire twice on the same day.
		tomorrow := utils.BeginningOfNextDay(s.lastFired.In(s.cfg.Location)).Add(-time.Nanosecond)
		if from.Before(tomorrow) {
			from = tomorrow
		}
	}
	next := schedule.Next(from)
	if next.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q has no future run", ErrSchedulingCompute, spec)
	}
	at := fmt.Sprintf("%02d:%02d", hour, minute)
	s.state = StateArmed
	s.next = next
	s.at = at
	s.mu.Unlock()

	nextFireTimestamp.Set(float64(next.Unix()))

	if s.cfg.RecordPath != "" {
		if err := os.WriteFile(s.cfg.RecordPath, []byte(at), 0o644); err != nil {
			log.Warn().Err(err).Str("path", s.cfg.RecordPath).Msg("failed to write scheduled time")
		}
	}

	log.Info().Str("at", at).Time("next", next).Msg("next coffee message scheduled")
	return nil
}

// RunPending fires the job when the armed trigger is due at now. It reports
// whether the job ran.
func (s *Scheduler) RunPending(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	if s.state != StateArmed || now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	fireAt := s.next
	s.state = StateFiring
	s.mu.Unlock()

	firesTotal.Inc()
	log.Info().Time("scheduled", fireAt).Time("now", now).Msg("daily trigger fired")
	s.job(ctx)

	s.mu.Lock()
	s.state = StateIdle
	s.next = time.Time{}
	// The actual fire instant, not the scheduled one: a trigger that ran
	// late past midnight still owns the day it ran on.
	s.lastFired = now
	s.mu.Unlock()
	nextFireTimestamp.Set(0)
	return true
}

// IdleSeconds reports how long until the pending trigger. A trigger further
// out than any daily schedule allows means the wall clock moved backwards;
// it is dropped and ErrClockSkew returned.
func (s *Scheduler) IdleSeconds(now time.Time) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateArmed {
		return 0, false, nil
	}
	remaining := s.next.Sub(now)
	if remaining > maxTriggerAhead {
		next := s.next
		s.state = StateIdle
		s.next = time.Time{}
		return 0, false, fmt.Errorf("%w: %s is %s away", ErrClockSkew, next.Format(time.RFC3339), remaining)
	}
	return remaining, true, nil
}

// SleepFor maps an idle computation to a sleep duration, and whether the
// trigger must be re-armed first.
func SleepFor(remaining time.Duration, pending bool, err error) (time.Duration, bool) {
	switch {
	case err != nil:
		return RetryInterval, false
	case !pending || remaining <= 0:
		return RearmInterval, true
	case remaining > MaxIdle:
		return MaxIdle, false
	default:
		return remaining, false
	}
}

// Step runs one loop iteration and returns how long to sleep.
func (s *Scheduler) Step(ctx context.Context) time.Duration {
	now := s.clock.Now()
	s.RunPending(ctx, now)

	remaining, pending, err := s.IdleSeconds(now)
	sleep, rearm := SleepFor(remaining, pending, err)
	if err != nil {
		log.Error().Err(err).Dur("retry", sleep).Msg("error in scheduling")
	}
	if rearm {
		if err := s.Arm(now); err != nil {
			log.Error().Err(err).Msg("failed to arm daily trigger")
			sleep = RetryInterval
		}
	}

	log.Debug().Dur("sleep", sleep).Msg("sleeping until next check")
	return sleep
}

// Run arms the first trigger and loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Arm(s.clock.Now()); err != nil {
		log.Error().Err(err).Msg("failed to arm daily trigger")
	}

	for {
		if err := s.clock.Sleep(ctx, s.Step(ctx)); err != nil {
			log.Info().Msg("scheduler stopped")
			return nil
		}
	}
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{State: s.state.String()}
	if s.state != StateIdle {
		next := s.next
		st.At = s.at
		st.NextFire = &next
	}
	if !s.lastFired.IsZero() {
		last := s.lastFired
		st.LastFired = &last
	}
	return st
}
