package job

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"msgwatch/internal/metrics"
)

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RunFunc performs one full pass. It receives a context that is not
// cancelled when the scheduler stops, so a started pass always finishes.
type RunFunc func(ctx context.Context) RunStats

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Run        RunFunc
	Interval   time.Duration // time between the end of one run and the start of the next
	RunOnStart bool
	Heartbeat  time.Duration // idle heartbeat period, aligned to the wall clock; 0 disables
	Logger     *slog.Logger
}

// Scheduler triggers runs on an interval. Runs never overlap: the loop
// executes them on its own goroutine, so ticks and heartbeats that fall
// inside a run are dropped.
type Scheduler struct {
	run        RunFunc
	interval   time.Duration
	runOnStart bool
	heartbeat  time.Duration
	logger     *slog.Logger

	state atomic.Int32

	mu      sync.Mutex
	nextRun time.Time
	lastEnd time.Time
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Scheduler{
		run:        cfg.Run,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		heartbeat:  cfg.Heartbeat,
		logger:     cfg.Logger,
	}
	s.setState(StateIdle)
	return s
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	metrics.SchedulerState.Set(int64(st))
	metrics.Board.SetState(st.String())
}

// Start runs the schedule until ctx is cancelled. If a run is in flight at
// that moment it completes first; Start then returns with the scheduler
// Stopped.
func (s *Scheduler) Start(ctx context.Context) {
	defer func() {
		s.setState(StateStopped)
		s.logger.Info("scheduler stopped")
	}()

	s.logger.Info("scheduler started",
		"interval", s.interval,
		"run_on_start", s.runOnStart,
		"heartbeat", s.heartbeat,
	)

	if s.runOnStart {
		s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
	}

	runTimer := time.NewTimer(s.interval)
	defer runTimer.Stop()
	s.setNextRun(time.Now().Add(s.interval))

	var beatC <-chan time.Time
	var beatTimer *time.Timer
	if s.heartbeat > 0 {
		beatTimer = time.NewTimer(untilNextBeat(time.Now(), s.heartbeat))
		defer beatTimer.Stop()
		beatC = beatTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-runTimer.C:
			s.runOnce(ctx)
			if ctx.Err() != nil {
				return
			}
			runTimer.Reset(s.interval)
			s.setNextRun(time.Now().Add(s.interval))
		case at := <-beatC:
			s.beat(at)
			beatTimer.Reset(untilNextBeat(time.Now(), s.heartbeat))
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	s.setState(StateRunning)
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("run panicked", "panic", p)
		}
		s.mu.Lock()
		s.lastEnd = time.Now()
		s.mu.Unlock()
		s.setState(StateIdle)
	}()
	s.run(context.WithoutCancel(ctx))
}

// beat emits a heartbeat unless it fired while a run was in progress.
func (s *Scheduler) beat(at time.Time) bool {
	s.mu.Lock()
	stale := !s.lastEnd.IsZero() && at.Before(s.lastEnd)
	next := s.nextRun
	s.mu.Unlock()
	if stale {
		return false
	}

	metrics.HeartbeatsTotal.Inc()
	metrics.Board.Beat(at)
	s.logger.Info("heartbeat: waiting for next run", "next_run", next.Format(time.TimeOnly))
	return true
}

func (s *Scheduler) setNextRun(at time.Time) {
	s.mu.Lock()
	s.nextRun = at
	s.mu.Unlock()
	metrics.Board.SetNextRun(at)
}

// untilNextBeat returns the wait until the next multiple of every on the
// wall clock, e.g. the top of the next minute.
func untilNextBeat(now time.Time, every time.Duration) time.Duration {
	next := now.Truncate(every).Add(every)
	return next.Sub(now)
}
