package metrics

import (
	"sync"
	"time"
)

// RunSummary is what a finished run reports to the status board.
type RunSummary struct {
	ID         string        `json:"id"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration_ns"`
	Targets    int           `json:"targets"`
	OK         int           `json:"ok"`
	Fail       int           `json:"fail"`
	Skipped    int           `json:"skipped"`
	Written    int           `json:"written"`
	Duplicates int           `json:"duplicates"`
	Rejected   int           `json:"rejected"`
	Errors     int           `json:"errors"`
}

// Snapshot is a point-in-time copy of the status board.
type Snapshot struct {
	State         string      `json:"state"`
	Started       time.Time   `json:"started"`
	LastHeartbeat time.Time   `json:"last_heartbeat,omitzero"`
	NextRun       time.Time   `json:"next_run,omitzero"`
	LastRun       *RunSummary `json:"last_run,omitempty"`
}

// Status tracks scheduler liveness for the health endpoint.
type Status struct {
	mu  sync.RWMutex
	cur Snapshot
}

// Board is the process-wide status board.
var Board = NewStatus()

func NewStatus() *Status {
	return &Status{cur: Snapshot{State: "idle", Started: time.Now()}}
}

func (s *Status) SetState(state string) {
	s.mu.Lock()
	s.cur.State = state
	s.mu.Unlock()
}

func (s *Status) Beat(at time.Time) {
	s.mu.Lock()
	s.cur.LastHeartbeat = at
	s.mu.Unlock()
}

func (s *Status) SetNextRun(at time.Time) {
	s.mu.Lock()
	s.cur.NextRun = at
	s.mu.Unlock()
}

func (s *Status) RecordRun(sum RunSummary) {
	s.mu.Lock()
	s.cur.LastRun = &sum
	s.mu.Unlock()
}

// Snapshot returns a copy safe to use without the lock.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.cur
	if snap.LastRun != nil {
		run := *snap.LastRun
		snap.LastRun = &run
	}
	return snap
}
