package monitor

import (
	"sync"
	"time"
)

// RoundState tracks the live status of the monitoring loop. All methods are
// safe for concurrent use.
type RoundState struct {
	mu sync.Mutex

	running     bool
	taskRunning bool
	progress    Progress
	lastRun     time.Time
	nextRun     time.Time
	roundsToday int
	today       string
}

// StateSnapshot is a point-in-time copy of RoundState for the control surface.
type StateSnapshot struct {
	IsRunning          bool      `json:"is_running"`
	CurrentTaskRunning bool      `json:"current_task_running"`
	Progress           Progress  `json:"progress"`
	LastRunTime        time.Time `json:"last_run_time"`
	NextRunTime        time.Time `json:"next_run_time"`
	RoundsToday        int       `json:"rounds_today"`
}

// NewRoundState returns an idle state.
func NewRoundState() *RoundState {
	return &RoundState{}
}

// SetRunning marks the monitor loop as started or stopped. Stopping clears
// the next-run schedule.
func (s *RoundState) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
	if !running {
		s.nextRun = time.Time{}
	}
}

// IsRunning reports whether the monitor loop is active.
func (s *RoundState) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// BeginTask claims the single round slot. It reports false when a round is
// already in flight.
func (s *RoundState) BeginTask() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskRunning {
		return false
	}
	s.taskRunning = true
	s.progress = Progress{}
	return true
}

// EndTask releases the round slot and records the completion time.
func (s *RoundState) EndTask(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskRunning = false
	s.lastRun = now
	s.bumpRoundsLocked(now)
}

// SetProgress updates the adapter position within the current round.
func (s *RoundState) SetProgress(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

// SetNextRun records when the next round is scheduled to start.
func (s *RoundState) SetNextRun(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRun = t
}

// Snapshot returns a copy of the current state. The rounds-today counter is
// reset lazily when the local date has rolled over since the last round.
func (s *RoundState) Snapshot(now time.Time) StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if day := now.Format("2006-01-02"); day != s.today {
		s.today = day
		s.roundsToday = 0
	}
	return StateSnapshot{
		IsRunning:          s.running,
		CurrentTaskRunning: s.taskRunning,
		Progress:           s.progress,
		LastRunTime:        s.lastRun,
		NextRunTime:        s.nextRun,
		RoundsToday:        s.roundsToday,
	}
}

func (s *RoundState) bumpRoundsLocked(now time.Time) {
	day := now.Format("2006-01-02")
	if day != s.today {
		s.today = day
		s.roundsToday = 0
	}
	s.roundsToday++
}
