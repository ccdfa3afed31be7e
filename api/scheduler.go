/*
scheduler.go - In-process job scheduler

PURPOSE:
  Wakes up periodically and invokes every archive job. The runner's date
  gates decide whether a job actually archives anything; the scheduler
  only makes sure each job is evaluated once per local day.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Remembers the last local day each job kind was evaluated
  - A Failed run does not mark the day, so the next tick retries it
  - Skipped, Completed and PartiallyFailed runs all mark the day

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewJobScheduler(runner, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunJob endpoint (manual trigger)
  - archive/runner.go: Runner
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agencyops/ledger-archive/archive"
	"github.com/agencyops/ledger-archive/ledger"
)

// JobScheduler evaluates every job kind once per local day.
type JobScheduler struct {
	Runner        *archive.Runner
	Kinds         []archive.JobKind
	CheckInterval time.Duration
	Enabled       bool

	log     zerolog.Logger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	checkMu sync.Mutex
	lastDay map[archive.JobKind]string
}

// NewJobScheduler creates a new scheduler over all job kinds.
func NewJobScheduler(runner *archive.Runner, log zerolog.Logger) *JobScheduler {
	return &JobScheduler{
		Runner:        runner,
		Kinds:         archive.JobKinds(),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           log,
		lastDay:       make(map[archive.JobKind]string),
	}
}

// Start begins the scheduler.
func (s *JobScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.log.Info().Dur("interval", s.CheckInterval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info().Msg("scheduler stopped")
	}
}

func (s *JobScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.checkAndProcess()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndProcess()
		case <-s.stop:
			return
		}
	}
}

func (s *JobScheduler) checkAndProcess() {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	ctx := context.Background()
	now := s.Runner.Now()
	day := ledger.DateOf(now).String()

	evaluated, skipped := 0, 0
	for _, kind := range s.Kinds {
		if s.lastDay[kind] == day {
			continue
		}

		m, err := s.Runner.RunAt(ctx, kind, now)
		if err != nil {
			s.log.Error().Err(err).Str("job", string(kind)).Str("day", day).Msg("scheduled run failed, will retry")
			continue
		}
		s.lastDay[kind] = day
		evaluated++
		if m.Skipped {
			skipped++
		}
	}

	if evaluated > 0 {
		s.log.Debug().Str("day", day).Int("evaluated", evaluated).Int("skipped", skipped).Msg("scheduler check done")
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *JobScheduler) RunNow() {
	s.checkAndProcess()
}

// LastEvaluated returns the local day a job kind was last evaluated, or "".
func (s *JobScheduler) LastEvaluated(kind archive.JobKind) string {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	return s.lastDay[kind]
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *JobScheduler) GetNextRunTime() time.Time {
	return s.Runner.Now().Add(s.CheckInterval)
}
