// Package scheduler is the daemon loop: it triggers scheduled batches on a
// cadence, arbitrates them against manual runs, and fans batch results out
// to notifications and telemetry.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unlist-sh/unlist/pkg/jobs"
	"github.com/unlist-sh/unlist/pkg/notify"
	"github.com/unlist-sh/unlist/pkg/pixel"
	"github.com/unlist-sh/unlist/pkg/queue"
)

// BatchStarter is the queue surface the scheduler drives. *queue.Manager
// satisfies it.
type BatchStarter interface {
	StartScheduledAll(errorHandler func(*queue.ErrorCollection), completion func())
	StartImmediateScan(errorHandler func(*queue.ErrorCollection), completion func())
	StartImmediateOptOuts(errorHandler func(*queue.ErrorCollection), completion func())
	Stop()
}

// StatsProvider exposes the per-broker counters milestone checks read.
type StatsProvider interface {
	MatchCounts() (matches, removed int, err error)
}

// Scheduler runs the protection loop.
type Scheduler struct {
	Queue   BatchStarter
	Notify  notify.Service
	Pixels  *pixel.Handler
	Stats   StatsProvider
	Log     jobs.Logger
	Cadence time.Duration

	cron *cron.Cron

	mu   sync.Mutex
	mode queue.ManagerMode
	gen  uint64
}

func (s *Scheduler) log() jobs.Logger {
	if s.Log != nil {
		return s.Log
	}
	return jobs.NopLogger()
}

func (s *Scheduler) notifySvc() notify.Service {
	if s.Notify != nil {
		return s.Notify
	}
	return notify.Nop{}
}

// Start kicks off one queued run right away and then repeats on the
// cadence. It returns once the cron loop is armed.
func (s *Scheduler) Start() error {
	cadence := s.Cadence
	if cadence <= 0 {
		cadence = 4 * time.Hour
	}

	go s.RunQueued()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", cadence), s.RunQueued); err != nil {
		return err
	}
	s.cron.Start()
	s.log().Infof("scheduler armed, queued runs every %s", cadence)
	return nil
}

// Stop disarms the cadence and interrupts a running batch.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.Queue.Stop()
}

// RunQueued starts a scheduled scan+opt-out batch unless manual activity
// holds the queue.
func (s *Scheduler) RunQueued() {
	gen, ok := s.enter(queue.ManagerQueued)
	if !ok {
		s.log().Infof("scheduler: skipping queued run, manual activity in progress")
		return
	}
	s.Queue.StartScheduledAll(
		func(c *queue.ErrorCollection) { s.reportErrors("all", c) },
		func() {
			s.leave(gen)
			s.finishBatch("all")
		},
	)
}

// RunManualScan starts a user-triggered scan batch. done fires when the
// batch finishes; errs receives its errors, if any.
func (s *Scheduler) RunManualScan(errs func(*queue.ErrorCollection), done func()) error {
	return s.runManual("scan", s.Queue.StartImmediateScan, errs, done)
}

// RunManualOptOuts starts a user-triggered opt-out batch.
func (s *Scheduler) RunManualOptOuts(errs func(*queue.ErrorCollection), done func()) error {
	return s.runManual("optOut", s.Queue.StartImmediateOptOuts, errs, done)
}

func (s *Scheduler) runManual(kind string, start func(func(*queue.ErrorCollection), func()), errs func(*queue.ErrorCollection), done func()) error {
	gen, ok := s.enter(queue.ManagerManual)
	if !ok {
		return fmt.Errorf("manual %s rejected, queue is busy", kind)
	}
	start(
		func(c *queue.ErrorCollection) {
			s.reportErrors(kind, c)
			if errs != nil {
				errs(c)
			}
		},
		func() {
			s.leave(gen)
			s.finishBatch(kind)
			if done != nil {
				done()
			}
		},
	)
	return nil
}

// enter claims the manager mode and returns a token identifying the claim.
// A batch that was preempted still fires its completion; the token keeps
// that completion from resetting the mode the preemptor now owns.
func (s *Scheduler) enter(mode queue.ManagerMode) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mode.Accepts(mode) {
		return 0, false
	}
	s.mode = mode
	s.gen++
	return s.gen, true
}

func (s *Scheduler) leave(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.mode = queue.ManagerIdle
	}
	s.mu.Unlock()
}

func (s *Scheduler) reportErrors(kind string, c *queue.ErrorCollection) {
	if !c.HasErrors() {
		return
	}
	s.log().Errorf("batch %s finished with errors: %v", kind, c)
	if s.Pixels != nil {
		if c.OneTimeError != nil {
			s.Pixels.Fire(pixel.BatchFailed(kind, c.OneTimeError.Error()))
		} else {
			s.Pixels.Fire(pixel.BatchCompleted(kind, 0, len(c.OperationErrors)))
		}
	}
}

func (s *Scheduler) finishBatch(kind string) {
	s.notifySvc().FirstScanComplete()
	if s.Stats == nil {
		return
	}
	matches, removed, err := s.Stats.MatchCounts()
	if err != nil {
		s.log().Warnf("scheduler: stats check: %v", err)
		return
	}
	if removed > 0 {
		s.notifySvc().FirstProfileRemoved()
	}
	if matches > 0 && removed == matches {
		s.notifySvc().AllProfilesRemoved()
	}
}
