// Package queue arbitrates who may run a batch of broker operations and
// executes admitted batches with a per-kind concurrency cap. Exactly one
// batch runs at a time; admission policy decides whether a new request
// interrupts it or bounces.
package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ModeKind names the three batch modes.
type ModeKind int

const (
	// ModeIdle means no batch is running.
	ModeIdle ModeKind = iota
	// ModeImmediate is a user-triggered run. It takes priority over
	// everything, including another immediate run.
	ModeImmediate
	// ModeScheduled is a cadence-triggered run. It only starts when the
	// queue is idle and only picks up jobs already due.
	ModeScheduled
)

func (k ModeKind) String() string {
	switch k {
	case ModeImmediate:
		return "immediate"
	case ModeScheduled:
		return "scheduled"
	default:
		return "idle"
	}
}

// Mode couples a batch mode with its caller's callbacks.
type Mode struct {
	Kind ModeKind
	// ErrorHandler receives the batch's collected errors, if any.
	ErrorHandler func(*ErrorCollection)
	// Completion fires exactly once when the batch is done, failed or
	// bounced.
	Completion func()
}

// Idle is the resting mode.
func Idle() Mode { return Mode{Kind: ModeIdle} }

// Immediate builds a user-triggered mode.
func Immediate(errorHandler func(*ErrorCollection), completion func()) Mode {
	return Mode{Kind: ModeImmediate, ErrorHandler: errorHandler, Completion: completion}
}

// Scheduled builds a cadence-triggered mode.
func Scheduled(errorHandler func(*ErrorCollection), completion func()) Mode {
	return Mode{Kind: ModeScheduled, ErrorHandler: errorHandler, Completion: completion}
}

// CanBeInterruptedBy is the admission table: an idle queue accepts anything,
// an immediate request preempts anything, and a scheduled request never
// preempts a running batch.
func (m Mode) CanBeInterruptedBy(newMode Mode) bool {
	if m.Kind == ModeIdle {
		return true
	}
	return newMode.Kind == ModeImmediate
}

// PriorityDate returns the due-date cutoff the batch filters jobs with.
// Scheduled runs only pick up jobs already due; every other mode runs the
// full set.
func (m Mode) PriorityDate(now time.Time) *time.Time {
	if m.Kind == ModeScheduled {
		return &now
	}
	return nil
}

// ManagerMode is the coarse state the daemon exposes about the queue:
// manual activity blocks cadence runs, never the other way around.
type ManagerMode int

const (
	ManagerIdle ManagerMode = iota
	ManagerManual
	ManagerQueued
)

// Accepts reports whether a new activity of the given mode may start while
// this one is in effect.
func (m ManagerMode) Accepts(newMode ManagerMode) bool {
	if m == ManagerManual {
		return newMode == ManagerManual
	}
	return true
}

// ErrCannotInterrupt is handed to a bounced request's error handler.
var ErrCannotInterrupt = errors.New("a batch that may not be interrupted is running")

// ErrInterrupted is recorded by a batch that was preempted mid-run.
var ErrInterrupted = errors.New("batch was interrupted")

// ErrorCollection aggregates everything that went wrong in one batch: a
// single batch-level failure plus the per-job failures that did not stop
// the batch.
type ErrorCollection struct {
	OneTimeError    error
	OperationErrors []error
}

// HasErrors reports whether anything was collected.
func (c *ErrorCollection) HasErrors() bool {
	return c != nil && (c.OneTimeError != nil || len(c.OperationErrors) > 0)
}

func (c *ErrorCollection) Error() string {
	if !c.HasErrors() {
		return "no errors"
	}
	var parts []string
	if c.OneTimeError != nil {
		parts = append(parts, c.OneTimeError.Error())
	}
	if n := len(c.OperationErrors); n > 0 {
		parts = append(parts, fmt.Sprintf("%d job error(s)", n))
	}
	return strings.Join(parts, "; ")
}
