package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/unlist-sh/unlist/pkg/jobs"
	"github.com/unlist-sh/unlist/pkg/operations"
)

// Manager owns the one-batch-at-a-time invariant. Start calls decide
// admission under the mode table, cancel the running batch when they may
// preempt it, and fan the new batch's operations out under the per-kind
// concurrency cap.
type Manager struct {
	creator operations.Creator
	deps    operations.Dependencies

	mu         sync.Mutex
	mode       Mode
	cancel     context.CancelFunc
	generation uint64
}

// NewManager builds a Manager around an operation creator and the run-time
// dependencies handed to every operation.
func NewManager(creator operations.Creator, deps operations.Dependencies) *Manager {
	return &Manager{creator: creator, deps: deps, mode: Idle()}
}

func (m *Manager) log() jobs.Logger {
	if m.deps.Log != nil {
		return m.deps.Log
	}
	return jobs.NopLogger()
}

func (m *Manager) now() time.Time {
	if m.deps.Now != nil {
		return m.deps.Now()
	}
	return time.Now()
}

// CurrentMode returns the mode of the running batch, Idle when none runs.
func (m *Manager) CurrentMode() ModeKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode.Kind
}

// StartImmediateScan runs every scan job now, preempting whatever runs.
func (m *Manager) StartImmediateScan(errorHandler func(*ErrorCollection), completion func()) {
	m.start(Immediate(errorHandler, completion), operations.KindScan)
}

// StartScheduledScan runs the scans already due, only when nothing runs.
func (m *Manager) StartScheduledScan(errorHandler func(*ErrorCollection), completion func()) {
	m.start(Scheduled(errorHandler, completion), operations.KindScan)
}

// StartScheduledAll runs every due scan and opt-out, only when nothing runs.
func (m *Manager) StartScheduledAll(errorHandler func(*ErrorCollection), completion func()) {
	m.start(Scheduled(errorHandler, completion), operations.KindAll)
}

// StartImmediateOptOuts runs every opt-out job now, preempting whatever
// runs.
func (m *Manager) StartImmediateOptOuts(errorHandler func(*ErrorCollection), completion func()) {
	m.start(Immediate(errorHandler, completion), operations.KindOptOut)
}

// Stop cancels the running batch, if any. The batch flushes its callbacks
// with ErrInterrupted.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) start(newMode Mode, kind operations.Kind) {
	m.mu.Lock()
	if !m.mode.CanBeInterruptedBy(newMode) {
		current := m.mode.Kind
		m.mu.Unlock()
		m.log().Infof("queue: %s %s bounced, %s batch is running", newMode.Kind, kind, current)
		finishMode(newMode, &ErrorCollection{OneTimeError: ErrCannotInterrupt})
		return
	}

	if m.cancel != nil {
		m.log().Infof("queue: %s %s preempts the running %s batch", newMode.Kind, kind, m.mode.Kind)
		m.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.generation++
	gen := m.generation
	m.mode = newMode
	m.cancel = cancel
	m.mu.Unlock()

	go m.runBatch(ctx, cancel, gen, newMode, kind)
}

func (m *Manager) runBatch(ctx context.Context, cancel context.CancelFunc, gen uint64, mode Mode, kind operations.Kind) {
	defer cancel()
	collection := &ErrorCollection{}
	defer func() {
		m.mu.Lock()
		if m.generation == gen {
			m.mode = Idle()
			m.cancel = nil
		}
		m.mu.Unlock()
		finishMode(mode, collection)
	}()

	records, err := m.deps.DB.FetchAllBrokerProfileQueryData(ctx)
	if err != nil {
		collection.OneTimeError = err
		return
	}
	ops, err := m.creator.OperationsFor(records, kind, mode.PriorityDate(m.now()))
	if err != nil {
		collection.OneTimeError = err
		return
	}
	m.log().Infof("queue: %s %s batch over %d broker(s)", mode.Kind, kind, len(ops))

	capacity := m.deps.Config.ConcurrentJobsFor(kind)
	if capacity < 1 {
		capacity = 1
	}
	sem := semaphore.NewWeighted(capacity)
	var wg sync.WaitGroup
	var errMu sync.Mutex
	for _, op := range ops {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(op *operations.Operation) {
			defer wg.Done()
			defer sem.Release(1)
			jobErrs, opErr := op.Run(ctx, m.deps)
			errMu.Lock()
			collection.OperationErrors = append(collection.OperationErrors, jobErrs...)
			if opErr != nil && ctx.Err() == nil {
				collection.OperationErrors = append(collection.OperationErrors, opErr)
			}
			errMu.Unlock()
		}(op)
	}
	wg.Wait()

	if ctx.Err() != nil && collection.OneTimeError == nil {
		collection.OneTimeError = ErrInterrupted
	}
}

func finishMode(mode Mode, collection *ErrorCollection) {
	if collection.HasErrors() && mode.ErrorHandler != nil {
		mode.ErrorHandler(collection)
	}
	if mode.Completion != nil {
		mode.Completion()
	}
}
