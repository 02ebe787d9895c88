// Package pixel is fire-and-forget usage/error telemetry. Events are
// buffered and delivered on a background goroutine; when the buffer is
// full they are dropped, never blocking a job.
package pixel

import (
	"strconv"
	"sync"

	"github.com/unlist-sh/unlist/pkg/jobs"
)

// Event is one telemetry beacon.
type Event struct {
	Name   string
	Params map[string]string
}

// Handler delivers events asynchronously through a send function.
type Handler struct {
	ch   chan Event
	send func(Event)
	log  jobs.Logger

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewHandler starts a handler with the given buffer size. A nil send
// function logs events at debug level instead.
func NewHandler(buffer int, send func(Event), log jobs.Logger) *Handler {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = jobs.NopLogger()
	}
	h := &Handler{ch: make(chan Event, buffer), log: log, done: make(chan struct{})}
	if send == nil {
		send = func(e Event) { h.log.Debugf("pixel %s %v", e.Name, e.Params) }
	}
	h.send = send
	go h.loop()
	return h
}

func (h *Handler) loop() {
	defer close(h.done)
	for e := range h.ch {
		h.send(e)
	}
}

// Fire enqueues an event, dropping it when the buffer is full. Events fired
// after Close are dropped; shutdown can still flush late batch callbacks.
func (h *Handler) Fire(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.log.Debugf("pixel handler closed, dropped %s", e.Name)
		return
	}
	select {
	case h.ch <- e:
	default:
		h.log.Debugf("pixel buffer full, dropped %s", e.Name)
	}
}

// Close stops accepting events and waits for the queued ones to flush.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(h.ch)
	})
	<-h.done
}

// BatchCompleted reports a finished batch and its error counts.
func BatchCompleted(kind string, brokers, jobErrors int) Event {
	return Event{Name: "batch_completed", Params: map[string]string{
		"kind":       kind,
		"brokers":    strconv.Itoa(brokers),
		"job_errors": strconv.Itoa(jobErrors),
	}}
}

// BatchFailed reports a batch that could not run at all.
func BatchFailed(kind, reason string) Event {
	return Event{Name: "batch_failed", Params: map[string]string{
		"kind":   kind,
		"reason": reason,
	}}
}
