// Package jobs drives one scan or opt-out job end to end: it walks the
// broker's action script through an ActionCursor, asks the automation
// runner for outcomes, and decides per action whether to continue or stop.
package jobs

import "github.com/unlist-sh/unlist/pkg/broker"

// ActionCursor is a sequential pointer over one step's action list. It is
// not safe for concurrent use; one cursor is owned exclusively by one
// running job.
type ActionCursor struct {
	actions []broker.Action
	pos     int
}

// NewActionCursor builds a cursor over the step's actions. An empty step
// yields an exhausted cursor.
func NewActionCursor(step broker.Step) *ActionCursor {
	return &ActionCursor{actions: step.Actions}
}

// Next returns the next unconsumed action and advances the cursor, or false
// once the list is exhausted.
func (c *ActionCursor) Next() (broker.Action, bool) {
	if c.pos >= len(c.actions) {
		return broker.Action{}, false
	}
	a := c.actions[c.pos]
	c.pos++
	return a, true
}

// Current returns the most recently consumed action, or false when the
// cursor has not been advanced yet.
func (c *ActionCursor) Current() (broker.Action, bool) {
	if c.pos == 0 || c.pos > len(c.actions) {
		return broker.Action{}, false
	}
	return c.actions[c.pos-1], true
}
