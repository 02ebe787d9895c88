package jobs

import (
	"testing"

	"github.com/unlist-sh/unlist/pkg/broker"
)

func TestActionCursor(t *testing.T) {
	step := broker.Step{Type: broker.StepScan, Actions: []broker.Action{
		{ID: "a"}, {ID: "b"},
	}}
	c := NewActionCursor(step)

	if _, ok := c.Current(); ok {
		t.Fatal("Current() before first Next() should report false")
	}

	first, ok := c.Next()
	if !ok || first.ID != "a" {
		t.Fatalf("first Next() = %q, %v", first.ID, ok)
	}
	cur, ok := c.Current()
	if !ok || cur.ID != "a" {
		t.Fatalf("Current() = %q, %v", cur.ID, ok)
	}

	second, ok := c.Next()
	if !ok || second.ID != "b" {
		t.Fatalf("second Next() = %q, %v", second.ID, ok)
	}
	if _, ok := c.Next(); ok {
		t.Fatal("Next() past the end should report false")
	}
	cur, ok = c.Current()
	if !ok || cur.ID != "b" {
		t.Fatalf("Current() after exhaustion = %q, %v", cur.ID, ok)
	}
}

func TestActionCursorEmptyStep(t *testing.T) {
	c := NewActionCursor(broker.Step{Type: broker.StepOptOut})
	if _, ok := c.Next(); ok {
		t.Fatal("Next() on an empty step should report false")
	}
}
