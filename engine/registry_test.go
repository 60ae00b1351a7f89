package engine

import (
	"testing"

	"github.com/arcflow/orchestrator/state"
)

func TestRunRegistry_StartAndGet(t *testing.T) {
	r := NewRunRegistry(10)
	s := state.New("t")
	r.Start("run-1", s)

	rec, ok := r.Get("run-1")
	if !ok {
		t.Fatal("expected run-1 to be present")
	}
	if !rec.Running {
		t.Error("expected new run to be marked Running")
	}
}

func TestRunRegistry_FinishMarksComplete(t *testing.T) {
	r := NewRunRegistry(10)
	r.Start("run-1", state.New("t"))
	r.Finish("run-1")

	rec, ok := r.Get("run-1")
	if !ok {
		t.Fatal("expected run-1 to still be present")
	}
	if rec.Running {
		t.Error("expected Finish to clear Running")
	}
	if rec.EndedAt.IsZero() {
		t.Error("expected EndedAt to be stamped")
	}
}

func TestRunRegistry_EvictsOldestWhenOverCapacity(t *testing.T) {
	r := NewRunRegistry(2)
	r.Start("run-1", state.New("t"))
	r.Start("run-2", state.New("t"))
	r.Start("run-3", state.New("t"))

	if _, ok := r.Get("run-1"); ok {
		t.Error("expected run-1 to have been evicted")
	}
	if _, ok := r.Get("run-3"); !ok {
		t.Error("expected run-3 to still be present")
	}
}

func TestRunRegistry_GetMissingReturnsFalse(t *testing.T) {
	r := NewRunRegistry(10)
	if _, ok := r.Get("nope"); ok {
		t.Error("expected missing run to return ok=false")
	}
}
