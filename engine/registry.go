package engine

import (
	"sync"
	"time"

	"github.com/arcflow/orchestrator/state"
)

// RunRecord is the introspectable snapshot of one orchestration run, served
// by the GET /runs/{id} endpoint.
type RunRecord struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time
	Running   bool
	State     *state.OrchestrationState
}

// RunRegistry is a bounded, mutex-guarded map of run ID to RunRecord.
// Grounded on pkg/orchestration's AIOrchestrator pattern of tracking
// in-flight requests by ID for later lookup, generalized here into a
// fixed-capacity FIFO eviction so long-lived processes don't grow
// unbounded memory across many runs.
type RunRegistry struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	records  map[string]*RunRecord
}

// NewRunRegistry creates a registry holding at most capacity records,
// evicting the earliest-started run first once full, whether or not that
// run has finished.
func NewRunRegistry(capacity int) *RunRegistry {
	if capacity <= 0 {
		capacity = 200
	}
	return &RunRegistry{
		capacity: capacity,
		records:  make(map[string]*RunRecord),
	}
}

// Start registers a new run as in progress.
func (r *RunRegistry) Start(id string, s *state.OrchestrationState) *RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &RunRecord{ID: id, StartedAt: time.Now(), Running: true, State: s}
	r.records[id] = rec
	r.order = append(r.order, id)

	for len(r.order) > r.capacity {
		evict := r.order[0]
		r.order = r.order[1:]
		delete(r.records, evict)
	}
	return rec
}

// Finish marks a run complete and stamps its end time.
func (r *RunRegistry) Finish(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.Running = false
		rec.EndedAt = time.Now()
	}
}

// Get returns the record for id, if it is still present in the registry.
func (r *RunRegistry) Get(id string) (*RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}
