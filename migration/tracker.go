// Package migration tracks the lifecycle of graph.Assembler.Commit
// calls so an external controller can poll "is this migration done,
// and did it succeed" without blocking on the commit call itself,
// generalized from the teacher's statemanager.Manager: a mutex-guarded
// map of named operations with oldest-entry eviction at capacity,
// narrowed here from arbitrary service operations to one domain:
// dataflow graph migrations.
package migration

import (
	"sync"
	"time"
)

// Tracker records the status of every migration submitted to an
// Assembler, keyed by the caller-supplied migration id.
type Tracker struct {
	mu         sync.RWMutex
	migrations map[string]*State
	max        int
}

// Config configures a Tracker.
type Config struct {
	MaxMigrations int // retained entries before oldest-eviction; default 1000
}

func New(cfg Config) *Tracker {
	if cfg.MaxMigrations == 0 {
		cfg.MaxMigrations = 1000
	}
	return &Tracker{migrations: make(map[string]*State), max: cfg.MaxMigrations}
}

// Start records a migration as running and returns its State. Metadata
// typically carries the node count and target domains of the batch
// being committed.
func (t *Tracker) Start(id string, metadata map[string]interface{}) *State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.migrations) >= t.max {
		t.evictOldestLocked()
	}

	s := &State{
		ID:        id,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
	t.migrations[id] = s
	return s
}

// Complete marks a migration as completed or failed, depending on
// whether err is nil.
func (t *Tracker) Complete(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.migrations[id]
	if !ok {
		return
	}
	now := time.Now()
	s.CompletedAt = &now
	s.Duration = now.Sub(s.StartedAt).String()
	if err != nil {
		s.Status = StatusFailed
		s.Error = err.Error()
	} else {
		s.Status = StatusCompleted
	}
}

// Get returns a copy of migration id's state, or nil if unknown.
func (t *Tracker) Get(id string) *State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.migrations[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// List returns a copy of every tracked migration's state.
func (t *Tracker) List() []*State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*State, 0, len(t.migrations))
	for _, s := range t.migrations {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

// Stats summarizes the tracked migrations by status.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{Total: len(t.migrations), ByStatus: make(map[Status]int)}
	var totalDuration time.Duration
	var completed int
	for _, s := range t.migrations {
		stats.ByStatus[s.Status]++
		if s.CompletedAt != nil {
			totalDuration += s.CompletedAt.Sub(s.StartedAt)
			completed++
		}
	}
	if completed > 0 {
		stats.AverageDuration = (totalDuration / time.Duration(completed)).String()
	}
	return stats
}

// evictOldestLocked removes the longest-running tracked migration.
// Called with t.mu held.
func (t *Tracker) evictOldestLocked() {
	var oldestID string
	var oldestTime time.Time
	for id, s := range t.migrations {
		if oldestID == "" || s.StartedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = s.StartedAt
		}
	}
	if oldestID != "" {
		delete(t.migrations, oldestID)
	}
}

// Track wraps fn (typically an Assembler.Commit call) with Start/
// Complete bookkeeping under id.
func (t *Tracker) Track(id string, metadata map[string]interface{}, fn func() error) error {
	t.Start(id, metadata)
	err := fn()
	t.Complete(id, err)
	return err
}
