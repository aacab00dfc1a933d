package gharchive

import (
	"context"
	"sync"
	"time"
)

// ArchiveStats summarizes one fully consumed archive
type ArchiveStats struct {
	ID           ArchiveID
	Events       int64
	DecodeErrors int64
	Bytes        int64 // uncompressed
	Compressed   int64
	Elapsed      time.Duration
	FinishedAt   time.Time
}

// Ledger records fully consumed archives so a restarted run can skip them
// Done is consulted before an archive is opened; MarkDone after its last event
type Ledger interface {
	Done(ctx context.Context, id ArchiveID) (bool, error)
	MarkDone(ctx context.Context, st ArchiveStats) error
}

// MemoryLedger is a process-local Ledger
type MemoryLedger struct {
	mu   sync.Mutex
	done map[string]ArchiveStats
}

// NewMemoryLedger returns an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{done: map[string]ArchiveStats{}}
}

// Done reports whether id was marked done
func (m *MemoryLedger) Done(_ context.Context, id ArchiveID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.done[id.String()]
	return ok, nil
}

// MarkDone records st
func (m *MemoryLedger) MarkDone(_ context.Context, st ArchiveStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done[st.ID.String()] = st
	return nil
}

// Get returns the recorded stats for id
func (m *MemoryLedger) Get(id ArchiveID) (ArchiveStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.done[id.String()]
	return st, ok
}
