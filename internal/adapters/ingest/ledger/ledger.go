// Package ledger persists which GH Archive files a run has fully consumed
// so a restarted run can skip them
package ledger

import (
	"context"
	"slices"
	"strings"
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"
)

// Lister is implemented by ledgers that can report what they hold
type Lister interface {
	List(ctx context.Context) ([]gha.ArchiveStats, error)
}

// Ledger is a gharchive.Ledger that can also be listed
type Ledger interface {
	gha.Ledger
	Lister
}

// record is the persisted shape of gharchive.ArchiveStats
type record struct {
	ID           string    `json:"id"`
	Events       int64     `json:"events"`
	DecodeErrors int64     `json:"decode_errors"`
	Bytes        int64     `json:"bytes"`
	Compressed   int64     `json:"compressed"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	FinishedAt   time.Time `json:"finished_at"`
}

func toRecord(st gha.ArchiveStats) record {
	fin := st.FinishedAt
	if fin.IsZero() {
		fin = time.Now()
	}
	return record{
		ID:           st.ID.String(),
		Events:       st.Events,
		DecodeErrors: st.DecodeErrors,
		Bytes:        st.Bytes,
		Compressed:   st.Compressed,
		ElapsedMs:    st.Elapsed.Milliseconds(),
		FinishedAt:   fin.UTC(),
	}
}

func (r record) stats() gha.ArchiveStats {
	return gha.ArchiveStats{
		ID:           gha.ParseArchiveID(r.ID),
		Events:       r.Events,
		DecodeErrors: r.DecodeErrors,
		Bytes:        r.Bytes,
		Compressed:   r.Compressed,
		Elapsed:      time.Duration(r.ElapsedMs) * time.Millisecond,
		FinishedAt:   r.FinishedAt.UTC(),
	}
}

// sortStats orders by finish time then id, matching the PG listing
func sortStats(xs []gha.ArchiveStats) {
	slices.SortFunc(xs, func(a, b gha.ArchiveStats) int {
		if c := a.FinishedAt.Compare(b.FinishedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

var (
	_ Ledger = (*PG)(nil)
	_ Ledger = (*Redis)(nil)
)
