// Package domain holds the types of the event-type tally
package domain

import (
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"
)

// NoHour marks a date target that covers whole days
const NoHour = -1

// Target names what to stream; exactly one of URI, File or Date is set
type Target struct {
	URI  string
	File string
	Date string // YYYY-MM-DD
	End  string // optional inclusive end date
	Hour int    // 0..23, or NoHour
}

// DateRange reports whether the target is a run of whole days
func (t Target) DateRange() bool { return t.Date != "" && t.Hour == NoHour }

// Request is one tally run
type Request struct {
	Target   Target
	Window   time.Duration // tumbling window over created_at
	Parallel int           // sub-ranges consumed concurrently, date ranges only
}

// Count is the number of events of one type
type Count struct {
	Type string
	N    int64
}

// WindowCounts holds the counts of one tumbling window
// Counts are ordered by N desc, then Type asc
type WindowCounts struct {
	Start  time.Time
	End    time.Time
	Counts []Count
	Total  int64
}

// Report is the outcome of a tally run
type Report struct {
	Windows []WindowCounts
	Stats   gha.Stats
	Parts   int
	Elapsed time.Duration
}
