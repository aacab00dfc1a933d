package gharchive

import (
	"strings"
	"time"

	perr "gharchive/internal/platform/errors"
)

const day = 24 * time.Hour

// ParseDate parses a YYYY-MM-DD date as midnight UTC
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, perr.WithField(perr.InvalidDatef("date %q is not YYYY-MM-DD", s), "date")
	}
	return t, nil
}

// Range is an inclusive span of whole UTC days
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange builds a range from two YYYY-MM-DD dates; end may be empty for a single day
func NewRange(start, end string) (Range, error) {
	s, err := ParseDate(start)
	if err != nil {
		return Range{}, err
	}
	if strings.TrimSpace(end) == "" {
		return Range{Start: s, End: s}, nil
	}
	e, err := ParseDate(end)
	if err != nil {
		return Range{}, err
	}
	return DayRange(s, e)
}

// DayRange builds a range from two days, truncating both to midnight UTC
func DayRange(start, end time.Time) (Range, error) {
	s, e := start.UTC().Truncate(day), end.UTC().Truncate(day)
	if e.Before(s) {
		return Range{}, perr.InvalidRangef("end date %s is before start date %s", e.Format(dateLayout), s.Format(dateLayout))
	}
	return Range{Start: s, End: e}, nil
}

// Days is the number of calendar days covered, endpoints included
func (r Range) Days() int { return int(r.End.Sub(r.Start)/day) + 1 }

// Hours is the number of hourly archives covered
func (r Range) Hours() int { return r.Days() * 24 }

func (r Range) String() string {
	if r.Start.Equal(r.End) {
		return r.Start.Format(dateLayout)
	}
	return r.Start.Format(dateLayout) + ".." + r.End.Format(dateLayout)
}

// Split partitions the range into at most n contiguous sub-ranges of whole days
// Earlier parts get the extra day when the split is uneven
func (r Range) Split(n int) []Range {
	days := r.Days()
	if n <= 0 {
		n = 1
	}
	if n > days {
		n = days
	}
	out := make([]Range, 0, n)
	size, extra := days/n, days%n
	start := r.Start
	for i := range n {
		d := size
		if i < extra {
			d++
		}
		end := start.Add(time.Duration(d-1) * day)
		out = append(out, Range{Start: start, End: end})
		start = end.Add(day)
	}
	return out
}

// Enumerator yields archive ids once, in order
// It is pure index arithmetic; no ids are materialized up front
type Enumerator struct {
	at   func(i int) ArchiveID
	n    int
	next int
}

// Single enumerates exactly one id
func Single(id ArchiveID) *Enumerator {
	return &Enumerator{n: 1, at: func(int) ArchiveID { return id }}
}

// Hours enumerates hours 0..23 of every day in r, in chronological order
func Hours(r Range) *Enumerator {
	start := r.Start
	return &Enumerator{
		n:  r.Hours(),
		at: func(i int) ArchiveID { return HourID(NewHourRef(start.Add(time.Duration(i) * time.Hour))) },
	}
}

// Next returns the next id, or false once all ids were handed out
func (e *Enumerator) Next() (ArchiveID, bool) {
	if e.next >= e.n {
		return ArchiveID{}, false
	}
	id := e.at(e.next)
	e.next++
	return id, true
}

// Len is the total number of ids
func (e *Enumerator) Len() int { return e.n }

// Remaining is the number of ids not yet handed out
func (e *Enumerator) Remaining() int { return e.n - e.next }
