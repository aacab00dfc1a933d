package service

import (
	"cmp"
	"maps"
	"slices"
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/services/tally/domain"
)

// Counter buckets event types into tumbling windows aligned to the Unix epoch
type Counter struct {
	window  time.Duration
	buckets map[int64]map[string]int64 // window start (unix nanos) -> type -> count
}

// NewCounter panics on a non-positive window
func NewCounter(window time.Duration) *Counter {
	if window <= 0 {
		panic("tally: window must be positive")
	}
	return &Counter{window: window, buckets: map[int64]map[string]int64{}}
}

// Add counts ev in the window holding its created_at
func (c *Counter) Add(ev gha.Event) {
	k := c.windowStart(ev.CreatedAt)
	b := c.buckets[k]
	if b == nil {
		b = map[string]int64{}
		c.buckets[k] = b
	}
	b[ev.Type]++
}

// Merge folds o into c; both must share the window size
func (c *Counter) Merge(o *Counter) {
	for k, ob := range o.buckets {
		b := c.buckets[k]
		if b == nil {
			b = make(map[string]int64, len(ob))
			c.buckets[k] = b
		}
		for typ, n := range ob {
			b[typ] += n
		}
	}
}

// Windows returns the windows in start order
func (c *Counter) Windows() []domain.WindowCounts {
	keys := slices.Sorted(maps.Keys(c.buckets))
	out := make([]domain.WindowCounts, 0, len(keys))
	for _, k := range keys {
		start := time.Unix(0, k).UTC()
		wc := domain.WindowCounts{Start: start, End: start.Add(c.window)}
		for typ, n := range c.buckets[k] {
			wc.Counts = append(wc.Counts, domain.Count{Type: typ, N: n})
			wc.Total += n
		}
		slices.SortFunc(wc.Counts, func(a, b domain.Count) int {
			if a.N != b.N {
				return cmp.Compare(b.N, a.N)
			}
			return cmp.Compare(a.Type, b.Type)
		})
		out = append(out, wc)
	}
	return out
}

// windowStart floors t to the window grid
func (c *Counter) windowStart(t time.Time) int64 {
	ns, w := t.UnixNano(), int64(c.window)
	r := ns % w
	if r < 0 {
		r += w
	}
	return ns - r
}
