package ledger

import (
	"testing"
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"
)

func hourStats(h int, events int64, fin time.Time) gha.ArchiveStats {
	return gha.ArchiveStats{
		ID:           gha.HourID(gha.HourRef{Year: 2015, Month: 1, Day: 1, Hour: h}),
		Events:       events,
		DecodeErrors: 1,
		Bytes:        4096,
		Compressed:   512,
		Elapsed:      1500 * time.Millisecond,
		FinishedAt:   fin,
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	fin := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	in := hourStats(15, 11351, fin)
	got := toRecord(in).stats()
	if got != in {
		t.Fatalf("round trip = %+v want %+v", got, in)
	}

	loc := gha.ArchiveStats{ID: gha.LocatorID("s3://bucket/a.json.gz"), FinishedAt: fin}
	if got := toRecord(loc).stats(); got.ID != loc.ID {
		t.Fatalf("locator id = %+v", got.ID)
	}
}

func TestRecordDefaultsFinishTime(t *testing.T) {
	t.Parallel()

	before := time.Now()
	r := toRecord(gha.ArchiveStats{ID: gha.LocatorID("/tmp/x.json.gz")})
	if r.FinishedAt.Before(before.Add(-time.Second)) || r.FinishedAt.Location() != time.UTC {
		t.Fatalf("FinishedAt = %v", r.FinishedAt)
	}
}

func TestSortStats(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	xs := []gha.ArchiveStats{
		hourStats(3, 1, t0.Add(time.Minute)),
		hourStats(2, 1, t0),
		hourStats(1, 1, t0),
	}
	sortStats(xs)
	want := []int{1, 2, 3}
	for i, h := range want {
		if xs[i].ID.Hour.Hour != h {
			t.Fatalf("order = %v", xs)
		}
	}
}
