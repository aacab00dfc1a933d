package testkit

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestMustPanic(t *testing.T) {
	t.Parallel()
	MustPanic(t, func() { panic("boom") })
}

func TestMustContain(t *testing.T) {
	t.Parallel()
	MustContain(t, "alpha beta gamma", "beta")
}

func TestWithin(t *testing.T) {
	t.Parallel()
	took := Within(t, time.Second, func() { time.Sleep(5 * time.Millisecond) })
	if took < 5*time.Millisecond {
		t.Fatalf("Within returned %v, want >= 5ms", took)
	}
}

func TestGzipLinesRoundTrip(t *testing.T) {
	t.Parallel()
	gz := GzipLines(t, "a", "b")
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "a\nb\n" {
		t.Fatalf("raw = %q", raw)
	}
}

func TestArchiveServer(t *testing.T) {
	s := NewArchiveServer(t)
	s.Put("2015-01-01-15.json.gz", []byte("body"))
	s.FailWith("2015-01-01-16.json.gz", http.StatusServiceUnavailable)

	resp, err := http.Get(s.FileURL("2015-01-01-15.json.gz"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(b) != "body" {
		t.Fatalf("status=%d body=%q", resp.StatusCode, b)
	}

	// conditional GET answers 304 for a matching ETag
	req, _ := http.NewRequest(http.MethodGet, s.FileURL("2015-01-01-15.json.gz"), nil)
	req.Header.Set("If-None-Match", resp.Header.Get("ETag"))
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("conditional get: %v", err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional status = %d", resp2.StatusCode)
	}

	resp3, err := http.Get(s.FileURL("2015-01-01-16.json.gz"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp3.Body.Close()
	if resp3.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp3.StatusCode)
	}

	resp4, err := http.Get(s.FileURL("missing.json.gz"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp4.Body.Close()
	if resp4.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp4.StatusCode)
	}

	if s.Hits("2015-01-01-15.json.gz") != 2 {
		t.Fatalf("hits = %d", s.Hits("2015-01-01-15.json.gz"))
	}
}
