package testkit

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
)

// GzipLines gzips lines joined by '\n' with a trailing newline after each line
func GzipLines(t testing.TB, lines ...string) []byte {
	t.Helper()
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return Gzip(t, []byte(sb.String()))
}

// Gzip compresses raw bytes as a single gzip member
func Gzip(t testing.TB, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// EventLine renders a minimal GH Archive event line
func EventLine(id, typ, createdAt string) string {
	return fmt.Sprintf(
		`{"id":%q,"type":%q,"actor":{"id":1,"login":"octocat"},"repo":{"id":2,"name":"octo/repo"},"payload":{},"public":true,"created_at":%q}`,
		id, typ, createdAt,
	)
}

// ArchiveServer is a fake archive host serving /{name} from memory
// Behaviour per file can be switched to a fixed status or to stalling
type ArchiveServer struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	status   map[string]int
	stallHdr map[string]bool
	stallMid map[string][]byte
	hits     map[string]int
	done     chan struct{}
}

// NewArchiveServer starts a server that is shut down with the test
func NewArchiveServer(t testing.TB) *ArchiveServer {
	t.Helper()
	s := &ArchiveServer{
		files:    map[string][]byte{},
		status:   map[string]int{},
		stallHdr: map[string]bool{},
		stallMid: map[string][]byte{},
		hits:     map[string]int{},
		done:     make(chan struct{}),
	}
	r := chi.NewRouter()
	r.Get("/{name}", s.serve)
	s.Server = httptest.NewServer(r)
	t.Cleanup(func() {
		close(s.done)
		s.Close()
	})
	return s
}

// Put registers a file body under name
func (s *ArchiveServer) Put(name string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = body
}

// FailWith makes name answer with the given status code
func (s *ArchiveServer) FailWith(name string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[name] = code
}

// StallHeaders makes name hang before any response header is written
func (s *ArchiveServer) StallHeaders(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallHdr[name] = true
}

// StallBody makes name send prefix and then hang without closing the body
func (s *ArchiveServer) StallBody(name string, prefix []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallMid[name] = prefix
}

// Hits returns how many requests name received
func (s *ArchiveServer) Hits(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[name]
}

// FileURL returns the absolute URL of name
func (s *ArchiveServer) FileURL(name string) string { return s.URL + "/" + name }

func (s *ArchiveServer) serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	s.hits[name]++
	body, ok := s.files[name]
	code := s.status[name]
	stallHdr := s.stallHdr[name]
	prefix, stallMid := s.stallMid[name]
	s.mu.Unlock()

	switch {
	case stallHdr:
		s.hang(r)
		return
	case stallMid:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(prefix)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		s.hang(r)
		return
	case code != 0:
		http.Error(w, http.StatusText(code), code)
		return
	case !ok:
		http.NotFound(w, r)
		return
	}

	etag := fmt.Sprintf(`"%x-%d"`, len(body), checksum(body))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	_, _ = w.Write(body)
}

func (s *ArchiveServer) hang(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-s.done:
	}
}

func checksum(b []byte) uint32 {
	var h uint32 = 2166136261
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}
