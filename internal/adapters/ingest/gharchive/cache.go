package gharchive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	perr "gharchive/internal/platform/errors"
	"gharchive/internal/platform/logger"

	"github.com/spf13/afero"
)

// CachedTransport serves hour archives from a local cache directory, filling it from HTTP
// The cache holds one .json.gz per hour plus a .meta sidecar
// Supports conditional GET for recent hours using ETag and Last Modified
// Downloads are written while the caller reads and only committed on a complete body
// Optional retention by max age and total bytes
type CachedTransport struct {
	fs              afero.Fs
	dir             string
	http            *HTTPTransport
	refreshRecent   time.Duration
	retainMaxAge    time.Duration
	retainMaxBytes  int64
	lastCleanupUnix atomic.Int64
	now             func() time.Time
}

// cacheMeta is a tiny sidecar json with fields we actually use
type cacheMeta struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	Size         int64     `json:"size,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	LastChecked  time.Time `json:"last_checked"`
}

// CachedOption configures the cache
type CachedOption func(*CachedTransport)

// WithRefreshRecent enables conditional GET for hours within d of now
func WithRefreshRecent(d time.Duration) CachedOption {
	return func(c *CachedTransport) { c.refreshRecent = d }
}

// WithRetention sets optional age and size retention
// Pass zero to disable either dimension
func WithRetention(maxAge time.Duration, maxBytes int64) CachedOption {
	return func(c *CachedTransport) {
		c.retainMaxAge = maxAge
		c.retainMaxBytes = maxBytes
	}
}

// WithCacheFs swaps the filesystem (tests use an in-memory one)
func WithCacheFs(fs afero.Fs) CachedOption {
	return func(c *CachedTransport) { c.fs = fs }
}

// NewCachedTransport builds a caching transport; dir is required
// base may be nil, in which case a default HTTP transport is used
func NewCachedTransport(dir string, base *HTTPTransport, opts ...CachedOption) (*CachedTransport, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, perr.Validationf("cache dir is required")
	}
	c := &CachedTransport{fs: afero.NewOsFs(), dir: dir, http: base, now: time.Now}
	if c.http == nil {
		c.http = NewHTTPTransport("", "")
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeValidation, "create cache dir %s", dir)
	}
	return c, nil
}

// Open returns a reader for the archive of the given hour
// Serves from disk when present and may revalidate recent hours
func (c *CachedTransport) Open(ctx context.Context, id ArchiveID) (io.ReadCloser, error) {
	if !id.IsHour() {
		return c.http.Open(ctx, id)
	}
	path := filepath.Join(c.dir, id.Hour.FileName())
	metaPath := path + ".meta"

	if fi, err := c.fs.Stat(path); err == nil && fi.Mode().IsRegular() {
		if c.shouldRevalidate(id.Hour) {
			rc, err := c.conditionalFetch(ctx, id, path, metaPath)
			if err == nil {
				c.maybeCleanup()
				return rc, nil
			}
			logger.C(ctx).Debug().Err(err).Str("archive", id.String()).Msg("gharchive: revalidate failed, serving cached copy")
		}
		f, err := c.fs.Open(path)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeFetchError, "open cached %s", id)
		}
		c.maybeCleanup()
		return f, nil
	}

	u := id.URL(c.http.BaseURL)
	resp, err := c.http.get(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, perr.Wrapf(&StatusError{URL: u, Code: resp.StatusCode}, perr.ErrorCodeFetchError, "fetch %s", id)
	}
	return c.tee(resp.Body, resp.Header, path, metaPath)
}

func (c *CachedTransport) shouldRevalidate(hour HourRef) bool {
	if c.refreshRecent <= 0 {
		return false
	}
	return c.now().Sub(hour.Time()) <= c.refreshRecent
}

// conditionalFetch issues a GET with If None Match and If Modified Since when available.
// Returns the cached file on 304 or a fresh, cache-filling reader on 200
func (c *CachedTransport) conditionalFetch(ctx context.Context, id ArchiveID, path, metaPath string) (io.ReadCloser, error) {
	meta, _ := c.loadMeta(metaPath)
	hdr := http.Header{}
	if meta != nil {
		if meta.ETag != "" {
			hdr.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			hdr.Set("If-Modified-Since", meta.LastModified)
		}
	}

	u := id.URL(c.http.BaseURL)
	resp, err := c.http.get(ctx, u, hdr)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusNotModified:
		_ = resp.Body.Close()
		if meta == nil {
			meta = &cacheMeta{}
		}
		meta.LastChecked = c.now().UTC()
		_ = c.saveMeta(metaPath, meta)
		f, err := c.fs.Open(path)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeFetchError, "open cached %s", id)
		}
		return f, nil

	case http.StatusOK:
		return c.tee(resp.Body, resp.Header, path, metaPath)

	default:
		_ = resp.Body.Close()
		return nil, perr.Wrapf(&StatusError{URL: u, Code: resp.StatusCode}, perr.ErrorCodeFetchError, "revalidate %s", id)
	}
}

// tee returns a reader that copies body into a temp file next to path
// The temp file is renamed into place only when body reached EOF before Close
func (c *CachedTransport) tee(body io.ReadCloser, hdr http.Header, path, metaPath string) (io.ReadCloser, error) {
	tmp, err := afero.TempFile(c.fs, filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		// no cache space is not fatal to the read
		return body, nil
	}
	t := &teeBody{body: body, out: tmp, c: c, path: path, metaPath: metaPath}
	if hdr != nil {
		t.meta.ETag = strings.TrimSpace(hdr.Get("ETag"))
		t.meta.LastModified = strings.TrimSpace(hdr.Get("Last-Modified"))
	}
	return t, nil
}

type teeBody struct {
	mu       sync.Mutex
	body     io.ReadCloser
	out      afero.File
	c        *CachedTransport
	path     string
	metaPath string
	meta     cacheMeta
	n        int64
	eof      bool
	werr     error
	closed   bool
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return n, err
	}
	if n > 0 && t.werr == nil {
		_, t.werr = t.out.Write(p[:n])
		t.n += int64(n)
	}
	if err == io.EOF {
		t.eof = true
	}
	return n, err
}

func (t *teeBody) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	berr := t.body.Close()
	cerr := t.out.Close()
	if !t.eof || t.werr != nil || cerr != nil {
		_ = t.c.fs.Remove(t.out.Name())
		return berr
	}
	if err := t.c.fs.Rename(t.out.Name(), t.path); err != nil {
		_ = t.c.fs.Remove(t.out.Name())
		return berr
	}
	now := t.c.now().UTC()
	t.meta.Size, t.meta.FetchedAt, t.meta.LastChecked = t.n, now, now
	_ = t.c.saveMeta(t.metaPath, &t.meta)
	t.c.maybeCleanup()
	return berr
}

// loadMeta reads a sidecar json file
func (c *CachedTransport) loadMeta(path string) (*cacheMeta, error) {
	b, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, err
	}
	var m cacheMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// saveMeta writes the sidecar json atomically
func (c *CachedTransport) saveMeta(path string, m *cacheMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tmp := path + ".part"
	if err := afero.WriteFile(c.fs, tmp, b, 0o644); err != nil {
		_ = c.fs.Remove(tmp)
		return err
	}
	return c.fs.Rename(tmp, path)
}

// maybeCleanup throttles retention cleanup to once per ten minutes
func (c *CachedTransport) maybeCleanup() {
	now := c.now().Unix()
	last := c.lastCleanupUnix.Load()
	if last != 0 && now-last < 600 {
		return
	}
	if c.retainMaxAge <= 0 && c.retainMaxBytes <= 0 {
		return
	}
	if !c.lastCleanupUnix.CompareAndSwap(last, now) {
		return
	}
	_ = c.cleanupOnce()
}

// cleanupOnce applies age and size retention
func (c *CachedTransport) cleanupOnce() error {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return err
	}
	type item struct {
		Path   string
		Size   int64
		HourTS time.Time
	}
	var items []item
	var total int64
	cutoff := c.now().Add(-c.retainMaxAge)

	for _, fi := range entries {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json.gz") || !fi.Mode().IsRegular() {
			continue
		}
		hr, ok := ParseHourName(name)
		if !ok {
			continue
		}
		full := filepath.Join(c.dir, name)
		if c.retainMaxAge > 0 && hr.Time().Before(cutoff) {
			c.remove(full)
			continue
		}
		items = append(items, item{Path: full, Size: fi.Size(), HourTS: hr.Time()})
		total += fi.Size()
	}

	if c.retainMaxBytes > 0 && total > c.retainMaxBytes {
		sort.Slice(items, func(i, j int) bool { return items[i].HourTS.Before(items[j].HourTS) })
		for _, it := range items {
			if total <= c.retainMaxBytes {
				break
			}
			c.remove(it.Path)
			total -= it.Size
		}
	}
	return nil
}

func (c *CachedTransport) remove(path string) {
	if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return
	}
	_ = c.fs.Remove(path + ".meta")
}
