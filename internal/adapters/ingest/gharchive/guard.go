package gharchive

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	perr "gharchive/internal/platform/errors"
)

// guardedBody bounds every Read by an idle timeout and types transport failures
// The underlying Read runs on its own goroutine; a timeout or a canceled pull closes the stream
// and returns at once, leaving a Read that ignores Close to finish into a buffer nobody reads
type guardedBody struct {
	rc   io.ReadCloser
	id   ArchiveID
	idle *atomic.Int64 // nanoseconds; <= 0 disables the bound

	closeOnce sync.Once
	closeErr  error
	aborted   chan struct{}

	buf []byte // scratch for the underlying Read; abandoned with the stream

	mu    sync.Mutex
	cause error // why the stream was closed under the reader
	err   error // sticky failure reported to the reader
	n     int64 // compressed bytes read
}

type readResult struct {
	n   int
	err error
}

func newGuardedBody(rc io.ReadCloser, id ArchiveID, idle *atomic.Int64) *guardedBody {
	return &guardedBody{rc: rc, id: id, idle: idle, aborted: make(chan struct{})}
}

func (g *guardedBody) Read(p []byte) (int, error) {
	if err := g.Err(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if cap(g.buf) < len(p) {
		g.buf = make([]byte, len(p))
	}
	buf := g.buf[:len(p)]
	done := make(chan readResult, 1)
	go func() {
		n, err := g.rc.Read(buf)
		done <- readResult{n, err}
	}()

	var expired <-chan time.Time
	d := time.Duration(g.idle.Load())
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case r := <-done:
		n := copy(p, buf[:r.n])
		return g.settle(n, r.err)
	case <-expired:
		g.abort(perr.FetchTimeoutf("read %s: no data within %v", g.id, d))
	case <-g.aborted:
	}
	g.buf = nil
	return g.settle(0, errAbandoned)
}

var errAbandoned = errors.New("read abandoned")

// settle records a finished Read and turns its error into the sticky typed failure
func (g *guardedBody) settle(n int, err error) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n += int64(n)
	if err == nil || (err == io.EOF && g.cause == nil) {
		return n, err
	}
	if g.err == nil {
		switch {
		case g.cause != nil:
			g.err = g.cause
		default:
			g.err = perr.Wrapf(err, perr.ErrorCodeFetchError, "read %s", g.id)
		}
	}
	return n, g.err
}

// watch aborts the stream when ctx ends; the returned stop must be called when the pull returns
func (g *guardedBody) watch(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		g.abort(perr.Wrapf(context.Cause(ctx), perr.ErrorCodeCanceled, "read %s", g.id))
	})
}

// abort records cause and closes the underlying stream
func (g *guardedBody) abort(cause error) {
	g.mu.Lock()
	if g.cause == nil {
		g.cause = cause
		close(g.aborted)
	}
	g.mu.Unlock()
	_ = g.Close()
}

// Err returns the failure reported by the last Read, if any
func (g *guardedBody) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Bytes is the number of compressed bytes delivered so far
func (g *guardedBody) Bytes() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func (g *guardedBody) Close() error {
	g.closeOnce.Do(func() { g.closeErr = g.rc.Close() })
	return g.closeErr
}
