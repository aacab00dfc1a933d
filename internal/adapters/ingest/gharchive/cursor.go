package gharchive

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	perr "gharchive/internal/platform/errors"
	"gharchive/internal/platform/logger"

	"github.com/rs/zerolog"
)

// State is the lifecycle position of a Cursor
type State int32

const (
	// NotStarted means no archive has been taken from the enumerator yet
	NotStarted State = iota
	// Active means an archive is open and being decoded
	Active
	// Advancing means an archive id is taken or pending and no archive is open
	Advancing
	// Exhausted means every archive was consumed
	Exhausted
	// Failed means the stream ended with an error
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case Advancing:
		return "advancing"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DecodePolicy decides what a malformed line does to the stream
type DecodePolicy string

const (
	// PolicySkip counts the line and moves on
	PolicySkip DecodePolicy = "skip"
	// PolicyFail ends the stream with the decode error
	PolicyFail DecodePolicy = "fail"
)

// Stats is a snapshot of cursor counters
type Stats struct {
	Events       int64
	DecodeErrors int64
	Opened       int
	Finished     int
	Skipped      int
	Bytes        int64 // uncompressed bytes of finished archives
}

var errOpenTimeout = errors.New("open timed out")

// Cursor stitches the archives of an Enumerator into one pull-driven event stream
// Exactly one archive is open at a time. Pulls must be sequential; overlapping pulls get Busy
type Cursor struct {
	enum      *Enumerator
	transport Transport
	ledger    Ledger
	policy    DecodePolicy
	maxLine   int
	onDone    func(ArchiveStats)
	log       *logger.Logger
	warnLog   zerolog.Logger
	timeout   atomic.Int64

	busy  atomic.Bool
	state atomic.Int32

	cur    ArchiveID
	hasCur bool
	body   *guardedBody
	rd     *Reader
	opened time.Time
	err    error

	mu    sync.Mutex
	stats Stats
}

// CursorConfig carries the collaborators of a Cursor
type CursorConfig struct {
	Transport     Transport
	Ledger        Ledger
	IOTimeout     time.Duration
	DecodePolicy  DecodePolicy
	MaxLineBytes  int
	OnArchiveDone func(ArchiveStats)
	Logger        *logger.Logger
}

// NewCursor builds a cursor in NotStarted; nothing is opened until the first Next
func NewCursor(enum *Enumerator, cfg CursorConfig) *Cursor {
	c := &Cursor{
		enum:      enum,
		transport: cfg.Transport,
		ledger:    cfg.Ledger,
		policy:    cfg.DecodePolicy,
		maxLine:   cfg.MaxLineBytes,
		onDone:    cfg.OnArchiveDone,
		log:       cfg.Logger,
	}
	if c.policy == "" {
		c.policy = PolicySkip
	}
	if c.log == nil {
		c.log = logger.Named("gharchive")
	}
	c.warnLog = c.log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute})
	c.timeout.Store(int64(cfg.IOTimeout))
	return c
}

// State returns the current lifecycle state
func (c *Cursor) State() State { return State(c.state.Load()) }

// Stats returns a snapshot of the counters; safe to call from any goroutine
func (c *Cursor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SetIOTimeout changes the bound for subsequent opens and reads
func (c *Cursor) SetIOTimeout(d time.Duration) { c.timeout.Store(int64(d)) }

// Next returns the next event, io.EOF once every archive is consumed, or an error
// Transport, gzip and ledger errors move the cursor to Failed and are returned by every later call
// A ctx canceled while an archive is open fails the cursor and releases the archive; one
// canceled before or during the open leaves the cursor on that archive and the next call reopens it
func (c *Cursor) Next(ctx context.Context) (Event, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return Event{}, perr.Busyf("gharchive: pull already in flight")
	}
	defer c.busy.Store(false)

	for {
		switch c.State() {
		case Exhausted:
			return Event{}, io.EOF
		case Failed:
			return Event{}, c.err
		case NotStarted, Advancing:
			if err := ctx.Err(); err != nil {
				return Event{}, perr.Wrap(context.Cause(ctx), perr.ErrorCodeCanceled, "pull canceled")
			}
			if err := c.advance(ctx); err != nil {
				return Event{}, err
			}
		case Active:
			if err := ctx.Err(); err != nil {
				return Event{}, c.fail(perr.Wrap(context.Cause(ctx), perr.ErrorCodeCanceled, "pull canceled"))
			}
			ev, err := c.pull(ctx)
			switch {
			case err == nil:
				c.mu.Lock()
				c.stats.Events++
				c.mu.Unlock()
				return ev, nil
			case err == io.EOF:
				if err := c.finish(ctx); err != nil {
					return Event{}, err
				}
			case perr.IsCode(err, perr.ErrorCodeEventDecode):
				c.mu.Lock()
				c.stats.DecodeErrors++
				c.mu.Unlock()
				if c.policy == PolicyFail {
					return Event{}, c.fail(err)
				}
				var le *LineError
				w := c.warnLog.Warn().Str("archive", c.cur.String())
				if errors.As(err, &le) {
					w = w.Int("line", le.Line).Str("snippet", le.Snippet).AnErr("cause", le.Err)
				}
				w.Msg("gharchive: skipped malformed line")
			default:
				return Event{}, c.fail(err)
			}
		}
	}
}

// advance positions the cursor on the next archive that is not in the ledger and opens it
func (c *Cursor) advance(ctx context.Context) error {
	if !c.hasCur {
		id, ok := c.enum.Next()
		if !ok {
			c.state.Store(int32(Exhausted))
			st := c.Stats()
			c.log.Debug().
				Int("archives", st.Finished).
				Int("skipped", st.Skipped).
				Int64("events", st.Events).
				Int64("decode_errors", st.DecodeErrors).
				Msg("gharchive: stream exhausted")
			return nil
		}
		c.cur, c.hasCur = id, true
		c.state.Store(int32(Advancing))
	}

	if c.ledger != nil {
		done, err := c.ledger.Done(ctx, c.cur)
		if err != nil {
			if ctx.Err() != nil {
				return perr.Wrap(context.Cause(ctx), perr.ErrorCodeCanceled, "pull canceled")
			}
			return c.fail(perr.Wrapf(err, perr.ErrorCodeLedger, "ledger lookup %s", c.cur))
		}
		if done {
			c.mu.Lock()
			c.stats.Skipped++
			c.mu.Unlock()
			c.log.Info().Str("archive", c.cur.String()).Msg("gharchive: archive already ingested, skipping")
			c.hasCur = false
			c.state.Store(int32(Advancing))
			return nil
		}
	}

	rc, err := c.open(ctx, c.cur)
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeCanceled) {
			return err
		}
		return c.fail(err)
	}
	c.body = newGuardedBody(rc, c.cur, &c.timeout)
	c.rd = NewReader(c.body, ReaderMaxLine(c.maxLine), ReaderLogger(c.log))
	c.opened = time.Now()
	c.mu.Lock()
	c.stats.Opened++
	c.mu.Unlock()
	c.state.Store(int32(Active))
	c.log.Debug().Str("archive", c.cur.String()).Msg("gharchive: archive opened")
	return nil
}

// open runs the transport under the I/O timeout
// A transport that ignores ctx is abandoned at the deadline and its late stream closed
func (c *Cursor) open(ctx context.Context, id ArchiveID) (io.ReadCloser, error) {
	octx := ctx
	cancel := context.CancelFunc(func() {})
	if d := time.Duration(c.timeout.Load()); d > 0 {
		octx, cancel = context.WithTimeoutCause(ctx, d, errOpenTimeout)
	}
	defer cancel()

	type result struct {
		rc  io.ReadCloser
		err error
	}
	ch := make(chan result, 1)
	go func() {
		rc, err := c.transport.Open(octx, id)
		ch <- result{rc, err}
	}()

	var (
		rc  io.ReadCloser
		err error
	)
	select {
	case r := <-ch:
		rc, err = r.rc, r.err
	case <-octx.Done():
		go func() {
			if r := <-ch; r.rc != nil {
				_ = r.rc.Close()
			}
		}()
		err = context.Cause(octx)
	}
	if err == nil {
		return rc, nil
	}
	if rc != nil {
		_ = rc.Close()
	}

	switch {
	case ctx.Err() != nil:
		return nil, perr.Wrapf(context.Cause(ctx), perr.ErrorCodeCanceled, "open %s", id)
	case errors.Is(context.Cause(octx), errOpenTimeout):
		return nil, perr.FetchTimeoutf("open %s: no response within %v", id, time.Duration(c.timeout.Load()))
	}
	if _, ok := perr.As(err); ok {
		return nil, err
	}
	return nil, perr.Wrapf(err, perr.ErrorCodeFetchError, "open %s", id)
}

// pull decodes one line, closing the stream if ctx ends while waiting on I/O
func (c *Cursor) pull(ctx context.Context) (Event, error) {
	stop := c.body.watch(ctx)
	defer stop()
	return c.rd.Next()
}

// finish releases the exhausted archive and records it
func (c *Cursor) finish(ctx context.Context) error {
	st := c.release()
	if c.ledger != nil {
		if err := c.ledger.MarkDone(ctx, st); err != nil {
			return c.fail(perr.Wrapf(err, perr.ErrorCodeLedger, "ledger mark %s", st.ID))
		}
	}
	c.mu.Lock()
	c.stats.Finished++
	c.stats.Bytes += st.Bytes
	c.mu.Unlock()

	c.log.Debug().
		Str("archive", st.ID.String()).
		Int64("events", st.Events).
		Int64("decode_errors", st.DecodeErrors).
		Int64("bytes", st.Bytes).
		Int64("compressed_bytes", st.Compressed).
		Dur("elapsed", st.Elapsed).
		Msg("gharchive: archive finished")

	if c.onDone != nil {
		c.onDone(st)
	}
	c.hasCur = false
	c.state.Store(int32(Advancing))
	return nil
}

// release closes the open archive and returns its counters
func (c *Cursor) release() ArchiveStats {
	st := ArchiveStats{ID: c.cur}
	if c.rd == nil {
		return st
	}
	st.Events, st.DecodeErrors, st.Bytes = c.rd.Stats()
	st.Compressed = c.body.Bytes()
	st.Elapsed = time.Since(c.opened)
	st.FinishedAt = time.Now().UTC()
	if err := c.rd.Close(); err != nil {
		c.log.Debug().Err(err).Str("archive", c.cur.String()).Msg("gharchive: close archive")
	}
	c.rd, c.body = nil, nil
	return st
}

// fail moves the cursor to Failed with err and releases the open archive
func (c *Cursor) fail(err error) error {
	c.release()
	c.err = err
	c.state.Store(int32(Failed))
	c.log.Debug().Err(err).Str("archive", c.cur.String()).Str("code", perr.CodeOf(err).String()).Msg("gharchive: stream failed")
	return err
}

// Close releases the open archive; later pulls fail unless the stream was already exhausted
// Close must not overlap a pull
func (c *Cursor) Close() error {
	switch c.State() {
	case Exhausted, Failed:
		return nil
	}
	_ = c.fail(perr.New(perr.ErrorCodeCanceled, "gharchive: source closed"))
	return nil
}
