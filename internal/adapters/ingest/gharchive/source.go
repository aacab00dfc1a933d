package gharchive

import (
	"context"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	perr "gharchive/internal/platform/errors"
	"gharchive/internal/platform/logger"
	"gharchive/internal/platform/validate"

	"github.com/spf13/afero"
)

// DefaultIOTimeout bounds each open and each read when no timeout is set
const DefaultIOTimeout = 30 * time.Second

// localFs backs existence checks of FromFile (seam)
var localFs afero.Fs = afero.NewOsFs()

// Options configures a Source
type Options struct {
	IOTimeout     time.Duration      `name:"io_timeout" validate:"min=1ms"`
	BaseURL       string             `name:"base_url" validate:"required,url"`
	DecodePolicy  DecodePolicy       `name:"decode_policy" validate:"oneof=skip fail"`
	MaxLineBytes  int                `name:"max_line_bytes" validate:"min=1024"`
	UserAgent     string             `name:"user_agent"`
	Transport     Transport          `validate:"-"` // nil routes by id kind over HTTP and the local disk
	Ledger        Ledger             `validate:"-"`
	OnArchiveDone func(ArchiveStats) `validate:"-"`
	Logger        *logger.Logger     `validate:"-"`
}

// DefaultOptions returns the options a Source starts from
func DefaultOptions() Options {
	return Options{
		IOTimeout:    DefaultIOTimeout,
		BaseURL:      DefaultBaseURL,
		DecodePolicy: PolicySkip,
		MaxLineBytes: DefaultMaxLineBytes,
		UserAgent:    "gharchive-source",
	}
}

// Option mutates Options
type Option func(*Options)

// WithOptions replaces all options at once
func WithOptions(o Options) Option { return func(dst *Options) { *dst = o } }

// WithIOTimeout sets the open and idle read bound
func WithIOTimeout(d time.Duration) Option { return func(o *Options) { o.IOTimeout = d } }

// WithBaseURL sets where hour archives are fetched from
func WithBaseURL(u string) Option { return func(o *Options) { o.BaseURL = u } }

// WithUserAgent sets the User-Agent of the default HTTP transport
func WithUserAgent(ua string) Option { return func(o *Options) { o.UserAgent = ua } }

// WithDecodePolicy sets what a malformed line does
func WithDecodePolicy(p DecodePolicy) Option { return func(o *Options) { o.DecodePolicy = p } }

// WithMaxLineBytes caps a single line
func WithMaxLineBytes(n int) Option { return func(o *Options) { o.MaxLineBytes = n } }

// WithTransport overrides archive resolution
func WithTransport(t Transport) Option { return func(o *Options) { o.Transport = t } }

// WithLedger enables skipping archives a previous run completed
func WithLedger(l Ledger) Option { return func(o *Options) { o.Ledger = l } }

// WithOnArchiveDone registers a hook called after each archive is consumed
func WithOnArchiveDone(fn func(ArchiveStats)) Option { return func(o *Options) { o.OnArchiveDone = fn } }

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option { return func(o *Options) { o.Logger = l } }

type startKind uint8

const (
	startLocator startKind = iota
	startDate
	startHour
)

// Source is the public face of the archive stream
// Configure it, then pull with Next until io.EOF. A Source serves one consumer
type Source struct {
	mu     sync.Mutex
	kind   startKind
	loc    string
	start  time.Time
	end    time.Time
	hour   int
	opts   Options
	cur    *Cursor
	closed bool

	pulling    bool                    // a Next is in flight
	cancelPull context.CancelCauseFunc // cancels the in-flight Next
}

var errSourceClosed = perr.New(perr.ErrorCodeCanceled, "gharchive: source closed")

func newSource(kind startKind, opts []Option) *Source {
	s := &Source{kind: kind, opts: DefaultOptions()}
	for _, o := range opts {
		o(&s.opts)
	}
	return s
}

// New streams a single archive named by URI or path; only the shape is checked here
func New(uri string, opts ...Option) (*Source, error) {
	uri = strings.TrimSpace(uri)
	if err := ValidateLocator(uri); err != nil {
		return nil, err
	}
	s := newSource(startLocator, opts)
	s.loc = uri
	return s, nil
}

// FromFile streams a single local archive; the file must exist
func FromFile(path string, opts ...Option) (*Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, perr.InvalidURIf("empty archive path")
	}
	p, err := localPath(path)
	if err != nil {
		return nil, err
	}
	fi, err := localFs.Stat(p)
	if err != nil {
		return nil, perr.WithField(perr.NotFoundf("archive file %s: %v", p, err), "path")
	}
	if fi.IsDir() {
		return nil, perr.InvalidURIf("archive path %s is a directory", p)
	}
	s := newSource(startLocator, opts)
	s.loc = p
	return s, nil
}

// FromDate streams hours 0..23 of date (YYYY-MM-DD)
func FromDate(date string, opts ...Option) (*Source, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	s := newSource(startDate, opts)
	s.start, s.end = d, d
	return s, nil
}

// FromRange streams every hour of r
func FromRange(r Range, opts ...Option) (*Source, error) {
	rr, err := DayRange(r.Start, r.End)
	if err != nil {
		return nil, err
	}
	s := newSource(startDate, opts)
	s.start, s.end = rr.Start, rr.End
	return s, nil
}

// FromHour streams the single archive of date at hour (0..23)
func FromHour(date string, hour int, opts ...Option) (*Source, error) {
	d, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	if hour < 0 || hour > 23 {
		return nil, perr.WithField(perr.InvalidRangef("hour %d outside 0..23", hour), "hour")
	}
	s := newSource(startHour, opts)
	s.start, s.end, s.hour = d, d, hour
	return s, nil
}

// SetEndDate extends a date source to end (inclusive)
// Fails with InvalidRange when end precedes the start and AlreadyStarted once pulling began
func (s *Source) SetEndDate(end string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedLocked() {
		return perr.AlreadyStartedf("gharchive: end date set after consumption began")
	}
	if s.kind != startDate {
		return perr.InvalidRangef("end date applies to date sources only")
	}
	e, err := ParseDate(end)
	if err != nil {
		return err
	}
	r, err := DayRange(s.start, e)
	if err != nil {
		return err
	}
	s.end = r.End
	// rebuilt with the new range on the next Init or Next
	s.cur = nil
	return nil
}

// SetIOTimeout changes the bound for every later open and read
func (s *Source) SetIOTimeout(d time.Duration) error {
	if d <= 0 {
		return perr.WithField(perr.Validationf("io timeout must be positive, got %v", d), "io_timeout")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.IOTimeout = d
	if s.cur != nil {
		s.cur.SetIOTimeout(d)
	}
	return nil
}

// Init validates options and prepares the cursor; it performs no I/O
// Next calls it implicitly; calling it again before the first pull rebuilds the cursor
func (s *Source) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked()
}

func (s *Source) initLocked() error {
	if s.closed {
		return errSourceClosed
	}
	if s.startedLocked() {
		return perr.AlreadyStartedf("gharchive: init after consumption began")
	}
	if err := validate.Struct(s.opts); err != nil {
		return err
	}
	t := s.opts.Transport
	if t == nil {
		t = NewRouter(s.opts.BaseURL, s.opts.UserAgent)
	}
	s.cur = NewCursor(s.enumerator(), CursorConfig{
		Transport:     t,
		Ledger:        s.opts.Ledger,
		IOTimeout:     s.opts.IOTimeout,
		DecodePolicy:  s.opts.DecodePolicy,
		MaxLineBytes:  s.opts.MaxLineBytes,
		OnArchiveDone: s.opts.OnArchiveDone,
		Logger:        s.opts.Logger,
	})
	return nil
}

func (s *Source) enumerator() *Enumerator {
	switch s.kind {
	case startDate:
		return Hours(Range{Start: s.start, End: s.end})
	case startHour:
		return Single(HourID(NewHourRef(s.start.Add(time.Duration(s.hour) * time.Hour))))
	default:
		return Single(LocatorID(s.loc))
	}
}

func (s *Source) startedLocked() bool {
	return s.pulling || (s.cur != nil && s.cur.State() != NotStarted)
}

// Next returns the next event, io.EOF at the end of the stream, or an error
// Overlapping calls get Busy; a Close during the call cancels it
func (s *Source) Next(ctx context.Context) (Event, error) {
	s.mu.Lock()
	if s.pulling {
		s.mu.Unlock()
		return Event{}, perr.Busyf("gharchive: pull already in flight")
	}
	if s.cur == nil {
		if err := s.initLocked(); err != nil {
			s.mu.Unlock()
			return Event{}, err
		}
	}
	pctx, cancel := context.WithCancelCause(ctx)
	c := s.cur
	s.pulling, s.cancelPull = true, cancel
	s.mu.Unlock()

	ev, err := c.Next(pctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulling, s.cancelPull = false, nil
	cancel(nil)
	if s.closed {
		_ = c.Close()
	}
	return ev, err
}

// Events ranges over the stream; a terminal error is yielded once and ends the sequence
func (s *Source) Events(ctx context.Context) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

// Archives is the number of archives the source covers
func (s *Source) Archives() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enumerator().Len()
}

// State returns the cursor state; NotStarted before Init
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		if s.closed {
			return Failed
		}
		return NotStarted
	}
	return s.cur.State()
}

// Stats returns a snapshot of stream counters
func (s *Source) Stats() Stats {
	s.mu.Lock()
	c := s.cur
	s.mu.Unlock()
	if c == nil {
		return Stats{}
	}
	return c.Stats()
}

// String describes what the source covers
func (s *Source) String() string {
	switch s.kind {
	case startDate:
		return Range{Start: s.start, End: s.end}.String()
	case startHour:
		return NewHourRef(s.start.Add(time.Duration(s.hour) * time.Hour)).String()
	default:
		return s.loc
	}
}

// Close releases any open archive; the source cannot be pulled afterwards
// A pull in flight is canceled and releases the archive on its way out
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.pulling {
		s.cancelPull(errSourceClosed)
		return nil
	}
	if s.cur != nil {
		return s.cur.Close()
	}
	return nil
}
