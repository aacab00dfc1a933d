// Package service counts GH Archive event types per tumbling window
package service

import (
	"context"
	"errors"
	"io"
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/platform/logger"
	"gharchive/internal/services/tally/domain"

	"golang.org/x/sync/errgroup"
)

// DefaultWindow is the tumbling window used when none is given
const DefaultWindow = 20 * time.Second

// Config holds defaults applied to requests that leave them unset
type Config struct {
	Window   time.Duration
	Parallel int
}

// Service implements domain.RunnerPort
type Service struct {
	Sources domain.SourceFactory
	Cfg     Config
	now     func() time.Time
}

// New constructs the tally service
func New(src domain.SourceFactory, cfg Config) *Service {
	if src == nil {
		panic("tally.Service requires a non nil SourceFactory")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	cfg.Parallel = max(cfg.Parallel, 1)
	return &Service{Sources: src, Cfg: cfg, now: time.Now}
}

// Tally streams the target and counts event types per window
// Date ranges are split into at most Parallel sub-ranges consumed concurrently
// the first failing part cancels the others
func (s *Service) Tally(ctx context.Context, req domain.Request) (domain.Report, error) {
	window := req.Window
	if window <= 0 {
		window = s.Cfg.Window
	}
	parallel := req.Parallel
	if parallel <= 0 {
		parallel = s.Cfg.Parallel
	}
	started := s.now()

	srcs, err := s.open(req.Target, parallel)
	if err != nil {
		return domain.Report{}, err
	}
	defer func() {
		for _, src := range srcs {
			_ = src.Close()
		}
	}()

	counters := make([]*Counter, len(srcs))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range srcs {
		counters[i] = NewCounter(window)
		c := counters[i]
		g.Go(func() error { return drain(gctx, src, c) })
	}
	err = g.Wait()

	total := NewCounter(window)
	var st gha.Stats
	for i, src := range srcs {
		total.Merge(counters[i])
		st = addStats(st, src.Stats())
	}
	rep := domain.Report{
		Windows: total.Windows(),
		Stats:   st,
		Parts:   len(srcs),
		Elapsed: s.now().Sub(started),
	}
	if err != nil {
		return rep, err
	}

	logger.C(ctx).Info().
		Int("parts", rep.Parts).
		Int("windows", len(rep.Windows)).
		Int64("events", st.Events).
		Int64("decode_errors", st.DecodeErrors).
		Int("skipped", st.Skipped).
		Dur("elapsed", rep.Elapsed).
		Msg("tally finished")
	return rep, nil
}

// open builds one source per part; a failure closes the ones already built
func (s *Service) open(t domain.Target, parallel int) ([]domain.EventSource, error) {
	if !t.DateRange() || parallel <= 1 {
		src, err := s.Sources.Open(t)
		if err != nil {
			return nil, err
		}
		return []domain.EventSource{src}, nil
	}

	end := t.End
	if end == "" {
		end = t.Date
	}
	r, err := gha.NewRange(t.Date, end)
	if err != nil {
		return nil, err
	}
	var out []domain.EventSource
	for _, part := range r.Split(parallel) {
		src, err := s.Sources.OpenRange(part)
		if err != nil {
			for _, o := range out {
				_ = o.Close()
			}
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// drain pulls src to the end, counting every event
func drain(ctx context.Context, src domain.EventSource, c *Counter) error {
	for {
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		c.Add(ev)
	}
}

func addStats(a, b gha.Stats) gha.Stats {
	a.Events += b.Events
	a.DecodeErrors += b.DecodeErrors
	a.Opened += b.Opened
	a.Finished += b.Finished
	a.Skipped += b.Skipped
	a.Bytes += b.Bytes
	return a
}
