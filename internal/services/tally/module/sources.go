package module

import (
	"context"

	gha "gharchive/internal/adapters/ingest/gharchive"
	perr "gharchive/internal/platform/errors"
	"gharchive/internal/services/tally/domain"
)

// sourceFactory turns targets into initialized gharchive sources
type sourceFactory struct {
	opts []gha.Option
}

// Open builds the source a target names
func (f *sourceFactory) Open(t domain.Target) (domain.EventSource, error) {
	var (
		s   *gha.Source
		err error
	)
	switch {
	case t.URI != "":
		s, err = gha.New(t.URI, f.opts...)
	case t.File != "":
		s, err = gha.FromFile(t.File, f.opts...)
	case t.Date != "" && t.Hour != domain.NoHour:
		s, err = gha.FromHour(t.Date, t.Hour, f.opts...)
	case t.Date != "":
		s, err = gha.FromDate(t.Date, f.opts...)
		if err == nil && t.End != "" {
			err = s.SetEndDate(t.End)
		}
	default:
		return nil, perr.InvalidURIf("no archive target: set a uri, a file or a date")
	}
	return f.ready(s, err)
}

// OpenRange builds a source for one sub-range of days
func (f *sourceFactory) OpenRange(r gha.Range) (domain.EventSource, error) {
	return f.ready(gha.FromRange(r, f.opts...))
}

// ready surfaces option errors before any pull
func (f *sourceFactory) ready(s *gha.Source, err error) (domain.EventSource, error) {
	if err != nil {
		return nil, err
	}
	if err := s.Init(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}
