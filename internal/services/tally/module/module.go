// Package module wires the tally service: transports, ledger and source factory
package module

import (
	"context"
	"strings"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/adapters/ingest/ledger"
	perr "gharchive/internal/platform/errors"
	"gharchive/internal/platform/logger"
	"gharchive/internal/platform/store"
	"gharchive/internal/services/tally/domain"
	"gharchive/internal/services/tally/service"
)

// Ports defines the tally module ports
type Ports struct {
	Runner domain.RunnerPort

	// Ledger is nil when no ledger backend is configured
	Ledger ledger.Ledger
}

// Module implements the tally module
type Module struct {
	log   *logger.Logger
	store *store.Store
	ports Ports
}

// New builds transports and the optional ledger, then the service
// The returned module owns the ledger connections until Close
func New(ctx context.Context, opts Options, log *logger.Logger) (*Module, error) {
	if log == nil {
		log = logger.Named("tally")
	}
	m := &Module{log: log}

	transport, err := buildTransport(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := m.openLedger(ctx, opts); err != nil {
		return nil, err
	}

	base := []gha.Option{
		gha.WithIOTimeout(opts.IOTimeout),
		gha.WithBaseURL(opts.BaseURL),
		gha.WithDecodePolicy(gha.DecodePolicy(opts.DecodePolicy)),
		gha.WithMaxLineBytes(opts.MaxLineBytes),
		gha.WithUserAgent(opts.UserAgent),
		gha.WithTransport(transport),
		gha.WithLogger(log),
	}
	if m.ports.Ledger != nil {
		base = append(base, gha.WithLedger(m.ports.Ledger))
	}
	if opts.OnArchiveDone != nil {
		base = append(base, gha.WithOnArchiveDone(opts.OnArchiveDone))
	}

	m.ports.Runner = service.New(&sourceFactory{opts: base}, service.Config{
		Window:   opts.Window,
		Parallel: opts.Parallel,
	})
	return m, nil
}

// Name returns the module name
func (m *Module) Name() string { return "tally" }

// Ports returns the module ports
func (m *Module) Ports() Ports { return m.ports }

// Close releases ledger connections
func (m *Module) Close(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.store.Close(ctx)
}

// buildTransport routes hours through the disk cache when configured and
// s3:// locators through S3 when a region or endpoint is set
func buildTransport(ctx context.Context, o Options) (gha.Transport, error) {
	r := gha.NewRouter(o.BaseURL, o.UserAgent)

	if strings.TrimSpace(o.CacheDir) != "" {
		ct, err := gha.NewCachedTransport(o.CacheDir, gha.NewHTTPTransport(o.BaseURL, o.UserAgent),
			gha.WithRefreshRecent(o.CacheRefreshRecent),
			gha.WithRetention(o.CacheMaxAge, o.CacheMaxBytes),
		)
		if err != nil {
			return nil, err
		}
		r.Hours = ct
	}

	if o.S3Region != "" || o.S3Endpoint != "" {
		st, err := gha.NewS3Transport(ctx, gha.S3Config{
			Region:          o.S3Region,
			Endpoint:        o.S3Endpoint,
			UsePathStyle:    o.S3PathStyle,
			AccessKeyID:     o.S3AccessKey,
			SecretAccessKey: o.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		r.S3 = st
	}
	return r, nil
}

func (m *Module) openLedger(ctx context.Context, o Options) error {
	var cfg store.Config
	cfg.AppName = "gharchive-tally"
	switch o.Ledger {
	case "", LedgerNone:
		return nil
	case LedgerPG:
		if o.PGURL == "" {
			return perr.WithField(perr.Validationf("pg ledger needs a database url"), "GHA_PG_DBURL")
		}
		cfg.PG = store.PGConfig{Enabled: true, URL: o.PGURL, MaxConns: 4, LogSQL: o.PGLogSQL, SlowQueryMs: 200}
	case LedgerRedis:
		cfg.RDS = store.RedisConfig{Enabled: true, Addr: o.RedisAddr, Password: o.RedisPassword, DB: o.RedisDB}
	default:
		return perr.WithField(perr.Validationf("unknown ledger %q", o.Ledger), "GHA_LEDGER")
	}

	st, err := store.Open(ctx, cfg, store.WithLogger(*m.log))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeLedger, "open %s ledger", o.Ledger)
	}
	m.store = st

	switch o.Ledger {
	case LedgerPG:
		pl := ledger.NewPG(st.PG)
		if err := pl.EnsureSchema(ctx); err != nil {
			_ = st.Close(ctx)
			return perr.Wrap(err, perr.ErrorCodeLedger, "create ledger table")
		}
		m.ports.Ledger = pl
	case LedgerRedis:
		m.ports.Ledger = ledger.NewRedis(st.Redis, ledger.RedisConfig{Prefix: o.RedisPrefix, TTL: o.RedisTTL})
	}
	m.log.Info().Str("ledger", o.Ledger).Msg("ledger ready")
	return nil
}
