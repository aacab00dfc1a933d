// gharchive-tally streams GH Archive hours and counts event types per
// tumbling window of created_at
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/platform/config"
	perr "gharchive/internal/platform/errors"
	"gharchive/internal/platform/logger"
	"gharchive/internal/platform/version"
	"gharchive/internal/services/tally/domain"
	"gharchive/internal/services/tally/module"
)

func main() {
	logger.Init(logger.FromEnv())
	if err := newRootCmd(config.New()).Execute(); err != nil {
		logger.Get().Error().Err(err).Str("code", perr.CodeOf(err).String()).Msg("gharchive-tally failed")
		os.Exit(1)
	}
}

type flags struct {
	uri, file, date, end string
	hour                 int
	timeout, window      time.Duration
	parallel             int
	failOnDecode         bool
	progress             bool
}

// newRootCmd builds the CLI; flag defaults come from the GHA_ environment
func newRootCmd(cfg config.Conf) *cobra.Command {
	opts := module.FromConfig(cfg)
	f := flags{hour: domain.NoHour}

	cmd := &cobra.Command{
		Use:           "gharchive-tally",
		Short:         "Count GH Archive event types per time window",
		Version:       version.Info().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTally(cmd, opts, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.uri, "uri", "", "archive url or path (http(s)://, s3://, file:// or plain path)")
	fl.StringVar(&f.file, "file", "", "local .json.gz archive")
	fl.StringVar(&f.date, "date", "", "UTC day YYYY-MM-DD; streams its 24 hours")
	fl.StringVar(&f.end, "end", "", "inclusive end day YYYY-MM-DD (with --date)")
	fl.IntVar(&f.hour, "hour", domain.NoHour, "single hour 0..23 of --date")
	fl.DurationVar(&f.timeout, "timeout", opts.IOTimeout, "I/O timeout per archive open and read")
	fl.DurationVar(&f.window, "window", opts.Window, "tumbling window over created_at")
	fl.IntVar(&f.parallel, "parallel", opts.Parallel, "split a date range into this many concurrent parts")
	fl.BoolVar(&f.failOnDecode, "fail-on-decode", false, "stop at the first undecodable line")
	fl.BoolVar(&f.progress, "progress", true, "show a progress bar on stderr")
	cmd.MarkFlagsOneRequired("uri", "file", "date")
	cmd.MarkFlagsMutuallyExclusive("uri", "file", "date")
	cmd.MarkFlagsMutuallyExclusive("end", "hour")

	cmd.AddCommand(newLedgerCmd(opts))
	return cmd
}

func runTally(cmd *cobra.Command, opts module.Options, f flags) error {
	if f.date == "" && (f.end != "" || f.hour != domain.NoHour) {
		return perr.Validationf("--end and --hour need --date")
	}
	opts.IOTimeout = f.timeout
	opts.Window = f.window
	opts.Parallel = f.parallel
	if f.failOnDecode {
		opts.DecodePolicy = string(gha.PolicyFail)
	}
	target := domain.Target{URI: f.uri, File: f.file, Date: f.date, End: f.end, Hour: f.hour}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *progressbar.ProgressBar
	if f.progress {
		bar = newProgress(archiveCount(target), cmd.ErrOrStderr())
		opts.OnArchiveDone = func(gha.ArchiveStats) { _ = bar.Add(1) }
	}

	m, err := module.New(ctx, opts, logger.Named("tally"))
	if err != nil {
		return err
	}
	defer func() { _ = m.Close(context.Background()) }()

	rep, err := m.Ports().Runner.Tally(ctx, domain.Request{Target: target})
	if bar != nil {
		_ = bar.Finish()
	}
	renderReport(cmd.OutOrStdout(), rep)
	return err
}

func newLedgerCmd(opts module.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "List archives recorded in the configured ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := module.New(cmd.Context(), opts, logger.Named("tally"))
			if err != nil {
				return err
			}
			defer func() { _ = m.Close(context.Background()) }()

			l := m.Ports().Ledger
			if l == nil {
				return perr.WithField(perr.Validationf("no ledger configured"), "GHA_LEDGER")
			}
			recs, err := l.List(cmd.Context())
			if err != nil {
				return err
			}
			renderLedger(cmd.OutOrStdout(), recs)
			return nil
		},
	}
}

// archiveCount sizes the progress bar; -1 renders a spinner
func archiveCount(t domain.Target) int {
	if !t.DateRange() {
		return 1
	}
	end := t.End
	if end == "" {
		end = t.Date
	}
	r, err := gha.NewRange(t.Date, end)
	if err != nil {
		return -1
	}
	return r.Hours()
}

func newProgress(total int, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("archives"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
