package main

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/platform/config"
	perr "gharchive/internal/platform/errors"
	"gharchive/internal/platform/testkit"
	"gharchive/internal/services/tally/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(config.New())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTally_DateHourPrintsWindowTables(t *testing.T) {
	srv := testkit.NewArchiveServer(t)
	srv.Put("2015-01-01-15.json.gz", testkit.GzipLines(t,
		testkit.EventLine("1", "WatchEvent", "2015-01-01T15:00:01Z"),
		testkit.EventLine("2", "PushEvent", "2015-01-01T15:00:02Z"),
		testkit.EventLine("3", "PushEvent", "2015-01-01T15:00:03Z"),
		testkit.EventLine("4", "IssuesEvent", "2015-01-01T15:00:45Z"),
	))
	t.Setenv("GHA_BASE_URL", srv.URL)

	out, err := execute(t, "--date", "2015-01-01", "--hour", "15", "--progress=false")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	testkit.MustContain(t, out, "2015-01-01T15:00:00Z .. 2015-01-01T15:00:20Z")
	testkit.MustContain(t, out, "2015-01-01T15:00:40Z .. 2015-01-01T15:01:00Z")
	testkit.MustContain(t, out, "4 events, 2 windows, 1 archives (0 skipped), 0 decode errors")
	if strings.Index(out, "PushEvent") > strings.Index(out, "WatchEvent") {
		t.Fatalf("counts not ordered by count desc:\n%s", out)
	}
}

func TestTally_WindowFlagOverridesEnv(t *testing.T) {
	srv := testkit.NewArchiveServer(t)
	for h := range 24 {
		srv.Put(fmt.Sprintf("2015-01-01-%d.json.gz", h), testkit.GzipLines(t,
			testkit.EventLine(fmt.Sprint(h), "PushEvent", fmt.Sprintf("2015-01-01T%02d:10:00Z", h)),
		))
	}
	t.Setenv("GHA_BASE_URL", srv.URL)
	t.Setenv("GHA_WINDOW", "1m")

	out, err := execute(t, "--date", "2015-01-01", "--window", "24h", "--parallel", "3")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	testkit.MustContain(t, out, "2015-01-01T00:00:00Z .. 2015-01-02T00:00:00Z")
	testkit.MustContain(t, out, "24 events, 1 windows, 24 archives")
}

func TestTally_FailOnDecode(t *testing.T) {
	srv := testkit.NewArchiveServer(t)
	srv.Put("2015-01-01-0.json.gz", testkit.GzipLines(t,
		testkit.EventLine("1", "PushEvent", "2015-01-01T00:00:01Z"),
		`{"id":`,
	))

	if _, err := execute(t, "--uri", srv.FileURL("2015-01-01-0.json.gz"), "--progress=false"); err != nil {
		t.Fatalf("skip policy: %v", err)
	}
	out, err := execute(t, "--uri", srv.FileURL("2015-01-01-0.json.gz"), "--progress=false", "--fail-on-decode")
	if !perr.IsCode(err, perr.ErrorCodeEventDecode) {
		t.Fatalf("err = %v", err)
	}
	testkit.MustContain(t, out, "1 events")
}

func TestTally_FlagErrors(t *testing.T) {
	if _, err := execute(t); err == nil {
		t.Fatalf("no target accepted")
	}
	if _, err := execute(t, "--uri", "x.json.gz", "--file", "y.json.gz"); err == nil {
		t.Fatalf("two targets accepted")
	}
	if _, err := execute(t, "--date", "2015-01-01", "--end", "2015-01-02", "--hour", "3"); err == nil {
		t.Fatalf("--end with --hour accepted")
	}
	_, err := execute(t, "--file", "x.json.gz", "--hour", "3")
	if !perr.IsCode(err, perr.ErrorCodeValidation) {
		t.Fatalf("--hour without --date: %v", err)
	}
	_, err = execute(t, "--file", "/no/such/archive.json.gz", "--progress=false")
	if !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("missing file: %v", err)
	}
}

func TestLedgerCmd_NeedsBackend(t *testing.T) {
	_, err := execute(t, "ledger")
	if !perr.IsCode(err, perr.ErrorCodeValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestArchiveCount(t *testing.T) {
	cases := []struct {
		tgt  domain.Target
		want int
	}{
		{domain.Target{URI: "x", Hour: domain.NoHour}, 1},
		{domain.Target{Date: "2015-01-01", Hour: 4}, 1},
		{domain.Target{Date: "2015-01-01", Hour: domain.NoHour}, 24},
		{domain.Target{Date: "2015-01-01", End: "2015-01-03", Hour: domain.NoHour}, 72},
		{domain.Target{Date: "2015-01-03", End: "2015-01-01", Hour: domain.NoHour}, -1},
	}
	for _, c := range cases {
		if got := archiveCount(c.tgt); got != c.want {
			t.Fatalf("%+v: got %d want %d", c.tgt, got, c.want)
		}
	}
}

func TestRenderLedger(t *testing.T) {
	h := gha.NewHourRef(time.Date(2015, 1, 1, 3, 0, 0, 0, time.UTC))
	var out bytes.Buffer
	renderLedger(&out, []gha.ArchiveStats{{
		ID: gha.HourID(h), Events: 12, Bytes: 3400, Elapsed: 1500 * time.Millisecond,
		FinishedAt: time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC),
	}})
	testkit.MustContain(t, out.String(), "2015-01-01-3")
	testkit.MustContain(t, out.String(), "1.5s")
	testkit.MustContain(t, out.String(), "2015-01-02T00:00:00Z")
}
