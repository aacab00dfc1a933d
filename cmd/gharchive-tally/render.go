package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	gha "gharchive/internal/adapters/ingest/gharchive"
	"gharchive/internal/services/tally/domain"
)

// renderReport prints one table per window, then a summary line
func renderReport(w io.Writer, rep domain.Report) {
	for _, win := range rep.Windows {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.SetTitle("%s .. %s", win.Start.Format(time.RFC3339), win.End.Format(time.RFC3339))
		t.AppendHeader(table.Row{"Type", "Count"})
		for _, c := range win.Counts {
			t.AppendRow(table.Row{c.Type, c.N})
		}
		t.AppendFooter(table.Row{"Total", win.Total})
		t.Render()
	}
	s := rep.Stats
	fmt.Fprintf(w, "%d events, %d windows, %d archives (%d skipped), %d decode errors, %s\n",
		s.Events, len(rep.Windows), s.Finished, s.Skipped, s.DecodeErrors, rep.Elapsed.Round(time.Millisecond))
}

// renderLedger prints recorded archives in finish order
func renderLedger(w io.Writer, recs []gha.ArchiveStats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Archive", "Events", "Decode errors", "Bytes", "Elapsed", "Finished"})
	for _, r := range recs {
		t.AppendRow(table.Row{
			r.ID.String(), r.Events, r.DecodeErrors, r.Bytes,
			r.Elapsed.Round(time.Millisecond), r.FinishedAt.Format(time.RFC3339),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Archives", len(recs)})
	t.Render()
}
