package pg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

const upsertArchive = `
		INSERT INTO gharchive_archives
			(archive_id, events, decode_errors)
		VALUES ($1, $2, $3)
		ON CONFLICT (archive_id) DO UPDATE SET
			events        = EXCLUDED.events,
			decode_errors = EXCLUDED.decode_errors`

func TestCompact(t *testing.T) {
	cases := []struct{ in, want string }{
		{"SELECT 1", "SELECT 1"},
		{"", ""},
		{"SELECT EXISTS (SELECT 1 FROM gharchive_archives WHERE archive_id = $1)",
			"SELECT EXISTS (SELECT 1 FROM gharchive_archives WHERE archive_id = $1)"},
		{upsertArchive, " INSERT INTO gharchive_archives (archive_id, events, decode_errors) VALUES ($1, $2, $3)" +
			" ON CONFLICT (archive_id) DO UPDATE SET events = EXCLUDED.events, decode_errors = EXCLUDED.decode_errors"},
		{"SELECT 'ü'\r\n", "SELECT 'ü' "},
	}
	for _, c := range cases {
		if got := compact(c.in); got != c.want {
			t.Fatalf("compact(%q)\n got %q\nwant %q", c.in, got, c.want)
		}
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	buf.Reset()
	return m
}

func TestTracer_LogsBelowRootLevel(t *testing.T) {
	var buf bytes.Buffer
	// the tracer must still emit when the process logs errors only
	tr := Tracer(zerolog.New(&buf).Level(zerolog.ErrorLevel))

	tr.OnQuery(context.Background(), QueryEvent{
		SQL:       upsertArchive,
		Args:      []any{"2015-01-01-15", 11351, 0},
		ElapsedUS: 2500,
	})
	m := decodeLine(t, &buf)
	if m["level"] != "info" || m["message"] != "pg query" || m["component"] != "pg" {
		t.Fatalf("line = %v", m)
	}
	if m["elapsed_ms"] != 2.5 || m["slow"] != false {
		t.Fatalf("timing = %v / %v", m["elapsed_ms"], m["slow"])
	}
	if sql, _ := m["sql"].(string); bytes.ContainsAny([]byte(sql), "\n\t") {
		t.Fatalf("sql not compacted: %q", sql)
	}
	args, _ := m["args"].([]any)
	if len(args) != 3 || args[0] != "2015-01-01-15" {
		t.Fatalf("args = %v", m["args"])
	}
	if _, ok := m["error"]; ok {
		t.Fatalf("error field on a clean statement: %v", m)
	}
}

func TestTracer_SlowStatementWarnsWithError(t *testing.T) {
	var buf bytes.Buffer
	tr := Tracer(zerolog.New(&buf))

	tr.OnQuery(context.Background(), QueryEvent{
		SQL:       "SELECT archive_id FROM gharchive_archives",
		ElapsedUS: 750000,
		Slow:      true,
		Err:       errors.New("canceling statement due to statement timeout"),
	})
	m := decodeLine(t, &buf)
	if m["level"] != "warn" || m["slow"] != true || m["elapsed_ms"] != 750.0 {
		t.Fatalf("line = %v", m)
	}
	if m["error"] != "canceling statement due to statement timeout" {
		t.Fatalf("error = %v", m["error"])
	}
}
