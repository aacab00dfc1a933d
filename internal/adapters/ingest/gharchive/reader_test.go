package gharchive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	perr "gharchive/internal/platform/errors"
	"gharchive/internal/platform/logger"
	kit "gharchive/internal/platform/testkit"
)

const ts = "2015-01-01T15:00:00Z"

func newTestReader(gz []byte, opts ...ReaderOption) *Reader {
	opts = append([]ReaderOption{ReaderLogger(logger.Nop())}, opts...)
	return NewReader(io.NopCloser(bytes.NewReader(gz)), opts...)
}

func readAll(t *testing.T, rd *Reader) (ids []string, decodeErrs int, final error) {
	t.Helper()
	for range 100000 {
		ev, err := rd.Next()
		switch {
		case err == nil:
			ids = append(ids, ev.ID)
		case perr.IsCode(err, perr.ErrorCodeEventDecode):
			decodeErrs++
		default:
			return ids, decodeErrs, err
		}
	}
	t.Fatal("reader did not terminate")
	return nil, 0, nil
}

func TestReaderPreservesOrder(t *testing.T) {
	t.Parallel()
	var lines []string
	for i := 1; i <= 250; i++ {
		lines = append(lines, kit.EventLine(fmt.Sprint(i), "PushEvent", ts))
	}
	rd := newTestReader(kit.GzipLines(t, lines...))
	ids, bad, err := readAll(t, rd)
	if err != io.EOF || bad != 0 {
		t.Fatalf("final=%v bad=%d", err, bad)
	}
	if len(ids) != 250 {
		t.Fatalf("got %d events", len(ids))
	}
	for i, id := range ids {
		if id != fmt.Sprint(i+1) {
			t.Fatalf("event %d has id %s", i, id)
		}
	}
	if _, err := rd.Next(); err != io.EOF {
		t.Fatalf("after end: %v", err)
	}
	events, rejected, n := rd.Stats()
	if events != 250 || rejected != 0 || n == 0 {
		t.Fatalf("stats = %d %d %d", events, rejected, n)
	}
}

func TestReaderSkipsMalformedLine(t *testing.T) {
	t.Parallel()
	gz := kit.GzipLines(t,
		kit.EventLine("1", "PushEvent", ts),
		`{"id":"broken",`,
		kit.EventLine("2", "WatchEvent", ts),
	)
	rd := newTestReader(gz)

	ev, err := rd.Next()
	if err != nil || ev.ID != "1" {
		t.Fatalf("first: %v %v", ev.ID, err)
	}
	_, err = rd.Next()
	if !perr.IsCode(err, perr.ErrorCodeEventDecode) {
		t.Fatalf("second: %v", err)
	}
	var le *LineError
	if !errors.As(err, &le) || le.Line != 2 || le.Snippet != `{"id":"broken",` {
		t.Fatalf("line error = %+v", le)
	}
	ev, err = rd.Next()
	if err != nil || ev.ID != "2" {
		t.Fatalf("third: %v %v", ev.ID, err)
	}
	if _, err := rd.Next(); err != io.EOF {
		t.Fatalf("end: %v", err)
	}
	if _, rejected, _ := rd.Stats(); rejected != 1 {
		t.Fatalf("rejected = %d", rejected)
	}
}

func TestReaderFraming(t *testing.T) {
	t.Parallel()
	e1, e2 := kit.EventLine("1", "PushEvent", ts), kit.EventLine("2", "PushEvent", ts)
	cases := map[string]string{
		"no trailing newline": e1 + "\n" + e2,
		"blank lines":         "\n" + e1 + "\n\n   \n\r\n" + e2 + "\n\n",
		"crlf":                e1 + "\r\n" + e2 + "\r\n",
	}
	for name, raw := range cases {
		rd := newTestReader(kit.Gzip(t, []byte(raw)))
		ids, bad, err := readAll(t, rd)
		if err != io.EOF || bad != 0 || strings.Join(ids, ",") != "1,2" {
			t.Fatalf("%s: ids=%v bad=%d err=%v", name, ids, bad, err)
		}
	}
}

func TestReaderEmptyArchive(t *testing.T) {
	t.Parallel()
	rd := newTestReader(kit.Gzip(t, nil))
	if _, err := rd.Next(); err != io.EOF {
		t.Fatalf("got %v", err)
	}
}

func TestReaderMultistream(t *testing.T) {
	t.Parallel()
	gz := append(kit.GzipLines(t, kit.EventLine("1", "PushEvent", ts)), kit.GzipLines(t, kit.EventLine("2", "PushEvent", ts))...)
	ids, _, err := readAll(t, newTestReader(gz))
	if err != io.EOF || strings.Join(ids, ",") != "1,2" {
		t.Fatalf("ids=%v err=%v", ids, err)
	}
}

func TestReaderCorruptHeaderSurfacesOnNext(t *testing.T) {
	t.Parallel()
	rd := newTestReader([]byte("definitely not gzip"))
	_, err := rd.Next()
	if !perr.IsCode(err, perr.ErrorCodeDecompression) {
		t.Fatalf("got %v", err)
	}
	if _, err2 := rd.Next(); err2 != err {
		t.Fatalf("error must be sticky, got %v", err2)
	}
}

func TestReaderTruncated(t *testing.T) {
	t.Parallel()
	var lines []string
	for i := range 300 {
		lines = append(lines, kit.EventLine(fmt.Sprint(i), "IssuesEvent", ts))
	}
	gz := kit.GzipLines(t, lines...)
	_, _, err := readAll(t, newTestReader(gz[:len(gz)/2]))
	if !perr.IsCode(err, perr.ErrorCodeDecompression) {
		t.Fatalf("got %v", err)
	}
}

func TestReaderChecksumMismatch(t *testing.T) {
	t.Parallel()
	gz := kit.GzipLines(t, kit.EventLine("1", "PushEvent", ts))
	gz[len(gz)-8] ^= 0xff
	_, _, err := readAll(t, newTestReader(gz))
	if !perr.IsCode(err, perr.ErrorCodeDecompression) {
		t.Fatalf("got %v", err)
	}
}

func TestReaderOversizeLineIsRecoverable(t *testing.T) {
	t.Parallel()
	huge := `{"id":"big","type":"PushEvent","created_at":"` + ts + `","payload":{"x":"` + strings.Repeat("x", 5000) + `"}}`
	gz := kit.GzipLines(t, kit.EventLine("1", "PushEvent", ts), huge, kit.EventLine("2", "PushEvent", ts))
	rd := newTestReader(gz, ReaderMaxLine(2048))
	ids, bad, err := readAll(t, rd)
	if err != io.EOF || bad != 1 || strings.Join(ids, ",") != "1,2" {
		t.Fatalf("ids=%v bad=%d err=%v", ids, bad, err)
	}
}

func TestReaderLineLongerThanBuffer(t *testing.T) {
	t.Parallel()
	big := `{"id":"big","type":"PushEvent","created_at":"` + ts + `","payload":{"x":"` + strings.Repeat("y", 3*readBufSize) + `"}}`
	ids, bad, err := readAll(t, newTestReader(kit.GzipLines(t, big)))
	if err != io.EOF || bad != 0 || len(ids) != 1 || ids[0] != "big" {
		t.Fatalf("ids=%v bad=%d err=%v", ids, bad, err)
	}
}

func TestReaderClose(t *testing.T) {
	t.Parallel()
	rd := newTestReader(kit.GzipLines(t, kit.EventLine("1", "PushEvent", ts)))
	if err := rd.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rd.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := rd.Next(); err == nil || err == io.EOF {
		t.Fatalf("next after close: %v", err)
	}
}
