package gharchive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	perr "gharchive/internal/platform/errors"
	"gharchive/internal/platform/logger"

	"github.com/klauspost/compress/gzip"
)

const (
	// DefaultMaxLineBytes caps one event line; huge push payloads run to several MB
	DefaultMaxLineBytes = 32 * 1024 * 1024
	readBufSize         = 512 * 1024
	sampleRawMax        = 2048 // max bytes of raw JSON to log for the sample
)

var errLineTooLong = errors.New("line too long")

// Reader streams events out of one gzip archive
// Decompression starts on the first Next, so a corrupt header surfaces there and not at construction
type Reader struct {
	src     io.ReadCloser
	zr      *gzip.Reader
	br      *bufio.Reader
	buf     []byte
	maxLine int
	log     *logger.Logger

	line    int   // number of the last framed line
	events  int64 // events decoded
	bad     int64 // lines rejected
	bytes   int64 // uncompressed bytes framed
	sampled bool  // logs exactly one sample raw line per archive
	err     error // sticky terminal error, io.EOF at the end
	closed  bool
}

// ReaderOption configures a Reader
type ReaderOption func(*Reader)

// ReaderMaxLine caps the size of a single line
func ReaderMaxLine(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.maxLine = n
		}
	}
}

// ReaderLogger sets the logger used for the raw line sample
func ReaderLogger(l *logger.Logger) ReaderOption {
	return func(r *Reader) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReader wraps a compressed byte stream; the Reader owns src from here on
func NewReader(src io.ReadCloser, opts ...ReaderOption) *Reader {
	rd := &Reader{src: src, maxLine: DefaultMaxLineBytes}
	for _, o := range opts {
		o(rd)
	}
	if rd.log == nil {
		rd.log = logger.Named("gharchive")
	}
	return rd
}

// Next returns the next event, io.EOF when the archive is done
// A *LineError wrapped as EventDecode is recoverable; the following call continues with the next line
// Any other error is terminal and returned again by every later call
func (rd *Reader) Next() (Event, error) {
	if rd.err != nil {
		return Event{}, rd.err
	}
	if rd.zr == nil {
		zr, err := gzip.NewReader(rd.src)
		if err != nil {
			rd.err = rd.classify(err)
			return Event{}, rd.err
		}
		rd.zr = zr
		rd.br = bufio.NewReaderSize(zr, readBufSize)
	}
	for {
		line, err := rd.readLine()
		switch {
		case err == nil:
		case errors.Is(err, errLineTooLong):
			rd.bad++
			return Event{}, lineError(rd.line, line, fmt.Errorf("line exceeds %d bytes", rd.maxLine))
		case err == io.EOF:
			rd.err = io.EOF
			return Event{}, io.EOF
		default:
			rd.err = rd.classify(err)
			return Event{}, rd.err
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, derr := DecodeEvent(line)
		if derr != nil {
			rd.bad++
			return Event{}, lineError(rd.line, line, derr)
		}
		rd.events++

		if !rd.sampled {
			rd.sampled = true
			rd.log.Debug().
				Int("line_bytes", len(line)).
				Str("sample_raw", truncateUTF8(line, sampleRawMax)).
				Msg("gharchive: sample raw line")
		}
		return ev, nil
	}
}

// readLine frames one line; the returned slice is valid until the next call
// A final fragment without newline counts as a line when non-empty
func (rd *Reader) readLine() ([]byte, error) {
	rd.buf = rd.buf[:0]
	overflow := false
	for {
		frag, err := rd.br.ReadSlice('\n')
		rd.bytes += int64(len(frag))
		if !overflow {
			if len(rd.buf)+len(frag) > rd.maxLine+1 {
				overflow = true
				room := min(len(frag), 2*snippetMax)
				rd.buf = append(rd.buf, frag[:room]...)
			} else {
				rd.buf = append(rd.buf, frag...)
			}
		}
		switch {
		case err == nil:
			rd.line++
			if overflow {
				return rd.buf, errLineTooLong
			}
			return trimEOL(rd.buf), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == io.EOF:
			if len(rd.buf) == 0 {
				return nil, io.EOF
			}
			rd.line++
			if overflow {
				return rd.buf, errLineTooLong
			}
			return trimEOL(rd.buf), nil
		default:
			return nil, err
		}
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

// classify separates transport failures from corrupt or truncated gzip data
func (rd *Reader) classify(err error) error {
	if g, ok := rd.src.(interface{ Err() error }); ok {
		if serr := g.Err(); serr != nil {
			return serr
		}
	}
	if _, ok := perr.As(err); ok {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return perr.Wrap(io.ErrUnexpectedEOF, perr.ErrorCodeDecompression, "truncated archive")
	}
	return perr.Wrap(err, perr.ErrorCodeDecompression, "corrupt archive")
}

// Stats returns events decoded, lines rejected and uncompressed bytes framed so far
func (rd *Reader) Stats() (events, rejected, uncompressed int64) {
	return rd.events, rd.bad, rd.bytes
}

// Close releases the gzip state and the underlying stream; safe to call twice
func (rd *Reader) Close() error {
	if rd.closed {
		return nil
	}
	rd.closed = true
	if rd.err == nil {
		rd.err = perr.New(perr.ErrorCodeCanceled, "reader closed")
	}
	var first error
	if rd.zr != nil {
		if err := rd.zr.Close(); err != nil {
			first = err
		}
	}
	if err := rd.src.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
