package gharchive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	perr "gharchive/internal/platform/errors"

	"github.com/spf13/afero"
)

// Transport opens the raw (still compressed) byte stream of one archive
// The context bounds the open only; the returned stream outlives it and is released by Close
type Transport interface {
	Open(ctx context.Context, id ArchiveID) (io.ReadCloser, error)
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, id ArchiveID) (io.ReadCloser, error)

// Open calls f
func (f TransportFunc) Open(ctx context.Context, id ArchiveID) (io.ReadCloser, error) {
	return f(ctx, id)
}

// StatusError is a non-2xx answer from an archive host
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Temporary reports whether retrying the same request later may succeed
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// HTTPTransport fetches archives over HTTP(S)
// It sets no client timeout; open and idle bounds come from the cursor
type HTTPTransport struct {
	Client    *http.Client
	BaseURL   string
	UserAgent string
}

// NewHTTPTransport creates a transport resolving hour ids against baseURL
func NewHTTPTransport(baseURL, userAgent string) *HTTPTransport {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPTransport{Client: &http.Client{}, BaseURL: baseURL, UserAgent: userAgent}
}

// Open returns the response body of the archive
func (t *HTTPTransport) Open(ctx context.Context, id ArchiveID) (io.ReadCloser, error) {
	u := id.URL(t.BaseURL)
	resp, err := t.get(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, perr.Wrapf(&StatusError{URL: u, Code: resp.StatusCode}, perr.ErrorCodeFetchError, "fetch %s", id)
	}
	return resp.Body, nil
}

// get issues a GET whose body survives ctx
// ctx cancels the request only until headers arrive; afterwards the body is released by Close
func (t *HTTPTransport) get(ctx context.Context, u string, hdr http.Header) (*http.Response, error) {
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		stop()
		cancel()
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidURI, "build request for %s", u)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if !stop() || err != nil {
		cancel()
		if resp != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			err = context.Cause(ctx)
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeFetchError, "get %s", u)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose cancels the request before closing so a stalled read unblocks
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

// Router picks a transport by id kind
// Hours go to Hours, http(s) URIs to HTTP, s3 URIs to S3 and everything else to Files
type Router struct {
	Hours Transport
	HTTP  Transport
	S3    Transport
	Files Transport
}

// NewRouter wires the default HTTP and local file transports
// S3 stays nil until configured
func NewRouter(baseURL, userAgent string) *Router {
	h := NewHTTPTransport(baseURL, userAgent)
	return &Router{
		Hours: h,
		HTTP:  h,
		Files: &FileTransport{Fs: afero.NewOsFs()},
	}
}

// Open dispatches to the transport serving id
func (r *Router) Open(ctx context.Context, id ArchiveID) (io.ReadCloser, error) {
	var (
		t    Transport
		kind string
	)
	switch {
	case id.IsHour():
		t, kind = r.Hours, "hour"
	default:
		switch schemeOf(id.Locator) {
		case "http", "https":
			t, kind = r.HTTP, "http"
		case "s3":
			t, kind = r.S3, "s3"
		default:
			t, kind = r.Files, "file"
		}
	}
	if t == nil {
		return nil, perr.InvalidURIf("no %s transport configured for %s", kind, id)
	}
	return t.Open(ctx, id)
}

// schemeOf returns the lowercased URI scheme, or "" for plain paths
func schemeOf(loc string) string {
	i := strings.Index(loc, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(loc[:i])
}

// ValidateLocator checks the shape of an explicit archive locator; it does no I/O
func ValidateLocator(loc string) error {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return perr.InvalidURIf("empty archive locator")
	}
	switch schemeOf(loc) {
	case "":
		return nil
	case "http", "https":
		u, err := url.Parse(loc)
		if err != nil || u.Host == "" {
			return perr.InvalidURIf("malformed archive url %q", loc)
		}
	case "s3":
		if _, _, err := splitS3(loc); err != nil {
			return err
		}
	case "file":
		if _, err := localPath(loc); err != nil {
			return err
		}
	default:
		return perr.InvalidURIf("unsupported scheme in %q", loc)
	}
	return nil
}
