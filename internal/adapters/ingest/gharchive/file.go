package gharchive

import (
	"context"
	"io"
	"net/url"
	"strings"

	perr "gharchive/internal/platform/errors"

	"github.com/spf13/afero"
)

// FileTransport opens archives from a filesystem
type FileTransport struct {
	Fs afero.Fs
}

// Open opens the file named by id; plain paths and file:// URIs are accepted
func (t *FileTransport) Open(_ context.Context, id ArchiveID) (io.ReadCloser, error) {
	if id.IsHour() {
		return nil, perr.InvalidURIf("file transport cannot resolve hour %s", id.Hour)
	}
	p, err := localPath(id.Locator)
	if err != nil {
		return nil, err
	}
	fs := t.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	fi, err := fs.Stat(p)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeFetchError, "open %s", p)
	}
	if fi.IsDir() {
		return nil, perr.FetchErrf("open %s: is a directory", p)
	}
	f, err := fs.Open(p)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeFetchError, "open %s", p)
	}
	return f, nil
}

// localPath maps a locator to a filesystem path
func localPath(loc string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(loc), "file://") {
		return loc, nil
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", perr.InvalidURIf("malformed file uri %q", loc)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", perr.InvalidURIf("file uri %q names a remote host", loc)
	}
	if u.Path == "" {
		return "", perr.InvalidURIf("file uri %q has no path", loc)
	}
	return u.Path, nil
}
