// Package fetcher retrieves dataset files from local paths, HTTP(S) and FTP,
// and streams CSV and XLSX rows out of them.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures a Client.
type Options struct {
	HTTP HTTPOptions
	FTP  FTPOptions
	// TempDir receives downloaded files. Empty means os.TempDir().
	TempDir string
}

// Client resolves dataset locations to local files.
type Client struct {
	http    Fetcher
	ftp     Fetcher
	tempDir string
}

// New creates a Client with HTTP and FTP fetchers built from opts.
func New(opts Options) *Client {
	return &Client{
		http:    NewHTTPFetcher(opts.HTTP),
		ftp:     NewFTPFetcher(opts.FTP),
		tempDir: opts.TempDir,
	}
}

// IsRemote reports whether location is an http, https or ftp URL.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return true
	default:
		return false
	}
}

// Localize returns a local path for location. Local paths are returned as is;
// remote URLs are downloaded into a temporary file that keeps the remote file
// extension, so format detection by extension still works. The returned
// cleanup removes any temporary file and is never nil.
func (c *Client) Localize(ctx context.Context, location string) (string, func(), error) {
	noop := func() {}
	if !IsRemote(location) {
		return strings.TrimPrefix(location, "file://"), noop, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", noop, eris.Wrap(err, "fetcher: parse location")
	}

	var f Fetcher
	switch strings.ToLower(u.Scheme) {
	case "ftp":
		f = c.ftp
	default:
		f = c.http
	}

	body, err := f.Download(ctx, location)
	if err != nil {
		return "", noop, eris.Wrapf(err, "fetcher: download %s", location)
	}
	defer body.Close() //nolint:errcheck

	file, err := os.CreateTemp(c.tempDir, "feature-*"+path.Ext(u.Path))
	if err != nil {
		return "", noop, eris.Wrap(err, "fetcher: create temp file")
	}
	cleanup := func() { _ = os.Remove(file.Name()) }

	n, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", noop, eris.Wrap(err, "fetcher: write temp file")
	}

	zap.L().Debug("fetcher: downloaded",
		zap.String("location", location),
		zap.String("path", filepath.Base(file.Name())),
		zap.Int64("bytes", n),
	)
	return file.Name(), cleanup, nil
}
