package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/hashicorp/go-retryablehttp"
)

var ErrNoActiveReader = errors.New("no active reader")

// HTTPSeeker wraps an HTTP URL to provide ReadSeeker interface using HTTP range requests
type HTTPSeeker struct {
	ctx           context.Context
	client        *retryablehttp.Client
	url           string
	contentLength int64
	contentType   string

	mu         sync.Mutex
	currentPos int64
	reader     io.ReadCloser
}

// NewHTTPClient returns the retrying client used for all remote sources.
func NewHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.Logger = nil
	return c
}

// OpenHTTP starts downloading url and picks a reader to match what the
// server offers: an HTTPSeeker when the length is known and ranges are
// supported, a StreamSeeker that buffers the body when only the length is
// known, and a forward-only reader for live streams of unknown length.
func OpenHTTP(ctx context.Context, client *retryablehttp.Client, url string) (io.ReadCloser, error) {
	resp, err := get(ctx, client, url, 0)
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	acceptsRanges := strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")
	switch {
	case resp.ContentLength > 0 && acceptsRanges:
		return &HTTPSeeker{
			ctx:           ctx,
			client:        client,
			url:           url,
			contentLength: resp.ContentLength,
			contentType:   contentType,
			reader:        resp.Body,
		}, nil
	case resp.ContentLength > 0:
		log.Printf("%s does not support range requests, buffering", url)
		return NewStreamSeeker(resp.Body, resp.ContentLength), nil
	default:
		return forwardReader{resp.Body}, nil
	}
}

func get(ctx context.Context, client *retryablehttp.Client, url string, pos int64) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if pos > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", pos))
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if pos > 0 && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("server ignored range request for byte %d", pos)
	}
	return resp, nil
}

// ContentType returns the Content-Type header from the HTTP response
func (hs *HTTPSeeker) ContentType() string {
	return hs.contentType
}

// Len is the total size of the resource in bytes.
func (hs *HTTPSeeker) Len() int64 {
	return hs.contentLength
}

// must be called with hs.mu held
func (hs *HTTPSeeker) openReader(pos int64) error {
	if hs.reader != nil {
		hs.reader.Close()
		hs.reader = nil
	}
	resp, err := get(hs.ctx, hs.client, hs.url, pos)
	if err != nil {
		return err
	}
	hs.reader = resp.Body
	hs.currentPos = pos
	return nil
}

// Read implements io.Reader
func (hs *HTTPSeeker) Read(p []byte) (n int, err error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.reader == nil {
		if hs.currentPos >= hs.contentLength {
			return 0, io.EOF
		}
		return 0, ErrNoActiveReader
	}

	n, err = hs.reader.Read(p)
	hs.currentPos += int64(n)
	return n, err
}

// Seek implements io.Seeker
func (hs *HTTPSeeker) Seek(offset int64, whence int) (int64, error) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = hs.currentPos + offset
	case io.SeekEnd:
		newPos = hs.contentLength + offset
	default:
		return 0, fmt.Errorf("invalid whence: %d", whence)
	}

	if newPos < 0 {
		return 0, fmt.Errorf("negative position")
	}
	if newPos > hs.contentLength {
		newPos = hs.contentLength
	}
	if newPos == hs.currentPos {
		return hs.currentPos, nil
	}

	// a range starting at the end would be rejected with 416
	if newPos == hs.contentLength {
		if hs.reader != nil {
			hs.reader.Close()
			hs.reader = nil
		}
		hs.currentPos = newPos
		return newPos, nil
	}
	if err := hs.openReader(newPos); err != nil {
		return hs.currentPos, err
	}
	return hs.currentPos, nil
}

// Close implements io.Closer
func (hs *HTTPSeeker) Close() error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.reader != nil {
		err := hs.reader.Close()
		hs.reader = nil
		return err
	}
	return nil
}

// forwardReader hides any Seek method of the wrapped body, so decoders
// treat live streams as unseekable instead of scanning them for a length.
type forwardReader struct {
	io.ReadCloser
}
