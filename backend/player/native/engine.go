package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/supersonic-app/audiophile/backend/audio/format"
	"github.com/supersonic-app/audiophile/backend/audio/graph"
	"github.com/supersonic-app/audiophile/backend/util"
)

var ErrNoHost = errors.New("engine has no audio host")

// Engine creates sounds that decode in Go and play on host.
type Engine struct {
	// Cache holds detected formats keyed by path or URL.
	Cache *format.Cache
	// HTTPClient fetches remote sources.
	HTTPClient *retryablehttp.Client

	host     graph.Host
	decoders *decoderRegistry
}

// NewEngine returns an engine with the built-in MP3, WAV, FLAC and Ogg
// Vorbis decoders.
func NewEngine(host graph.Host) (*Engine, error) {
	if host == nil {
		return nil, ErrNoHost
	}
	return &Engine{
		Cache: &format.Cache{
			MinSize:    16,
			MaxSize:    512,
			DefaultTTL: time.Hour,
		},
		HTTPClient: NewHTTPClient(),
		host:       host,
		decoders:   newDecoderRegistry(),
	}, nil
}

// Host is the device sounds play on when not captured by a pipeline.
func (e *Engine) Host() graph.Host {
	return e.host
}

// StartCacheEviction drops expired cache entries every interval until ctx
// is done.
func (e *Engine) StartCacheEviction(ctx context.Context, interval time.Duration) {
	e.Cache.Init(ctx, interval)
}

// RegisterDecoder installs fn for f, replacing any existing decoder.
func (e *Engine) RegisterDecoder(f format.Format, fn DecodeFunc) {
	e.decoders.register(f, fn)
}

// Supports reports whether a decoder is available for info.
func (e *Engine) Supports(info format.Info) bool {
	_, ok := e.decoders.lookup(info)
	return ok
}

// Locked reports whether the audio device has yet to become ready. Play
// fails with ErrPlaybackLocked while it is.
func (e *Engine) Locked() bool {
	select {
	case <-e.host.Ready():
		return false
	default:
		return true
	}
}

// open opens, detects and decodes src into an element.
func (e *Engine) open(ctx context.Context, src string, onEnd func()) (*Element, format.Info, error) {
	r, err := e.openSource(ctx, src)
	if err != nil {
		return nil, format.Info{}, err
	}

	r, info, err := e.detect(r, src)
	if err != nil {
		r.Close()
		return nil, info, err
	}
	if err := ctx.Err(); err != nil {
		r.Close()
		return nil, info, err
	}

	decode, ok := e.decoders.lookup(info)
	if !ok {
		r.Close()
		return nil, info, fmt.Errorf("%w: %s", ErrNoDecoder, info.Format)
	}
	stream, f, err := decode(r, src)
	if err != nil {
		r.Close()
		return nil, info, fmt.Errorf("failed to decode %s: %w", src, err)
	}
	if err := ctx.Err(); err != nil {
		stream.Close()
		return nil, info, err
	}

	el, err := newElement(e.host, stream, f, onEnd)
	if err != nil {
		stream.Close()
		return nil, info, err
	}
	if info.SampleRate == 0 {
		info.SampleRate = int(f.SampleRate)
	}
	return el, info, nil
}

// detect identifies the format of r, consuming nothing from the returned
// reader. Local files are probed in full and cached.
func (e *Engine) detect(r io.ReadCloser, src string) (io.ReadCloser, format.Info, error) {
	if info, err := e.Cache.Get(src); err == nil {
		return r, info, nil
	}

	if !util.IsURL(src) {
		info := format.Probe(src)
		e.Cache.Set(src, info)
		return r, info, nil
	}

	head := make([]byte, format.HeaderSize)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return r, format.Info{}, fmt.Errorf("failed to read header: %w", err)
	}
	head = head[:n]
	info := format.Detect(head, src)
	e.Cache.Set(src, info)

	if s, ok := r.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return r, info, fmt.Errorf("failed to rewind: %w", err)
		}
		return r, info, nil
	}
	return &prefixReader{Reader: io.MultiReader(bytes.NewReader(head), r), c: r}, info, nil
}

// prefixReader replays a consumed header in front of an unseekable body.
type prefixReader struct {
	io.Reader
	c io.Closer
}

func (p *prefixReader) Close() error {
	return p.c.Close()
}
