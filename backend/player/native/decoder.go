package native

import (
	"errors"
	"io"
	"sync"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
	"github.com/supersonic-app/audiophile/backend/audio/format"
)

var ErrNoDecoder = errors.New("no suitable decoder found for file")

// DecodeFunc turns an opened source into a seekable PCM stream. src is the
// path or URL the reader was opened from, for decoders that prefer to open
// it themselves. A decoder may or may not close r when it fails; the
// caller closes it again in that case.
type DecodeFunc func(r io.ReadCloser, src string) (beep.StreamSeekCloser, beep.Format, error)

// SupportedFormats lists the formats with a built-in pure Go decoder.
var SupportedFormats = []format.Format{format.MP3, format.WAV, format.FLAC, format.OGG}

type decoderRegistry struct {
	mu       sync.RWMutex
	decoders map[format.Format]DecodeFunc
}

func newDecoderRegistry() *decoderRegistry {
	return &decoderRegistry{
		decoders: map[format.Format]DecodeFunc{
			format.MP3: func(r io.ReadCloser, _ string) (beep.StreamSeekCloser, beep.Format, error) {
				return mp3.Decode(r)
			},
			format.WAV: func(r io.ReadCloser, _ string) (beep.StreamSeekCloser, beep.Format, error) {
				return closing(wav.Decode(r))(r)
			},
			format.FLAC: func(r io.ReadCloser, _ string) (beep.StreamSeekCloser, beep.Format, error) {
				return closing(flac.Decode(r))(r)
			},
			format.OGG: func(r io.ReadCloser, _ string) (beep.StreamSeekCloser, beep.Format, error) {
				return vorbis.Decode(r)
			},
		},
	}
}

func (d *decoderRegistry) register(f format.Format, fn DecodeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decoders[f] = fn
}

// lookup picks the decoder for a detected format. Ogg streams carrying
// Opus use the Opus decoder; unknown input is tried as MP3, matching the
// detector's audio/mpeg default.
func (d *decoderRegistry) lookup(info format.Info) (DecodeFunc, bool) {
	f := info.Format
	switch {
	case f == format.OGG && info.Codec == "Opus":
		f = format.Opus
	case f == format.Unknown:
		f = format.MP3
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn, ok := d.decoders[f]
	return fn, ok
}

// closing makes sure the source reader is closed along with a decoder that
// only took an io.Reader.
func closing(s beep.StreamSeekCloser, f beep.Format, err error) func(io.Closer) (beep.StreamSeekCloser, beep.Format, error) {
	return func(c io.Closer) (beep.StreamSeekCloser, beep.Format, error) {
		if err != nil {
			return nil, f, err
		}
		return &closeBoth{StreamSeekCloser: s, c: c}, f, nil
	}
}

type closeBoth struct {
	beep.StreamSeekCloser
	c io.Closer
}

// Close closes the decoder, then the source. Some decoders already close
// the source themselves, so the second error is dropped.
func (cb *closeBoth) Close() error {
	err := cb.StreamSeekCloser.Close()
	cb.c.Close()
	return err
}
