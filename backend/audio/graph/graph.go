// Package graph is a small pull-based audio processing graph. A Context owns
// one Output on the host device and renders its input chain into it; nodes
// are beep streamers whose parameters may change while audio is flowing.
package graph

import (
	"errors"
	"io"

	"github.com/gopxl/beep"
)

var (
	ErrClosed          = errors.New("audio context closed")
	ErrElementCaptured = errors.New("media element already routed into a graph")
	ErrNoHost          = errors.New("no audio host")
)

// Host is the audio output device. All outputs it creates run at
// SampleRate, as interleaved stereo float32 little-endian.
type Host interface {
	SampleRate() beep.SampleRate
	NewOutput(r io.Reader) (Output, error)
	// Ready is closed once the device may produce sound.
	Ready() <-chan struct{}
}

// Holder is implemented by hosts that can suspend the device while nothing
// is playing. Hold and Unhold calls are balanced by their callers.
type Holder interface {
	Hold()
	Unhold()
}

// Output is a single playback stream on the host. *oto.Player satisfies it.
type Output interface {
	Play()
	Pause()
	IsPlaying() bool
	Close() error
}

// MediaElement is a playable stream that normally plays straight to the
// host. Capture reroutes it so that only a graph Source pulls its samples;
// Release gives it back its own output. An element can be captured by at
// most one source at a time.
type MediaElement interface {
	beep.Streamer
	ID() string
	Capture() error
	Release()
}

type State int

const (
	Suspended State = iota
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

func hold(h Host) {
	if hd, ok := h.(Holder); ok {
		hd.Hold()
	}
}

func unhold(h Host) {
	if hd, ok := h.(Holder); ok {
		hd.Unhold()
	}
}
