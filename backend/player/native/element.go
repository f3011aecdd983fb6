package native

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/supersonic-app/audiophile/backend/audio/graph"
)

// resampleQuality is passed to beep.Resample; 4 is beep's recommended
// quality for music.
const resampleQuality = 4

// Element is a decoded track as a playable media element. It plays through
// an output of its own until a pipeline captures it, and from then on only
// produces samples when the pipeline pulls them.
type Element struct {
	id     string
	host   graph.Host
	stream beep.StreamSeekCloser
	format beep.Format
	out    graph.Output
	onEnd  func()

	opMu    sync.Mutex // serializes output operations
	holding bool       // guarded by opMu

	mu       sync.Mutex
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	vol      float64
	playing  bool
	captured bool
	ended    bool
	closed   bool
}

var _ graph.MediaElement = (*Element)(nil)

func newElement(host graph.Host, stream beep.StreamSeekCloser, f beep.Format, onEnd func()) (*Element, error) {
	el := &Element{
		id:     uuid.NewString(),
		host:   host,
		stream: stream,
		format: f,
		onEnd:  onEnd,
		vol:    1,
		ctrl:   &beep.Ctrl{Paused: true},
	}
	el.volume = &effects.Volume{Streamer: el.ctrl, Base: 2}
	el.resetChain()

	out, err := host.NewOutput(graph.NewStreamReader(el))
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	el.out = out
	return el, nil
}

// must be called with el.mu held
func (el *Element) resetChain() {
	var s beep.Streamer = el.stream
	if rate := el.host.SampleRate(); el.format.SampleRate != rate {
		s = beep.Resample(resampleQuality, el.format.SampleRate, rate, s)
	}
	el.ctrl.Streamer = s
}

func (el *Element) ID() string {
	return el.id
}

// Format is the format of the decoded stream before resampling.
func (el *Element) Format() beep.Format {
	return el.format
}

func (el *Element) Stream(samples [][2]float64) (int, bool) {
	el.mu.Lock()
	if el.ended || el.closed {
		el.mu.Unlock()
		return 0, false
	}
	n, ok := el.volume.Stream(samples)
	if el.ctrl.Paused {
		el.mu.Unlock()
		return n, ok
	}
	ended := !ok || n < len(samples)
	if ended {
		el.ended = true
		el.playing = false
		// stays paused until Play, so a Seek after the end is silent
		el.ctrl.Paused = true
		if err := el.stream.Err(); err != nil {
			log.Printf("element %s: decode error: %v", el.id, err)
		}
	}
	el.mu.Unlock()

	if ended {
		go el.finish()
	}
	return n, n > 0
}

func (el *Element) Err() error {
	return el.stream.Err()
}

func (el *Element) finish() {
	el.opMu.Lock()
	el.mu.Lock()
	// a Play may have restarted the element in the meantime
	restarted := el.playing
	el.mu.Unlock()
	if !restarted {
		el.stopDirect()
	}
	el.opMu.Unlock()
	if !restarted && el.onEnd != nil {
		el.onEnd()
	}
}

// Play starts or resumes playback. An element that played to the end
// starts over.
func (el *Element) Play() {
	el.opMu.Lock()
	defer el.opMu.Unlock()

	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return
	}
	if el.ended {
		if err := el.stream.Seek(0); err != nil {
			log.Printf("element %s: rewind failed: %v", el.id, err)
		}
		el.resetChain()
		el.ended = false
	}
	el.playing = true
	el.ctrl.Paused = false
	direct := !el.captured
	el.mu.Unlock()

	if direct {
		el.startDirect()
	}
}

func (el *Element) Pause() {
	el.opMu.Lock()
	defer el.opMu.Unlock()

	el.mu.Lock()
	el.playing = false
	el.ctrl.Paused = true
	el.mu.Unlock()

	el.stopDirect()
}

func (el *Element) Playing() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.playing
}

// Capture stops the element's own output so that only a graph source
// pulls from it.
func (el *Element) Capture() error {
	el.opMu.Lock()
	defer el.opMu.Unlock()

	el.mu.Lock()
	if el.captured {
		el.mu.Unlock()
		return graph.ErrElementCaptured
	}
	if el.closed {
		el.mu.Unlock()
		return ErrUnloaded
	}
	el.captured = true
	el.mu.Unlock()

	el.stopDirect()
	return nil
}

// Release hands the element back to its own output, resuming it there if
// it is playing.
func (el *Element) Release() {
	el.opMu.Lock()
	defer el.opMu.Unlock()

	el.mu.Lock()
	if !el.captured {
		el.mu.Unlock()
		return
	}
	el.captured = false
	playing := el.playing && !el.closed
	el.mu.Unlock()

	if playing {
		el.startDirect()
	}
}

func (el *Element) Captured() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.captured
}

// must be called with el.opMu held
func (el *Element) startDirect() {
	el.out.Play()
	if !el.holding {
		if h, ok := el.host.(graph.Holder); ok {
			h.Hold()
		}
		el.holding = true
	}
}

// must be called with el.opMu held
func (el *Element) stopDirect() {
	el.out.Pause()
	if el.holding {
		if h, ok := el.host.(graph.Holder); ok {
			h.Unhold()
		}
		el.holding = false
	}
}

// Seek moves the play position, clamped to the stream.
func (el *Element) Seek(d time.Duration) error {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.closed {
		return ErrUnloaded
	}
	n := el.format.SampleRate.N(d)
	n = max(0, min(n, el.stream.Len()))
	if err := el.stream.Seek(n); err != nil {
		return fmt.Errorf("seek failed: %w", err)
	}
	el.resetChain()
	el.ended = false
	return nil
}

func (el *Element) Position() time.Duration {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.format.SampleRate.D(el.stream.Position())
}

// Duration is the stream length, or 0 for streams of unknown length.
func (el *Element) Duration() time.Duration {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.format.SampleRate.D(max(0, el.stream.Len()))
}

// SetVolume sets the element's linear volume, clamped to [0, 1].
func (el *Element) SetVolume(v float64) {
	v = max(0, min(v, 1))
	el.mu.Lock()
	defer el.mu.Unlock()
	el.vol = v
	el.volume.Silent = v == 0
	if v > 0 {
		el.volume.Volume = math.Log2(v)
	}
}

func (el *Element) Volume() float64 {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.vol
}

// Close stops playback and releases the output and decoder.
func (el *Element) Close() error {
	el.opMu.Lock()
	defer el.opMu.Unlock()

	el.mu.Lock()
	if el.closed {
		el.mu.Unlock()
		return nil
	}
	el.closed = true
	el.playing = false
	el.mu.Unlock()

	el.stopDirect()
	if err := el.out.Close(); err != nil {
		log.Printf("element %s: error closing output: %v", el.id, err)
	}
	return el.stream.Close()
}
