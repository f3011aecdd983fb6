// Package audiotest provides in-memory stand-ins for the audio device and
// media elements so graph and pipeline code can be tested without sound
// hardware.
package audiotest

import (
	"io"
	"sync"

	"github.com/gopxl/beep"
	"github.com/supersonic-app/audiophile/backend/audio/graph"
)

// Host is a graph.Host whose outputs are only pulled when a test asks.
type Host struct {
	Rate beep.SampleRate
	// OutputErr, if set, is returned by NewOutput.
	OutputErr error

	mu      sync.Mutex
	outputs []*Output
	ready   chan struct{}
	once    sync.Once
	holds   int
}

// NewHost returns a host at rate whose Ready channel is already closed.
func NewHost(rate beep.SampleRate) *Host {
	h := NewLockedHost(rate)
	h.Unlock()
	return h
}

// NewLockedHost returns a host that stays locked until Unlock is called.
func NewLockedHost(rate beep.SampleRate) *Host {
	return &Host{Rate: rate, ready: make(chan struct{})}
}

func (h *Host) SampleRate() beep.SampleRate { return h.Rate }

func (h *Host) Ready() <-chan struct{} { return h.ready }

// Unlock closes the Ready channel.
func (h *Host) Unlock() {
	h.once.Do(func() { close(h.ready) })
}

func (h *Host) NewOutput(r io.Reader) (graph.Output, error) {
	if h.OutputErr != nil {
		return nil, h.OutputErr
	}
	o := &Output{r: r}
	h.mu.Lock()
	h.outputs = append(h.outputs, o)
	h.mu.Unlock()
	return o, nil
}

// Outputs returns every output created so far.
func (h *Host) Outputs() []*Output {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Output(nil), h.outputs...)
}

func (h *Host) Hold() {
	h.mu.Lock()
	h.holds++
	h.mu.Unlock()
}

func (h *Host) Unhold() {
	h.mu.Lock()
	h.holds--
	h.mu.Unlock()
}

// Holds is the number of outstanding Hold calls.
func (h *Host) Holds() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.holds
}

// Output records play state and lets tests pull rendered frames.
type Output struct {
	r io.Reader

	mu      sync.Mutex
	playing bool
	closed  bool
}

func (o *Output) Play() {
	o.mu.Lock()
	if !o.closed {
		o.playing = true
	}
	o.mu.Unlock()
}

func (o *Output) Pause() {
	o.mu.Lock()
	o.playing = false
	o.mu.Unlock()
}

func (o *Output) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.playing
}

func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	o.playing = false
	o.mu.Unlock()
	return nil
}

func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Pull reads frames stereo frames from the output's source, the way the
// device would, and decodes them.
func (o *Output) Pull(frames int) ([][2]float64, error) {
	buf := make([]byte, frames*graph.BytesPerFrame)
	n, err := io.ReadFull(o.r, buf)
	return graph.DecodeFloat32LE(buf[:n]), err
}

// Element is a graph.MediaElement producing a constant sample value.
type Element struct {
	Value float64
	// Length is the number of frames before the element runs dry; zero
	// means endless.
	Length int

	id       string
	mu       sync.Mutex
	pos      int
	captured bool
	releases int
}

func NewElement(id string, value float64) *Element {
	return &Element{id: id, Value: value}
}

func (e *Element) ID() string { return e.id }

func (e *Element) Capture() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.captured {
		return graph.ErrElementCaptured
	}
	e.captured = true
	return nil
}

func (e *Element) Release() {
	e.mu.Lock()
	e.captured = false
	e.releases++
	e.mu.Unlock()
}

func (e *Element) Captured() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.captured
}

// Releases counts Release calls.
func (e *Element) Releases() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.releases
}

func (e *Element) Stream(samples [][2]float64) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(samples)
	if e.Length > 0 {
		if e.pos >= e.Length {
			return 0, false
		}
		n = min(n, e.Length-e.pos)
	}
	for i := range samples[:n] {
		samples[i] = [2]float64{e.Value, e.Value}
	}
	e.pos += n
	return n, true
}

func (e *Element) Err() error { return nil }
