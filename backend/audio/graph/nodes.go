package graph

import (
	"math"
	"math/cmplx"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
)

// Node is a processing stage that pulls from a configurable input.
type Node interface {
	beep.Streamer
	SetInput(s beep.Streamer)
}

func silence(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

// Source pulls a captured MediaElement into the graph. A disconnected
// source renders silence. Sources always fill the whole buffer, padding
// with silence once the element runs dry.
type Source struct {
	ctx       *Context
	el        MediaElement
	connected bool
	released  bool
}

// NewSource captures el for this context. It fails with ErrElementCaptured
// if another source already holds el.
func (c *Context) NewSource(el MediaElement) (*Source, error) {
	if c.State() == Closed {
		return nil, ErrClosed
	}
	if err := el.Capture(); err != nil {
		return nil, err
	}
	return &Source{ctx: c, el: el}, nil
}

func (s *Source) Element() MediaElement {
	return s.el
}

func (s *Source) Connect() {
	s.ctx.lock()
	s.connected = !s.released
	s.ctx.unlock()
}

func (s *Source) Disconnect() {
	s.ctx.lock()
	s.connected = false
	s.ctx.unlock()
}

func (s *Source) Connected() bool {
	s.ctx.lock()
	defer s.ctx.unlock()
	return s.connected
}

// Release disconnects the source and hands the element back to its own
// output. Only the first call has an effect.
func (s *Source) Release() {
	s.ctx.lock()
	s.connected = false
	already := s.released
	s.released = true
	s.ctx.unlock()

	if !already {
		s.el.Release()
	}
}

func (s *Source) Stream(samples [][2]float64) (int, bool) {
	if !s.connected {
		return silence(samples)
	}
	n, _ := s.el.Stream(samples)
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (s *Source) Err() error { return nil }

// PeakingFilter is a second order peaking EQ section using the RBJ audio
// EQ cookbook coefficients. At 0 dB gain it passes audio unchanged.
type PeakingFilter struct {
	ctx  *Context
	in   beep.Streamer
	freq float64
	q    float64
	gain float64

	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     [2]float64
}

func (c *Context) NewPeakingFilter(freq, q float64) *PeakingFilter {
	f := &PeakingFilter{ctx: c, freq: freq, q: q}
	f.computeCoefficients()
	return f
}

func (f *PeakingFilter) SetInput(s beep.Streamer) {
	f.ctx.lock()
	f.in = s
	f.ctx.unlock()
}

func (f *PeakingFilter) Frequency() float64 {
	return f.freq
}

func (f *PeakingFilter) Q() float64 {
	return f.q
}

func (f *PeakingFilter) Gain() float64 {
	f.ctx.lock()
	defer f.ctx.unlock()
	return f.gain
}

// SetGain sets the boost or cut at the centre frequency, in dB.
func (f *PeakingFilter) SetGain(db float64) {
	f.ctx.lock()
	defer f.ctx.unlock()
	if f.gain == db {
		return
	}
	f.gain = db
	f.computeCoefficients()
}

// must be called with the render lock held, or before the filter is shared
func (f *PeakingFilter) computeCoefficients() {
	fs := float64(f.ctx.SampleRate())
	a := math.Pow(10, f.gain/40)
	w0 := 2 * math.Pi * f.freq / fs
	alpha := math.Sin(w0) / (2 * f.q)
	cosw := math.Cos(w0)

	a0 := 1 + alpha/a
	f.b0 = (1 + alpha*a) / a0
	f.b1 = (-2 * cosw) / a0
	f.b2 = (1 - alpha*a) / a0
	f.a1 = (-2 * cosw) / a0
	f.a2 = (1 - alpha/a) / a0
}

// Response returns the magnitude response in dB at hz.
func (f *PeakingFilter) Response(hz float64) float64 {
	f.ctx.lock()
	defer f.ctx.unlock()
	w := 2 * math.Pi * hz / float64(f.ctx.SampleRate())
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	num := complex(f.b0, 0) + complex(f.b1, 0)*z1 + complex(f.b2, 0)*z2
	den := 1 + complex(f.a1, 0)*z1 + complex(f.a2, 0)*z2
	return 20 * math.Log10(cmplx.Abs(num/den))
}

func (f *PeakingFilter) Stream(samples [][2]float64) (int, bool) {
	if f.in == nil {
		return silence(samples)
	}
	n, ok := f.in.Stream(samples)
	for i := range samples[:n] {
		for c := 0; c < 2; c++ {
			x := samples[i][c]
			y := f.b0*x + f.b1*f.x1[c] + f.b2*f.x2[c] - f.a1*f.y1[c] - f.a2*f.y2[c]
			f.x2[c], f.x1[c] = f.x1[c], x
			f.y2[c], f.y1[c] = f.y1[c], y
			samples[i][c] = y
		}
	}
	return n, ok
}

func (f *PeakingFilter) Err() error { return nil }

// Gain scales its input by a linear factor, 1 being unity.
type Gain struct {
	ctx *Context
	fx  effects.Gain
}

func (c *Context) NewGain() *Gain {
	return &Gain{ctx: c}
}

func (g *Gain) SetInput(s beep.Streamer) {
	g.ctx.lock()
	g.fx.Streamer = s
	g.ctx.unlock()
}

func (g *Gain) SetValue(v float64) {
	g.ctx.lock()
	g.fx.Gain = v - 1
	g.ctx.unlock()
}

func (g *Gain) Value() float64 {
	g.ctx.lock()
	defer g.ctx.unlock()
	return g.fx.Gain + 1
}

func (g *Gain) Stream(samples [][2]float64) (int, bool) {
	if g.fx.Streamer == nil {
		return silence(samples)
	}
	return g.fx.Stream(samples)
}

func (g *Gain) Err() error { return nil }
