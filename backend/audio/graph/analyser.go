package graph

import (
	"math"
	"sync"

	"github.com/gopxl/beep"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser is a pass-through tap that keeps the last FFTSize mono samples
// and computes byte-scaled spectrum and waveform snapshots on demand.
type Analyser struct {
	ctx  *Context
	in   beep.Streamer
	ring []float64
	pos  int

	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64

	mu       sync.Mutex // guards the FFT state below
	fft      *fourier.FFT
	window   []float64
	smoothed []float64
}

// NewAnalyser creates an analyser. fftSize must be a power of two; other
// values fall back to DefaultFFTSize.
func (c *Context) NewAnalyser(fftSize int) *Analyser {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		fftSize = DefaultFFTSize
	}
	window := make([]float64, fftSize)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(fftSize)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return &Analyser{
		ctx:         c,
		ring:        make([]float64, fftSize),
		Smoothing:   DefaultSmoothing,
		MinDecibels: DefaultMinDecibels,
		MaxDecibels: DefaultMaxDecibels,
		fft:         fourier.NewFFT(fftSize),
		window:      window,
		smoothed:    make([]float64, fftSize/2),
	}
}

func (a *Analyser) SetInput(s beep.Streamer) {
	a.ctx.lock()
	a.in = s
	a.ctx.unlock()
}

func (a *Analyser) FFTSize() int {
	return len(a.ring)
}

func (a *Analyser) FrequencyBinCount() int {
	return len(a.ring) / 2
}

func (a *Analyser) Stream(samples [][2]float64) (int, bool) {
	if a.in == nil {
		return silence(samples)
	}
	n, ok := a.in.Stream(samples)
	for _, s := range samples[:n] {
		a.ring[a.pos] = (s[0] + s[1]) / 2
		a.pos = (a.pos + 1) % len(a.ring)
	}
	return n, ok
}

func (a *Analyser) Err() error { return nil }

// snapshot returns the buffered samples, oldest first.
func (a *Analyser) snapshot() []float64 {
	a.ctx.lock()
	defer a.ctx.unlock()
	out := make([]float64, len(a.ring))
	copy(out, a.ring[a.pos:])
	copy(out[len(a.ring)-a.pos:], a.ring[:a.pos])
	return out
}

// FloatFrequencyData returns the smoothed spectrum in dB, one value per
// frequency bin. Each call advances the smoothing.
func (a *Analyser) FloatFrequencyData() []float64 {
	frame := a.snapshot()

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(frame)
	for i := range frame {
		frame[i] *= a.window[i]
	}
	coeffs := a.fft.Coefficients(nil, frame)

	out := make([]float64, len(a.smoothed))
	for k := range a.smoothed {
		mag := math.Hypot(real(coeffs[k]), imag(coeffs[k])) / float64(n)
		a.smoothed[k] = a.Smoothing*a.smoothed[k] + (1-a.Smoothing)*mag
		if a.smoothed[k] > 0 {
			out[k] = 20 * math.Log10(a.smoothed[k])
		} else {
			out[k] = math.Inf(-1)
		}
	}
	return out
}

// FrequencyData returns the spectrum scaled so that MinDecibels maps to 0
// and MaxDecibels to 255.
func (a *Analyser) FrequencyData() []byte {
	db := a.FloatFrequencyData()
	out := make([]byte, len(db))
	span := a.MaxDecibels - a.MinDecibels
	for i, v := range db {
		scaled := math.Floor(255 / span * (v - a.MinDecibels))
		out[i] = clampByte(scaled)
	}
	return out
}

// TimeDomainData returns the current waveform with 128 as the zero line.
func (a *Analyser) TimeDomainData() []byte {
	frame := a.snapshot()
	out := make([]byte, len(frame))
	for i, v := range frame {
		out[i] = clampByte(math.Floor(128 * (1 + v)))
	}
	return out
}

func clampByte(v float64) byte {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return byte(v)
	}
}
