// Package pipeline implements the audiophile processing chain and the pool
// of chains kept per playback context.
package pipeline

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/supersonic-app/audiophile/backend/audio/graph"
	"github.com/supersonic-app/audiophile/backend/util"
)

const (
	NumBands    = 10
	BandQ       = 1.0
	MaxBandGain = 12.0

	// a frequency addresses a band if it is this close to the centre
	frequencyTolerance = 5.0
)

// BandFrequencies are the ISO octave centres of the EQ bands, in Hz.
var BandFrequencies = [NumBands]float64{31, 62, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

var (
	ErrDisposed        = errors.New("pipeline disposed")
	ErrSampleRateFixed = errors.New("sample rate is fixed for the lifetime of the audio device")
	ErrUnknownPreset   = errors.New("unknown EQ preset")
)

// Pipeline is one processing graph:
//
//	source → 10 peaking EQ bands → compressor → master gain → analyser → output
//
// It is bound to at most one media element at a time.
type Pipeline struct {
	key      string
	ctx      *graph.Context
	bands    [NumBands]*graph.PeakingFilter
	comp     *graph.Compressor
	gain     *graph.Gain
	analyser *graph.Analyser

	mu       sync.Mutex // guards source and disposed
	source   *graph.Source
	disposed bool
}

// New builds a pipeline rendering to its own output on host. The chain is
// wired but silent until an element is bound with Initialize.
func New(key string, host graph.Host) (*Pipeline, error) {
	ctx, err := graph.NewContext(host)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context for %s: %w", key, err)
	}

	p := &Pipeline{key: key, ctx: ctx}
	var prev graph.Node
	for i, freq := range BandFrequencies {
		band := ctx.NewPeakingFilter(freq, BandQ)
		if prev != nil {
			band.SetInput(prev)
		}
		p.bands[i] = band
		prev = band
	}
	p.comp = ctx.NewCompressor(graph.DefaultCompressorParams)
	p.comp.SetInput(prev)
	p.gain = ctx.NewGain()
	p.gain.SetInput(p.comp)
	p.analyser = ctx.NewAnalyser(graph.DefaultFFTSize)
	p.analyser.SetInput(p.gain)
	ctx.SetInput(p.analyser)

	log.Printf("audio pipeline %s initialized: %d Hz, fft %d, %d EQ bands",
		key, ctx.SampleRate(), p.analyser.FFTSize(), NumBands)
	return p, nil
}

func (p *Pipeline) Key() string {
	return p.key
}

// Initialize binds el as the pipeline's source. Binding the element that is
// already bound does nothing; binding a different one first disconnects and
// releases the previous element.
func (p *Pipeline) Initialize(el graph.MediaElement) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return ErrDisposed
	}
	if p.source != nil && p.source.Element().ID() == el.ID() {
		return nil
	}
	p.releaseSource()

	src, err := p.ctx.NewSource(el)
	if err != nil {
		return fmt.Errorf("failed to bind element %s to pipeline %s: %w", el.ID(), p.key, err)
	}
	p.bands[0].SetInput(src)
	src.Connect()
	p.source = src
	return nil
}

// Unbind disconnects and releases the bound element, if any. The pipeline
// stays usable.
func (p *Pipeline) Unbind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseSource()
}

// must be called with p.mu held
func (p *Pipeline) releaseSource() {
	if p.source == nil {
		return
	}
	p.bands[0].SetInput(nil)
	p.source.Release()
	p.source = nil
}

// Element returns the bound element, or nil.
func (p *Pipeline) Element() graph.MediaElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source == nil {
		return nil
	}
	return p.source.Element()
}

// Resume starts the output. It is safe to call on a running pipeline.
func (p *Pipeline) Resume() error {
	if err := p.ctx.Resume(); err != nil {
		return fmt.Errorf("failed to resume pipeline %s: %w", p.key, err)
	}
	return nil
}

// Suspend pauses the output, keeping the binding and settings.
func (p *Pipeline) Suspend() error {
	if err := p.ctx.Suspend(); err != nil {
		return fmt.Errorf("failed to suspend pipeline %s: %w", p.key, err)
	}
	return nil
}

func (p *Pipeline) State() graph.State {
	return p.ctx.State()
}

// SetVolume sets the master gain, clamped to [0, 1].
func (p *Pipeline) SetVolume(v float64) {
	p.gain.SetValue(util.Clamp(v, 0, 1))
}

func (p *Pipeline) Volume() float64 {
	return p.gain.Value()
}

// SetEQBand sets band i to gain dB, clamped to ±MaxBandGain. Out of range
// indices are ignored.
func (p *Pipeline) SetEQBand(i int, gain float64) {
	if i < 0 || i >= NumBands || math.IsNaN(gain) {
		return
	}
	p.bands[i].SetGain(util.Clamp(gain, -MaxBandGain, MaxBandGain))
}

// SetEQFrequency sets the band centred within 5 Hz of hz. It reports
// whether such a band exists.
func (p *Pipeline) SetEQFrequency(hz, gain float64) bool {
	for i, f := range BandFrequencies {
		if math.Abs(f-hz) < frequencyTolerance {
			p.SetEQBand(i, gain)
			return true
		}
	}
	return false
}

// SetEQBands sets all bands at once. Slices that are not exactly NumBands
// long are logged and ignored.
func (p *Pipeline) SetEQBands(gains []float64) {
	if len(gains) != NumBands {
		log.Printf("pipeline %s: expected %d EQ bands, got %d", p.key, NumBands, len(gains))
		return
	}
	for i, g := range gains {
		p.SetEQBand(i, g)
	}
}

// EQBands returns the current band gains in dB.
func (p *Pipeline) EQBands() []float64 {
	gains := make([]float64, NumBands)
	for i, b := range p.bands {
		gains[i] = b.Gain()
	}
	return gains
}

// ApplyPreset sets the bands from a named preset.
func (p *Pipeline) ApplyPreset(name string) error {
	preset, ok := FindPreset(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	p.SetEQBands(preset.Bands[:])
	return nil
}

func (p *Pipeline) SetCompressorEnabled(enabled bool) {
	p.comp.SetEnabled(enabled)
}

func (p *Pipeline) CompressorEnabled() bool {
	return p.comp.Enabled()
}

// FrequencyData returns the byte-scaled spectrum, one value per bin.
func (p *Pipeline) FrequencyData() []byte {
	return p.analyser.FrequencyData()
}

// TimeDomainData returns the most recent FrequencyBinCount waveform
// samples, 128 being silence.
func (p *Pipeline) TimeDomainData() []byte {
	wave := p.analyser.TimeDomainData()
	return wave[len(wave)-p.analyser.FrequencyBinCount():]
}

func (p *Pipeline) SampleRate() int {
	return int(p.ctx.SampleRate())
}

// SetSampleRate exists for settings screens. The device rate cannot change
// while the process runs, so any other rate yields ErrSampleRateFixed; the
// configured rate takes effect on the next start.
func (p *Pipeline) SetSampleRate(rate int) error {
	if rate == p.SampleRate() {
		return nil
	}
	return ErrSampleRateFixed
}

// Cleanup disconnects the graph, releases the bound element and closes the
// output. Later calls do nothing.
func (p *Pipeline) Cleanup() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	p.releaseSource()
	p.mu.Unlock()

	p.ctx.SetInput(nil)
	if err := p.ctx.Close(); err != nil {
		return fmt.Errorf("failed to close pipeline %s: %w", p.key, err)
	}
	log.Printf("audio pipeline %s cleaned up", p.key)
	return nil
}

func (p *Pipeline) Disposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}
