package graph

import (
	"math"
	"time"

	"github.com/gopxl/beep"
)

// CompressorParams configures a Compressor. Levels are in dBFS.
type CompressorParams struct {
	Threshold float64
	Knee      float64
	Ratio     float64
	Attack    time.Duration
	Release   time.Duration
}

// DefaultCompressorParams are gentle mastering settings.
var DefaultCompressorParams = CompressorParams{
	Threshold: -24,
	Knee:      30,
	Ratio:     12,
	Attack:    3 * time.Millisecond,
	Release:   250 * time.Millisecond,
}

// Compressor is a feed-forward soft-knee dynamics compressor with a stereo
// linked peak detector. When disabled it passes audio through untouched.
type Compressor struct {
	ctx     *Context
	in      beep.Streamer
	params  CompressorParams
	enabled bool

	attackCoef  float64
	releaseCoef float64
	envelope    float64 // current gain reduction in dB, <= 0
}

func (c *Context) NewCompressor(params CompressorParams) *Compressor {
	comp := &Compressor{ctx: c, params: params, enabled: true}
	comp.computeCoefficients()
	return comp
}

func (c *Compressor) SetInput(s beep.Streamer) {
	c.ctx.lock()
	c.in = s
	c.ctx.unlock()
}

func (c *Compressor) SetEnabled(enabled bool) {
	c.ctx.lock()
	defer c.ctx.unlock()
	c.enabled = enabled
	if !enabled {
		c.envelope = 0
	}
}

func (c *Compressor) Enabled() bool {
	c.ctx.lock()
	defer c.ctx.unlock()
	return c.enabled
}

func (c *Compressor) Params() CompressorParams {
	c.ctx.lock()
	defer c.ctx.unlock()
	return c.params
}

func (c *Compressor) SetParams(p CompressorParams) {
	c.ctx.lock()
	defer c.ctx.unlock()
	c.params = p
	c.computeCoefficients()
}

// Reduction is the gain reduction currently applied, in dB.
func (c *Compressor) Reduction() float64 {
	c.ctx.lock()
	defer c.ctx.unlock()
	return c.envelope
}

func (c *Compressor) computeCoefficients() {
	fs := float64(c.ctx.SampleRate())
	c.attackCoef = timeCoef(c.params.Attack, fs)
	c.releaseCoef = timeCoef(c.params.Release, fs)
}

func timeCoef(d time.Duration, fs float64) float64 {
	if d <= 0 {
		return 0
	}
	return math.Exp(-1 / (d.Seconds() * fs))
}

// StaticCurve returns the output level for a steady input level, both in
// dB, ignoring attack and release.
func (p CompressorParams) StaticCurve(in float64) float64 {
	over := in - p.Threshold
	switch {
	case 2*over < -p.Knee:
		return in
	case p.Knee > 0 && 2*math.Abs(over) <= p.Knee:
		k := over + p.Knee/2
		return in + (1/p.Ratio-1)*k*k/(2*p.Knee)
	default:
		return p.Threshold + over/p.Ratio
	}
}

func (c *Compressor) Stream(samples [][2]float64) (int, bool) {
	if c.in == nil {
		return silence(samples)
	}
	n, ok := c.in.Stream(samples)
	if !c.enabled {
		return n, ok
	}
	for i := range samples[:n] {
		peak := math.Max(math.Abs(samples[i][0]), math.Abs(samples[i][1]))
		target := 0.0
		if peak > 1e-9 {
			level := 20 * math.Log10(peak)
			target = c.params.StaticCurve(level) - level
		}
		coef := c.releaseCoef
		if target < c.envelope {
			coef = c.attackCoef
		}
		c.envelope = target + coef*(c.envelope-target)

		g := math.Pow(10, c.envelope/20)
		samples[i][0] *= g
		samples[i][1] *= g
	}
	return n, ok
}

func (c *Compressor) Err() error { return nil }
