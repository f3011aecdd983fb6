package graph_test

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/gopxl/beep"
	"github.com/supersonic-app/audiophile/backend/audio/graph"
	"github.com/supersonic-app/audiophile/internal/audiotest"
)

const rate = beep.SampleRate(48000)

func newContext(t *testing.T) (*graph.Context, *audiotest.Host, *audiotest.Output) {
	t.Helper()
	host := audiotest.NewHost(rate)
	ctx, err := graph.NewContext(host)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx, host, host.Outputs()[0]
}

func sine(freq, amp float64) beep.Streamer {
	var n int
	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			v := amp * math.Sin(2*math.Pi*freq*float64(n)/float64(rate))
			samples[i] = [2]float64{v, v}
			n++
		}
		return len(samples), true
	})
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestContextLifecycle(t *testing.T) {
	ctx, host, out := newContext(t)

	if ctx.State() != graph.Suspended {
		t.Fatalf("new context state = %s, want suspended", ctx.State())
	}
	if err := ctx.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Resume(); err != nil {
		t.Fatal(err)
	}
	if ctx.State() != graph.Running || !out.IsPlaying() {
		t.Errorf("after Resume state = %s, playing = %v", ctx.State(), out.IsPlaying())
	}
	if host.Holds() != 1 {
		t.Errorf("holds after double Resume = %d, want 1", host.Holds())
	}

	if err := ctx.Suspend(); err != nil {
		t.Fatal(err)
	}
	if out.IsPlaying() || host.Holds() != 0 {
		t.Errorf("after Suspend playing = %v, holds = %d", out.IsPlaying(), host.Holds())
	}

	ctx.Resume()
	if err := ctx.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if !out.Closed() || host.Holds() != 0 {
		t.Errorf("after Close closed = %v, holds = %d", out.Closed(), host.Holds())
	}
	if err := ctx.Resume(); !errors.Is(err, graph.ErrClosed) {
		t.Errorf("Resume after Close = %v, want ErrClosed", err)
	}
	if _, err := ctx.Read(make([]byte, 64)); err != io.EOF {
		t.Errorf("Read after Close = %v, want EOF", err)
	}
}

func TestNewContextOutputError(t *testing.T) {
	host := audiotest.NewHost(rate)
	host.OutputErr = errors.New("device busy")
	if _, err := graph.NewContext(host); err == nil {
		t.Error("expected error from NewContext")
	}
	if _, err := graph.NewContext(nil); !errors.Is(err, graph.ErrNoHost) {
		t.Errorf("NewContext(nil) = %v, want ErrNoHost", err)
	}
}

func TestRenderChain(t *testing.T) {
	ctx, _, out := newContext(t)
	el := audiotest.NewElement("el", 0.5)

	src, err := ctx.NewSource(el)
	if err != nil {
		t.Fatal(err)
	}
	gain := ctx.NewGain()
	gain.SetInput(src)
	gain.SetValue(0.5)
	ctx.SetInput(gain)

	// suspended contexts render silence
	frames, _ := out.Pull(16)
	for _, f := range frames {
		if f != [2]float64{} {
			t.Fatalf("suspended context rendered %v", f)
		}
	}

	ctx.Resume()
	frames, _ = out.Pull(16)
	for _, f := range frames {
		if f != [2]float64{} {
			t.Fatalf("disconnected source rendered %v", f)
		}
	}

	src.Connect()
	frames, _ = out.Pull(16)
	for _, f := range frames {
		if !approx(f[0], 0.25, 1e-6) || !approx(f[1], 0.25, 1e-6) {
			t.Fatalf("rendered %v, want 0.25", f)
		}
	}
	if got := gain.Value(); !approx(got, 0.5, 1e-12) {
		t.Errorf("Gain.Value() = %v, want 0.5", got)
	}
}

func TestSourceCapture(t *testing.T) {
	ctx, _, _ := newContext(t)
	el := audiotest.NewElement("el", 0.1)

	src, err := ctx.NewSource(el)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.NewSource(el); !errors.Is(err, graph.ErrElementCaptured) {
		t.Errorf("second NewSource = %v, want ErrElementCaptured", err)
	}

	src.Connect()
	src.Release()
	src.Release()
	if el.Releases() != 1 || el.Captured() {
		t.Errorf("releases = %d captured = %v, want 1 false", el.Releases(), el.Captured())
	}
	src.Connect()
	if src.Connected() {
		t.Error("released source reconnected")
	}

	ctx.Close()
	if _, err := ctx.NewSource(audiotest.NewElement("other", 0)); !errors.Is(err, graph.ErrClosed) {
		t.Errorf("NewSource on closed context = %v, want ErrClosed", err)
	}
}

func TestPeakingFilterResponse(t *testing.T) {
	ctx, _, _ := newContext(t)

	tests := []struct {
		freq float64
		gain float64
	}{
		{31, 6},
		{1000, -12},
		{16000, 12},
		{250, 3.5},
	}
	for _, tt := range tests {
		f := ctx.NewPeakingFilter(tt.freq, 1)
		f.SetGain(tt.gain)
		if got := f.Response(tt.freq); !approx(got, tt.gain, 0.01) {
			t.Errorf("%v Hz band at %v dB: response at centre = %.3f dB", tt.freq, tt.gain, got)
		}
		// far away from the centre the band is nearly flat
		far := tt.freq * 64
		if tt.freq >= 1000 {
			far = tt.freq / 64
		}
		if got := f.Response(far); math.Abs(got) > 0.5 {
			t.Errorf("%v Hz band: response at %v Hz = %.3f dB, want ~0", tt.freq, far, got)
		}
	}
}

func TestPeakingFilterFlatPassesThrough(t *testing.T) {
	ctx, _, _ := newContext(t)
	f := ctx.NewPeakingFilter(1000, 1)
	ref := sine(440, 0.5)
	f.SetInput(sine(440, 0.5))

	want := make([][2]float64, 512)
	got := make([][2]float64, 512)
	ref.Stream(want)
	f.Stream(got)
	for i := range got {
		if !approx(got[i][0], want[i][0], 1e-9) {
			t.Fatalf("sample %d = %v, want %v", i, got[i][0], want[i][0])
		}
	}
}

func TestCompressorStaticCurve(t *testing.T) {
	p := graph.DefaultCompressorParams
	tests := []struct {
		in   float64
		want float64
	}{
		{-60, -60},
		{-40, -40},
		{0, -24 + 24.0/12},
		{-5, -24 + 19.0/12},
	}
	for _, tt := range tests {
		if got := p.StaticCurve(tt.in); !approx(got, tt.want, 1e-9) {
			t.Errorf("StaticCurve(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
	// inside the knee the curve lies between the input and the hard knee
	in := -24.0
	got := p.StaticCurve(in)
	if got >= in || got <= p.Threshold+(in-p.Threshold)/p.Ratio-10 {
		t.Errorf("StaticCurve(%v) = %v, want soft knee value", in, got)
	}
}

func TestCompressorReducesLoudSignal(t *testing.T) {
	ctx, _, _ := newContext(t)
	const amp = 0.9
	constant := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{amp, amp}
		}
		return len(samples), true
	})

	comp := ctx.NewCompressor(graph.DefaultCompressorParams)
	comp.SetInput(constant)
	buf := make([][2]float64, int(rate)/2)
	comp.Stream(buf)

	level := 20 * math.Log10(amp)
	reduction := graph.DefaultCompressorParams.StaticCurve(level) - level
	want := amp * math.Pow(10, reduction/20)
	last := buf[len(buf)-1][0]
	if !approx(last, want, want*0.01) {
		t.Errorf("compressed level = %v, want %v", last, want)
	}
	if r := comp.Reduction(); !approx(r, reduction, 0.1) {
		t.Errorf("Reduction() = %v, want %v", r, reduction)
	}

	comp.SetEnabled(false)
	comp.Stream(buf)
	if buf[0][0] != amp {
		t.Errorf("bypassed compressor changed level to %v", buf[0][0])
	}
	if comp.Enabled() {
		t.Error("Enabled() = true after SetEnabled(false)")
	}
}

func TestAnalyser(t *testing.T) {
	ctx, _, _ := newContext(t)
	a := ctx.NewAnalyser(graph.DefaultFFTSize)

	if got := a.FrequencyBinCount(); got != 1024 {
		t.Fatalf("FrequencyBinCount = %d, want 1024", got)
	}
	for _, v := range a.TimeDomainData() {
		if v != 128 {
			t.Fatalf("silent waveform byte = %d, want 128", v)
		}
	}

	a.SetInput(sine(1000, 0.8))
	buf := make([][2]float64, graph.DefaultFFTSize)
	a.Stream(buf)

	a.Smoothing = 0
	spectrum := a.FloatFrequencyData()
	peak := 0
	for i, v := range spectrum {
		if v > spectrum[peak] {
			peak = i
		}
	}
	binHz := float64(rate) / graph.DefaultFFTSize
	if hz := float64(peak) * binHz; math.Abs(hz-1000) > binHz {
		t.Errorf("spectrum peak at %.1f Hz, want ~1000 Hz", hz)
	}
	if scaled := a.FrequencyData(); scaled[peak] != 255 {
		t.Errorf("scaled peak = %d, want 255", scaled[peak])
	}

	wave := a.TimeDomainData()
	if len(wave) != graph.DefaultFFTSize {
		t.Fatalf("TimeDomainData length = %d", len(wave))
	}
	var lo, hi byte = 255, 0
	for _, v := range wave {
		lo, hi = min(lo, v), max(hi, v)
	}
	if lo > 40 || hi < 215 {
		t.Errorf("waveform range [%d, %d], want roughly [25, 230]", lo, hi)
	}
}

func TestStreamReaderPadsSilence(t *testing.T) {
	el := audiotest.NewElement("el", 0.5)
	el.Length = 4
	r := graph.NewStreamReader(el)

	buf := make([]byte, 8*graph.BytesPerFrame)
	n, err := r.Read(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	frames := graph.DecodeFloat32LE(buf)
	for i, f := range frames {
		want := 0.0
		if i < 4 {
			want = 0.5
		}
		if f[0] != want || f[1] != want {
			t.Errorf("frame %d = %v, want %v", i, f, want)
		}
	}
}
