package native_test

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/supersonic-app/audiophile/backend/audio/format"
	"github.com/supersonic-app/audiophile/backend/player/native"
	"github.com/supersonic-app/audiophile/internal/audiotest"
)

const rate = beep.SampleRate(44100)

// writeWAV writes a 16-bit stereo WAV of frames samples of value v.
func writeWAV(t *testing.T, dir string, frames int, v float64) string {
	t.Helper()
	path := filepath.Join(dir, "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	s := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			samples[i] = [2]float64{v, v}
		}
		return len(samples), true
	})
	err = wav.Encode(f, beep.Take(frames, s), beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func newEngine(t *testing.T, host *audiotest.Host) *native.Engine {
	t.Helper()
	e, err := native.NewEngine(host)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

// waitFor registers a one-shot handler for ev and returns a channel that
// receives the event's error.
func waitFor(s *native.Sound, ev native.Event) <-chan error {
	ch := make(chan error, 1)
	s.Once(ev, func(err error) { ch <- err })
	return ch
}

func await(t *testing.T, ch <-chan error, what string) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func loadSound(t *testing.T, e *native.Engine, src string) *native.Sound {
	t.Helper()
	s := e.NewSound(src)
	loaded := waitFor(s, native.EventLoad)
	s.Load()
	await(t, loaded, "load")
	t.Cleanup(s.Unload)
	return s
}

func TestSoundLoadAndPlay(t *testing.T) {
	host := audiotest.NewHost(rate)
	e := newEngine(t, host)
	path := writeWAV(t, t.TempDir(), int(rate)/2, 0.5)

	s := e.NewSound(path)
	if s.Element() != nil {
		t.Error("element before load should be nil")
	}
	if err := s.Play(); !errors.Is(err, native.ErrNotLoaded) {
		t.Errorf("Play before load = %v, want ErrNotLoaded", err)
	}

	loaded := waitFor(s, native.EventLoad)
	s.Load()
	if err := await(t, loaded, "load"); err != nil {
		t.Fatal(err)
	}
	defer s.Unload()

	info := s.Format()
	if info.Format != format.WAV || info.SampleRate != 44100 || info.BitDepth != 16 {
		t.Errorf("unexpected format %+v", info)
	}
	if !e.Cache.Has(path) {
		t.Error("detected format should be cached")
	}
	if d := s.Duration(); d < 490*time.Millisecond || d > 510*time.Millisecond {
		t.Errorf("Duration = %v", d)
	}

	played := waitFor(s, native.EventPlay)
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	await(t, played, "play")

	outs := host.Outputs()
	if len(outs) != 1 || !outs[0].IsPlaying() {
		t.Fatal("element output should be playing")
	}
	if host.Holds() != 1 {
		t.Errorf("holds = %d, want 1", host.Holds())
	}
	frames, err := outs[0].Pull(256)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range frames {
		if math.Abs(f[0]-0.5) > 1e-3 {
			t.Fatalf("sample = %v, want 0.5", f[0])
		}
	}
	if s.Position() == 0 {
		t.Error("position should advance")
	}

	s.SetVolume(0)
	frames, _ = outs[0].Pull(16)
	if frames[0][0] != 0 {
		t.Errorf("muted sample = %v", frames[0][0])
	}

	s.Pause()
	if outs[0].IsPlaying() || host.Holds() != 0 {
		t.Error("pause should stop the output and release the device")
	}
}

func TestSoundEnd(t *testing.T) {
	host := audiotest.NewHost(rate)
	e := newEngine(t, host)
	s := loadSound(t, e, writeWAV(t, t.TempDir(), 1000, 0.25))

	ended := waitFor(s, native.EventEnd)
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	frames, err := host.Outputs()[0].Pull(1500)
	if err != nil {
		t.Fatal(err)
	}
	if frames[1200][0] != 0 {
		t.Error("output past the end should be silent")
	}
	await(t, ended, "end")
	if s.Playing() {
		t.Error("sound should stop at the end")
	}

	// playing again starts over
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	frames, _ = host.Outputs()[0].Pull(10)
	if math.Abs(frames[0][0]-0.25) > 1e-3 {
		t.Errorf("replay sample = %v", frames[0][0])
	}
}

func TestSeekAfterEndStaysSilent(t *testing.T) {
	host := audiotest.NewHost(rate)
	e := newEngine(t, host)
	s := loadSound(t, e, writeWAV(t, t.TempDir(), 1000, 0.25))

	var mu sync.Mutex
	ends := 0
	s.On(native.EventEnd, func(error) {
		mu.Lock()
		ends++
		mu.Unlock()
	})
	ended := waitFor(s, native.EventEnd)

	// pull through the element the way a pipeline source does
	el := s.Element()
	if err := el.Capture(); err != nil {
		t.Fatal(err)
	}
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	buf := make([][2]float64, 1500)
	el.Stream(buf)
	await(t, ended, "end")

	if err := s.Seek(0); err != nil {
		t.Fatal(err)
	}
	buf = make([][2]float64, 500)
	el.Stream(buf)
	for i, f := range buf {
		if f[0] != 0 {
			t.Fatalf("frame %d = %v after seek, want silence", i, f[0])
		}
	}
	if s.Playing() {
		t.Error("seek after the end should not resume playback")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if ends != 1 {
		t.Errorf("end fired %d times, want 1", ends)
	}
}

func TestSoundLockedPlayback(t *testing.T) {
	host := audiotest.NewLockedHost(rate)
	e := newEngine(t, host)
	s := loadSound(t, e, writeWAV(t, t.TempDir(), 1000, 0.25))

	if !e.Locked() {
		t.Fatal("engine should be locked")
	}
	playErr := waitFor(s, native.EventPlayError)
	unlocked := waitFor(s, native.EventUnlock)
	if err := s.Play(); !errors.Is(err, native.ErrPlaybackLocked) {
		t.Fatalf("Play = %v, want ErrPlaybackLocked", err)
	}
	if err := await(t, playErr, "playerror"); !errors.Is(err, native.ErrPlaybackLocked) {
		t.Errorf("playerror carried %v", err)
	}

	host.Unlock()
	await(t, unlocked, "unlock")
	if err := s.Play(); err != nil {
		t.Fatalf("Play after unlock = %v", err)
	}
}

func TestSoundLoadError(t *testing.T) {
	e := newEngine(t, audiotest.NewHost(rate))
	s := e.NewSound(filepath.Join(t.TempDir(), "missing.mp3"))
	defer s.Unload()
	failed := waitFor(s, native.EventLoadError)
	s.Load()
	if err := await(t, failed, "loaderror"); err == nil {
		t.Error("loaderror should carry an error")
	}
	if s.Loaded() {
		t.Error("sound should not be loaded")
	}
}

func TestElementCapture(t *testing.T) {
	host := audiotest.NewHost(rate)
	e := newEngine(t, host)
	s := loadSound(t, e, writeWAV(t, t.TempDir(), 1000, 0.25))
	out := host.Outputs()[0]

	el := s.Element()
	if err := s.Play(); err != nil {
		t.Fatal(err)
	}
	if err := el.Capture(); err != nil {
		t.Fatal(err)
	}
	if out.IsPlaying() || host.Holds() != 0 {
		t.Error("captured element should stop its own output")
	}
	if err := el.Capture(); err == nil {
		t.Error("second capture should fail")
	}
	el.Release()
	if !out.IsPlaying() {
		t.Error("released element should resume its own output")
	}
}

func TestSoundUnload(t *testing.T) {
	host := audiotest.NewHost(rate)
	e := newEngine(t, host)
	s := e.NewSound(writeWAV(t, t.TempDir(), 1000, 0.25))
	loaded := waitFor(s, native.EventLoad)
	s.Load()
	await(t, loaded, "load")

	s.Unload()
	s.Unload()
	if !host.Outputs()[0].Closed() {
		t.Error("unload should close the output")
	}
	if err := s.Play(); !errors.Is(err, native.ErrNotLoaded) {
		t.Errorf("Play after unload = %v", err)
	}
	if s.Element() != nil {
		t.Error("element after unload should be nil")
	}
}

func TestSoundSeek(t *testing.T) {
	e := newEngine(t, audiotest.NewHost(rate))
	s := loadSound(t, e, writeWAV(t, t.TempDir(), int(rate), 0.25))

	if err := s.Seek(500 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if p := s.Position(); p < 499*time.Millisecond || p > 501*time.Millisecond {
		t.Errorf("Position = %v", p)
	}
	if err := s.Seek(time.Hour); err != nil {
		t.Fatal(err)
	}
	if s.Position() != s.Duration() {
		t.Errorf("seek past the end should clamp, got %v of %v", s.Position(), s.Duration())
	}
}

func TestRemoteSound(t *testing.T) {
	path := writeWAV(t, t.TempDir(), 1000, 0.25)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "tone.wav", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	e := newEngine(t, audiotest.NewHost(rate))
	s := loadSound(t, e, srv.URL+"/tone.wav")
	if s.Format().Format != format.WAV {
		t.Errorf("format = %v", s.Format().Format)
	}
	if s.Duration() == 0 {
		t.Error("remote WAV should have a duration")
	}
}

func TestOpenHTTP(t *testing.T) {
	data := make([]byte, 100_000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	ranged := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "a.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer ranged.Close()
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer plain.Close()
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data[:10])
		w.(http.Flusher).Flush()
		w.Write(data[10:])
	}))
	defer live.Close()
	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	client := native.NewHTTPClient()

	tests := []struct {
		name     string
		url      string
		seekable bool
	}{
		{"ranges", ranged.URL, true},
		{"length only", plain.URL, true},
		{"live", live.URL, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := native.OpenHTTP(t.Context(), client, tt.url)
			if err != nil {
				t.Fatal(err)
			}
			defer r.Close()
			s, ok := r.(io.Seeker)
			if ok != tt.seekable {
				t.Fatalf("seekable = %v, want %v", ok, tt.seekable)
			}
			if !ok {
				got, err := io.ReadAll(r)
				if err != nil || !bytes.Equal(got, data) {
					t.Fatalf("read %d bytes, err %v", len(got), err)
				}
				return
			}
			if _, err := s.Seek(50_000, io.SeekStart); err != nil {
				t.Fatal(err)
			}
			got, err := io.ReadAll(r)
			if err != nil || !bytes.Equal(got, data[50_000:]) {
				t.Fatalf("read %d bytes after seek, err %v", len(got), err)
			}
			if end, err := s.Seek(0, io.SeekEnd); err != nil || end != int64(len(data)) {
				t.Errorf("Seek end = %d, %v", end, err)
			}
		})
	}

	if _, err := native.OpenHTTP(t.Context(), client, missing.URL); err == nil {
		t.Error("404 should fail")
	}
}

func TestStreamSeeker(t *testing.T) {
	data := []byte("0123456789abcdefghij")
	pr, pw := io.Pipe()
	ss := native.NewStreamSeeker(pr, -1)
	defer ss.Close()

	go func() {
		pw.Write(data[:10])
		time.Sleep(10 * time.Millisecond)
		pw.Write(data[10:])
		pw.Close()
	}()

	buf := make([]byte, 5)
	if _, err := io.ReadFull(ss, buf); err != nil || string(buf) != "01234" {
		t.Fatalf("first read %q, %v", buf, err)
	}
	// seeking ahead of the buffered data waits for it
	if _, err := ss.Seek(15, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(ss, buf); err != nil || string(buf) != "fghij" {
		t.Fatalf("read after seek %q, %v", buf, err)
	}
	if end, err := ss.Seek(0, io.SeekEnd); err != nil || end != 20 {
		t.Errorf("Seek end = %d, %v", end, err)
	}
	if _, err := ss.Read(buf); err != io.EOF {
		t.Errorf("read at end = %v, want EOF", err)
	}
}
