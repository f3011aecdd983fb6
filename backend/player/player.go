// Package player routes transport commands to the decode engine and binds
// each loaded track into an audio pipeline.
package player

import (
	"errors"
	"log"
	"math"
	"sync"
	"time"

	"github.com/supersonic-app/audiophile/backend/audio/format"
	"github.com/supersonic-app/audiophile/backend/audio/graph"
	"github.com/supersonic-app/audiophile/backend/audio/pipeline"
	"github.com/supersonic-app/audiophile/backend/player/native"
	"github.com/supersonic-app/audiophile/backend/util"
)

var ErrNotLoaded = errors.New("no track loaded")

const DefaultProgressInterval = 100 * time.Millisecond

// Sound is one loaded source, as driven by the player.
type Sound interface {
	Load()
	Play() error
	Pause()
	Playing() bool
	Seek(time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	SetVolume(float64)
	Element() graph.MediaElement
	Format() format.Info
	On(ev native.Event, fn native.Handler) int
	Once(ev native.Event, fn native.Handler) int
	Unload()
}

// Engine creates sounds.
type Engine interface {
	NewSound(src string) Sound
}

// NativeEngine adapts a native.Engine to Engine.
func NativeEngine(e *native.Engine) Engine {
	return nativeEngine{e}
}

type nativeEngine struct {
	*native.Engine
}

func (n nativeEngine) NewSound(src string) Sound {
	return n.Engine.NewSound(src)
}

// Player plays one track or station at a time. Loading a new source first
// tears down the previous sound and releases its pipeline binding.
type Player struct {
	BasePlayerCallbackImpl

	// ProgressInterval is how often the progress callback fires while a
	// track is loaded. Set it before the first load.
	ProgressInterval time.Duration

	engine    Engine
	pipelines *pipeline.Manager

	// serializes loads, unloads and load event handling
	loadMu sync.Mutex

	mu          sync.Mutex
	gen         uint64
	sound       Sound
	trackID     string
	key         string
	state       State
	pendingPlay bool
	playWanted  bool
	pipe        *pipeline.Pipeline
	vol         int
	eq          [pipeline.NumBands]float64
	eqDirty     bool
	onProgress  func(percent float64)
	onEnd       func()
	stopTicker  chan struct{}
}

// New returns a player creating sounds with engine. pipelines may be nil,
// in which case tracks play without enhancement.
func New(engine Engine, pipelines *pipeline.Manager) *Player {
	return &Player{
		ProgressInterval: DefaultProgressInterval,
		engine:           engine,
		pipelines:        pipelines,
		vol:              100,
	}
}

// LoadTrack loads url as track trackID, bound to the shared pipeline.
// onProgress receives the play position in percent while the track is
// loaded and onEnd fires when it plays to the end; either may be nil.
// Load failures are reported through OnLoadError.
func (p *Player) LoadTrack(url, trackID string, onProgress func(float64), onEnd func()) {
	p.load(url, trackID, pipeline.TrackKey(trackID), onProgress, onEnd)
}

// LoadStation loads a radio stream bound to the pipeline of stationID.
func (p *Player) LoadStation(url, stationID string, onProgress func(float64), onEnd func()) {
	p.load(url, stationID, pipeline.StationKey(stationID), onProgress, onEnd)
}

func (p *Player) load(url, id, key string, onProgress func(float64), onEnd func()) {
	p.loadMu.Lock()
	stopped := p.teardown()

	s := p.engine.NewSound(url)
	p.mu.Lock()
	gen := p.gen
	p.sound = s
	p.trackID = id
	p.key = key
	p.state = Loading
	p.onProgress = onProgress
	p.onEnd = onEnd
	p.mu.Unlock()

	s.Once(native.EventLoad, func(error) { p.handleLoad(gen) })
	s.Once(native.EventLoadError, func(err error) { p.handleLoadError(gen, err) })
	s.On(native.EventEnd, func(error) { p.handleEnd(gen) })
	s.On(native.EventUnlock, func(error) { p.handleUnlock(gen) })
	s.Load()
	p.loadMu.Unlock()

	log.Printf("loading %s (%s)", id, url)
	if stopped {
		p.InvokeOnStopped()
	}
}

// Unload stops playback, releases the pipeline binding and disposes the
// sound. It may be called in any state, including while loading.
func (p *Player) Unload() {
	p.loadMu.Lock()
	stopped := p.teardown()
	p.loadMu.Unlock()
	if stopped {
		p.InvokeOnStopped()
	}
}

// teardown drops the current sound and binding. It reports whether a
// loaded track was stopped. Must be called with p.loadMu held.
func (p *Player) teardown() bool {
	p.mu.Lock()
	s, pipe := p.sound, p.pipe
	wasLoaded := p.state == Loaded
	p.gen++
	p.sound = nil
	p.pipe = nil
	p.trackID = ""
	p.key = ""
	p.state = Unloaded
	p.pendingPlay = false
	p.playWanted = false
	p.onProgress = nil
	p.onEnd = nil
	stop := p.stopTicker
	p.stopTicker = nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if s != nil {
		s.Pause()
	}
	if pipe != nil {
		pipe.Unbind()
		if err := pipe.Suspend(); err != nil {
			log.Printf("error suspending pipeline: %v", err)
		}
	}
	if s != nil {
		s.Unload()
	}
	return wasLoaded
}

func (p *Player) handleLoad(gen uint64) {
	p.loadMu.Lock()
	p.mu.Lock()
	if gen != p.gen || p.state != Loading {
		p.mu.Unlock()
		p.loadMu.Unlock()
		return
	}
	s, key := p.sound, p.key
	p.state = Loaded
	p.mu.Unlock()

	pipe := p.bind(s, key)

	p.mu.Lock()
	p.pipe = pipe
	vol := float64(p.vol) / 100
	eq := p.eq
	eqDirty := p.eqDirty
	p.eqDirty = false
	play := p.pendingPlay
	p.pendingPlay = false
	stop := make(chan struct{})
	p.stopTicker = stop
	p.mu.Unlock()

	s.SetVolume(vol)
	if pipe != nil {
		pipe.SetVolume(vol)
		if eqDirty {
			pipe.SetEQBands(eq[:])
		}
	}
	go p.reportProgress(gen, s, stop)

	var played bool
	if play {
		played = p.startPlayback(s)
	}
	p.loadMu.Unlock()

	log.Printf("loaded %s (%s)", p.TrackID(), format.TechnicalSpecs(s.Format()))
	p.InvokeOnLoaded()
	if played {
		p.InvokeOnPlaying()
	}
}

// bind attaches the sound's element to the pipeline for key. Failures are
// logged and leave the sound playing unprocessed.
func (p *Player) bind(s Sound, key string) *pipeline.Pipeline {
	if p.pipelines == nil {
		return nil
	}
	el := s.Element()
	if el == nil {
		log.Printf("sound has no media element, playing without pipeline")
		return nil
	}
	pipe, err := p.pipelines.Pipeline(key, true)
	if err != nil {
		log.Printf("audio pipeline unavailable, playing without enhancement: %v", err)
		return nil
	}
	if err := pipe.Initialize(el); err != nil {
		log.Printf("failed to bind pipeline, playing without enhancement: %v", err)
		return nil
	}
	if err := pipe.Resume(); err != nil {
		log.Printf("failed to start pipeline, playing without enhancement: %v", err)
		pipe.Unbind()
		return nil
	}
	p.pipelines.SetActiveContext(pipe.Key())
	return pipe
}

func (p *Player) handleLoadError(gen uint64, err error) {
	p.loadMu.Lock()
	p.mu.Lock()
	if gen != p.gen || p.state != Loading {
		p.mu.Unlock()
		p.loadMu.Unlock()
		return
	}
	p.state = Failed
	p.pendingPlay = false
	p.playWanted = false
	p.mu.Unlock()
	p.loadMu.Unlock()

	p.InvokeOnLoadError(err)
}

func (p *Player) handleEnd(gen uint64) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.playWanted = false
	onProgress, onEnd := p.onProgress, p.onEnd
	p.mu.Unlock()

	if onProgress != nil {
		onProgress(100)
	}
	p.InvokeOnTrackEnd()
	if onEnd != nil {
		onEnd()
	}
}

// handleUnlock retries a play that the engine rejected while the audio
// device was locked.
func (p *Player) handleUnlock(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.state != Loaded || !p.playWanted {
		p.mu.Unlock()
		return
	}
	s := p.sound
	p.mu.Unlock()

	if s.Playing() {
		return
	}
	log.Printf("audio unlocked, retrying playback")
	if p.startPlayback(s) {
		p.InvokeOnPlaying()
	}
}

// startPlayback plays s and reports whether playback started. A play that
// is rejected because the device is locked is retried on unlock.
func (p *Player) startPlayback(s Sound) bool {
	err := s.Play()
	switch {
	case err == nil:
		return true
	case errors.Is(err, native.ErrPlaybackLocked):
		log.Printf("playback locked, waiting for the audio device")
	default:
		log.Printf("failed to start playback: %v", err)
	}
	return false
}

// Play starts playback. While a track is loading the play is deferred until
// it has loaded.
func (p *Player) Play() error {
	p.mu.Lock()
	switch p.state {
	case Loading:
		p.pendingPlay = true
		p.playWanted = true
		p.mu.Unlock()
		return nil
	case Loaded:
		p.playWanted = true
		s := p.sound
		p.mu.Unlock()
		if p.startPlayback(s) {
			p.InvokeOnPlaying()
		}
		return nil
	}
	p.mu.Unlock()
	return ErrNotLoaded
}

func (p *Player) Pause() error {
	p.mu.Lock()
	p.pendingPlay = false
	p.playWanted = false
	s := p.sound
	loaded := p.state == Loaded
	p.mu.Unlock()
	if s == nil {
		return ErrNotLoaded
	}
	if !loaded {
		return nil
	}
	s.Pause()
	p.InvokeOnPaused()
	return nil
}

func (p *Player) Seek(d time.Duration) error {
	p.mu.Lock()
	s := p.sound
	loaded := p.state == Loaded
	p.mu.Unlock()
	if !loaded {
		return ErrNotLoaded
	}
	return s.Seek(d)
}

// SetVolume sets the volume on a 0 to 100 scale, applied both to the sound
// and to the pipeline's master gain.
func (p *Player) SetVolume(vol int) {
	vol = util.Clamp(vol, 0, 100)
	p.mu.Lock()
	p.vol = vol
	s, pipe := p.sound, p.pipe
	loaded := p.state == Loaded
	p.mu.Unlock()

	v := float64(vol) / 100
	if s != nil && loaded {
		s.SetVolume(v)
	}
	if pipe != nil {
		pipe.SetVolume(v)
	}
}

func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vol
}

// SetEQBand sets the gain of one band in dB. Out of range bands are
// ignored. Without a bound pipeline the value is applied on the next bind.
func (p *Player) SetEQBand(band int, gain float64) {
	if band < 0 || band >= pipeline.NumBands || math.IsNaN(gain) {
		return
	}
	p.mu.Lock()
	p.eq[band] = util.Clamp(gain, -pipeline.MaxBandGain, pipeline.MaxBandGain)
	pipe := p.pipe
	p.eqDirty = pipe == nil
	p.mu.Unlock()
	if pipe != nil {
		pipe.SetEQBand(band, gain)
	}
}

// SetEQBands sets all band gains. A slice of the wrong length is ignored.
func (p *Player) SetEQBands(gains []float64) {
	if len(gains) != pipeline.NumBands {
		log.Printf("ignoring EQ with %d bands, want %d", len(gains), pipeline.NumBands)
		return
	}
	for i, g := range gains {
		p.SetEQBand(i, g)
	}
}

// ApplyPreset sets the bands of the named EQ preset.
func (p *Player) ApplyPreset(name string) error {
	preset, ok := pipeline.FindPreset(name)
	if !ok {
		return pipeline.ErrUnknownPreset
	}
	p.SetEQBands(preset.Bands[:])
	return nil
}

// EQBands returns the band gains of the bound pipeline, or the gains that
// will be applied once one is bound.
func (p *Player) EQBands() []float64 {
	p.mu.Lock()
	pipe := p.pipe
	eq := p.eq
	p.mu.Unlock()
	if pipe != nil {
		return pipe.EQBands()
	}
	return eq[:]
}

func (p *Player) reportProgress(gen uint64, s Sound, stop <-chan struct{}) {
	t := time.NewTicker(p.ProgressInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		p.mu.Lock()
		if gen != p.gen {
			p.mu.Unlock()
			return
		}
		cb := p.onProgress
		p.mu.Unlock()

		dur := s.Duration()
		if cb == nil || dur <= 0 {
			continue
		}
		cb(util.Clamp(100*s.Position().Seconds()/dur.Seconds(), 0, 100))
	}
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Player) TrackID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trackID
}

func (p *Player) IsLoaded() bool {
	return p.State() == Loaded
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	s := p.sound
	loaded := p.state == Loaded
	p.mu.Unlock()
	return loaded && s.Playing()
}

func (p *Player) CurrentTime() time.Duration {
	if s := p.loadedSound(); s != nil {
		return s.Position()
	}
	return 0
}

// Duration of the loaded track, 0 if unknown or nothing is loaded.
func (p *Player) Duration() time.Duration {
	if s := p.loadedSound(); s != nil {
		return s.Duration()
	}
	return 0
}

// FormatInfo describes the loaded track's container.
func (p *Player) FormatInfo() format.Info {
	if s := p.loadedSound(); s != nil {
		return s.Format()
	}
	return format.Info{}
}

// Pipeline returns the pipeline the current track is bound to, or nil.
func (p *Player) Pipeline() *pipeline.Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pipe
}

func (p *Player) loadedSound() Sound {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Loaded {
		return nil
	}
	return p.sound
}
