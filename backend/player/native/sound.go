package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/supersonic-app/audiophile/backend/audio/format"
	"github.com/supersonic-app/audiophile/backend/audio/graph"
	"github.com/supersonic-app/audiophile/backend/util"
)

var (
	ErrNotLoaded      = errors.New("sound not loaded")
	ErrUnloaded       = errors.New("sound unloaded")
	ErrPlaybackLocked = errors.New("playback locked until the audio device is ready")
)

type Event string

const (
	EventLoad      Event = "load"
	EventLoadError Event = "loaderror"
	EventPlay      Event = "play"
	EventPlayError Event = "playerror"
	EventPause     Event = "pause"
	EventSeek      Event = "seek"
	EventEnd       Event = "end"
	EventUnlock    Event = "unlock"
)

// Handler receives an event. err is set for EventLoadError and
// EventPlayError and nil otherwise.
type Handler func(err error)

type handlerEntry struct {
	id   int
	fn   Handler
	once bool
}

type event struct {
	ev  Event
	err error
}

type loadState int

const (
	stateUnloaded loadState = iota
	stateLoading
	stateLoaded
)

// Sound is one source as seen by the player: it loads in the background,
// then plays through its Element. Events are delivered in order on a
// goroutine owned by the sound, never on the caller's.
type Sound struct {
	id     string
	src    string
	engine *Engine

	mu          sync.Mutex
	state       loadState
	el          *Element
	info        format.Info
	volume      float64
	handlers    map[Event][]handlerEntry
	nextID      int
	cancelLoad  context.CancelFunc
	unlockArmed bool

	queueMu sync.Mutex
	queue   []event
	wake    chan struct{}
	done    chan struct{}
	doneMu  sync.Once
}

// NewSound creates an unloaded sound for a local path or http(s) URL.
func (e *Engine) NewSound(src string) *Sound {
	s := &Sound{
		id:       uuid.NewString(),
		src:      src,
		engine:   e,
		volume:   1,
		handlers: make(map[Event][]handlerEntry),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.dispatchLoop()
	return s
}

func (s *Sound) ID() string {
	return s.id
}

func (s *Sound) Source() string {
	return s.src
}

// On registers fn for ev and returns an id for Off.
func (s *Sound) On(ev Event, fn Handler) int {
	return s.addHandler(ev, fn, false)
}

// Once registers fn for the next ev only.
func (s *Sound) Once(ev Event, fn Handler) int {
	return s.addHandler(ev, fn, true)
}

func (s *Sound) Off(ev Event, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := s.handlers[ev]
	for i, h := range hs {
		if h.id == id {
			s.handlers[ev] = append(hs[:i:i], hs[i+1:]...)
			return
		}
	}
}

func (s *Sound) addHandler(ev Event, fn Handler, once bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.handlers[ev] = append(s.handlers[ev], handlerEntry{id: s.nextID, fn: fn, once: once})
	return s.nextID
}

func (s *Sound) emit(ev Event, err error) {
	s.queueMu.Lock()
	s.queue = append(s.queue, event{ev: ev, err: err})
	s.queueMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Sound) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queueMu.Unlock()
				break
			}
			e := s.queue[0]
			s.queue = s.queue[1:]
			s.queueMu.Unlock()
			s.dispatch(e)
		}
	}
}

func (s *Sound) dispatch(e event) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	hs := s.handlers[e.ev]
	var fns []Handler
	kept := hs[:0:0]
	for _, h := range hs {
		fns = append(fns, h.fn)
		if !h.once {
			kept = append(kept, h)
		}
	}
	s.handlers[e.ev] = kept
	s.mu.Unlock()

	for _, fn := range fns {
		fn(e.err)
	}
}

// Load starts loading in the background. It emits EventLoad or
// EventLoadError. Calling Load on a loading or loaded sound does nothing.
func (s *Sound) Load() {
	s.mu.Lock()
	if s.state != stateUnloaded || s.isDone() {
		s.mu.Unlock()
		return
	}
	s.state = stateLoading
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelLoad = cancel
	s.mu.Unlock()

	go s.load(ctx)
}

func (s *Sound) load(ctx context.Context) {
	start := time.Now()
	el, info, err := s.engine.open(ctx, s.src, func() { s.emit(EventEnd, nil) })

	s.mu.Lock()
	if ctx.Err() != nil || s.isDone() {
		s.mu.Unlock()
		if el != nil {
			el.Close()
		}
		return
	}
	if err != nil {
		s.state = stateUnloaded
		s.mu.Unlock()
		log.Printf("failed to load %s: %v", s.src, err)
		s.emit(EventLoadError, err)
		return
	}
	el.SetVolume(s.volume)
	s.el = el
	s.info = info
	s.state = stateLoaded
	s.mu.Unlock()

	log.Printf("loaded %s (%s) in %v", s.src, format.TechnicalSpecs(info), time.Since(start))
	s.emit(EventLoad, nil)
}

func (s *Sound) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateLoaded
}

// Play starts playback. While the audio device is not ready yet it fails
// with ErrPlaybackLocked and emits EventPlayError; EventUnlock follows once
// the device becomes ready.
func (s *Sound) Play() error {
	s.mu.Lock()
	el := s.el
	if s.state != stateLoaded || el == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	if s.engine.Locked() {
		arm := !s.unlockArmed
		s.unlockArmed = true
		s.mu.Unlock()
		if arm {
			go s.awaitUnlock()
		}
		s.emit(EventPlayError, ErrPlaybackLocked)
		return ErrPlaybackLocked
	}
	s.mu.Unlock()

	el.Play()
	s.emit(EventPlay, nil)
	return nil
}

func (s *Sound) awaitUnlock() {
	select {
	case <-s.engine.host.Ready():
		s.mu.Lock()
		s.unlockArmed = false
		s.mu.Unlock()
		s.emit(EventUnlock, nil)
	case <-s.done:
	}
}

func (s *Sound) Pause() {
	s.mu.Lock()
	el := s.el
	s.mu.Unlock()
	if el == nil {
		return
	}
	el.Pause()
	s.emit(EventPause, nil)
}

func (s *Sound) Playing() bool {
	s.mu.Lock()
	el := s.el
	s.mu.Unlock()
	return el != nil && el.Playing()
}

func (s *Sound) Seek(d time.Duration) error {
	s.mu.Lock()
	el := s.el
	s.mu.Unlock()
	if el == nil {
		return ErrNotLoaded
	}
	if err := el.Seek(d); err != nil {
		return err
	}
	s.emit(EventSeek, nil)
	return nil
}

func (s *Sound) Position() time.Duration {
	s.mu.Lock()
	el := s.el
	s.mu.Unlock()
	if el == nil {
		return 0
	}
	return el.Position()
}

func (s *Sound) Duration() time.Duration {
	s.mu.Lock()
	el := s.el
	s.mu.Unlock()
	if el == nil {
		return 0
	}
	return el.Duration()
}

// SetVolume sets the sound's own volume in [0, 1]. It is remembered across
// loading.
func (s *Sound) SetVolume(v float64) {
	v = util.Clamp(v, 0, 1)
	s.mu.Lock()
	s.volume = v
	el := s.el
	s.mu.Unlock()
	if el != nil {
		el.SetVolume(v)
	}
}

func (s *Sound) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Element returns the media element, or nil before the sound has loaded.
func (s *Sound) Element() graph.MediaElement {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.el == nil {
		return nil
	}
	return s.el
}

// Format returns the detected format, valid once loaded.
func (s *Sound) Format() format.Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Unload cancels any load in progress, stops playback, closes the element
// and drops all handlers. No events are delivered afterwards. Calling it
// again does nothing.
func (s *Sound) Unload() {
	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		return
	}
	s.doneMu.Do(func() { close(s.done) })
	if s.cancelLoad != nil {
		s.cancelLoad()
	}
	el := s.el
	s.el = nil
	s.state = stateUnloaded
	s.handlers = make(map[Event][]handlerEntry)
	s.mu.Unlock()

	if el != nil {
		if err := el.Close(); err != nil {
			log.Printf("error closing %s: %v", s.src, err)
		}
	}
}

func (s *Sound) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// openSource opens a local file or remote URL for decoding.
func (e *Engine) openSource(ctx context.Context, src string) (io.ReadCloser, error) {
	if util.IsURL(src) {
		return OpenHTTP(ctx, e.HTTPClient, src)
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}
