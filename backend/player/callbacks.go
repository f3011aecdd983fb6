package player

import "sync"

// BasePlayerCallbackImpl keeps the registered player callbacks and invokes
// them in registration order. Embed it to get the On* and Invoke* methods.
type BasePlayerCallbackImpl struct {
	cbMu        sync.Mutex
	onLoaded    []func()
	onLoadError []func(error)
	onPlaying   []func()
	onPaused    []func()
	onStopped   []func()
	onTrackEnd  []func()
}

// OnLoaded registers a callback invoked when a track has loaded.
func (b *BasePlayerCallbackImpl) OnLoaded(cb func()) {
	b.cbMu.Lock()
	b.onLoaded = append(b.onLoaded, cb)
	b.cbMu.Unlock()
}

// OnLoadError registers a callback invoked when a track fails to load.
func (b *BasePlayerCallbackImpl) OnLoadError(cb func(error)) {
	b.cbMu.Lock()
	b.onLoadError = append(b.onLoadError, cb)
	b.cbMu.Unlock()
}

// OnPlaying registers a callback invoked when playback starts.
func (b *BasePlayerCallbackImpl) OnPlaying(cb func()) {
	b.cbMu.Lock()
	b.onPlaying = append(b.onPlaying, cb)
	b.cbMu.Unlock()
}

// OnPaused registers a callback invoked when playback pauses.
func (b *BasePlayerCallbackImpl) OnPaused(cb func()) {
	b.cbMu.Lock()
	b.onPaused = append(b.onPaused, cb)
	b.cbMu.Unlock()
}

// OnStopped registers a callback invoked when a loaded track is unloaded.
func (b *BasePlayerCallbackImpl) OnStopped(cb func()) {
	b.cbMu.Lock()
	b.onStopped = append(b.onStopped, cb)
	b.cbMu.Unlock()
}

// OnTrackEnd registers a callback invoked when a track plays to its end.
func (b *BasePlayerCallbackImpl) OnTrackEnd(cb func()) {
	b.cbMu.Lock()
	b.onTrackEnd = append(b.onTrackEnd, cb)
	b.cbMu.Unlock()
}

func (b *BasePlayerCallbackImpl) InvokeOnLoaded() {
	for _, cb := range snapshot(&b.cbMu, &b.onLoaded) {
		cb()
	}
}

func (b *BasePlayerCallbackImpl) InvokeOnLoadError(err error) {
	for _, cb := range snapshot(&b.cbMu, &b.onLoadError) {
		cb(err)
	}
}

func (b *BasePlayerCallbackImpl) InvokeOnPlaying() {
	for _, cb := range snapshot(&b.cbMu, &b.onPlaying) {
		cb()
	}
}

func (b *BasePlayerCallbackImpl) InvokeOnPaused() {
	for _, cb := range snapshot(&b.cbMu, &b.onPaused) {
		cb()
	}
}

func (b *BasePlayerCallbackImpl) InvokeOnStopped() {
	for _, cb := range snapshot(&b.cbMu, &b.onStopped) {
		cb()
	}
}

func (b *BasePlayerCallbackImpl) InvokeOnTrackEnd() {
	for _, cb := range snapshot(&b.cbMu, &b.onTrackEnd) {
		cb()
	}
}

func snapshot[T any](mu *sync.Mutex, cbs *[]T) []T {
	mu.Lock()
	defer mu.Unlock()
	return append([]T(nil), *cbs...)
}
