// Package device opens the process-wide audio output.
package device

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gopxl/beep"
	"github.com/supersonic-app/audiophile/backend/audio/graph"
)

var ErrAlreadyOpen = errors.New("audio device already open")

var (
	openMu sync.Mutex
	opened bool
)

// Device is the oto-backed audio host. oto allows a single context per
// process, so only one Device may be opened; every pipeline and every
// directly playing element gets its own player on it.
//
// The device is suspended while no one holds it and resumed by the first
// Hold, so an idle player does not keep the sound card busy.
type Device struct {
	otoCtx *oto.Context
	rate   beep.SampleRate
	ready  chan struct{}

	mu        sync.Mutex
	holds     int
	suspended bool
}

var _ graph.Host = (*Device)(nil)
var _ graph.Holder = (*Device)(nil)

// Open creates the output device at sampleRate with the given buffer
// duration; a zero buffer lets oto choose. Open returns before the device
// is ready; Ready is closed once it is.
func Open(sampleRate int, buffer time.Duration) (*Device, error) {
	openMu.Lock()
	defer openMu.Unlock()
	if opened {
		return nil, ErrAlreadyOpen
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   buffer,
	}
	otoCtx, otoReady, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	opened = true

	d := &Device{
		otoCtx: otoCtx,
		rate:   beep.SampleRate(sampleRate),
		ready:  make(chan struct{}),
	}
	go func() {
		<-otoReady
		log.Printf("audio device ready at %d Hz", sampleRate)
		close(d.ready)
	}()
	return d, nil
}

func (d *Device) SampleRate() beep.SampleRate {
	return d.rate
}

func (d *Device) Ready() <-chan struct{} {
	return d.ready
}

func (d *Device) NewOutput(r io.Reader) (graph.Output, error) {
	if err := d.otoCtx.Err(); err != nil {
		return nil, fmt.Errorf("audio device failed: %w", err)
	}
	return d.otoCtx.NewPlayer(r), nil
}

// Hold keeps the device running until the matching Unhold.
func (d *Device) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holds++
	if d.holds == 1 && d.suspended {
		if err := d.otoCtx.Resume(); err != nil {
			log.Printf("error resuming oto context: %v", err)
			return
		}
		d.suspended = false
	}
}

// Unhold releases a Hold; the last release suspends the device.
func (d *Device) Unhold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.holds == 0 {
		return
	}
	d.holds--
	if d.holds == 0 && !d.suspended {
		if err := d.otoCtx.Suspend(); err != nil {
			log.Printf("error suspending oto context: %v", err)
			return
		}
		d.suspended = true
	}
}

// Holds is the number of outstanding holds.
func (d *Device) Holds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holds
}

// Suspend pauses the device regardless of holds, e.g. at shutdown.
func (d *Device) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suspended {
		return nil
	}
	if err := d.otoCtx.Suspend(); err != nil {
		return err
	}
	d.suspended = true
	return nil
}
