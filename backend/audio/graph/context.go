package graph

import (
	"fmt"
	"io"
	"sync"

	"github.com/gopxl/beep"
)

// Context renders one processing chain into one host Output. A new Context
// starts suspended.
//
// The render lock is held while the output pulls samples and while node
// parameters change, so a parameter update never lands halfway through a
// buffer. Output methods are never called with the render lock held.
type Context struct {
	host Host
	out  Output

	opMu sync.Mutex // serializes Resume, Suspend and Close

	mu     sync.Mutex // render lock
	state  State
	input  beep.Streamer
	reader *StreamReader
}

func NewContext(host Host) (*Context, error) {
	if host == nil {
		return nil, ErrNoHost
	}
	c := &Context{host: host}
	c.reader = NewStreamReader(beep.StreamerFunc(c.render))
	out, err := host.NewOutput(c)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	c.out = out
	return c, nil
}

func (c *Context) SampleRate() beep.SampleRate {
	return c.host.SampleRate()
}

func (c *Context) Host() Host {
	return c.host
}

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetInput sets the streamer rendered to the output, usually the last node
// of a chain. nil renders silence.
func (c *Context) SetInput(s beep.Streamer) {
	c.mu.Lock()
	c.input = s
	c.mu.Unlock()
}

// Resume starts the output. Calling it on a running context does nothing.
func (c *Context) Resume() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Running:
		c.mu.Unlock()
		return nil
	}
	c.state = Running
	c.mu.Unlock()

	hold(c.host)
	c.out.Play()
	return nil
}

// Suspend pauses the output, keeping the graph intact.
func (c *Context) Suspend() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Suspended:
		c.mu.Unlock()
		return nil
	}
	c.state = Suspended
	c.mu.Unlock()

	c.out.Pause()
	unhold(c.host)
	return nil
}

// Close stops rendering and closes the output. Closing twice is a no-op.
func (c *Context) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	prev := c.state
	if prev == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	c.input = nil
	c.mu.Unlock()

	if prev == Running {
		c.out.Pause()
		unhold(c.host)
	}
	return c.out.Close()
}

// Read renders the next len(p)/8 frames. It is called by the host output.
func (c *Context) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return 0, io.EOF
	}
	return c.reader.Read(p)
}

// must be called with the render lock held
func (c *Context) render(samples [][2]float64) (int, bool) {
	if c.state != Running || c.input == nil {
		return 0, false
	}
	return c.input.Stream(samples)
}

func (c *Context) lock()   { c.mu.Lock() }
func (c *Context) unlock() { c.mu.Unlock() }
