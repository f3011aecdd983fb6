package native

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

var ErrStreamClosed = errors.New("stream closed")

// StreamSeeker provides a ReadSeeker interface with progressive buffering
// This allows decoders to work while the stream is still downloading
type StreamSeeker struct {
	reader io.ReadCloser
	length int64 // expected total size, or -1 if unknown

	mu     sync.Mutex
	cond   *sync.Cond
	buffer bytes.Buffer
	pos    int64
	done   bool
	closed bool
	err    error
}

// NewStreamSeeker creates a new StreamSeeker that buffers in the background.
// length is the expected size of the stream, or -1 if unknown.
func NewStreamSeeker(r io.ReadCloser, length int64) *StreamSeeker {
	ss := &StreamSeeker{
		reader: r,
		length: length,
	}
	ss.cond = sync.NewCond(&ss.mu)

	go ss.bufferInBackground()

	return ss
}

// bufferInBackground reads from the source and buffers data
func (ss *StreamSeeker) bufferInBackground() {
	defer func() {
		ss.mu.Lock()
		ss.done = true
		log.Printf("StreamSeeker: buffering complete, total bytes: %d", ss.buffer.Len())
		ss.cond.Broadcast()
		ss.mu.Unlock()
	}()

	buf := make([]byte, 32*1024)
	nextLog := 1024 * 1024
	for {
		n, err := ss.reader.Read(buf)
		if n > 0 {
			ss.mu.Lock()
			ss.buffer.Write(buf[:n])
			total := ss.buffer.Len()
			ss.cond.Broadcast()
			ss.mu.Unlock()

			if total >= nextLog {
				log.Printf("StreamSeeker: buffered %d MB", total/(1024*1024))
				nextLog += 1024 * 1024
			}
		}
		if err != nil {
			if err != io.EOF {
				ss.mu.Lock()
				if !ss.closed {
					ss.err = err
					log.Printf("StreamSeeker background error: %v", err)
				}
				ss.mu.Unlock()
			}
			return
		}
	}
}

// Read implements io.Reader. It blocks until data at the current position
// has been buffered or the download has finished.
func (ss *StreamSeeker) Read(p []byte) (int, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	for !ss.closed && !ss.done && ss.pos >= int64(ss.buffer.Len()) {
		ss.cond.Wait()
	}
	if ss.closed {
		return 0, ErrStreamClosed
	}

	data := ss.buffer.Bytes()
	if ss.pos >= int64(len(data)) {
		if ss.err != nil {
			return 0, ss.err
		}
		return 0, io.EOF
	}
	n := copy(p, data[ss.pos:])
	ss.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker. Positions past the buffered data are allowed;
// the next Read waits for them.
func (ss *StreamSeeker) Seek(offset int64, whence int) (int64, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = ss.pos + offset
	case io.SeekEnd:
		end := ss.length
		if end < 0 {
			for !ss.done && !ss.closed {
				ss.cond.Wait()
			}
			end = int64(ss.buffer.Len())
		}
		newPos = end + offset
	default:
		return ss.pos, fmt.Errorf("invalid whence: %d", whence)
	}

	if newPos < 0 {
		return ss.pos, fmt.Errorf("negative position")
	}
	if ss.done && newPos > int64(ss.buffer.Len()) {
		newPos = int64(ss.buffer.Len())
	}

	ss.pos = newPos
	return ss.pos, nil
}

// Buffered returns the number of bytes downloaded so far.
func (ss *StreamSeeker) Buffered() int64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return int64(ss.buffer.Len())
}

// Close implements io.Closer
func (ss *StreamSeeker) Close() error {
	ss.mu.Lock()
	ss.closed = true
	ss.cond.Broadcast()
	ss.mu.Unlock()
	return ss.reader.Close()
}
