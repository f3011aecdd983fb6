// Package ffmpeg decodes containers the pure Go decoders cannot, such as
// M4A and Ogg Opus, through libav.
package ffmpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/gopxl/beep"
	"github.com/supersonic-app/audiophile/backend/audio/format"
	"github.com/supersonic-app/audiophile/backend/player/native"
)

// Formats are the formats Register hands to libav.
var Formats = []format.Format{format.M4A, format.Opus}

// Register installs the libav decoder for Formats on e.
func Register(e *native.Engine) {
	for _, f := range Formats {
		e.RegisterDecoder(f, Decode)
	}
}

// Decode is a native.DecodeFunc. libav opens src itself, so r is closed
// right away.
func Decode(r io.ReadCloser, src string) (beep.StreamSeekCloser, beep.Format, error) {
	if r != nil {
		r.Close()
	}
	d, err := NewDecoder(src)
	if err != nil {
		return nil, beep.Format{}, err
	}
	return d, d.Format(), nil
}

// Decoder streams the first audio stream of a file or URL as stereo
// samples.
type Decoder struct {
	mu sync.Mutex

	formatContext  *astiav.FormatContext
	codecContext   *astiav.CodecContext
	codec          *astiav.Codec
	audioStreamIdx int
	packet         *astiav.Packet
	frame          *astiav.Frame
	sampleRate     int
	numChannels    int
	eof            bool
	err            error

	// decoded samples not yet streamed
	buffer [][2]float64
	pos    int
}

func NewDecoder(src string) (*Decoder, error) {
	d := &Decoder{audioStreamIdx: -1}

	d.formatContext = astiav.AllocFormatContext()
	if d.formatContext == nil {
		return nil, errors.New("failed to allocate format context")
	}
	if err := d.formatContext.OpenInput(src, nil, nil); err != nil {
		d.formatContext.Free()
		return nil, fmt.Errorf("failed to open input '%s': %w", src, err)
	}
	if err := d.formatContext.FindStreamInfo(nil); err != nil {
		d.cleanup()
		return nil, fmt.Errorf("failed to find stream info: %w", err)
	}

	for _, stream := range d.formatContext.Streams() {
		params := stream.CodecParameters()
		if params.MediaType() != astiav.MediaTypeAudio {
			continue
		}
		d.audioStreamIdx = stream.Index()
		d.sampleRate = params.SampleRate()
		d.numChannels = params.ChannelLayout().Channels()
		d.codec = astiav.FindDecoder(params.CodecID())
		if d.codec == nil {
			d.cleanup()
			return nil, fmt.Errorf("codec not found for codec ID: %v", params.CodecID())
		}
		break
	}
	if d.audioStreamIdx < 0 {
		d.cleanup()
		return nil, errors.New("no audio stream found")
	}
	if err := d.openCodec(); err != nil {
		d.cleanup()
		return nil, err
	}

	d.packet = astiav.AllocPacket()
	d.frame = astiav.AllocFrame()
	if d.packet == nil || d.frame == nil {
		d.cleanup()
		return nil, errors.New("failed to allocate packet")
	}

	log.Printf("ffmpeg decoder ready: %d Hz, %d channels, codec: %s, sample format: %s",
		d.sampleRate, d.numChannels, d.codec.Name(), d.codecContext.SampleFormat().Name())
	return d, nil
}

// openCodec (re)creates the codec context. Reopening after a seek drops
// whatever the decoder still had buffered.
func (d *Decoder) openCodec() error {
	if d.codecContext != nil {
		d.codecContext.Free()
	}
	d.codecContext = astiav.AllocCodecContext(d.codec)
	if d.codecContext == nil {
		return errors.New("failed to allocate codec context")
	}
	params := d.formatContext.Streams()[d.audioStreamIdx].CodecParameters()
	if err := params.ToCodecContext(d.codecContext); err != nil {
		return fmt.Errorf("failed to copy codec parameters: %w", err)
	}
	if err := d.codecContext.Open(d.codec, nil); err != nil {
		return fmt.Errorf("failed to open codec: %w", err)
	}
	return nil
}

func (d *Decoder) Format() beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(d.sampleRate),
		NumChannels: 2,
		Precision:   4,
	}
}

func (d *Decoder) Stream(samples [][2]float64) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.formatContext == nil {
		return 0, false
	}

	n := 0
	for n < len(samples) {
		if len(d.buffer) > 0 {
			c := copy(samples[n:], d.buffer)
			d.buffer = d.buffer[c:]
			d.pos += c
			n += c
			continue
		}
		if d.eof || d.err != nil {
			break
		}
		if err := d.decodeFrame(); err != nil {
			d.err = err
			break
		}
	}
	return n, n > 0
}

// decodeFrame reads packets until one frame is decoded into d.buffer or
// the input ends.
func (d *Decoder) decodeFrame() error {
	for {
		err := d.codecContext.ReceiveFrame(d.frame)
		if err == nil {
			d.buffer = toStereo(d.frame, d.numChannels)
			d.frame.Unref()
			return nil
		}
		if errors.Is(err, astiav.ErrEof) {
			d.eof = true
			return nil
		}
		if !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("failed to receive frame: %w", err)
		}

		if err := d.formatContext.ReadFrame(d.packet); err != nil {
			if !errors.Is(err, astiav.ErrEof) {
				return fmt.Errorf("failed to read frame: %w", err)
			}
			// drain
			if err := d.codecContext.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
				return fmt.Errorf("failed to flush decoder: %w", err)
			}
			continue
		}
		if d.packet.StreamIndex() != d.audioStreamIdx {
			d.packet.Unref()
			continue
		}
		err = d.codecContext.SendPacket(d.packet)
		d.packet.Unref()
		if err != nil {
			return fmt.Errorf("failed to send packet: %w", err)
		}
	}
}

func toStereo(frame *astiav.Frame, channels int) [][2]float64 {
	nb := frame.NbSamples()
	sf := frame.SampleFormat()
	width, planar, ok := sampleLayout(sf)
	if !ok || channels < 1 {
		log.Printf("unsupported sample format %s", sf.Name())
		return make([][2]float64, nb)
	}
	raw := make([]byte, nb*channels*width)
	n, err := frame.SamplesCopyToBuffer(raw, 1)
	if err != nil {
		log.Printf("error copying samples to buffer: %v", err)
		return make([][2]float64, nb)
	}
	return convert(raw[:n], nb, channels, width, planar)
}

// sampleLayout returns the byte width of one sample and whether channels
// are stored in separate planes.
func sampleLayout(sf astiav.SampleFormat) (width int, planar bool, ok bool) {
	switch sf {
	case astiav.SampleFormatS16:
		return 2, false, true
	case astiav.SampleFormatS16P:
		return 2, true, true
	case astiav.SampleFormatS32:
		return 4, false, true
	case astiav.SampleFormatS32P:
		return 4, true, true
	case astiav.SampleFormatFlt:
		return -4, false, true
	case astiav.SampleFormatFltp:
		return -4, true, true
	}
	return 0, false, false
}

// convert decodes little-endian PCM into stereo frames. A negative width
// means float32. Mono is duplicated; channels past the second are dropped.
func convert(raw []byte, nb, channels, width int, planar bool) [][2]float64 {
	float := width < 0
	if float {
		width = -width
	}
	sample := func(i, ch int) float64 {
		var off int
		if planar {
			off = (ch*nb + i) * width
		} else {
			off = (i*channels + ch) * width
		}
		if off+width > len(raw) {
			return 0
		}
		b := raw[off : off+width]
		switch {
		case float:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case width == 2:
			return float64(int16(binary.LittleEndian.Uint16(b))) / (1 << 15)
		default:
			return float64(int32(binary.LittleEndian.Uint32(b))) / (1 << 31)
		}
	}

	out := make([][2]float64, nb)
	right := min(1, channels-1)
	for i := range out {
		out[i] = [2]float64{sample(i, 0), sample(i, right)}
	}
	return out
}

func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Len is the stream length in frames, or 0 when libav does not know it.
func (d *Decoder) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.formatContext == nil {
		return 0
	}
	dur := time.Duration(d.formatContext.Duration()) * time.Microsecond
	return beep.SampleRate(d.sampleRate).N(max(0, dur))
}

func (d *Decoder) Position() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pos
}

func (d *Decoder) Seek(p int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.formatContext == nil {
		return errors.New("decoder closed")
	}

	offset := beep.SampleRate(d.sampleRate).D(p)
	tb := d.formatContext.Streams()[d.audioStreamIdx].TimeBase()
	ts := int64(offset.Seconds() * float64(tb.Den()) / float64(tb.Num()))
	if err := d.formatContext.SeekFrame(d.audioStreamIdx, ts, astiav.NewSeekFlags(astiav.SeekFlagBackward)); err != nil {
		return fmt.Errorf("seek failed: %w", err)
	}
	if err := d.openCodec(); err != nil {
		d.err = err
		return err
	}

	d.buffer = nil
	d.pos = p
	d.eof = false
	d.err = nil
	return nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanup()
	return nil
}

func (d *Decoder) cleanup() {
	if d.frame != nil {
		d.frame.Free()
		d.frame = nil
	}
	if d.packet != nil {
		d.packet.Free()
		d.packet = nil
	}
	if d.codecContext != nil {
		d.codecContext.Free()
		d.codecContext = nil
	}
	if d.formatContext != nil {
		d.formatContext.CloseInput()
		d.formatContext.Free()
		d.formatContext = nil
	}
}
