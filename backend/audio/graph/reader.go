package graph

import (
	"encoding/binary"
	"math"

	"github.com/gopxl/beep"
)

// BytesPerFrame is the size of one interleaved stereo float32 frame.
const BytesPerFrame = 8

// StreamReader adapts a beep.Streamer to the byte stream an Output pulls.
// Whatever the streamer does not fill is padded with silence, so the reader
// never ends on its own.
type StreamReader struct {
	s   beep.Streamer
	buf [][2]float64
}

func NewStreamReader(s beep.Streamer) *StreamReader {
	return &StreamReader{s: s}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	frames := len(p) / BytesPerFrame
	if frames == 0 {
		return 0, nil
	}
	if cap(r.buf) < frames {
		r.buf = make([][2]float64, frames)
	}
	buf := r.buf[:frames]

	filled := 0
	if r.s != nil {
		for filled < frames {
			n, ok := r.s.Stream(buf[filled:])
			filled += n
			if !ok || n == 0 {
				break
			}
		}
	}
	for i := filled; i < frames; i++ {
		buf[i] = [2]float64{}
	}
	EncodeFloat32LE(p, buf)
	return frames * BytesPerFrame, nil
}

// EncodeFloat32LE writes samples into p as interleaved float32 little-endian,
// clipping to [-1, 1]. p must hold len(samples)*BytesPerFrame bytes.
func EncodeFloat32LE(p []byte, samples [][2]float64) {
	for i, s := range samples {
		for c := 0; c < 2; c++ {
			v := s[c]
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			binary.LittleEndian.PutUint32(p[i*BytesPerFrame+c*4:], math.Float32bits(float32(v)))
		}
	}
}

// DecodeFloat32LE is the inverse of EncodeFloat32LE.
func DecodeFloat32LE(p []byte) [][2]float64 {
	out := make([][2]float64, len(p)/BytesPerFrame)
	for i := range out {
		out[i][0] = float64(math.Float32frombits(binary.LittleEndian.Uint32(p[i*BytesPerFrame:])))
		out[i][1] = float64(math.Float32frombits(binary.LittleEndian.Uint32(p[i*BytesPerFrame+4:])))
	}
	return out
}
