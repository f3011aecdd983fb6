package ffmpeg

import (
	"encoding/binary"
	"math"
	"testing"
)

func s16(vals ...int16) []byte {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func f32(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		nb       int
		channels int
		width    int
		planar   bool
		want     [][2]float64
	}{
		{
			name: "s16 interleaved", raw: s16(16384, -16384, 0, 8192),
			nb: 2, channels: 2, width: 2,
			want: [][2]float64{{0.5, -0.5}, {0, 0.25}},
		},
		{
			name: "s16 mono", raw: s16(16384, -8192),
			nb: 2, channels: 1, width: 2,
			want: [][2]float64{{0.5, 0.5}, {-0.25, -0.25}},
		},
		{
			name: "float planar", raw: f32(0.5, 0.25, -0.5, -0.25),
			nb: 2, channels: 2, width: -4, planar: true,
			want: [][2]float64{{0.5, -0.5}, {0.25, -0.25}},
		},
		{
			name: "float surround keeps front pair", raw: f32(0.1, 0.2, 0.3, 0.4, 0.5, 0.6),
			nb: 1, channels: 6, width: -4,
			want: [][2]float64{{0.1, 0.2}},
		},
		{
			name: "short buffer is silent", raw: s16(16384),
			nb: 2, channels: 2, width: 2,
			want: [][2]float64{{0.5, 0}, {0, 0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convert(tt.raw, tt.nb, tt.channels, tt.width, tt.planar)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d frames, want %d", len(got), len(tt.want))
			}
			for i := range got {
				for ch := range 2 {
					if math.Abs(got[i][ch]-tt.want[i][ch]) > 1e-6 {
						t.Errorf("frame %d ch %d = %v, want %v", i, ch, got[i][ch], tt.want[i][ch])
					}
				}
			}
		})
	}
}
