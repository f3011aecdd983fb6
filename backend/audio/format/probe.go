package format

import (
	"log"
	"os"
	"time"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	"github.com/mewkiz/flac"
)

// Probe detects the container of a local file and then parses its stream
// headers to fill in sample rate, bit depth and bitrate where the format
// allows. Parse failures leave the header-level Info untouched.
func Probe(path string) Info {
	info := DetectFile(path)

	st, err := os.Stat(path)
	if err != nil {
		return info
	}
	size := st.Size()

	switch info.Format {
	case WAV:
		probeWAV(path, &info)
	case FLAC:
		probeFLAC(path, size, &info)
	case MP3:
		probeMP3(path, size, &info)
	case OGG:
		probeOgg(path, &info)
	}
	return info
}

func probeWAV(path string, info *Info) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return
	}
	info.SampleRate = int(d.SampleRate)
	info.BitDepth = int(d.BitDepth)
	info.Bitrate = int(d.SampleRate) * int(d.BitDepth) * int(d.NumChans)
}

func probeFLAC(path string, size int64, info *Info) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		log.Printf("flac probe %s: %v", path, err)
		return
	}
	defer stream.Close()

	info.SampleRate = int(stream.Info.SampleRate)
	info.BitDepth = int(stream.Info.BitsPerSample)
	if stream.Info.SampleRate > 0 && stream.Info.NSamples > 0 {
		secs := float64(stream.Info.NSamples) / float64(stream.Info.SampleRate)
		info.Bitrate = bitrate(size, secs)
	}
}

func probeMP3(path string, size int64, info *Info) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	d, err := gomp3.NewDecoder(f)
	if err != nil {
		log.Printf("mp3 probe %s: %v", path, err)
		return
	}
	info.SampleRate = d.SampleRate()
	// go-mp3 always decodes to 16-bit stereo: 4 bytes per frame
	if d.Length() > 0 && d.SampleRate() > 0 {
		dur := time.Duration(d.Length()/4) * time.Second / time.Duration(d.SampleRate())
		info.Bitrate = bitrate(size, dur.Seconds())
	}
}

func probeOgg(path string, info *Info) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	ogg, err := oggvorbis.GetFormat(f)
	if err != nil {
		// not Vorbis, most likely Opus
		return
	}
	info.Codec = "Vorbis"
	info.SampleRate = ogg.SampleRate
	info.Bitrate = ogg.Bitrate.Nominal
}

func bitrate(size int64, secs float64) int {
	if secs <= 0 {
		return 0
	}
	return int(float64(size*8) / secs)
}
