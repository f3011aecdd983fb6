// Package format identifies audio containers from their leading bytes or,
// failing that, from their file extension.
package format

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/h2non/filetype"
	"github.com/supersonic-app/audiophile/backend/util"
)

// Format is the closed set of containers the player knows about.
type Format string

const (
	MP3     Format = "mp3"
	WAV     Format = "wav"
	FLAC    Format = "flac"
	M4A     Format = "m4a"
	OGG     Format = "ogg"
	Opus    Format = "opus"
	Unknown Format = "unknown"
)

// HeaderSize is how many leading bytes DetectReader consumes. Magic byte
// checks only look at the first 12; the rest lets filetype recognise
// non-audio content.
const HeaderSize = 262

// Info describes a container. Zero numeric fields and an empty Codec mean
// the value is not known.
type Info struct {
	Format     Format
	MIMEType   string
	BitDepth   int
	SampleRate int
	Bitrate    int // bits per second
	Codec      string
}

var unknownInfo = Info{Format: Unknown, MIMEType: "audio/mpeg"}

var extensionInfo = map[string]Info{
	"mp3":  {Format: MP3, MIMEType: "audio/mpeg", Codec: "MP3"},
	"wav":  {Format: WAV, MIMEType: "audio/wav", Codec: "PCM"},
	"flac": {Format: FLAC, MIMEType: "audio/flac", Codec: "FLAC"},
	"m4a":  {Format: M4A, MIMEType: "audio/mp4", Codec: "AAC"},
	"ogg":  {Format: OGG, MIMEType: "audio/ogg", Codec: "Vorbis"},
	"opus": {Format: Opus, MIMEType: "audio/ogg; codecs=opus", Codec: "Opus"},
}

var (
	magicFLAC = []byte("fLaC")
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicID3  = []byte("ID3")
	magicFtyp = []byte("ftyp")
	magicOggS = []byte("OggS")

	brandM4A  = []byte("M4A ")
	brandMP41 = []byte("mp41")

	oggOpusHead   = []byte("OpusHead")
	oggVorbisHead = []byte("\x01vorbis")
)

// Detect identifies the container of head, the leading bytes of a file.
// When no signature matches and name is not empty, the extension of name
// decides, unless the header positively identifies some other, non-audio
// file type. Detect never fails; unrecognised input yields Unknown with an
// audio/mpeg MIME type.
func Detect(head []byte, name string) Info {
	if info, ok := detectMagic(head); ok {
		return info
	}
	if name == "" || contradicted(head) {
		return unknownInfo
	}
	return DetectURL(name)
}

// DetectURL identifies a container by the substring after the last dot of
// url. No bytes are read.
func DetectURL(url string) Info {
	if info, ok := extensionInfo[util.Extension(url)]; ok {
		return info
	}
	return unknownInfo
}

// DetectReader reads up to HeaderSize bytes from r and calls Detect. Read
// errors are treated like a short header.
func DetectReader(r io.Reader, name string) Info {
	head := make([]byte, HeaderSize)
	n, _ := io.ReadFull(r, head)
	return Detect(head[:n], name)
}

// DetectFile detects the container of the file at path, falling back to
// its extension when the file cannot be read.
func DetectFile(path string) Info {
	f, err := os.Open(path)
	if err != nil {
		return DetectURL(path)
	}
	defer f.Close()
	return DetectReader(f, path)
}

func detectMagic(head []byte) (Info, bool) {
	if len(head) >= 4 && bytes.Equal(head[:4], magicFLAC) {
		return Info{Format: FLAC, MIMEType: "audio/flac", Codec: "FLAC"}, true
	}

	if len(head) >= 12 && bytes.Equal(head[:4], magicRIFF) && bytes.Equal(head[8:12], magicWAVE) {
		info := Info{Format: WAV, MIMEType: "audio/wav", Codec: "PCM"}
		if len(head) >= 36 {
			info.SampleRate = int(binary.LittleEndian.Uint32(head[24:28]))
			info.BitDepth = int(binary.LittleEndian.Uint16(head[34:36]))
		}
		return info, true
	}

	if len(head) >= 3 && bytes.Equal(head[:3], magicID3) {
		return Info{Format: MP3, MIMEType: "audio/mpeg", Codec: "MP3"}, true
	}
	// MPEG frame sync: the top 11 bits are set
	if len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0 {
		return Info{Format: MP3, MIMEType: "audio/mpeg", Codec: "MP3"}, true
	}

	if len(head) >= 12 && bytes.Equal(head[4:8], magicFtyp) {
		if isM4ABrand(head[8:12]) || (len(head) >= 16 && isM4ABrand(head[12:16])) {
			return Info{Format: M4A, MIMEType: "audio/mp4", Codec: "AAC"}, true
		}
	}

	if len(head) >= 4 && bytes.Equal(head[:4], magicOggS) {
		codec := "Vorbis/Opus"
		switch {
		case bytes.Contains(head, oggOpusHead):
			codec = "Opus"
		case bytes.Contains(head, oggVorbisHead):
			codec = "Vorbis"
		}
		return Info{Format: OGG, MIMEType: "audio/ogg", Codec: codec}, true
	}

	return Info{}, false
}

func isM4ABrand(b []byte) bool {
	return bytes.Equal(b, brandM4A) || bytes.Equal(b, brandMP41)
}

// contradicted reports whether head is recognisably a type that cannot
// carry audio, such as an image or archive, in which case the file name is
// not trusted. Video containers like ISO-BMFF with an isom or mp42 brand
// often hold plain audio and do not count.
func contradicted(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return false
	}
	switch kind.MIME.Type {
	case "audio", "video":
		return false
	}
	return true
}

// QualityLabel maps format info to the badge shown next to a track.
func QualityLabel(info Info) string {
	switch {
	case info.Format == FLAC || info.Format == WAV:
		if info.BitDepth > 16 {
			return "Ultra HiFi"
		}
		return "Lossless"
	case info.Format == M4A && info.Codec == "AAC":
		return "High"
	default:
		return "Standard"
	}
}

// TechnicalSpecs renders e.g. "96kHz • 24-bit • FLAC", omitting unknown
// fields. With nothing known it returns the upper-cased format name.
func TechnicalSpecs(info Info) string {
	var parts []string
	if info.SampleRate > 0 {
		parts = append(parts, formatKHz(info.SampleRate)+"kHz")
	}
	if info.BitDepth > 0 {
		parts = append(parts, fmt.Sprintf("%d-bit", info.BitDepth))
	}
	if info.Codec != "" {
		parts = append(parts, info.Codec)
	}
	if len(parts) == 0 {
		return strings.ToUpper(string(info.Format))
	}
	return strings.Join(parts, " • ")
}

func formatKHz(hz int) string {
	if hz%1000 == 0 {
		return fmt.Sprintf("%d", hz/1000)
	}
	return strings.TrimRight(fmt.Sprintf("%.3f", float64(hz)/1000), "0")
}
