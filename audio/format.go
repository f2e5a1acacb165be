// Package audio normalizes inbound call audio into 16 kHz mono 16-bit PCM.
package audio

import "bytes"

// Canonical recognition format.
const (
	SampleRate     = 16000
	Channels       = 1
	BytesPerSample = 2
)

// Format identifies the encoding of an inbound audio chunk.
type Format string

const (
	FormatPCM16   Format = "pcm16"
	FormatWAV     Format = "wav"
	FormatOgg     Format = "ogg"
	FormatWebM    Format = "webm"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatMulaw   Format = "mulaw" // declared by the transport, never sniffed
	FormatUnknown Format = "unknown"
)

var (
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicOgg  = []byte("OggS")
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicID3  = []byte("ID3")
	magicFLAC = []byte("fLaC")
)

// DetectFormat inspects the magic-byte prefix of chunk.
// Chunks without a recognised container signature are treated as raw PCM.
func DetectFormat(chunk []byte) Format {
	switch {
	case len(chunk) == 0:
		return FormatUnknown
	case len(chunk) >= 12 && bytes.HasPrefix(chunk, magicRIFF) && bytes.Equal(chunk[8:12], magicWAVE):
		return FormatWAV
	case bytes.HasPrefix(chunk, magicOgg):
		return FormatOgg
	case bytes.HasPrefix(chunk, magicEBML):
		return FormatWebM
	case bytes.HasPrefix(chunk, magicFLAC):
		return FormatFLAC
	case bytes.HasPrefix(chunk, magicID3), isMPEGFrameSync(chunk):
		return FormatMP3
	default:
		return FormatPCM16
	}
}

// isMPEGFrameSync reports an MPEG-1/2 Layer III frame header: 11 sync bits,
// a valid version and layer III.
func isMPEGFrameSync(chunk []byte) bool {
	if len(chunk) < 4 || chunk[0] != 0xFF || chunk[1]&0xE0 != 0xE0 {
		return false
	}
	version := (chunk[1] >> 3) & 0x03
	layer := (chunk[1] >> 1) & 0x03
	bitrate := chunk[2] >> 4
	return version != 0x01 && layer == 0x01 && bitrate != 0x0F && bitrate != 0x00
}

// IsContainer reports whether f must be decoded before recognition.
func (f Format) IsContainer() bool {
	switch f {
	case FormatWAV, FormatOgg, FormatWebM, FormatMP3, FormatFLAC:
		return true
	}
	return false
}
