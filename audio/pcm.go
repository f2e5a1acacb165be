package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// DecodeMulaw converts G.711 μ-law bytes into 16-bit little-endian PCM.
func DecodeMulaw(ulaw []byte) []byte {
	out := make([]byte, len(ulaw)*BytesPerSample)
	for i, u := range ulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(mulawToLinear(u)))
	}
	return out
}

// EncodeMulaw converts 16-bit little-endian PCM into G.711 μ-law bytes.
func EncodeMulaw(pcm []byte) []byte {
	samples := Samples(pcm)
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMulaw(s)
	}
	return out
}

func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

func linearToMulaw(s int16) byte {
	v := int(s)
	sign := 0
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// Samples decodes 16-bit little-endian PCM. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as 16-bit little-endian PCM.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resample converts mono PCM between sample rates by linear interpolation.
func Resample(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 || len(pcm) < BytesPerSample {
		return pcm
	}
	in := Samples(pcm)
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(math.Round(float64(in[j])*(1-frac) + float64(in[j+1])*frac))
	}
	return Bytes(out)
}

// Downmix averages interleaved channels of 16-bit PCM into mono.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	in := Samples(pcm)
	frames := len(in) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(in[f*channels+c])
		}
		out[f] = int16(sum / channels)
	}
	return Bytes(out)
}

// WrapWAV prefixes mono 16-bit PCM with a canonical 44-byte WAV header.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:], Channels)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*Channels*BytesPerSample))
	binary.LittleEndian.PutUint16(out[32:], Channels*BytesPerSample)
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// wavInfo describes the fmt and data chunks of a RIFF/WAVE payload.
type wavInfo struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
	data          []byte
}

const (
	wavFormatPCM   = 1
	wavFormatMulaw = 7
)

var errMalformedWAV = errors.New("malformed wav payload")

func parseWAV(b []byte) (*wavInfo, error) {
	if len(b) < 12 {
		return nil, errMalformedWAV
	}
	info := &wavInfo{}
	var haveFmt bool
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4:]))
		body := pos + 8
		end := body + size
		if end > len(b) || size < 0 {
			// Streams often declare a data size larger than the chunk we hold.
			end = len(b)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, errMalformedWAV
			}
			info.audioFormat = binary.LittleEndian.Uint16(b[body:])
			info.channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			info.sampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			info.bitsPerSample = int(binary.LittleEndian.Uint16(b[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, errMalformedWAV
			}
			info.data = b[body:end]
			return info, nil
		}
		pos = end + size%2
	}
	return nil, fmt.Errorf("%w: no data chunk", errMalformedWAV)
}
