package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"go.uber.org/zap"
)

// Result is the outcome of normalizing one inbound chunk.
// An empty PCM with a non-nil Err means "no audio produced this tick".
type Result struct {
	PCM    []byte
	Format Format
	Err    error
}

// Empty reports whether the chunk produced no audio.
func (r Result) Empty() bool { return len(r.PCM) == 0 }

// Normalizer converts inbound chunks into 16 kHz mono 16-bit PCM.
//
// A Normalizer carries per-stream state and belongs to one stream; it is
// not safe for concurrent use.
type Normalizer struct {
	transcoder  Transcoder
	inputFormat Format
	inputRate   int
	declared    bool
	logger      *zap.Logger

	// carry holds the odd trailing byte of the previous raw PCM chunk.
	carry []byte

	// container is set once a streaming container header has been seen.
	// Later chunks of that stream carry no magic and are decoded behind
	// the saved header.
	container   Format
	head        []byte
	headPCMSize int
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithTranscoder sets the decoder used for streaming containers.
func WithTranscoder(t Transcoder) Option {
	return func(n *Normalizer) {
		n.transcoder = t
	}
}

// WithInputFormat declares the encoding of a stream whose chunks carry no
// container, such as G.711 μ-law telephony audio or PCM at another rate.
// Chunks of a declared stream are never sniffed.
func WithInputFormat(format Format, sampleRate int) Option {
	return func(n *Normalizer) {
		n.inputFormat = format
		n.inputRate = sampleRate
		n.declared = format != ""
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

// NewNormalizer creates a Normalizer. Without a transcoder, streaming
// containers other than WAV and MP3 normalize to empty results.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		inputFormat: FormatPCM16,
		inputRate:   SampleRate,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	n.logger = n.logger.With(zap.String("component", "audio_normalizer"))
	return n
}

// Normalize converts raw into canonical PCM. It never fails the caller:
// undecodable input yields an empty Result carrying the cause.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) Result {
	if len(raw) == 0 {
		return Result{Format: FormatUnknown}
	}

	format := n.inputFormat
	if !n.declared {
		format = n.detect(raw)
	}

	var (
		pcm []byte
		err error
	)
	switch format {
	case FormatMulaw:
		pcm = Resample(DecodeMulaw(raw), n.inputRate, SampleRate)
	case FormatPCM16:
		pcm = n.align(raw)
		if n.inputRate != SampleRate {
			pcm = Resample(pcm, n.inputRate, SampleRate)
		}
	case FormatWAV:
		pcm, err = n.decodeWAV(ctx, raw)
	case FormatMP3:
		pcm, err = decodeMP3(raw)
	default:
		pcm, err = n.decodeContainer(ctx, format, raw)
	}

	if err != nil {
		n.logger.Warn("audio chunk dropped",
			zap.String("format", string(format)),
			zap.Int("bytes", len(raw)),
			zap.Error(err))
		return Result{Format: format, Err: err}
	}
	return Result{PCM: pcm[:len(pcm)&^1], Format: format}
}

// detect sniffs a chunk of an undeclared stream. Once a streaming container
// has started, chunks that do not open a new stream belong to it.
func (n *Normalizer) detect(raw []byte) Format {
	format := DetectFormat(raw)
	if n.container == "" {
		return format
	}
	if startsStream(format, raw) {
		if format == FormatWAV || format == FormatMP3 {
			n.container = ""
		}
		return format
	}
	return n.container
}

// startsStream reports whether raw opens a new container stream rather
// than continuing one. Every Ogg page carries the magic, so only pages
// flagged as beginning-of-stream count, and a bare MPEG frame sync is too
// weak a signal to end a running stream.
func startsStream(format Format, raw []byte) bool {
	switch format {
	case FormatWebM, FormatFLAC:
		return true
	case FormatOgg:
		return len(raw) > 5 && raw[5]&oggBOS != 0
	case FormatMP3:
		return bytes.HasPrefix(raw, magicID3)
	case FormatWAV:
		return true
	default:
		return false
	}
}

const oggBOS = 0x02

// align keeps raw PCM on sample boundaries across chunks: an odd trailing
// byte is held back and prepended to the next chunk.
func (n *Normalizer) align(raw []byte) []byte {
	if len(n.carry) > 0 {
		raw = append(append([]byte(nil), n.carry...), raw...)
		n.carry = nil
	}
	if len(raw)%2 == 1 {
		n.carry = []byte{raw[len(raw)-1]}
		raw = raw[:len(raw)-1]
	}
	return raw
}

// decodeContainer decodes a streaming container chunk. The first chunk of
// a stream is kept as its header; continuation chunks are decoded behind
// that header and the header's own audio is cut from the front.
func (n *Normalizer) decodeContainer(ctx context.Context, format Format, raw []byte) ([]byte, error) {
	continuation := format == n.container && !startsStream(DetectFormat(raw), raw)
	if !continuation {
		pcm, err := n.transcode(ctx, raw)
		if err != nil {
			return nil, err
		}
		n.container = format
		n.head = append([]byte(nil), raw...)
		n.headPCMSize = len(pcm)
		return pcm, nil
	}

	payload := make([]byte, 0, len(n.head)+len(raw))
	payload = append(append(payload, n.head...), raw...)
	pcm, err := n.transcode(ctx, payload)
	if err != nil {
		return nil, err
	}
	if len(pcm) <= n.headPCMSize {
		return nil, nil
	}
	return pcm[n.headPCMSize:], nil
}

func (n *Normalizer) decodeWAV(ctx context.Context, raw []byte) ([]byte, error) {
	info, err := parseWAV(raw)
	if err != nil {
		return n.transcode(ctx, raw)
	}

	switch {
	case info.audioFormat == wavFormatPCM && info.bitsPerSample == 16:
		pcm := Downmix(info.data, info.channels)
		return Resample(pcm, info.sampleRate, SampleRate), nil
	case info.audioFormat == wavFormatMulaw && info.channels == 1:
		return Resample(DecodeMulaw(info.data), info.sampleRate, SampleRate), nil
	default:
		return n.transcode(ctx, raw)
	}
}

func (n *Normalizer) transcode(ctx context.Context, raw []byte) ([]byte, error) {
	if n.transcoder == nil {
		return nil, fmt.Errorf("no transcoder configured for %s input", DetectFormat(raw))
	}
	pcm, err := n.transcoder.Transcode(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("transcode: %w", err)
	}
	return pcm, nil
}

// decodeMP3 decodes an MP3 payload. go-mp3 always yields 16-bit stereo.
func decodeMP3(raw []byte) ([]byte, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mp3 decoder: %w", err)
	}
	stereo, err := io.ReadAll(dec)
	if len(stereo) == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	return Resample(Downmix(stereo, 2), dec.SampleRate(), SampleRate), nil
}

// ToTransport converts canonical PCM into the encoding a stream expects.
func ToTransport(pcm []byte, format Format, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	switch format {
	case FormatMulaw:
		return EncodeMulaw(Resample(pcm, SampleRate, sampleRate))
	default:
		return Resample(pcm, SampleRate, sampleRate)
	}
}
