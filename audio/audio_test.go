package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockTranscoder struct {
	transcodeFn func(ctx context.Context, payload []byte) ([]byte, error)
	calls       int
	payloads    [][]byte
}

func (m *mockTranscoder) Transcode(ctx context.Context, payload []byte) ([]byte, error) {
	m.calls++
	if m.transcodeFn != nil {
		return m.transcodeFn(ctx, payload)
	}
	return nil, errors.New("not implemented")
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name  string
		chunk []byte
		want  Format
	}{
		{name: "empty", chunk: nil, want: FormatUnknown},
		{name: "wav", chunk: WrapWAV([]byte{1, 2}, SampleRate), want: FormatWAV},
		{name: "riff without wave", chunk: []byte("RIFF\x00\x00\x00\x00AVI LIST"), want: FormatPCM16},
		{name: "ogg", chunk: []byte("OggS\x00\x02"), want: FormatOgg},
		{name: "webm", chunk: []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, want: FormatWebM},
		{name: "flac", chunk: []byte("fLaC\x00"), want: FormatFLAC},
		{name: "id3", chunk: []byte("ID3\x04\x00"), want: FormatMP3},
		{name: "mpeg frame", chunk: []byte{0xFF, 0xFB, 0x90, 0x64}, want: FormatMP3},
		{name: "pcm that starts with 0xff", chunk: []byte{0xFF, 0xFF, 0x00, 0x00}, want: FormatPCM16},
		{name: "raw pcm", chunk: []byte{0x10, 0x00, 0x20, 0x00}, want: FormatPCM16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.chunk))
		})
	}
}

func TestNormalize_PCMPassesThrough(t *testing.T) {
	n := NewNormalizer(WithLogger(zaptest.NewLogger(t)))
	raw := []byte{0x10, 0x00, 0x20, 0x00}

	res := n.Normalize(context.Background(), raw)
	require.NoError(t, res.Err)
	assert.Equal(t, raw, res.PCM)
	assert.Equal(t, FormatPCM16, res.Format)
}

func TestNormalize_DeclaredPCMIsNotSniffed(t *testing.T) {
	// a first sample of -1025 is stored as FF FB, an MPEG frame sync
	raw := make([]byte, 3200)
	copy(raw, []byte{0xFF, 0xFB, 0x90, 0x00})
	for i := 4; i < len(raw); i++ {
		raw[i] = byte(i * 7)
	}
	require.Equal(t, FormatMP3, DetectFormat(raw))

	n := NewNormalizer(WithInputFormat(FormatPCM16, SampleRate), WithLogger(zaptest.NewLogger(t)))
	res := n.Normalize(context.Background(), raw)

	require.NoError(t, res.Err)
	assert.Equal(t, FormatPCM16, res.Format)
	assert.Equal(t, raw, res.PCM)
}

func TestNormalize_OddChunksKeepSampleAlignment(t *testing.T) {
	n := NewNormalizer(WithInputFormat(FormatPCM16, SampleRate))
	chunks := [][]byte{
		{0x01, 0x02, 0x03},
		{0x04, 0x05, 0x06},
		{0x07},
		{0x08, 0x09, 0x0A, 0x0B},
	}

	var out []byte
	for _, c := range chunks {
		res := n.Normalize(context.Background(), c)
		require.NoError(t, res.Err)
		assert.Zero(t, len(res.PCM)%2, "chunk %v", c)
		out = append(out, res.PCM...)
	}
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}, out)
}

// widening decodes every payload byte to one 16-bit sample, so decoded
// sizes track payload sizes.
func widening() *mockTranscoder {
	var tc *mockTranscoder
	tc = &mockTranscoder{
		transcodeFn: func(ctx context.Context, payload []byte) ([]byte, error) {
			tc.payloads = append(tc.payloads, append([]byte(nil), payload...))
			out := make([]byte, 0, 2*len(payload))
			for _, b := range payload {
				out = append(out, b, 0)
			}
			return out, nil
		},
	}
	return tc
}

func TestNormalize_WebMContinuationUsesStreamHeader(t *testing.T) {
	tc := widening()
	n := NewNormalizer(WithTranscoder(tc), WithLogger(zaptest.NewLogger(t)))
	head := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F}
	cluster := []byte{0x1F, 0x43, 0xB6, 0x75, 0x42}
	require.Equal(t, FormatPCM16, DetectFormat(cluster))

	res := n.Normalize(context.Background(), head)
	require.NoError(t, res.Err)
	assert.Len(t, res.PCM, 2*len(head))

	res = n.Normalize(context.Background(), cluster)
	require.NoError(t, res.Err)
	assert.Equal(t, FormatWebM, res.Format)
	assert.Equal(t, []byte{0x1F, 0, 0x43, 0, 0xB6, 0, 0x75, 0, 0x42, 0}, res.PCM)

	require.Len(t, tc.payloads, 2)
	assert.Equal(t, append(append([]byte(nil), head...), cluster...), tc.payloads[1])
}

func TestNormalize_OggContinuationPages(t *testing.T) {
	tc := widening()
	n := NewNormalizer(WithTranscoder(tc))
	first := []byte("OggS\x00\x02head")
	page := []byte("OggS\x00\x00data")

	require.NoError(t, n.Normalize(context.Background(), first).Err)
	res := n.Normalize(context.Background(), page)
	require.NoError(t, res.Err)
	assert.Len(t, res.PCM, 2*len(page))
	assert.Equal(t, append(append([]byte(nil), first...), page...), tc.payloads[1])

	// a new beginning-of-stream page replaces the saved header
	next := []byte("OggS\x00\x02new")
	require.NoError(t, n.Normalize(context.Background(), next).Err)
	assert.Equal(t, next, tc.payloads[2])

	// a WAV chunk ends the container stream; raw PCM after it is not transcoded
	pcm := Bytes([]int16{100, -100})
	require.NoError(t, n.Normalize(context.Background(), WrapWAV(pcm, SampleRate)).Err)
	res = n.Normalize(context.Background(), []byte{0x10, 0x00})
	require.NoError(t, res.Err)
	assert.Equal(t, FormatPCM16, res.Format)
	assert.Len(t, tc.payloads, 3)
}

func TestNormalize_EmptyChunk(t *testing.T) {
	res := NewNormalizer().Normalize(context.Background(), nil)
	assert.True(t, res.Empty())
	assert.NoError(t, res.Err)
}

func TestNormalize_WAVHeaderStripped(t *testing.T) {
	pcm := Bytes([]int16{100, -100, 200, -200})
	res := NewNormalizer().Normalize(context.Background(), WrapWAV(pcm, SampleRate))

	require.NoError(t, res.Err)
	assert.Equal(t, pcm, res.PCM)
	assert.Equal(t, FormatWAV, res.Format)
}

func TestNormalize_WAVResampled(t *testing.T) {
	pcm := Bytes(make([]int16, 800))
	res := NewNormalizer().Normalize(context.Background(), WrapWAV(pcm, 8000))

	require.NoError(t, res.Err)
	assert.Len(t, res.PCM, 1600*BytesPerSample)
}

func TestNormalize_ContainerUsesTranscoder(t *testing.T) {
	tc := &mockTranscoder{
		transcodeFn: func(ctx context.Context, payload []byte) ([]byte, error) {
			return []byte{1, 0, 2, 0}, nil
		},
	}
	n := NewNormalizer(WithTranscoder(tc))

	res := n.Normalize(context.Background(), []byte("OggS\x00\x02payload"))
	require.NoError(t, res.Err)
	assert.Equal(t, []byte{1, 0, 2, 0}, res.PCM)
	assert.Equal(t, 1, tc.calls)
}

func TestNormalize_TranscodeFailureIsEmpty(t *testing.T) {
	tc := &mockTranscoder{
		transcodeFn: func(ctx context.Context, payload []byte) ([]byte, error) {
			return nil, errors.New("corrupt stream")
		},
	}
	n := NewNormalizer(WithTranscoder(tc), WithLogger(zaptest.NewLogger(t)))

	res := n.Normalize(context.Background(), []byte{0x1A, 0x45, 0xDF, 0xA3, 0x00})
	assert.True(t, res.Empty())
	assert.ErrorContains(t, res.Err, "corrupt stream")
}

func TestNormalize_NoTranscoder(t *testing.T) {
	res := NewNormalizer().Normalize(context.Background(), []byte("fLaC\x00\x00"))
	assert.True(t, res.Empty())
	assert.Error(t, res.Err)
}

func TestNormalize_CorruptMP3IsEmpty(t *testing.T) {
	res := NewNormalizer().Normalize(context.Background(), []byte("ID3\x04\x00garbage"))
	assert.True(t, res.Empty())
	assert.Error(t, res.Err)
}

func TestNormalize_Mulaw(t *testing.T) {
	n := NewNormalizer(WithInputFormat(FormatMulaw, 8000))
	ulaw := make([]byte, 160) // 20 ms at 8 kHz

	res := n.Normalize(context.Background(), ulaw)
	require.NoError(t, res.Err)
	assert.Equal(t, FormatMulaw, res.Format)
	assert.Len(t, res.PCM, 320*BytesPerSample)
}

func TestMulawRoundTrip(t *testing.T) {
	in := []int16{0, 1000, -1000, 8000, -8000, 32000, -32000}
	out := Samples(DecodeMulaw(EncodeMulaw(Bytes(in))))

	require.Len(t, out, len(in))
	for i := range in {
		// μ-law is lossy; error grows with magnitude.
		assert.InDelta(t, in[i], out[i], float64(abs(int(in[i])))/16+8, "sample %d", i)
	}
}

func TestResample(t *testing.T) {
	pcm := Bytes([]int16{0, 100, 200, 300})

	assert.Equal(t, pcm, Resample(pcm, 16000, 16000))

	up := Samples(Resample(pcm, 8000, 16000))
	require.Len(t, up, 8)
	assert.Equal(t, int16(0), up[0])
	assert.Equal(t, int16(50), up[1])
	assert.Equal(t, int16(100), up[2])

	down := Samples(Resample(pcm, 16000, 8000))
	assert.Equal(t, []int16{0, 200}, down)
}

func TestDownmix(t *testing.T) {
	stereo := Bytes([]int16{100, 300, -100, -300})
	assert.Equal(t, []int16{200, -200}, Samples(Downmix(stereo, 2)))
	assert.Equal(t, stereo, Downmix(stereo, 1))
}

func TestToTransport(t *testing.T) {
	pcm := Bytes(make([]int16, 320))

	assert.Len(t, ToTransport(pcm, FormatMulaw, 8000), 160)
	assert.Equal(t, pcm, ToTransport(pcm, FormatPCM16, 0))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
