package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Transcoder decodes a container payload into canonical PCM.
type Transcoder interface {
	Transcode(ctx context.Context, payload []byte) ([]byte, error)
}

// FFmpegTranscoder shells out to ffmpeg for Ogg, WebM and FLAC payloads.
type FFmpegTranscoder struct {
	Path    string
	Timeout time.Duration
}

// NewFFmpegTranscoder returns a transcoder using the ffmpeg binary at path.
func NewFFmpegTranscoder(path string) *FFmpegTranscoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegTranscoder{Path: path, Timeout: 10 * time.Second}
}

// Transcode implements Transcoder.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, payload []byte) ([]byte, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.Path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("ffmpeg: %w", err)
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	if stdout.Len() == 0 {
		return nil, errors.New("ffmpeg produced no audio")
	}
	return stdout.Bytes(), nil
}

var _ Transcoder = (*FFmpegTranscoder)(nil)
