package media

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// ErrMediaRead means the container could not be demuxed or holds no audio
// track. No transcript is possible, so the pipeline run fails.
var ErrMediaRead = errors.New("media cannot be read")

// Extractor decodes a video container into 16kHz mono PCM suitable for the
// speech model. The WAV is streamed over ffmpeg's stdout so no intermediate
// audio file is written.
type Extractor struct {
	runner Runner
	binary string
	logger *log.Logger
}

func NewExtractor(runner Runner, binary string, logger *log.Logger) *Extractor {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[AUDIO] ", log.LstdFlags)
	}
	return &Extractor{runner: runner, binary: binary, logger: logger}
}

// WAV returns the decoded audio for videoPath as a single-channel 16kHz
// pcm_s16le WAV byte stream.
func (e *Extractor) WAV(ctx context.Context, videoPath string) ([]byte, error) {
	args := []string{
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"-loglevel", "error",
		"pipe:1",
	}
	out, err := e.runner.Output(ctx, e.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaRead, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no audio track decoded", ErrMediaRead)
	}
	e.logger.Printf("extracted %d bytes of audio from %s", len(out), videoPath)
	return out, nil
}
