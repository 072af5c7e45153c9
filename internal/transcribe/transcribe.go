package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Rajankarna/VIDInsight/internal/cache"
)

var (
	// ErrInputNotFound means the media file vanished before transcription
	// could start. Checked before any model call is made.
	ErrInputNotFound = errors.New("input file not found")
	// ErrNoSpeech means the model produced no usable segments. Surfaced as a
	// typed failure instead of persisting a placeholder transcript.
	ErrNoSpeech = errors.New("no speech recognized in audio")
	// ErrTranscriptionFailed wraps model-invocation failures.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Result is one complete transcription outcome.
type Result struct {
	// Transcript holds the formatted original-language transcript, one
	// "[H:MM:SS - H:MM:SS] text" line per segment in model order.
	Transcript string `json:"transcript"`
	// Reference holds plain reference-language text for downstream
	// summarization/Q&A. Equals the original text when no translation ran.
	Reference string `json:"reference"`
	// Language is the detected source language as reported by the model.
	Language string `json:"language"`
}

// audioSource decodes a local video file into WAV bytes for the speech model.
type audioSource interface {
	WAV(ctx context.Context, videoPath string) ([]byte, error)
}

// speechClient is the subset of the OpenAI client used for speech inference.
type speechClient interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
	CreateTranslation(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber turns local video files into timestamped transcripts. Results
// are memoized by source-file fingerprint so repeated requests for the same
// media skip both audio decoding and model inference.
type Transcriber struct {
	client  speechClient
	audio   audioSource
	memo    *cache.Memo
	model   string
	refLang string
	logger  *log.Logger
	onHit   func()
	onMiss  func()
}

type Option func(*Transcriber)

// WithCacheMetrics installs hit/miss callbacks for instrumentation.
func WithCacheMetrics(hit, miss func()) Option {
	return func(t *Transcriber) {
		t.onHit = hit
		t.onMiss = miss
	}
}

func New(client speechClient, audio audioSource, memo *cache.Memo, refLang string, logger *log.Logger, opts ...Option) *Transcriber {
	if refLang == "" {
		refLang = "english"
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ASR] ", log.LstdFlags)
	}
	t := &Transcriber{
		client:  client,
		audio:   audio,
		memo:    memo,
		model:   openai.Whisper1,
		refLang: refLang,
		logger:  logger,
		onHit:   func() {},
		onMiss:  func() {},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Transcribe produces the timestamped transcript for videoPath. A missing
// input file aborts before any model call; every other failure is a typed
// error, never a sentinel string.
func (t *Transcriber) Transcribe(ctx context.Context, videoPath string) (Result, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrInputNotFound, videoPath)
	}

	key := cache.Fingerprint("transcript", videoPath)
	if cached, ok := t.memo.Get(key); ok {
		var res Result
		if err := json.Unmarshal([]byte(cached), &res); err == nil {
			t.onHit()
			t.logger.Printf("cache hit for %s", videoPath)
			return res, nil
		}
	}
	t.onMiss()

	wav, err := t.audio.WAV(ctx, videoPath)
	if err != nil {
		return Result{}, err
	}

	resp, err := t.client.CreateTranscription(ctx, t.audioRequest(wav))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	formatted := formatSegments(resp)
	if formatted == "" {
		return Result{}, ErrNoSpeech
	}

	res := Result{
		Transcript: formatted,
		Reference:  strings.TrimSpace(resp.Text),
		Language:   strings.ToLower(strings.TrimSpace(resp.Language)),
	}

	// Translation runs only when the detected language differs from the
	// reference language. Timestamps always come from the original pass.
	if !strings.EqualFold(res.Language, t.refLang) {
		t.logger.Printf("detected language %q, translating to %s", res.Language, t.refLang)
		trans, err := t.client.CreateTranslation(ctx, t.audioRequest(wav))
		if err != nil {
			return Result{}, fmt.Errorf("%w: translation: %v", ErrTranscriptionFailed, err)
		}
		if txt := strings.TrimSpace(trans.Text); txt != "" {
			res.Reference = txt
		}
	}

	if buf, err := json.Marshal(res); err == nil {
		t.memo.Put(key, string(buf))
	}
	return res, nil
}

func (t *Transcriber) audioRequest(wav []byte) openai.AudioRequest {
	return openai.AudioRequest{
		Model:    t.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
}

// formatSegments renders "[H:MM:SS - H:MM:SS] text" lines in the time order
// produced by the model, dropping empty segments.
func formatSegments(resp openai.AudioResponse) string {
	var b strings.Builder
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s - %s] %s", formatTimestamp(seg.Start), formatTimestamp(seg.End), text)
	}
	return b.String()
}

// formatTimestamp renders seconds as H:MM:SS truncated to whole seconds.
func formatTimestamp(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}
