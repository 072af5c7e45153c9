package pipeline

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Rajankarna/VIDInsight/internal/media"
	"github.com/Rajankarna/VIDInsight/internal/runtime"
	"github.com/Rajankarna/VIDInsight/internal/store"
	"github.com/Rajankarna/VIDInsight/internal/transcribe"
)

// Source is one processing request: either an uploaded blob or a remote URL.
type Source struct {
	// upload
	Filename string
	Title    string
	Upload   io.Reader
	// remote
	URL     string
	Cookies []byte
}

// Acquirer obtains a local media file for a source.
type Acquirer interface {
	SaveUpload(sessionID, filename, title string, src io.Reader) (media.Acquisition, error)
	Probe(ctx context.Context, url string) error
	Fetch(ctx context.Context, url string, cookies []byte) (media.Acquisition, error)
}

// Transcriber turns a local media file into a timestamped transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath string) (transcribe.Result, error)
}

// Generator produces summaries and answers over transcript text.
type Generator interface {
	Summarize(ctx context.Context, transcript string) (string, error)
	Answer(ctx context.Context, transcript, question string) (string, error)
}

// SessionStore is the persistence surface the orchestrator needs.
type SessionStore interface {
	CreateSession(ctx context.Context, sess store.Session) error
	AddConversation(ctx context.Context, sessionID, question, answer string) (store.Conversation, error)
	DeleteSession(ctx context.Context, id string) error
}

// Timeouts bounds each offloaded stage. Zero means no bound.
type Timeouts struct {
	Acquire    time.Duration
	Transcribe time.Duration
	Generate   time.Duration
}

// Orchestrator sequences a pipeline run: acquisition, extraction plus
// transcription, summarization, persistence. Every blocking stage is
// dispatched to the worker pool and awaited; stages run strictly in order
// within one run, while independent runs interleave on the pool.
//
// Failures at any stage are pipeline-fatal: the session row is never written,
// so no orphan Session exists. An already-acquired media file is deliberately
// left in place for the janitor to collect.
type Orchestrator struct {
	pool     *Pool
	acquirer Acquirer
	asr      Transcriber
	gen      Generator
	sessions SessionStore
	metrics  *runtime.Metrics
	timeouts Timeouts
	logger   *log.Logger
}

func NewOrchestrator(pool *Pool, acquirer Acquirer, asr Transcriber, gen Generator, sessions SessionStore, metrics *runtime.Metrics, timeouts Timeouts, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPE] ", log.LstdFlags)
	}
	return &Orchestrator{
		pool:     pool,
		acquirer: acquirer,
		asr:      asr,
		gen:      gen,
		sessions: sessions,
		metrics:  metrics,
		timeouts: timeouts,
		logger:   logger,
	}
}

// Process runs the full pipeline for src on behalf of userID and returns the
// new session identifier.
func (o *Orchestrator) Process(ctx context.Context, userID int64, src Source) (string, error) {
	sessionID := uuid.NewString()
	o.metrics.RunStarted()
	outcome := "failed"
	defer func() { o.metrics.RunFinished(outcome) }()

	var acq media.Acquisition
	err := o.stage(ctx, "acquire", o.timeouts.Acquire, func(ctx context.Context) error {
		var err error
		acq, err = o.acquire(ctx, sessionID, src)
		return err
	})
	if err != nil {
		return "", err
	}

	var result transcribe.Result
	err = o.stage(ctx, "transcribe", o.timeouts.Transcribe, func(ctx context.Context) error {
		var err error
		result, err = o.asr.Transcribe(ctx, acq.Path)
		return err
	})
	if err != nil {
		return "", err
	}

	var summary string
	err = o.stage(ctx, "summarize", o.timeouts.Generate, func(ctx context.Context) error {
		var err error
		summary, err = o.gen.Summarize(ctx, result.Reference)
		return err
	})
	if err != nil {
		return "", err
	}

	sess := store.Session{
		ID:                  sessionID,
		UserID:              userID,
		Title:               acq.Title,
		Remote:              acq.Remote,
		VideoPath:           acq.Path,
		RemoteID:            acq.RemoteID,
		Transcript:          result.Transcript,
		ReferenceTranscript: result.Reference,
		Language:            result.Language,
		Summary:             summary,
	}
	if err := o.sessions.CreateSession(ctx, sess); err != nil {
		return "", err
	}

	o.logger.Printf("session %s processed (%s, lang=%s)", sessionID, acq.Title, result.Language)
	outcome = "ok"
	return sessionID, nil
}

func (o *Orchestrator) acquire(ctx context.Context, sessionID string, src Source) (media.Acquisition, error) {
	switch {
	case src.URL != "":
		if err := o.acquirer.Probe(ctx, src.URL); err != nil {
			return media.Acquisition{}, err
		}
		return o.acquirer.Fetch(ctx, src.URL, src.Cookies)
	case src.Upload != nil:
		return o.acquirer.SaveUpload(sessionID, src.Filename, src.Title, src.Upload)
	default:
		return media.Acquisition{}, media.ErrNoInput
	}
}

// Ask answers a question against an existing session's transcript and appends
// the exchange as a conversation turn. The persisted transcript is the sole
// source of truth; no re-transcription happens here.
func (o *Orchestrator) Ask(ctx context.Context, sess store.Session, question string) (store.Conversation, error) {
	text := sess.ReferenceTranscript
	if text == "" {
		text = sess.Transcript
	}

	var answer string
	err := o.stage(ctx, "answer", o.timeouts.Generate, func(ctx context.Context) error {
		var err error
		answer, err = o.gen.Answer(ctx, text, question)
		return err
	})
	if err != nil {
		return store.Conversation{}, err
	}
	return o.sessions.AddConversation(ctx, sess.ID, question, answer)
}

// Delete destroys the session, its conversation turns (via cascade) and, for
// non-remote sources, the local media file.
func (o *Orchestrator) Delete(ctx context.Context, sess store.Session) error {
	if err := o.sessions.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	if !sess.Remote && sess.VideoPath != "" {
		path := sess.VideoPath
		if err := o.pool.Do(ctx, func(context.Context) error { return os.Remove(path) }); err != nil {
			// row is gone either way; the janitor will retry the file
			o.logger.Printf("remove media %s: %v", path, err)
		}
	}
	return nil
}

// stage offloads one blocking work unit to the pool, awaits it and records
// its duration.
func (o *Orchestrator) stage(ctx context.Context, name string, timeout time.Duration, task Task) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := o.pool.Do(ctx, task)
	o.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		o.logger.Printf("stage %s failed: %v", name, err)
	}
	return err
}
