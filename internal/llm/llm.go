package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Rajankarna/VIDInsight/internal/cache"
)

// ErrGenerationFailed wraps any backend call failure. Generation failures are
// pipeline-fatal: they are never converted to placeholder text and persisted.
var ErrGenerationFailed = errors.New("text generation failed")

const (
	summarySystemPrompt = "You are a helpful assistant that provides concise and informative summaries of video content."
	answerSystemPrompt  = "You are a helpful assistant that answers questions based on video transcripts."
)

// Client is the completion backend contract. Satisfied by *OpenAIClient;
// tests substitute a stub.
type Client interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

// OpenAIClient implements Client over the OpenAI chat completions API.
type OpenAIClient struct {
	cli   *openai.Client
	model string
}

func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{cli: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAIClient) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	resp, err := o.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Engine produces summaries and answers over transcript text. Summaries are
// memoized by transcript hash so byte-identical transcripts from different
// sessions share one backend call; answers are unique per question and never
// cached.
type Engine struct {
	client    Client
	memo      *cache.Memo
	maxTokens int
	logger    *log.Logger
	onHit     func()
	onMiss    func()
}

type Option func(*Engine)

// WithCacheMetrics installs hit/miss callbacks for instrumentation.
func WithCacheMetrics(hit, miss func()) Option {
	return func(e *Engine) {
		e.onHit = hit
		e.onMiss = miss
	}
}

func NewEngine(client Client, memo *cache.Memo, maxTokens int, logger *log.Logger, opts ...Option) *Engine {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	e := &Engine{
		client:    client,
		memo:      memo,
		maxTokens: maxTokens,
		logger:    logger,
		onHit:     func() {},
		onMiss:    func() {},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Summarize returns a bounded-length prose summary of the transcript.
func (e *Engine) Summarize(ctx context.Context, transcript string) (string, error) {
	key := cache.Fingerprint("summary", transcript)
	if summary, ok := e.memo.Get(key); ok {
		e.onHit()
		return summary, nil
	}
	e.onMiss()

	prompt := fmt.Sprintf("Please provide a summary of the following transcript:\n\n%s", transcript)
	summary, err := e.client.Complete(ctx, summarySystemPrompt, prompt, e.maxTokens)
	if err != nil {
		e.logger.Printf("summarization failed: %v", err)
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	e.memo.Put(key, summary)
	return summary, nil
}

// Answer returns a prose answer to question grounded in the transcript.
func (e *Engine) Answer(ctx context.Context, transcript, question string) (string, error) {
	prompt := fmt.Sprintf("Based on the following transcript, please answer this question: %q\n\nTranscript: %s", question, transcript)
	answer, err := e.client.Complete(ctx, answerSystemPrompt, prompt, e.maxTokens)
	if err != nil {
		e.logger.Printf("question answering failed: %v", err)
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return answer, nil
}
