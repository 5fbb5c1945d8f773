// Package enhance cleans up raw batch transcripts with an LLM pass before
// they are typed: punctuation, casing, and obvious recognition slips, with
// the content left untouched.
//
// Enhancement is strictly best-effort. Any failure (network, API, empty
// response) degrades to the input transcript so dictation never stalls on
// the LLM.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

const systemPrompt = `You clean up dictated text. Fix punctuation, casing, and obvious speech recognition errors. Never add, remove, or reorder content. Never answer questions in the text. Reply with the corrected text only.`

// Enhancer rewrites a transcript for readability.
type Enhancer interface {
	// Enhance returns the cleaned-up transcript. Implementations must return
	// the input unchanged rather than an error whenever cleanup cannot be
	// performed.
	Enhance(ctx context.Context, transcript string) string
}

// Option is a functional option for the OpenAI enhancer.
type Option func(*config)

type config struct {
	baseURL string
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL. Used for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout. Default 15 s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// OpenAI is an Enhancer backed by an OpenAI chat completion.
type OpenAI struct {
	client oai.Client
	model  string
	log    *slog.Logger
}

// NewOpenAI constructs an OpenAI-backed enhancer.
func NewOpenAI(apiKey, model string, logger *slog.Logger, opts ...Option) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("enhance: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("enhance: model must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &config{timeout: 15 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &OpenAI{
		client: oai.NewClient(reqOpts...),
		model:  model,
		log:    logger,
	}, nil
}

// Enhance runs one chat completion over the transcript. On any failure it
// logs and returns the transcript unchanged.
func (e *OpenAI) Enhance(ctx context.Context, transcript string) string {
	if strings.TrimSpace(transcript) == "" {
		return transcript
	}

	resp, err := e.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(transcript),
		},
		Temperature: param.NewOpt(0.0),
	})
	if err != nil {
		e.log.Warn("enhance: completion failed, using raw transcript", "err", err)
		return transcript
	}
	if len(resp.Choices) == 0 {
		e.log.Warn("enhance: empty choices, using raw transcript")
		return transcript
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		e.log.Warn("enhance: empty completion, using raw transcript")
		return transcript
	}
	return out
}

// Noop is an Enhancer that returns transcripts unchanged. Used when no LLM
// is configured.
type Noop struct{}

// Enhance returns transcript as-is.
func (Noop) Enhance(_ context.Context, transcript string) string { return transcript }

// String names the enhancer for logs.
func (e *OpenAI) String() string { return fmt.Sprintf("openai(%s)", e.model) }
