package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sbenjam1n/seopatch/internal/logger"
	"github.com/sbenjam1n/seopatch/internal/seo"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = anthropic.ModelClaudeSonnet4_5
	// DefaultMaxTokens bounds one chunk's response.
	DefaultMaxTokens = 8192

	defaultRequestTimeout = 180 * time.Second
)

// AnthropicOptions configures the Anthropic analyzer.
type AnthropicOptions struct {
	Model     string
	MaxTokens int
	Site      Site
	Log       *logger.Logger
}

// Anthropic analyzes chunks with the Anthropic Messages API.
type Anthropic struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	site      Site
	log       *logger.Logger
}

// NewAnthropic creates an analyzer with the provided API key.
func NewAnthropic(apiKey string, opts AnthropicOptions) (*Anthropic, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("no API key provided")
	}
	a := &Anthropic{
		api: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithRequestTimeout(defaultRequestTimeout),
		),
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		site:      opts.Site,
		log:       opts.Log,
	}
	if opts.Model != "" {
		a.model = anthropic.Model(opts.Model)
	}
	if opts.MaxTokens > 0 {
		a.maxTokens = int64(opts.MaxTokens)
	}
	if a.log == nil {
		a.log = logger.Nop()
	}
	a.log = a.log.With("component", "analyzer")
	return a, nil
}

// Analyze sends one chunk and parses the proposals in the reply.
func (a *Anthropic) Analyze(ctx context.Context, chunk seo.Chunk) ([]seo.RawProposal, error) {
	prompt, err := BuildUserPrompt(chunk, a.site)
	if err != nil {
		return nil, err
	}
	a.log.Debug("analyzing chunk", "file", chunk.FilePath, "start", chunk.StartLine, "end", chunk.EndLine)

	msg, err := a.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, formatAPIError(err)
	}

	var text strings.Builder
	for i := range msg.Content {
		if block, ok := msg.Content[i].AsAny().(anthropic.TextBlock); ok {
			text.WriteString(block.Text)
		}
	}
	proposals, err := ParseResponse(text.String(), chunk)
	if err != nil {
		return nil, fmt.Errorf("chunk %s:%d-%d: %w", chunk.FilePath, chunk.StartLine, chunk.EndLine, err)
	}
	a.log.Info("chunk analyzed", "file", chunk.FilePath, "start", chunk.StartLine, "proposals", len(proposals))
	return proposals, nil
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrChunkMismatch) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403, 400, 404:
			return false
		}
	}
	return true
}

// formatAPIError keeps the API error in the chain and adds a readable cause.
func formatAPIError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401:
			return fmt.Errorf("invalid API key: check ANTHROPIC_API_KEY: %w", err)
		case 429:
			return fmt.Errorf("rate limited: %w", err)
		case 500, 502, 503, 529:
			return fmt.Errorf("anthropic API unavailable (status %d): %w", apiErr.StatusCode, err)
		default:
			return fmt.Errorf("API error (status %d): %w", apiErr.StatusCode, err)
		}
	}
	return fmt.Errorf("API request failed: %w", err)
}
