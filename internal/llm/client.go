// Package llm provides the completion client used by the patch planner.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/nbfix/internal/config"
)

const (
	defaultBaseBackoff  = 1 * time.Second
	instrumentationName = "github.com/fyrsmithlabs/nbfix/internal/llm"
)

// ErrEmptyResponse is returned when the model produces no choices.
var ErrEmptyResponse = errors.New("empty response from model")

// Client generates completions for a single prompt.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Generator is the subset of llms.Model the client needs.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// ModelClient is a rate limited, retrying Client over a langchaingo model.
type ModelClient struct {
	model       Generator
	modelName   string
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	logger      *zap.Logger
}

// NewOllama creates a ModelClient backed by an Ollama server.
func NewOllama(cfg config.LLMConfig, logger *zap.Logger) (*ModelClient, error) {
	model, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return New(model, cfg, logger)
}

// New wraps an existing model.
func New(model Generator, cfg config.LLMConfig, logger *zap.Logger) (*ModelClient, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &ModelClient{
		model:       model,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout.Duration(),
		limiter:     rate.NewLimiter(limit, burst),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
		logger:      logger,
	}, nil
}

// Complete sends prompt to the model and returns the first choice.
//
// Transport failures are retried with exponential backoff up to maxRetries
// times. Cancellation of ctx is never retried.
func (c *ModelClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "llm.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.modelName),
		attribute.Int("llm.prompt_chars", len(prompt)),
	)

	if err := c.limiter.Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rate limiter")
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying completion",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.generate(ctx, prompt)
		if err == nil {
			span.SetAttributes(attribute.Int("llm.attempts", attempt+1))
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryableError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "completion failed")
			return "", err
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "max retries exceeded")
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *ModelClient) generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msgs := []llms.MessageContent{{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: prompt}},
	}}
	resp, err := c.model.GenerateContent(ctx, msgs, llms.WithTemperature(c.temperature))
	if err != nil {
		if transient(err) {
			return "", &retryableError{err: fmt.Errorf("model request failed: %w", err)}
		}
		return "", fmt.Errorf("model request failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// transient reports whether err looks like a network or server side fault.
func transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "eof", "429", "500", "502", "503", "504", "overloaded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

var _ Client = (*ModelClient)(nil)
