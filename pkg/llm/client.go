// Package llm implements the upstream chat layer: one client per
// OpenAI-compatible endpoint with retry, timeout, and cost accounting,
// plus a manager that routes the meta/A/B roles and fails over between
// endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/jexlab/jex/pkg/config"
	"github.com/jexlab/jex/pkg/metrics"
)

// Message roles accepted by the chat endpoints.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of an upstream conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries the per-call sampling parameters.
type ChatOptions struct {
	Temperature float64
	// MaxTokens caps the completion length. Zero leaves the cap to the
	// endpoint.
	MaxTokens int
}

// TokenUsage reports the token counts of one completed call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ChatResult is the outcome of one successful chat call.
type ChatResult struct {
	Content  string        `json:"content"`
	Tokens   TokenUsage    `json:"tokens"`
	Cost     float64       `json:"cost"`
	Duration time.Duration `json:"duration"`
	Model    string        `json:"model"`
	Name     string        `json:"ai_name"`
}

// EndpointStats is a snapshot of one client's counters.
type EndpointStats struct {
	Name         string  `json:"name"`
	Tokens       int     `json:"tokens"`
	Cost         float64 `json:"cost"`
	FailureCount int     `json:"failure_count"`
	CircuitOpen  bool    `json:"circuit_open"`
}

const (
	dialTimeout     = 30 * time.Second
	requestTimeout  = 120 * time.Second
	tlsTimeout      = 30 * time.Second
	idleConnTimeout = 30 * time.Second

	maxAttempts      = 3
	circuitThreshold = 5
)

// Client wraps one OpenAI-compatible endpoint. It is safe for
// concurrent use.
type Client struct {
	api     openai.Client
	cfg     config.EndpointConfig
	version config.ClientVersion
	logger  *slog.Logger

	// retryBase is the backoff unit between attempts; tests shrink it.
	retryBase time.Duration

	mu           sync.Mutex
	totalTokens  int
	totalCost    float64
	failureCount int
}

// NewClient builds a client for one endpoint. The fixed version owns
// its retry loop and pins explicit timeouts; the original version
// performs a single attempt with library-default transport settings.
// SDK-internal retries are disabled for both so that retry behavior
// stays in one place.
func NewClient(cfg config.EndpointConfig, version config.ClientVersion) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(os.Getenv(cfg.APIKeyEnv)),
		option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/") + "/"),
		option.WithMaxRetries(0),
	}
	if version == config.ClientFixed {
		opts = append(opts, option.WithHTTPClient(&http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
				TLSHandshakeTimeout: tlsTimeout,
				IdleConnTimeout:     idleConnTimeout,
			},
		}))
	}

	return &Client{
		api:       openai.NewClient(opts...),
		cfg:       cfg,
		version:   version,
		logger:    slog.With("component", "llm.client", "endpoint", cfg.Name),
		retryBase: time.Second,
	}
}

// Name returns the endpoint's display name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Chat sends one conversation to the endpoint and returns the
// completion with token and cost accounting. Transport-level failures
// are retried with exponential backoff when the client runs the fixed
// version; errors the endpoint answered with are returned immediately.
func (c *Client) Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error) {
	attempts := 1
	if c.version == config.ClientFixed {
		attempts = maxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay(attempt - 1)
			c.logger.Warn("Upstream call failed, retrying",
				"attempt", attempt+1,
				"max_attempts", attempts,
				"delay", delay,
				"error", lastErr)
			metrics.UpstreamRetries.WithLabelValues(c.cfg.Name).Inc()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.recordFailure(ctx.Err())
				return nil, ctx.Err()
			}
		}

		res, err := c.complete(ctx, messages, opts)
		if err == nil {
			c.recordSuccess(res)
			c.logger.Info("Upstream call succeeded",
				"tokens", res.Tokens.Total,
				"duration", res.Duration)
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryableError(err) {
			break
		}
	}

	c.recordFailure(lastErr)
	return nil, fmt.Errorf("%s chat failed: %w", c.cfg.Name, lastErr)
}

// complete performs a single request/response exchange.
func (c *Client) complete(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.cfg.Model),
		Messages:    toParams(messages),
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	start := time.Now()
	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("upstream returned no choices")
	}

	usage := completion.Usage
	return &ChatResult{
		Content: completion.Choices[0].Message.Content,
		Tokens: TokenUsage{
			Prompt:     int(usage.PromptTokens),
			Completion: int(usage.CompletionTokens),
			Total:      int(usage.TotalTokens),
		},
		Cost:     c.cost(int(usage.PromptTokens), int(usage.CompletionTokens)),
		Duration: time.Since(start),
		Model:    c.cfg.Model,
		Name:     c.cfg.Name,
	}, nil
}

// cost prices one call: unit price per 1K tokens, prompt and
// completion priced separately.
func (c *Client) cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*c.cfg.InputPrice +
		float64(completionTokens)/1000*c.cfg.OutputPrice
}

func (c *Client) retryDelay(failed int) time.Duration {
	d := c.retryBase << failed
	if half := d / 2; half > 0 {
		d += rand.N(half)
	}
	return d
}

// retryableError reports whether err is a transport-level failure.
// Errors the endpoint answered with (any HTTP status) are not
// retryable; neither are malformed response bodies.
func retryableError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) recordSuccess(res *ChatResult) {
	c.mu.Lock()
	c.failureCount = 0
	c.totalTokens += res.Tokens.Total
	c.totalCost += res.Cost
	c.mu.Unlock()

	metrics.UpstreamRequests.WithLabelValues(c.cfg.Name, metrics.OutcomeSuccess).Inc()
	metrics.UpstreamTokens.WithLabelValues(c.cfg.Name).Add(float64(res.Tokens.Total))
	metrics.UpstreamCost.WithLabelValues(c.cfg.Name).Add(res.Cost)
}

// recordFailure bumps the consecutive-failure counter. A call the
// caller abandoned says nothing about endpoint health, so pure
// cancellation is not counted.
func (c *Client) recordFailure(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.mu.Lock()
	c.failureCount++
	count := c.failureCount
	c.mu.Unlock()

	metrics.UpstreamRequests.WithLabelValues(c.cfg.Name, metrics.OutcomeFailure).Inc()
	c.logger.Error("Upstream call failed",
		"consecutive_failures", count,
		"error", err)
}

// CircuitOpen reports whether the endpoint has failed often enough in
// a row that callers should route around it.
func (c *Client) CircuitOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failureCount >= circuitThreshold
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() EndpointStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return EndpointStats{
		Name:         c.cfg.Name,
		Tokens:       c.totalTokens,
		Cost:         c.totalCost,
		FailureCount: c.failureCount,
		CircuitOpen:  c.failureCount >= circuitThreshold,
	}
}

// ResetStats zeroes the token, cost, and failure counters.
func (c *Client) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalTokens = 0
	c.totalCost = 0
	c.failureCount = 0
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
