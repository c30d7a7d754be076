package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arguslabs/argus/internal/circuitbreaker"
	"github.com/arguslabs/argus/internal/metrics"
	"github.com/arguslabs/argus/internal/ratecontrol"
	"github.com/arguslabs/argus/internal/tracing"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
	defaultBackoff    = 500 * time.Millisecond
)

// HTTPClient speaks the chat-completions wire shape every provider we
// route to accepts. Calls go through a per-provider circuit breaker and
// a client-side rate limiter; when the config leaves the rate unset,
// the ratecontrol table supplies the provider's published ceilings.
type HTTPClient struct {
	name       string
	baseURL    string
	apiKey     string
	maxRetries int
	http       *circuitbreaker.HTTPWrapper
	limiter    *rate.Limiter
	limit      ratecontrol.Limit
	logger     *zap.Logger
}

func NewHTTPClient(cfg Config, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: base URL required", cfg.Name)
	}

	timeout := defaultTimeout
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	maxRetries := defaultMaxRetries
	if cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	// An explicit rate wins outright; otherwise the ratecontrol table
	// paces requests at the provider's RPM and charges oversized
	// completions their token cost in Complete.
	var limiter *rate.Limiter
	var limit ratecontrol.Limit
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	} else {
		limit = ratecontrol.ForProvider(cfg.Name)
		if limit.RPM > 0 {
			limiter = rate.NewLimiter(rate.Limit(float64(limit.RPM)/60.0), burst)
		}
	}

	wrapped := circuitbreaker.NewHTTPWrapper(
		&http.Client{Timeout: timeout},
		"provider-"+cfg.Name,
		logger,
	)

	return &HTTPClient{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: maxRetries,
		http:       wrapped,
		limiter:    limiter,
		limit:      limit,
		logger:     logger,
	}, nil
}

func (c *HTTPClient) Name() string { return c.name }

// Complete sends one completion and retries transient failures with
// exponential backoff. 4xx replies are terminal; 429 and 5xx retry.
func (c *HTTPClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	// The limiter spaces requests at the RPM interval; a request whose
	// token estimate costs more than that interval waits the excess so
	// the TPM ceiling holds too.
	if wait := ratecontrol.Delay(c.limit, req.MaxTokens) - ratecontrol.Interval(c.limit); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	started := time.Now()
	resp, err := c.completeWithRetries(ctx, req)
	elapsed := float64(time.Since(started).Milliseconds())

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordProviderCall(c.name, req.Model, status, elapsed)

	if err != nil {
		c.logger.Warn("Provider call failed",
			zap.String("provider", c.name),
			zap.String("model", req.Model),
			zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) completeWithRetries(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.doComplete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPClient) doComplete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &transientError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &transientError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return nil, &transientError{err: fmt.Errorf("server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		var ae apiError
		if json.Unmarshal(payload, &ae) == nil && ae.Error.Message != "" {
			return nil, fmt.Errorf("api error (%d): %s", resp.StatusCode, ae.Error.Message)
		}
		return nil, fmt.Errorf("api error (%d): %s", resp.StatusCode, string(payload))
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("empty response")
	}

	model := parsed.Model
	if model == "" {
		model = req.Model
	}
	return &CompletionResponse{
		Text:       parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
		Model:      model,
	}, nil
}

// Probe hits the model listing endpoint, which is cheap and does not
// consume completion quota.
func (c *HTTPClient) Probe(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("create probe: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe returned %d", resp.StatusCode)
	}
	return nil
}

// transientError marks failures worth retrying.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
