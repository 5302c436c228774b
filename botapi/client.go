// Package botapi is a small client for the Telegram Bot HTTP API.
//
// Every call is a JSON POST to {BaseURL}/bot{token}/{method}. Unsuccessful responses
// come back as *httperrors.APIError, transport failures as *httperrors.NetworkError and
// unreadable bodies as *httperrors.DecodeError.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/en9inerd/go-tgbot/httperrors"
	"github.com/en9inerd/go-tgbot/ratelimit"
	"github.com/en9inerd/go-tgbot/retry"
	"github.com/en9inerd/go-tgbot/types"
	"github.com/en9inerd/go-tgbot/validator"
)

const (
	// DefaultBaseURL is the public Bot API server
	DefaultBaseURL = "https://api.telegram.org"
	// DefaultTimeout is the per-request budget, not counting the long-poll wait of getUpdates
	DefaultTimeout = 30 * time.Second
	// DefaultRateLimitRetries is how many times a request is resent after a retry_after reply
	DefaultRateLimitRetries = 1

	maxResponseSize = 32 << 20
)

// ErrCircuitOpen is returned while the circuit breaker refuses requests
var ErrCircuitOpen = errors.New("botapi: circuit breaker open")

// Method is a Bot API method with its parameters. The value is encoded as the JSON request body.
type Method interface {
	MethodName() string
}

// longPoller is implemented by methods the server holds open, such as getUpdates
type longPoller interface {
	longPollTimeout() time.Duration
}

// chatScoped is implemented by methods addressed to a single chat
type chatScoped interface {
	chatKey() string
}

// Client talks to the Bot API
type Client struct {
	httpClient       *http.Client
	logger           *slog.Logger
	baseURL          string
	token            string
	timeout          time.Duration
	limiter          ratelimit.Limiter
	chatLimiter      *ratelimit.Keyed
	rateLimitRetries int
	breaker          *gobreaker.CircuitBreaker[json.RawMessage]
	sleeper          retry.Sleeper
}

// Config holds client configuration
type Config struct {
	Token   string
	BaseURL string
	// Timeout bounds a single request. getUpdates gets its long-poll timeout on top.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Limiter throttles every request, ChatLimiter additionally throttles per chat.
	Limiter     ratelimit.Limiter
	ChatLimiter *ratelimit.Keyed
	// RateLimitRetries: 0 means DefaultRateLimitRetries, negative disables resending.
	RateLimitRetries int
	CircuitBreaker   *CircuitBreakerSettings
	Sleeper          retry.Sleeper
}

// New creates a client for token with default settings
func New(token string) *Client {
	return NewWithConfig(Config{Token: token})
}

// NewWithConfig creates a client with custom configuration
func NewWithConfig(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = retry.RealSleeper{}
	}

	c := &Client{
		httpClient:  cfg.HTTPClient,
		logger:      cfg.Logger,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		token:       cfg.Token,
		timeout:     cfg.Timeout,
		limiter:     cfg.Limiter,
		chatLimiter: cfg.ChatLimiter,
		sleeper:     cfg.Sleeper,
	}
	c.WithRateLimitRetries(cfg.RateLimitRetries)
	if cfg.CircuitBreaker != nil {
		c.WithCircuitBreaker(*cfg.CircuitBreaker)
	}
	return c
}

// WithHTTPClient sets a custom HTTP client
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// WithTimeout sets the per-request timeout
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// WithBaseURL sets the Bot API server, e.g. a local telegram-bot-api instance
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// WithLogger sets the logger
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithLimiter sets the global rate limiter
func (c *Client) WithLimiter(l ratelimit.Limiter) *Client {
	c.limiter = l
	return c
}

// WithChatLimiter sets the per-chat rate limiter
func (c *Client) WithChatLimiter(l *ratelimit.Keyed) *Client {
	c.chatLimiter = l
	return c
}

// WithRateLimitRetries sets how many times a rate-limited request is resent.
// 0 selects the default, a negative value disables resending.
func (c *Client) WithRateLimitRetries(n int) *Client {
	switch {
	case n == 0:
		c.rateLimitRetries = DefaultRateLimitRetries
	case n < 0:
		c.rateLimitRetries = 0
	default:
		c.rateLimitRetries = n
	}
	return c
}

// WithSleeper sets the sleeper used while waiting out retry_after
func (c *Client) WithSleeper(s retry.Sleeper) *Client {
	c.sleeper = s
	return c
}

// Execute sends m and decodes the result into result, which may be nil.
//
// A reply carrying retry_after is resent after waiting that long, at most RateLimitRetries
// times. When the retries are used up the *httperrors.APIError is returned so callers can
// still honour the hint.
func (c *Client) Execute(ctx context.Context, m Method, result any) error {
	name := m.MethodName()
	if v, ok := m.(validator.Validatable); ok {
		if err := validator.ValidateRequest(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	strategy := &retry.Strategy{
		MaxAttempts:     c.rateLimitRetries + 1,
		RetryableErrors: httperrors.IsRateLimited,
		Backoff:         httperrors.RetryAfter,
		Sleeper:         c.sleeper,
	}
	raw, err := retry.DoWithResult(ctx, strategy, func() (json.RawMessage, error) {
		return c.executeOnce(ctx, m)
	})
	if err != nil {
		return err
	}

	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return httperrors.NewDecodeError(name, http.StatusOK, err)
	}
	return nil
}

func (c *Client) executeOnce(ctx context.Context, m Method) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if cs, ok := m.(chatScoped); ok && c.chatLimiter != nil {
		if key := cs.chatKey(); key != "" {
			if err := c.chatLimiter.Wait(ctx, key); err != nil {
				return nil, err
			}
		}
	}

	if c.breaker == nil {
		return c.doRequest(ctx, m)
	}
	raw, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.doRequest(ctx, m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return raw, err
}

type apiResponse struct {
	OK          bool                      `json:"ok"`
	Result      json.RawMessage           `json:"result"`
	Description string                    `json:"description"`
	ErrorCode   int                       `json:"error_code"`
	Parameters  *types.ResponseParameters `json:"parameters"`
}

func (c *Client) doRequest(ctx context.Context, m Method) (json.RawMessage, error) {
	name := m.MethodName()

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal json: %w", name, err)
	}

	budget := c.timeout
	if lp, ok := m.(longPoller); ok {
		budget += lp.longPollTimeout()
	}
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(name), bytes.NewReader(body))
	if err != nil {
		return nil, httperrors.NewNetworkError(name+": create request", c.scrub(err))
	}
	req.Header.Set("Content-Type", "application/json")

	if c.logger != nil {
		c.logger.Debug("bot api request", "method", name)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, httperrors.NewNetworkError(name+": request failed", c.scrub(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, httperrors.NewNetworkError(name+": read response", c.scrub(err))
	}

	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return nil, httperrors.NewDecodeError(name, resp.StatusCode, err)
	}
	if !ar.OK {
		code := ar.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		apiErr := httperrors.NewAPIErrorWithParameters(name, code, ar.Description, ar.Parameters)
		if c.logger != nil {
			c.logger.Debug("bot api error", "method", name, "code", code, "description", ar.Description)
		}
		return nil, apiErr
	}
	return ar.Result, nil
}

// DownloadFile opens the file at filePath, as returned by GetFile. The caller closes the reader.
func (c *Client) DownloadFile(ctx context.Context, filePath string) (io.ReadCloser, error) {
	if validator.Blank(filePath) {
		return nil, httperrors.NewValidationError(map[string][]string{"file_path": {"cannot be blank"}}, nil)
	}

	u := c.baseURL + "/file/bot" + c.token + "/" + strings.TrimLeft(filePath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, httperrors.NewNetworkError("downloadFile: create request", c.scrub(err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, httperrors.NewNetworkError("downloadFile: request failed", c.scrub(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, httperrors.NewAPIError("downloadFile", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp.Body, nil
}

func (c *Client) methodURL(method string) string {
	return c.baseURL + "/bot" + c.token + "/" + method
}

// scrub removes the bot token from URLs carried by transport errors
func (c *Client) scrub(err error) error {
	if c.token == "" {
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{
			Op:  ue.Op,
			URL: strings.ReplaceAll(ue.URL, c.token, "<token>"),
			Err: ue.Err,
		}
	}
	if strings.Contains(err.Error(), c.token) {
		return errors.New(strings.ReplaceAll(err.Error(), c.token, "<token>"))
	}
	return err
}
