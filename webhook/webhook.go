// Package webhook receives Telegram updates pushed to an HTTPS endpoint registered with
// setWebhook. It is the alternative to long polling: each request carries one update,
// which is handed to the handler before the request is answered.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/en9inerd/go-tgbot/handler"
	"github.com/en9inerd/go-tgbot/httperrors"
	"github.com/en9inerd/go-tgbot/middleware"
	"github.com/en9inerd/go-tgbot/types"
	"github.com/en9inerd/go-tgbot/validator"
)

const (
	// DefaultPath is where updates are accepted when Config.Path is empty
	DefaultPath = "/"
	// DefaultMaxBodySize bounds the size of one update
	DefaultMaxBodySize = 1 << 20
	// ShutdownTimeout bounds the graceful shutdown in Serve
	ShutdownTimeout = 10 * time.Second
)

// ErrNilHandler is returned by NewHandler when no handler is given
var ErrNilHandler = errors.New("webhook: nil handler")

// Config holds configuration for the webhook receiver.
type Config struct {
	// Path updates are posted to. Default: "/"
	Path string

	// SecretToken must match the X-Telegram-Bot-Api-Secret-Token header when set.
	SecretToken string

	// MaxBodySize is the largest accepted update in bytes. Default: 1 MiB
	MaxBodySize int64

	// MaxConcurrent bounds updates handled at once; excess requests get 429. Zero means unbounded.
	MaxConcurrent int64

	// TelegramOnly rejects requests from outside Telegram's webhook networks.
	TelegramOnly bool

	// TrustProxy lets TelegramOnly read the client address from proxy headers set by
	// a reverse proxy on a private network.
	TrustProxy bool

	// HealthPath answers GET probes when set.
	HealthPath string

	// Logger is an optional logger.
	Logger *slog.Logger
}

// Validate implements validator.Validatable
func (c Config) Validate(v *validator.Validator) {
	if c.Path != "" {
		v.CheckField(strings.HasPrefix(c.Path, "/"), "path", "must start with /")
		v.CheckField(!strings.ContainsAny(c.Path, " {}"), "path", "must be a plain path")
	}
	if c.HealthPath != "" {
		v.CheckField(strings.HasPrefix(c.HealthPath, "/"), "health_path", "must start with /")
		v.CheckField(c.HealthPath != c.Path, "health_path", "must differ from path")
	}
	if c.SecretToken != "" {
		v.CheckField(validator.IsSecretToken(c.SecretToken), "secret_token", "must be 1-256 characters of A-Z, a-z, 0-9, _ and -")
	}
	v.CheckField(c.MaxBodySize >= 0, "max_body_size", "cannot be negative")
	v.CheckField(c.MaxConcurrent >= 0, "max_concurrent", "cannot be negative")
}

// NewHandler returns an http.Handler that decodes one update per POST request to
// cfg.Path and passes it to h. The request is answered with 200 once h returns.
// Other methods on the path get 405, other paths 404, undecodable bodies 400.
func NewHandler(h handler.Handler, cfg Config) (http.Handler, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if err := validator.ValidateRequest(cfg); err != nil {
		return nil, fmt.Errorf("webhook: invalid config: %w", err)
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	pattern := http.MethodPost + " " + cfg.Path
	if cfg.Path == "/" {
		// keep "/" from matching every path
		pattern = http.MethodPost + " /{$}"
	}

	updates := middleware.Chain(receive(h, cfg.Logger),
		middleware.SecretToken(cfg.SecretToken),
		middleware.Throttle(cfg.MaxConcurrent),
		middleware.SizeLimit(cfg.MaxBodySize),
	)
	if cfg.TelegramOnly {
		updates = middleware.TelegramOnly(cfg.TrustProxy, cfg.Logger)(updates)
	}

	mux := http.NewServeMux()
	mux.Handle(pattern, updates)

	return middleware.Chain(mux,
		middleware.Logger(cfg.Logger),
		middleware.Recoverer(cfg.Logger, true),
		middleware.Health(cfg.HealthPath),
	), nil
}

func receive(h handler.Handler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var u types.Update
		if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
			code := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				code = http.StatusRequestEntityTooLarge
			}
			if logger != nil {
				logger.Warn("cannot decode update", "error", err, "request_id", middleware.RequestID(r.Context()))
			}
			httperrors.NewErrorWithErr(code, "cannot decode update", err).WriteJSON(w)
			return
		}

		h.Handle(r.Context(), u)
		w.WriteHeader(http.StatusOK)
	}
}

// Serve listens on addr and serves h until ctx is done, then shuts the server down
// gracefully. It returns nil after a clean shutdown.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook: listen on %s: %w", addr, err)
	}
	return ServeListener(ctx, ln, h)
}

// ServeListener is like Serve but accepts connections on ln, which it closes.
func ServeListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
