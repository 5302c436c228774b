package longpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/en9inerd/go-tgbot/botapi"
	"github.com/en9inerd/go-tgbot/handler"
	"github.com/en9inerd/go-tgbot/httperrors"
	"github.com/en9inerd/go-tgbot/retry"
	"github.com/en9inerd/go-tgbot/types"
	"github.com/en9inerd/go-tgbot/validator"
)

const (
	// DefaultLimit is the batch size requested when Config.Limit is zero
	DefaultLimit = 100
	// DefaultPollTimeout is the long-poll wait used when Config.PollTimeout is zero
	DefaultPollTimeout = 10 * time.Second
	// DefaultErrorTimeout is the wait after a failure that carries no retry_after hint
	DefaultErrorTimeout = 5 * time.Second
)

var (
	// ErrNilUpdater is returned by New when no updater is given
	ErrNilUpdater = errors.New("longpoll: nil updater")
	// ErrNilHandler is returned by New when no handler is given
	ErrNilHandler = errors.New("longpoll: nil handler")
)

// Updater fetches a batch of updates. *botapi.Client implements it.
type Updater interface {
	GetUpdates(ctx context.Context, m botapi.GetUpdates) ([]types.Update, error)
}

// Config holds configuration for the poller.
type Config struct {
	// Offset is the starting cursor. The first request asks for Offset+1.
	Offset int64

	// Limit is the batch size, 1..100. Default: 100
	Limit int

	// PollTimeout is how long the server may hold a getUpdates call open.
	// It is sent in whole seconds, rounded up. Default: 10 seconds. A negative value
	// selects short polling, which is only useful in tests.
	PollTimeout time.Duration

	// ErrorTimeout is the wait after a failed call without a retry_after hint.
	// Default: 5 seconds
	ErrorTimeout time.Duration

	// AllowedUpdates restricts the update kinds delivered. Duplicates are dropped.
	// Empty means every kind.
	AllowedUpdates []types.AllowedUpdate

	// MaxInFlight bounds the number of running handlers. When the bound is reached the
	// loop waits for a slot before dispatching. Zero means unbounded.
	MaxInFlight int

	// Logger is an optional logger.
	Logger *slog.Logger

	// Sleeper waits out backoff. If nil, a timer is used.
	Sleeper retry.Sleeper
}

// Validate implements validator.Validatable
func (c Config) Validate(v *validator.Validator) {
	v.CheckField(c.Limit == 0 || validator.InRange(c.Limit, 1, 100), "limit", "must be between 1 and 100")
	v.CheckField(validator.MinDuration(c.ErrorTimeout, 0), "error_timeout", "cannot be negative")
	v.CheckField(validator.MinInt(c.MaxInFlight, 0), "max_in_flight", "cannot be negative")
	for _, au := range c.AllowedUpdates {
		v.CheckField(validator.NotBlank(string(au)), "allowed_updates", "cannot contain a blank update type")
	}
}

// Poller repeatedly calls getUpdates and hands every update to a handler in its own
// goroutine. A Poller runs once: after Run returns it is spent.
type Poller struct {
	updater Updater
	handler handler.Handler
	logger  *slog.Logger
	sleeper retry.Sleeper
	sem     *semaphore.Weighted

	offset       int64
	limit        int
	timeout      int
	errorTimeout time.Duration
	allowed      []types.AllowedUpdate

	started  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a poller fetching from updater and dispatching to h.
func New(updater Updater, h handler.Handler, cfg Config) (*Poller, error) {
	if updater == nil {
		return nil, ErrNilUpdater
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	if err := validator.ValidateRequest(cfg); err != nil {
		return nil, fmt.Errorf("longpoll: invalid config: %w", err)
	}

	if cfg.Limit == 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.PollTimeout < 0 {
		cfg.PollTimeout = 0
	}
	if cfg.ErrorTimeout == 0 {
		cfg.ErrorTimeout = DefaultErrorTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = retry.RealSleeper{}
	}

	p := &Poller{
		updater:      updater,
		handler:      h,
		logger:       cfg.Logger,
		sleeper:      cfg.Sleeper,
		offset:       cfg.Offset,
		limit:        cfg.Limit,
		timeout:      int((cfg.PollTimeout + time.Second - 1) / time.Second),
		errorTimeout: cfg.ErrorTimeout,
		allowed:      types.NormalizeAllowedUpdates(cfg.AllowedUpdates),
		shutdown:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	if cfg.MaxInFlight > 0 {
		p.sem = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return p, nil
}

// Handle returns a handle that can stop the poller from any goroutine.
func (p *Poller) Handle() Handle {
	return Handle{shutdown: p.shutdown, done: p.done}
}

// Run polls until shutdown is requested through a Handle or ctx is done.
//
// Shutdown is checked before each getUpdates call, so a pending call or backoff wait
// finishes first. Cancelling ctx aborts both immediately. Dispatched handlers are never
// waited for and never cancelled: they receive a context detached from ctx.
//
// Only the first call to Run polls. Later or concurrent calls return at once.
func (p *Poller) Run(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	defer close(p.done)

	handlerCtx := context.WithoutCancel(ctx)
	p.logger.Info("long polling started", "offset", p.offset, "limit", p.limit, "timeout", p.timeout)

	for {
		select {
		case <-p.shutdown:
			p.logger.Info("long polling stopped", "offset", p.offset)
			return
		default:
		}
		if err := ctx.Err(); err != nil {
			p.logger.Info("long polling cancelled", "offset", p.offset, "error", err)
			return
		}

		updates, err := p.updater.GetUpdates(ctx, botapi.GetUpdates{
			Offset:         p.offset + 1,
			Limit:          p.limit,
			Timeout:        p.timeout,
			AllowedUpdates: p.allowed,
		})
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("long polling cancelled", "offset", p.offset, "error", ctx.Err())
				return
			}
			wait := p.backoff(err)
			p.logger.Warn("getUpdates failed", "error", err, "offset", p.offset, "retry_in", wait)
			if err := p.sleeper.Sleep(ctx, wait); err != nil {
				p.logger.Info("long polling cancelled", "offset", p.offset, "error", err)
				return
			}
			continue
		}

		for _, u := range updates {
			if !p.dispatch(ctx, handlerCtx, u) {
				p.logger.Info("long polling cancelled", "offset", p.offset, "error", ctx.Err())
				return
			}
		}
		if len(updates) > 0 {
			p.logger.Debug("dispatched updates", "count", len(updates), "offset", p.offset)
		}
	}
}

// backoff returns the wait before the next attempt after err
func (p *Poller) backoff(err error) time.Duration {
	if d, ok := httperrors.RetryAfter(err); ok {
		return d
	}
	return p.errorTimeout
}

// dispatch advances the cursor past u and starts its handler. It reports false if ctx
// was cancelled while waiting for a free handler slot.
func (p *Poller) dispatch(ctx, handlerCtx context.Context, u types.Update) bool {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return false
		}
	}

	p.offset = max(p.offset, u.ID)

	go func() {
		if p.sem != nil {
			defer p.sem.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("update handler panicked", "update_id", u.ID, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		p.handler.Handle(handlerCtx, u)
	}()
	return true
}

// Handle stops a Poller. The zero Handle does nothing.
type Handle struct {
	shutdown chan<- struct{}
	done     <-chan struct{}
}

// Shutdown asks the poller to stop before its next getUpdates call. It never blocks;
// calls after the first, or after the poller stopped, have no effect.
func (h Handle) Shutdown() {
	select {
	case h.shutdown <- struct{}{}:
	default:
	}
}

// Done returns a channel that is closed when Run returns.
func (h Handle) Done() <-chan struct{} {
	return h.done
}
