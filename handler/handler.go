// Package handler defines the capability the long-poll engine and the webhook receiver
// hand updates to.
package handler

import (
	"context"
	"sync"

	"github.com/en9inerd/go-tgbot/types"
)

// Handler processes one update. It has no return value: whatever goes wrong inside Handle
// is the handler's own business to log or retry.
//
// The long-poll engine calls Handle from a new goroutine for every update, so implementations
// must be safe for concurrent use (see Synced).
type Handler interface {
	Handle(ctx context.Context, update types.Update)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, update types.Update)

// Handle calls f(ctx, update).
func (f HandlerFunc) Handle(ctx context.Context, update types.Update) {
	f(ctx, update)
}

// Synced wraps h so that at most one Handle call runs at a time. Use it for handlers
// holding state that is not safe for concurrent use.
func Synced(h Handler) Handler {
	return &synced{h: h}
}

type synced struct {
	mu sync.Mutex
	h  Handler
}

func (s *synced) Handle(ctx context.Context, update types.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h.Handle(ctx, update)
}
