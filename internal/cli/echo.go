package cli

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/en9inerd/go-tgbot/botapi"
	"github.com/en9inerd/go-tgbot/handler"
	"github.com/en9inerd/go-tgbot/longpoll"
	"github.com/en9inerd/go-tgbot/types"
)

type messageSender interface {
	SendMessage(ctx context.Context, m botapi.SendMessage) (*types.Message, error)
}

type offsetSaver interface {
	Save(ctx context.Context, botID, updateID int64) error
}

// echo replies to every text message with the same text.
func echo(sender messageSender, logger *slog.Logger) handler.Handler {
	return handler.HandlerFunc(func(ctx context.Context, u types.Update) {
		msg := u.Message
		if msg == nil || msg.Text == "" {
			logger.Debug("ignoring update", "update_id", u.ID, "kind", u.Kind)
			return
		}
		_, err := sender.SendMessage(ctx, botapi.SendMessage{
			ChatID:          msg.Chat.ID,
			Text:            msg.Text,
			ReplyParameters: &botapi.ReplyParameters{MessageID: msg.MessageID, AllowSendingWithoutReply: true},
		})
		if err != nil {
			logger.Error("echo failed", "update_id", u.ID, "chat_id", msg.Chat.ID, "error", err)
			return
		}
		logger.Info("echoed message", "update_id", u.ID, "chat_id", msg.Chat.ID)
	})
}

// saveOffset saves the low watermark of w after next has handled u.
func saveOffset(next handler.Handler, store offsetSaver, botID int64, w *watermark, logger *slog.Logger) handler.Handler {
	return handler.HandlerFunc(func(ctx context.Context, u types.Update) {
		next.Handle(ctx, u)
		mark, ok := w.done(u.ID)
		if !ok {
			return
		}
		if err := store.Save(ctx, botID, mark); err != nil {
			logger.Error("cannot save offset", "update_id", u.ID, "offset", mark, "error", err)
		}
	})
}

// watermark tracks fetched update ids until they are handled. Its mark is the highest id
// below which every fetched update has been handled.
type watermark struct {
	mu      sync.Mutex
	pending []int64 // ascending
	highest int64
	saved   int64
}

func newWatermark(offset int64) *watermark {
	return &watermark{highest: offset, saved: offset}
}

func (w *watermark) fetched(updates []types.Update) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range updates {
		if u.ID <= w.highest {
			continue
		}
		w.pending = append(w.pending, u.ID)
		w.highest = u.ID
	}
}

// done marks id handled. It reports the new mark when it moved past the last one reported.
func (w *watermark) done(id int64) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i, found := slices.BinarySearch(w.pending, id); found {
		w.pending = slices.Delete(w.pending, i, i+1)
	}

	mark := w.highest
	if len(w.pending) > 0 {
		mark = w.pending[0] - 1
	}
	if mark <= w.saved {
		return 0, false
	}
	w.saved = mark
	return mark, true
}

// trackingUpdater registers every fetched batch with w before the poller dispatches it.
type trackingUpdater struct {
	next longpoll.Updater
	w    *watermark
}

func (t trackingUpdater) GetUpdates(ctx context.Context, m botapi.GetUpdates) ([]types.Update, error) {
	updates, err := t.next.GetUpdates(ctx, m)
	if err == nil {
		t.w.fetched(updates)
	}
	return updates, err
}

// tracker counts running handlers so they can be drained before shared resources are
// closed. Updates arriving after close are dropped.
type tracker struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
	logger *slog.Logger
}

func (t *tracker) wrap(next handler.Handler) handler.Handler {
	return handler.HandlerFunc(func(ctx context.Context, u types.Update) {
		if !t.enter() {
			t.logger.Warn("dropping update after shutdown", "update_id", u.ID)
			return
		}
		defer t.wg.Done()
		next.Handle(ctx, u)
	})
}

func (t *tracker) enter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

// close refuses new handlers and waits for the running ones.
func (t *tracker) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}
