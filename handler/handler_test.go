package handler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/en9inerd/go-tgbot/types"
)

func TestHandlerFunc(t *testing.T) {
	var got int64
	h := HandlerFunc(func(ctx context.Context, u types.Update) {
		got = u.ID
	})

	h.Handle(context.Background(), types.Update{ID: 11})

	if got != 11 {
		t.Errorf("expected update 11, got %d", got)
	}
}

func TestSynced_SerializesCalls(t *testing.T) {
	var active, maxActive atomic.Int32
	inner := HandlerFunc(func(ctx context.Context, u types.Update) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
	})

	h := Synced(inner)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			h.Handle(context.Background(), types.Update{ID: id})
		}(int64(i))
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("expected at most 1 concurrent call, got %d", maxActive.Load())
	}
}
