package longpoll_test

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/en9inerd/go-tgbot/botapi"
	"github.com/en9inerd/go-tgbot/handler"
	"github.com/en9inerd/go-tgbot/longpoll"
	"github.com/en9inerd/go-tgbot/types"
)

func ExampleNew() {
	client := botapi.New(os.Getenv("TGBOT_TOKEN"))

	echo := handler.HandlerFunc(func(ctx context.Context, u types.Update) {
		m := u.EffectiveMessage()
		if m == nil || m.Text == "" {
			return
		}
		client.SendMessage(ctx, botapi.SendMessage{
			ChatID:          m.Chat.ID,
			Text:            m.Text,
			ReplyParameters: &botapi.ReplyParameters{MessageID: m.MessageID},
		})
	})

	p, err := longpoll.New(client, echo, longpoll.Config{
		PollTimeout:    50 * time.Second, // Telegram allows up to 50 seconds
		AllowedUpdates: []types.AllowedUpdate{types.AllowedMessage},
		Logger:         slog.Default(),
	})
	if err != nil {
		slog.Error("create poller", "error", err)
		return
	}

	h := p.Handle()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		h.Shutdown()
	}()

	p.Run(context.Background())
}

func ExampleHandle_Shutdown() {
	client := botapi.New(os.Getenv("TGBOT_TOKEN"))
	p, _ := longpoll.New(client, handler.HandlerFunc(func(context.Context, types.Update) {}), longpoll.Config{})

	h := p.Handle()
	go p.Run(context.Background())

	// Stop after the current getUpdates call returns.
	h.Shutdown()
	<-h.Done()
}
