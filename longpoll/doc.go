// Package longpoll receives Telegram updates by long polling getUpdates.
//
// A Poller owns an offset cursor. Each iteration asks for updates starting at cursor+1,
// moves the cursor past every update it receives and starts the handler for each one in
// a new goroutine. The loop never waits for handlers, so a slow handler cannot delay the
// next poll. At most one getUpdates call is outstanding at any time.
//
// When a call fails the cursor stays where it is and the poller waits before trying again:
// for the number of seconds in the server's retry_after hint if the error carries one
// (see httperrors.RetryAfter), otherwise for Config.ErrorTimeout. There is no retry limit.
//
// The poller stops cooperatively. Handle.Shutdown may be called from any goroutine any
// number of times; the loop notices it before the next getUpdates call. Cancelling the
// context given to Run stops the loop immediately.
//
// Example:
//
//	client := botapi.New(os.Getenv("TGBOT_TOKEN"))
//
//	p, err := longpoll.New(client, handler.HandlerFunc(func(ctx context.Context, u types.Update) {
//		if m := u.EffectiveMessage(); m != nil && m.Text != "" {
//			client.SendMessage(ctx, botapi.SendMessage{ChatID: m.Chat.ID, Text: m.Text})
//		}
//	}), longpoll.Config{
//		PollTimeout:    50 * time.Second,
//		AllowedUpdates: []types.AllowedUpdate{types.AllowedMessage},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	h := p.Handle()
//	go func() {
//		<-sigCh
//		h.Shutdown()
//	}()
//	p.Run(context.Background())
//
// Updates are delivered at least once per run: the cursor is never persisted, so a
// restarted poller with the same starting offset may see updates again.
package longpoll
