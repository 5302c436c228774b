package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/en9inerd/go-tgbot/botapi"
	"github.com/en9inerd/go-tgbot/internal/offsetstore"
	"github.com/en9inerd/go-tgbot/longpoll"
	"github.com/en9inerd/go-tgbot/types"
)

func newPollCommand(a *app) *cobra.Command {
	opts := &a.pollFlags
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the echo bot with long polling",
		Long: "Deletes any webhook and runs the echo bot with getUpdates long polling.\n" +
			"The first SIGINT or SIGTERM stops after the pending poll, a second one stops at once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := a.pollConfig(cmd)
			if err != nil {
				return err
			}
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			return a.runPoll(cmd.Context(), client, pc)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Limit, "limit", longpoll.DefaultLimit, "updates per getUpdates call (1-100)")
	f.DurationVar(&opts.PollTimeout, "poll-timeout", longpoll.DefaultPollTimeout, "long-poll wait, whole seconds; negative for short polling")
	f.DurationVar(&opts.ErrorTimeout, "error-timeout", longpoll.DefaultErrorTimeout, "wait after a failed call without retry_after")
	f.StringSliceVar(&opts.AllowedUpdates, "allowed-updates", nil, "update kinds to receive, comma separated (default all)")
	f.IntVar(&opts.MaxInFlight, "max-in-flight", 0, "limit on concurrently running handlers, 0 for none")
	f.StringVar(&opts.OffsetDB, "offset-db", "", "SQLite file to persist the last handled update id in")

	return cmd
}

// pollConfig merges the config file section with the flags set on cmd.
func (a *app) pollConfig(cmd *cobra.Command) (PollConfig, error) {
	pc, flags := a.cfg.Poll, a.pollFlags
	f := cmd.Flags()
	if f.Changed("limit") || pc.Limit == 0 {
		pc.Limit = flags.Limit
	}
	if f.Changed("poll-timeout") || pc.PollTimeout == 0 {
		pc.PollTimeout = flags.PollTimeout
	}
	if f.Changed("error-timeout") || pc.ErrorTimeout == 0 {
		pc.ErrorTimeout = flags.ErrorTimeout
	}
	if f.Changed("allowed-updates") {
		pc.AllowedUpdates = flags.AllowedUpdates
	}
	if f.Changed("max-in-flight") {
		pc.MaxInFlight = flags.MaxInFlight
	}
	if f.Changed("offset-db") {
		pc.OffsetDB = flags.OffsetDB
	}

	for _, s := range pc.AllowedUpdates {
		if _, err := types.ParseAllowedUpdate(strings.TrimSpace(s)); err != nil {
			return PollConfig{}, fmt.Errorf("allowed updates: %w", err)
		}
	}
	return pc, nil
}

func (a *app) runPoll(ctx context.Context, client *botapi.Client, pc PollConfig) error {
	logger := a.logger

	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	if err := client.DeleteWebhook(ctx, botapi.DeleteWebhook{}); err != nil {
		return fmt.Errorf("deleteWebhook: %w", err)
	}

	h := echo(client, logger)
	var updater longpoll.Updater = client
	var offset int64
	if pc.OffsetDB != "" {
		store, err := offsetstore.New(pc.OffsetDB)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.AutoMigrate(ctx); err != nil {
			return err
		}
		saved, ok, err := store.Load(ctx, me.ID)
		if err != nil {
			return err
		}
		if ok {
			offset = saved
			logger.Info("resuming from saved offset", "offset", offset)
		}
		w := newWatermark(offset)
		updater = trackingUpdater{next: client, w: w}
		h = saveOffset(h, store, me.ID, w, logger)
	}

	// drained before the store above is closed
	t := &tracker{logger: logger}
	defer t.close()
	h = t.wrap(h)

	allowed := make([]types.AllowedUpdate, 0, len(pc.AllowedUpdates))
	for _, s := range pc.AllowedUpdates {
		allowed = append(allowed, types.AllowedUpdate(strings.TrimSpace(s)))
	}

	poller, err := longpoll.New(updater, h, longpoll.Config{
		Offset:         offset,
		Limit:          pc.Limit,
		PollTimeout:    pc.PollTimeout,
		ErrorTimeout:   pc.ErrorTimeout,
		AllowedUpdates: allowed,
		MaxInFlight:    pc.MaxInFlight,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 2)
	a.notify(sigs)
	defer signal.Stop(sigs)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle := poller.Handle()

	logger.Info("bot started", "username", me.Username, "id", me.ID)

	var group errgroup.Group
	group.Go(func() error {
		poller.Run(runCtx)
		return nil
	})
	group.Go(func() error {
		watchSignals(sigs, handle, cancel, logger)
		return nil
	})
	return group.Wait()
}

// watchSignals turns the first signal into a graceful shutdown and the second into a
// hard stop. It returns once the poller has stopped.
func watchSignals(sigs <-chan os.Signal, handle longpoll.Handle, cancel context.CancelFunc, logger *slog.Logger) {
	graceful := true
	for {
		select {
		case <-handle.Done():
			return
		case sig := <-sigs:
			if graceful {
				logger.Info("shutting down after the pending poll", "signal", sig.String())
				handle.Shutdown()
				graceful = false
				continue
			}
			logger.Warn("stopping now", "signal", sig.String())
			cancel()
		}
	}
}
