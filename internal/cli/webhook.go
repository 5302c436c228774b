package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/en9inerd/go-tgbot/botapi"
	"github.com/en9inerd/go-tgbot/webhook"
)

const defaultListen = ":8443"

func newWebhookCommand(a *app) *cobra.Command {
	opts := &a.webhookFlags
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Register a webhook and serve the echo bot behind it",
		Long: "Calls setWebhook with --url and serves updates on --listen until SIGINT or SIGTERM.\n" +
			"TLS is expected to be terminated by a reverse proxy in front of the listener.",
		RunE: func(cmd *cobra.Command, args []string) error {
			wc := a.webhookConfig(cmd)
			if wc.URL == "" {
				return errors.New("webhook url is required: pass --url or set webhook.url")
			}
			client, err := a.client(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigs := make(chan os.Signal, 1)
			a.notify(sigs)
			defer signal.Stop(sigs)
			go func() {
				select {
				case sig := <-sigs:
					a.logger.Info("shutting down webhook server", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			return a.runWebhook(ctx, client, wc)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Listen, "listen", defaultListen, "address to serve updates on")
	f.StringVar(&opts.URL, "url", "", "public https URL Telegram posts updates to")
	f.StringVar(&opts.Path, "path", webhook.DefaultPath, "path updates are accepted on")
	f.StringVar(&opts.Secret, "secret", "", "secret token Telegram sends in every request")

	return cmd
}

// webhookConfig merges the config file section with the flags set on cmd.
func (a *app) webhookConfig(cmd *cobra.Command) WebhookConfig {
	wc, flags := a.cfg.Webhook, a.webhookFlags
	f := cmd.Flags()
	if f.Changed("listen") || wc.Listen == "" {
		wc.Listen = flags.Listen
	}
	if f.Changed("url") {
		wc.URL = flags.URL
	}
	if f.Changed("path") || wc.Path == "" {
		wc.Path = flags.Path
	}
	if f.Changed("secret") {
		wc.Secret = flags.Secret
	}
	return wc
}

func (a *app) runWebhook(ctx context.Context, client *botapi.Client, wc WebhookConfig) error {
	h, err := webhook.NewHandler(echo(client, a.logger), webhook.Config{
		Path:         wc.Path,
		SecretToken:  wc.Secret,
		MaxBodySize:  wc.MaxBodySize,
		TelegramOnly: wc.TelegramOnly,
		TrustProxy:   wc.TrustProxy,
		HealthPath:   "/healthz",
		Logger:       a.logger,
	})
	if err != nil {
		return err
	}

	ln, err := a.listen(wc.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", wc.Listen, err)
	}
	if err := client.SetWebhook(ctx, botapi.SetWebhook{URL: wc.URL, SecretToken: wc.Secret}); err != nil {
		ln.Close()
		return fmt.Errorf("setWebhook: %w", err)
	}
	a.logger.Info("webhook registered", "url", wc.URL, "listen", ln.Addr().String(), "path", wc.Path)

	return webhook.ServeListener(ctx, ln, h)
}
