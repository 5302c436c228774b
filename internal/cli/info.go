package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/en9inerd/go-tgbot/types"
)

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the bot identity and webhook status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client(cmd)
			if err != nil {
				return err
			}
			me, err := client.GetMe(cmd.Context())
			if err != nil {
				return fmt.Errorf("getMe: %w", err)
			}
			info, err := client.GetWebhookInfo(cmd.Context())
			if err != nil {
				return fmt.Errorf("getWebhookInfo: %w", err)
			}
			printInfo(cmd.OutOrStdout(), me, info)
			return nil
		},
	}
}

func printInfo(w io.Writer, me *types.User, info *types.WebhookInfo) {
	fmt.Fprintf(w, "bot:      @%s (%s)\n", me.Username, me.FirstName)
	fmt.Fprintf(w, "id:       %d\n", me.ID)

	if info.URL == "" {
		fmt.Fprintln(w, "webhook:  none (long polling)")
	} else {
		fmt.Fprintf(w, "webhook:  %s\n", info.URL)
		if len(info.AllowedUpdates) > 0 {
			fmt.Fprintf(w, "allowed:  %s\n", strings.Join(info.AllowedUpdates, ", "))
		}
	}
	fmt.Fprintf(w, "pending:  %d\n", info.PendingUpdateCount)
	if info.LastErrorDate != 0 {
		at := time.Unix(info.LastErrorDate, 0).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "error:    %s at %s\n", info.LastErrorMessage, at)
	}
}
