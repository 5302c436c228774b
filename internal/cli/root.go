// Package cli implements the tgbot command line: an echo bot that runs either by long
// polling or behind a webhook.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/en9inerd/go-tgbot/botapi"
	"github.com/en9inerd/go-tgbot/ratelimit"
	"github.com/en9inerd/go-tgbot/validator"
)

// TokenEnv is read when no --token flag is given
const TokenEnv = "TGBOT_TOKEN"

const version = "0.1.0"

// Outgoing limits in line with the Bot API's published flood limits.
const (
	globalRate = 30
	chatRate   = 1
)

var errNoToken = errors.New("no bot token: pass --token, set " + TokenEnv + " or put token in the config file")

type app struct {
	logger *slog.Logger
	level  *slog.LevelVar

	configPath string
	token      string
	logLevel   string
	apiURL     string

	cfg          *Config
	pollFlags    PollConfig
	webhookFlags WebhookConfig

	getenv    func(string) string
	readToken func(w io.Writer) (string, error)
	notify    func(c chan<- os.Signal)
	listen    func(addr string) (net.Listener, error)
}

// NewRoot builds the tgbot command tree. level, if not nil, is set from --log-level
// or the config file before any subcommand runs.
func NewRoot(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	return newRoot(&app{
		logger:    logger,
		level:     level,
		getenv:    os.Getenv,
		readToken: promptToken,
		notify: func(c chan<- os.Signal) {
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		},
		listen: func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		},
	})
}

func newRoot(a *app) *cobra.Command {
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	root := &cobra.Command{
		Use:           "tgbot",
		Short:         "Telegram echo bot over long polling or a webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.token, "token", "", "bot token (default $"+TokenEnv+")")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&a.apiURL, "api-url", botapi.DefaultBaseURL, "Bot API server URL")

	root.AddCommand(newPollCommand(a))
	root.AddCommand(newWebhookCommand(a))
	root.AddCommand(newInfoCommand(a))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// load reads the config file and lets explicitly set flags win over it.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := LoadFrom(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	flags := cmd.Flags()
	if !flags.Changed("log-level") && cfg.LogLevel != "" {
		a.logLevel = cfg.LogLevel
	}
	if !flags.Changed("api-url") && cfg.APIURL != "" {
		a.apiURL = cfg.APIURL
	}

	level, err := parseLevel(a.logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level %q", a.logLevel)
	}
	if a.level != nil {
		a.level.Set(level)
	}
	if !validator.IsHTTPURL(a.apiURL) {
		return fmt.Errorf("invalid --api-url %q", a.apiURL)
	}
	return nil
}

// resolveToken picks the token from the flag, the environment, the config file or,
// as a last resort, an interactive prompt.
func (a *app) resolveToken(cmd *cobra.Command) (string, error) {
	token := a.token
	if token == "" {
		token = strings.TrimSpace(a.getenv(TokenEnv))
	}
	if token == "" && a.cfg != nil {
		token = a.cfg.Token
	}
	if token == "" {
		var err error
		if token, err = a.readToken(cmd.ErrOrStderr()); err != nil {
			return "", err
		}
	}
	if !validator.IsBotToken(token) {
		return "", errors.New("bot token is malformed")
	}
	return token, nil
}

func (a *app) client(cmd *cobra.Command) (*botapi.Client, error) {
	token, err := a.resolveToken(cmd)
	if err != nil {
		return nil, err
	}
	breaker := botapi.DefaultCircuitBreakerSettings()
	return botapi.NewWithConfig(botapi.Config{
		Token:          token,
		BaseURL:        a.apiURL,
		Logger:         a.logger,
		Limiter:        ratelimit.NewTokenBucket(globalRate, globalRate),
		ChatLimiter:    ratelimit.NewKeyed(chatRate, 1),
		CircuitBreaker: &breaker,
	}), nil
}

func promptToken(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoToken
	}
	fmt.Fprint(w, "Bot token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
