package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/en9inerd/go-tgbot/validator"
)

// Config is the tgbot config file. Every value can be overridden by a flag.
type Config struct {
	Token    string        `yaml:"token"`
	APIURL   string        `yaml:"api_url"`
	LogLevel string        `yaml:"log_level"`
	Poll     PollConfig    `yaml:"poll"`
	Webhook  WebhookConfig `yaml:"webhook"`
}

type PollConfig struct {
	Limit          int           `yaml:"limit"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
	ErrorTimeout   time.Duration `yaml:"error_timeout"`
	AllowedUpdates []string      `yaml:"allowed_updates"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	OffsetDB       string        `yaml:"offset_db"`
}

type WebhookConfig struct {
	Listen       string `yaml:"listen"`
	URL          string `yaml:"url"`
	Path         string `yaml:"path"`
	Secret       string `yaml:"secret"`
	MaxBodySize  int64  `yaml:"max_body_size"`
	TelegramOnly bool   `yaml:"telegram_only"`
	TrustProxy   bool   `yaml:"trust_proxy"`
}

// LoadFrom reads the config file at path. An empty path yields an empty Config.
func LoadFrom(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	return validator.ValidateRequest(c)
}

// Validate implements validator.Validatable
func (c *Config) Validate(v *validator.Validator) {
	if c.Token != "" {
		v.CheckField(validator.IsBotToken(c.Token), "token", "is not a bot token")
	}
	if c.APIURL != "" {
		v.CheckField(validator.IsHTTPURL(c.APIURL), "api_url", "must be an http or https URL")
	}
	if c.LogLevel != "" {
		_, err := parseLevel(c.LogLevel)
		v.CheckField(err == nil, "log_level", "must be debug, info, warn or error")
	}
	v.CheckField(c.Poll.Limit == 0 || validator.InRange(c.Poll.Limit, 1, 100), "poll.limit", "must be between 1 and 100")
	v.CheckField(validator.MinDuration(c.Poll.ErrorTimeout, 0), "poll.error_timeout", "cannot be negative")
	v.CheckField(validator.MinInt(c.Poll.MaxInFlight, 0), "poll.max_in_flight", "cannot be negative")
	if c.Webhook.URL != "" {
		v.CheckField(validator.IsHTTPSURL(c.Webhook.URL), "webhook.url", "must be an https URL")
	}
	if c.Webhook.Secret != "" {
		v.CheckField(validator.IsSecretToken(c.Webhook.Secret), "webhook.secret", "must be 1-256 characters of A-Z, a-z, 0-9, _ and -")
	}
	v.CheckField(c.Webhook.MaxBodySize >= 0, "webhook.max_body_size", "cannot be negative")
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, err
	}
	return level, nil
}
