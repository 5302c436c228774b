package botapi

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/en9inerd/go-tgbot/types"
	"github.com/en9inerd/go-tgbot/validator"
)

// MaxMessageLength is the longest text sendMessage accepts
const MaxMessageLength = 4096

// GetUpdates receives incoming updates using long polling.
//
// Offset is the first update id to return. Timeout is the long-poll wait in seconds;
// zero means short polling. AllowedUpdates is sent as a JSON array whenever it is non-nil,
// and an empty array asks for every update type.
type GetUpdates struct {
	Offset         int64
	Limit          int
	Timeout        int
	AllowedUpdates []types.AllowedUpdate
}

func (GetUpdates) MethodName() string { return "getUpdates" }

func (m GetUpdates) longPollTimeout() time.Duration {
	return time.Duration(m.Timeout) * time.Second
}

// Validate implements validator.Validatable
func (m GetUpdates) Validate(v *validator.Validator) {
	v.CheckField(m.Limit == 0 || validator.InRange(m.Limit, 1, 100), "limit", "must be between 1 and 100")
	v.CheckField(m.Timeout >= 0, "timeout", "cannot be negative")
}

// MarshalJSON implements json.Marshaler
func (m GetUpdates) MarshalJSON() ([]byte, error) {
	body := struct {
		Offset         int64                  `json:"offset,omitempty"`
		Limit          int                    `json:"limit,omitempty"`
		Timeout        int                    `json:"timeout"`
		AllowedUpdates *[]types.AllowedUpdate `json:"allowed_updates,omitempty"`
	}{
		Offset:  m.Offset,
		Limit:   m.Limit,
		Timeout: m.Timeout,
	}
	if m.AllowedUpdates != nil {
		body.AllowedUpdates = &m.AllowedUpdates
	}
	return json.Marshal(body)
}

// GetMe returns basic information about the bot
type GetMe struct{}

func (GetMe) MethodName() string { return "getMe" }

// ReplyParameters describes the message to reply to
type ReplyParameters struct {
	MessageID                int64 `json:"message_id"`
	AllowSendingWithoutReply bool  `json:"allow_sending_without_reply,omitempty"`
}

// SendMessage sends a text message
type SendMessage struct {
	ChatID              int64            `json:"chat_id"`
	MessageThreadID     int64            `json:"message_thread_id,omitempty"`
	Text                string           `json:"text"`
	ParseMode           string           `json:"parse_mode,omitempty"`
	DisableNotification bool             `json:"disable_notification,omitempty"`
	ReplyParameters     *ReplyParameters `json:"reply_parameters,omitempty"`
}

func (SendMessage) MethodName() string { return "sendMessage" }

func (m SendMessage) chatKey() string { return strconv.FormatInt(m.ChatID, 10) }

// Validate implements validator.Validatable
func (m SendMessage) Validate(v *validator.Validator) {
	v.CheckField(m.ChatID != 0, "chat_id", "is required")
	v.CheckField(validator.NotBlank(m.Text), "text", "cannot be blank")
	v.CheckField(validator.MaxChars(m.Text, MaxMessageLength), "text", "is too long")
	if m.ParseMode != "" {
		v.CheckField(validator.PermittedValue(m.ParseMode, "HTML", "Markdown", "MarkdownV2"), "parse_mode", "is not supported")
	}
}

// SetWebhook registers an HTTPS URL Telegram delivers updates to
type SetWebhook struct {
	URL                string                `json:"url"`
	MaxConnections     int                   `json:"max_connections,omitempty"`
	AllowedUpdates     []types.AllowedUpdate `json:"allowed_updates,omitempty"`
	DropPendingUpdates bool                  `json:"drop_pending_updates,omitempty"`
	SecretToken        string                `json:"secret_token,omitempty"`
}

func (SetWebhook) MethodName() string { return "setWebhook" }

// Validate implements validator.Validatable
func (m SetWebhook) Validate(v *validator.Validator) {
	v.CheckField(validator.IsHTTPSURL(m.URL), "url", "must be an https URL")
	v.CheckField(m.MaxConnections == 0 || validator.InRange(m.MaxConnections, 1, 100), "max_connections", "must be between 1 and 100")
	if m.SecretToken != "" {
		v.CheckField(validator.IsSecretToken(m.SecretToken), "secret_token", "must be 1-256 characters of A-Z, a-z, 0-9, _ and -")
	}
}

// DeleteWebhook removes the webhook so getUpdates can be used again
type DeleteWebhook struct {
	DropPendingUpdates bool `json:"drop_pending_updates,omitempty"`
}

func (DeleteWebhook) MethodName() string { return "deleteWebhook" }

// GetWebhookInfo returns the current webhook status
type GetWebhookInfo struct{}

func (GetWebhookInfo) MethodName() string { return "getWebhookInfo" }

// GetFile prepares a file for download
type GetFile struct {
	FileID string `json:"file_id"`
}

func (GetFile) MethodName() string { return "getFile" }

// Validate implements validator.Validatable
func (m GetFile) Validate(v *validator.Validator) {
	v.CheckField(validator.NotBlank(m.FileID), "file_id", "cannot be blank")
}

// GetUpdates calls getUpdates
func (c *Client) GetUpdates(ctx context.Context, m GetUpdates) ([]types.Update, error) {
	var updates []types.Update
	if err := c.Execute(ctx, m, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// GetMe calls getMe
func (c *Client) GetMe(ctx context.Context) (*types.User, error) {
	var u types.User
	if err := c.Execute(ctx, GetMe{}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendMessage calls sendMessage
func (c *Client) SendMessage(ctx context.Context, m SendMessage) (*types.Message, error) {
	var msg types.Message
	if err := c.Execute(ctx, m, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SetWebhook calls setWebhook
func (c *Client) SetWebhook(ctx context.Context, m SetWebhook) error {
	var ok bool
	return c.Execute(ctx, m, &ok)
}

// DeleteWebhook calls deleteWebhook
func (c *Client) DeleteWebhook(ctx context.Context, m DeleteWebhook) error {
	var ok bool
	return c.Execute(ctx, m, &ok)
}

// GetWebhookInfo calls getWebhookInfo
func (c *Client) GetWebhookInfo(ctx context.Context) (*types.WebhookInfo, error) {
	var info types.WebhookInfo
	if err := c.Execute(ctx, GetWebhookInfo{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetFile calls getFile
func (c *Client) GetFile(ctx context.Context, fileID string) (*types.File, error) {
	var f types.File
	if err := c.Execute(ctx, GetFile{FileID: fileID}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
