// Package types holds the Telegram Bot API data types used by the client, the long-poll engine
// and the webhook receiver. Only the fields this module reads are modelled; everything else is
// kept as raw JSON on the Update.
package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// AllowedUpdate is the tag of an update kind, as used in the allowed_updates filter.
type AllowedUpdate string

const (
	AllowedMessage                 AllowedUpdate = "message"
	AllowedEditedMessage           AllowedUpdate = "edited_message"
	AllowedChannelPost             AllowedUpdate = "channel_post"
	AllowedEditedChannelPost       AllowedUpdate = "edited_channel_post"
	AllowedBusinessConnection      AllowedUpdate = "business_connection"
	AllowedBusinessMessage         AllowedUpdate = "business_message"
	AllowedEditedBusinessMessage   AllowedUpdate = "edited_business_message"
	AllowedDeletedBusinessMessages AllowedUpdate = "deleted_business_messages"
	AllowedMessageReaction         AllowedUpdate = "message_reaction"
	AllowedMessageReactionCount    AllowedUpdate = "message_reaction_count"
	AllowedInlineQuery             AllowedUpdate = "inline_query"
	AllowedChosenInlineResult      AllowedUpdate = "chosen_inline_result"
	AllowedCallbackQuery           AllowedUpdate = "callback_query"
	AllowedShippingQuery           AllowedUpdate = "shipping_query"
	AllowedPreCheckoutQuery        AllowedUpdate = "pre_checkout_query"
	AllowedPurchasedPaidMedia      AllowedUpdate = "purchased_paid_media"
	AllowedPoll                    AllowedUpdate = "poll"
	AllowedPollAnswer              AllowedUpdate = "poll_answer"
	AllowedBotStatus               AllowedUpdate = "my_chat_member"
	AllowedUserStatus              AllowedUpdate = "chat_member"
	AllowedChatJoinRequest         AllowedUpdate = "chat_join_request"
	AllowedChatBoostUpdated        AllowedUpdate = "chat_boost"
	AllowedChatBoostRemoved        AllowedUpdate = "removed_chat_boost"
)

var knownAllowedUpdates = []AllowedUpdate{
	AllowedMessage,
	AllowedEditedMessage,
	AllowedChannelPost,
	AllowedEditedChannelPost,
	AllowedBusinessConnection,
	AllowedBusinessMessage,
	AllowedEditedBusinessMessage,
	AllowedDeletedBusinessMessages,
	AllowedMessageReaction,
	AllowedMessageReactionCount,
	AllowedInlineQuery,
	AllowedChosenInlineResult,
	AllowedCallbackQuery,
	AllowedShippingQuery,
	AllowedPreCheckoutQuery,
	AllowedPurchasedPaidMedia,
	AllowedPoll,
	AllowedPollAnswer,
	AllowedBotStatus,
	AllowedUserStatus,
	AllowedChatJoinRequest,
	AllowedChatBoostUpdated,
	AllowedChatBoostRemoved,
}

// ErrUnknownAllowedUpdate is returned by ParseAllowedUpdate for unrecognised tags.
var ErrUnknownAllowedUpdate = errors.New("unknown update type")

// AllAllowedUpdates returns every update kind known to this package.
func AllAllowedUpdates() []AllowedUpdate {
	return slices.Clone(knownAllowedUpdates)
}

// ParseAllowedUpdate converts a tag such as "callback_query" into an AllowedUpdate.
func ParseAllowedUpdate(s string) (AllowedUpdate, error) {
	au := AllowedUpdate(s)
	if !au.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAllowedUpdate, s)
	}
	return au, nil
}

// Known reports whether the tag is one of the kinds defined in this package.
func (a AllowedUpdate) Known() bool {
	return slices.Contains(knownAllowedUpdates, a)
}

// NormalizeAllowedUpdates gives a filter list set semantics: duplicates are removed and the
// result is sorted. The result is never nil, so it always encodes as a JSON array.
func NormalizeAllowedUpdates(in []AllowedUpdate) []AllowedUpdate {
	out := make([]AllowedUpdate, 0, len(in))
	for _, au := range in {
		if !slices.Contains(out, au) {
			out = append(out, au)
		}
	}
	slices.Sort(out)
	return out
}

// Update is one incoming event. ID is the update_id; exactly one payload is present,
// identified by Kind. The most common payloads are decoded into typed fields, every
// payload is also available undecoded in Payload.
type Update struct {
	ID int64 `json:"update_id"`

	Kind    AllowedUpdate   `json:"-"`
	Payload json.RawMessage `json:"-"`

	Message               *Message       `json:"message,omitempty"`
	EditedMessage         *Message       `json:"edited_message,omitempty"`
	ChannelPost           *Message       `json:"channel_post,omitempty"`
	EditedChannelPost     *Message       `json:"edited_channel_post,omitempty"`
	BusinessMessage       *Message       `json:"business_message,omitempty"`
	EditedBusinessMessage *Message       `json:"edited_business_message,omitempty"`
	CallbackQuery         *CallbackQuery `json:"callback_query,omitempty"`
	InlineQuery           *InlineQuery   `json:"inline_query,omitempty"`
}

// plainUpdate has Update's fields without its JSON methods.
type plainUpdate Update

// UnmarshalJSON decodes the typed payloads and records the update kind and raw payload.
func (u *Update) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if _, ok := fields["update_id"]; !ok {
		return errors.New("update_id is missing")
	}

	var p plainUpdate
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "update_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		p.Kind = AllowedUpdate(keys[0])
		p.Payload = fields[keys[0]]
	}

	*u = Update(p)
	return nil
}

// MarshalJSON writes the update back in wire form.
func (u Update) MarshalJSON() ([]byte, error) {
	if u.Kind == "" || len(u.Payload) == 0 {
		return json.Marshal(plainUpdate(u))
	}
	return json.Marshal(map[string]any{
		"update_id":    u.ID,
		string(u.Kind): u.Payload,
	})
}

// EffectiveMessage returns the message carried by the update, if any: a new or edited
// message, channel post, business message, or the message a callback button belongs to.
func (u *Update) EffectiveMessage() *Message {
	for _, m := range []*Message{
		u.Message,
		u.EditedMessage,
		u.ChannelPost,
		u.EditedChannelPost,
		u.BusinessMessage,
		u.EditedBusinessMessage,
	} {
		if m != nil {
			return m
		}
	}
	if u.CallbackQuery != nil {
		return u.CallbackQuery.Message
	}
	return nil
}

// EffectiveChat returns the chat of the effective message.
func (u *Update) EffectiveChat() *Chat {
	if m := u.EffectiveMessage(); m != nil {
		return &m.Chat
	}
	return nil
}

// EffectiveUser returns the user who caused the update, when known.
func (u *Update) EffectiveUser() *User {
	switch {
	case u.CallbackQuery != nil:
		return &u.CallbackQuery.From
	case u.InlineQuery != nil:
		return &u.InlineQuery.From
	}
	if m := u.EffectiveMessage(); m != nil {
		return m.From
	}
	return nil
}
