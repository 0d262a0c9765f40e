package proto

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// Inbound is the envelope for events coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound event types.
const (
	InboundCreateChannel      = "create_channel"
	InboundCreateVoiceChannel = "create_voice_channel"
	InboundSendMessage        = "send_message"
	InboundPinMessage         = "pin_message"
	InboundAddReaction        = "add_reaction"
	InboundEditMessage        = "edit_message"
	InboundJoinChannel        = "join_channel"
	InboundUserTyping         = "user_typing"
	InboundCreateServer       = "create_server"
)

// Outbound event types.
const (
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

var validate = validator.New()

// Validate checks a decoded payload against its struct tags.
func Validate(payload any) error {
	return validate.Struct(payload)
}

// CreateChannelData registers a new text channel.
type CreateChannelData struct {
	Name        string `json:"name" validate:"required,min=1,max=64"`
	Topic       string `json:"topic" validate:"max=256"`
	Description string `json:"description" validate:"max=1024"`
	Server      string `json:"server" validate:"max=64"`
	Private     bool   `json:"private"`
}

// CreateVoiceChannelData registers a new voice channel.
type CreateVoiceChannelData struct {
	Name   string `json:"name" validate:"required,min=1,max=64"`
	Server string `json:"server" validate:"max=64"`
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	Channel string `json:"channel" validate:"required"`
	Message string `json:"message" validate:"required,max=4096"`
}

// PinMessageData pins a message, preferably by ID. The content match is
// kept for clients that only track message text.
type PinMessageData struct {
	Channel string `json:"channel" validate:"required"`
	ID      int64  `json:"id" validate:"min=0"`
	Message string `json:"message"`
}

// AddReactionData appends an emote to a message's reactions.
type AddReactionData struct {
	Channel string `json:"channel" validate:"required"`
	ID      int64  `json:"id" validate:"min=0"`
	Message string `json:"message"`
	Emote   string `json:"emote" validate:"required,max=64"`
}

// EditMessageData replaces a message's content by ID.
type EditMessageData struct {
	Channel string `json:"channel" validate:"required"`
	ID      int64  `json:"id" validate:"required,min=1"`
	Message string `json:"message" validate:"required,max=4096"`
}

// JoinChannelData subscribes the connection to a channel.
type JoinChannelData struct {
	Channel string `json:"channel" validate:"required"`
}

// UserTypingData is an ephemeral typing notification.
type UserTypingData struct {
	Channel string `json:"channel" validate:"required"`
}

// CreateServerData registers a new server grouping.
type CreateServerData struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}

// Outbound is the envelope for events sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// ChannelInfo describes a channel in list events.
type ChannelInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Server      string `json:"server"`
	Topic       string `json:"topic,omitempty"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private,omitempty"`
}

// MessageInfo describes a message in receive_message and load_messages
// events. The ID travels with every message so clients can pin, react
// and edit unambiguously.
type MessageInfo struct {
	ID        int64    `json:"id"`
	Channel   string   `json:"channel"`
	Sender    string   `json:"sender"`
	Content   string   `json:"content"`
	Timestamp int64    `json:"timestamp"`
	Reactions []string `json:"reactions,omitempty"`
	Pinned    bool     `json:"pinned"`
	Edited    bool     `json:"edited"`
}

// UserInfo describes a user in online_users events.
type UserInfo struct {
	Username string `json:"username"`
	Status   string `json:"status"`
	Avatar   string `json:"avatar,omitempty"`
}

// EmoteInfo describes a custom emote in emote_list events.
type EmoteInfo struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// TypingInfo describes a user_typing event.
type TypingInfo struct {
	Channel  string `json:"channel"`
	Username string `json:"username"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
