package core

import "github.com/parley-chat/parley-server/internal/store"

// Outbound event names delivered to clients.
const (
	EventLoadChannels      = "load_channels"
	EventLoadVoiceChannels = "load_voice_channels"
	EventLoadMessages      = "load_messages"
	EventReceiveMessage    = "receive_message"
	EventEmoteList         = "emote_list"
	EventOnlineUsers       = "online_users"
	EventUserTyping        = "user_typing"
	EventError             = "error"
)

// Event is sent to clients to describe what happened in the system.
// Exactly one of the payload fields is set, matching Name.
type Event struct {
	Name     string
	Channel  string
	User     string
	Message  *store.Message
	Messages []*store.Message
	Channels []*store.Channel
	Users    []*store.User
	Emotes   []*store.Emote
	Err      *Error
}
