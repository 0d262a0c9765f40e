package core

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/store"
)

// SessionManager tracks each live connection's identity, current channel
// and presence status, and drives the presence broadcasts.
type SessionManager struct {
	store  store.Store
	dir    *ChannelDirectory
	roster *ConnectionRegistry
	log    *zerolog.Logger

	// emotes are scoped per server; connections start on this one.
	defaultServer string
}

// NewSessionManager wires a session manager over the given collaborators.
func NewSessionManager(st store.Store, dir *ChannelDirectory, roster *ConnectionRegistry, defaultServer string, logger *zerolog.Logger) *SessionManager {
	return &SessionManager{
		store:         st,
		dir:           dir,
		roster:        roster,
		defaultServer: defaultServer,
		log:           logger,
	}
}

// Connect registers the connection, marks the user online, unicasts the
// initial channel/emote snapshot to the joiner, and broadcasts presence.
func (m *SessionManager) Connect(ctx context.Context, c *Client) {
	m.roster.Add(c)

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	if err := m.store.SetUserStatus(sctx, c.Username, store.StatusOnline); err != nil {
		m.log.Warn().Err(err).Str("username", c.Username).Msg("set user online")
	}

	c.TrySend(&Event{Name: EventLoadChannels, Channels: m.dir.ListText()})
	c.TrySend(&Event{Name: EventLoadVoiceChannels, Channels: m.dir.ListVoice()})

	emotes, err := m.store.ListEmotes(sctx, m.defaultServer)
	if err != nil {
		m.log.Warn().Err(err).Msg("list emotes")
	} else {
		c.TrySend(&Event{Name: EventEmoteList, Emotes: emotes})
	}

	m.broadcastPresence(sctx)
	m.log.Info().Str("client_id", c.ID).Str("username", c.Username).Msg("client connected")
}

// Join subscribes the connection to a channel, replacing any prior
// subscription, and unicasts a snapshot of that channel's history to the
// joining connection only.
func (m *SessionManager) Join(ctx context.Context, c *Client, channel string) *Error {
	if !m.dir.Exists(channel) {
		return coreError(ErrCodeNotFound, "channel not found")
	}

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	banned, err := m.store.IsBanned(sctx, c.Username, channel)
	if err != nil {
		m.log.Error().Err(err).Str("channel", channel).Msg("ban check")
		return coreError(ErrCodeInternal, "internal error")
	}
	if banned {
		// Banned users do not see the channel at all.
		return coreError(ErrCodeNotFound, "channel not found")
	}

	m.roster.Subscribe(c, channel)

	messages, err := m.store.ListMessages(sctx, channel)
	if err != nil {
		m.log.Error().Err(err).Str("channel", channel).Msg("list messages")
		return fromStore(err, "messages unavailable")
	}

	c.TrySend(&Event{
		Name:     EventLoadMessages,
		Channel:  channel,
		Messages: messages,
	})
	return nil
}

// Typing broadcasts an ephemeral typing notification to the other
// subscribers of the channel. Nothing is persisted.
func (m *SessionManager) Typing(c *Client, channel string) {
	ev := &Event{
		Name:    EventUserTyping,
		Channel: channel,
		User:    c.Username,
	}
	for _, sub := range m.roster.Subscribers(channel) {
		if sub == c {
			continue
		}
		sub.TrySend(ev)
	}
}

// Disconnect removes the connection from all subscriber sets, marks the
// user offline, and broadcasts the presence update.
func (m *SessionManager) Disconnect(ctx context.Context, c *Client) {
	channel := m.roster.Remove(c)

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	if err := m.store.SetUserStatus(sctx, c.Username, store.StatusOffline); err != nil {
		m.log.Warn().Err(err).Str("username", c.Username).Msg("set user offline")
	}

	m.broadcastPresence(sctx)
	m.log.Info().Str("client_id", c.ID).Str("username", c.Username).Str("channel", channel).Msg("client disconnected")
}

func (m *SessionManager) broadcastPresence(ctx context.Context) {
	users, err := m.store.ListOnlineUsers(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("list online users")
		return
	}
	m.roster.BroadcastAll(&Event{Name: EventOnlineUsers, Users: users})
}
