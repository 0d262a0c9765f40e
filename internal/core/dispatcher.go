package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/store"
)

// storeTimeout bounds every store call made on behalf of a client action.
const storeTimeout = 5 * time.Second

// Dispatcher validates and applies message actions against the store,
// then delivers the resulting state to subscribed connections.
//
// Mutations on the same channel are serialized by a per-channel mutex so
// subscribers observe messages in append order; different channels
// proceed concurrently. Broadcast delivery is an enqueue onto each
// connection's buffered channel and never blocks the dispatcher.
type Dispatcher struct {
	store  store.Store
	dir    *ChannelDirectory
	roster *ConnectionRegistry
	log    *zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDispatcher wires a dispatcher over the given collaborators.
func NewDispatcher(st store.Store, dir *ChannelDirectory, roster *ConnectionRegistry, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  st,
		dir:    dir,
		roster: roster,
		log:    logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

func (d *Dispatcher) channelLock(channel string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[channel]
	if !ok {
		l = &sync.Mutex{}
		d.locks[channel] = l
	}
	return l
}

func withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, storeTimeout)
}

// Send appends a message to the channel and broadcasts it to current
// subscribers. The broadcast happens under the channel lock so delivery
// order matches append order.
func (d *Dispatcher) Send(ctx context.Context, sender, channel, content string) (*store.Message, *Error) {
	if !d.dir.Exists(channel) {
		return nil, coreError(ErrCodeNotFound, "channel not found")
	}

	lock := d.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	msg := &store.Message{
		Channel:   channel,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().Unix(),
	}

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()
	if err := d.store.AppendMessage(sctx, msg); err != nil {
		d.log.Error().Err(err).Str("channel", channel).Msg("append message")
		return nil, fromStore(err, "message not stored")
	}

	d.roster.Broadcast(channel, &Event{
		Name:    EventReceiveMessage,
		Channel: channel,
		Message: msg,
	})
	return msg, nil
}

// Pin marks a message pinned and re-broadcasts the full ordered message
// list. A positive id selects the message directly; otherwise every
// message whose content equals the match string is pinned, and zero
// matches is a no-op.
func (d *Dispatcher) Pin(ctx context.Context, channel string, id int64, content string) *Error {
	if !d.dir.Exists(channel) {
		return coreError(ErrCodeNotFound, "channel not found")
	}

	lock := d.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	if id > 0 {
		if err := d.store.PinMessage(sctx, channel, id); err != nil {
			return fromStore(err, "message not found")
		}
	} else {
		if _, err := d.store.PinMessagesByContent(sctx, channel, content); err != nil {
			d.log.Error().Err(err).Str("channel", channel).Msg("pin messages")
			return fromStore(err, "pin failed")
		}
	}

	return d.refreshMessages(sctx, channel)
}

// React appends an emote to a message's reaction list and re-broadcasts
// the full ordered message list. Identifier matching works as for Pin.
func (d *Dispatcher) React(ctx context.Context, channel string, id int64, content, emote string) *Error {
	if !d.dir.Exists(channel) {
		return coreError(ErrCodeNotFound, "channel not found")
	}

	lock := d.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	if id > 0 {
		if err := d.store.AppendReaction(sctx, channel, id, emote); err != nil {
			return fromStore(err, "message not found")
		}
	} else {
		if _, err := d.store.AppendReactionByContent(sctx, channel, content, emote); err != nil {
			d.log.Error().Err(err).Str("channel", channel).Msg("append reaction")
			return fromStore(err, "reaction failed")
		}
	}

	return d.refreshMessages(sctx, channel)
}

// Edit replaces a message's content, marks it edited, and re-broadcasts
// the full ordered message list.
func (d *Dispatcher) Edit(ctx context.Context, channel string, id int64, content string) *Error {
	if !d.dir.Exists(channel) {
		return coreError(ErrCodeNotFound, "channel not found")
	}

	lock := d.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()

	if err := d.store.EditMessage(sctx, channel, id, content); err != nil {
		return fromStore(err, "message not found")
	}

	return d.refreshMessages(sctx, channel)
}

// refreshMessages recomputes the channel's message projection and
// broadcasts it as a full snapshot. Full-refresh keeps client state
// trivially consistent after in-place mutations; Send stays incremental
// because an append never invalidates prior state.
func (d *Dispatcher) refreshMessages(ctx context.Context, channel string) *Error {
	messages, err := d.store.ListMessages(ctx, channel)
	if err != nil {
		d.log.Error().Err(err).Str("channel", channel).Msg("list messages")
		return fromStore(err, "messages unavailable")
	}

	d.roster.Broadcast(channel, &Event{
		Name:     EventLoadMessages,
		Channel:  channel,
		Messages: messages,
	})
	return nil
}

// CreateChannel registers a text channel and broadcasts the updated
// channel list to all connections. Duplicate names are a conflict and
// leave the existing channel untouched.
func (d *Dispatcher) CreateChannel(ctx context.Context, ch *store.Channel) *Error {
	ch.Kind = store.ChannelText

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()
	if _, err := d.dir.Register(sctx, ch); err != nil {
		return fromStore(err, "channel name already taken")
	}

	d.roster.BroadcastAll(&Event{
		Name:     EventLoadChannels,
		Channels: d.dir.ListText(),
	})
	return nil
}

// CreateVoiceChannel registers a voice channel and broadcasts the
// updated voice-channel list to all connections.
func (d *Dispatcher) CreateVoiceChannel(ctx context.Context, ch *store.Channel) *Error {
	ch.Kind = store.ChannelVoice

	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()
	if _, err := d.dir.Register(sctx, ch); err != nil {
		return fromStore(err, "channel name already taken")
	}

	d.roster.BroadcastAll(&Event{
		Name:     EventLoadVoiceChannels,
		Channels: d.dir.ListVoice(),
	})
	return nil
}

// CreateServer registers a server grouping.
func (d *Dispatcher) CreateServer(ctx context.Context, name, owner string) *Error {
	sctx, cancel := withStoreTimeout(ctx)
	defer cancel()
	if _, err := d.store.CreateServer(sctx, name, owner); err != nil {
		return fromStore(err, "server name already taken")
	}
	return nil
}
