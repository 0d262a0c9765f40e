package core

import (
	"sync"

	"github.com/rs/zerolog"
)

// ConnectionRegistry tracks live connections and their channel
// subscriptions. Each connection subscribes to at most one channel at a
// time; joining a new channel replaces the previous subscription.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	subs    map[string]map[*Client]struct{}
	current map[*Client]string

	log *zerolog.Logger
}

// NewConnectionRegistry constructs an empty registry.
func NewConnectionRegistry(logger *zerolog.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		clients: make(map[*Client]struct{}),
		subs:    make(map[string]map[*Client]struct{}),
		current: make(map[*Client]string),
		log:     logger,
	}
}

// Add registers a live connection.
func (r *ConnectionRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
}

// Remove deletes a connection and its subscription. Returns the channel
// the connection was subscribed to, if any.
func (r *ConnectionRegistry) Remove(c *Client) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel := r.current[c]
	r.unsubscribeLocked(c)
	delete(r.clients, c)
	return channel
}

// Subscribe points the connection at a new channel, replacing any prior
// subscription. Returns the previous channel, if any.
func (r *ConnectionRegistry) Subscribe(c *Client, channel string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.current[c]
	r.unsubscribeLocked(c)

	set, ok := r.subs[channel]
	if !ok {
		set = make(map[*Client]struct{})
		r.subs[channel] = set
	}
	set[c] = struct{}{}
	r.current[c] = channel
	return prev
}

func (r *ConnectionRegistry) unsubscribeLocked(c *Client) {
	channel, ok := r.current[c]
	if !ok {
		return
	}
	delete(r.current, c)
	set := r.subs[channel]
	delete(set, c)
	if len(set) == 0 {
		delete(r.subs, channel)
	}
}

// ChannelOf returns the connection's current subscription.
func (r *ConnectionRegistry) ChannelOf(c *Client) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channel, ok := r.current[c]
	return channel, ok
}

// Subscribers returns a snapshot of the connections subscribed to the
// channel.
func (r *ConnectionRegistry) Subscribers(channel string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.subs[channel]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Broadcast delivers an event to every connection subscribed to the
// channel. Delivery is an enqueue; a slow consumer drops the event
// instead of stalling the others.
func (r *ConnectionRegistry) Broadcast(channel string, ev *Event) {
	for _, c := range r.Subscribers(channel) {
		if !c.TrySend(ev) {
			r.log.Warn().Str("client_id", c.ID).Str("channel", channel).Str("event", ev.Name).Msg("dropping event for slow consumer")
		}
	}
}

// BroadcastAll delivers an event to every live connection.
func (r *ConnectionRegistry) BroadcastAll(ev *Event) {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		if !c.TrySend(ev) {
			r.log.Warn().Str("client_id", c.ID).Str("event", ev.Name).Msg("dropping event for slow consumer")
		}
	}
}
