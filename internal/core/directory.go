package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/parley-chat/parley-server/internal/store"
)

// ChannelDirectory is the in-memory index of channels. Every mutation
// goes through Register, which refreshes the cache from the store before
// returning, so readers never observe a stale channel set.
type ChannelDirectory struct {
	store store.ChannelStore

	mu    sync.RWMutex
	text  []*store.Channel
	voice []*store.Channel
	names map[string]store.ChannelKind
}

// NewChannelDirectory builds a directory over the given channel store.
// Call Refresh before serving lookups.
func NewChannelDirectory(st store.ChannelStore) *ChannelDirectory {
	return &ChannelDirectory{
		store: st,
		names: make(map[string]store.ChannelKind),
	}
}

// Refresh reloads the channel projection from the store.
func (d *ChannelDirectory) Refresh(ctx context.Context) error {
	text, err := d.store.ListChannels(ctx, store.ChannelText)
	if err != nil {
		return fmt.Errorf("list text channels: %w", err)
	}
	voice, err := d.store.ListChannels(ctx, store.ChannelVoice)
	if err != nil {
		return fmt.Errorf("list voice channels: %w", err)
	}

	names := make(map[string]store.ChannelKind, len(text)+len(voice))
	for _, ch := range text {
		names[ch.Name] = store.ChannelText
	}
	for _, ch := range voice {
		names[ch.Name] = store.ChannelVoice
	}

	d.mu.Lock()
	d.text = text
	d.voice = voice
	d.names = names
	d.mu.Unlock()
	return nil
}

// Register creates the channel in the store and synchronously refreshes
// the cache. Duplicate names surface store.ErrConflict.
func (d *ChannelDirectory) Register(ctx context.Context, ch *store.Channel) (*store.Channel, error) {
	created, err := d.store.CreateChannel(ctx, ch)
	if err != nil {
		return nil, err
	}
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// Exists reports whether a channel of any kind has the given name.
func (d *ChannelDirectory) Exists(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.names[name]
	return ok
}

// Kind returns the kind of the named channel.
func (d *ChannelDirectory) Kind(name string) (store.ChannelKind, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	kind, ok := d.names[name]
	return kind, ok
}

// ListText returns the cached text channels.
func (d *ChannelDirectory) ListText() []*store.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*store.Channel, len(d.text))
	copy(out, d.text)
	return out
}

// ListVoice returns the cached voice channels.
func (d *ChannelDirectory) ListVoice() []*store.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*store.Channel, len(d.voice))
	copy(out, d.voice)
	return out
}
