package core

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/store"
	"github.com/parley-chat/parley-server/internal/store/sqlite"
)

type testEnv struct {
	store      store.Store
	dir        *ChannelDirectory
	roster     *ConnectionRegistry
	dispatcher *Dispatcher
	sessions   *SessionManager
}

// newTestEnv builds the full core stack over an in-memory store with a
// "general" text channel already registered.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	if _, err := st.CreateChannel(ctx, &store.Channel{Name: "general", Server: "general", Kind: store.ChannelText}); err != nil {
		t.Fatalf("failed to seed channel: %v", err)
	}

	logger := zerolog.Nop()
	dir := NewChannelDirectory(st)
	if err := dir.Refresh(ctx); err != nil {
		t.Fatalf("failed to refresh directory: %v", err)
	}
	roster := NewConnectionRegistry(&logger)

	return &testEnv{
		store:      st,
		dir:        dir,
		roster:     roster,
		dispatcher: NewDispatcher(st, dir, roster, &logger),
		sessions:   NewSessionManager(st, dir, roster, "general", &logger),
	}
}

// newTestUser persists a user so presence updates have a row to hit.
func (e *testEnv) newTestUser(t *testing.T, username string, buffer int) *Client {
	t.Helper()

	if _, err := e.store.CreateUser(context.Background(), username, "hash"); err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return NewClient("id-"+username, username, buffer)
}

func mustEvent(t *testing.T, ch <-chan *Event, name string) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Name == name {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event %q not received", name)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event, name string) {
	t.Helper()

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev != nil && ev.Name == name {
				t.Fatalf("unexpected event %q: %+v", name, ev)
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
