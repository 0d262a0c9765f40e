package core

import (
	"context"
	"testing"

	"github.com/parley-chat/parley-server/internal/store"
)

func TestConnectSendsInitialSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.store.CreateEmote(ctx, &store.Emote{Server: "general", Name: "pog"}); err != nil {
		t.Fatalf("create emote: %v", err)
	}

	alice := env.newTestUser(t, "alice", 0)
	env.sessions.Connect(ctx, alice)

	ev := mustEvent(t, alice.Events, EventLoadChannels)
	if len(ev.Channels) != 1 || ev.Channels[0].Name != "general" {
		t.Fatalf("unexpected channels: %+v", ev.Channels)
	}
	mustEvent(t, alice.Events, EventLoadVoiceChannels)

	emoteEv := mustEvent(t, alice.Events, EventEmoteList)
	if len(emoteEv.Emotes) != 1 || emoteEv.Emotes[0].Name != "pog" {
		t.Fatalf("unexpected emotes: %+v", emoteEv.Emotes)
	}

	presence := mustEvent(t, alice.Events, EventOnlineUsers)
	if len(presence.Users) != 1 || presence.Users[0].Username != "alice" {
		t.Fatalf("unexpected online users: %+v", presence.Users)
	}
}

func TestJoinUnicastsHistoryNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		if _, cerr := env.dispatcher.Send(ctx, "alice", "general", content); cerr != nil {
			t.Fatalf("send: %v", cerr)
		}
	}

	bob := env.newTestUser(t, "bob", 0)
	carol := env.newTestUser(t, "carol", 0)
	env.sessions.Connect(ctx, bob)
	env.sessions.Connect(ctx, carol)

	if cerr := env.sessions.Join(ctx, bob, "general"); cerr != nil {
		t.Fatalf("join: %v", cerr)
	}

	ev := mustEvent(t, bob.Events, EventLoadMessages)
	if len(ev.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(ev.Messages))
	}
	if ev.Messages[0].Content != "second" || ev.Messages[1].Content != "first" {
		t.Fatalf("expected newest first, got %+v", ev.Messages)
	}

	// The snapshot goes to the joiner only.
	mustNoEvent(t, carol.Events, EventLoadMessages)
}

func TestJoinUnknownChannel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.newTestUser(t, "alice", 0)
	env.sessions.Connect(ctx, alice)

	cerr := env.sessions.Join(ctx, alice, "ghost")
	if cerr == nil || cerr.Code != ErrCodeNotFound {
		t.Fatalf("expected not_found, got %+v", cerr)
	}
}

func TestJoinBannedLooksLikeMissingChannel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.newTestUser(t, "alice", 0)
	env.sessions.Connect(ctx, alice)

	if err := env.store.BanUser(ctx, "alice", "general"); err != nil {
		t.Fatalf("ban user: %v", err)
	}

	cerr := env.sessions.Join(ctx, alice, "general")
	if cerr == nil || cerr.Code != ErrCodeNotFound {
		t.Fatalf("expected not_found for banned user, got %+v", cerr)
	}
	if _, subscribed := env.roster.ChannelOf(alice); subscribed {
		t.Fatalf("banned user must not be subscribed")
	}
}

func TestJoinReplacesSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if cerr := env.dispatcher.CreateChannel(ctx, &store.Channel{Name: "random", Server: "general"}); cerr != nil {
		t.Fatalf("create channel: %v", cerr)
	}

	alice := env.newTestUser(t, "alice", 32)
	env.sessions.Connect(ctx, alice)

	if cerr := env.sessions.Join(ctx, alice, "general"); cerr != nil {
		t.Fatalf("join general: %v", cerr)
	}
	if cerr := env.sessions.Join(ctx, alice, "random"); cerr != nil {
		t.Fatalf("join random: %v", cerr)
	}

	if channel, _ := env.roster.ChannelOf(alice); channel != "random" {
		t.Fatalf("expected subscription to random, got %q", channel)
	}
	if subs := env.roster.Subscribers("general"); len(subs) != 0 {
		t.Fatalf("expected no subscribers left on general, got %d", len(subs))
	}
}

func TestTypingExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.newTestUser(t, "alice", 32)
	bob := env.newTestUser(t, "bob", 32)
	env.sessions.Connect(ctx, alice)
	env.sessions.Connect(ctx, bob)

	if cerr := env.sessions.Join(ctx, alice, "general"); cerr != nil {
		t.Fatalf("join: %v", cerr)
	}
	if cerr := env.sessions.Join(ctx, bob, "general"); cerr != nil {
		t.Fatalf("join: %v", cerr)
	}

	env.sessions.Typing(alice, "general")

	ev := mustEvent(t, bob.Events, EventUserTyping)
	if ev.User != "alice" || ev.Channel != "general" {
		t.Fatalf("unexpected typing event: %+v", ev)
	}
	mustNoEvent(t, alice.Events, EventUserTyping)
}

func TestDisconnectPrunesSubscriptionAndPresence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.newTestUser(t, "alice", 32)
	bob := env.newTestUser(t, "bob", 32)
	env.sessions.Connect(ctx, alice)
	env.sessions.Connect(ctx, bob)

	if cerr := env.sessions.Join(ctx, alice, "general"); cerr != nil {
		t.Fatalf("join: %v", cerr)
	}

	env.sessions.Disconnect(ctx, alice)

	if subs := env.roster.Subscribers("general"); len(subs) != 0 {
		t.Fatalf("expected no subscribers after disconnect, got %d", len(subs))
	}

	// Drain bob's events and keep the latest presence snapshot.
	var lastPresence *Event
	for {
		ev := mustEvent(t, bob.Events, EventOnlineUsers)
		lastPresence = ev
		if len(ev.Users) == 1 {
			break
		}
	}
	if lastPresence.Users[0].Username != "bob" {
		t.Fatalf("unexpected online users after disconnect: %+v", lastPresence.Users)
	}

	user, err := env.store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.Status != store.StatusOffline {
		t.Fatalf("expected alice offline, got %q", user.Status)
	}
}
