package http

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/parley-chat/parley-server/internal/core"
	"github.com/parley-chat/parley-server/internal/proto"
	"github.com/parley-chat/parley-server/internal/store"
)

// Validation fails before any collaborator is touched, so empty deps
// are enough here.
func testDeps() *wsDeps {
	return &wsDeps{defaultServer: "general"}
}

func inbound(t *testing.T, eventType string, payload any) proto.Inbound {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return proto.Inbound{Type: eventType, Data: data}
}

func TestDispatchInboundUnknownType(t *testing.T) {
	client := core.NewClient("a", "alice", 0)

	perr, err := dispatchInbound(context.Background(), testDeps(), client, proto.Inbound{Type: "bogus"})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if perr == nil || perr.Code != core.ErrCodeValidation {
		t.Fatalf("expected validation error, got %+v", perr)
	}
}

func TestDispatchInboundMalformedPayload(t *testing.T) {
	client := core.NewClient("a", "alice", 0)

	in := proto.Inbound{Type: proto.InboundSendMessage, Data: json.RawMessage(`{"channel": 42}`)}
	if _, err := dispatchInbound(context.Background(), testDeps(), client, in); err == nil {
		t.Fatalf("expected decode error to end the connection")
	}
}

func TestDispatchInboundValidation(t *testing.T) {
	client := core.NewClient("a", "alice", 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		inbound proto.Inbound
	}{
		{"send without channel", inbound(t, proto.InboundSendMessage, proto.SendMessageData{Message: "hi"})},
		{"send without message", inbound(t, proto.InboundSendMessage, proto.SendMessageData{Channel: "general"})},
		{"join without channel", inbound(t, proto.InboundJoinChannel, proto.JoinChannelData{})},
		{"edit without id", inbound(t, proto.InboundEditMessage, proto.EditMessageData{Channel: "general", Message: "new"})},
		{"reaction without emote", inbound(t, proto.InboundAddReaction, proto.AddReactionData{Channel: "general", ID: 1})},
		{"create channel without name", inbound(t, proto.InboundCreateChannel, proto.CreateChannelData{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr, err := dispatchInbound(ctx, testDeps(), client, tt.inbound)
			if err != nil {
				t.Fatalf("unexpected transport error: %v", err)
			}
			if perr == nil || perr.Code != core.ErrCodeValidation {
				t.Fatalf("expected validation error, got %+v", perr)
			}
		})
	}
}

func TestDispatchInboundPinRequiresSelector(t *testing.T) {
	client := core.NewClient("a", "alice", 0)

	perr, err := dispatchInbound(context.Background(), testDeps(), client,
		inbound(t, proto.InboundPinMessage, proto.PinMessageData{Channel: "general"}))
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if perr == nil || perr.Code != core.ErrCodeValidation {
		t.Fatalf("expected validation error, got %+v", perr)
	}
}

func TestOutboundFromEventMessage(t *testing.T) {
	out := outboundFromEvent(&core.Event{
		Name: core.EventReceiveMessage,
		Message: &store.Message{
			ID:      7,
			Channel: "general",
			Sender:  "alice",
			Content: "hi",
		},
	})

	if out.Type != proto.OutboundTypeEvent || out.Event != core.EventReceiveMessage {
		t.Fatalf("unexpected envelope: %+v", out)
	}
	info, ok := out.Data.(proto.MessageInfo)
	if !ok {
		t.Fatalf("expected MessageInfo payload, got %T", out.Data)
	}
	if info.ID != 7 || info.Sender != "alice" {
		t.Fatalf("unexpected payload: %+v", info)
	}
}

func TestOutboundFromEventError(t *testing.T) {
	out := outboundFromEvent(&core.Event{
		Name: core.EventError,
		Err:  &core.Error{Code: core.ErrCodeNotFound, Message: "channel not found"},
	})

	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != core.ErrCodeNotFound {
		t.Fatalf("unexpected error envelope: %+v", out)
	}
}
