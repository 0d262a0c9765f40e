package http

import (
	"context"
	"encoding/json"

	"github.com/parley-chat/parley-server/internal/core"
	"github.com/parley-chat/parley-server/internal/proto"
	"github.com/parley-chat/parley-server/internal/store"
)

// dispatchInbound decodes and applies one client event. A non-nil
// *proto.Error is sent back to the originating connection only; decode
// failures of the envelope itself are returned as err and end the
// connection.
func dispatchInbound(ctx context.Context, deps *wsDeps, client *core.Client, inbound proto.Inbound) (*proto.Error, error) {
	switch inbound.Type {
	case proto.InboundCreateChannel:
		var data proto.CreateChannelData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		server := data.Server
		if server == "" {
			server = deps.defaultServer
		}
		cerr := deps.dispatcher.CreateChannel(ctx, &store.Channel{
			Name:        data.Name,
			Server:      server,
			Topic:       data.Topic,
			Description: data.Description,
			IsPrivate:   data.Private,
			Owner:       client.Username,
		})
		return protoError(cerr), nil

	case proto.InboundCreateVoiceChannel:
		var data proto.CreateVoiceChannelData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		server := data.Server
		if server == "" {
			server = deps.defaultServer
		}
		cerr := deps.dispatcher.CreateVoiceChannel(ctx, &store.Channel{
			Name:   data.Name,
			Server: server,
			Owner:  client.Username,
		})
		return protoError(cerr), nil

	case proto.InboundSendMessage:
		var data proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		_, cerr := deps.dispatcher.Send(ctx, client.Username, data.Channel, data.Message)
		return protoError(cerr), nil

	case proto.InboundPinMessage:
		var data proto.PinMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		if data.ID == 0 && data.Message == "" {
			return &proto.Error{Code: core.ErrCodeValidation, Msg: "id or message is required"}, nil
		}
		cerr := deps.dispatcher.Pin(ctx, data.Channel, data.ID, data.Message)
		return protoError(cerr), nil

	case proto.InboundAddReaction:
		var data proto.AddReactionData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		if data.ID == 0 && data.Message == "" {
			return &proto.Error{Code: core.ErrCodeValidation, Msg: "id or message is required"}, nil
		}
		cerr := deps.dispatcher.React(ctx, data.Channel, data.ID, data.Message, data.Emote)
		return protoError(cerr), nil

	case proto.InboundEditMessage:
		var data proto.EditMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		cerr := deps.dispatcher.Edit(ctx, data.Channel, data.ID, data.Message)
		return protoError(cerr), nil

	case proto.InboundJoinChannel:
		var data proto.JoinChannelData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		cerr := deps.sessions.Join(ctx, client, data.Channel)
		return protoError(cerr), nil

	case proto.InboundUserTyping:
		var data proto.UserTypingData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		deps.sessions.Typing(client, data.Channel)
		return nil, nil

	case proto.InboundCreateServer:
		var data proto.CreateServerData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, err
		}
		if err := proto.Validate(data); err != nil {
			return validationError(err), nil
		}
		cerr := deps.dispatcher.CreateServer(ctx, data.Name, client.Username)
		return protoError(cerr), nil

	default:
		return &proto.Error{Code: core.ErrCodeValidation, Msg: "unknown event type"}, nil
	}
}

func validationError(err error) *proto.Error {
	return &proto.Error{Code: core.ErrCodeValidation, Msg: err.Error()}
}

func protoError(cerr *core.Error) *proto.Error {
	if cerr == nil {
		return nil
	}
	return &proto.Error{Code: cerr.Code, Msg: cerr.Message}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Name {
	case core.EventReceiveMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: event.Name,
			Data:  messageInfo(event.Message),
		}
	case core.EventLoadMessages:
		messages := make([]proto.MessageInfo, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, messageInfo(msg))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: event.Name,
			Data:  messages,
		}
	case core.EventLoadChannels, core.EventLoadVoiceChannels:
		channels := make([]proto.ChannelInfo, 0, len(event.Channels))
		for _, ch := range event.Channels {
			channels = append(channels, proto.ChannelInfo{
				ID:          ch.ID,
				Name:        ch.Name,
				Server:      ch.Server,
				Topic:       ch.Topic,
				Description: ch.Description,
				Private:     ch.IsPrivate,
			})
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: event.Name,
			Data:  channels,
		}
	case core.EventOnlineUsers:
		users := make([]proto.UserInfo, 0, len(event.Users))
		for _, u := range event.Users {
			users = append(users, proto.UserInfo{
				Username: u.Username,
				Status:   string(u.Status),
				Avatar:   u.Avatar,
			})
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: event.Name,
			Data:  users,
		}
	case core.EventEmoteList:
		emotes := make([]proto.EmoteInfo, 0, len(event.Emotes))
		for _, e := range event.Emotes {
			emotes = append(emotes, proto.EmoteInfo{Name: e.Name, Image: e.Image})
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: event.Name,
			Data:  emotes,
		}
	case core.EventUserTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: event.Name,
			Data: proto.TypingInfo{
				Channel:  event.Channel,
				Username: event.User,
			},
		}
	case core.EventError:
		if event.Err == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: core.ErrCodeInternal, Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Err.Code, Msg: event.Err.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent, Event: event.Name}
	}
}

func messageInfo(msg *store.Message) proto.MessageInfo {
	if msg == nil {
		return proto.MessageInfo{}
	}
	return proto.MessageInfo{
		ID:        msg.ID,
		Channel:   msg.Channel,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
		Reactions: msg.Reactions,
		Pinned:    msg.Pinned,
		Edited:    msg.Edited,
	}
}
