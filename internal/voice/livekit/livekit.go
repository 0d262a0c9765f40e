package livekit

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// TokenProvider issues LiveKit join tokens for voice channels. The media
// backend itself is an external collaborator; the chat core only hands
// out credentials.
type TokenProvider struct {
	apiKey    string
	apiSecret string
	wsURL     string
}

// New creates a TokenProvider. Returns nil if credentials are missing,
// which callers treat as voice being disabled.
func New(apiKey, apiSecret, wsURL string) *TokenProvider {
	if apiKey == "" || apiSecret == "" || wsURL == "" {
		return nil
	}
	return &TokenProvider{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
	}
}

// JoinInfo contains credentials for joining a voice channel.
type JoinInfo struct {
	URL      string `json:"url"`
	Token    string `json:"token"`
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

// JoinToken creates join credentials for a user entering a voice channel.
// LiveKit creates rooms on demand when the first participant joins.
func (p *TokenProvider) JoinToken(channel, username string) (*JoinInfo, error) {
	room := "parley-voice-" + channel
	identity := "user-" + username

	at := auth.NewAccessToken(p.apiKey, p.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(username).
		SetValidFor(time.Hour)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &JoinInfo{
		URL:      p.wsURL,
		Token:    token,
		Room:     room,
		Identity: identity,
	}, nil
}
