package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley-server/internal/core"
	"github.com/parley-chat/parley-server/internal/store"
	"github.com/parley-chat/parley-server/internal/voice/livekit"
)

// defaultInviteTTL applies when the client doesn't ask for one.
const defaultInviteTTL = 24 * time.Hour

// ChannelHandlers provides REST endpoints around channels: invites,
// custom emotes, bans and voice join tokens.
type ChannelHandlers struct {
	store store.Store
	dir   *core.ChannelDirectory
	voice *livekit.TokenProvider
	log   *zerolog.Logger
}

// NewChannelHandlers creates a new channel handlers instance.
// voice may be nil when no media backend is configured.
func NewChannelHandlers(st store.Store, dir *core.ChannelDirectory, voice *livekit.TokenProvider, logger *zerolog.Logger) *ChannelHandlers {
	return &ChannelHandlers{
		store: st,
		dir:   dir,
		voice: voice,
		log:   logger,
	}
}

// CreateInviteRequest represents the create invite request body.
type CreateInviteRequest struct {
	Channel string `json:"channel" binding:"required"`
	TTL     int64  `json:"ttl_seconds" binding:"min=0"`
}

// InviteResponse represents an invite in API responses.
type InviteResponse struct {
	Code       string `json:"code"`
	Channel    string `json:"channel"`
	Expiration int64  `json:"expiration"`
}

// CreateInvite issues a single-use invite code for a channel.
// POST /api/invites
func (h *ChannelHandlers) CreateInvite(c *gin.Context) {
	username, ok := usernameFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create invite request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if !h.dir.Exists(req.Channel) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}

	ttl := time.Duration(req.TTL) * time.Second
	if ttl <= 0 {
		ttl = defaultInviteTTL
	}

	inv := &store.Invite{
		Code:       uuid.NewString(),
		Channel:    req.Channel,
		Sender:     username,
		Expiration: time.Now().Add(ttl).Unix(),
	}
	if err := h.store.CreateInvite(c.Request.Context(), inv); err != nil {
		h.log.Error().Err(err).Str("channel", req.Channel).Msg("failed to create invite")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("channel", req.Channel).Str("sender", username).Msg("invite created")
	c.JSON(http.StatusCreated, InviteResponse{
		Code:       inv.Code,
		Channel:    inv.Channel,
		Expiration: inv.Expiration,
	})
}

// AcceptInvite consumes an invite code and returns the channel it
// unlocks. Codes are single use; expired or spent codes are not found.
// POST /api/invites/:code/accept
func (h *ChannelHandlers) AcceptInvite(c *gin.Context) {
	code := c.Param("code")

	inv, err := h.store.ConsumeInvite(c.Request.Context(), code, time.Now().Unix())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "invite not found or expired"})
			return
		}
		h.log.Error().Err(err).Str("code", code).Msg("failed to consume invite")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, InviteResponse{
		Code:       inv.Code,
		Channel:    inv.Channel,
		Expiration: inv.Expiration,
	})
}

// CreateEmoteRequest represents the create emote request body.
type CreateEmoteRequest struct {
	Name  string `json:"name" binding:"required,min=1,max=64"`
	Image string `json:"image"`
}

// EmoteResponse represents an emote in API responses.
type EmoteResponse struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// CreateEmote registers a custom emote on a server.
// POST /api/servers/:server/emotes
func (h *ChannelHandlers) CreateEmote(c *gin.Context) {
	server := c.Param("server")

	var req CreateEmoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create emote request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	emote := &store.Emote{Server: server, Name: req.Name, Image: req.Image}
	if err := h.store.CreateEmote(c.Request.Context(), emote); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "emote already exists"})
			return
		}
		h.log.Error().Err(err).Str("server", server).Str("emote", req.Name).Msg("failed to create emote")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, EmoteResponse{Name: emote.Name, Image: emote.Image})
}

// ListEmotes lists a server's custom emotes.
// GET /api/servers/:server/emotes
func (h *ChannelHandlers) ListEmotes(c *gin.Context) {
	server := c.Param("server")

	emotes, err := h.store.ListEmotes(c.Request.Context(), server)
	if err != nil {
		h.log.Error().Err(err).Str("server", server).Msg("failed to list emotes")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]EmoteResponse, 0, len(emotes))
	for _, e := range emotes {
		response = append(response, EmoteResponse{Name: e.Name, Image: e.Image})
	}
	c.JSON(http.StatusOK, response)
}

// ServerResponse represents a server in API responses.
type ServerResponse struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// ListServers lists all servers.
// GET /api/servers
func (h *ChannelHandlers) ListServers(c *gin.Context) {
	servers, err := h.store.ListServers(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list servers")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ServerResponse, 0, len(servers))
	for _, srv := range servers {
		response = append(response, ServerResponse{Name: srv.Name, Owner: srv.Owner})
	}
	c.JSON(http.StatusOK, response)
}

// CreateRoleRequest represents the create role request body.
type CreateRoleRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=64"`
	Permissions string `json:"permissions"`
}

// RoleResponse represents a role in API responses.
type RoleResponse struct {
	Name        string `json:"name"`
	Permissions string `json:"permissions,omitempty"`
}

// CreateRole registers a role on a server.
// POST /api/servers/:server/roles
func (h *ChannelHandlers) CreateRole(c *gin.Context) {
	server := c.Param("server")

	var req CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create role request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	role := &store.Role{Server: server, Name: req.Name, Permissions: req.Permissions}
	if err := h.store.CreateRole(c.Request.Context(), role); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "role already exists"})
			return
		}
		h.log.Error().Err(err).Str("server", server).Str("role", req.Name).Msg("failed to create role")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, RoleResponse{Name: role.Name, Permissions: role.Permissions})
}

// ListRoles lists a server's roles.
// GET /api/servers/:server/roles
func (h *ChannelHandlers) ListRoles(c *gin.Context) {
	server := c.Param("server")

	roles, err := h.store.ListRoles(c.Request.Context(), server)
	if err != nil {
		h.log.Error().Err(err).Str("server", server).Msg("failed to list roles")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		response = append(response, RoleResponse{Name: r.Name, Permissions: r.Permissions})
	}
	c.JSON(http.StatusOK, response)
}

// BanRequest represents the ban request body.
type BanRequest struct {
	Username string `json:"username" binding:"required"`
}

// BanUser bans a user from a channel.
// POST /api/channels/:channel/bans
func (h *ChannelHandlers) BanUser(c *gin.Context) {
	channel := c.Param("channel")

	var req BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid ban request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if !h.dir.Exists(channel) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "channel not found"})
		return
	}

	if err := h.store.BanUser(c.Request.Context(), req.Username, channel); err != nil {
		h.log.Error().Err(err).Str("channel", channel).Str("username", req.Username).Msg("failed to ban user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("channel", channel).Str("username", req.Username).Msg("user banned")
	c.Status(http.StatusNoContent)
}

// BanResponse represents a ban in API responses.
type BanResponse struct {
	Username string `json:"username"`
}

// ListBans lists a channel's bans.
// GET /api/channels/:channel/bans
func (h *ChannelHandlers) ListBans(c *gin.Context) {
	channel := c.Param("channel")

	bans, err := h.store.ListBans(c.Request.Context(), channel)
	if err != nil {
		h.log.Error().Err(err).Str("channel", channel).Msg("failed to list bans")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]BanResponse, 0, len(bans))
	for _, b := range bans {
		response = append(response, BanResponse{Username: b.Username})
	}
	c.JSON(http.StatusOK, response)
}

// UnbanUser lifts a channel ban.
// DELETE /api/channels/:channel/bans/:username
func (h *ChannelHandlers) UnbanUser(c *gin.Context) {
	channel := c.Param("channel")
	username := c.Param("username")

	if err := h.store.UnbanUser(c.Request.Context(), username, channel); err != nil {
		h.log.Error().Err(err).Str("channel", channel).Str("username", username).Msg("failed to unban user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// VoiceToken issues a join token for a voice channel.
// GET /api/voice/:channel/token
func (h *ChannelHandlers) VoiceToken(c *gin.Context) {
	username, ok := usernameFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	if h.voice == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "voice is not configured"})
		return
	}

	channel := c.Param("channel")
	kind, ok := h.dir.Kind(channel)
	if !ok || kind != store.ChannelVoice {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "voice channel not found"})
		return
	}

	info, err := h.voice.JoinToken(channel, username)
	if err != nil {
		h.log.Error().Err(err).Str("channel", channel).Msg("failed to issue voice token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, info)
}
