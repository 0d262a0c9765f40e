package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lookup key resolves to zero rows.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on a unique-constraint violation.
	ErrConflict = errors.New("already exists")
)

// UserStatus is the presence state persisted for a user.
type UserStatus string

const (
	StatusOnline  UserStatus = "Online"
	StatusOffline UserStatus = "Offline"
)

// User represents a registered account. Users are never hard-deleted;
// presence transitions only flip the status column.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	Status       UserStatus
	Avatar       string
	Bio          string
	CreatedAt    time.Time
}

// Server is a named grouping that owns channels.
type Server struct {
	ID        int64
	Name      string
	Owner     string
	CreatedAt time.Time
}

// ChannelKind distinguishes text rooms from voice rooms.
type ChannelKind string

const (
	ChannelText  ChannelKind = "text"
	ChannelVoice ChannelKind = "voice"
)

// Channel is a named room belonging to exactly one server.
// Channel names are unique across the whole system.
type Channel struct {
	ID          int64
	Name        string
	Server      string
	Kind        ChannelKind
	Topic       string
	Description string
	IsPrivate   bool
	Owner       string
}

// Message is a persisted chat message. Reactions, pinned and edited are
// in-place mutations; messages are never deleted.
type Message struct {
	ID        int64
	Channel   string
	Sender    string
	Content   string
	Timestamp int64
	Reactions []string
	Pinned    bool
	Edited    bool
}

// Invite is a single-use, time-boxed token granting channel membership.
type Invite struct {
	ID         int64
	Code       string
	Channel    string
	Sender     string
	Expiration int64
}

// Role is a named permission set scoped to a server.
type Role struct {
	ID          int64
	Server      string
	Name        string
	Permissions string
}

// Ban suppresses a user's membership of a channel.
type Ban struct {
	ID       int64
	Username string
	Channel  string
}

// Emote is a custom reaction available within a server's channels.
type Emote struct {
	ID     int64
	Server string
	Name   string
	Image  string
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SetUserStatus updates the persisted presence status.
	SetUserStatus(ctx context.Context, username string, status UserStatus) error

	// SetUserProfile updates avatar and bio.
	SetUserProfile(ctx context.Context, username, avatar, bio string) error

	// ListOnlineUsers lists users whose status is not Offline.
	ListOnlineUsers(ctx context.Context) ([]*User, error)
}

// ServerStore handles server persistence.
type ServerStore interface {
	// CreateServer creates a new server with a unique name.
	CreateServer(ctx context.Context, name, owner string) (*Server, error)

	// ListServers lists all servers.
	ListServers(ctx context.Context) ([]*Server, error)
}

// ChannelStore handles channel persistence.
type ChannelStore interface {
	// CreateChannel creates a channel with a globally unique name.
	CreateChannel(ctx context.Context, ch *Channel) (*Channel, error)

	// GetChannelByName retrieves a channel by name.
	GetChannelByName(ctx context.Context, name string) (*Channel, error)

	// ListChannels lists all channels of the given kind.
	ListChannels(ctx context.Context, kind ChannelKind) ([]*Channel, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// AppendMessage persists a message and fills in its ID.
	AppendMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves all messages of a channel ordered by
	// timestamp descending (newest first).
	ListMessages(ctx context.Context, channel string) ([]*Message, error)

	// PinMessage sets pinned on a single message by ID.
	PinMessage(ctx context.Context, channel string, id int64) error

	// PinMessagesByContent sets pinned on every message in the channel
	// whose content equals the match string. Returns the number updated;
	// zero matches is not an error.
	PinMessagesByContent(ctx context.Context, channel, content string) (int64, error)

	// AppendReaction appends an emote to a message's reaction list by ID.
	AppendReaction(ctx context.Context, channel string, id int64, emote string) error

	// AppendReactionByContent appends an emote to every message in the
	// channel whose content equals the match string. Returns the number updated.
	AppendReactionByContent(ctx context.Context, channel, content, emote string) (int64, error)

	// EditMessage replaces a message's content by ID and marks it edited.
	EditMessage(ctx context.Context, channel string, id int64, content string) error
}

// InviteStore handles invite persistence.
type InviteStore interface {
	// CreateInvite persists an invite and fills in its ID.
	CreateInvite(ctx context.Context, inv *Invite) error

	// ConsumeInvite atomically deletes an unexpired invite by code and
	// returns it. Expired or unknown codes yield ErrNotFound.
	ConsumeInvite(ctx context.Context, code string, now int64) (*Invite, error)
}

// RoleStore handles role persistence.
type RoleStore interface {
	// CreateRole persists a role and fills in its ID.
	CreateRole(ctx context.Context, role *Role) error

	// ListRoles lists roles scoped to a server.
	ListRoles(ctx context.Context, server string) ([]*Role, error)
}

// BanStore handles channel bans.
type BanStore interface {
	// BanUser records a (user, channel) ban.
	BanUser(ctx context.Context, username, channel string) error

	// UnbanUser removes a (user, channel) ban.
	UnbanUser(ctx context.Context, username, channel string) error

	// IsBanned checks whether a user is banned from a channel.
	IsBanned(ctx context.Context, username, channel string) (bool, error)

	// ListBans lists bans for a channel.
	ListBans(ctx context.Context, channel string) ([]*Ban, error)
}

// EmoteStore handles custom emotes.
type EmoteStore interface {
	// CreateEmote persists an emote and fills in its ID.
	CreateEmote(ctx context.Context, emote *Emote) error

	// ListEmotes lists custom emotes scoped to a server.
	ListEmotes(ctx context.Context, server string) ([]*Emote, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ServerStore
	ChannelStore
	MessageStore
	InviteStore
	RoleStore
	BanStore
	EmoteStore

	// Close closes the underlying database connection.
	Close() error
}
