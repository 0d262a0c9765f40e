package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/parley-chat/parley-server/internal/store"
)

// writeRetryDelay is the backoff before the single retry of a failed write.
const writeRetryDelay = 50 * time.Millisecond

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'Member',
	status        TEXT NOT NULL DEFAULT 'Offline',
	avatar        TEXT NOT NULL DEFAULT '',
	bio           TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS servers (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	owner      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channels (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL UNIQUE,
	server      TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT 'text',
	topic       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	is_private  INTEGER NOT NULL DEFAULT 0,
	owner       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	channel   TEXT NOT NULL,
	sender    TEXT NOT NULL,
	content   TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	reactions TEXT NOT NULL DEFAULT '',
	pinned    INTEGER NOT NULL DEFAULT 0,
	edited    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel, timestamp DESC);

CREATE TABLE IF NOT EXISTS invites (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	code       TEXT NOT NULL UNIQUE,
	channel    TEXT NOT NULL,
	sender     TEXT NOT NULL,
	expiration INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS roles (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	server      TEXT NOT NULL,
	role_name   TEXT NOT NULL,
	permissions TEXT NOT NULL DEFAULT '',
	UNIQUE(server, role_name)
);

CREATE TABLE IF NOT EXISTS banned_users (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	channel  TEXT NOT NULL,
	UNIQUE(username, channel)
);

CREATE TABLE IF NOT EXISTS custom_emotes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	server      TEXT NOT NULL,
	emote_name  TEXT NOT NULL,
	emote_image TEXT NOT NULL DEFAULT '',
	UNIQUE(server, emote_name)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the schema. Safe to call on every startup.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapErr translates driver-level failures into the store error taxonomy.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", op, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// execRetry runs a write statement, retrying once after a short backoff.
// Constraint violations are never retried.
func (s *SQLiteStore) execRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err == nil {
		return result, nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return nil, err
	}
	select {
	case <-time.After(writeRetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.db.ExecContext(ctx, query, args...)
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	_, err := s.execRetry(ctx, query, username, passwordHash)
	if err != nil {
		return nil, mapErr("insert user", err)
	}

	return s.GetUserByUsername(ctx, username)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, role, status, avatar, bio, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	var status string
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&status,
		&user.Avatar,
		&user.Bio,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, mapErr("query user", err)
	}
	user.Status = store.UserStatus(status)

	return &user, nil
}

// SetUserStatus updates the persisted presence status.
func (s *SQLiteStore) SetUserStatus(ctx context.Context, username string, status store.UserStatus) error {
	query := `UPDATE users SET status = ? WHERE username = ?`
	result, err := s.execRetry(ctx, query, string(status), username)
	if err != nil {
		return mapErr("update user status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update user status: %w", store.ErrNotFound)
	}
	return nil
}

// SetUserProfile updates avatar and bio.
func (s *SQLiteStore) SetUserProfile(ctx context.Context, username, avatar, bio string) error {
	query := `UPDATE users SET avatar = ?, bio = ? WHERE username = ?`
	result, err := s.execRetry(ctx, query, avatar, bio, username)
	if err != nil {
		return mapErr("update user profile", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update user profile: %w", store.ErrNotFound)
	}
	return nil
}

// ListOnlineUsers lists users whose status is not Offline.
func (s *SQLiteStore) ListOnlineUsers(ctx context.Context) ([]*store.User, error) {
	query := `
		SELECT id, username, password_hash, role, status, avatar, bio, created_at
		FROM users
		WHERE status != 'Offline'
		ORDER BY username ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query online users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var user store.User
		var status string
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &status, &user.Avatar, &user.Bio, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		user.Status = store.UserStatus(status)
		users = append(users, &user)
	}

	return users, rows.Err()
}

// ==== ServerStore implementation ====

// CreateServer creates a new server with a unique name.
func (s *SQLiteStore) CreateServer(ctx context.Context, name, owner string) (*store.Server, error) {
	query := `
		INSERT INTO servers (name, owner)
		VALUES (?, ?)
	`
	result, err := s.execRetry(ctx, query, name, owner)
	if err != nil {
		return nil, mapErr("insert server", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	srv := &store.Server{ID: id, Name: name, Owner: owner}
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM servers WHERE id = ?`, id).Scan(&srv.CreatedAt)
	if err != nil {
		return nil, mapErr("query server", err)
	}
	return srv, nil
}

// ListServers lists all servers.
func (s *SQLiteStore) ListServers(ctx context.Context) ([]*store.Server, error) {
	query := `
		SELECT id, name, owner, created_at
		FROM servers
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []*store.Server
	for rows.Next() {
		var srv store.Server
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.Owner, &srv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, &srv)
	}

	return servers, rows.Err()
}

// ==== ChannelStore implementation ====

// CreateChannel creates a channel with a globally unique name.
func (s *SQLiteStore) CreateChannel(ctx context.Context, ch *store.Channel) (*store.Channel, error) {
	query := `
		INSERT INTO channels (name, server, kind, topic, description, is_private, owner)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.execRetry(ctx, query, ch.Name, ch.Server, string(ch.Kind), ch.Topic, ch.Description, ch.IsPrivate, ch.Owner)
	if err != nil {
		return nil, mapErr("insert channel", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	created := *ch
	created.ID = id
	return &created, nil
}

// GetChannelByName retrieves a channel by name.
func (s *SQLiteStore) GetChannelByName(ctx context.Context, name string) (*store.Channel, error) {
	query := `
		SELECT id, name, server, kind, topic, description, is_private, owner
		FROM channels
		WHERE name = ?
	`
	var ch store.Channel
	var kind string
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&ch.ID,
		&ch.Name,
		&ch.Server,
		&kind,
		&ch.Topic,
		&ch.Description,
		&ch.IsPrivate,
		&ch.Owner,
	)
	if err != nil {
		return nil, mapErr("query channel", err)
	}
	ch.Kind = store.ChannelKind(kind)

	return &ch, nil
}

// ListChannels lists all channels of the given kind.
func (s *SQLiteStore) ListChannels(ctx context.Context, kind store.ChannelKind) ([]*store.Channel, error) {
	query := `
		SELECT id, name, server, kind, topic, description, is_private, owner
		FROM channels
		WHERE kind = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	var channels []*store.Channel
	for rows.Next() {
		var ch store.Channel
		var k string
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Server, &k, &ch.Topic, &ch.Description, &ch.IsPrivate, &ch.Owner); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.Kind = store.ChannelKind(k)
		channels = append(channels, &ch)
	}

	return channels, rows.Err()
}

// ==== MessageStore implementation ====

// AppendMessage persists a message and fills in its ID.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (channel, sender, content, timestamp, reactions, pinned, edited)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.execRetry(ctx, query,
		msg.Channel,
		msg.Sender,
		msg.Content,
		msg.Timestamp,
		encodeReactions(msg.Reactions),
		msg.Pinned,
		msg.Edited,
	)
	if err != nil {
		return mapErr("insert message", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// ListMessages retrieves all messages of a channel, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, channel string) ([]*store.Message, error) {
	query := `
		SELECT id, channel, sender, content, timestamp, reactions, pinned, edited
		FROM messages
		WHERE channel = ?
		ORDER BY timestamp DESC, id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, channel)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		var reactions string
		if err := rows.Scan(&msg.ID, &msg.Channel, &msg.Sender, &msg.Content, &msg.Timestamp, &reactions, &msg.Pinned, &msg.Edited); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Reactions = decodeReactions(reactions)
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// PinMessage sets pinned on a single message by ID.
func (s *SQLiteStore) PinMessage(ctx context.Context, channel string, id int64) error {
	query := `UPDATE messages SET pinned = 1 WHERE channel = ? AND id = ?`
	result, err := s.execRetry(ctx, query, channel, id)
	if err != nil {
		return mapErr("pin message", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pin message: %w", store.ErrNotFound)
	}
	return nil
}

// PinMessagesByContent sets pinned on every message in the channel whose
// content equals the match string. Zero matches is not an error.
func (s *SQLiteStore) PinMessagesByContent(ctx context.Context, channel, content string) (int64, error) {
	query := `UPDATE messages SET pinned = 1 WHERE channel = ? AND content = ?`
	result, err := s.execRetry(ctx, query, channel, content)
	if err != nil {
		return 0, mapErr("pin messages", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// AppendReaction appends an emote to a message's reaction list by ID.
func (s *SQLiteStore) AppendReaction(ctx context.Context, channel string, id int64, emote string) error {
	query := `
		UPDATE messages
		SET reactions = CASE WHEN reactions = '' THEN ? ELSE reactions || ',' || ? END
		WHERE channel = ? AND id = ?
	`
	result, err := s.execRetry(ctx, query, emote, emote, channel, id)
	if err != nil {
		return mapErr("append reaction", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("append reaction: %w", store.ErrNotFound)
	}
	return nil
}

// AppendReactionByContent appends an emote to every message in the channel
// whose content equals the match string.
func (s *SQLiteStore) AppendReactionByContent(ctx context.Context, channel, content, emote string) (int64, error) {
	query := `
		UPDATE messages
		SET reactions = CASE WHEN reactions = '' THEN ? ELSE reactions || ',' || ? END
		WHERE channel = ? AND content = ?
	`
	result, err := s.execRetry(ctx, query, emote, emote, channel, content)
	if err != nil {
		return 0, mapErr("append reactions", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// EditMessage replaces a message's content by ID and marks it edited.
func (s *SQLiteStore) EditMessage(ctx context.Context, channel string, id int64, content string) error {
	query := `UPDATE messages SET content = ?, edited = 1 WHERE channel = ? AND id = ?`
	result, err := s.execRetry(ctx, query, content, channel, id)
	if err != nil {
		return mapErr("edit message", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("edit message: %w", store.ErrNotFound)
	}
	return nil
}

// ==== InviteStore implementation ====

// CreateInvite persists an invite and fills in its ID.
func (s *SQLiteStore) CreateInvite(ctx context.Context, inv *store.Invite) error {
	query := `
		INSERT INTO invites (code, channel, sender, expiration)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.execRetry(ctx, query, inv.Code, inv.Channel, inv.Sender, inv.Expiration)
	if err != nil {
		return mapErr("insert invite", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	inv.ID = id
	return nil
}

// ConsumeInvite atomically deletes an unexpired invite by code and returns it.
func (s *SQLiteStore) ConsumeInvite(ctx context.Context, code string, now int64) (*store.Invite, error) {
	query := `
		DELETE FROM invites
		WHERE code = ? AND expiration > ?
		RETURNING id, code, channel, sender, expiration
	`
	var inv store.Invite
	err := s.db.QueryRowContext(ctx, query, code, now).Scan(
		&inv.ID,
		&inv.Code,
		&inv.Channel,
		&inv.Sender,
		&inv.Expiration,
	)
	if err != nil {
		return nil, mapErr("consume invite", err)
	}

	return &inv, nil
}

// ==== RoleStore implementation ====

// CreateRole persists a role and fills in its ID.
func (s *SQLiteStore) CreateRole(ctx context.Context, role *store.Role) error {
	query := `
		INSERT INTO roles (server, role_name, permissions)
		VALUES (?, ?, ?)
	`
	result, err := s.execRetry(ctx, query, role.Server, role.Name, role.Permissions)
	if err != nil {
		return mapErr("insert role", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	role.ID = id
	return nil
}

// ListRoles lists roles scoped to a server.
func (s *SQLiteStore) ListRoles(ctx context.Context, server string) ([]*store.Role, error) {
	query := `
		SELECT id, server, role_name, permissions
		FROM roles
		WHERE server = ?
		ORDER BY role_name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, server)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	var roles []*store.Role
	for rows.Next() {
		var role store.Role
		if err := rows.Scan(&role.ID, &role.Server, &role.Name, &role.Permissions); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, &role)
	}

	return roles, rows.Err()
}

// ==== BanStore implementation ====

// BanUser records a (user, channel) ban.
func (s *SQLiteStore) BanUser(ctx context.Context, username, channel string) error {
	query := `
		INSERT OR IGNORE INTO banned_users (username, channel)
		VALUES (?, ?)
	`
	if _, err := s.execRetry(ctx, query, username, channel); err != nil {
		return mapErr("insert ban", err)
	}
	return nil
}

// UnbanUser removes a (user, channel) ban.
func (s *SQLiteStore) UnbanUser(ctx context.Context, username, channel string) error {
	query := `DELETE FROM banned_users WHERE username = ? AND channel = ?`
	if _, err := s.execRetry(ctx, query, username, channel); err != nil {
		return mapErr("delete ban", err)
	}
	return nil
}

// IsBanned checks whether a user is banned from a channel.
func (s *SQLiteStore) IsBanned(ctx context.Context, username, channel string) (bool, error) {
	query := `SELECT 1 FROM banned_users WHERE username = ? AND channel = ?`
	var exists int
	err := s.db.QueryRowContext(ctx, query, username, channel).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query ban: %w", err)
	}
	return true, nil
}

// ListBans lists bans for a channel.
func (s *SQLiteStore) ListBans(ctx context.Context, channel string) ([]*store.Ban, error) {
	query := `
		SELECT id, username, channel
		FROM banned_users
		WHERE channel = ?
		ORDER BY username ASC
	`
	rows, err := s.db.QueryContext(ctx, query, channel)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer rows.Close()

	var bans []*store.Ban
	for rows.Next() {
		var ban store.Ban
		if err := rows.Scan(&ban.ID, &ban.Username, &ban.Channel); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		bans = append(bans, &ban)
	}

	return bans, rows.Err()
}

// ==== EmoteStore implementation ====

// CreateEmote persists an emote and fills in its ID.
func (s *SQLiteStore) CreateEmote(ctx context.Context, emote *store.Emote) error {
	query := `
		INSERT INTO custom_emotes (server, emote_name, emote_image)
		VALUES (?, ?, ?)
	`
	result, err := s.execRetry(ctx, query, emote.Server, emote.Name, emote.Image)
	if err != nil {
		return mapErr("insert emote", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	emote.ID = id
	return nil
}

// ListEmotes lists custom emotes scoped to a server.
func (s *SQLiteStore) ListEmotes(ctx context.Context, server string) ([]*store.Emote, error) {
	query := `
		SELECT id, server, emote_name, emote_image
		FROM custom_emotes
		WHERE server = ?
		ORDER BY emote_name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, server)
	if err != nil {
		return nil, fmt.Errorf("query emotes: %w", err)
	}
	defer rows.Close()

	var emotes []*store.Emote
	for rows.Next() {
		var emote store.Emote
		if err := rows.Scan(&emote.ID, &emote.Server, &emote.Name, &emote.Image); err != nil {
			return nil, fmt.Errorf("scan emote: %w", err)
		}
		emotes = append(emotes, &emote)
	}

	return emotes, rows.Err()
}

// Reactions are stored as a comma-joined token list so appends stay a
// single UPDATE statement.
func encodeReactions(reactions []string) string {
	return strings.Join(reactions, ",")
}

func decodeReactions(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
