package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parleychat/parley-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, applySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_guest      BOOLEAN NOT NULL DEFAULT 0,
		session_id    TEXT,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL UNIQUE,
		topic         TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		secret_hash   TEXT NOT NULL DEFAULT '',
		owner         TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS room_participants (
		room_id   INTEGER NOT NULL,
		username  TEXT NOT NULL,
		joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, username),
		FOREIGN KEY (room_id) REFERENCES rooms(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id    INTEGER NOT NULL,
		sender     TEXT NOT NULL,
		body       TEXT NOT NULL,
		deleted    BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (room_id) REFERENCES rooms(id)
	);

	CREATE TABLE IF NOT EXISTS message_hidden (
		message_id INTEGER NOT NULL,
		username   TEXT NOT NULL,
		PRIMARY KEY (message_id, username),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS message_reads (
		message_id INTEGER NOT NULL,
		username   TEXT NOT NULL,
		read_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (message_id, username),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_rooms_activity ON rooms(last_activity DESC);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, is_guest) VALUES (?, ?, 0)`,
		username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// CreateGuestUser creates a temporary guest user with session ID.
func (s *SQLiteStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	guestUsername := "guest_" + sessionID[:8]
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, is_guest, session_id) VALUES (?, '', 1, ?)`,
		guestUsername, sessionID)
	if err != nil {
		return nil, fmt.Errorf("insert guest user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsGuest,
		&user.SessionID,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

const userColumns = `id, username, password_hash, is_guest, COALESCE(session_id, ''), created_at`

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return s.scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? AND is_guest = 0`, username)
	return s.scanUser(row)
}

// GetUserBySessionID retrieves a guest user by session ID.
func (s *SQLiteStore) GetUserBySessionID(ctx context.Context, sessionID string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE session_id = ? AND is_guest = 1`, sessionID)
	return s.scanUser(row)
}

// ==== RoomStore implementation ====

const roomColumns = `id, name, topic, description, secret_hash, owner, message_count, last_activity, created_at`

func scanRoom(scan func(dest ...any) error) (*store.Room, error) {
	var r store.Room
	err := scan(
		&r.ID,
		&r.Name,
		&r.Topic,
		&r.Description,
		&r.SecretHash,
		&r.Owner,
		&r.MessageCount,
		&r.LastActivity,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	return &r, nil
}

// UpsertRoom returns the room with the given name, creating it when missing.
func (s *SQLiteStore) UpsertRoom(ctx context.Context, name string, opts store.RoomOptions) (*store.Room, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (name, topic, description, secret_hash, owner)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, opts.Topic, opts.Description, opts.SecretHash, opts.Owner)
	if err != nil {
		return nil, fmt.Errorf("upsert room: %w", err)
	}
	return s.GetRoomByName(ctx, name)
}

// GetRoomByName retrieves a room by its normalized name.
func (s *SQLiteStore) GetRoomByName(ctx context.Context, name string) (*store.Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE name = ?`, name)
	return scanRoom(row.Scan)
}

// ListRooms lists all rooms ordered by last activity, newest first.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]*store.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		r, err := scanRoom(rows.Scan)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// AddParticipant records durable room membership. Idempotent.
func (s *SQLiteStore) AddParticipant(ctx context.Context, roomName, username string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, username)
		SELECT id, ? FROM rooms WHERE name = ?
		ON CONFLICT(room_id, username) DO NOTHING`,
		username, roomName)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

// ListParticipants lists the durable membership of a room.
func (s *SQLiteStore) ListParticipants(ctx context.Context, roomName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.username
		FROM room_participants p
		JOIN rooms r ON r.id = p.room_id
		WHERE r.name = ?
		ORDER BY p.username`, roomName)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and bumps the room's message counter and
// last-activity timestamp in the same transaction.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var roomID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM rooms WHERE name = ?`, msg.Room).Scan(&roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("resolve room: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (room_id, sender, body, created_at) VALUES (?, ?, ?, ?)`,
		roomID, msg.Sender, msg.Body, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE rooms SET message_count = message_count + 1, last_activity = ? WHERE id = ?`,
		msg.CreatedAt, roomID)
	if err != nil {
		return fmt.Errorf("bump room activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	msg.ID = id
	return nil
}

// GetMessage retrieves a single message regardless of visibility.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT m.id, r.name, m.sender, m.body, m.deleted, m.created_at,
		       COALESCE((SELECT GROUP_CONCAT(username) FROM message_hidden WHERE message_id = m.id), ''),
		       COALESCE((SELECT GROUP_CONCAT(username) FROM message_reads WHERE message_id = m.id), '')
		FROM messages m
		JOIN rooms r ON r.id = m.room_id
		WHERE m.id = ?`, id)
	return scanMessage(row.Scan)
}

func scanMessage(scan func(dest ...any) error) (*store.Message, error) {
	var (
		m      store.Message
		hidden string
		reads  string
	)
	err := scan(&m.ID, &m.Room, &m.Sender, &m.Body, &m.Deleted, &m.CreatedAt, &hidden, &reads)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	m.HiddenFrom = splitList(hidden)
	m.ReadBy = splitList(reads)
	return &m, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// ListRecentMessages returns up to limit most recent messages of roomName
// visible to viewer, oldest first.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, roomName string, limit int, viewer string) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, r.name, m.sender, m.body, m.deleted, m.created_at,
		       COALESCE((SELECT GROUP_CONCAT(username) FROM message_hidden WHERE message_id = m.id), ''),
		       COALESCE((SELECT GROUP_CONCAT(username) FROM message_reads WHERE message_id = m.id), '')
		FROM messages m
		JOIN rooms r ON r.id = m.room_id
		WHERE r.name = ?
		  AND m.deleted = 0
		  AND NOT EXISTS (
			SELECT 1 FROM message_hidden h
			WHERE h.message_id = m.id AND h.username = ?
		  )
		ORDER BY m.id DESC
		LIMIT ?`, roomName, viewer, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// query returns newest first; callers want chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// HideMessage adds viewer to the message's hidden set. Idempotent.
func (s *SQLiteStore) HideMessage(ctx context.Context, id int64, viewer string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_hidden (message_id, username) VALUES (?, ?)
		ON CONFLICT(message_id, username) DO NOTHING`, id, viewer)
	if err != nil {
		return fmt.Errorf("hide message: %w", err)
	}
	return nil
}

// DeleteMessageForEveryone marks the message hard-deleted. Idempotent.
func (s *SQLiteStore) DeleteMessageForEveryone(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE messages SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// MarkMessageRead adds reader to the message's read-marker set. Idempotent.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id int64, reader string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, username) VALUES (?, ?)
		ON CONFLICT(message_id, username) DO NOTHING`, id, reader)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	return nil
}

var _ store.Store = (*SQLiteStore)(nil)

// touch is kept unexported for tests that need a deterministic clock.
func (s *SQLiteStore) touchRoom(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE rooms SET last_activity = ? WHERE name = ?`, at, name)
	return err
}
