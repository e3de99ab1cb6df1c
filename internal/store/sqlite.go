// Package store implements the persistence gateway over sqlite: users,
// rooms, membership, room messages, and direct messages.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/emberchat/ember/internal/logging"
	"github.com/emberchat/ember/pkg/domain"
	emberrors "github.com/emberchat/ember/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
)

// Store is a sqlite-backed implementation of domain.Gateway plus the read
// surface used by the HTTP layer.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func Open(path string, logger *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "DB_OPEN_FAILED", "failed to open database")
	}

	// An in-memory database exists per connection; the pool must not grow
	// past one or each connection sees a different empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "DB_PING_FAILED", "failed to reach database")
	}

	s := &Store{db: db, logger: logger}
	if err := s.createTables(); err != nil {
		return nil, err
	}

	logger.Info("database ready", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username VARCHAR(50) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name VARCHAR(100) UNIQUE NOT NULL,
		created_by INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (created_by) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS room_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE(room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS direct_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id INTEGER NOT NULL,
		receiver_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (sender_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (receiver_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_dm_pair ON direct_messages(sender_id, receiver_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_room_members_room ON room_members(room_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return emberrors.Wrap(err, emberrors.ErrorTypePersistence, "SCHEMA_FAILED", "failed to create tables")
	}
	return nil
}

// CreateUser stores a new user with an already-hashed password. The avatar
// URL may be empty; avatar resolution falls back to the default.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, avatarURL string) (domain.UserRef, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, avatar_url) VALUES (?, ?, ?)",
		username, passwordHash, avatarURL,
	)
	if err != nil {
		return domain.UserRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "USER_CREATE_FAILED", "failed to create user")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.UserRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "USER_CREATE_FAILED", "failed to read user id")
	}

	return domain.UserRef{ID: id, Username: username}, nil
}

// Credentials returns the stored password hash for a user.
func (s *Store) Credentials(ctx context.Context, username string) (domain.UserRef, string, error) {
	var (
		ref  domain.UserRef
		hash string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password_hash FROM users WHERE username = ?",
		username,
	).Scan(&ref.ID, &ref.Username, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserRef{}, "", domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserRef{}, "", emberrors.Wrap(err, emberrors.ErrorTypePersistence, "USER_LOOKUP_FAILED", "failed to look up user")
	}
	return ref, hash, nil
}

// ResolveUser implements domain.Gateway.
func (s *Store) ResolveUser(ctx context.Context, username string) (domain.UserRef, error) {
	var ref domain.UserRef
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username FROM users WHERE username = ?",
		username,
	).Scan(&ref.ID, &ref.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserRef{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "USER_LOOKUP_FAILED", "failed to look up user")
	}
	return ref, nil
}

// AvatarURLFor implements domain.Gateway. It is total: any miss or error
// yields the default avatar URL.
func (s *Store) AvatarURLFor(ctx context.Context, username string) string {
	var url string
	err := s.db.QueryRowContext(ctx,
		"SELECT avatar_url FROM users WHERE username = ?",
		username,
	).Scan(&url)
	if err != nil || url == "" {
		return domain.DefaultAvatarURL
	}
	return url
}

// CreateRoomIfAbsent implements domain.Gateway.
func (s *Store) CreateRoomIfAbsent(ctx context.Context, name, creatorUsername string) (domain.RoomRef, error) {
	creator, err := s.ResolveUser(ctx, creatorUsername)
	if err != nil {
		return domain.RoomRef{}, err
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (name, created_by) VALUES (?, ?)",
		name, creator.ID,
	); err != nil {
		return domain.RoomRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "ROOM_CREATE_FAILED", "failed to create room")
	}

	var ref domain.RoomRef
	err = s.db.QueryRowContext(ctx,
		"SELECT id, name FROM rooms WHERE name = ?",
		name,
	).Scan(&ref.ID, &ref.Name)
	if err != nil {
		return domain.RoomRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "ROOM_LOOKUP_FAILED", "failed to look up room")
	}
	return ref, nil
}

// AddMember implements domain.Gateway. Adding an existing member is a no-op.
func (s *Store) AddMember(ctx context.Context, room domain.RoomRef, username string) error {
	user, err := s.ResolveUser(ctx, username)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO room_members (room_id, user_id) VALUES (?, ?)",
		room.ID, user.ID,
	); err != nil {
		return emberrors.Wrap(err, emberrors.ErrorTypePersistence, "MEMBER_ADD_FAILED", "failed to add room member")
	}
	return nil
}

// AppendRoomMessage implements domain.Gateway.
func (s *Store) AppendRoomMessage(ctx context.Context, roomName, username, text string) (domain.MessageRef, error) {
	user, err := s.ResolveUser(ctx, username)
	if err != nil {
		return domain.MessageRef{}, err
	}

	var roomID int64
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM rooms WHERE name = ?", roomName,
	).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MessageRef{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.MessageRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "ROOM_LOOKUP_FAILED", "failed to look up room")
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (room_id, user_id, content) VALUES (?, ?, ?)",
		roomID, user.ID, text,
	)
	if err != nil {
		return domain.MessageRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "MESSAGE_WRITE_FAILED", "failed to store room message")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.MessageRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "MESSAGE_WRITE_FAILED", "failed to read message id")
	}
	return domain.MessageRef{ID: id, CreatedAt: time.Now()}, nil
}

// AppendDirectMessage implements domain.Gateway.
func (s *Store) AppendDirectMessage(ctx context.Context, senderUsername, receiverUsername, text string) (domain.MessageRef, error) {
	sender, err := s.ResolveUser(ctx, senderUsername)
	if err != nil {
		return domain.MessageRef{}, err
	}
	receiver, err := s.ResolveUser(ctx, receiverUsername)
	if err != nil {
		return domain.MessageRef{}, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO direct_messages (sender_id, receiver_id, content) VALUES (?, ?, ?)",
		sender.ID, receiver.ID, text,
	)
	if err != nil {
		return domain.MessageRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "DM_WRITE_FAILED", "failed to store direct message")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return domain.MessageRef{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "DM_WRITE_FAILED", "failed to read message id")
	}
	return domain.MessageRef{ID: id, CreatedAt: time.Now()}, nil
}
