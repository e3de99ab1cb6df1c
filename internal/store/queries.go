package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/emberchat/ember/pkg/domain"
	emberrors "github.com/emberchat/ember/pkg/errors"
)

// RoomSummary is one entry in the room directory.
type RoomSummary struct {
	Name     string `json:"name"`
	IsMember bool   `json:"is_user"`
}

// RoomInfo describes a single room and its membership.
type RoomInfo struct {
	Name    string   `json:"name"`
	Creator string   `json:"creator"`
	Members []string `json:"members"`
}

// UserSummary is one entry in the user directory.
type UserSummary struct {
	Username     string `json:"username"`
	ProfileImage string `json:"profile_image"`
}

// HistoryMessage is one stored message rendered for history responses.
type HistoryMessage struct {
	Username     string    `json:"username"`
	Message      string    `json:"message"`
	ProfileImage string    `json:"profile_image"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListRooms returns every room with a flag marking whether the given user
// is a member.
func (s *Store) ListRooms(ctx context.Context, username string) ([]RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name,
		       EXISTS(
		           SELECT 1 FROM room_members rm
		           JOIN users u ON u.id = rm.user_id
		           WHERE rm.room_id = r.id AND u.username = ?
		       )
		FROM rooms r
		ORDER BY r.name`,
		username,
	)
	if err != nil {
		return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "ROOM_LIST_FAILED", "failed to list rooms")
	}
	defer rows.Close()

	summaries := make([]RoomSummary, 0)
	for rows.Next() {
		var sum RoomSummary
		if err := rows.Scan(&sum.Name, &sum.IsMember); err != nil {
			return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "ROOM_LIST_FAILED", "failed to scan room row")
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// RoomInfo returns the creator and member list of a room.
func (s *Store) RoomInfo(ctx context.Context, roomName string) (RoomInfo, error) {
	var (
		info   RoomInfo
		roomID int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.name, COALESCE(u.username, '')
		FROM rooms r
		LEFT JOIN users u ON u.id = r.created_by
		WHERE r.name = ?`,
		roomName,
	).Scan(&roomID, &info.Name, &info.Creator)
	if errors.Is(err, sql.ErrNoRows) {
		return RoomInfo{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return RoomInfo{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "ROOM_LOOKUP_FAILED", "failed to look up room")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username FROM room_members rm
		JOIN users u ON u.id = rm.user_id
		WHERE rm.room_id = ?
		ORDER BY u.username`,
		roomID,
	)
	if err != nil {
		return RoomInfo{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "ROOM_MEMBERS_FAILED", "failed to list room members")
	}
	defer rows.Close()

	info.Members = make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return RoomInfo{}, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "ROOM_MEMBERS_FAILED", "failed to scan member row")
		}
		info.Members = append(info.Members, name)
	}
	return info, rows.Err()
}

// RoomHistory returns a room's messages oldest first.
func (s *Store) RoomHistory(ctx context.Context, roomName string, limit int) ([]HistoryMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username, m.content, COALESCE(NULLIF(u.avatar_url, ''), ?), m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		JOIN rooms r ON r.id = m.room_id
		WHERE r.name = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`,
		domain.DefaultAvatarURL, roomName, limit,
	)
	if err != nil {
		return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "HISTORY_FAILED", "failed to load room history")
	}
	defer rows.Close()

	return scanHistory(rows)
}

// DMHistory returns the conversation between two users oldest first,
// regardless of which side sent each message.
func (s *Store) DMHistory(ctx context.Context, userA, userB string, limit int) ([]HistoryMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT su.username, dm.content, COALESCE(NULLIF(su.avatar_url, ''), ?), dm.created_at
		FROM direct_messages dm
		JOIN users su ON su.id = dm.sender_id
		JOIN users ru ON ru.id = dm.receiver_id
		WHERE (su.username = ? AND ru.username = ?)
		   OR (su.username = ? AND ru.username = ?)
		ORDER BY dm.created_at DESC, dm.id DESC
		LIMIT ?`,
		domain.DefaultAvatarURL, userA, userB, userB, userA, limit,
	)
	if err != nil {
		return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "HISTORY_FAILED", "failed to load direct message history")
	}
	defer rows.Close()

	return scanHistory(rows)
}

// ListUsers returns the user directory, excluding the given username.
func (s *Store) ListUsers(ctx context.Context, exclude string) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, COALESCE(NULLIF(avatar_url, ''), ?)
		FROM users
		WHERE username != ?
		ORDER BY username`,
		domain.DefaultAvatarURL, exclude,
	)
	if err != nil {
		return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "USER_LIST_FAILED", "failed to list users")
	}
	defer rows.Close()

	users := make([]UserSummary, 0)
	for rows.Next() {
		var u UserSummary
		if err := rows.Scan(&u.Username, &u.ProfileImage); err != nil {
			return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "USER_LIST_FAILED", "failed to scan user row")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanHistory(rows *sql.Rows) ([]HistoryMessage, error) {
	newestFirst := make([]HistoryMessage, 0)
	for rows.Next() {
		var m HistoryMessage
		if err := rows.Scan(&m.Username, &m.Message, &m.ProfileImage, &m.CreatedAt); err != nil {
			return nil, emberrors.Wrap(err, emberrors.ErrorTypePersistence, "HISTORY_FAILED", "failed to scan history row")
		}
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Queried newest-first to apply the limit; callers want oldest first.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}
