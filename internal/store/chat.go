package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateChat inserts a new chat and returns its id.
func CreateChat(q Querier, ownerID, name string) (int64, error) {
	res, err := q.Exec(`
		INSERT INTO chats (owner_id, name, created_at)
		VALUES (?, ?, ?)`,
		ownerID, name, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("create chat: %w", err)
	}
	return res.LastInsertId()
}

// GetChat returns one chat scoped to its owner. ErrNotFound covers both a
// missing id and a chat owned by someone else.
func GetChat(q Querier, ownerID string, id int64) (*Chat, error) {
	var c Chat
	err := q.QueryRow(`
		SELECT id, owner_id, name, created_at
		FROM chats
		WHERE id = ? AND owner_id = ?`, id, ownerID).
		Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RenameChat updates a chat's name.
func RenameChat(q Querier, id int64, name string) error {
	_, err := q.Exec(`UPDATE chats SET name = ? WHERE id = ?`, name, id)
	return err
}

// ListChats returns the owner's chats with participant lists and message
// counts, ordered by id.
func ListChats(q Querier, ownerID string) ([]ChatSummary, error) {
	rows, err := q.Query(`
		SELECT c.id, c.owner_id, c.name, c.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		FROM chats c
		WHERE c.owner_id = ?
		ORDER BY c.id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []ChatSummary
	for rows.Next() {
		var s ChatSummary
		if err := rows.Scan(&s.ID, &s.OwnerID, &s.Name, &s.CreatedAt, &s.MessageCount); err != nil {
			return nil, err
		}
		chats = append(chats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range chats {
		parts, err := Participants(q, chats[i].ID)
		if err != nil {
			return nil, err
		}
		chats[i].Participants = parts
	}
	return chats, nil
}

// ChatsByIDs returns the owner's chats for the given ids, preserving input
// order. Any id that is missing or foreign yields ErrNotFound.
func ChatsByIDs(q Querier, ownerID string, ids []int64) ([]Chat, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := q.Query(`
		SELECT id, owner_id, name, created_at
		FROM chats
		WHERE owner_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[int64]Chat, len(ids))
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Chat, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, ErrNotFound
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteChats removes the owner's chats with the given ids and returns how
// many rows were deleted. Messages and participants go with them via the
// schema-level cascade.
func DeleteChats(q Querier, ownerID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := q.Exec(`
		DELETE FROM chats
		WHERE owner_id = ? AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
