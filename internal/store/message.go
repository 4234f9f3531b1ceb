package store

import (
	"strings"
	"time"
)

// messageChunkSize bounds how many rows go into one batched insert. Tuning
// parameter only; correctness comes from the dedup index.
const messageChunkSize = 100

// MaxTimestamp returns the greatest message timestamp stored for a chat,
// or 0 if the chat has no timestamped messages.
func MaxTimestamp(q Querier, chatID int64) (int64, error) {
	var ts int64
	err := q.QueryRow(`
		SELECT COALESCE(MAX(timestamp), 0) FROM messages WHERE chat_id = ?`,
		chatID).Scan(&ts)
	return ts, err
}

// MessageCount returns the number of messages stored for a chat.
func MessageCount(q Querier, chatID int64) (int64, error) {
	var n int64
	err := q.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

// InsertMessages batch-inserts messages for a chat in bounded chunks with
// insert-or-ignore semantics against the dedup index. Returns how many rows
// were actually added and how many were skipped as duplicates.
func InsertMessages(q Querier, chatID int64, msgs []Message) (added, skipped int64, err error) {
	for start := 0; start < len(msgs); start += messageChunkSize {
		end := min(start+messageChunkSize, len(msgs))
		chunk := msgs[start:end]

		var sb strings.Builder
		sb.WriteString(`
			INSERT OR IGNORE INTO messages
				(chat_id, author, content, timestamp, msg_type, media_path)
			VALUES `)
		args := make([]any, 0, len(chunk)*6)
		for i, m := range chunk {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?)")
			args = append(args, chatID, m.Author, m.Content, m.Timestamp, m.Type, m.MediaPath)
		}

		res, execErr := q.Exec(sb.String(), args...)
		if execErr != nil {
			return added, skipped, execErr
		}
		n, _ := res.RowsAffected()
		added += n
		skipped += int64(len(chunk)) - n
	}
	return added, skipped, nil
}

// MoveMessages re-inserts one chat's messages under another chat, skipping
// rows that would violate the dedup invariant in the target. Returns how many
// moved and how many were skipped as cross-chat duplicates. Source rows are
// left in place; callers delete the source chat afterwards (cascade).
func MoveMessages(q Querier, fromID, toID int64) (moved, skipped int64, err error) {
	total, err := MessageCount(q, fromID)
	if err != nil {
		return 0, 0, err
	}
	res, err := q.Exec(`
		INSERT OR IGNORE INTO messages
			(chat_id, author, content, timestamp, msg_type, media_path)
		SELECT ?, author, content, timestamp, msg_type, media_path
		FROM messages WHERE chat_id = ?`, toID, fromID)
	if err != nil {
		return 0, 0, err
	}
	moved, _ = res.RowsAffected()
	return moved, total - moved, nil
}

// ListMessages returns messages for a chat using keyset pagination by
// timestamp descending.
func ListMessages(q Querier, chatID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := q.Query(`
		SELECT id, chat_id, author, content, timestamp, msg_type, media_path
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Author, &m.Content, &m.Timestamp, &m.Type, &m.MediaPath); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
