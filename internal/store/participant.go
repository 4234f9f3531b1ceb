package store

// AddParticipants unions names into a chat's participant set. Membership is
// insert-if-absent; participants are never removed by imports.
func AddParticipants(q Querier, chatID int64, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := q.Exec(`
			INSERT OR IGNORE INTO chat_participants (chat_id, name)
			VALUES (?, ?)`, chatID, name); err != nil {
			return err
		}
	}
	return nil
}

// Participants returns a chat's participant names sorted alphabetically.
func Participants(q Querier, chatID int64) ([]string, error) {
	rows, err := q.Query(`
		SELECT name FROM chat_participants
		WHERE chat_id = ?
		ORDER BY name`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// CopyParticipants unions one chat's participant set into another.
func CopyParticipants(q Querier, fromID, toID int64) error {
	_, err := q.Exec(`
		INSERT OR IGNORE INTO chat_participants (chat_id, name)
		SELECT ?, name FROM chat_participants WHERE chat_id = ?`, toID, fromID)
	return err
}
