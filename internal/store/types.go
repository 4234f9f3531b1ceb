package store

// Chat is a stored chat, owned exclusively by one owner.
type Chat struct {
	ID        int64
	OwnerID   string
	Name      string
	CreatedAt int64
}

// ChatSummary is a chat with its participant list and message count,
// as returned by listings.
type ChatSummary struct {
	Chat
	Participants []string
	MessageCount int64
}

// Message is a stored message. Timestamp is unix milliseconds, 0 = unknown.
type Message struct {
	ID        int64
	ChatID    int64
	Author    string
	Content   string
	Timestamp int64
	Type      string
	MediaPath string
}
