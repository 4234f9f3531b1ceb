package api

import (
	"context"

	"github.com/lucasmv/chatvault/internal/merge"
	"github.com/lucasmv/chatvault/internal/store"
	"go.uber.org/zap"
)

// ChatService exposes read and maintenance operations over stored chats.
type ChatService struct {
	db     *store.DB
	merger *merge.Merger
	logger *zap.Logger
}

// NewChatService creates a chat service backed by the store.
func NewChatService(db *store.DB, merger *merge.Merger, logger *zap.Logger) *ChatService {
	return &ChatService{db: db, merger: merger, logger: logger}
}

// ListChats returns the owner's chats with participants and message counts.
func (s *ChatService) ListChats(_ context.Context, ownerID string) ([]store.ChatSummary, error) {
	if ownerID == "" {
		return nil, validationf("owner id is required")
	}
	return store.ListChats(s.db, ownerID)
}

// ChatDetail is one chat with its participants and a message page.
type ChatDetail struct {
	Chat         *store.Chat
	Participants []string
	MessageCount int64
	Messages     []store.Message
}

// GetChat returns one chat with a page of its messages, newest first.
// beforeTs and limit drive keyset pagination; zero values mean "latest page
// of default size".
func (s *ChatService) GetChat(_ context.Context, ownerID string, chatID, beforeTs int64, limit int) (*ChatDetail, error) {
	if ownerID == "" {
		return nil, validationf("owner id is required")
	}

	chat, err := store.GetChat(s.db, ownerID, chatID)
	if err != nil {
		return nil, err
	}
	participants, err := store.Participants(s.db, chatID)
	if err != nil {
		return nil, err
	}
	count, err := store.MessageCount(s.db, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := store.ListMessages(s.db, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}

	return &ChatDetail{
		Chat:         chat,
		Participants: participants,
		MessageCount: count,
		Messages:     messages,
	}, nil
}

// DeleteChats removes the owner's chats with the given ids and returns how
// many were deleted. Ids that are missing or foreign are silently not
// counted.
func (s *ChatService) DeleteChats(_ context.Context, ownerID string, ids []int64) (int64, error) {
	if ownerID == "" {
		return 0, validationf("owner id is required")
	}
	if len(ids) == 0 {
		return 0, validationf("no chat ids given")
	}

	deleted, err := store.DeleteChats(s.db, ownerID, ids)
	if err != nil {
		return 0, err
	}
	s.logger.Info("chats deleted",
		zap.String("owner", ownerID), zap.Int64("count", deleted))
	return deleted, nil
}

// MergeChats collapses the given chats into one. Returns store.ErrNotFound
// when any id is missing or foreign; nothing is changed in that case.
func (s *ChatService) MergeChats(ctx context.Context, ownerID string, ids []int64) (*merge.Result, error) {
	if ownerID == "" {
		return nil, validationf("owner id is required")
	}
	if len(ids) < 2 {
		return nil, validationf("merge needs at least two chat ids")
	}
	return s.merger.Merge(ctx, ownerID, ids)
}
