// Package merge collapses several chats belonging to one owner into a single
// chat, carrying messages and participants over and dropping duplicates.
package merge

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lucasmv/chatvault/internal/bus"
	"github.com/lucasmv/chatvault/internal/resolve"
	"github.com/lucasmv/chatvault/internal/store"
	"go.uber.org/zap"
)

// ErrTooFewChats is returned when fewer than two chats are named.
var ErrTooFewChats = errors.New("merge needs at least two chats")

// Result summarizes one merge. SkippedMessages counts source rows that were
// already present in the target.
type Result struct {
	TargetID        int64
	MovedMessages   int64
	SkippedMessages int64
	DeletedChats    int64
}

// Merger merges chats transactionally.
type Merger struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Merger {
	return &Merger{db: db, bus: b, logger: logger}
}

// Merge combines the given chats into one. The chat with the most messages
// becomes the target (first in input order on a tie); the merged chat takes
// the first non-generic name in input order. Returns store.ErrNotFound when
// any id is missing or foreign, rolling back the whole merge.
func (m *Merger) Merge(ctx context.Context, ownerID string, ids []int64) (*Result, error) {
	if len(ids) < 2 {
		return nil, ErrTooFewChats
	}

	res := &Result{}
	err := m.db.WithTx(ctx, func(tx *sql.Tx) error {
		chats, err := store.ChatsByIDs(tx, ownerID, ids)
		if err != nil {
			return err
		}

		counts := make([]int64, len(chats))
		for i, c := range chats {
			if counts[i], err = store.MessageCount(tx, c.ID); err != nil {
				return err
			}
		}

		target := 0
		for i := 1; i < len(chats); i++ {
			if counts[i] > counts[target] {
				target = i
			}
		}
		res.TargetID = chats[target].ID

		name := chats[target].Name
		for _, c := range chats {
			if !resolve.IsGenericName(c.Name) {
				name = c.Name
				break
			}
		}
		if name != chats[target].Name {
			if err := store.RenameChat(tx, res.TargetID, name); err != nil {
				return err
			}
		}

		var sources []int64
		for i, c := range chats {
			if i == target {
				continue
			}
			sources = append(sources, c.ID)

			if err := store.CopyParticipants(tx, c.ID, res.TargetID); err != nil {
				return err
			}
			moved, skipped, err := store.MoveMessages(tx, c.ID, res.TargetID)
			if err != nil {
				return err
			}
			res.MovedMessages += moved
			res.SkippedMessages += skipped
		}

		deleted, err := store.DeleteChats(tx, ownerID, sources)
		if err != nil {
			return err
		}
		res.DeletedChats = deleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.bus.Publish(bus.Event{Kind: bus.KindMergeDone, Payload: *res})
	m.logger.Info("chats merged",
		zap.Int64("target", res.TargetID),
		zap.Int64("moved", res.MovedMessages),
		zap.Int64("skipped", res.SkippedMessages),
		zap.Int64("deleted", res.DeletedChats))
	return res, nil
}
