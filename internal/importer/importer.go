// Package importer applies import decisions transactionally: it creates or
// merges chats, unions participant sets, resolves referenced media and
// performs idempotent batch insertion of messages.
package importer

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasmv/chatvault/internal/archive"
	"github.com/lucasmv/chatvault/internal/bus"
	"github.com/lucasmv/chatvault/internal/resolve"
	"github.com/lucasmv/chatvault/internal/store"
	"github.com/lucasmv/chatvault/internal/transcript"
	"github.com/scylladb/go-set/strset"
	"go.uber.org/zap"
)

// placeholderName is stored when a transcript carries no usable name guess.
const placeholderName = "Chat"

// Request is one bundle's worth of parsed transcripts plus its media index.
// TargetChatID forces every transcript into one existing chat; zero lets the
// resolver decide per transcript.
type Request struct {
	OwnerID      string
	Transcripts  []*transcript.ParsedTranscript
	Media        *archive.MediaIndex
	TargetChatID int64
}

// Stats aggregates the outcome across all transcripts in a bundle. Skipped
// combines timestamp-cutoff filtering and storage-level duplicates into one
// counter.
type Stats struct {
	AddedChats      int64
	UpdatedChats    int64
	AddedMessages   int64
	SkippedMessages int64
	SavedMedia      int64
}

// Importer writes bundles to storage. One Import call is one transaction:
// either the whole bundle commits or none of it does. Media file writes are
// deferred until after commit, so a rollback never leaves orphan files.
type Importer struct {
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
	mediaRoot string
}

// New creates an importer storing media under mediaRoot.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger, mediaRoot string) *Importer {
	return &Importer{db: db, bus: b, logger: logger, mediaRoot: mediaRoot}
}

// Import applies one bundle. Returns store.ErrNotFound when a forced target
// chat is missing or foreign; the whole operation rolls back.
func (im *Importer) Import(ctx context.Context, req *Request) (*Stats, error) {
	stats := &Stats{}
	pendingMedia := make(map[string]*archive.Blob)

	err := im.db.WithTx(ctx, func(tx *sql.Tx) error {
		candidates, err := loadCandidates(tx, req.OwnerID)
		if err != nil {
			return err
		}
		updated := make(map[int64]bool)

		for _, t := range req.Transcripts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := im.importTranscript(tx, req, t, &candidates, updated, stats, pendingMedia); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Post-commit media writes. A failure here is logged and reduces
	// SavedMedia; the committed rows keep their references.
	for ref, blob := range pendingMedia {
		if err := im.writeMedia(ref, blob); err != nil {
			im.logger.Warn("failed to store media file",
				zap.String("ref", ref), zap.Error(err))
			continue
		}
		stats.SavedMedia++
	}

	im.bus.Publish(bus.Event{Kind: bus.KindImportDone, Payload: *stats})
	im.logger.Info("bundle imported",
		zap.Int64("added_chats", stats.AddedChats),
		zap.Int64("updated_chats", stats.UpdatedChats),
		zap.Int64("added_messages", stats.AddedMessages),
		zap.Int64("skipped_messages", stats.SkippedMessages),
		zap.Int64("saved_media", stats.SavedMedia))
	return stats, nil
}

func (im *Importer) importTranscript(
	tx *sql.Tx,
	req *Request,
	t *transcript.ParsedTranscript,
	candidates *[]resolve.Candidate,
	updated map[int64]bool,
	stats *Stats,
	pendingMedia map[string]*archive.Blob,
) error {
	chat, created, err := im.resolveTarget(tx, req, t, candidates)
	if err != nil {
		return err
	}

	if created {
		stats.AddedChats++
	} else {
		// The latest successfully-parsed non-generic name wins.
		if !resolve.IsGenericName(t.NameGuess) && strings.TrimSpace(t.NameGuess) != chat.Name {
			name := strings.TrimSpace(t.NameGuess)
			if err := store.RenameChat(tx, chat.ID, name); err != nil {
				return err
			}
			chat.Name = name
			renameCandidate(*candidates, chat.ID, name)
		}
		if !updated[chat.ID] {
			updated[chat.ID] = true
			stats.UpdatedChats++
		}
	}

	var names []string
	if t.Participants != nil {
		names = t.Participants.List()
	}
	if err := store.AddParticipants(tx, chat.ID, names); err != nil {
		return err
	}
	unionCandidate(*candidates, chat.ID, names)

	// De-duplication cutoff: only messages strictly after the newest stored
	// timestamp survive. Unknown-time messages (0) always pass the filter;
	// the dedup index still catches exact repeats.
	var cutoff int64
	if !created {
		cutoff, err = store.MaxTimestamp(tx, chat.ID)
		if err != nil {
			return err
		}
	}

	var msgs []store.Message
	for _, raw := range t.Messages {
		if raw.Timestamp != 0 && raw.Timestamp <= cutoff {
			stats.SkippedMessages++
			continue
		}

		msgType := raw.Type
		if msgType == "" {
			msgType = transcript.DetectType(raw.Filename)
		}

		var mediaPath string
		if raw.Filename != "" && req.Media != nil {
			if blob := req.Media.Resolve(raw.Filename); blob != nil {
				mediaPath = mediaRefFor(req.OwnerID, chat.ID, blob, pendingMedia)
				pendingMedia[mediaPath] = blob
			}
		}

		msgs = append(msgs, store.Message{
			Author:    raw.Author,
			Content:   raw.Content,
			Timestamp: raw.Timestamp,
			Type:      msgType,
			MediaPath: mediaPath,
		})
	}

	added, skipped, err := store.InsertMessages(tx, chat.ID, msgs)
	if err != nil {
		return err
	}
	stats.AddedMessages += added
	stats.SkippedMessages += skipped
	return nil
}

// resolveTarget picks or creates the chat a transcript lands in. Newly
// created chats are appended to the candidate list so later transcripts in
// the same bundle can match them.
func (im *Importer) resolveTarget(
	tx *sql.Tx,
	req *Request,
	t *transcript.ParsedTranscript,
	candidates *[]resolve.Candidate,
) (*store.Chat, bool, error) {
	if req.TargetChatID != 0 {
		chat, err := store.GetChat(tx, req.OwnerID, req.TargetChatID)
		if err != nil {
			return nil, false, err
		}
		return chat, false, nil
	}

	if m := resolve.Resolve(*candidates, t.NameGuess, t.Participants); m != nil {
		chat, err := store.GetChat(tx, req.OwnerID, m.ChatID)
		if err != nil {
			return nil, false, err
		}
		return chat, false, nil
	}

	name := strings.TrimSpace(t.NameGuess)
	if name == "" {
		name = placeholderName
	}
	id, err := store.CreateChat(tx, req.OwnerID, name)
	if err != nil {
		return nil, false, err
	}

	parts := strset.New()
	if t.Participants != nil {
		parts = t.Participants.Copy()
	}
	*candidates = append(*candidates, resolve.Candidate{ChatID: id, Name: name, Participants: parts})

	return &store.Chat{ID: id, OwnerID: req.OwnerID, Name: name}, true, nil
}

func (im *Importer) writeMedia(ref string, blob *archive.Blob) error {
	dest := filepath.Join(im.mediaRoot, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return err
	}

	src, err := blob.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

func loadCandidates(q store.Querier, ownerID string) ([]resolve.Candidate, error) {
	summaries, err := store.ListChats(q, ownerID)
	if err != nil {
		return nil, err
	}
	candidates := make([]resolve.Candidate, 0, len(summaries))
	for _, s := range summaries {
		candidates = append(candidates, resolve.Candidate{
			ChatID:       s.ID,
			Name:         s.Name,
			Participants: strset.New(s.Participants...),
		})
	}
	return candidates, nil
}

func renameCandidate(candidates []resolve.Candidate, chatID int64, name string) {
	for i := range candidates {
		if candidates[i].ChatID == chatID {
			candidates[i].Name = name
			return
		}
	}
}

func unionCandidate(candidates []resolve.Candidate, chatID int64, names []string) {
	for i := range candidates {
		if candidates[i].ChatID == chatID {
			candidates[i].Participants.Add(names...)
			return
		}
	}
}
