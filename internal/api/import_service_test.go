package api

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/lucasmv/chatvault/internal/archive"
	"github.com/lucasmv/chatvault/internal/bus"
	"github.com/lucasmv/chatvault/internal/importer"
	"github.com/lucasmv/chatvault/internal/merge"
	"github.com/lucasmv/chatvault/internal/preview"
	"github.com/lucasmv/chatvault/internal/store"
	"github.com/lucasmv/chatvault/internal/transcript"
	"github.com/scylladb/go-set/strset"
	"go.uber.org/zap"
)

// lineCollator parses a trivial line format for tests: the first line is the
// chat name guess, each following line is "author|content|timestamp" with an
// optional "|filename" for media messages. A transcript starting with "!!" is
// rejected.
func lineCollator() transcript.Collator {
	return transcript.CollatorFunc(func(path, text string) (*transcript.ParsedTranscript, error) {
		if strings.HasPrefix(text, "!!") {
			return nil, errors.New("unparseable transcript")
		}
		lines := strings.Split(strings.TrimSpace(text), "\n")
		p := &transcript.ParsedTranscript{
			NameGuess:    lines[0],
			Participants: strset.New(),
		}
		for _, line := range lines[1:] {
			parts := strings.Split(line, "|")
			ts, _ := strconv.ParseInt(parts[2], 10, 64)
			m := transcript.RawMessage{Author: parts[0], Content: parts[1], Timestamp: ts}
			if len(parts) > 3 {
				m.Filename = parts[3]
			}
			p.Participants.Add(m.Author)
			p.Messages = append(p.Messages, m)
		}
		return p, nil
	})
}

type testEnv struct {
	imports   *ImportService
	chats     *ChatService
	db        *store.DB
	previews  *preview.Store
	mediaRoot string
	staging   string
}

func newTestEnv(t *testing.T, previewTTL time.Duration) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	logger := zap.NewNop()
	mediaRoot := t.TempDir()
	staging := t.TempDir()
	previews := preview.NewStore(previewTTL, time.Minute, b, logger)
	imp := importer.New(db, b, logger, mediaRoot)

	return &testEnv{
		imports:   NewImportService(db, previews, imp, lineCollator(), logger, staging, 0),
		chats:     NewChatService(db, merge.New(db, b, logger), logger),
		db:        db,
		previews:  previews,
		mediaRoot: mediaRoot,
		staging:   staging,
	}
}

func buildZip(t *testing.T, entries map[string][]byte) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestUploadImportsBundle(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	z := buildZip(t, map[string][]byte{
		"Family.txt":   []byte("Family\nmom|dinner at 8|1000\ndad|here is a pic|2000|IMG-1.jpg"),
		"IMG-1.jpg":    []byte("jpegbytes"),
		"__MACOSX/x":   []byte("junk"),
		"notes/b.webp": []byte("webpbytes"),
	})

	resp, err := env.imports.Upload(context.Background(), &UploadRequest{
		OwnerID: "owner1", Bundle: z, Size: z.Size(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stats.AddedChats != 1 || resp.Stats.AddedMessages != 2 {
		t.Errorf("stats = %+v, want 1 chat / 2 messages", resp.Stats)
	}
	if resp.Stats.SavedMedia != 1 {
		t.Errorf("saved media = %d, want 1", resp.Stats.SavedMedia)
	}

	chats, err := env.chats.ListChats(context.Background(), "owner1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Name != "Family" || chats[0].MessageCount != 2 {
		t.Fatalf("chats = %+v", chats)
	}
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	z := buildZip(t, map[string][]byte{"a.txt": []byte("A\nx|hi|1")})

	var verr *ValidationError
	if _, err := env.imports.Upload(context.Background(), &UploadRequest{Bundle: z, Size: z.Size()}); !errors.As(err, &verr) {
		t.Errorf("missing owner error = %v, want ValidationError", err)
	}
	if _, err := env.imports.Upload(context.Background(), &UploadRequest{OwnerID: "o"}); !errors.As(err, &verr) {
		t.Errorf("empty bundle error = %v, want ValidationError", err)
	}

	garbage := bytes.NewReader([]byte("not a zip at all"))
	var berr *archive.BundleError
	if _, err := env.imports.Upload(context.Background(), &UploadRequest{
		OwnerID: "o", Bundle: garbage, Size: garbage.Size(),
	}); !errors.As(err, &berr) {
		t.Errorf("garbage bundle error = %v, want BundleError", err)
	}
}

func TestUploadSkipsUnparseableTranscripts(t *testing.T) {
	env := newTestEnv(t, time.Minute)

	z := buildZip(t, map[string][]byte{
		"good.txt": []byte("Family\nmom|hello|1000"),
		"bad.txt":  []byte("!!corrupted"),
	})
	resp, err := env.imports.Upload(context.Background(), &UploadRequest{
		OwnerID: "owner1", Bundle: z, Size: z.Size(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stats.AddedChats != 1 || resp.Stats.AddedMessages != 1 {
		t.Errorf("stats = %+v, want only the good transcript imported", resp.Stats)
	}

	// A bundle where nothing collates is rejected outright.
	allBad := buildZip(t, map[string][]byte{"bad.txt": []byte("!!corrupted")})
	var verr *ValidationError
	if _, err := env.imports.Upload(context.Background(), &UploadRequest{
		OwnerID: "owner1", Bundle: allBad, Size: allBad.Size(),
	}); !errors.As(err, &verr) {
		t.Errorf("all-bad bundle error = %v, want ValidationError", err)
	}
}

func TestPreviewConfirmFlow(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	// An existing chat the bundle should be matched against.
	chatID, err := store.CreateChat(env.db, "owner1", "Family")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AddParticipants(env.db, chatID, []string{"mom", "dad"}); err != nil {
		t.Fatal(err)
	}

	z := buildZip(t, map[string][]byte{
		"Family.txt": []byte("Family\nmom|round two|5000"),
	})
	pv, err := env.imports.Preview(ctx, &PreviewRequest{OwnerID: "owner1", Bundle: z, Size: z.Size()})
	if err != nil {
		t.Fatal(err)
	}
	if pv.PreviewID == "" {
		t.Fatal("empty preview id")
	}
	if len(pv.Transcripts) != 1 {
		t.Fatalf("transcripts = %+v", pv.Transcripts)
	}
	tp := pv.Transcripts[0]
	if tp.SuggestedChatID != chatID || tp.MatchStep != "name" || tp.Confidence != 95 {
		t.Errorf("suggestion = %+v, want name match on chat %d at 95", tp, chatID)
	}
	if len(pv.Chats) != 1 {
		t.Errorf("existing chats = %+v, want 1", pv.Chats)
	}

	// Nothing imported yet.
	if n, _ := store.MessageCount(env.db, chatID); n != 0 {
		t.Fatalf("preview imported %d messages", n)
	}

	resp, err := env.imports.Confirm(ctx, &ConfirmRequest{OwnerID: "owner1", PreviewID: pv.PreviewID})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Stats.AddedMessages != 1 || resp.Stats.AddedChats != 0 {
		t.Errorf("stats = %+v, want merge into existing chat", resp.Stats)
	}

	// The session is consumed: a second confirm loses.
	if _, err := env.imports.Confirm(ctx, &ConfirmRequest{OwnerID: "owner1", PreviewID: pv.PreviewID}); !errors.Is(err, preview.ErrNotFound) {
		t.Errorf("second confirm error = %v, want preview.ErrNotFound", err)
	}

	// The staged bundle was released with the session.
	staged, err := os.ReadDir(env.staging)
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("staging dir still holds %d files after confirm", len(staged))
	}
}

func TestConfirmExpiredPreview(t *testing.T) {
	// A negative TTL makes every session born expired.
	env := newTestEnv(t, -time.Minute)
	ctx := context.Background()

	z := buildZip(t, map[string][]byte{"a.txt": []byte("A\nx|hi|1")})
	pv, err := env.imports.Preview(ctx, &PreviewRequest{OwnerID: "owner1", Bundle: z, Size: z.Size()})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.imports.Confirm(ctx, &ConfirmRequest{OwnerID: "owner1", PreviewID: pv.PreviewID}); !errors.Is(err, preview.ErrExpired) {
		t.Fatalf("confirm error = %v, want preview.ErrExpired", err)
	}

	// Expiry released the staged bundle; nothing was imported.
	staged, err := os.ReadDir(env.staging)
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("staging dir still holds %d files after expiry", len(staged))
	}
	chats, _ := env.chats.ListChats(ctx, "owner1")
	if len(chats) != 0 {
		t.Errorf("expired preview imported chats: %+v", chats)
	}
}

func TestConfirmForeignOwner(t *testing.T) {
	env := newTestEnv(t, time.Minute)
	ctx := context.Background()

	z := buildZip(t, map[string][]byte{"a.txt": []byte("A\nx|hi|1")})
	pv, err := env.imports.Preview(ctx, &PreviewRequest{OwnerID: "owner1", Bundle: z, Size: z.Size()})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.imports.Confirm(ctx, &ConfirmRequest{OwnerID: "owner2", PreviewID: pv.PreviewID}); !errors.Is(err, preview.ErrNotFound) {
		t.Errorf("foreign confirm error = %v, want preview.ErrNotFound", err)
	}
	// The rightful owner can still confirm.
	if _, err := env.imports.Confirm(ctx, &ConfirmRequest{OwnerID: "owner1", PreviewID: pv.PreviewID}); err != nil {
		t.Errorf("owner confirm after foreign attempt: %v", err)
	}
}
