// Package api exposes the module's operations as plain service structs with
// request/response types. Transport (HTTP, RPC) is layered on elsewhere.
package api

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/lucasmv/chatvault/internal/archive"
	"github.com/lucasmv/chatvault/internal/importer"
	"github.com/lucasmv/chatvault/internal/preview"
	"github.com/lucasmv/chatvault/internal/resolve"
	"github.com/lucasmv/chatvault/internal/store"
	"github.com/lucasmv/chatvault/internal/transcript"
	"github.com/scylladb/go-set/strset"
	"go.uber.org/zap"
)

// ImportService ingests uploaded bundles, either in one synchronous call or
// via the preview/confirm two-step.
type ImportService struct {
	db       *store.DB
	previews *preview.Store
	importer *importer.Importer
	collator transcript.Collator
	logger   *zap.Logger

	stagingDir     string
	spillThreshold int64
}

// NewImportService wires the import surface together.
func NewImportService(
	db *store.DB,
	previews *preview.Store,
	imp *importer.Importer,
	collator transcript.Collator,
	logger *zap.Logger,
	stagingDir string,
	spillThreshold int64,
) *ImportService {
	return &ImportService{
		db:             db,
		previews:       previews,
		importer:       imp,
		collator:       collator,
		logger:         logger,
		stagingDir:     stagingDir,
		spillThreshold: spillThreshold,
	}
}

// UploadRequest carries one bundle for synchronous import.
type UploadRequest struct {
	OwnerID      string
	Bundle       io.ReaderAt
	Size         int64
	TargetChatID int64 // 0 = resolve per transcript
}

// UploadResponse reports what the import did.
type UploadResponse struct {
	Stats *importer.Stats
}

// Upload ingests, collates, resolves and imports a bundle in one call.
func (s *ImportService) Upload(ctx context.Context, req *UploadRequest) (*UploadResponse, error) {
	if req.OwnerID == "" {
		return nil, validationf("owner id is required")
	}
	if req.Bundle == nil || req.Size <= 0 {
		return nil, validationf("bundle is empty")
	}

	b, err := archive.Open(ctx, req.Bundle, req.Size, s.archiveOptions(), s.logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	parsed, _, err := s.collate(b)
	if err != nil {
		return nil, err
	}

	stats, err := s.importer.Import(ctx, &importer.Request{
		OwnerID:      req.OwnerID,
		Transcripts:  parsed,
		Media:        b.Media,
		TargetChatID: req.TargetChatID,
	})
	if err != nil {
		return nil, err
	}
	return &UploadResponse{Stats: stats}, nil
}

// PreviewRequest stages a bundle for inspection before import.
type PreviewRequest struct {
	OwnerID string
	Bundle  io.ReaderAt
	Size    int64
}

// TranscriptPreview summarizes one transcript and its suggested match.
type TranscriptPreview struct {
	Path         string
	NameGuess    string
	Participants []string
	MessageCount int
	// Suggestion; zero SuggestedChatID means a new chat would be created.
	SuggestedChatID int64
	Confidence      int
	MatchStep       string
}

// PreviewResponse is a staged preview session plus everything a caller needs
// to decide where the transcripts should land.
type PreviewResponse struct {
	PreviewID   string
	ExpiresAt   time.Time
	Transcripts []TranscriptPreview
	Chats       []store.ChatSummary
}

// Preview stages the bundle on disk, collates it and returns per-transcript
// match suggestions alongside the owner's existing chats. Nothing is imported
// until Confirm.
func (s *ImportService) Preview(ctx context.Context, req *PreviewRequest) (*PreviewResponse, error) {
	if req.OwnerID == "" {
		return nil, validationf("owner id is required")
	}
	if req.Bundle == nil || req.Size <= 0 {
		return nil, validationf("bundle is empty")
	}

	stagedPath, err := s.stage(req.Bundle, req.Size)
	if err != nil {
		return nil, err
	}

	b, err := archive.OpenFile(ctx, stagedPath, s.archiveOptions(), s.logger)
	if err != nil {
		_ = os.Remove(stagedPath)
		return nil, err
	}
	defer func() { _ = b.Close() }()

	parsed, paths, err := s.collate(b)
	if err != nil {
		_ = os.Remove(stagedPath)
		return nil, err
	}

	chats, err := store.ListChats(s.db, req.OwnerID)
	if err != nil {
		_ = os.Remove(stagedPath)
		return nil, err
	}
	candidates := candidatesFromSummaries(chats)

	previews := make([]TranscriptPreview, 0, len(parsed))
	for i, p := range parsed {
		tp := TranscriptPreview{
			Path:         paths[i],
			NameGuess:    p.NameGuess,
			MessageCount: len(p.Messages),
		}
		if p.Participants != nil {
			tp.Participants = p.Participants.List()
		}
		if m := resolve.Resolve(candidates, p.NameGuess, p.Participants); m != nil {
			tp.SuggestedChatID = m.ChatID
			tp.Confidence = m.Confidence
			tp.MatchStep = string(m.Step)
		}
		previews = append(previews, tp)
	}

	session := s.previews.Create(req.OwnerID, stagedPath)
	return &PreviewResponse{
		PreviewID:   session.ID,
		ExpiresAt:   session.ExpiresAt,
		Transcripts: previews,
		Chats:       chats,
	}, nil
}

// ConfirmRequest finalizes a staged preview.
type ConfirmRequest struct {
	OwnerID      string
	PreviewID    string
	TargetChatID int64 // 0 = accept the resolver's decision
}

// ConfirmResponse reports what the confirmed import did.
type ConfirmResponse struct {
	Stats *importer.Stats
}

// Confirm claims the preview session exactly once and runs the import. A
// second confirm of the same session, or a confirm after expiry, fails with
// preview.ErrNotFound / preview.ErrExpired.
func (s *ImportService) Confirm(ctx context.Context, req *ConfirmRequest) (*ConfirmResponse, error) {
	if req.OwnerID == "" {
		return nil, validationf("owner id is required")
	}
	if req.PreviewID == "" {
		return nil, validationf("preview id is required")
	}

	session, err := s.previews.Claim(req.PreviewID, req.OwnerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = session.Release() }()

	b, err := archive.OpenFile(ctx, session.BundlePath, s.archiveOptions(), s.logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	parsed, _, err := s.collate(b)
	if err != nil {
		return nil, err
	}

	stats, err := s.importer.Import(ctx, &importer.Request{
		OwnerID:      req.OwnerID,
		Transcripts:  parsed,
		Media:        b.Media,
		TargetChatID: req.TargetChatID,
	})
	if err != nil {
		return nil, err
	}
	return &ConfirmResponse{Stats: stats}, nil
}

func (s *ImportService) archiveOptions() archive.Options {
	return archive.Options{
		SpillThreshold: s.spillThreshold,
		StagingDir:     s.stagingDir,
	}
}

// stage copies the uploaded bundle into the staging directory so it survives
// until the preview is confirmed or expires.
func (s *ImportService) stage(r io.ReaderAt, size int64) (string, error) {
	tmp, err := os.CreateTemp(s.stagingDir, "bundle-*.zip")
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(tmp, io.NewSectionReader(r, 0, size))
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp.Name())
		return "", copyErr
	}
	return tmp.Name(), nil
}

// collate runs the collator over every transcript in the bundle, returning
// the parsed transcripts and their bundle paths in lockstep. A transcript the
// collator cannot handle is logged and skipped; a bundle where nothing
// collates is rejected before any mutation.
func (s *ImportService) collate(b *archive.Bundle) ([]*transcript.ParsedTranscript, []string, error) {
	parsed := make([]*transcript.ParsedTranscript, 0, len(b.Transcripts))
	paths := make([]string, 0, len(b.Transcripts))
	for _, tr := range b.Transcripts {
		p, err := s.collator.Collate(tr.Path, tr.Text)
		if err != nil {
			s.logger.Warn("skipping transcript that failed to collate",
				zap.String("path", tr.Path), zap.Error(err))
			continue
		}
		parsed = append(parsed, p)
		paths = append(paths, tr.Path)
	}
	if len(parsed) == 0 {
		return nil, nil, validationf("no transcript in the bundle could be parsed")
	}
	return parsed, paths, nil
}

func candidatesFromSummaries(chats []store.ChatSummary) []resolve.Candidate {
	candidates := make([]resolve.Candidate, 0, len(chats))
	for _, c := range chats {
		candidates = append(candidates, resolve.Candidate{
			ChatID:       c.ID,
			Name:         c.Name,
			Participants: strset.New(c.Participants...),
		})
	}
	return candidates
}
