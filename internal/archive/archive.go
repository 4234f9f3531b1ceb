// Package archive opens exported chat bundles: zip containers holding one or
// more text transcripts plus the media files they reference.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// BundleError indicates an unreadable container or one with no transcripts.
// It is raised before any storage mutation.
type BundleError struct {
	Reason string
	Err    error
}

func (e *BundleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bundle: %s: %v", e.Reason, e.Err)
	}
	return "bundle: " + e.Reason
}

func (e *BundleError) Unwrap() error { return e.Err }

// Transcript is one text export found in the bundle.
type Transcript struct {
	Path string
	Text string
}

// Options controls extraction behavior.
type Options struct {
	// SpillThreshold is the entry size above which media is staged on disk
	// instead of held in memory. Zero means everything stays in memory.
	SpillThreshold int64
	// StagingDir receives spilled media files. Must exist when
	// SpillThreshold is set.
	StagingDir string
}

// Bundle is an opened archive: its transcripts and a media index. Close
// releases all staged files exactly once.
type Bundle struct {
	Transcripts []Transcript
	Media       *MediaIndex

	mu     sync.Mutex
	staged []string
	closed bool
}

// Open reads a zip container, classifying entries by extension: .txt entries
// are decoded as transcripts, everything else is indexed as media. A media
// entry that cannot be decoded is logged and omitted; it never aborts the
// rest of the extraction.
func Open(ctx context.Context, r io.ReaderAt, size int64, opts Options, logger *zap.Logger) (*Bundle, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, &BundleError{Reason: "unreadable archive", Err: err}
	}

	b := &Bundle{Media: NewMediaIndex()}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			_ = b.Close()
			return nil, err
		}
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}

		if strings.EqualFold(path.Ext(f.Name), ".txt") {
			text, err := readEntry(f)
			if err != nil {
				logger.Warn("skipping unreadable transcript entry",
					zap.String("entry", f.Name), zap.Error(err))
				continue
			}
			b.Transcripts = append(b.Transcripts, Transcript{Path: f.Name, Text: string(text)})
			continue
		}

		blob, staged, err := b.extractMedia(f, opts)
		if err != nil {
			logger.Warn("skipping undecodable media entry",
				zap.String("entry", f.Name), zap.Error(err))
			continue
		}
		if staged != "" {
			b.staged = append(b.staged, staged)
		}
		b.Media.Add(path.Base(f.Name), blob)
	}

	if len(b.Transcripts) == 0 {
		_ = b.Close()
		return nil, &BundleError{Reason: "archive contains no transcripts"}
	}
	return b, nil
}

// OpenFile opens a bundle staged on disk.
func OpenFile(ctx context.Context, bundlePath string, opts Options, logger *zap.Logger) (*Bundle, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, &BundleError{Reason: "unreadable archive", Err: err}
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, &BundleError{Reason: "unreadable archive", Err: err}
	}
	return Open(ctx, f, info.Size(), opts, logger)
}

// Close removes all staged media files. Idempotent.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var firstErr error
	for _, p := range b.staged {
		if err := os.Remove(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.staged = nil
	return firstErr
}

func (b *Bundle) extractMedia(f *zip.File, opts Options) (blob *Blob, stagedPath string, err error) {
	size := int64(f.UncompressedSize64)
	name := path.Base(f.Name)

	if opts.SpillThreshold <= 0 || size <= opts.SpillThreshold {
		data, err := readEntry(f)
		if err != nil {
			return nil, "", err
		}
		return &Blob{name: name, size: int64(len(data)), data: data}, "", nil
	}

	rc, err := f.Open()
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = rc.Close() }()

	tmp, err := os.CreateTemp(opts.StagingDir, "media-*")
	if err != nil {
		return nil, "", err
	}
	written, err := io.Copy(tmp, rc)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, "", err
	}
	return &Blob{name: name, size: written, path: tmp.Name()}, tmp.Name(), nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
