package importer

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasmv/chatvault/internal/archive"
)

// maxFilenameLen caps sanitized media filenames.
const maxFilenameLen = 100

var nonWord = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// sanitizeFilename strips non-word characters and caps the length so stored
// media names are safe to address publicly.
func sanitizeFilename(name string) string {
	clean := nonWord.ReplaceAllString(name, "")
	if len(clean) > maxFilenameLen {
		clean = clean[len(clean)-maxFilenameLen:]
	}
	if clean == "" {
		clean = "file"
	}
	return clean
}

// MediaRef derives the public reference path for a stored media file from
// owner id, chat id and the sanitized filename.
func MediaRef(ownerID string, chatID int64, filename string) string {
	return path.Join(ownerID, strconv.FormatInt(chatID, 10), sanitizeFilename(filename))
}

// mediaRefFor returns the stored path for a resolved blob. Distinct bundle
// files whose names sanitize to the same reference within one import are
// given numeric suffixes so neither overwrites the other; re-resolving the
// same blob keeps its ref stable.
func mediaRefFor(ownerID string, chatID int64, blob *archive.Blob, pending map[string]*archive.Blob) string {
	ref := MediaRef(ownerID, chatID, blob.Name())
	if prev, ok := pending[ref]; !ok || prev == blob {
		return ref
	}

	name := sanitizeFilename(blob.Name())
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	dir := path.Join(ownerID, strconv.FormatInt(chatID, 10))
	for i := 1; ; i++ {
		ref = path.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if prev, ok := pending[ref]; !ok || prev == blob {
			return ref
		}
	}
}
