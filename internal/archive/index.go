package archive

import (
	"path"
	"strings"
)

// MediaIndex maps normalized filenames to extracted media blobs. It is built
// once per bundle and consulted while importing messages that reference media.
type MediaIndex struct {
	names []string // insertion order, for deterministic fuzzy matching
	blobs map[string]*Blob
}

// NewMediaIndex returns an empty index.
func NewMediaIndex() *MediaIndex {
	return &MediaIndex{blobs: make(map[string]*Blob)}
}

// Add registers a blob under its base filename.
func (ix *MediaIndex) Add(name string, b *Blob) {
	key := indexKey(name)
	if _, exists := ix.blobs[key]; !exists {
		ix.names = append(ix.names, key)
	}
	ix.blobs[key] = b
}

// Len returns the number of indexed entries.
func (ix *MediaIndex) Len() int { return len(ix.blobs) }

// Resolve finds the blob for a message's referenced filename using three
// tiers: exact case-insensitive match, then normalized equality / suffix /
// bidirectional substring containment, else nil. A nil result means the
// message is stored without a media reference; it never fails an import.
func (ix *MediaIndex) Resolve(filename string) *Blob {
	key := indexKey(filename)
	if key == "" {
		return nil
	}

	if b, ok := ix.blobs[key]; ok {
		return b
	}

	// Dot/hyphen-only residue carries no identity and would substring-match
	// anything.
	want := normalizeFilename(key)
	if strings.Trim(want, ".-") == "" {
		return nil
	}
	for _, name := range ix.names {
		cand := normalizeFilename(name)
		if cand == "" {
			continue
		}
		if cand == want ||
			strings.HasSuffix(cand, want) || strings.HasSuffix(want, cand) ||
			strings.Contains(cand, want) || strings.Contains(want, cand) {
			return ix.blobs[name]
		}
	}
	return nil
}

func indexKey(name string) string {
	key := strings.ToLower(strings.TrimSpace(path.Base(name)))
	// path.Base maps "" and "/" onto non-names.
	if key == "." || key == "/" {
		return ""
	}
	return key
}

// normalizeFilename strips everything except alphanumerics, dot and hyphen.
func normalizeFilename(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
