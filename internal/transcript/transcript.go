// Package transcript defines the boundary to the external collator that turns
// free-form export text into structured message records. The grammar itself
// lives outside this module; implementations are injected at daemon startup.
package transcript

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/scylladb/go-set/strset"
)

// RawMessage is a normalized message record ready for import.
type RawMessage struct {
	Author    string
	Content   string
	Timestamp int64 // unix ms, 0 = unknown
	Type      string
	Filename  string // referenced media file, empty if none
}

// ParsedTranscript is the collator output for one transcript: a chat name
// guess, the set of participants seen, and the ordered message records.
type ParsedTranscript struct {
	NameGuess    string
	Participants *strset.Set
	Messages     []RawMessage
}

// Collator converts one transcript's text into a ParsedTranscript.
type Collator interface {
	Collate(path, text string) (*ParsedTranscript, error)
}

// CollatorFunc adapts a plain function to the Collator interface.
type CollatorFunc func(path, text string) (*ParsedTranscript, error)

// Collate implements Collator.
func (f CollatorFunc) Collate(path, text string) (*ParsedTranscript, error) {
	return f(path, text)
}

// PlainText returns a minimal collator for "author: content" lines with no
// timestamp information. The chat name guess comes from the transcript
// filename. Lines without an author prefix continue the previous message.
// Richer export grammars replace this via the daemon's collator injection.
func PlainText() Collator {
	return CollatorFunc(func(path, text string) (*ParsedTranscript, error) {
		out := &ParsedTranscript{
			NameGuess:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Participants: strset.New(),
		}
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			author, content, ok := strings.Cut(line, ": ")
			if !ok || author == "" {
				if n := len(out.Messages); n > 0 {
					out.Messages[n-1].Content += "\n" + line
				}
				continue
			}
			out.Participants.Add(author)
			out.Messages = append(out.Messages, RawMessage{Author: author, Content: content})
		}
		if len(out.Messages) == 0 {
			return nil, fmt.Errorf("transcript %s: no recognizable messages", path)
		}
		return out, nil
	})
}

// DetectType classifies a message by its referenced media filename extension.
// Messages with no filename are "text".
func DetectType(filename string) string {
	if filename == "" {
		return "text"
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "image"
	case ".mp4", ".mov", ".avi", ".mkv":
		return "video"
	case ".opus", ".ogg", ".mp3", ".m4a", ".aac", ".wav":
		return "audio"
	case ".vcf":
		return "contact"
	case ".webp.sticker", ".sticker":
		return "sticker"
	default:
		return "document"
	}
}
