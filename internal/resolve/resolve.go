// Package resolve decides which existing chat a parsed transcript belongs to.
// It is pure: it never touches storage, it only returns a match or nil.
package resolve

import (
	"math"
	"sort"
	"strings"

	"github.com/scylladb/go-set/strset"
)

// overlapThreshold is the minimum participant overlap for a merge decision.
const overlapThreshold = 0.5

// genericNames are placeholder chat names that carry no identity information.
var genericNames = map[string]struct{}{
	"":              {},
	"chat":          {},
	"whatsapp chat": {},
	"group":         {},
	"_chat":         {},
}

// Step identifies which rule of the resolution order produced a match.
type Step string

const (
	StepName    Step = "name"
	StepOverlap Step = "overlap"
	StepGeneric Step = "generic"
)

// Candidate is one of the owner's existing chats.
type Candidate struct {
	ChatID       int64
	Name         string
	Participants *strset.Set
}

// Match is a resolution result. Confidence is a 0-100 score.
type Match struct {
	ChatID     int64
	Step       Step
	Confidence int
}

// IsGenericName reports whether name is a recognized placeholder
// (case-insensitive, trimmed).
func IsGenericName(name string) bool {
	_, ok := genericNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Overlap computes |A∩B| / min(|A|,|B|). Two empty sets overlap fully;
// one empty set against a non-empty one does not overlap at all.
func Overlap(a, b *strset.Set) float64 {
	sizeA, sizeB := setSize(a), setSize(b)
	if sizeA == 0 && sizeB == 0 {
		return 1
	}
	if sizeA == 0 || sizeB == 0 {
		return 0
	}
	inter := strset.Intersection(a, b).Size()
	return float64(inter) / float64(min(sizeA, sizeB))
}

// Resolve picks the chat a transcript should merge into, or nil to create a
// new one. Rules are evaluated in strict priority order, first hit wins:
// exact non-generic name match, then best participant overlap >= 0.5, then
// the first generic-named chat with any overlap. Candidate order is made
// deterministic by sorting on chat id ascending, which also breaks overlap
// ties (lowest id wins).
func Resolve(candidates []Candidate, nameGuess string, participants *strset.Set) *Match {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChatID < ordered[j].ChatID })

	// 1. Exact name match.
	if !IsGenericName(nameGuess) {
		guess := strings.ToLower(strings.TrimSpace(nameGuess))
		for _, c := range ordered {
			if strings.ToLower(strings.TrimSpace(c.Name)) == guess {
				return &Match{ChatID: c.ChatID, Step: StepName, Confidence: 95}
			}
		}
	}

	// 2. Best participant overlap above threshold. Strictly-greater keeps the
	// lowest chat id on ties.
	best := -1
	bestOverlap := 0.0
	for i, c := range ordered {
		ov := Overlap(c.Participants, participants)
		if ov >= overlapThreshold && ov > bestOverlap {
			best = i
			bestOverlap = ov
		}
	}
	if best >= 0 {
		return &Match{
			ChatID:     ordered[best].ChatID,
			Step:       StepOverlap,
			Confidence: int(math.Round(bestOverlap * 100)),
		}
	}

	// 3. First generic-named chat with nonzero overlap.
	for _, c := range ordered {
		if !IsGenericName(c.Name) {
			continue
		}
		if ov := Overlap(c.Participants, participants); ov > 0 {
			return &Match{
				ChatID:     c.ChatID,
				Step:       StepGeneric,
				Confidence: int(math.Round(ov * 70)),
			}
		}
	}

	return nil
}

func setSize(s *strset.Set) int {
	if s == nil {
		return 0
	}
	return s.Size()
}
