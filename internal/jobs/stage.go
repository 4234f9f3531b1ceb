// Package jobs runs bundle imports asynchronously and tracks their progress
// through a fixed stage lifecycle.
package jobs

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lucasmv/chatvault/internal/bus"
)

// Stage represents an import job's lifecycle stage.
type Stage string

const (
	Queued     Stage = "QUEUED"
	Extracting Stage = "EXTRACTING"
	Parsing    Stage = "PARSING"
	Importing  Stage = "IMPORTING"
	Completed  Stage = "COMPLETED"
	Failed     Stage = "FAILED"
)

// validTransitions defines allowed stage transitions. Every working stage may
// fail; the two terminal stages go nowhere.
var validTransitions = map[Stage][]Stage{
	Queued:     {Extracting, Failed},
	Extracting: {Parsing, Failed},
	Parsing:    {Importing, Failed},
	Importing:  {Completed, Failed},
	Completed:  {},
	Failed:     {},
}

// stagePercent maps each stage to the coarse completion percentage reported
// in status records. Terminal stages report 100: processing is over either
// way.
var stagePercent = map[Stage]int{
	Queued:     0,
	Extracting: 25,
	Parsing:    50,
	Importing:  75,
	Completed:  100,
	Failed:     100,
}

// Percent returns the stage's completion percentage.
func (s Stage) Percent() int {
	return stagePercent[s]
}

// Terminal reports whether a stage admits no further transitions.
func (s Stage) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// machine tracks and enforces one job's stage transitions.
type machine struct {
	mu      sync.RWMutex
	jobID   string
	current Stage
	bus     *bus.Bus
}

func newMachine(jobID string, b *bus.Bus) *machine {
	return &machine{jobID: jobID, current: Queued, bus: b}
}

func (m *machine) Current() Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new stage. Returns an error if the
// transition is invalid.
func (m *machine) Transition(to Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindJobProgress,
			Timestamp: time.Now(),
			Payload: StageChange{
				JobID: m.jobID,
				From:  from,
				To:    to,
			},
		})
	}
	return nil
}

// StageChange is the payload for job progress events.
type StageChange struct {
	JobID string
	From  Stage
	To    Stage
}
