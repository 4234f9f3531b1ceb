package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds are dot-namespaced so subscribers can filter by prefix:
// "preview." for preview session lifecycle, "import." for completed
// imports, "job." for background job progress and "merge." for chat
// consolidation.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core components.
const (
	KindPreviewCreated = "preview.created"
	KindPreviewExpired = "preview.expired"
	KindImportDone     = "import.completed"
	KindJobProgress    = "job.progress"
	KindMergeDone      = "merge.completed"
)
