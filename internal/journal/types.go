package journal

import (
	"encoding/json"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// Journal Type Definitions
// Responsibility: Define the events recorded between snapshots
// ============================================================================

// EventType defines journal event types
type EventType string

const (
	EventSplit     EventType = "SPLIT"     // Split result recorded (carries partition descriptors)
	EventPartition EventType = "PARTITION" // Partition result recorded
	EventState     EventType = "STATE"     // Job state changed
)

// Event represents a journal record
type Event struct {
	Seq       uint64      `json:"seq"`       // Event sequence number (monotonically increasing across segments)
	Type      EventType   `json:"type"`      // Event type
	JobID     types.JobID `json:"job_id"`    // Job the event belongs to
	Timestamp int64       `json:"timestamp"` // Unix millisecond timestamp

	Partition  int               `json:"partition,omitempty"`
	Score      float64           `json:"score,omitempty"`
	Location   string            `json:"location,omitempty"`
	FinishedAt int64             `json:"finished_at,omitempty"`
	Divisions  []json.RawMessage `json:"divisions,omitempty"`
	State      types.JobState    `json:"state,omitempty"`

	Checksum uint32 `json:"checksum"` // CRC32 over the event with Checksum zeroed
}

// EventHandler is the function type for processing journal events during Replay
type EventHandler func(event Event) error
