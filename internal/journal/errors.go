package journal

// ============================================================================
// Journal Error Definitions
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptedJournal indicates a segment line cannot be parsed
	ErrCorruptedJournal = errors.New("journal: segment is corrupted")

	// ErrChecksumMismatch indicates checksum mismatch (data corruption or tampering)
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrJournalClosed indicates the journal is closed
	ErrJournalClosed = errors.New("journal: already closed")
)

// ChecksumError represents checksum error with detailed information
type ChecksumError struct {
	Segment  int
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch in segment %d at seq=%d (expected=0x%08x, got=0x%08x)",
		e.Segment, e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// CorruptionError represents an unparsable record
type CorruptionError struct {
	Segment int   // Segment number
	Line    int   // 1-based line within the segment
	Cause   error // Underlying error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted record in segment %d line %d: %v", e.Segment, e.Line, e.Cause)
}

func (e *CorruptionError) Unwrap() []error { return []error{ErrCorruptedJournal, e.Cause} }
