package engine

import (
	"fmt"
	"strings"
	"time"
)

// SyncResult contains the results of a full vault sync.
type SyncResult struct {
	TotalNotes     int
	ProcessedNotes int
	SuccessCount   int
	FailureCount   int
	Duration       time.Duration
	Successes      []NoteResult
	Failures       []NoteFailure
}

// NoteResult contains the outcome of syncing a single note.
type NoteResult struct {
	Path     string
	RemoteID string
	Action   Action
}

// NoteFailure contains information about a note that failed to sync.
type NoteFailure struct {
	Path  string
	Error error
}

// NewSyncResult creates a new sync result.
func NewSyncResult() *SyncResult {
	return &SyncResult{
		Successes: make([]NoteResult, 0),
		Failures:  make([]NoteFailure, 0),
	}
}

// AddSuccess adds a successful note result.
func (sr *SyncResult) AddSuccess(result NoteResult) {
	sr.Successes = append(sr.Successes, result)
	sr.SuccessCount++
}

// AddError adds a failed note.
func (sr *SyncResult) AddError(path string, err error) {
	sr.Failures = append(sr.Failures, NoteFailure{Path: path, Error: err})
	sr.FailureCount++
}

// HasFailures returns true if there were any failures.
func (sr *SyncResult) HasFailures() bool {
	return sr.FailureCount > 0
}

// Summary returns a human-readable summary of the sync result.
func (sr *SyncResult) Summary() string {
	var sb strings.Builder

	sb.WriteString("Sync Summary:\n")
	sb.WriteString(fmt.Sprintf("  Total Notes: %d\n", sr.TotalNotes))
	sb.WriteString(fmt.Sprintf("  Processed: %d\n", sr.ProcessedNotes))
	sb.WriteString(fmt.Sprintf("  Successful: %d\n", sr.SuccessCount))
	sb.WriteString(fmt.Sprintf("  Failed: %d\n", sr.FailureCount))
	sb.WriteString(fmt.Sprintf("  Duration: %v\n", sr.Duration.Round(time.Millisecond)))

	if sr.HasFailures() {
		sb.WriteString("\nFailures:\n")
		for _, failure := range sr.Failures {
			sb.WriteString(fmt.Sprintf("  - %s: %v\n", failure.Path, failure.Error))
		}
	}
	return sb.String()
}

// VerifyReport contains the per-mapping outcomes of a reconciliation pass.
type VerifyReport struct {
	Verified int
	Resynced int
	Removed  int
	Failed   int
	Duration time.Duration
}

// Summary returns a human-readable summary of the reconciliation pass.
func (vr *VerifyReport) Summary() string {
	return fmt.Sprintf(
		"Verify Summary:\n  Verified: %d\n  Resynced: %d\n  Removed: %d\n  Failed: %d\n  Duration: %v\n",
		vr.Verified, vr.Resynced, vr.Removed, vr.Failed, vr.Duration.Round(time.Millisecond),
	)
}
