package ingest

import "time"

// EventKind discriminates progress events. Consumers switch on the kind and
// read only the fields that kind populates.
type EventKind string

const (
	EventStart                EventKind = "start"
	EventScanProgress         EventKind = "scan_progress"
	EventCopyProgress         EventKind = "copy_progress"
	EventDedupeHit            EventKind = "dedupe_hit"
	EventVerifyProgress       EventKind = "verify_progress"
	EventBackupStart          EventKind = "backup_start"
	EventBackupCopyProgress   EventKind = "backup_copy_progress"
	EventBackupVerifyProgress EventKind = "backup_verify_progress"
	EventSidecarProgress      EventKind = "sidecar_progress"
	EventTriageProgress       EventKind = "triage_progress"
	EventTriageDone           EventKind = "triage_done"
	EventReportGenerated      EventKind = "report_generated"
	EventDone                 EventKind = "done"
)

// Event is the tagged union carried by the progress protocol. Within the copy
// and verify phases FileIndex and Bytes are strictly monotonic.
type Event struct {
	Kind EventKind `json:"kind"`

	Path       string `json:"path,omitempty"`
	FileIndex  int    `json:"file_index,omitempty"`
	TotalFiles int    `json:"total_files,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
	TotalBytes int64  `json:"total_bytes,omitempty"`
	Message    string `json:"message,omitempty"`

	// Populated on done (and triage_done for the triage sub-run).
	Succeeded    int           `json:"succeeded,omitempty"`
	Failed       int           `json:"failed,omitempty"`
	Elapsed      time.Duration `json:"elapsed,omitempty"`
	SafeToFormat bool          `json:"safe_to_format,omitempty"`
}

// ProgressFunc receives progress events in phase order. A nil callback is
// valid; the engine swallows events.
type ProgressFunc func(Event)

func (f ProgressFunc) emit(e Event) {
	if f != nil {
		f(e)
	}
}
