// Package resource defines the data model shared by the store, filter and
// handler packages: resources, their status codes, and worker records.
package resource

import "time"

// Status is the lifecycle state of a resource. The five codes and their
// integer values are part of the wire contract (they travel inside RESET
// frames and persisted files) and must not be renumbered.
type Status int

const (
	Error      Status = -2
	Failed     Status = -1
	Available  Status = 0
	InProgress Status = 1
	Succeeded  Status = 2
)

// String returns the upper-case name used on the wire (RESET{status:...}).
func (s Status) String() string {
	switch s {
	case Error:
		return "ERROR"
	case Failed:
		return "FAILED"
	case Available:
		return "AVAILABLE"
	case InProgress:
		return "INPROGRESS"
	case Succeeded:
		return "SUCCEEDED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus reverses Status.String, accepting the wire spelling used by
// RESET requests ("INPROGRESS", "FAILED", "ERROR", "SUCCEEDED").
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "ERROR":
		return Error, true
	case "FAILED":
		return Failed, true
	case "AVAILABLE":
		return Available, true
	case "INPROGRESS":
		return InProgress, true
	case "SUCCEEDED":
		return Succeeded, true
	default:
		return 0, false
	}
}

// Record is a single resource as returned by a store. Key is the store's
// internal handle (an int offset for memory/file stores, the primary key
// column's native type for dbstore) and is never exposed on the wire —
// only ID and Info travel to workers.
type Record struct {
	Key    any
	ID     any
	Status Status
	Info   map[string]any
}

// Counts is the tuple returned by Store.Count.
type Counts struct {
	Total      int
	Succeeded  int
	InProgress int
	Available  int
	Failed     int
	Error      int
}

// Timing holds the per-worker aggregate wait/processing timers and the
// counts of measurements they're built from.
type Timing struct {
	AgrServer        time.Duration
	AgrClient        time.Duration
	AgrCrawler       time.Duration
	TimingMeasures   int
	CrawlingMeasures int
}

// Worker is the coordinator's record of one connected (or just-disconnected)
// client connection. Its fields are mutated only by the worker's own
// handler goroutine. The removal-requested flag is not part of this record:
// the coordinator keeps it alongside, sets it under its remove-client lock
// from other goroutines (RM_CLIENTS, SHUTDOWN), and the owning handler
// reads it at its next GET_ID.
type Worker struct {
	ID          int
	Hostname    string
	IP          string
	Port        int
	PID         int
	ResourceKey any
	ResourceID  any
	Completed   int
	Start       time.Time
	LastRequest time.Time
	Timing      Timing
}

// HasResource reports whether the worker currently holds a leased resource.
func (w *Worker) HasResource() bool { return w.ResourceKey != nil }

// ClearResource drops the currently leased resource fields, called at the
// top of GET_ID handling before a new resource is selected.
func (w *Worker) ClearResource() {
	w.ResourceKey = nil
	w.ResourceID = nil
}
