package pdfwatch

import (
	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/scrape"
	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/store"
)

// Re-export types for external consumers.
type (
	Document  = store.Document
	Candidate = store.Candidate
	Run       = store.Run
	Snapshot  = scrape.Snapshot
)

// Trigger names recorded in the run log.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
	TriggerMCP      = "mcp"
)

// Run kinds.
const (
	KindLive    = store.KindLive
	KindWayback = store.KindWayback
)

// RunReport is returned by Run and RunHistorical.
type RunReport struct {
	*Run
	// Snapshots is the number of archived captures replayed (wayback runs).
	Snapshots int `json:"snapshots,omitempty"`
	// DocumentIDs lists the ids inserted by this run.
	DocumentIDs []int64 `json:"document_ids,omitempty"`
	// Shared is true when the caller joined a run already in flight.
	Shared bool `json:"shared"`
}
