package store

import "time"

// Document is a stored PDF. Documents are never updated.
type Document struct {
	ID                  int64      `json:"id"`
	CreatedOn           time.Time  `json:"created_on"`
	PDFCreationDatetime *time.Time `json:"pdf_creation_datetime"`
	Title               string     `json:"title"`
	Filename            string     `json:"filename"`
	URL                 string     `json:"url"`
	Data                []byte     `json:"data,omitempty"`
	DataSHA512          string     `json:"data_sha512"`
	// CapturedAt is the archive capture time for documents found by a
	// historical replay.
	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// Candidate is a fetched document not yet checked against the store.
type Candidate struct {
	Title               string
	Filename            string
	URL                 string
	Data                []byte
	DataSHA512          string // advisory; Insert recomputes it
	PDFCreationDatetime *time.Time
	CapturedAt          *time.Time
}

// Run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunError   = "error"
)

// Run kinds.
const (
	KindLive    = "live"
	KindWayback = "wayback"
)

// Run is one logged trigger execution.
type Run struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Trigger      string     `json:"trigger"`
	PageURL      string     `json:"page_url"`
	Extension    string     `json:"extension"`
	Status       string     `json:"status"`
	Links        int        `json:"links"`
	Inserted     int        `json:"inserted"`
	Duplicates   int        `json:"duplicates"`
	NotFound     int        `json:"not_found"`
	Failed       int        `json:"failed"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
