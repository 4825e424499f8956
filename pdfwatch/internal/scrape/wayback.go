package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultCDXURL is the Wayback Machine capture index endpoint.
	DefaultCDXURL = "https://web.archive.org/cdx/search/cdx"
	// DefaultArchiveBase prefixes archived page URLs.
	DefaultArchiveBase = "https://web.archive.org"

	cdxTimestamp = "20060102150405"
)

// Snapshot is an archived capture of a page.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Original   string    `json:"original"`
	ArchiveURL string    `json:"archive_url"`
	Digest     string    `json:"digest,omitempty"`
}

// Wayback queries the Wayback Machine CDX index.
type Wayback struct {
	fetcher     Fetcher
	cdxURL      string
	archiveBase string
}

// NewWayback creates a CDX client. Empty URLs fall back to the public
// web.archive.org endpoints.
func NewWayback(f Fetcher, cdxURL, archiveBase string) *Wayback {
	if cdxURL == "" {
		cdxURL = DefaultCDXURL
	}
	if archiveBase == "" {
		archiveBase = DefaultArchiveBase
	}
	return &Wayback{
		fetcher:     f,
		cdxURL:      cdxURL,
		archiveBase: strings.TrimRight(archiveBase, "/"),
	}
}

// Snapshots lists the successful captures of pageURL between from and to,
// oldest first. Consecutive captures with identical content are collapsed
// by the index.
func (w *Wayback) Snapshots(ctx context.Context, pageURL string, from, to time.Time) ([]Snapshot, error) {
	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("output", "json")
	q.Set("fl", "timestamp,original,statuscode,digest")
	q.Set("filter", "statuscode:200")
	q.Set("collapse", "digest")
	if !from.IsZero() {
		q.Set("from", from.UTC().Format(cdxTimestamp))
	}
	if !to.IsZero() {
		q.Set("to", to.UTC().Format(cdxTimestamp))
	}

	res, err := w.fetcher.Get(ctx, w.cdxURL+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("wayback: cdx query: %w", err)
	}
	snaps, err := w.parseCDX(res.Body)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(snaps, func(a, b Snapshot) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return snaps, nil
}

// parseCDX decodes the JSON output of the CDX API: an array of rows whose
// first row names the columns.
func (w *Wayback) parseCDX(body []byte) ([]Snapshot, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var rows [][]string
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("wayback: decode cdx: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	tsCol, ok1 := col["timestamp"]
	origCol, ok2 := col["original"]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("wayback: cdx header lacks timestamp/original: %v", rows[0])
	}
	digestCol, hasDigest := col["digest"]

	snaps := make([]Snapshot, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= tsCol || len(row) <= origCol {
			continue
		}
		ts, err := time.Parse(cdxTimestamp, row[tsCol])
		if err != nil {
			continue
		}
		s := Snapshot{
			Timestamp:  ts,
			Original:   row[origCol],
			ArchiveURL: w.archiveBase + "/web/" + row[tsCol] + "/" + row[origCol],
		}
		if hasDigest && len(row) > digestCol {
			s.Digest = row[digestCol]
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// HistoryOptions bounds a historical replay.
type HistoryOptions struct {
	From, To time.Time
	// Delay is waited between two snapshot page fetches.
	Delay time.Duration
}

// SnapshotItems is the candidate source of one archived capture. When the
// archived page cannot be fetched, Err is set and Items is nil.
type SnapshotItems struct {
	Snapshot Snapshot
	Items    iter.Seq[Item]
	Err      error
}

// CandidatesOverTime lists the archived captures of pageURL and returns them
// in chronological order, each with its own lazy candidate sequence. Every
// candidate carries the capture time in CapturedAt. The snapshot index is
// queried eagerly; snapshot pages are fetched as the outer sequence advances.
func (s *Scraper) CandidatesOverTime(ctx context.Context, pageURL, ext string, opts HistoryOptions) (iter.Seq[SnapshotItems], int, error) {
	if s.wayback == nil {
		return nil, 0, fmt.Errorf("scrape: wayback client not configured")
	}
	snaps, err := s.wayback.Snapshots(ctx, pageURL, opts.From, opts.To)
	if err != nil {
		return nil, 0, err
	}
	s.logger.Info("scrape: wayback snapshots", "page", pageURL, "snapshots", len(snaps))

	return func(yield func(SnapshotItems) bool) {
		for i, snap := range snaps {
			if i > 0 && opts.Delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(opts.Delay):
				}
			}
			if ctx.Err() != nil {
				return
			}

			items, err := s.Candidates(ctx, snap.ArchiveURL, ext)
			if err != nil {
				if !yield(SnapshotItems{Snapshot: snap, Err: err}) {
					return
				}
				continue
			}
			captured := snap.Timestamp
			tagged := func(yield func(Item) bool) {
				for it := range items {
					if it.Candidate != nil {
						it.Candidate.CapturedAt = &captured
					}
					if !yield(it) {
						return
					}
				}
			}
			if !yield(SnapshotItems{Snapshot: snap, Items: tagged}) {
				return
			}
		}
	}, len(snaps), nil
}
