// Package pipeline filters candidate documents against the store and
// inserts the unseen ones.
//
// One Ingest runs at a time per Pipeline. Each candidate is checked with an
// indexed lookup on its hash; hashes inserted during the batch are
// remembered so repeats within a batch skip the lookup. The store's unique
// index turns a racing insert from another writer into a skip.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/store"
)

// Store is the subset of *store.Store the pipeline needs.
type Store interface {
	Exists(ctx context.Context, hash string) (bool, error)
	Insert(ctx context.Context, c *store.Candidate) (*store.Document, error)
}

// Result summarizes one Ingest call.
type Result struct {
	Inserted   int     `json:"inserted"`
	Duplicates int     `json:"duplicates"`
	IDs        []int64 `json:"ids,omitempty"`
}

// Pipeline deduplicates and persists candidates.
type Pipeline struct {
	store  Store
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a Pipeline.
func New(st Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: st, logger: logger}
}

// Ingest consumes candidates and inserts those whose content hash is not
// stored yet. The hash is recomputed from the data; a value carried by the
// candidate is ignored. On a store error Ingest stops and returns the
// partial result: documents inserted before the failure stay stored.
func (p *Pipeline) Ingest(ctx context.Context, candidates iter.Seq[*store.Candidate]) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := &Result{}
	seen := make(map[string]struct{})

	for c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c == nil {
			continue
		}

		hash := store.HashData(c.Data)
		log := p.logger.With("url", c.URL, "sha512", hash[:16])

		dup := false
		if _, ok := seen[hash]; ok {
			dup = true
		} else {
			exists, err := p.store.Exists(ctx, hash)
			if err != nil {
				return res, fmt.Errorf("pipeline: lookup %s: %w", c.URL, err)
			}
			dup = exists
		}
		if dup {
			seen[hash] = struct{}{}
			res.Duplicates++
			ingestDocuments.WithLabelValues("duplicate").Inc()
			log.Debug("pipeline: duplicate")
			continue
		}

		doc, err := p.store.Insert(ctx, c)
		if errors.Is(err, store.ErrDuplicate) {
			// Inserted by another writer since the lookup.
			seen[hash] = struct{}{}
			res.Duplicates++
			ingestDocuments.WithLabelValues("duplicate").Inc()
			log.Debug("pipeline: duplicate (concurrent insert)")
			continue
		}
		if err != nil {
			return res, fmt.Errorf("pipeline: insert %s: %w", c.URL, err)
		}

		seen[hash] = struct{}{}
		res.Inserted++
		res.IDs = append(res.IDs, doc.ID)
		ingestDocuments.WithLabelValues("inserted").Inc()
		log.Info("pipeline: document stored", "id", doc.ID, "filename", doc.Filename, "bytes", len(doc.Data))
	}
	return res, nil
}
