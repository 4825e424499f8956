// Package scrape turns a web page into a lazy sequence of candidate
// documents: it fetches the page, selects the anchors pointing at files with
// the wanted extension, then downloads each file only when the consumer
// pulls it.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"

	"github.com/hazyhaar/pdfwatch/pdfmeta"
	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/fetch"
	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/store"
)

// Fetcher retrieves a URL. *fetch.Fetcher implements it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Result, error)
}

// Outcome classifies a link fetch.
type Outcome int

const (
	// OutcomeOK means Item.Candidate is populated.
	OutcomeOK Outcome = iota
	// OutcomeNotFound means the link answered 404 and was skipped.
	OutcomeNotFound
	// OutcomeFailed means the link could not be fetched; Item.Err is set.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Item is the result of fetching one link.
type Item struct {
	Link      Link
	Outcome   Outcome
	Candidate *store.Candidate
	Err       error
}

// Scraper produces candidates from live pages and archived snapshots.
type Scraper struct {
	fetcher Fetcher
	wayback *Wayback
	logger  *slog.Logger
}

// New creates a Scraper. wayback may be nil when historical replay is not used.
func New(f Fetcher, wayback *Wayback, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{fetcher: f, wayback: wayback, logger: logger}
}

// Candidates fetches pageURL and returns one Item per matching link, in
// document order. The page itself is fetched eagerly and its failure is
// returned as the error; links are fetched lazily during iteration. The
// sequence can be ranged over once.
func (s *Scraper) Candidates(ctx context.Context, pageURL, ext string) (iter.Seq[Item], error) {
	links, err := s.Links(ctx, pageURL, ext)
	if err != nil {
		return nil, err
	}
	s.logger.Info("scrape: page parsed", "page", pageURL, "links", len(links))

	return func(yield func(Item) bool) {
		for _, l := range links {
			if ctx.Err() != nil {
				return
			}
			if !yield(s.fetchLink(ctx, l)) {
				return
			}
		}
	}, nil
}

// Links fetches pageURL and extracts the matching links without fetching them.
func (s *Scraper) Links(ctx context.Context, pageURL, ext string) ([]Link, error) {
	if _, err := url.Parse(pageURL); err != nil {
		return nil, fmt.Errorf("scrape: page url: %w", err)
	}
	res, err := s.fetcher.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("scrape: fetch page %s: %w", pageURL, err)
	}
	// Relative links resolve against the final URL after redirects.
	base, err := url.Parse(res.URL)
	if err != nil || res.URL == "" {
		base, _ = url.Parse(pageURL)
	}
	links, err := ExtractLinks(res.Body, base, ext)
	if err != nil {
		return nil, fmt.Errorf("scrape: %s: %w", pageURL, err)
	}
	return links, nil
}

func (s *Scraper) fetchLink(ctx context.Context, l Link) Item {
	log := s.logger.With("url", l.URL)

	res, err := s.fetcher.Get(ctx, l.URL)
	if errors.Is(err, fetch.ErrNotFound) {
		log.Debug("scrape: link not found")
		return Item{Link: l, Outcome: OutcomeNotFound}
	}
	if err != nil {
		log.Warn("scrape: fetch link", "error", err)
		return Item{Link: l, Outcome: OutcomeFailed, Err: err}
	}

	c := &store.Candidate{
		Title:      l.Title,
		Filename:   l.Filename,
		URL:        l.URL,
		Data:       res.Body,
		DataSHA512: store.HashData(res.Body),
	}
	md, err := pdfmeta.Read(res.Body)
	if err != nil {
		log.Warn("scrape: unreadable pdf metadata", "error", err)
	} else {
		c.PDFCreationDatetime = md.CreationDate
	}
	return Item{Link: l, Outcome: OutcomeOK, Candidate: c}
}
