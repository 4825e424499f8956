// Package pdfwatch watches a web page for linked documents and keeps an
// add-only archive of every distinct file it has seen.
//
// A Service owns the store, the scraper, the dedup pipeline and the
// periodic trigger. Runs can be started by the scheduler, the HTTP API, the
// CLI or MCP; identical concurrent triggers share one execution.
package pdfwatch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/fetch"
	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/pipeline"
	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/scheduler"
	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/scrape"
	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/store"
)

// Service is the pdfwatch orchestrator.
type Service struct {
	store     *store.Store
	scraper   *scrape.Scraper
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	cache     *expirable.LRU[int64, *Document]
	flight    singleflight.Group
	logger    *slog.Logger
	config    *Config
	newID     func() string
	now       func() time.Time

	// ctx bounds every run; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	// runs tracks executions so Close waits for their run rows.
	mu     sync.Mutex
	closed bool
	runs   sync.WaitGroup

	urlValidator func(string) error
	transport    http.RoundTripper
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithIDGenerator overrides run id generation (default: UUIDv7).
func WithIDGenerator(fn func() string) ServiceOption {
	return func(s *Service) { s.newID = fn }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) { s.now = fn }
}

// WithURLValidator overrides the outbound URL check.
func WithURLValidator(fn func(string) error) ServiceOption {
	return func(s *Service) { s.urlValidator = fn }
}

// WithTransport overrides the outbound HTTP transport.
func WithTransport(rt http.RoundTripper) ServiceOption {
	return func(s *Service) { s.transport = rt }
}

// New creates a Service on an opened store.
func New(st *store.Store, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("pdfwatch: nil store")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		store:  st,
		logger: logger,
		config: cfg,
		newID:  newRunID,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.urlValidator == nil {
		if cfg.Fetch.AllowPrivate {
			svc.urlValidator = fetch.AllowPrivate
		} else {
			svc.urlValidator = fetch.ValidateURL
		}
	}
	svc.ctx, svc.cancel = context.WithCancel(context.Background())

	fc := fetch.Config{
		Timeout:      cfg.Fetch.Timeout,
		MaxBytes:     cfg.Fetch.MaxBytes,
		UserAgent:    cfg.Fetch.UserAgent,
		Retries:      cfg.Fetch.Retries,
		RetryBackoff: cfg.Fetch.RetryBackoff,
		URLValidator: svc.urlValidator,
		Transport:    svc.transport,
	}
	f := fetch.New(fc, logger)
	wc := fc
	wc.UserAgent = cfg.Wayback.UserAgent
	wf := fetch.New(wc, logger)

	wb := scrape.NewWayback(wf, cfg.Wayback.CDXURL, cfg.Wayback.ArchiveBase)
	svc.scraper = scrape.New(&splitFetcher{live: f, archive: wf, archiveHost: hostOf(cfg.Wayback.ArchiveBase)}, wb, logger)
	svc.pipeline = pipeline.New(st, logger)
	svc.cache = expirable.NewLRU[int64, *Document](cfg.Cache.Size, nil, cfg.Cache.TTL)
	svc.scheduler = scheduler.New(func(ctx context.Context) error {
		_, err := svc.Run(ctx, TriggerSchedule, "", "")
		return err
	}, scheduler.Config{
		Interval:   cfg.Schedule.Interval,
		RunOnStart: cfg.Schedule.RunOnStart,
	}, logger)

	return svc, nil
}

// Open opens the store at cfg.DBPath and creates a Service on it.
// Close releases both.
func Open(cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	st, err := store.Open(cfg.DBPath, store.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	svc, err := New(st, cfg, logger, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return svc, nil
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

// Start launches the scheduler in a goroutine unless disabled. It returns
// immediately.
func (s *Service) Start(ctx context.Context) {
	if s.config.Schedule.Disabled {
		s.logger.Info("pdfwatch: scheduler disabled")
		return
	}
	go s.scheduler.Run(ctx)
}

// RunScheduler runs the scheduler in the calling goroutine until ctx is done.
func (s *Service) RunScheduler(ctx context.Context) error {
	if s.config.Schedule.Disabled {
		s.logger.Info("pdfwatch: scheduler disabled")
		<-ctx.Done()
		return nil
	}
	s.scheduler.Run(ctx)
	return nil
}

// Close cancels in-flight runs, waits for them to record their outcome and
// closes the store. Runs triggered afterwards fail with ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.runs.Wait()
	return s.store.Close()
}

// Migrate applies pending schema migrations and returns the resulting version.
func (s *Service) Migrate() (uint, error) {
	if err := s.store.MigrateUp(); err != nil {
		return 0, err
	}
	v, _, err := s.store.Version()
	return v, err
}

// GetDocument returns a stored document or ErrNotFound. Documents are
// immutable, so hits are served from an in-memory cache.
func (s *Service) GetDocument(ctx context.Context, id int64) (*Document, error) {
	if doc, ok := s.cache.Get(id); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return doc, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()
	doc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, doc)
	return doc, nil
}

// ListDocuments returns documents ordered by id. limit <= 0 means the
// store default (1000).
func (s *Service) ListDocuments(ctx context.Context, offset, limit int) ([]*Document, error) {
	return s.store.List(ctx, offset, limit)
}

// CountDocuments returns the number of stored documents.
func (s *Service) CountDocuments(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// ListHashes returns the content hash of every stored document, ordered by id.
func (s *Service) ListHashes(ctx context.Context) ([]string, error) {
	return s.store.ListHashes(ctx)
}

// ListRuns returns the most recent runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	return s.store.ListRuns(ctx, limit)
}

// Run scrapes the current state of pageURL for links ending in "."+ext and
// ingests unseen documents. Empty arguments fall back to the configured
// target. Concurrent calls for the same page and extension share one run.
func (s *Service) Run(ctx context.Context, trigger, pageURL, ext string) (*RunReport, error) {
	return s.trigger(ctx, store.KindLive, trigger, pageURL, ext)
}

// RunHistorical replays every archived capture of pageURL within the
// configured years, oldest first, feeding each to the pipeline.
func (s *Service) RunHistorical(ctx context.Context, trigger, pageURL, ext string) (*RunReport, error) {
	return s.trigger(ctx, store.KindWayback, trigger, pageURL, ext)
}

func (s *Service) trigger(ctx context.Context, kind, trigger, pageURL, ext string) (*RunReport, error) {
	pageURL, ext, err := s.target(pageURL, ext)
	if err != nil {
		return nil, err
	}
	if trigger == "" {
		trigger = TriggerManual
	}

	key := kind + "|" + ext + "|" + pageURL
	ch := s.flight.DoChan(key, func() (any, error) {
		return s.execute(kind, trigger, pageURL, ext)
	})

	select {
	case <-ctx.Done():
		// The run keeps going for the other callers and the run log.
		return nil, ctx.Err()
	case res := <-ch:
		rep, _ := res.Val.(*RunReport)
		if rep != nil {
			cp := *rep
			cp.Shared = res.Shared
			rep = &cp
		}
		return rep, res.Err
	}
}

func (s *Service) target(pageURL, ext string) (string, string, error) {
	if pageURL == "" {
		pageURL = s.config.Target.PageURL
	}
	if ext == "" {
		ext = s.config.Target.Extension
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" || strings.ContainsAny(ext, "/?#") {
		return "", "", fmt.Errorf("%w: extension %q", ErrInvalidInput, ext)
	}
	if _, err := fetch.CheckScheme(pageURL); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return pageURL, ext, nil
}

// tally counts per-link outcomes of a run.
type tally struct {
	links, notFound, failed int
}

// candidates adapts scraper items to the pipeline, counting the items
// that carry no candidate.
func (t *tally) candidates(items iter.Seq[scrape.Item]) iter.Seq[*store.Candidate] {
	return func(yield func(*store.Candidate) bool) {
		for it := range items {
			t.links++
			switch it.Outcome {
			case scrape.OutcomeNotFound:
				t.notFound++
				continue
			case scrape.OutcomeFailed:
				t.failed++
				continue
			}
			if !yield(it.Candidate) {
				return
			}
		}
	}
}

func (s *Service) execute(kind, trigger, pageURL, ext string) (*RunReport, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.runs.Add(1)
	s.mu.Unlock()
	defer s.runs.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.config.RunTimeout)
	defer cancel()

	run := &Run{
		ID:        s.newID(),
		Kind:      kind,
		Trigger:   trigger,
		PageURL:   pageURL,
		Extension: ext,
		Status:    store.RunRunning,
		StartedAt: s.now().UTC(),
	}
	log := s.logger.With("run_id", run.ID, "kind", kind, "trigger", trigger, "page", pageURL)
	if err := s.store.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("pdfwatch: %w", err)
	}
	log.Info("pdfwatch: run started")

	rep := &RunReport{Run: run}
	var t tally
	var err error
	switch kind {
	case store.KindWayback:
		err = s.replay(ctx, log, rep, &t, pageURL, ext)
	default:
		err = s.scrapeOnce(ctx, rep, &t, pageURL, ext)
	}

	run.Links, run.NotFound, run.Failed = t.links, t.notFound, t.failed
	finished := s.now().UTC()
	run.FinishedAt = &finished
	run.Status = store.RunOK
	if err != nil {
		run.Status = store.RunError
		run.ErrorMessage = err.Error()
	}

	// Record the outcome even if the run was cancelled.
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer fcancel()
	if ferr := s.store.FinishRun(fctx, run); ferr != nil {
		log.Warn("pdfwatch: finish run", "error", ferr)
	}

	runsTotal.WithLabelValues(kind, run.Status).Inc()
	runDuration.WithLabelValues(kind).Observe(finished.Sub(run.StartedAt).Seconds())
	log.Info("pdfwatch: run finished",
		"status", run.Status,
		"links", run.Links,
		"inserted", run.Inserted,
		"duplicates", run.Duplicates,
		"not_found", run.NotFound,
		"failed", run.Failed,
		"duration_ms", finished.Sub(run.StartedAt).Milliseconds())

	return rep, err
}

func (s *Service) scrapeOnce(ctx context.Context, rep *RunReport, t *tally, pageURL, ext string) error {
	items, err := s.scraper.Candidates(ctx, pageURL, ext)
	if err != nil {
		return err
	}
	res, err := s.pipeline.Ingest(ctx, t.candidates(items))
	rep.add(res)
	if err != nil {
		return err
	}
	// The link sequence stops silently on cancellation; links may be left.
	return ctx.Err()
}

func (s *Service) replay(ctx context.Context, log *slog.Logger, rep *RunReport, t *tally, pageURL, ext string) error {
	from, to := s.config.waybackRange()
	snaps, n, err := s.scraper.CandidatesOverTime(ctx, pageURL, ext, scrape.HistoryOptions{
		From:  from,
		To:    to,
		Delay: s.config.Wayback.Delay,
	})
	if err != nil {
		return err
	}
	rep.Snapshots = n

	for si := range snaps {
		snapLog := log.With("snapshot", si.Snapshot.Timestamp.Format(time.RFC3339))
		if si.Err != nil {
			snapLog.Warn("pdfwatch: snapshot skipped", "error", si.Err)
			continue
		}
		res, err := s.pipeline.Ingest(ctx, t.candidates(si.Items))
		rep.add(res)
		if err != nil {
			return err
		}
		snapLog.Debug("pdfwatch: snapshot ingested", "inserted", res.Inserted, "duplicates", res.Duplicates)
	}
	return ctx.Err()
}

func (r *RunReport) add(res *pipeline.Result) {
	if res == nil {
		return
	}
	r.Inserted += res.Inserted
	r.Duplicates += res.Duplicates
	r.DocumentIDs = append(r.DocumentIDs, res.IDs...)
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func newRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// splitFetcher sends archive traffic through the fetcher configured with the
// archive user agent.
type splitFetcher struct {
	live, archive scrape.Fetcher
	archiveHost   string
}

func (f *splitFetcher) Get(ctx context.Context, rawURL string) (*fetch.Result, error) {
	if f.archiveHost != "" {
		if u, err := url.Parse(rawURL); err == nil && u.Host == f.archiveHost {
			return f.archive.Get(ctx, rawURL)
		}
	}
	return f.live.Get(ctx, rawURL)
}

func hostOf(base string) string {
	if base == "" {
		base = scrape.DefaultArchiveBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return u.Host
}
