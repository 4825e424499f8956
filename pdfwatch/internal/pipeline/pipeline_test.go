package pipeline

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"

	"github.com/hazyhaar/pdfwatch/pdfwatch/internal/store"
)

func candidates(datas ...string) iter.Seq[*store.Candidate] {
	var cs []*store.Candidate
	for _, d := range datas {
		cs = append(cs, &store.Candidate{URL: "https://example.com/" + d + ".pdf", Filename: d + ".pdf", Data: []byte(d)})
	}
	return slices.Values(cs)
}

func TestIngest_Idempotent(t *testing.T) {
	// WHAT: The same batch ingested twice inserts once.
	// WHY: The scheduler re-scrapes the same page every hour.
	st := store.OpenMemory(t)
	p := New(st, nil)
	ctx := context.Background()

	res, err := p.Ingest(ctx, candidates("a", "b", "c"))
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if res.Inserted != 3 || res.Duplicates != 0 || len(res.IDs) != 3 {
		t.Fatalf("first ingest: %+v", res)
	}

	res, err = p.Ingest(ctx, candidates("a", "b", "c"))
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if res.Inserted != 0 || res.Duplicates != 3 {
		t.Fatalf("second ingest: %+v", res)
	}
	if n, _ := st.Count(ctx); n != 3 {
		t.Errorf("count: got %d", n)
	}
}

func TestIngest_DuplicateWithinBatch(t *testing.T) {
	// WHAT: Identical bytes twice in one batch are stored once.
	// WHY: Pages often link the same file from two places.
	st := store.OpenMemory(t)
	p := New(st, nil)

	res, err := p.Ingest(context.Background(), candidates("x", "y", "x"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Inserted != 2 || res.Duplicates != 1 {
		t.Fatalf("got %+v", res)
	}
}

func TestIngest_IgnoresCandidateHash(t *testing.T) {
	// WHAT: A candidate with a forged hash matching a stored document is still inserted.
	// WHY: Only the recomputed hash is trusted.
	st := store.OpenMemory(t)
	p := New(st, nil)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, candidates("stored")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	forged := &store.Candidate{URL: "https://example.com/new.pdf", Data: []byte("new"), DataSHA512: store.HashData([]byte("stored"))}
	res, err := p.Ingest(ctx, slices.Values([]*store.Candidate{forged}))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("got %+v", res)
	}
	doc, err := st.GetByID(ctx, res.IDs[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.DataSHA512 != store.HashData([]byte("new")) {
		t.Errorf("stored hash is not the hash of the data")
	}
}

func TestIngest_Concurrent(t *testing.T) {
	// WHAT: Parallel ingests of the same batch never duplicate content.
	// WHY: Manual and scheduled triggers can overlap.
	st := store.OpenMemory(t)
	p := New(st, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Ingest(ctx, candidates("a", "b", "c", "d"))
			if err != nil {
				t.Errorf("ingest: %v", err)
				return
			}
			mu.Lock()
			total += res.Inserted
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 4 {
		t.Errorf("total inserted: got %d, want 4", total)
	}
	if n, _ := st.Count(ctx); n != 4 {
		t.Errorf("count: got %d", n)
	}
}

func TestIngest_TwoPipelinesSameStore(t *testing.T) {
	// WHAT: A duplicate inserted between the lookup and the insert is counted, not fatal.
	// WHY: Separate processes share the database without sharing the mutex.
	st := store.OpenMemory(t)
	ctx := context.Background()

	// "late" is absent at lookup time and present at insert time.
	p := New(&racingStore{Store: st}, nil)
	res, err := p.Ingest(ctx, slices.Values([]*store.Candidate{{URL: "https://example.com/late.pdf", Data: []byte("late")}}))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Inserted != 0 || res.Duplicates != 1 {
		t.Fatalf("got %+v", res)
	}
}

// racingStore inserts the same content from "another writer" right after
// reporting it absent.
type racingStore struct {
	*store.Store
}

func (r *racingStore) Exists(ctx context.Context, hash string) (bool, error) {
	ok, err := r.Store.Exists(ctx, hash)
	if err == nil && !ok {
		_, err = r.Store.Insert(ctx, &store.Candidate{URL: "https://other/late.pdf", Data: []byte("late")})
	}
	return ok, err
}

type failingStore struct {
	inner   *store.Store
	failAt  int
	inserts int
}

func (f *failingStore) Exists(ctx context.Context, hash string) (bool, error) {
	return f.inner.Exists(ctx, hash)
}

func (f *failingStore) Insert(ctx context.Context, c *store.Candidate) (*store.Document, error) {
	f.inserts++
	if f.inserts == f.failAt {
		return nil, errors.New("disk full")
	}
	return f.inner.Insert(ctx, c)
}

func TestIngest_StoreErrorStops(t *testing.T) {
	// WHAT: A store failure aborts the batch; earlier inserts stay.
	// WHY: The error must reach the trigger instead of being swallowed.
	st := store.OpenMemory(t)
	fs := &failingStore{inner: st, failAt: 2}
	p := New(fs, nil)
	ctx := context.Background()

	res, err := p.Ingest(ctx, candidates("a", "b", "c"))
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Inserted != 1 {
		t.Errorf("partial result: got %+v", res)
	}
	if n, _ := st.Count(ctx); n != 1 {
		t.Errorf("count: got %d", n)
	}
	if fs.inserts != 2 {
		t.Errorf("should stop after failure, got %d inserts", fs.inserts)
	}
}

func TestIngest_ContextCancelled(t *testing.T) {
	// WHAT: A cancelled context stops consumption.
	// WHY: Shutdown must not wait for a long batch.
	st := store.OpenMemory(t)
	p := New(st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Ingest(ctx, candidates("a"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
