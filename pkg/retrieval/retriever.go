package retrieval

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Querier is the collection query surface the retriever fans out over.
type Querier interface {
	Query(ctx context.Context, query, collection string, topK int) ([]Chunk, error)
}

// Retriever fetches context chunks from multiple collections in parallel
// and merges them into a single ranked bundle. Collection failures are
// absorbed: they shrink the bundle, never fail the task.
type Retriever struct {
	querier     Querier
	timeout     time.Duration
	maxParallel int
	logger      func(format string, args ...any)
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithCollectionTimeout bounds each per-collection query.
func WithCollectionTimeout(d time.Duration) RetrieverOption {
	return func(r *Retriever) {
		r.timeout = d
	}
}

// WithMaxParallel sets the maximum parallel collection queries.
func WithMaxParallel(max int) RetrieverOption {
	return func(r *Retriever) {
		r.maxParallel = max
	}
}

// WithRetrieverLogger overrides the retriever's log output.
func WithRetrieverLogger(logger func(format string, args ...any)) RetrieverOption {
	return func(r *Retriever) {
		r.logger = logger
	}
}

// NewRetriever creates a Retriever over the given querier.
func NewRetriever(querier Querier, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		querier:     querier,
		timeout:     10 * time.Second,
		maxParallel: 4,
		logger:      log.Printf,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type fetchResult struct {
	collection string
	chunks     []Chunk
	err        error
}

// Fetch queries every collection for the query string and merges the
// results: concatenate, sort by score descending, collapse duplicate IDs
// (the later chunk in sort order wins), and cut to topK. A collection
// that fails or times out contributes nothing; partial and empty bundles
// are valid.
func (r *Retriever) Fetch(ctx context.Context, query string, collections []string, topK int) Bundle {
	if topK <= 0 {
		topK = 5
	}
	if len(collections) == 0 {
		return Bundle{}
	}

	results := make(chan fetchResult, len(collections))
	semaphore := make(chan struct{}, r.maxParallel)
	var wg sync.WaitGroup

	for _, collection := range collections {
		wg.Add(1)
		go func(collection string) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				results <- fetchResult{collection: collection, err: ctx.Err()}
				return
			}

			queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			chunks, err := r.querier.Query(queryCtx, query, collection, topK)
			results <- fetchResult{collection: collection, chunks: chunks, err: err}
		}(collection)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var merged []Chunk
	for result := range results {
		if result.err != nil {
			r.logger("[retrieval] collection %s failed: %v", result.collection, result.err)
			continue
		}
		merged = append(merged, result.chunks...)
	}

	return Bundle{Chunks: rank(merged, topK)}
}

// rank orders chunks by score descending, collapses duplicate IDs with the
// later occurrence in sort order replacing the earlier one, and truncates
// to topK.
func rank(chunks []Chunk, topK int) []Chunk {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})

	seen := make(map[string]int, len(chunks))
	deduped := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if idx, ok := seen[c.ID]; ok {
			deduped[idx] = c
			continue
		}
		seen[c.ID] = len(deduped)
		deduped = append(deduped, c)
	}

	if len(deduped) > topK {
		deduped = deduped[:topK]
	}
	return deduped
}
