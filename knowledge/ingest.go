// Package knowledge builds the website knowledge base: it crawls the site,
// splits page text into chunks and stores their embeddings in a vector
// collection that the agent searches.
package knowledge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
	defaultBatchSize    = 50
)

// ErrNoContent is returned when the crawl produced no text to index.
var ErrNoContent = errors.New("knowledge: crawl produced no indexable text")

// PageSource returns the pages reachable from seed.
type PageSource interface {
	Crawl(ctx context.Context, seed string) ([]Page, error)
}

// Job is the one-shot ingestion of a website into a vector collection.
type Job struct {
	source    PageSource
	store     vectorstores.VectorStore
	splitter  textsplitter.TextSplitter
	batchSize int
	log       *zap.Logger
}

// Stats summarizes an ingestion run.
type Stats struct {
	Pages   int
	Chunks  int
	Elapsed time.Duration
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithChunking sets the chunk size and overlap, in characters.
func WithChunking(size, overlap int) JobOption {
	return func(j *Job) {
		if size <= 0 {
			return
		}
		if overlap < 0 || overlap >= size {
			overlap = 0
		}
		j.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		)
	}
}

// WithBatchSize sets how many chunks are embedded and stored per call.
func WithBatchSize(n int) JobOption {
	return func(j *Job) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

func WithJobLogger(l *zap.Logger) JobOption {
	return func(j *Job) {
		if l != nil {
			j.log = l
		}
	}
}

func NewJob(source PageSource, store vectorstores.VectorStore, opts ...JobOption) *Job {
	j := &Job{
		source:    source,
		store:     store,
		batchSize: defaultBatchSize,
		log:       zap.NewNop(),
	}
	WithChunking(defaultChunkSize, defaultChunkOverlap)(j)
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run crawls seed and adds every chunk to the store. Any error leaves the
// knowledge base unusable and should stop startup.
func (j *Job) Run(ctx context.Context, seed string) (Stats, error) {
	start := time.Now()

	pages, err := j.source.Crawl(ctx, seed)
	if err != nil {
		return Stats{}, fmt.Errorf("crawl %s: %w", seed, err)
	}

	var chunks []schema.Document
	for _, page := range pages {
		docs, err := documentloaders.NewHTML(bytes.NewReader(page.HTML)).LoadAndSplit(ctx, j.splitter)
		if err != nil {
			j.log.Warn("Failed to extract page text", zap.String("url", page.URL), zap.Error(err))
			continue
		}
		for _, doc := range docs {
			doc.PageContent = strings.TrimSpace(doc.PageContent)
			if doc.PageContent == "" {
				continue
			}
			if doc.Metadata == nil {
				doc.Metadata = map[string]any{}
			}
			doc.Metadata["url"] = page.URL
			chunks = append(chunks, doc)
		}
	}
	if len(chunks) == 0 {
		return Stats{}, ErrNoContent
	}

	for i := 0; i < len(chunks); i += j.batchSize {
		end := min(i+j.batchSize, len(chunks))
		if _, err := j.store.AddDocuments(ctx, chunks[i:end]); err != nil {
			return Stats{}, fmt.Errorf("store chunks %d-%d: %w", i, end, err)
		}
	}

	stats := Stats{Pages: len(pages), Chunks: len(chunks), Elapsed: time.Since(start)}
	j.log.Info("Knowledge base loaded",
		zap.String("seed", seed),
		zap.Int("pages", stats.Pages),
		zap.Int("chunks", stats.Chunks),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}
