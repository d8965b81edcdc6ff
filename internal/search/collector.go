package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"corpusbot/internal/models"
)

// Processor is the pipeline entry point chunks are fed into.
type Processor interface {
	Process(ctx context.Context, text string, mode models.Mode) models.Outcome
}

// Chunk is one slice of a fetched page.
type Chunk struct {
	Query   string
	Title   string
	URL     string
	Index   int
	Content string
}

// InputText renders the chunk as pipeline input.
func (c Chunk) InputText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search Query: %s\n\n", c.Query)
	fmt.Fprintf(&sb, "Source Title: %s\n", c.Title)
	fmt.Fprintf(&sb, "Source URL: %s\n\n", c.URL)
	fmt.Fprintf(&sb, "Content: %s\n\n", c.Content)
	sb.WriteString("Describe this topic in detail as the Legendary King of Ancient Sri Lanka.")
	return sb.String()
}

// Progress is a running summary of one collection.
type Progress struct {
	Query        string        `json:"query"`
	TotalURLs    int           `json:"total_urls"`
	Processed    int           `json:"processed"`
	Irrelevant   int           `json:"irrelevant"`
	Failed       int           `json:"failed"`
	Successful   int           `json:"successful"`
	Chunks       int           `json:"chunks"`
	EntriesAdded int           `json:"entries_added"`
	Count        int           `json:"count"`
	CurrentURL   string        `json:"current_url,omitempty"`
	Incidents    []string      `json:"incidents,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// CollectorConfig tunes a collection run.
type CollectorConfig struct {
	MaxResults     int
	MaxConcurrency int
	ChunkWords     int
	RequestDelay   time.Duration // pause after each page
}

// Collector runs search → fetch → extract → chunk → pipeline.
type Collector struct {
	searcher  Searcher
	fetcher   Fetcher
	processor Processor
	cfg       CollectorConfig
	logger    *zap.Logger
}

func NewCollector(searcher Searcher, fetcher Fetcher, processor Processor, cfg CollectorConfig, logger *zap.Logger) *Collector {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.ChunkWords <= 0 {
		cfg.ChunkWords = 100
	}
	return &Collector{
		searcher:  searcher,
		fetcher:   fetcher,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
	}
}

// Collect processes up to limit pages for query, or MaxResults when limit
// is not positive. onProgress, if set, receives a snapshot after every
// state change; calls are serialized.
func (c *Collector) Collect(ctx context.Context, query string, limit int, onProgress func(Progress)) (Progress, error) {
	if limit <= 0 {
		limit = c.cfg.MaxResults
	}
	start := time.Now()
	state := &progressState{p: Progress{Query: query}, notify: onProgress, start: start}

	results, err := c.searcher.Search(ctx, query, limit)
	if err != nil {
		return state.snapshot(), fmt.Errorf("search %q: %w", query, err)
	}
	state.update(func(p *Progress) { p.TotalURLs = len(results) })

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrency)

	for _, r := range results {
		g.Go(func() error {
			c.collectPage(ctx, query, r, state)
			if c.cfg.RequestDelay > 0 {
				select {
				case <-time.After(c.cfg.RequestDelay):
				case <-ctx.Done():
				}
			}
			return ctx.Err()
		})
	}

	err = g.Wait()
	final := state.snapshot()
	c.logger.Info("Search collection finished",
		zap.String("query", query),
		zap.Int("urls", final.TotalURLs),
		zap.Int("successful", final.Successful),
		zap.Int("failed", final.Failed),
		zap.Int("chunks", final.Chunks),
		zap.Int("entries_added", final.EntriesAdded),
		zap.Duration("elapsed", final.Elapsed))
	return final, err
}

func (c *Collector) collectPage(ctx context.Context, query string, r Result, state *progressState) {
	state.update(func(p *Progress) { p.CurrentURL = r.URL })

	if !TitleRelated(query, r.Title) {
		c.logger.Debug("Skipping unrelated result", zap.String("url", r.URL), zap.String("title", r.Title))
		state.update(func(p *Progress) { p.Processed++; p.Irrelevant++ })
		return
	}

	chunks, err := c.PageChunks(ctx, query, r)
	if err != nil || len(chunks) == 0 {
		c.logger.Warn("No usable content", zap.String("url", r.URL), zap.Error(err))
		state.update(func(p *Progress) { p.Processed++; p.Failed++ })
		return
	}

	state.update(func(p *Progress) { p.Chunks += len(chunks) })

	added := 0
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		out := c.processor.Process(ctx, chunk.InputText(), models.ModeData)
		state.update(func(p *Progress) {
			if out.Accepted() {
				p.EntriesAdded++
				if out.Count > p.Count {
					p.Count = out.Count
				}
			}
			if out.IncidentCode != "" {
				p.Incidents = append(p.Incidents, out.IncidentCode)
			}
		})
		if out.Accepted() {
			added++
		}
	}

	state.update(func(p *Progress) {
		p.Processed++
		if added > 0 {
			p.Successful++
		} else {
			p.Failed++
		}
	})
}

// PageChunks fetches one result and splits its text into chunks.
func (c *Collector) PageChunks(ctx context.Context, query string, r Result) ([]Chunk, error) {
	doc, err := c.fetcher.Fetch(ctx, r.URL)
	if err != nil {
		return nil, err
	}
	page, err := ExtractText(doc)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", r.URL, err)
	}

	title := r.Title
	if title == "" {
		title = page.Title
	}

	parts := SplitChunks(page.Text, c.cfg.ChunkWords)
	chunks := make([]Chunk, len(parts))
	for i, content := range parts {
		chunks[i] = Chunk{Query: query, Title: title, URL: r.URL, Index: i, Content: content}
	}
	return chunks, nil
}

type progressState struct {
	mu     sync.Mutex
	p      Progress
	start  time.Time
	notify func(Progress)
}

func (s *progressState) update(fn func(*Progress)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.p)
	s.p.Elapsed = time.Since(s.start)
	if s.notify != nil {
		s.notify(s.copyLocked())
	}
}

func (s *progressState) snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p.Elapsed = time.Since(s.start)
	return s.copyLocked()
}

func (s *progressState) copyLocked() Progress {
	p := s.p
	p.Incidents = append([]string(nil), s.p.Incidents...)
	return p
}
