// Package search keeps the inverted index in step with change events and
// answers word queries against it.
//
// Service is a watcher.Listener. OnChange only enqueues: file reads and index
// mutations run on a fixed pool of workers, with each path pinned to one
// worker so its events apply in order. Queries read the index directly and
// never wait on ingestion.
package search

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/index"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/search/cache"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/token"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/live-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
)

const (
	invalidateTimeout = 2 * time.Second

	defaultMaxAttempts = 3
	defaultRetryDelay  = 250 * time.Millisecond
)

// Stats is a point-in-time view of the service.
type Stats struct {
	Containers int    `json:"containers"`
	Tokens     int    `json:"tokens"`
	Workers    int    `json:"workers"`
	Pending    int    `json:"pending"`
	Applied    uint64 `json:"applied"`
	Failed     uint64 `json:"failed"`
	Retried    uint64 `json:"retried"`
}

// Option configures a Service.
type Option func(*Service)

// WithCache routes FindWord through c and evicts affected words on every
// index mutation.
func WithCache(c *cache.WordCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics records index and query metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service owns the worker pool that applies change events to the index.
type Service struct {
	idx       *index.Index
	tokenizer *token.Tokenizer
	cache     *cache.WordCache
	metrics   *metrics.Metrics
	logger    *slog.Logger

	maxAttempts int
	retryDelay  time.Duration

	mu     sync.RWMutex
	closed bool
	lanes  []*lane
	wg     sync.WaitGroup

	applied atomic.Uint64
	failed  atomic.Uint64
	retried atomic.Uint64
}

// New starts cfg.Workers workers applying events to idx. An event whose file
// cannot be read is tried up to cfg.RetryAttempts times, waiting
// cfg.RetryDelay and doubling between tries. Files that no longer exist are
// never retried.
func New(cfg config.IndexConfig, tokenizer *token.Tokenizer, idx *index.Index, opts ...Option) *Service {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &Service{
		idx:       idx,
		tokenizer: tokenizer,
		logger:    slog.Default().With("component", "search-service"),
		lanes:     newLanes(workers, queueSize),

		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	if cfg.RetryAttempts > 0 {
		s.maxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		s.retryDelay = cfg.RetryDelay
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, l := range s.lanes {
		s.wg.Add(1)
		go s.work(l)
	}
	s.logger.Info("search service started", "workers", workers, "queue_size", queueSize, "cache", s.cache != nil)
	return s
}

// OnChange queues event for the worker that owns its path. It blocks while
// that worker's queue is full. An event with an unknown kind is a programming
// error and panics.
func (s *Service) OnChange(event watcher.ChangeEvent) error {
	if !event.Kind.Valid() {
		panic(fmt.Sprintf("%v: %s for %s", apperrors.ErrUnknownChangeKind, event.Kind, event.Path))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("queueing %s: %w", event, apperrors.ErrClosed)
	}
	route(s.lanes, event.Path).jobs <- job{event: event}
	return nil
}

// FindWord returns the sorted paths of files containing word, or an empty
// slice if none do.
func (s *Service) FindWord(ctx context.Context, word string) ([]string, error) {
	start := time.Now()
	t := s.tokenizer.Query(word)

	var (
		result []string
		err    error
	)
	switch {
	case t.IsZero():
		result = []string{}
	case s.cache != nil:
		result, _, err = s.cache.Lookup(ctx, t.Text(), func() ([]string, error) {
			return s.idx.Search(t), nil
		})
	default:
		result = s.idx.Search(t)
	}

	if s.metrics != nil {
		s.metrics.SearchLatency.Observe(time.Since(start).Seconds())
		resultType := "hit"
		switch {
		case err != nil:
			resultType = "error"
		case len(result) == 0:
			resultType = "zero_result"
		}
		s.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("finding %q: %w", word, err)
	}
	return result, nil
}

// TokensOf returns the words currently indexed for path.
func (s *Service) TokensOf(path string) []string {
	tokens := s.idx.TokensOf(path)
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text()
	}
	return words
}

// Stats reports index size and worker backlog.
func (s *Service) Stats() Stats {
	return Stats{
		Containers: s.idx.Containers(),
		Tokens:     s.idx.Tokens(),
		Workers:    len(s.lanes),
		Pending:    pending(s.lanes),
		Applied:    s.applied.Load(),
		Failed:     s.failed.Load(),
		Retried:    s.retried.Load(),
	}
}

// Close stops accepting events and waits for queued ones to be applied.
// Retries still waiting on their delay are counted as failed.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, l := range s.lanes {
		close(l.jobs)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("search service stopped", "applied", s.applied.Load(), "failed", s.failed.Load())
	return nil
}

func (s *Service) work(l *lane) {
	defer s.wg.Done()
	for j := range l.jobs {
		s.apply(j)
	}
}

func (s *Service) apply(j job) {
	event := j.event
	var (
		affected []token.Token
		op       = event.Kind.String()
	)
	switch event.Kind {
	case watcher.Create:
		tokens, err := s.readTokens(event.Path)
		if err != nil {
			s.fail(j, err)
			return
		}
		affected = append(s.idx.TokensOf(event.Path), tokens...)
		s.idx.Ingest(tokens, event.Path)
	case watcher.Update:
		tokens, err := s.readTokens(event.Path)
		if err != nil {
			s.fail(j, err)
			return
		}
		delta, ok := s.idx.Update(tokens, event.Path)
		if !ok {
			// Missed the create (e.g. its read failed); start fresh.
			s.idx.Ingest(tokens, event.Path)
			affected = tokens
		} else {
			affected = append(delta.Added, delta.Removed...)
		}
	case watcher.Delete:
		affected = s.idx.Remove(event.Path)
	default:
		panic(fmt.Sprintf("%v: %s", apperrors.ErrUnknownChangeKind, event.Kind))
	}

	s.invalidate(affected)
	s.applied.Add(1)
	if s.metrics != nil {
		s.metrics.IndexOpsTotal.WithLabelValues(op, "success").Inc()
		s.metrics.IndexedContainers.Set(float64(s.idx.Containers()))
		s.metrics.IndexedTokens.Set(float64(s.idx.Tokens()))
	}
	s.logger.Debug("index updated", "path", event.Path, "kind", op, "affected_tokens", len(affected))
}

func (s *Service) readTokens(path string) ([]token.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.tokenizer.Tokenize(f)
}

func (s *Service) fail(j job, err error) {
	event := j.event
	if errors.Is(err, fs.ErrNotExist) {
		// A delete event for the path follows on the next cycle.
		s.giveUp(event)
		s.logger.Debug("file vanished before indexing", "path", event.Path, "kind", event.Kind.String())
		return
	}
	if j.attempt+1 < s.maxAttempts {
		delay := s.retryDelay << j.attempt
		s.retried.Add(1)
		s.logger.Debug("indexing failed, retrying", "path", event.Path, "kind", event.Kind.String(),
			"attempt", j.attempt+1, "delay", delay, "error", err)
		next := job{event: event, attempt: j.attempt + 1}
		time.AfterFunc(delay, func() { s.requeue(next) })
		return
	}
	s.giveUp(event)
	s.logger.Warn("indexing failed", "path", event.Path, "kind", event.Kind.String(),
		"attempts", j.attempt+1, "error", err)
}

// requeue sends a retried job back to its lane. A retry reads the file as it
// is now, so applying it after later events for the path still converges on
// the current content.
func (s *Service) requeue(j job) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.giveUp(j.event)
		return
	}
	route(s.lanes, j.event.Path).jobs <- j
}

func (s *Service) giveUp(event watcher.ChangeEvent) {
	s.failed.Add(1)
	if s.metrics != nil {
		s.metrics.IndexOpsTotal.WithLabelValues(event.Kind.String(), "error").Inc()
	}
}

func (s *Service) invalidate(affected []token.Token) {
	if s.cache == nil || len(affected) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(affected))
	words := make([]string, 0, len(affected))
	for _, t := range affected {
		if _, dup := seen[t.Text()]; dup {
			continue
		}
		seen[t.Text()] = struct{}{}
		words = append(words, t.Text())
	}
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	if err := s.cache.InvalidateWords(ctx, words); err != nil {
		s.logger.Warn("cache invalidation failed", "words", len(words), "error", err)
	}
}
