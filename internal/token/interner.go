package token

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
	"weak"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Interner canonicalises token text so repeated words across many files
// share one backing string.
type Interner interface {
	Intern(text string) Token
}

// NewInterner builds the interner named by kind: "none", "weak" or "lru".
// size bounds the lru variant and is ignored by the others.
func NewInterner(kind string, size int) (Interner, error) {
	switch kind {
	case "", "none":
		return PlainInterner{}, nil
	case "weak":
		return NewWeakInterner(), nil
	case "lru":
		return NewLRUInterner(size)
	default:
		return nil, fmt.Errorf("unknown interner %q", kind)
	}
}

// PlainInterner performs no caching.
type PlainInterner struct{}

func (PlainInterner) Intern(text string) Token {
	return New(text)
}

const (
	weakShards = 32
	// minCanonicalSize keeps canonical strings out of the tiny allocator so
	// each one owns its allocation and is reclaimed on its own.
	minCanonicalSize = 16
)

// WeakInterner maps word text to a weakly held canonical string. A token's
// text points into the canonical allocation, so the entry stays live exactly
// as long as some token still uses the word. Once none does, the garbage
// collector frees it and a cleanup drops the entry.
type WeakInterner struct {
	shards [weakShards]weakShard
}

type weakShard struct {
	mu      sync.Mutex
	entries map[uint64][]weakEntry
}

type weakEntry struct {
	ptr weak.Pointer[byte]
	n   int
}

type weakKey struct {
	hash uint64
	ptr  weak.Pointer[byte]
}

// NewWeakInterner returns an empty WeakInterner.
func NewWeakInterner() *WeakInterner {
	w := &WeakInterner{}
	for i := range w.shards {
		w.shards[i].entries = make(map[uint64][]weakEntry)
	}
	return w
}

func (w *WeakInterner) Intern(text string) Token {
	if text == "" {
		return New("")
	}
	h := xxhash.Sum64String(text)
	shard := &w.shards[h%weakShards]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	for _, e := range shard.entries[h] {
		if e.n != len(text) {
			continue
		}
		if p := e.ptr.Value(); p != nil {
			if canonical := unsafe.String(p, e.n); canonical == text {
				return New(canonical)
			}
		}
	}

	buf := make([]byte, max(len(text), minCanonicalSize))
	copy(buf, text)
	ptr := weak.Make(&buf[0])
	shard.entries[h] = append(shard.entries[h], weakEntry{ptr: ptr, n: len(text)})
	runtime.AddCleanup(&buf[0], w.evict, weakKey{hash: h, ptr: ptr})
	return New(unsafe.String(&buf[0], len(text)))
}

func (w *WeakInterner) evict(k weakKey) {
	shard := &w.shards[k.hash%weakShards]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	entries := shard.entries[k.hash]
	for i, e := range entries {
		if e.ptr == k.ptr {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(shard.entries, k.hash)
		return
	}
	shard.entries[k.hash] = entries
}

// Len returns the number of words still tracked. Words whose tokens have all
// been collected leave after the next garbage collection runs its cleanups.
func (w *WeakInterner) Len() int {
	n := 0
	for i := range w.shards {
		shard := &w.shards[i]
		shard.mu.Lock()
		for _, entries := range shard.entries {
			n += len(entries)
		}
		shard.mu.Unlock()
	}
	return n
}

// LRUInterner keeps at most size canonical strings, evicting the least
// recently interned. Evicted words still produce correct tokens; they just
// stop sharing storage with later occurrences.
type LRUInterner struct {
	cache  *lru.Cache[string, string]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLRUInterner returns an interner bounded to size entries.
func NewLRUInterner(size int) (*LRUInterner, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating lru interner: %w", err)
	}
	return &LRUInterner{
		cache: cache,
	}, nil
}

func (l *LRUInterner) Intern(text string) Token {
	if canonical, ok := l.cache.Get(text); ok {
		l.hits.Add(1)
		return New(canonical)
	}
	l.misses.Add(1)
	// Two goroutines may race here; both store equal strings so either wins.
	if prev, ok, _ := l.cache.PeekOrAdd(text, text); ok {
		return New(prev)
	}
	return New(text)
}

// Len returns the number of cached words.
func (l *LRUInterner) Len() int {
	return l.cache.Len()
}

// Stats returns cumulative hit and miss counts.
func (l *LRUInterner) Stats() (hits, misses int64) {
	return l.hits.Load(), l.misses.Load()
}
