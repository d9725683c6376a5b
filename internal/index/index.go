// Package index implements the concurrent bidirectional inverted index. It
// keeps two maps that are inverses of each other:
//
//	forward: container -> set of tokens
//	reverse: token     -> set of containers
//
// Both maps are split into lock stripes selected by hashing the key, so
// operations on unrelated keys never contend on a shared lock. A compound
// operation holds the stripe lock of its container for its whole duration
// and takes each token's reverse stripe lock only while touching that token,
// which serialises operations on the same container while letting searches
// and other containers proceed.
package index

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/token"
	"github.com/cespare/xxhash/v2"
)

const stripeCount = 64

type tokenSet map[token.Token]struct{}

type containerSet map[string]struct{}

type forwardStripe struct {
	mu sync.RWMutex
	m  map[string]tokenSet
}

type reverseStripe struct {
	mu sync.RWMutex
	m  map[token.Token]containerSet
}

// Delta describes how an Update changed a container's token set.
type Delta struct {
	Added   []token.Token
	Removed []token.Token
}

// Index is safe for concurrent use.
type Index struct {
	forward    [stripeCount]forwardStripe
	reverse    [stripeCount]reverseStripe
	containers atomic.Int64
	tokens     atomic.Int64
}

// New returns an empty Index.
func New() *Index {
	idx := &Index{}
	for i := range idx.forward {
		idx.forward[i].m = make(map[string]tokenSet)
		idx.reverse[i].m = make(map[token.Token]containerSet)
	}
	return idx
}

// Ingest installs tokens as the complete token set of container. Ingesting a
// container that is already present replaces its set the same way Update
// does.
func (idx *Index) Ingest(tokens []token.Token, container string) {
	set := toSet(tokens)
	fs := idx.forwardFor(container)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if old, ok := fs.m[container]; ok {
		idx.applyDiff(container, old, set)
	} else {
		for t := range set {
			idx.addReverse(t, container)
		}
		idx.containers.Add(1)
	}
	fs.m[container] = set
}

// Update replaces the token set of container, touching the reverse map only
// for tokens that were added or removed. It is a no-op returning false when
// container was never ingested.
func (idx *Index) Update(tokens []token.Token, container string) (Delta, bool) {
	set := toSet(tokens)
	fs := idx.forwardFor(container)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	old, ok := fs.m[container]
	if !ok {
		return Delta{}, false
	}
	delta := idx.applyDiff(container, old, set)
	fs.m[container] = set
	return delta, true
}

// Remove deletes container and strips it from every token it owned. It
// returns the removed tokens, or nil if container was unknown.
func (idx *Index) Remove(container string) []token.Token {
	fs := idx.forwardFor(container)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	old, ok := fs.m[container]
	if !ok {
		return nil
	}
	delete(fs.m, container)
	idx.containers.Add(-1)

	removed := make([]token.Token, 0, len(old))
	for t := range old {
		idx.removeReverse(t, container)
		removed = append(removed, t)
	}
	sortTokens(removed)
	return removed
}

// Search returns a sorted snapshot of the containers holding t. The result is
// empty, never nil, when t is unknown.
func (idx *Index) Search(t token.Token) []string {
	rs := idx.reverseFor(t)
	rs.mu.RLock()
	containers := rs.m[t]
	result := make([]string, 0, len(containers))
	for c := range containers {
		result = append(result, c)
	}
	rs.mu.RUnlock()

	sort.Strings(result)
	return result
}

// TokensOf returns a sorted snapshot of the tokens attributed to container.
func (idx *Index) TokensOf(container string) []token.Token {
	fs := idx.forwardFor(container)
	fs.mu.RLock()
	set := fs.m[container]
	result := make([]token.Token, 0, len(set))
	for t := range set {
		result = append(result, t)
	}
	fs.mu.RUnlock()

	sortTokens(result)
	return result
}

// Contains reports whether container has been ingested.
func (idx *Index) Contains(container string) bool {
	fs := idx.forwardFor(container)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.m[container]
	return ok
}

// Containers returns the number of indexed containers.
func (idx *Index) Containers() int {
	return int(idx.containers.Load())
}

// Tokens returns the number of distinct tokens with at least one container.
func (idx *Index) Tokens() int {
	return int(idx.tokens.Load())
}

// applyDiff adds container to the reverse entry of every token in next but
// not in prev, then strips it from every token in prev but not in next.
// Additions go first so a token present in both sets is never observed
// missing. The caller holds the container's forward stripe lock.
func (idx *Index) applyDiff(container string, prev, next tokenSet) Delta {
	var delta Delta
	for t := range next {
		if _, ok := prev[t]; !ok {
			idx.addReverse(t, container)
			delta.Added = append(delta.Added, t)
		}
	}
	for t := range prev {
		if _, ok := next[t]; !ok {
			idx.removeReverse(t, container)
			delta.Removed = append(delta.Removed, t)
		}
	}
	sortTokens(delta.Added)
	sortTokens(delta.Removed)
	return delta
}

func (idx *Index) addReverse(t token.Token, container string) {
	rs := idx.reverseFor(t)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	set, ok := rs.m[t]
	if !ok {
		set = make(containerSet, 1)
		rs.m[t] = set
		idx.tokens.Add(1)
	}
	set[container] = struct{}{}
}

func (idx *Index) removeReverse(t token.Token, container string) {
	rs := idx.reverseFor(t)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	set, ok := rs.m[t]
	if !ok {
		return
	}
	delete(set, container)
	if len(set) == 0 {
		delete(rs.m, t)
		idx.tokens.Add(-1)
	}
}

func (idx *Index) forwardFor(container string) *forwardStripe {
	return &idx.forward[xxhash.Sum64String(container)&(stripeCount-1)]
}

func (idx *Index) reverseFor(t token.Token) *reverseStripe {
	return &idx.reverse[xxhash.Sum64String(t.Text())&(stripeCount-1)]
}

func toSet(tokens []token.Token) tokenSet {
	set := make(tokenSet, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func sortTokens(tokens []token.Token) {
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].Text() < tokens[j].Text()
	})
}
