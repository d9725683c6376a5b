package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/digest"
	"golang.org/x/sync/errgroup"
)

// Inspection is the digest computed for one file during a cycle.
type Inspection struct {
	Path   string
	Digest digest.Digest
}

// ScanResult collects one pass over every root.
type ScanResult struct {
	// Seen holds every regular file found, inspected or not.
	Seen map[string]struct{}
	// Inspections are sorted by path.
	Inspections []Inspection
	// Failed lists files whose digest could not be computed.
	Failed []string
}

// Scanner enumerates regular files under a fixed set of roots and digests
// the ones selected by the caller on a bounded pool of goroutines.
type Scanner struct {
	roots   []string
	engine  *digest.Engine
	workers int
	logger  *slog.Logger
}

// NewScanner returns a Scanner over roots. Roots are made absolute and
// deduplicated. workers bounds concurrent inspections.
func NewScanner(roots []string, engine *digest.Engine, workers int) *Scanner {
	if workers <= 0 {
		workers = 1
	}
	return &Scanner{
		roots:   normalizeRoots(roots),
		engine:  engine,
		workers: workers,
		logger:  slog.Default().With("component", "tree-scanner"),
	}
}

// Roots returns the normalised root paths.
func (s *Scanner) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Scan walks every root. For each regular file, shouldInspect decides from
// its path and modification time whether it gets digested. Scan returns
// only after every inspection it started has finished. Per-file failures are
// logged and reported in ScanResult.Failed; the only error returned is the
// context's, in which case the partial result must be discarded.
func (s *Scanner) Scan(ctx context.Context, shouldInspect func(path string, modTime time.Time) bool) (*ScanResult, error) {
	result := &ScanResult{Seen: make(map[string]struct{})}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, root := range s.roots {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := gctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				s.logger.Warn("skipping unreadable path", "path", path, "error", err)
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				// Vanished between listing and stat.
				s.logger.Debug("stat failed", "path", path, "error", err)
				return nil
			}
			if _, dup := result.Seen[path]; dup {
				// Reached again through an overlapping root.
				return nil
			}
			result.Seen[path] = struct{}{}
			if !shouldInspect(path, info.ModTime()) {
				return nil
			}

			g.Go(func() error {
				sum, err := s.engine.Sum(gctx, path)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					s.logger.Warn("inspection skipped for this cycle", "path", path, "error", err)
					mu.Lock()
					result.Failed = append(result.Failed, path)
					mu.Unlock()
					return nil
				}
				mu.Lock()
				result.Inspections = append(result.Inspections, Inspection{Path: path, Digest: sum})
				mu.Unlock()
				return nil
			})
			return nil
		})
		if walkErr != nil {
			_ = g.Wait()
			return nil, walkErr
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result.Inspections, func(i, j int) bool {
		return result.Inspections[i].Path < result.Inspections[j].Path
	})
	sort.Strings(result.Failed)
	return result, nil
}

func normalizeRoots(roots []string) []string {
	seen := make(map[string]struct{}, len(roots))
	out := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = filepath.Clean(root)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		} else if !errors.Is(err, fs.ErrNotExist) {
			slog.Default().Warn("cannot resolve root", "root", root, "error", err)
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}
