package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/tracing"
)

// mtimeSlack widens the modification-time pre-filter to cover filesystems
// that store timestamps at one-second granularity.
const mtimeSlack = time.Second

// Stats reports detector activity. Counters are cumulative.
type Stats struct {
	Cycles            uint64        `json:"cycles"`
	FilesSeen         int           `json:"files_seen"`
	Inspected         uint64        `json:"inspected"`
	Errors            uint64        `json:"errors"`
	Creates           uint64        `json:"creates"`
	Updates           uint64        `json:"updates"`
	Deletes           uint64        `json:"deletes"`
	LastCycleAt       time.Time     `json:"last_cycle_at"`
	LastCycleDuration time.Duration `json:"last_cycle_duration"`
}

// Detector runs the poll loop. Its watch state is only touched from the
// goroutine calling Poll or Run.
type Detector struct {
	scanner  *Scanner
	interval time.Duration
	emit     func(ctx context.Context, event ChangeEvent) error
	metrics  *metrics.Metrics
	logger   *slog.Logger

	state     map[string]digest.Digest
	retry     map[string]struct{}
	threshold time.Time

	statsMu sync.Mutex
	stats   Stats
}

// NewDetector returns a Detector that publishes through emit. emit may block;
// it must return ctx's error once ctx is done.
func NewDetector(scanner *Scanner, interval time.Duration, emit func(ctx context.Context, event ChangeEvent) error, m *metrics.Metrics) *Detector {
	return &Detector{
		scanner:  scanner,
		interval: interval,
		emit:     emit,
		metrics:  m,
		logger:   slog.Default().With("component", "change-detector"),
		state:    make(map[string]digest.Digest),
		retry:    make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled, sleeping interval between cycles.
func (d *Detector) Run(ctx context.Context) {
	d.logger.Info("change detector started", "roots", d.scanner.Roots(), "interval", d.interval)
	for {
		if ctx.Err() != nil {
			break
		}
		if err := d.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			d.logger.Error("poll cycle failed", "error", err)
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(d.interval):
		}
	}
	d.logger.Info("change detector stopped", "reason", ctx.Err())
}

// Poll performs one cycle: scan and inspect every root, emit Create and
// Update events in path order, then emit Delete events for known paths that
// no longer exist. A cycle cancelled while scanning emits nothing and leaves
// the watch state untouched.
func (d *Detector) Poll(ctx context.Context) error {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "poll-cycle")
	defer func() {
		span.End()
		span.Log(ctx, d.logger)
	}()

	threshold := d.threshold.Add(-mtimeSlack)
	scanCtx, scanSpan := tracing.StartChildSpan(ctx, "scan")
	result, err := d.scanner.Scan(scanCtx, func(path string, modTime time.Time) bool {
		if _, known := d.state[path]; !known {
			return true
		}
		if _, failed := d.retry[path]; failed {
			return true
		}
		return d.threshold.IsZero() || modTime.After(threshold)
	})
	scanSpan.End()
	if err != nil {
		return err
	}
	scanSpan.SetAttr("files", len(result.Seen))
	scanSpan.SetAttr("inspected", len(result.Inspections))

	d.retry = make(map[string]struct{}, len(result.Failed))
	for _, path := range result.Failed {
		d.retry[path] = struct{}{}
	}

	var creates, updates, deletes uint64
	for _, in := range result.Inspections {
		prev, known := d.state[in.Path]
		switch {
		case !known:
			if err := d.publish(ctx, in.Path, Create); err != nil {
				return err
			}
			creates++
		case !prev.Equal(in.Digest):
			if err := d.publish(ctx, in.Path, Update); err != nil {
				return err
			}
			updates++
		default:
			continue
		}
		d.state[in.Path] = in.Digest
	}

	_, reapSpan := tracing.StartChildSpan(ctx, "reap")
	for _, path := range d.vanished(result.Seen) {
		if err := d.publish(ctx, path, Delete); err != nil {
			reapSpan.End()
			return err
		}
		delete(d.state, path)
		deletes++
	}
	reapSpan.End()

	d.threshold = start
	elapsed := time.Since(start)
	span.SetAttr("creates", creates)
	span.SetAttr("updates", updates)
	span.SetAttr("deletes", deletes)

	d.statsMu.Lock()
	d.stats.Cycles++
	d.stats.FilesSeen = len(result.Seen)
	d.stats.Inspected += uint64(len(result.Inspections))
	d.stats.Errors += uint64(len(result.Failed))
	d.stats.Creates += creates
	d.stats.Updates += updates
	d.stats.Deletes += deletes
	d.stats.LastCycleAt = time.Now()
	d.stats.LastCycleDuration = elapsed
	d.statsMu.Unlock()

	if d.metrics != nil {
		d.metrics.PollCyclesTotal.Inc()
		d.metrics.PollCycleDuration.Observe(elapsed.Seconds())
		d.metrics.FilesInspectedTotal.Add(float64(len(result.Inspections)))
		d.metrics.InspectErrorsTotal.Add(float64(len(result.Failed)))
	}
	d.logger.Debug("poll cycle complete",
		"files", len(result.Seen),
		"inspected", len(result.Inspections),
		"failed", len(result.Failed),
		"creates", creates,
		"updates", updates,
		"deletes", deletes,
		"duration", elapsed,
	)
	return nil
}

// Stats returns a snapshot of the detector counters.
func (d *Detector) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// vanished returns, in path order, known paths that were not seen this cycle
// and are confirmed gone. A path hidden by a transient error (for example an
// unreadable parent directory) keeps its state.
func (d *Detector) vanished(seen map[string]struct{}) []string {
	var gone []string
	for path := range d.state {
		if _, ok := seen[path]; ok {
			continue
		}
		info, err := os.Lstat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			gone = append(gone, path)
		case err != nil:
			d.logger.Warn("cannot confirm deletion, keeping watch state", "path", path, "error", err)
		case !info.Mode().IsRegular():
			gone = append(gone, path)
		}
	}
	sort.Strings(gone)
	return gone
}

func (d *Detector) publish(ctx context.Context, path string, kind ChangeKind) error {
	event := ChangeEvent{Path: path, Kind: kind, ObservedAt: time.Now()}
	if err := d.emit(ctx, event); err != nil {
		return err
	}
	d.logger.Info("change detected", "path", path, "kind", kind.String())
	if d.metrics != nil {
		d.metrics.ChangeEventsTotal.WithLabelValues(kind.String()).Inc()
	}
	return nil
}
