// Package watcher detects created, modified and deleted files under a set of
// root directories by polling. Each cycle walks the roots, digests files
// whose modification time moved (or that were never seen), compares digests
// with the previous cycle and reports transitions as ChangeEvents. No OS
// change-notification facility is used.
//
// Events flow from the detector goroutine through a bounded channel to a
// dispatch goroutine, which hands each event to every registered Listener in
// registration order.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/digest"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/live-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
)

type lifecycle int

const (
	idle lifecycle = iota
	running
	closed
)

// Watcher owns the detector and dispatch goroutines.
type Watcher struct {
	cfg     config.WatcherConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu           sync.Mutex
	state        lifecycle
	listeners    []Listener
	detector     *Detector
	cancel       context.CancelFunc
	detectDone   chan struct{}
	dispatchDone chan struct{}
}

// New returns an idle Watcher over cfg.Roots. m may be nil.
func New(cfg config.WatcherConfig, m *metrics.Metrics) *Watcher {
	return &Watcher{
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "watcher"),
	}
}

// RegisterListener adds l to the set of event consumers. It fails with
// ErrAlreadyStarted once Start has been called.
func (w *Watcher) RegisterListener(l Listener) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != idle {
		return fmt.Errorf("registering listener: %w", apperrors.ErrAlreadyStarted)
	}
	w.listeners = append(w.listeners, l)
	return nil
}

// Start launches the detector and dispatcher. Concurrent and repeated calls
// are safe: only the first successful call starts anything. Start fails with
// ErrDigestUnavailable if the configured digest algorithm cannot be used, and
// with ErrClosed after Close. The goroutines stop when ctx is cancelled or
// Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case running:
		return nil
	case closed:
		return fmt.Errorf("starting watcher: %w", apperrors.ErrClosed)
	}

	engine, err := digest.New(w.cfg.Digest, w.cfg.ChunkSize)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	buffer := w.cfg.EventBuffer
	if buffer <= 0 {
		buffer = 1
	}
	events := make(chan ChangeEvent, buffer)
	emit := func(ctx context.Context, event ChangeEvent) error {
		select {
		case events <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	scanner := NewScanner(w.cfg.Roots, engine, w.cfg.InspectWorkers)
	w.detector = NewDetector(scanner, w.cfg.PollInterval, emit, w.metrics)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.detectDone = make(chan struct{})
	w.dispatchDone = make(chan struct{})
	listeners := append([]Listener(nil), w.listeners...)

	go func() {
		defer close(w.detectDone)
		defer close(events)
		w.detector.Run(runCtx)
	}()
	go func() {
		defer close(w.dispatchDone)
		for event := range events {
			w.dispatch(listeners, event)
		}
	}()

	w.state = running
	w.logger.Info("watcher started",
		"roots", scanner.Roots(),
		"listeners", len(listeners),
		"digest", engine.Algorithm(),
		"poll_interval", w.cfg.PollInterval,
	)
	return nil
}

// Close stops the detector, waits for it to exit, then lets the dispatcher
// deliver any events already buffered. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	prev := w.state
	w.state = closed
	w.mu.Unlock()

	if prev != running {
		return nil
	}
	w.logger.Info("closing watcher")
	w.cancel()
	<-w.detectDone
	<-w.dispatchDone
	w.logger.Info("watcher closed")
	return nil
}

// Running reports whether the watcher has been started and not closed.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == running
}

// Stats returns detector counters; zero before Start.
func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	d := w.detector
	w.mu.Unlock()
	if d == nil {
		return Stats{}
	}
	return d.Stats()
}

// dispatch delivers event to each listener in turn. A listener that fails or
// panics is logged and does not prevent delivery to the others.
func (w *Watcher) dispatch(listeners []Listener, event ChangeEvent) {
	for _, l := range listeners {
		if err := w.invoke(l, event); err != nil {
			w.logger.Error("listener failed",
				"path", event.Path,
				"kind", event.Kind.String(),
				"error", err,
			)
			if w.metrics != nil {
				w.metrics.ListenerErrorsTotal.Inc()
			}
		}
	}
}

func (w *Watcher) invoke(l Listener, event ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
			w.logger.Error("listener panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return l.OnChange(event)
}
