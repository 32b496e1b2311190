// Package watcher drives the watch loop: load the page fresh, enumerate it
// exhaustively, resolve the delta against the history ledger, deliver the
// new items, and persist the ledger. One iteration is a cycle; cycles repeat
// on a fixed interval until the process is stopped or too many consecutive
// cycles fail outright.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"photowatch/internal/downloader"
	"photowatch/pkg/backend"
	"photowatch/pkg/config"
	"photowatch/pkg/delta"
	errs "photowatch/pkg/errors"
	"photowatch/pkg/fingerprint"
	"photowatch/pkg/ledger"
	"photowatch/pkg/logger"
	"photowatch/pkg/page"
	"photowatch/pkg/retry"
	"photowatch/pkg/scanner"
)

// Watcher owns the cycle loop and the only durable state crossing cycles:
// the history ledger.
type Watcher struct {
	cfg      *config.Config
	session  page.Session
	scanner  *scanner.Scanner
	fetcher  downloader.Fetcher
	backends []backend.Backend
	logger   logger.Logger

	ledger *ledger.Ledger
	cycle  int
}

// purger is implemented by backends that can clear their destination for a
// fresh start.
type purger interface {
	Purge() error
}

// New creates a watcher. The session, fetcher, and backends are injected so
// tests can run full cycles without a browser or network.
func New(
	cfg *config.Config,
	session page.Session,
	fetcher downloader.Fetcher,
	backends []backend.Backend,
	log logger.Logger,
) *Watcher {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Watcher{
		cfg:      cfg,
		session:  session,
		scanner:  scanner.New(cfg.Scanner, log),
		fetcher:  fetcher,
		backends: backends,
		logger:   log,
	}
}

// Run executes cycles until ctx is cancelled or a fatal condition occurs.
//
// A corrupt ledger is fatal before the first cycle: silently starting empty
// would re-deliver the entire page. Consecutive full-cycle failures beyond
// the configured ceiling are fatal too, since the target is evidently
// unreachable and retrying forever just burns the machine.
func (w *Watcher) Run(ctx context.Context) error {
	if w.cfg.Target.FreshStart {
		if err := w.freshStart(); err != nil {
			return fmt.Errorf("fresh start failed: %w", err)
		}
	}

	l, err := ledger.Load(w.cfg.Ledger.Path, w.logger)
	if err != nil {
		return fmt.Errorf("cannot start watching: %w", err)
	}
	w.ledger = l

	// Persist a migrated legacy ledger immediately so a crash before the
	// first delivery does not force a second migration.
	if l.Migrated() {
		if err := l.Save(w.cfg.Ledger.Path); err != nil {
			return fmt.Errorf("failed to persist migrated ledger: %w", err)
		}
	}

	w.logger.InfoWithFields("Watching for new photos", map[string]interface{}{
		"url":      w.cfg.Target.URL,
		"interval": w.cfg.Target.CheckInterval.String(),
		"known":    l.Len(),
	})

	consecutiveFailures := 0

	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Watcher stopped")
			return nil
		}

		if err := w.runCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Info("Watcher stopped")
				return nil
			}

			// Fatal errors terminate immediately; they never get better by
			// waiting out the failure ceiling.
			var typed *errs.Error
			if errors.As(err, &typed) && errs.IsFatal(typed.Type) {
				return err
			}

			consecutiveFailures++
			w.logger.WithError(err).WarnWithFields("Cycle failed", map[string]interface{}{
				"consecutive_failures": consecutiveFailures,
				"max":                  w.cfg.Target.MaxConnectionFailures,
			})

			if consecutiveFailures >= w.cfg.Target.MaxConnectionFailures {
				return errs.Newf(errs.ErrorTypeConnectionExhausted,
					"%d consecutive cycles failed, giving up", consecutiveFailures)
			}
		} else {
			consecutiveFailures = 0
		}

		if err := retry.Wait(ctx, w.cfg.Target.CheckInterval); err != nil {
			w.logger.Info("Watcher stopped")
			return nil
		}
	}
}

// runCycle performs one full scan-resolve-deliver-persist iteration. Item
// failures are contained inside the cycle; only a failure to load or
// enumerate the page fails the cycle as a whole.
func (w *Watcher) runCycle(ctx context.Context) error {
	w.cycle++

	pg, err := w.session.FreshLoad(ctx, w.cfg.Target.URL)
	if err != nil {
		return fmt.Errorf("page load failed: %w", err)
	}

	items, err := w.scanner.EnumerateAll(ctx, pg)
	if err != nil {
		return fmt.Errorf("enumeration failed: %w", err)
	}

	unresolved, stats := delta.Resolve(items, w.ledger, w.logger)

	if len(unresolved) == 0 {
		w.logCycleSummary(stats, 0)
		return nil
	}

	delivered := w.deliver(ctx, pg, unresolved)

	// The ledger hits disk once per cycle, and only when something changed.
	if w.ledger.Dirty() {
		if err := w.ledger.Save(w.cfg.Ledger.Path); err != nil {
			return fmt.Errorf("ledger save failed: %w", err)
		}
	}

	w.logCycleSummary(stats, delivered)
	return ctx.Err()
}

// deliver opens detail views sequentially and streams delivery jobs into
// the concurrent fetch/commit pool. It returns the number of items that
// were committed to every backend and recorded.
func (w *Watcher) deliver(ctx context.Context, pg page.Page, items []delta.Item) int {
	pool := downloader.NewWorkerPool(w.cfg.Delivery, w.fetcher, w.backends, w.logger)
	pool.Start()

	// Single consumer owns all ledger writes for this cycle.
	delivered := 0
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for result := range pool.Results() {
			if result.Success {
				w.ledger.Record(result.Job.Fingerprint, result.Job.ResolvedName, result.Job.ThumbnailRef)
				delivered++
				w.logger.InfoWithFields("Delivered", map[string]interface{}{
					"fingerprint": result.Job.Fingerprint,
					"name":        result.Job.ResolvedName,
					"size":        result.Size,
				})
			} else {
				w.logger.ErrorWithFields("Delivery failed, will retry next cycle", map[string]interface{}{
					"fingerprint": result.Job.Fingerprint,
					"error":       result.Error.Error(),
				})
			}
		}
	}()

	// Detail views are a rendering side effect on the shared page, so this
	// stage is strictly sequential even while deliveries run concurrently.
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		detail, err := pg.OpenDetail(ctx, item.ListItem)
		if err != nil {
			w.logger.WarnWithFields("Failed to open detail view, skipping item", map[string]interface{}{
				"fingerprint": item.Fingerprint,
				"position":    item.Position,
				"error":       err.Error(),
			})
			continue
		}

		if err := pg.CloseDetail(ctx); err != nil {
			w.logger.WithError(err).Warn("Failed to close detail view")
		}

		name := detail.DisplayName
		if name == "" {
			name = fingerprint.ResolvedName(detail.FullRef)
		}
		if name == "" {
			name = item.Fingerprint
		}

		job := downloader.DeliveryJob{
			Fingerprint:  item.Fingerprint,
			ThumbnailRef: item.ThumbnailRef,
			FullRef:      detail.FullRef,
			ResolvedName: name,
			Degraded:     item.Degraded,
		}
		if err := pool.Submit(job); err != nil {
			w.logger.WithError(err).Warn("Failed to submit delivery job")
		}
	}

	pool.Stop()
	wg.Wait()

	return delivered
}

// logCycleSummary logs the outcome of one cycle.
func (w *Watcher) logCycleSummary(stats delta.Stats, delivered int) {
	w.logger.InfoWithFields("Cycle complete", map[string]interface{}{
		"cycle":     w.cycle,
		"total":     stats.Total,
		"known":     stats.AlreadyDelivered,
		"new":       stats.New,
		"degraded":  stats.Degraded,
		"delivered": delivered,
	})
}

// freshStart discards all delivery history: the ledger file and any purgeable
// backend destinations. The next cycle re-delivers the whole page.
func (w *Watcher) freshStart() error {
	w.logger.Warn("Fresh start requested, discarding delivery history")

	if err := ledger.Reset(w.cfg.Ledger.Path); err != nil {
		return err
	}

	for _, b := range w.backends {
		p, ok := b.(purger)
		if !ok {
			continue
		}
		if err := p.Purge(); err != nil {
			return fmt.Errorf("failed to purge %s backend: %w", b.Name(), err)
		}
	}

	return nil
}
