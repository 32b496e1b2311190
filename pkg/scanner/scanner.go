// Package scanner exhaustively enumerates a dynamically loaded photo list.
// It keeps asking the page for more content until the visible item count
// stops growing, then reads the full list in observed order.
package scanner

import (
	"context"
	"fmt"

	"photowatch/pkg/config"
	"photowatch/pkg/logger"
	"photowatch/pkg/page"
	"photowatch/pkg/retry"
)

// Scanner drives a page through repeated load-more actions until the
// enumeration converges.
type Scanner struct {
	cfg    config.ScannerConfig
	logger logger.Logger
}

// New creates a scanner with the given convergence settings.
func New(cfg config.ScannerConfig, log logger.Logger) *Scanner {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Scanner{cfg: cfg, logger: log}
}

// EnumerateAll performs one exhaustive scan of the current list state.
//
// Termination: the scan stops once StableObservations consecutive
// load-more attempts leave the item count unchanged. The threshold trades
// completeness against cycle time: too low truncates the enumeration on a
// slow backend and silently reports "no new items"; too high burns cycle
// time on every scan. A hard attempt cap guards against lists that never
// settle.
//
// Positions in the returned slice reflect observed order for this scan
// only; they are not stable across scans and must never be persisted.
func (s *Scanner) EnumerateAll(ctx context.Context, p page.Page) ([]page.ListItem, error) {
	lastCount, err := p.ItemCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read initial item count: %w", err)
	}

	stable := 0
	attempt := 0

	for attempt < s.cfg.MaxLoadMoreAttempts {
		attempt++

		if err := p.TriggerLoadMore(ctx); err != nil {
			return nil, fmt.Errorf("load more attempt %d failed: %w", attempt, err)
		}

		// Let the page settle before sampling the size signal.
		if err := retry.Wait(ctx, s.cfg.SettleInterval); err != nil {
			return nil, err
		}

		count, err := p.ItemCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read item count: %w", err)
		}

		if count > lastCount {
			s.logger.DebugWithFields("List grew", map[string]interface{}{
				"attempt": attempt,
				"items":   count,
			})
			lastCount = count
			stable = 0
			continue
		}

		stable++
		s.logger.DebugWithFields("List unchanged", map[string]interface{}{
			"attempt": attempt,
			"items":   count,
			"stable":  fmt.Sprintf("%d/%d", stable, s.cfg.StableObservations),
		})

		if stable >= s.cfg.StableObservations {
			break
		}
	}

	if attempt >= s.cfg.MaxLoadMoreAttempts && stable < s.cfg.StableObservations {
		s.logger.WarnWithFields("Load-more attempt cap reached before convergence, list may be truncated", map[string]interface{}{
			"attempts": attempt,
			"items":    lastCount,
		})
	}

	items, err := p.VisibleItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate items: %w", err)
	}

	s.logger.InfoWithFields("Enumeration converged", map[string]interface{}{
		"items":    len(items),
		"attempts": attempt,
	})

	return items, nil
}
