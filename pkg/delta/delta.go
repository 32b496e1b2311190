// Package delta computes which enumerated photos have not been delivered
// yet. It is a stable filter over one scan: observed order is preserved,
// the ledger is only read, and duplicate fingerprints inside the scan
// collapse to their first occurrence.
package delta

import (
	"photowatch/pkg/fingerprint"
	"photowatch/pkg/ledger"
	"photowatch/pkg/logger"
	"photowatch/pkg/page"
)

// Item is a list item annotated with its derived identity.
type Item struct {
	page.ListItem

	// Fingerprint is the dedup key derived from the thumbnail reference.
	Fingerprint string

	// Degraded marks a fallback fingerprint: the item's identity is not
	// stable across cycles and it cannot be truly deduplicated.
	Degraded bool
}

// Stats summarizes one resolution for cycle logging.
type Stats struct {
	Total            int
	AlreadyDelivered int
	New              int
	Degraded         int
}

// Resolve returns the unresolved subsequence of items: those whose
// fingerprint is absent from the ledger, in their original observed order.
// The ledger is never mutated.
func Resolve(items []page.ListItem, l *ledger.Ledger, log logger.Logger) ([]Item, Stats) {
	if log == nil {
		log = logger.GetLogger()
	}

	stats := Stats{Total: len(items)}
	seen := make(map[string]bool, len(items))
	unresolved := make([]Item, 0)

	for _, it := range items {
		fp, degraded := fingerprint.Extract(it.ThumbnailRef, it.Position)
		if degraded {
			stats.Degraded++
			log.WarnWithFields("Degraded fingerprint assigned, item cannot be deduplicated", map[string]interface{}{
				"position":    it.Position,
				"fingerprint": fp,
			})
		}

		// A photo rendered twice in one scan must be fetched once: only
		// the first occurrence survives.
		if seen[fp] {
			continue
		}
		seen[fp] = true

		if l.Contains(fp) {
			stats.AlreadyDelivered++
			continue
		}

		unresolved = append(unresolved, Item{
			ListItem:    it,
			Fingerprint: fp,
			Degraded:    degraded,
		})
	}

	stats.New = len(unresolved)
	return unresolved, stats
}
