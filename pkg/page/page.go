// Package page defines the page session collaborator consumed by the
// scanner and the delivery pipeline, plus a go-rod implementation that
// drives a real browser.
//
// The core never talks to a browser directly: it sees a Session that can
// perform a fresh, non-cached load of the target URL, and a Page handle
// that enumerates list items, loads more of them, and opens per-item
// detail views. Tests substitute in-memory fakes.
package page

import "context"

// ListItem is one observed entry of the photo list. It is transient: valid
// for the cycle that produced it and never persisted.
type ListItem struct {
	// Position is the observed order index at scan time. Informational
	// only: positions shift under insertion and reordering and must never
	// be used as identity.
	Position int

	// ThumbnailRef is the low-resolution preview reference the fingerprint
	// is derived from. May be empty when the page served a broken item.
	ThumbnailRef string
}

// Detail is the result of opening an item's detail view.
type Detail struct {
	// FullRef is the full-resolution source reference.
	FullRef string

	// DisplayName is the resolved name used at the storage destination.
	DisplayName string
}

// Page is one loaded instance of the target page. Implementations are not
// safe for concurrent use: scanning and detail opening are rendering side
// effects on the same view and must stay strictly sequential.
type Page interface {
	// VisibleItems enumerates the currently rendered list items in
	// observed order.
	VisibleItems(ctx context.Context) ([]ListItem, error)

	// ItemCount returns the cheap size signal used by the convergence
	// scanner, without reading item attributes.
	ItemCount(ctx context.Context) (int, error)

	// TriggerLoadMore asks the page to render the next chunk of the list
	// (scroll-to-bottom on infinite lists).
	TriggerLoadMore(ctx context.Context) error

	// OpenDetail opens the detail view for item and resolves its
	// full-resolution reference and display name. Expensive; must only be
	// invoked for items that are not already in the ledger.
	OpenDetail(ctx context.Context, item ListItem) (Detail, error)

	// CloseDetail dismisses an open detail view.
	CloseDetail(ctx context.Context) error

	// Close releases the page.
	Close() error
}

// Session provides fresh page loads. FreshLoad must force a full,
// non-cached navigation: a cached snapshot older than the true server
// state makes the scanner converge on a truncated list, which silently
// reports "no new items".
type Session interface {
	FreshLoad(ctx context.Context, url string) (Page, error)
	Close() error
}
