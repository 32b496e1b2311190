package page

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"photowatch/pkg/config"
	"photowatch/pkg/fingerprint"
	"photowatch/pkg/logger"
)

const detailLinkTimeout = 5 * time.Second

// RodSession drives a local Chromium instance through go-rod. One session
// lives for the whole process; each cycle opens a fresh page through
// FreshLoad and closes it when done.
type RodSession struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	cfg     config.BrowserConfig
	logger  logger.Logger

	current *rodPage
}

// NewRodSession launches the browser and connects to it.
func NewRodSession(cfg config.BrowserConfig, log logger.Logger) (*RodSession, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")

	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	log.InfoWithFields("Browser session started", map[string]interface{}{
		"headless": cfg.Headless,
	})

	return &RodSession{
		browser: b,
		lnch:    l,
		cfg:     cfg,
		logger:  log,
	}, nil
}

// FreshLoad opens a new page, disables the browser cache on it, and
// performs a full navigation to the target URL. Any page from a previous
// cycle is closed first.
func (s *RodSession) FreshLoad(ctx context.Context, url string) (Page, error) {
	if s.current != nil {
		_ = s.current.Close()
		s.current = nil
	}

	p, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	// A cached navigation is an explicit correctness hazard: the scanner
	// would converge on a stale, smaller list.
	if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(p); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to disable page cache: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.PageLoadTimeout)
	defer cancel()

	if err := p.Context(navCtx).Navigate(url); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	if err := p.Context(navCtx).WaitLoad(); err != nil {
		s.logger.WithError(err).WithField("url", url).Warn("Page load wait timed out")
	}

	// Give the client-side renderer time to populate the list.
	if s.cfg.RenderWait > 0 {
		select {
		case <-time.After(s.cfg.RenderWait):
		case <-ctx.Done():
			p.Close()
			return nil, ctx.Err()
		}
	}

	s.current = &rodPage{page: p, cfg: s.cfg, logger: s.logger}
	return s.current, nil
}

// Close shuts down the browser and its launcher.
func (s *RodSession) Close() error {
	if s.current != nil {
		_ = s.current.Close()
		s.current = nil
	}

	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.lnch != nil {
		s.lnch.Kill()
	}
	return err
}

// rodPage implements Page over a rod page handle.
type rodPage struct {
	page   *rod.Page
	cfg    config.BrowserConfig
	logger logger.Logger
}

func (p *rodPage) VisibleItems(ctx context.Context) ([]ListItem, error) {
	els, err := p.page.Context(ctx).Elements(p.cfg.ItemSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate list items: %w", err)
	}

	items := make([]ListItem, 0, len(els))
	for i, el := range els {
		item := ListItem{Position: i}

		img, err := el.Element(p.cfg.ThumbnailSelector)
		if err == nil {
			if src, err := img.Attribute("src"); err == nil && src != nil {
				item.ThumbnailRef = *src
			}
		}
		// A missing thumbnail is not an enumeration error: the item is
		// reported with an empty reference and fingerprinting degrades.

		items = append(items, item)
	}

	return items, nil
}

func (p *rodPage) ItemCount(ctx context.Context) (int, error) {
	els, err := p.page.Context(ctx).Elements(p.cfg.ItemSelector)
	if err != nil {
		return 0, fmt.Errorf("failed to count list items: %w", err)
	}
	return len(els), nil
}

func (p *rodPage) TriggerLoadMore(ctx context.Context) error {
	// Scroll the list container, not the window: the page keeps the list
	// in its own scrollable element.
	_, err := p.page.Context(ctx).Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (el) {
			el.scrollTop = el.scrollHeight;
		}
	}`, p.cfg.ContainerSelector)
	if err != nil {
		return fmt.Errorf("failed to trigger load more: %w", err)
	}
	return nil
}

func (p *rodPage) OpenDetail(ctx context.Context, item ListItem) (Detail, error) {
	el, err := p.locateItem(ctx, item)
	if err != nil {
		return Detail{}, err
	}

	opener, err := el.Element(p.cfg.DetailOpenSelector)
	if err != nil {
		return Detail{}, fmt.Errorf("failed to find detail opener for item %d: %w", item.Position, err)
	}

	if err := opener.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return Detail{}, fmt.Errorf("failed to open detail for item %d: %w", item.Position, err)
	}

	if p.cfg.DetailLoadWait > 0 {
		select {
		case <-time.After(p.cfg.DetailLoadWait):
		case <-ctx.Done():
			return Detail{}, ctx.Err()
		}
	}

	link, err := p.page.Context(ctx).Timeout(detailLinkTimeout).Element(p.cfg.OriginalLinkSelector)
	if err != nil {
		return Detail{}, fmt.Errorf("failed to find original link for item %d: %w", item.Position, err)
	}

	href, err := link.Attribute("href")
	if err != nil || href == nil || *href == "" {
		return Detail{}, fmt.Errorf("original link for item %d has no href", item.Position)
	}

	fullRef := fingerprint.NormalizeRef(*href)
	return Detail{
		FullRef:     fullRef,
		DisplayName: fingerprint.ResolvedName(fullRef),
	}, nil
}

// locateItem re-finds the element for item. The position recorded at scan
// time is tried first, verified against the thumbnail reference; if the
// list shifted since the scan, all items are searched for the matching
// thumbnail.
func (p *rodPage) locateItem(ctx context.Context, item ListItem) (*rod.Element, error) {
	els, err := p.page.Context(ctx).Elements(p.cfg.ItemSelector)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate list items: %w", err)
	}

	matches := func(el *rod.Element) bool {
		img, err := el.Element(p.cfg.ThumbnailSelector)
		if err != nil {
			return false
		}
		src, err := img.Attribute("src")
		if err != nil || src == nil {
			return item.ThumbnailRef == ""
		}
		return *src == item.ThumbnailRef
	}

	if item.Position >= 0 && item.Position < len(els) && matches(els[item.Position]) {
		return els[item.Position], nil
	}

	for _, el := range els {
		if matches(el) {
			p.logger.DebugWithFields("Item moved since scan, matched by thumbnail", map[string]interface{}{
				"scanned_position": item.Position,
			})
			return el, nil
		}
	}

	return nil, fmt.Errorf("item %d no longer present on page", item.Position)
}

func (p *rodPage) CloseDetail(ctx context.Context) error {
	if err := p.page.Context(ctx).Keyboard.Press(input.Escape); err != nil {
		return fmt.Errorf("failed to close detail view: %w", err)
	}

	if p.cfg.DetailCloseWait > 0 {
		select {
		case <-time.After(p.cfg.DetailCloseWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
