// Package page runs the filter for one open forum page, the way a content
// script runs in one browser tab.
package page

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"forumfilter/pkg/blocklist"
	"forumfilter/pkg/dom"
	"forumfilter/pkg/filtering"
	"forumfilter/pkg/store"
)

// Deps are the collaborators shared by all pages.
type Deps struct {
	Store  *store.Store
	Engine *filtering.Engine
	Log    *slog.Logger
	// OnRefresh, when set, runs after every refresh with the page lock released.
	OnRefresh func(*Page)
}

// Page owns one parsed document and keeps it filtered as the block-list,
// the hide-list or the refresh signal change.
type Page struct {
	id      string
	store   *store.Store
	engine  *filtering.Engine
	authors *blocklist.Authors
	users   *blocklist.Users
	log     *slog.Logger
	after   func(*Page)

	mu     sync.Mutex
	doc    *html.Node
	counts filtering.Counts

	unsubscribe []func()
}

// New wraps an already parsed document.
func New(doc *html.Node, deps Deps) *Page {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	log = log.With("page", id)
	return &Page{
		id:      id,
		store:   deps.Store,
		engine:  deps.Engine,
		authors: blocklist.NewAuthors(deps.Store.Sync, log),
		users:   blocklist.NewUsers(deps.Store.Sync, log),
		log:     log,
		after:   deps.OnRefresh,
		doc:     doc,
		counts:  filtering.NewCounts(nil),
	}
}

// Load parses r and wraps the result.
func Load(r io.Reader, deps Deps) (*Page, error) {
	doc, err := dom.Parse(r)
	if err != nil {
		return nil, err
	}
	return New(doc, deps), nil
}

// ID identifies the page in logs.
func (p *Page) ID() string {
	return p.id
}

// Start filters the page once and then re-filters on every relevant store
// change until Close.
func (p *Page) Start(ctx context.Context) {
	p.Refresh(ctx)
	p.unsubscribe = append(p.unsubscribe,
		p.store.Sync.Subscribe(func(c store.Change) {
			if c.Has(store.KeyBlockedAuthors) || c.Has(store.KeyHiddenUsers) {
				p.log.Debug("lists changed, reapplying filters", "keys", c.Keys)
				p.Refresh(ctx)
			}
		}),
		p.store.Local.Subscribe(func(c store.Change) {
			if c.Has(store.KeyRefreshStamp) {
				p.log.Debug("refresh requested, reapplying filters")
				p.Refresh(ctx)
			}
		}),
	)
}

// Close stops reacting to store changes.
func (p *Page) Close() {
	for _, fn := range p.unsubscribe {
		fn()
	}
	p.unsubscribe = nil
}

// Refresh re-reads both lists, filters the document and publishes the counts.
// Store failures are logged and leave the page as it was.
func (p *Page) Refresh(ctx context.Context) {
	authors, authorsErr := p.authors.Load(ctx)
	if authorsErr != nil {
		p.log.Error("failed to load blocked authors", "error", authorsErr)
	}
	users, usersErr := p.users.Load(ctx)
	if usersErr != nil {
		p.log.Error("failed to load hidden users", "error", usersErr)
	}

	var (
		counts  filtering.Counts
		scanned bool
	)
	p.mu.Lock()
	if authorsErr == nil {
		counts, scanned = p.engine.Scan(p.doc, authors)
		if scanned {
			p.counts = counts
		}
	}
	if usersErr == nil {
		p.engine.HidePosts(p.doc, users)
		p.engine.HideReplies(p.doc, users)
	}
	p.mu.Unlock()

	if scanned {
		if err := p.store.Local.Set(ctx, map[string]any{store.KeyFilterCounts: counts}); err != nil {
			p.log.Error("failed to publish filter counts", "error", err)
		}
	}
	if p.after != nil {
		p.after(p)
	}
}

// Replace swaps in a new version of the document and filters it.
func (p *Page) Replace(ctx context.Context, doc *html.Node) {
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	p.Refresh(ctx)
}

// Counts returns the counts of the last scan that ran, or empty counts when
// no scan has run.
func (p *Page) Counts() filtering.Counts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts
}

// Render writes the filtered document.
func (p *Page) Render(w io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := dom.Render(w, p.doc); err != nil {
		return fmt.Errorf("render page %s: %w", p.id, err)
	}
	return nil
}
