// Package popup keeps the block-list editor in sync with the store and the
// counts published by open pages.
package popup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"forumfilter/pkg/blocklist"
	"forumfilter/pkg/filtering"
	"forumfilter/pkg/store"
)

// EmptyMessage is shown in place of the list when no author is blocked.
const EmptyMessage = "Engellenen yazar yok"

// Row is one blocked author as the editor shows it.
type Row struct {
	Name  string         `json:"name"`
	Mode  blocklist.Mode `json:"mode"`
	Label string         `json:"label"`
}

// View is a rendered snapshot of both lists.
type View struct {
	Authors []Row    `json:"authors"`
	Users   []string `json:"users"`
	Empty   bool     `json:"empty"`
	Message string   `json:"message,omitempty"`
}

// Popup mirrors the editor of the browser extension popup.
type Popup struct {
	authors *blocklist.Authors
	users   *blocklist.Users
	local   *store.Area
	log     *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	counts      filtering.Counts
	subscribers map[string]func(View)
	unsubscribe func()
}

// New creates a popup over the given list adapters and local area.
func New(authors *blocklist.Authors, users *blocklist.Users, local *store.Area, log *slog.Logger) *Popup {
	if log == nil {
		log = slog.Default()
	}
	return &Popup{
		authors:     authors,
		users:       users,
		local:       local,
		log:         log,
		now:         time.Now,
		subscribers: make(map[string]func(View)),
	}
}

// Start loads the last published counts and follows later publications.
func (p *Popup) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.unsubscribe == nil {
		p.unsubscribe = p.local.Subscribe(func(c store.Change) {
			if c.Has(store.KeyFilterCounts) {
				p.reloadCounts(ctx)
			}
		})
	}
	p.mu.Unlock()

	var counts filtering.Counts
	if _, err := p.local.Get(ctx, store.KeyFilterCounts, &counts); err != nil {
		return fmt.Errorf("load filter counts: %w", err)
	}
	p.mu.Lock()
	p.counts = counts
	p.mu.Unlock()
	return nil
}

// Close stops following count publications.
func (p *Popup) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *Popup) reloadCounts(ctx context.Context) {
	var counts filtering.Counts
	if _, err := p.local.Get(ctx, store.KeyFilterCounts, &counts); err != nil {
		p.log.Error("failed to read filter counts", "error", err)
		return
	}
	p.mu.Lock()
	p.counts = counts
	p.mu.Unlock()
	p.log.Debug("filter counts updated")
	p.publish(ctx)
}

// OnChange registers fn to receive a fresh view after every mutation and
// every count update. The returned func unregisters it.
func (p *Popup) OnChange(fn func(View)) func() {
	id := uuid.NewString()
	p.mu.Lock()
	p.subscribers[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
}

// View renders the current lists with the last published counts.
func (p *Popup) View(ctx context.Context) (View, error) {
	entries, err := p.authors.Load(ctx)
	if err != nil {
		return View{}, err
	}
	users, err := p.users.Load(ctx)
	if err != nil {
		return View{}, err
	}

	p.mu.Lock()
	counts := p.counts
	p.mu.Unlock()

	v := View{Authors: make([]Row, 0, len(entries)), Users: users}
	if len(entries) == 0 {
		v.Empty = true
		v.Message = EmptyMessage
		return v, nil
	}
	for _, e := range entries {
		q, a := counts.For(e.Name)
		v.Authors = append(v.Authors, Row{Name: e.Name, Mode: e.Mode, Label: e.Mode.Label(q, a)})
	}
	return v, nil
}

// Add blocks name with mode Both. Adding a name already on the list, in any
// case, changes nothing and sends no refresh.
func (p *Popup) Add(ctx context.Context, name string) (bool, error) {
	added, err := p.authors.Add(ctx, name)
	if err != nil || !added {
		return added, err
	}
	return true, p.changed(ctx)
}

// Remove unblocks name.
func (p *Popup) Remove(ctx context.Context, name string) error {
	if err := p.authors.Remove(ctx, name); err != nil {
		return err
	}
	return p.changed(ctx)
}

// Toggle advances the mode of name through T, S, C.
func (p *Popup) Toggle(ctx context.Context, name string) (blocklist.Mode, bool, error) {
	mode, found, err := p.authors.Toggle(ctx, name)
	if err != nil {
		return "", false, err
	}
	return mode, found, p.changed(ctx)
}

// AddUser adds name to the hide-list.
func (p *Popup) AddUser(ctx context.Context, name string) (bool, error) {
	added, err := p.users.Add(ctx, name)
	if err != nil || !added {
		return added, err
	}
	return true, p.changed(ctx)
}

// RemoveUser removes name from the hide-list.
func (p *Popup) RemoveUser(ctx context.Context, name string) error {
	if err := p.users.Remove(ctx, name); err != nil {
		return err
	}
	return p.changed(ctx)
}

// RequestRefresh writes the refresh signal every open page listens for.
func (p *Popup) RequestRefresh(ctx context.Context) error {
	stamp := p.now().UnixMilli()
	if err := p.local.Set(ctx, map[string]any{store.KeyRefreshStamp: stamp}); err != nil {
		return fmt.Errorf("send refresh signal: %w", err)
	}
	p.log.Debug("refresh signal sent", "timestamp", stamp)
	return nil
}

// changed runs after a mutation has been persisted.
func (p *Popup) changed(ctx context.Context) error {
	if err := p.RequestRefresh(ctx); err != nil {
		return err
	}
	p.publish(ctx)
	return nil
}

func (p *Popup) publish(ctx context.Context) {
	p.mu.Lock()
	subs := make([]func(View), 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	v, err := p.View(ctx)
	if err != nil {
		p.log.Error("failed to render popup view", "error", err)
		return
	}
	for _, fn := range subs {
		fn(v)
	}
}
