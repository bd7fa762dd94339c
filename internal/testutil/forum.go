// Package testutil provides forum page fixtures and store helpers for tests.
package testutil

import (
	"fmt"
	"html"
	"io"
	"log/slog"
	"strings"
	"testing"

	"forumfilter/pkg/store"
)

// Page builds forum markup in the shape the filter expects.
type Page struct {
	parts []string
}

// NewPage starts an empty page.
func NewPage() *Page {
	return &Page{}
}

// Post adds a post by author.
func (p *Page) Post(author string) *Page {
	p.parts = append(p.parts, fmt.Sprintf(
		`<div class="entry0"><div class="content">post by %[1]s</div><div class="bottomright duclsact"><span><a href="/u/%[1]s">%[1]s</a></span> <span>21.04.25</span></div></div>`,
		html.EscapeString(author)))
	return p
}

// PostWithoutAuthor adds a post whose author block is missing.
func (p *Page) PostWithoutAuthor() *Page {
	p.parts = append(p.parts, `<div class="entry0"><div class="content">anonymous</div></div>`)
	return p
}

// PostWithFlatAuthor adds a post whose author block has no nested elements.
func (p *Page) PostWithFlatAuthor(author string) *Page {
	p.parts = append(p.parts, fmt.Sprintf(
		`<div class="entry0"><div class="bottomright duclsact">%s</div></div>`, html.EscapeString(author)))
	return p
}

// Reply adds a reply whose poster listing starts with posterText.
func (p *Page) Reply(posterText string) *Page {
	p.parts = append(p.parts, fmt.Sprintf(
		`<div class="answer"><p>reply body</p><ul class="duans poster"><li>%s</li><li>#1</li></ul></div>`,
		html.EscapeString(posterText)))
	return p
}

// ReplyWithoutPoster adds a reply lacking the poster listing.
func (p *Page) ReplyWithoutPoster() *Page {
	p.parts = append(p.parts, `<div class="answer"><p>orphan</p></div>`)
	return p
}

// HTML renders the full document.
func (p *Page) HTML() string {
	return "<!DOCTYPE html><html><head><title>forum</title></head><body><div class=\"sidebar\"></div>" +
		strings.Join(p.parts, "\n") + "</body></html>"
}

// Reader returns the document as a reader.
func (p *Page) Reader() io.Reader {
	return strings.NewReader(p.HTML())
}

// DiscardLogger drops all output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenStore opens an in-memory store closed at test cleanup.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{Log: DiscardLogger()})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}
