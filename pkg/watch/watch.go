// Package watch keeps filtered copies of forum pages on disk up to date as
// the pages or the lists change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"forumfilter/pkg/dom"
	"forumfilter/pkg/page"
)

// DefaultSettleDelay is how long a page file must stay unchanged before it is
// re-read.
const DefaultSettleDelay = 200 * time.Millisecond

// Target pairs a watched page with the file its filtered copy is written to.
type Target struct {
	Input  string
	Output string
}

// Options configures a Watcher.
type Options struct {
	Targets     []Target
	Pages       page.Deps
	SettleDelay time.Duration
	Log         *slog.Logger
}

type target struct {
	Target
	mu   sync.Mutex // serialises output writes
	page *page.Page
}

// Watcher re-filters page files on change.
type Watcher struct {
	opts    Options
	log     *slog.Logger
	watcher *fsnotify.Watcher
	targets map[string]*target

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
	done    chan struct{}
}

// New prepares watches on the directories of every target input.
func New(opts Options) (*Watcher, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		opts:    opts,
		log:     log,
		watcher: fw,
		targets: make(map[string]*target, len(opts.Targets)),
		pending: make(map[string]*time.Timer),
		ready:   make(chan string, 16),
		done:    make(chan struct{}),
	}
	dirs := make(map[string]bool)
	for _, t := range opts.Targets {
		input := filepath.Clean(t.Input)
		w.targets[input] = &target{Target: Target{Input: input, Output: filepath.Clean(t.Output)}}
		dirs[filepath.Dir(input)] = true
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		log.Debug("added watch", "path", dir)
	}
	return w, nil
}

// Run filters every existing input once, then follows changes until ctx is
// done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()

	for input := range w.targets {
		if _, err := os.Stat(input); err == nil {
			w.reload(ctx, input)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch error", "error", err)
		case input := <-w.ready:
			w.reload(ctx, input)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	input := filepath.Clean(event.Name)
	if _, ok := w.targets[input]; !ok {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[input]; ok {
		timer.Stop()
	}
	w.pending[input] = time.AfterFunc(w.opts.SettleDelay, func() {
		w.mu.Lock()
		delete(w.pending, input)
		w.mu.Unlock()
		select {
		case w.ready <- input:
		case <-w.done:
		}
	})
}

// reload parses input and swaps it into the target's page, starting the page
// on first load.
func (w *Watcher) reload(ctx context.Context, input string) {
	t := w.targets[input]
	f, err := os.Open(input)
	if err != nil {
		w.log.Warn("failed to open page", "path", input, "error", err)
		return
	}
	doc, err := dom.Parse(f)
	_ = f.Close()
	if err != nil {
		w.log.Warn("failed to parse page", "path", input, "error", err)
		return
	}

	if t.page == nil {
		deps := w.opts.Pages
		deps.OnRefresh = func(p *page.Page) { w.write(t, p) }
		t.page = page.New(doc, deps)
		t.page.Start(ctx)
		w.log.Info("watching page", "input", t.Input, "output", t.Output, "page", t.page.ID())
		return
	}
	t.page.Replace(ctx, doc)
}

// write renders p to a temporary file next to the output and renames it into
// place.
func (w *Watcher) write(t *target, p *page.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(t.Output), ".forumfilter-*")
	if err != nil {
		w.log.Error("failed to create output", "path", t.Output, "error", err)
		return
	}
	if err := tmp.Chmod(0o644); err != nil {
		w.log.Warn("failed to set output permissions", "path", t.Output, "error", err)
	}
	if err := p.Render(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		w.log.Error("failed to render page", "path", t.Output, "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		w.log.Error("failed to write output", "path", t.Output, "error", err)
		return
	}
	if err := os.Rename(tmp.Name(), t.Output); err != nil {
		_ = os.Remove(tmp.Name())
		w.log.Error("failed to replace output", "path", t.Output, "error", err)
		return
	}
	questions, answers := p.Counts().Total()
	w.log.Debug("wrote filtered page", "path", t.Output, "questions_hidden", questions, "answers_hidden", answers)
}

func (w *Watcher) stop() {
	close(w.done)
	w.mu.Lock()
	for input, timer := range w.pending {
		timer.Stop()
		delete(w.pending, input)
	}
	w.mu.Unlock()

	for _, t := range w.targets {
		if t.page != nil {
			t.page.Close()
		}
	}
	if err := w.watcher.Close(); err != nil {
		w.log.Warn("failed to close watcher", "error", err)
	}
}
