package filtering

import (
	"log/slog"
	"strings"

	"golang.org/x/net/html"

	"forumfilter/pkg/blocklist"
	"forumfilter/pkg/dom"
)

// Engine applies the block-list and hide-list to a parsed forum page.
// It holds no per-page state; callers serialise access to a document.
type Engine struct {
	post        dom.Selector
	postAuthor  dom.Selector
	reply       dom.Selector
	replyPoster dom.Selector
	replyAuthor dom.Selector
	replyItem   dom.Selector
	log         *slog.Logger
	hiddenLog   *hiddenLogger
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Selectors     Selectors
	HiddenLogPath string
	Log           *slog.Logger
}

// NewEngine constructs an Engine. Empty selectors fall back to the defaults.
func NewEngine(opts EngineOptions) *Engine {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	sel := withDefaults(opts.Selectors)
	return &Engine{
		post:        dom.Compile(sel.Post),
		postAuthor:  dom.Compile(sel.PostAuthor),
		reply:       dom.Compile(sel.Reply),
		replyPoster: dom.Compile(sel.ReplyPoster),
		replyAuthor: dom.Compile(sel.ReplyAuthor),
		replyItem:   dom.Compile("> " + sel.ReplyAuthor),
		log:         log,
		hiddenLog:   newHiddenLogger(opts.HiddenLogPath, log),
	}
}

// Close releases the hidden-item log.
func (e *Engine) Close() error {
	return e.hiddenLog.Close()
}

func withDefaults(sel Selectors) Selectors {
	def := DefaultSelectors()
	if sel.Post == "" {
		sel.Post = def.Post
	}
	if sel.PostAuthor == "" {
		sel.PostAuthor = def.PostAuthor
	}
	if sel.Reply == "" {
		sel.Reply = def.Reply
	}
	if sel.ReplyPoster == "" {
		sel.ReplyPoster = def.ReplyPoster
	}
	if sel.ReplyAuthor == "" {
		sel.ReplyAuthor = def.ReplyAuthor
	}
	return sel
}

// Scan runs the post pass and the reply pass for the block-list. It returns
// false, leaving the page untouched, when the list is empty.
func (e *Engine) Scan(doc *html.Node, authors []blocklist.BlockedAuthor) (Counts, bool) {
	if len(authors) == 0 {
		e.log.Debug("block-list empty, nothing to filter")
		return Counts{}, false
	}
	set := blocklist.NewAuthorSet(authors)
	counts := NewCounts(set.Entries())
	e.FilterPosts(doc, set, counts)
	e.FilterReplies(doc, set, counts)

	questions, answers := counts.Total()
	e.log.Debug("scan finished", "authors", set.Len(), "questions_hidden", questions, "answers_hidden", answers)
	return counts, true
}

// FilterPosts hides posts of authors whose mode covers questions and counts
// them. Posts without a readable author stay visible.
func (e *Engine) FilterPosts(doc *html.Node, set *blocklist.AuthorSet, counts Counts) {
	for _, post := range e.post.QueryAll(doc) {
		dom.SetHidden(post, LayerAuthors, false)

		name, ok := e.PostAuthor(post)
		if !ok {
			continue
		}
		blocked, ok := set.Match(name)
		if !ok || !blocked.Mode.HidesQuestions() {
			continue
		}
		dom.SetHidden(post, LayerAuthors, true)
		counts.Questions[blocked.Name]++
		e.hiddenLog.Log(LayerAuthors, "post", blocked.Name)
	}
}

// FilterReplies hides replies of authors whose mode covers replies. A reply
// is attributed to at most one blocked author.
func (e *Engine) FilterReplies(doc *html.Node, set *blocklist.AuthorSet, counts Counts) {
	for _, reply := range e.reply.QueryAll(doc) {
		dom.SetHidden(reply, LayerAuthors, false)

		author, ok := e.ReplyAuthor(reply)
		if !ok {
			continue
		}
		blocked, ok := set.Match(author)
		if !ok || !blocked.Mode.HidesReplies() {
			continue
		}
		dom.SetHidden(reply, LayerAuthors, true)
		counts.Answers[blocked.Name]++
		e.hiddenLog.Log(LayerAuthors, "reply", blocked.Name)
	}
}

// HidePosts applies the hide-list to posts by exact, case-insensitive author
// match and returns how many posts it hid.
func (e *Engine) HidePosts(doc *html.Node, names []string) int {
	hidden := 0
	for _, post := range e.post.QueryAll(doc) {
		dom.SetHidden(post, LayerUsers, false)

		author, ok := e.PostAuthor(post)
		if !ok {
			continue
		}
		for _, name := range names {
			if blocklist.SameName(author, name) {
				dom.SetHidden(post, LayerUsers, true)
				e.hiddenLog.Log(LayerUsers, "post", name)
				hidden++
				break
			}
		}
	}
	return hidden
}

// HideReplies applies the hide-list to replies. For each name only the first
// reply whose poster text contains the name, case-insensitively, is hidden.
// This is a substring match, unlike the block-list's exact match.
func (e *Engine) HideReplies(doc *html.Node, names []string) int {
	replies := e.reply.QueryAll(doc)
	for _, reply := range replies {
		dom.SetHidden(reply, LayerUsers, false)
	}

	hidden := 0
	for _, name := range names {
		needle := blocklist.Normalize(name)
		if needle == "" {
			continue
		}
		for _, reply := range replies {
			text, ok := e.ReplyText(reply)
			if !ok || !strings.Contains(blocklist.Normalize(text), needle) {
				continue
			}
			dom.SetHidden(reply, LayerUsers, true)
			e.hiddenLog.Log(LayerUsers, "reply", name)
			hidden++
			break
		}
	}
	return hidden
}
