package filtering

import (
	"strings"

	"golang.org/x/net/html"

	"forumfilter/pkg/blocklist"
	"forumfilter/pkg/dom"
)

// PostAuthor reads the author of a post: the author element is a direct child
// of the post, and the name is the text of that element's first element
// child's first element child. Any missing step yields false.
func (e *Engine) PostAuthor(post *html.Node) (string, bool) {
	author := e.postAuthor.ChildMatching(post)
	if author == nil {
		return "", false
	}
	inner := dom.FirstElementChild(dom.FirstElementChild(author))
	if inner == nil {
		return "", false
	}
	name := strings.TrimSpace(dom.TextContent(inner))
	if name == "" {
		return "", false
	}
	return name, true
}

// ReplyAuthor reads the author of a reply: the leading whitespace-delimited
// token of the poster listing's first item, case-folded. A listing such as
// "exlibris (21.04.25 17:07:41)" yields "exlibris".
func (e *Engine) ReplyAuthor(reply *html.Node) (string, bool) {
	text, ok := e.posterText(reply, e.replyAuthor)
	if !ok {
		return "", false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	return blocklist.Normalize(fields[0]), true
}

// ReplyText returns the trimmed text of the poster listing's first direct
// item. The hide-list matches names anywhere inside it.
func (e *Engine) ReplyText(reply *html.Node) (string, bool) {
	return e.posterText(reply, e.replyItem)
}

func (e *Engine) posterText(reply *html.Node, item dom.Selector) (string, bool) {
	poster := e.replyPoster.Query(reply)
	if poster == nil {
		return "", false
	}
	first := item.Query(poster)
	if first == nil {
		return "", false
	}
	text := strings.TrimSpace(dom.TextContent(first))
	if text == "" {
		return "", false
	}
	return text, true
}
