package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

const (
	layerPrefix = "data-forumfilter-"
	savedStyle  = layerPrefix + "style"
	hiddenStyle = "display:none"
)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return doc, nil
}

// Render writes the document back out.
func Render(w io.Writer, doc *html.Node) error {
	if err := html.Render(w, doc); err != nil {
		return fmt.Errorf("render HTML: %w", err)
	}
	return nil
}

// Attr returns the value of an attribute, or "".
func Attr(n *html.Node, key string) string {
	val, _ := lookupAttr(n, key)
	return val
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

// FirstElementChild skips text and comment nodes.
func FirstElementChild(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// TextContent concatenates all descendant text like the DOM property.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				b.WriteString(c.Data)
			case html.ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

// SetHidden marks or clears n as hidden by layer and updates its inline
// style. A node stays hidden while any layer hides it; the original style is
// restored once no layer does.
func SetHidden(n *html.Node, layer string, hidden bool) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	key := layerPrefix + layer
	if hidden {
		SetAttr(n, key, "hidden")
	} else {
		RemoveAttr(n, key)
	}
	syncDisplay(n)
}

// Hidden reports whether any layer hides n.
func Hidden(n *html.Node) bool {
	if n == nil {
		return false
	}
	for _, attr := range n.Attr {
		if attr.Key != savedStyle && strings.HasPrefix(attr.Key, layerPrefix) {
			return true
		}
	}
	return false
}

// HiddenBy reports whether layer hides n.
func HiddenBy(n *html.Node, layer string) bool {
	_, ok := lookupAttr(n, layerPrefix+layer)
	return ok
}

func syncDisplay(n *html.Node) {
	original, saved := lookupAttr(n, savedStyle)
	if Hidden(n) {
		if !saved {
			SetAttr(n, savedStyle, Attr(n, "style"))
		}
		SetAttr(n, "style", hiddenStyle)
		return
	}
	if !saved {
		return
	}
	RemoveAttr(n, savedStyle)
	if original == "" {
		RemoveAttr(n, "style")
		return
	}
	SetAttr(n, "style", original)
}
