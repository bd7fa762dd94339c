// Package dom holds the small part of a DOM the filter needs: compound
// selectors, text extraction and per-layer visibility over golang.org/x/net/html
// trees.
package dom

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Selector is a compiled CSS selector. Supported syntax:
//   - tag: "div", "li"
//   - .class, chained: ".bottomright.duclsact"
//   - #id: "#main"
//   - tag.class#id combinations
//   - descendant (space) and child (">") combinators
type Selector struct {
	steps []step
}

type step struct {
	compound compound
	// child restricts the step to direct children of the previous match.
	child bool
}

type compound struct {
	tag     string
	id      string
	classes []string
}

// Compile parses sel. An empty selector matches nothing.
func Compile(sel string) Selector {
	var s Selector
	child := false
	for _, token := range tokenize(sel) {
		if token == ">" {
			child = true
			continue
		}
		s.steps = append(s.steps, step{compound: parseCompound(token), child: child})
		child = false
	}
	return s
}

// String is used in log output.
func (s Selector) String() string {
	var parts []string
	for i, st := range s.steps {
		if i > 0 && st.child {
			parts = append(parts, ">")
		}
		parts = append(parts, st.compound.String())
	}
	return strings.Join(parts, " ")
}

func tokenize(sel string) []string {
	sel = strings.ReplaceAll(sel, ">", " > ")
	return strings.Fields(sel)
}

func parseCompound(token string) compound {
	var c compound
	if idx := strings.IndexByte(token, '#'); idx >= 0 {
		rest := token[idx+1:]
		token = token[:idx]
		if dot := strings.IndexByte(rest, '.'); dot >= 0 {
			token += rest[dot:]
			rest = rest[:dot]
		}
		c.id = rest
	}
	parts := strings.Split(token, ".")
	c.tag = strings.ToLower(parts[0])
	for _, class := range parts[1:] {
		if class != "" {
			c.classes = append(c.classes, class)
		}
	}
	return c
}

func (c compound) String() string {
	var b strings.Builder
	b.WriteString(c.tag)
	if c.id != "" {
		b.WriteString("#" + c.id)
	}
	for _, class := range c.classes {
		b.WriteString("." + class)
	}
	return b.String()
}

func (c compound) matches(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && Attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		classes := strings.Fields(Attr(n, "class"))
		for _, want := range c.classes {
			if !slices.Contains(classes, want) {
				return false
			}
		}
	}
	return true
}

// Matches reports whether n itself matches the last compound of s. Only
// single-compound selectors are meaningful here.
func (s Selector) Matches(n *html.Node) bool {
	if len(s.steps) == 0 {
		return false
	}
	return s.steps[len(s.steps)-1].compound.matches(n)
}

// QueryAll returns the descendants of root matching s in document order.
func (s Selector) QueryAll(root *html.Node) []*html.Node {
	if root == nil || len(s.steps) == 0 {
		return nil
	}
	matches := []*html.Node{root}
	for _, st := range s.steps {
		var next []*html.Node
		seen := make(map[*html.Node]struct{})
		for _, parent := range matches {
			var found []*html.Node
			if st.child {
				found = childrenMatching(parent, st.compound)
			} else {
				found = descendantsMatching(parent, st.compound)
			}
			for _, n := range found {
				if _, ok := seen[n]; ok {
					continue
				}
				seen[n] = struct{}{}
				next = append(next, n)
			}
		}
		matches = next
		if len(matches) == 0 {
			return nil
		}
	}
	return matches
}

// Query returns the first descendant of root matching s, or nil.
func (s Selector) Query(root *html.Node) *html.Node {
	if matches := s.QueryAll(root); len(matches) > 0 {
		return matches[0]
	}
	return nil
}

// ChildMatching returns the first direct child of parent matching the last
// compound of s.
func (s Selector) ChildMatching(parent *html.Node) *html.Node {
	if parent == nil {
		return nil
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if s.Matches(c) {
			return c
		}
	}
	return nil
}

func childrenMatching(parent *html.Node, c compound) []*html.Node {
	var results []*html.Node
	for n := parent.FirstChild; n != nil; n = n.NextSibling {
		if c.matches(n) {
			results = append(results, n)
		}
	}
	return results
}

func descendantsMatching(root *html.Node, c compound) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if c.matches(child) {
				results = append(results, child)
			}
			walk(child)
		}
	}
	walk(root)
	return results
}
