// Package dom holds the small set of tree operations the inliner needs on
// top of golang.org/x/net/html: attribute access with explicit presence,
// text replacement, and in-place node replacement.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Parse parses a complete HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc, nil
}

// Render writes n and its descendants as HTML.
func Render(w io.Writer, n *html.Node) error {
	if err := html.Render(w, n); err != nil {
		return fmt.Errorf("rendering HTML: %w", err)
	}
	return nil
}

// RenderString renders n to a string. Render errors only come from the
// writer, so a bytes.Buffer never fails.
func RenderString(n *html.Node) string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String()
}

// Attr returns the value of the attribute named key and whether it exists.
// A key of the form "prefix:name" also matches a namespaced attribute.
func Attr(n *html.Node, key string) (string, bool) {
	if i := attrIndex(n, key); i >= 0 {
		return n.Attr[i].Val, true
	}
	return "", false
}

// SetAttr sets key to val, replacing an existing value.
func SetAttr(n *html.Node, key, val string) {
	if i := attrIndex(n, key); i >= 0 {
		n.Attr[i].Val = val
		return
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes every attribute named key. Reports whether anything
// was removed.
func RemoveAttr(n *html.Node, key string) bool {
	kept := n.Attr[:0]
	removed := false
	for _, a := range n.Attr {
		if attrMatches(a, key) {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
	return removed
}

func attrIndex(n *html.Node, key string) int {
	if n == nil {
		return -1
	}
	for i, a := range n.Attr {
		if attrMatches(a, key) {
			return i
		}
	}
	return -1
}

func attrMatches(a html.Attribute, key string) bool {
	if a.Namespace == "" {
		return a.Key == key
	}
	return a.Namespace+":"+a.Key == key
}

// SetText replaces all children of n with a single text node.
func SetText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

// Text returns the concatenated text content of n.
func Text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// Detach removes n from its parent, if it has one.
func Detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// ReplaceWith puts repl at old's position in the tree and removes old.
// repl is detached from wherever it currently lives first.
func ReplaceWith(old, repl *html.Node) error {
	if old.Parent == nil {
		return fmt.Errorf("replacing <%s>: node has no parent", old.Data)
	}
	Detach(repl)
	old.Parent.InsertBefore(repl, old)
	old.Parent.RemoveChild(old)
	return nil
}
