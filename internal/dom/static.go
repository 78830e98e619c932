package dom

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/Jasonzhangf/webauto-sub011/internal/selector"
)

// StaticDocument is a Document over a parsed HTML tree. It is the workhorse
// for fetched pages and test fixtures; attribute marks mutate the tree in
// place, so tagged nodes stay addressable for the document's lifetime.
// Documents are shared between concurrent callers, so every traversal takes
// the tree lock: reads share it, attribute marks take it exclusively.
type StaticDocument struct {
	doc *goquery.Document

	mu       sync.RWMutex // guards the html.Node tree
	selCache sync.Map     // selector string -> cascadia.Selector
}

// ParseStatic builds a StaticDocument from an HTML stream.
func ParseStatic(r io.Reader) (*StaticDocument, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &StaticDocument{doc: doc}, nil
}

// ParseStaticString is a convenience wrapper for fixtures.
func ParseStaticString(s string) (*StaticDocument, error) {
	return ParseStatic(strings.NewReader(s))
}

type staticNode struct {
	doc *StaticDocument
	sel *goquery.Selection // single-node selection
}

func (n *staticNode) Key() string {
	return fmt.Sprintf("%p", n.sel.Nodes[0])
}

func (d *StaticDocument) compile(sel string) (cascadia.Selector, error) {
	if cached, ok := d.selCache.Load(sel); ok {
		return cached.(cascadia.Selector), nil
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, &selector.SyntaxError{Selector: sel, Err: err}
	}
	d.selCache.Store(sel, compiled)
	return compiled, nil
}

func (d *StaticDocument) Query(ctx context.Context, sel string) ([]Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compiled, err := d.compile(sel)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	matched := d.doc.FindMatcher(compiled)
	nodes := make([]Node, 0, matched.Length())
	matched.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &staticNode{doc: d, sel: s})
	})
	d.mu.RUnlock()
	return nodes, nil
}

func (d *StaticDocument) Attribute(_ context.Context, n Node, name string) (string, bool, error) {
	sn, err := d.own(n)
	if err != nil {
		return "", false, err
	}
	d.mu.RLock()
	val, ok := sn.sel.Attr(name)
	d.mu.RUnlock()
	return val, ok, nil
}

func (d *StaticDocument) SetAttribute(_ context.Context, n Node, name, value string) error {
	sn, err := d.own(n)
	if err != nil {
		return err
	}
	d.mu.Lock()
	sn.sel.SetAttr(name, value)
	d.mu.Unlock()
	return nil
}

func (d *StaticDocument) Text(_ context.Context, n Node) (string, error) {
	sn, err := d.own(n)
	if err != nil {
		return "", err
	}
	d.mu.RLock()
	text := sn.sel.Text()
	d.mu.RUnlock()
	return strings.TrimSpace(text), nil
}

// Path renders a tag:nth-of-type chain from the document root down to the
// node. Reporting only; never used for re-selection.
func (d *StaticDocument) Path(_ context.Context, n Node) (string, error) {
	sn, err := d.own(n)
	if err != nil {
		return "", err
	}

	d.mu.RLock()
	var segments []string
	for node := sn.sel.Nodes[0]; node != nil && node.Type == html.ElementNode; node = node.Parent {
		segments = append([]string{pathSegment(node)}, segments...)
	}
	d.mu.RUnlock()
	return strings.Join(segments, " > "), nil
}

func (d *StaticDocument) own(n Node) (*staticNode, error) {
	sn, ok := n.(*staticNode)
	if !ok || sn.doc != d {
		return nil, ErrForeignNode
	}
	return sn, nil
}

func pathSegment(node *html.Node) string {
	index := 1
	for sib := node.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode && sib.Data == node.Data {
			index++
		}
	}
	if index == 1 {
		return node.Data
	}
	return fmt.Sprintf("%s:nth-of-type(%d)", node.Data, index)
}
