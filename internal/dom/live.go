package dom

import (
	"context"
	"strconv"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Jasonzhangf/webauto-sub011/internal/selector"
)

// LiveDocument is a Document over a page owned by an external browser
// session. The engine only attaches to the chromedp context it is handed;
// browser lifecycle stays with the collaborator that created it.
type LiveDocument struct {
	sessionCtx context.Context
	logger     *zap.Logger
	closers    []context.CancelFunc

	// attrMu guards the Attributes slices of cached cdp nodes; the document
	// is shared between concurrent callers.
	attrMu sync.RWMutex
}

// Close releases the attached page context. Safe on a zero closer list.
func (d *LiveDocument) Close() error {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	return nil
}

// NewLive wraps an existing chromedp page context.
func NewLive(sessionCtx context.Context, logger *zap.Logger) *LiveDocument {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveDocument{
		sessionCtx: sessionCtx,
		logger:     logger.Named("livedoc"),
	}
}

type liveNode struct {
	doc  *LiveDocument
	node *cdp.Node
}

func (n *liveNode) Key() string {
	return strconv.FormatInt(int64(n.node.BackendNodeID), 10)
}

func (d *LiveDocument) Query(ctx context.Context, sel string) ([]Node, error) {
	// Validate locally first so bad CSS surfaces as a typed error instead of
	// an opaque CDP failure.
	if _, err := cascadia.Compile(sel); err != nil {
		return nil, &selector.SyntaxError{Selector: sel, Err: err}
	}

	runCtx, cancel := CombineContext(d.sessionCtx, ctx)
	defer cancel()

	var nodes []*cdp.Node
	err := chromedp.Run(runCtx,
		chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
	)
	if err != nil {
		return nil, err
	}

	handles := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		handles = append(handles, &liveNode{doc: d, node: n})
	}
	return handles, nil
}

func (d *LiveDocument) Attribute(_ context.Context, n Node, name string) (string, bool, error) {
	ln, err := d.own(n)
	if err != nil {
		return "", false, err
	}
	d.attrMu.RLock()
	defer d.attrMu.RUnlock()
	attrs := ln.node.Attributes
	for i := 0; i+1 < len(attrs); i += 2 {
		if attrs[i] == name {
			return attrs[i+1], true, nil
		}
	}
	return "", false, nil
}

func (d *LiveDocument) SetAttribute(ctx context.Context, n Node, name, value string) error {
	ln, err := d.own(n)
	if err != nil {
		return err
	}

	runCtx, cancel := CombineContext(d.sessionCtx, ctx)
	defer cancel()

	err = chromedp.Run(runCtx,
		chromedp.SetAttributeValue([]cdp.NodeID{ln.node.NodeID}, name, value, chromedp.ByNodeID),
	)
	if err != nil {
		// The element commonly goes stale between query and mutation on
		// virtualized pages; the caller re-resolves.
		d.logger.Debug("Failed to set attribute on live node.",
			zap.String("attr", name), zap.Error(err))
		return err
	}

	// Keep the cached handle consistent with the page.
	d.attrMu.Lock()
	ln.node.Attributes = append(ln.node.Attributes, name, value)
	d.attrMu.Unlock()
	return nil
}

func (d *LiveDocument) Text(ctx context.Context, n Node) (string, error) {
	ln, err := d.own(n)
	if err != nil {
		return "", err
	}

	runCtx, cancel := CombineContext(d.sessionCtx, ctx)
	defer cancel()

	var text string
	err = chromedp.Run(runCtx,
		chromedp.Text([]cdp.NodeID{ln.node.NodeID}, &text, chromedp.ByNodeID),
	)
	return text, err
}

func (d *LiveDocument) Path(_ context.Context, n Node) (string, error) {
	ln, err := d.own(n)
	if err != nil {
		return "", err
	}
	return ln.node.FullXPath(), nil
}

func (d *LiveDocument) own(n Node) (*liveNode, error) {
	ln, ok := n.(*liveNode)
	if !ok || ln.doc != d {
		return nil, ErrForeignNode
	}
	return ln, nil
}
