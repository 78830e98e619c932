// Package tagger durably marks concrete DOM nodes so they can be re-selected
// by a short, stable selector instead of a fragile positional index.
// Virtualized lists re-render their nodes on scroll, so an nth-of-type index
// is only meaningful at the instant it is resolved; the marker attribute
// pins that resolution to the node itself.
package tagger

import (
	"context"
	"fmt"
	"hash"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Jasonzhangf/webauto-sub011/internal/dom"
	"github.com/Jasonzhangf/webauto-sub011/internal/selector"
)

// MarkerAttr is the attribute used to mark tagged nodes.
const MarkerAttr = "data-webauto-id"

// hasherPool reuses FNV hasher instances to reduce allocations while
// generating marker ids.
var hasherPool = sync.Pool{
	New: func() interface{} {
		return fnv.New64a()
	},
}

// Result is the outcome of a TagByIndex call.
type Result struct {
	NewScopeSelector string
	ElementFound     bool
}

// IndexError reports a requested index beyond the available matches. The
// document is left untouched.
type IndexError struct {
	Index int
	Count int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index %d out of range: %d element(s) matched", e.Index, e.Count)
}

// Tagger generates marker ids and applies them to documents.
type Tagger struct {
	logger *zap.Logger
	seq    atomic.Uint64
}

func New(logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagger{logger: logger.Named("tagger")}
}

// TagByIndex locates the index-th element matching itemSelector inside
// scopeSelector at call time and marks it. Tagging the same element twice is
// idempotent: the existing marker is reused and the same selector returned.
// The returned selector stays valid only while the concrete node exists.
func (t *Tagger) TagByIndex(ctx context.Context, doc dom.Document, scopeSelector, itemSelector string, index int) (Result, error) {
	composed := selector.Compose(scopeSelector, itemSelector)

	nodes, err := doc.Query(ctx, composed)
	if err != nil {
		return Result{}, err
	}
	if index < 0 || index >= len(nodes) {
		return Result{}, &IndexError{Index: index, Count: len(nodes)}
	}

	sel, err := t.Mark(ctx, doc, nodes[index])
	if err != nil {
		return Result{}, err
	}
	return Result{NewScopeSelector: sel, ElementFound: true}, nil
}

// Mark tags a single resolved node and returns the selector that re-selects
// it directly. An already-marked node keeps its marker.
func (t *Tagger) Mark(ctx context.Context, doc dom.Document, n dom.Node) (string, error) {
	if existing, ok, err := doc.Attribute(ctx, n, MarkerAttr); err != nil {
		return "", err
	} else if ok && existing != "" {
		return markerSelector(existing), nil
	}

	id := t.markerID(n)
	if err := doc.SetAttribute(ctx, n, MarkerAttr, id); err != nil {
		return "", err
	}

	t.logger.Debug("Tagged node.", zap.String("marker", id), zap.String("node", n.Key()))
	return markerSelector(id), nil
}

// markerID derives a compact id from the node identity and an arena counter,
// so ids never collide within a process even when nodes are recycled.
func (t *Tagger) markerID(n dom.Node) string {
	hasher := hasherPool.Get().(hash.Hash64)
	defer func() {
		hasher.Reset()
		hasherPool.Put(hasher)
	}()

	_, _ = hasher.Write([]byte(n.Key()))
	_, _ = hasher.Write([]byte(strconv.FormatUint(t.seq.Add(1), 16)))
	return "wa-" + strconv.FormatUint(hasher.Sum64(), 16)
}

func markerSelector(id string) string {
	return fmt.Sprintf(`[%s="%s"]`, MarkerAttr, id)
}
