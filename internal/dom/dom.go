// Package dom abstracts the document a matching pass runs against. The
// matcher and tagger only see the Document interface; concrete documents are
// either a parsed static page or an attached live browser page.
package dom

import (
	"context"
	"errors"
	"time"
)

// Node is an opaque handle to one element of a Document. Handles are only
// meaningful against the document that produced them.
type Node interface {
	// Key identifies the concrete element for the lifetime of the document
	// instance. Two handles to the same element share a key.
	Key() string
}

// Document is the query surface the engine works through.
type Document interface {
	// Query returns handles for every element matching the selector list, in
	// document order. Invalid CSS yields a *selector.SyntaxError.
	Query(ctx context.Context, sel string) ([]Node, error)

	// Attribute reads an attribute from the element.
	Attribute(ctx context.Context, n Node, name string) (string, bool, error)

	// SetAttribute durably marks the concrete element. The mark survives as
	// long as the element itself does.
	SetAttribute(ctx context.Context, n Node, name, value string) error

	// Text returns the combined text content of the element.
	Text(ctx context.Context, n Node) (string, error)

	// Path returns a structural path for the element, for reporting only.
	Path(ctx context.Context, n Node) (string, error)
}

// Source opens the document behind a URL.
type Source interface {
	Open(ctx context.Context, url string) (Document, error)
}

// ErrForeignNode is returned when a node handle is presented to a document
// that did not produce it.
var ErrForeignNode = errors.New("dom: node does not belong to this document")

// valueOnlyContext inherits values from its parent but not cancellation.
// Cleanup and shared computations use it so an abandoning caller cannot
// cancel work other callers still depend on.
type valueOnlyContext struct{ context.Context }

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

// Detach returns a context that keeps ctx's values but ignores its
// cancellation.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

// CombineContext derives a context from sessionCtx (keeping its values,
// including any chromedp session) that is additionally cancelled when opCtx
// is. Callers control timeouts through opCtx while the session context keeps
// carrying the page binding.
func CombineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(sessionCtx)

	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}
