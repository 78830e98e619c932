// Package matcher walks a site's container definition tree against a live
// document and produces a matched snapshot forest.
package matcher

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Jasonzhangf/webauto-sub011/api/schemas"
	"github.com/Jasonzhangf/webauto-sub011/internal/dom"
	"github.com/Jasonzhangf/webauto-sub011/internal/selector"
	"github.com/Jasonzhangf/webauto-sub011/internal/tagger"
)

// Snapshot failure reasons.
const (
	FailTimeout         = "timeout"
	FailInvalidSelector = "invalid_selector"
	FailUnknown         = "unknown_definition"
)

// UsageRecorder receives the outcome of every definition resolution.
type UsageRecorder interface {
	RecordUsage(site, id string, success bool)
}

// NopUsage discards usage stats. Used by one-shot CLI matches.
type NopUsage struct{}

func (NopUsage) RecordUsage(string, string, bool) {}

// DefaultPollInterval paces the retry loop while waiting for a definition's
// elements to appear.
const DefaultPollInterval = 50 * time.Millisecond

// Matcher resolves container definitions against documents.
type Matcher struct {
	logger       *zap.Logger
	tagger       *tagger.Tagger
	usage        UsageRecorder
	pollInterval time.Duration
}

// New builds a matcher. A nil usage recorder disables stat tracking.
func New(logger *zap.Logger, tg *tagger.Tagger, usage UsageRecorder, pollInterval time.Duration) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if usage == nil {
		usage = NopUsage{}
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Matcher{
		logger:       logger.Named("matcher"),
		tagger:       tg,
		usage:        usage,
		pollInterval: pollInterval,
	}
}

// Match resolves the given roots (or the library's roots when nil) against
// the document. Depth-first, breadth-bounded: recursion stops at maxDepth
// levels, and at each level at most maxChildren matched nodes are expanded;
// the remainder is counted but not walked. A definition that fails to match
// is reflected as Matched=false and its subtree skipped; its siblings are
// still evaluated.
func (m *Matcher) Match(ctx context.Context, doc dom.Document, site string, lib *schemas.SiteLibrary, rootIDs []string, maxDepth, maxChildren int) ([]schemas.MatchSnapshot, error) {
	if len(rootIDs) == 0 {
		rootIDs = lib.Roots
	}
	if maxDepth <= 0 {
		maxDepth = 1
	}

	defs := make([]*schemas.ContainerDefinition, 0, len(rootIDs))
	var snapshots []schemas.MatchSnapshot
	for _, id := range rootIDs {
		def, ok := lib.Containers[id]
		if !ok {
			snapshots = append(snapshots, schemas.MatchSnapshot{ID: id, FailReason: FailUnknown})
			continue
		}
		defs = append(defs, def)
	}
	orderDefinitions(defs)

	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return snapshots, err
		}
		// Roots have no parent scope; clauses run directly against the
		// document.
		snaps, err := m.matchDefinition(ctx, doc, site, lib, def, "", 0, maxDepth, maxChildren)
		if err != nil {
			return snapshots, err
		}
		snapshots = append(snapshots, snaps...)
	}
	return snapshots, nil
}

// matchDefinition resolves one definition within a parent scope and expands
// its matched nodes. One snapshot per expanded node; a single failed
// snapshot otherwise.
func (m *Matcher) matchDefinition(ctx context.Context, doc dom.Document, site string, lib *schemas.SiteLibrary, def *schemas.ContainerDefinition, parentScope string, depth, maxDepth, maxChildren int) ([]schemas.MatchSnapshot, error) {
	nodes, clauseUsed, failReason, err := m.resolve(ctx, doc, def, parentScope)
	if err != nil {
		return nil, err
	}

	if failReason != "" {
		m.usage.RecordUsage(site, def.ID, false)
		m.logger.Debug("Definition unmatched.",
			zap.String("site", site),
			zap.String("id", def.ID),
			zap.String("reason", failReason))
		return []schemas.MatchSnapshot{{ID: def.ID, FailReason: failReason}}, nil
	}

	m.usage.RecordUsage(site, def.ID, true)

	total := len(nodes)
	expand := total
	if maxChildren > 0 && expand > maxChildren {
		expand = maxChildren
	}

	children := m.childDefinitions(lib, def)

	snapshots := make([]schemas.MatchSnapshot, 0, expand)
	for i := 0; i < expand; i++ {
		if err := ctx.Err(); err != nil {
			return snapshots, err
		}

		node := nodes[i]
		scopeSel, err := m.tagger.Mark(ctx, doc, node)
		if err != nil {
			// Stale node between query and tagging; count it, keep going.
			m.logger.Debug("Failed to tag matched node.",
				zap.String("id", def.ID), zap.Int("index", i), zap.Error(err))
			continue
		}
		path, err := doc.Path(ctx, node)
		if err != nil {
			path = ""
		}

		snap := schemas.MatchSnapshot{
			ID:            def.ID,
			SelectorUsed:  clauseUsed,
			Matched:       true,
			DOMPath:       path,
			ScopeSelector: scopeSel,
			Index:         i,
			TotalMatches:  total,
		}

		if depth+1 < maxDepth {
			for _, child := range children {
				childSnaps, err := m.matchDefinition(ctx, doc, site, lib, child, scopeSel, depth+1, maxDepth, maxChildren)
				if err != nil {
					return snapshots, err
				}
				snap.Children = append(snap.Children, childSnaps...)
			}
		}

		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// resolve tries the definition's clauses in order until one is accepted,
// polling within the discovery timeout when the definition asks to wait.
// A clause matching more nodes than the uniqueness threshold allows is
// rejected in favor of the next one.
func (m *Matcher) resolve(ctx context.Context, doc dom.Document, def *schemas.ContainerDefinition, parentScope string) ([]dom.Node, string, string, error) {
	deadline := time.Now().Add(time.Duration(def.Discovery.TimeoutMs) * time.Millisecond)
	syntaxReported := false

	for {
		validClauses := 0
		for _, raw := range def.Selectors {
			composed := selector.Compose(parentScope, raw)

			nodes, err := doc.Query(ctx, composed)
			if err != nil {
				var synErr *selector.SyntaxError
				if errors.As(err, &synErr) {
					// Reported once per affected definition, never fatal.
					if !syntaxReported {
						syntaxReported = true
						m.logger.Warn("Skipping invalid selector clause.",
							zap.String("id", def.ID), zap.Error(synErr))
					}
					continue
				}
				return nil, "", "", err
			}
			validClauses++

			if len(nodes) == 0 {
				continue
			}
			if threshold := def.Discovery.UniquenessThreshold; threshold > 0 && len(nodes) > threshold {
				// Ambiguous under the definition's uniqueness policy.
				continue
			}
			return nodes, composed, "", nil
		}

		if validClauses == 0 {
			return nil, "", FailInvalidSelector, nil
		}
		if !def.Discovery.WaitForElements || !time.Now().Before(deadline) {
			return nil, "", FailTimeout, nil
		}

		select {
		case <-ctx.Done():
			return nil, "", "", ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
}

// childDefinitions resolves and orders a definition's children for the walk.
func (m *Matcher) childDefinitions(lib *schemas.SiteLibrary, def *schemas.ContainerDefinition) []*schemas.ContainerDefinition {
	children := make([]*schemas.ContainerDefinition, 0, len(def.Children))
	for _, id := range def.Children {
		if child, ok := lib.Containers[id]; ok {
			children = append(children, child)
		}
	}
	orderDefinitions(children)
	return children
}

// orderDefinitions sorts siblings competing for the same slot: lower
// priority first, higher specificity as tie-break, id as the final
// deterministic fallback.
func orderDefinitions(defs []*schemas.ContainerDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Priority != defs[j].Priority {
			return defs[i].Priority < defs[j].Priority
		}
		if defs[i].Specificity != defs[j].Specificity {
			return defs[i].Specificity > defs[j].Specificity
		}
		return defs[i].ID < defs[j].ID
	})
}
