// Package engine composes the matching pipeline behind the action boundary:
// library store, document sources, matcher, tagger, snapshot cache, and the
// audit recorder.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Jasonzhangf/webauto-sub011/api/schemas"
	"github.com/Jasonzhangf/webauto-sub011/internal/config"
	"github.com/Jasonzhangf/webauto-sub011/internal/dom"
	"github.com/Jasonzhangf/webauto-sub011/internal/library"
	"github.com/Jasonzhangf/webauto-sub011/internal/matcher"
	"github.com/Jasonzhangf/webauto-sub011/internal/snapcache"
	"github.com/Jasonzhangf/webauto-sub011/internal/store"
	"github.com/Jasonzhangf/webauto-sub011/internal/tagger"
)

// Libraries is the slice of the library store the engine depends on.
type Libraries interface {
	Library(site string) (*schemas.SiteLibrary, error)
	Roots(site string) ([]string, error)
	Definition(site, id string) (*schemas.ContainerDefinition, error)
	SubtreeByRoot(site, id string) (*library.Subtree, error)
}

// Engine executes match and tag actions. Documents are held open per
// (site, url) so markers applied during one call keep resolving in later
// calls against the same page.
type Engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	libraries Libraries
	matcher   *matcher.Matcher
	tagger    *tagger.Tagger
	cache     *snapcache.Cache
	source    dom.Source
	recorder  store.Recorder

	mu   sync.Mutex
	docs map[string]dom.Document
	// cacheKeys remembers which snapshot keys were stored per (site, url),
	// so invalidating a page can reach its cache entries. Keys vary by
	// depth/children and cannot be recomputed from the URL alone.
	cacheKeys map[string]map[string]struct{}
}

// New wires the engine. A nil recorder disables auditing; a nil cache
// disables memoization regardless of per-request flags.
func New(cfg *config.Config, logger *zap.Logger, libs Libraries, m *matcher.Matcher, tg *tagger.Tagger, cache *snapcache.Cache, source dom.Source, recorder store.Recorder) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = store.NopRecorder{}
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger.Named("engine"),
		libraries: libs,
		matcher:   m,
		tagger:    tg,
		cache:     cache,
		source:    source,
		recorder:  recorder,
		docs:      make(map[string]dom.Document),
		cacheKeys: make(map[string]map[string]struct{}),
	}
}

// Match runs a containers:match action.
func (e *Engine) Match(ctx context.Context, p schemas.MatchPayload) (*schemas.MatchResult, error) {
	start := time.Now()

	if p.MaxDepth <= 0 {
		p.MaxDepth = e.cfg.Matcher.DefaultMaxDepth
	}
	if p.MaxChildren <= 0 {
		p.MaxChildren = e.cfg.Matcher.DefaultMaxChildren
	}

	// Library load failures are the one hard failure of a match call.
	lib, err := e.libraries.Library(p.Profile)
	if err != nil {
		return nil, err
	}

	compute := func(ctx context.Context) ([]schemas.MatchSnapshot, error) {
		doc, err := e.document(ctx, p.Profile, p.URL)
		if err != nil {
			return nil, err
		}
		return e.matcher.Match(ctx, doc, p.Profile, lib, nil, p.MaxDepth, p.MaxChildren)
	}

	var (
		snaps   []schemas.MatchSnapshot
		hit     bool
		enabled = p.Cache && e.cache != nil && e.cfg.Cache.Enabled
		key     = snapcache.Key(p.Profile, p.URL, p.MaxDepth, p.MaxChildren)
	)
	if enabled {
		ttl := e.cfg.Cache.DefaultTTL
		if p.CacheTTLMs > 0 {
			ttl = time.Duration(p.CacheTTLMs) * time.Millisecond
		}
		e.trackCacheKey(p.Profile, p.URL, key)
		snaps, hit, err = e.cache.GetOrCompute(ctx, key, ttl, p.InvalidateCache, compute)
	} else {
		snaps, err = compute(ctx)
	}
	if err != nil {
		return nil, err
	}

	first := schemas.FirstMatched(snaps)
	e.audit(ctx, &store.MatchRecord{
		ID:         uuid.NewString(),
		Site:       p.Profile,
		URL:        p.URL,
		CacheKey:   key,
		CacheHit:   hit,
		Matched:    first != nil,
		Containers: len(snaps),
		Duration:   time.Since(start),
	})

	return &schemas.MatchResult{
		Matched:   first != nil,
		Container: first,
		Snapshots: snaps,
		Cache:     schemas.CacheInfo{Enabled: enabled, Hit: hit},
	}, nil
}

// Tag runs a containers:tag action. An out-of-range index is a typed,
// non-fatal outcome: the caller decides retry or backoff.
func (e *Engine) Tag(ctx context.Context, p schemas.TagPayload) (*schemas.TagResult, error) {
	doc, err := e.document(ctx, p.Profile, p.URL)
	if err != nil {
		return nil, err
	}

	res, err := e.tagger.TagByIndex(ctx, doc, p.ScopeSelector, p.ItemSelector, p.Index)
	if err != nil {
		var idxErr *tagger.IndexError
		if errors.As(err, &idxErr) {
			return &schemas.TagResult{ElementFound: false}, nil
		}
		return nil, err
	}
	return &schemas.TagResult{
		ElementFound:     res.ElementFound,
		NewScopeSelector: res.NewScopeSelector,
	}, nil
}

// InvalidateURL drops every cached snapshot stored for the given page and
// closes its open document, so the next match re-fetches and re-resolves.
// Exposed as the containers:invalidate action for when the orchestration
// layer knows the page changed.
func (e *Engine) InvalidateURL(site, url string) {
	docKey := site + "|" + url

	e.mu.Lock()
	doc, hadDoc := e.docs[docKey]
	delete(e.docs, docKey)
	keys := e.cacheKeys[docKey]
	delete(e.cacheKeys, docKey)
	e.mu.Unlock()

	if hadDoc {
		closeDocument(doc)
	}
	if e.cache != nil {
		for key := range keys {
			e.cache.Invalidate(key)
		}
	}
	e.logger.Debug("Invalidated page.",
		zap.String("site", site), zap.String("url", url),
		zap.Int("cache_keys", len(keys)))
}

func (e *Engine) trackCacheKey(site, url, key string) {
	docKey := site + "|" + url
	e.mu.Lock()
	keys, ok := e.cacheKeys[docKey]
	if !ok {
		keys = make(map[string]struct{})
		e.cacheKeys[docKey] = keys
	}
	keys[key] = struct{}{}
	e.mu.Unlock()
}

// Close releases all open documents.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, doc := range e.docs {
		closeDocument(doc)
		delete(e.docs, key)
	}
}

// document returns the open document for (site, url), opening it through
// the source on first use.
func (e *Engine) document(ctx context.Context, site, url string) (dom.Document, error) {
	key := site + "|" + url

	e.mu.Lock()
	doc, ok := e.docs[key]
	e.mu.Unlock()
	if ok {
		return doc, nil
	}

	doc, err := e.source.Open(ctx, url)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if existing, ok := e.docs[key]; ok {
		// Lost the race; keep the first one so markers stay coherent.
		e.mu.Unlock()
		closeDocument(doc)
		return existing, nil
	}
	e.docs[key] = doc
	e.mu.Unlock()
	return doc, nil
}

func (e *Engine) audit(ctx context.Context, rec *store.MatchRecord) {
	auditCtx, cancel := context.WithTimeout(dom.Detach(ctx), 5*time.Second)
	defer cancel()
	if err := e.recorder.Record(auditCtx, rec); err != nil {
		e.logger.Warn("Failed to record match audit row.", zap.Error(err))
	}
}

func closeDocument(doc dom.Document) {
	if closer, ok := doc.(io.Closer); ok {
		_ = closer.Close()
	}
}
