package schemas

import "encoding/json"

// -- Action Envelope --
// The orchestration layer talks to the engine through a single action
// endpoint carrying a named action and an opaque payload.

// Action names understood by the engine.
const (
	ActionContainersMatch      = "containers:match"
	ActionContainersTag        = "containers:tag"
	ActionContainersInvalidate = "containers:invalidate"
)

// ActionRequest is the wire envelope for POST /api/v1/actions.
type ActionRequest struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// MatchPayload parameterizes a containers:match call.
type MatchPayload struct {
	// Profile selects the site library; URL selects the document.
	Profile string `json:"profile"`
	URL     string `json:"url"`

	MaxDepth    int `json:"maxDepth"`
	MaxChildren int `json:"maxChildren"`

	Cache           bool  `json:"cache"`
	CacheTTLMs      int64 `json:"cacheTtlMs"`
	InvalidateCache bool  `json:"invalidateCache"`
}

// TagPayload parameterizes a containers:tag call.
type TagPayload struct {
	Profile       string `json:"profile"`
	URL           string `json:"url"`
	ScopeSelector string `json:"scopeSelector"`
	ItemSelector  string `json:"itemSelector"`
	Index         int    `json:"index"`
}

// InvalidatePayload parameterizes a containers:invalidate call. It drops the
// cached snapshots and the open document for one page, forcing the next
// match to re-resolve.
type InvalidatePayload struct {
	Profile string `json:"profile"`
	URL     string `json:"url"`
}

// InvalidateResult is the response body for containers:invalidate.
type InvalidateResult struct {
	Invalidated bool `json:"invalidated"`
}

// CacheInfo reports whether caching applied to a match call.
type CacheInfo struct {
	Enabled bool `json:"enabled"`
	Hit     bool `json:"hit"`
}

// MatchResult is the response body for containers:match.
type MatchResult struct {
	Matched   bool            `json:"matched"`
	Container *MatchSnapshot  `json:"container"`
	Snapshots []MatchSnapshot `json:"snapshots,omitempty"`
	Cache     CacheInfo       `json:"cache"`
}

// TagResult is the response body for containers:tag.
type TagResult struct {
	ElementFound     bool   `json:"elementFound"`
	NewScopeSelector string `json:"newScopeSelector,omitempty"`
}

// ErrorResult is the body returned for failed action calls.
type ErrorResult struct {
	Error string `json:"error"`
}
