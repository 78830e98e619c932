package schemas

import "time"

// -- Container Library Models --
// These types mirror the persisted library format one-to-one, so a library
// file written by the editor tooling round-trips through this package without
// loss.

// ContainerType categorizes what a container definition addresses on a page.
type ContainerType string

const (
	TypeContainer   ContainerType = "container"
	TypeInteractive ContainerType = "interactive"
	TypeIndicator   ContainerType = "indicator"
	TypeNavigation  ContainerType = "navigation"
)

// DiscoveryPolicy holds the knobs the matcher consults while resolving a
// definition against a live document.
type DiscoveryPolicy struct {
	// TimeoutMs bounds how long the matcher polls for this definition's
	// elements to appear before declaring it unmatched.
	TimeoutMs int `json:"timeoutMs"`
	// UniquenessThreshold, when 1, rejects clauses that match more than one
	// node in favor of the next clause.
	UniquenessThreshold int `json:"uniquenessThreshold"`
	// WaitForElements enables the polling loop; when false the matcher makes
	// a single pass.
	WaitForElements bool `json:"waitForElements"`
}

// UsageStats tracks how a definition has performed over time. AccessCount is
// monotonically non-decreasing; writes are last-write-wins.
type UsageStats struct {
	AccessCount int       `json:"accessCount"`
	Attempts    int       `json:"attempts"`
	LastUsed    time.Time `json:"lastUsed"`
	SuccessRate float64   `json:"successRate"`
}

// ContainerDefinition is one named, addressable UI region in a site's
// library. The id is stable across library reloads and unique within a site.
type ContainerDefinition struct {
	ID   string        `json:"id"`
	Name string        `json:"name,omitempty"`
	Type ContainerType `json:"type"`

	// Selectors is the ordered list of selector clauses tried during
	// matching. Each entry may itself be a comma-group. Never empty.
	Selectors []string `json:"selectors"`

	// Priority breaks ties between sibling definitions; lower wins.
	Priority int `json:"priority"`
	// Specificity is the secondary tie-break (higher wins). Derived from the
	// selector text when absent.
	Specificity int `json:"specificity"`

	// Children lists the ids of definitions resolved within this one's scope.
	Children []string `json:"children,omitempty"`

	Discovery DiscoveryPolicy `json:"discovery"`
	Usage     UsageStats      `json:"usage"`
}

// LibraryMetadata describes a site's container set. ContainerCount always
// equals the size of the containers map.
type LibraryMetadata struct {
	Version        string    `json:"version"`
	LastUpdated    time.Time `json:"lastUpdated"`
	ContainerCount int       `json:"containerCount"`
}

// SiteLibrary is the persisted per-site record.
type SiteLibrary struct {
	Website      string                          `json:"website"`
	RegisteredAt time.Time                       `json:"registeredAt"`
	Roots        []string                        `json:"roots,omitempty"`
	Containers   map[string]*ContainerDefinition `json:"containers"`
	Metadata     LibraryMetadata                 `json:"metadata"`
}

// LibraryFile is the on-disk shape: one JSON object keyed by site name.
type LibraryFile map[string]*SiteLibrary

// -- Match Results --

// MatchSnapshot is one node of the result tree produced by a matching pass.
// A definition that matched several nodes contributes one snapshot per
// expanded node; the remainder is only counted. Snapshots are read-only once
// returned to a caller.
type MatchSnapshot struct {
	ID           string `json:"id"`
	SelectorUsed string `json:"selectorUsed,omitempty"`
	Matched      bool   `json:"matched"`

	// DOMPath is the structural path of the matched node, for reporting.
	DOMPath string `json:"domPath,omitempty"`
	// ScopeSelector re-selects the concrete matched node directly while it
	// still exists in the document.
	ScopeSelector string `json:"scopeSelector,omitempty"`

	// Index is which of the clause's matched nodes this snapshot expands.
	Index int `json:"index"`
	// TotalMatches is how many nodes the accepted clause matched in all.
	TotalMatches int `json:"totalMatches"`

	// FailReason is set when Matched is false ("timeout", "invalid_selector",
	// "unknown_definition").
	FailReason string `json:"failReason,omitempty"`

	Children []MatchSnapshot `json:"children,omitempty"`
}

// FirstMatched walks the forest depth-first and returns the first matched
// snapshot, or nil when nothing matched.
func FirstMatched(snapshots []MatchSnapshot) *MatchSnapshot {
	for i := range snapshots {
		if snapshots[i].Matched {
			return &snapshots[i]
		}
		if m := FirstMatched(snapshots[i].Children); m != nil {
			return m
		}
	}
	return nil
}
