// Package library loads, serves, and persists per-site container definition
// trees. The in-memory library is process-wide state: loaded on first use,
// read-mostly during matching, and rewritten only through explicit edits.
package library

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jasonzhangf/webauto-sub011/api/schemas"
	"github.com/Jasonzhangf/webauto-sub011/internal/selector"
)

// LoadError is the hard failure for a match call: without a usable library
// for the site there is no meaningful partial result.
type LoadError struct {
	Site string
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Site != "" {
		return fmt.Sprintf("library %s: no usable library for site %q: %v", e.Path, e.Site, e.Err)
	}
	return fmt.Sprintf("library %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NotFoundError reports a container id that does not exist in a loaded
// site library. The caller's mistake, like an unregistered site.
type NotFoundError struct {
	Site string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("container %q not found for site %q", e.ID, e.Site)
}

// Subtree is the read-only tree view served by the debug endpoints.
type Subtree struct {
	Definition *schemas.ContainerDefinition `json:"definition"`
	Children   []*Subtree                   `json:"children,omitempty"`
}

// Store owns the persisted library file and the in-memory copy.
type Store struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	sites  schemas.LibraryFile
	loaded bool
}

// NewStore creates a store over the given library file. Nothing is read
// until a site is first requested.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		logger: logger.Named("library"),
	}
}

// Library returns the site's library, loading the file on first use.
func (s *Store) Library(site string) (*schemas.SiteLibrary, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	lib, ok := s.sites[site]
	if !ok {
		return nil, &LoadError{Site: site, Path: s.path, Err: fmt.Errorf("site not registered")}
	}
	return lib, nil
}

// Reload discards the in-memory copy and re-reads the file. Called by the
// edit tooling after it rewrites the library.
func (s *Store) Reload() error {
	s.mu.Lock()
	s.loaded = false
	s.sites = nil
	s.mu.Unlock()
	return s.ensureLoaded()
}

// Roots lists the top-level entry point ids for a site.
func (s *Store) Roots(site string) ([]string, error) {
	lib, err := s.Library(site)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	roots := make([]string, len(lib.Roots))
	copy(roots, lib.Roots)
	return roots, nil
}

// Definition fetches a single definition by id.
func (s *Store) Definition(site, id string) (*schemas.ContainerDefinition, error) {
	lib, err := s.Library(site)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := lib.Containers[id]
	if !ok {
		return nil, &NotFoundError{Site: site, ID: id}
	}
	return def, nil
}

// SubtreeByRoot renders the definition tree under a root id.
func (s *Store) SubtreeByRoot(site, id string) (*Subtree, error) {
	lib, err := s.Library(site)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := lib.Containers[id]
	if !ok {
		return nil, &NotFoundError{Site: site, ID: id}
	}
	return buildSubtree(lib, def, map[string]bool{}), nil
}

func buildSubtree(lib *schemas.SiteLibrary, def *schemas.ContainerDefinition, seen map[string]bool) *Subtree {
	if seen[def.ID] {
		return &Subtree{Definition: def}
	}
	seen[def.ID] = true

	node := &Subtree{Definition: def}
	for _, childID := range def.Children {
		child, ok := lib.Containers[childID]
		if !ok {
			continue
		}
		node.Children = append(node.Children, buildSubtree(lib, child, seen))
	}
	return node
}

// RecordUsage updates a definition's usage stats after a matching attempt.
// AccessCount only ever grows; writes are commutative, so last-write-wins
// under the store lock is sufficient.
func (s *Store) RecordUsage(site, id string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, ok := s.sites[site]
	if !ok {
		return
	}
	def, ok := lib.Containers[id]
	if !ok {
		return
	}

	def.Usage.Attempts++
	if success {
		def.Usage.AccessCount++
		def.Usage.LastUsed = time.Now().UTC()
	}
	def.Usage.SuccessRate = float64(def.Usage.AccessCount) / float64(def.Usage.Attempts)
}

// Save writes the library back to disk. The metadata of every site is
// refreshed in the same write as its containers map, and the file is
// replaced atomically via rename.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return nil
	}

	now := time.Now().UTC()
	for _, lib := range s.sites {
		lib.Metadata.ContainerCount = len(lib.Containers)
		lib.Metadata.LastUpdated = now
	}

	data, err := json.MarshalIndent(s.sites, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode library: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create library directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write library: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace library: %w", err)
	}
	return nil
}

func (s *Store) ensureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return &LoadError{Path: s.path, Err: err}
	}

	var file schemas.LibraryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return &LoadError{Path: s.path, Err: fmt.Errorf("malformed library file: %w", err)}
	}

	for site, lib := range file {
		s.sanitize(site, lib)
	}

	s.sites = file
	s.loaded = true
	s.logger.Info("Loaded container library.",
		zap.String("path", s.path), zap.Int("sites", len(file)))
	return nil
}

// sanitize enforces the library invariants on a freshly decoded site:
// definitions without selectors are dropped, missing ids and specificity are
// derived, roots are computed when absent, and the container count is
// reconciled with the map.
func (s *Store) sanitize(site string, lib *schemas.SiteLibrary) {
	if lib.Containers == nil {
		lib.Containers = map[string]*schemas.ContainerDefinition{}
	}

	for id, def := range lib.Containers {
		if len(def.Selectors) == 0 {
			s.logger.Warn("Dropping container without selectors.",
				zap.String("site", site), zap.String("id", id))
			delete(lib.Containers, id)
			continue
		}
		if def.ID == "" {
			def.ID = id
		}
		if def.ID == "" {
			def.ID = DeriveID(def.Name, def.Selectors[0])
		}
		if def.Specificity == 0 {
			def.Specificity = selector.Specificity(def.Selectors[0])
		}
		if def.Type == "" {
			def.Type = schemas.TypeContainer
		}
	}

	if len(lib.Roots) == 0 {
		lib.Roots = deriveRoots(lib)
	} else {
		// Drop dangling root references left behind by external editors.
		kept := lib.Roots[:0]
		for _, id := range lib.Roots {
			if _, ok := lib.Containers[id]; ok {
				kept = append(kept, id)
			}
		}
		lib.Roots = kept
	}

	if lib.Metadata.ContainerCount != len(lib.Containers) {
		s.logger.Warn("Reconciling container count.",
			zap.String("site", site),
			zap.Int("recorded", lib.Metadata.ContainerCount),
			zap.Int("actual", len(lib.Containers)))
		lib.Metadata.ContainerCount = len(lib.Containers)
	}
}

// deriveRoots treats every definition that no other definition claims as a
// child as a top-level entry point.
func deriveRoots(lib *schemas.SiteLibrary) []string {
	childIDs := map[string]bool{}
	for _, def := range lib.Containers {
		for _, c := range def.Children {
			childIDs[c] = true
		}
	}

	var roots []string
	for id := range lib.Containers {
		if !childIDs[id] {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// DeriveID builds a stable container id from the definition name and a hash
// of its primary selector, so near-identical selectors still get distinct
// ids.
func DeriveID(name, sel string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(selector.StripCombinators(sel)))
	suffix := strconv.FormatUint(h.Sum64(), 16)
	if name == "" {
		return "container-" + suffix
	}
	return name + "-" + suffix
}
