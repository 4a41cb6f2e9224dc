// Package scope provides hierarchical scope parsing and implication-based
// coverage resolution for credential issuance decisions
package scope

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config for scope resolution
type Config struct {
	MaxDepth          int            // Maximum number of scope segments
	CacheTTL          time.Duration  // Time-to-live for expansion cache entries
	AllowedCharsRegex *regexp.Regexp // Regex for validating scope segment characters
}

// DefaultConfig returns a default registry configuration
func DefaultConfig() Config {
	return Config{
		MaxDepth:          10,
		CacheTTL:          time.Minute,
		AllowedCharsRegex: regexp.MustCompile(`^[a-zA-Z0-9_-]+$`),
	}
}

// Scope is a parsed scope identifier of the form
// {resource}:{action}:{qualifier...}
type Scope struct {
	Resource   string
	Action     string
	Qualifiers []string
}

// String reassembles the canonical scope identifier
func (s Scope) String() string {
	parts := append([]string{s.Resource, s.Action}, s.Qualifiers...)
	return strings.Join(parts, ":")
}

// Table is the administrator-declared implication table. Implication is
// declared, not inferred from string structure: a scope covers exactly
// itself plus the transitive closure of its declared implications.
type Table struct {
	// Implications maps a scope to the scopes it directly implies
	Implications map[string][]string `yaml:"implications"`

	// Scopes lists additional recognized scopes that imply nothing
	Scopes []string `yaml:"scopes"`
}

// Registry answers expansion and coverage queries against a fixed table.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	config      Config
	implies     map[string][]string
	known       map[string]bool
	expandCache *expansionCache
}

// expansionCache holds computed expansions with TTL eviction
type expansionCache struct {
	mu        sync.RWMutex
	entries   map[string]*cacheEntry
	maxSize   int
	hitCount  atomic.Int64
	missCount atomic.Int64
}

type cacheEntry struct {
	expansion map[string]bool
	expires   int64
}

// NewRegistry creates a registry from an implication table
func NewRegistry(config Config, table *Table) (*Registry, error) {
	if config.MaxDepth == 0 {
		config.MaxDepth = 10
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = time.Minute
	}
	if config.AllowedCharsRegex == nil {
		config.AllowedCharsRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	}

	r := &Registry{
		config:  config,
		implies: make(map[string][]string),
		known:   make(map[string]bool),
		expandCache: &expansionCache{
			entries: make(map[string]*cacheEntry),
			maxSize: 10000,
		},
	}

	if table != nil {
		for scope, implied := range table.Implications {
			if _, err := r.Parse(scope); err != nil {
				return nil, fmt.Errorf("implication table key %q: %w", scope, err)
			}
			r.known[scope] = true
			for _, imp := range implied {
				if _, err := r.Parse(imp); err != nil {
					return nil, fmt.Errorf("implication of %q: %w", scope, err)
				}
				r.implies[scope] = append(r.implies[scope], imp)
				r.known[imp] = true
			}
		}
		for _, scope := range table.Scopes {
			if _, err := r.Parse(scope); err != nil {
				return nil, fmt.Errorf("declared scope %q: %w", scope, err)
			}
			r.known[scope] = true
		}
	}

	return r, nil
}

// Parse splits and validates a scope identifier
func (r *Registry) Parse(scope string) (Scope, error) {
	segments := strings.Split(scope, ":")
	if len(segments) < 2 {
		return Scope{}, fmt.Errorf("scope %q must have at least resource and action", scope)
	}
	if len(segments) > r.config.MaxDepth {
		return Scope{}, fmt.Errorf("scope depth %d exceeds maximum %d", len(segments), r.config.MaxDepth)
	}
	for _, seg := range segments {
		if seg == "" {
			return Scope{}, fmt.Errorf("scope %q contains empty segment", scope)
		}
		if !r.config.AllowedCharsRegex.MatchString(seg) {
			return Scope{}, fmt.Errorf("invalid scope segment: %s (allowed: alphanumeric, underscore, hyphen)", seg)
		}
	}
	return Scope{
		Resource:   segments[0],
		Action:     segments[1],
		Qualifiers: segments[2:],
	}, nil
}

// IsKnown reports whether the scope is declared in the table
func (r *Registry) IsKnown(scope string) bool {
	return r.known[scope]
}

// Expand returns the scope plus every scope it transitively implies.
// Unrecognized or malformed scopes expand to the empty set: they cover
// nothing (fail closed). The returned map is the caller's to mutate; the
// cached expansion is never shared.
func (r *Registry) Expand(scope string) map[string]bool {
	expansion := r.expand(scope)
	out := make(map[string]bool, len(expansion))
	for s := range expansion {
		out[s] = true
	}
	return out
}

// expand returns the shared cached expansion; callers must not mutate it
func (r *Registry) expand(scope string) map[string]bool {
	if exp := r.expandCache.get(scope); exp != nil {
		return exp
	}

	expansion := make(map[string]bool)
	if _, err := r.Parse(scope); err != nil {
		r.expandCache.set(scope, expansion, r.config.CacheTTL)
		return expansion
	}
	if !r.known[scope] {
		r.expandCache.set(scope, expansion, r.config.CacheTTL)
		return expansion
	}

	// Bounded BFS over declared implications. The visited set makes
	// traversal terminate even if the table declares a cycle.
	queue := []string{scope}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if expansion[current] {
			continue
		}
		expansion[current] = true
		queue = append(queue, r.implies[current]...)
	}

	r.expandCache.set(scope, expansion, r.config.CacheTTL)
	return expansion
}

// ExpandSet expands every scope in the set and unions the results
func (r *Registry) ExpandSet(scopes []string) map[string]bool {
	union := make(map[string]bool)
	for _, s := range scopes {
		for covered := range r.expand(s) {
			union[covered] = true
		}
	}
	return union
}

// Covers reports whether the requested scope is covered by some scope in
// granted after expansion
func (r *Registry) Covers(granted []string, requested string) bool {
	return r.ExpandSet(granted)[requested]
}

// IsSubset reports whether every requested scope is covered by the
// granted set after expansion
func (r *Registry) IsSubset(requested, granted []string) bool {
	expanded := r.ExpandSet(granted)
	for _, req := range requested {
		if !expanded[req] {
			return false
		}
	}
	return true
}

// Uncovered returns the requested scopes not covered by the granted set.
// Used to produce precise invalid_scope reasons.
func (r *Registry) Uncovered(requested, granted []string) []string {
	expanded := r.ExpandSet(granted)
	var missing []string
	for _, req := range requested {
		if !expanded[req] {
			missing = append(missing, req)
		}
	}
	return missing
}

// CacheStats contains expansion cache metrics
type CacheStats struct {
	Size      int
	HitCount  int64
	MissCount int64
}

// GetStats returns cache statistics
func (r *Registry) GetStats() CacheStats {
	return r.expandCache.stats()
}

func (c *expansionCache) get(key string) map[string]bool {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.expires < time.Now().UnixMilli() {
		c.missCount.Add(1)
		return nil
	}

	c.hitCount.Add(1)
	return entry.expansion
}

func (c *expansionCache) set(key string, expansion map[string]bool, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.entries = make(map[string]*cacheEntry)
	}

	c.entries[key] = &cacheEntry{
		expansion: expansion,
		expires:   time.Now().Add(ttl).UnixMilli(),
	}
}

func (c *expansionCache) stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Size:      size,
		HitCount:  c.hitCount.Load(),
		MissCount: c.missCount.Load(),
	}
}
