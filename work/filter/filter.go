package filter

import (
	"strings"
	"sync"

	"github.com/grafana/regexp"

	"teslatv/work/logger"
)

// Set names used by the playback classifier and the rewriter.
const (
	SetEmbed       = "embed"
	SetAdaptive    = "adaptive"
	SetProxyBypass = "proxy-bypass"
)

// PatternSet is a named list of compiled URL patterns. A URL matches the set when
// any pattern matches. Patterns that fail to compile are logged and skipped so a
// typo in the config never disables the whole set.
type PatternSet struct {
	Name     string
	patterns []*regexp.Regexp
}

// Compile builds a PatternSet from regular expressions.
func Compile(name string, exprs []string) *PatternSet {
	set := &PatternSet{Name: name}
	for _, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		compiled, err := regexp.Compile(expr)
		if err != nil {
			logger.Error("{filter - Compile} failed to compile %s pattern '%s': %v", name, expr, err)
			continue
		}
		set.patterns = append(set.patterns, compiled)
		logger.Debug("{filter - Compile} compiled %s pattern: '%s'", name, expr)
	}
	return set
}

// Match reports whether any pattern in the set matches s. A nil or empty set
// matches nothing.
func (p *PatternSet) Match(s string) bool {
	if p == nil {
		return false
	}
	for _, re := range p.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Len returns the number of usable patterns.
func (p *PatternSet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.patterns)
}

// FilterManager caches compiled pattern sets by name so config reloads only pay
// for compilation once per set.
type FilterManager struct {
	sets map[string]*PatternSet
	mu   sync.RWMutex
}

// NewFilterManager creates an empty manager.
func NewFilterManager() *FilterManager {
	return &FilterManager{sets: make(map[string]*PatternSet)}
}

// GetOrCreate returns the cached set for name, compiling exprs on first use.
func (fm *FilterManager) GetOrCreate(name string, exprs []string) *PatternSet {
	fm.mu.RLock()
	set, ok := fm.sets[name]
	fm.mu.RUnlock()
	if ok {
		return set
	}

	fm.mu.Lock()
	defer fm.mu.Unlock()
	if set, ok := fm.sets[name]; ok {
		return set
	}
	set = Compile(name, exprs)
	fm.sets[name] = set
	return set
}

// ClearFilters drops every compiled set, forcing recompilation after a config change.
func (fm *FilterManager) ClearFilters() {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.sets = make(map[string]*PatternSet)
}
