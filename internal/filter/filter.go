// Package filter applies operator-managed substitution rules to finished
// text. Rules are fetched through a TTL cache and applied cumulatively in
// priority order; a single bad rule is skipped, never aborting the pass.
package filter

import (
	"context"
	"regexp"
	"sort"
	"strings"
)

// Rule is one substitution: a literal or regex pattern with its replacement.
// Rules are immutable once loaded.
type Rule struct {
	Pattern     string
	Replacement string
	IsRegex     bool
	Priority    int
}

// SortRules orders rules by priority descending, then pattern length
// descending so longer, more specific patterns claim a span before shorter
// ones that might partially match within it.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return len(rules[i].Pattern) > len(rules[j].Pattern)
	})
}

// ApplyRules runs every rule against text in order. Each rule operates on the
// output of the previous one, so the net effect is order-dependent. A regex
// rule whose pattern does not compile is skipped.
func ApplyRules(text string, rules []Rule) string {
	if text == "" {
		return text
	}
	for _, r := range rules {
		if r.IsRegex {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				continue
			}
			text = re.ReplaceAllString(text, r.Replacement)
		} else {
			text = strings.ReplaceAll(text, r.Pattern, r.Replacement)
		}
	}
	return text
}

// Filter combines the rule cache with the process-wide enable switch.
type Filter struct {
	cache   *Cache
	enabled bool
}

// New creates a Filter over the given cache. When enabled is false, Apply is
// a no-op (operational switch for debugging).
func New(cache *Cache, enabled bool) *Filter {
	return &Filter{cache: cache, enabled: enabled}
}

// Apply filters text through the current rule snapshot. On a rule-load
// failure the original text is returned along with the error so the caller
// can degrade gracefully; delivery is never blocked by a filtering defect.
func (f *Filter) Apply(ctx context.Context, text string) (string, error) {
	if !f.enabled || text == "" {
		return text, nil
	}
	rules, err := f.cache.Get(ctx)
	if err != nil {
		return text, err
	}
	return ApplyRules(text, rules), nil
}

// Invalidate forces the next Apply to reload rules. Must be called after any
// external mutation of the rule store.
func (f *Filter) Invalidate() {
	f.cache.Invalidate()
}
