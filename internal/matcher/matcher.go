// Package matcher implements the keyword matching engine applied to every
// candidate tender record.
package matcher

import (
	"strings"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// Matcher evaluates texts against a MatchPolicy. Matching is case-insensitive
// substring containment; terms are normalized once at construction.
type Matcher struct {
	include     []term
	exclude     []term
	mustContain []term
}

type term struct {
	raw     string
	lowered string
}

// New builds a Matcher from the policy. Blank terms are dropped.
func New(policy monitor.MatchPolicy) *Matcher {
	return &Matcher{
		include:     normalize(policy.Include),
		exclude:     normalize(policy.Exclude),
		mustContain: normalize(policy.MustContain),
	}
}

// Classify evaluates a single text. Order of precedence: any exclude term
// vetoes; then the must-contain gate requires at least one hit when the list
// is non-empty; finally the text matches if any include or must-contain term
// is present. Matched keywords are include hits followed by must-contain
// hits, deduplicated.
func (m *Matcher) Classify(text string) monitor.MatchResult {
	if strings.TrimSpace(text) == "" {
		return monitor.MatchResult{}
	}
	lowered := strings.ToLower(text)

	for _, t := range m.exclude {
		if strings.Contains(lowered, t.lowered) {
			return monitor.MatchResult{ExcludedBy: t.raw}
		}
	}

	mustHits := collect(lowered, m.mustContain)
	if len(m.mustContain) > 0 && len(mustHits) == 0 {
		return monitor.MatchResult{}
	}

	hits := union(collect(lowered, m.include), mustHits)
	if len(hits) == 0 {
		return monitor.MatchResult{}
	}
	return monitor.MatchResult{Matched: true, Keywords: hits}
}

// ClassifyAny evaluates several fields of one record together. An exclusion
// hit in any field vetoes the whole record; otherwise per-field matches are
// unioned.
func (m *Matcher) ClassifyAny(texts ...string) monitor.MatchResult {
	var combined monitor.MatchResult
	for _, text := range texts {
		res := m.Classify(text)
		if res.ExcludedBy != "" {
			return monitor.MatchResult{ExcludedBy: res.ExcludedBy}
		}
		if res.Matched {
			combined.Matched = true
			combined.Keywords = union(combined.Keywords, res.Keywords)
		}
	}
	return combined
}

func normalize(terms []string) []term {
	out := make([]term, 0, len(terms))
	for _, raw := range terms {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		out = append(out, term{raw: raw, lowered: strings.ToLower(raw)})
	}
	return out
}

func collect(lowered string, terms []term) []string {
	var hits []string
	for _, t := range terms {
		if strings.Contains(lowered, t.lowered) {
			hits = append(hits, t.raw)
		}
	}
	return hits
}

func union(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, k := range base {
		seen[k] = struct{}{}
	}
	for _, k := range extra {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		base = append(base, k)
	}
	return base
}
