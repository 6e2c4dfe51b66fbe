// Package audit selects representative pages from a completed crawl for the
// performance-audit subsystem, which measures each selected page
// independently per device profile.
package audit

import (
	"net/url"
	"sort"
	"strings"
)

// Priority tiers, lower is more important.
const (
	tierHomepage = 1
	tierCategory = 2
	tierTemplate = 3
	tierFill     = 4
)

var categoryPatterns = map[string]struct{}{
	"category":    {},
	"categories":  {},
	"collections": {},
	"products":    {},
	"shop":        {},
	"blog":        {},
	"news":        {},
	"docs":        {},
}

type candidate struct {
	url   string
	tier  int
	index int
}

// SelectRepresentative picks at most limit URLs, preferring the homepage,
// then category listing pages, then one page per content template, then
// whatever fills the remaining budget. Input order breaks ties so the
// selection is deterministic.
func SelectRepresentative(urls []string, limit int) []string {
	if limit <= 0 || len(urls) == 0 {
		return nil
	}

	seenTemplates := make(map[string]struct{})
	candidates := make([]candidate, 0, len(urls))
	for i, raw := range urls {
		candidates = append(candidates, candidate{
			url:   raw,
			tier:  classify(raw, seenTemplates),
			index: i,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].tier != candidates[j].tier {
			return candidates[i].tier < candidates[j].tier
		}
		return candidates[i].index < candidates[j].index
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.url
	}
	return out
}

func classify(raw string, seenTemplates map[string]struct{}) int {
	u, err := url.Parse(raw)
	if err != nil {
		return tierFill
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return tierHomepage
	}

	segments := strings.Split(path, "/")
	first := strings.ToLower(segments[0])

	if _, ok := categoryPatterns[first]; ok && len(segments) == 1 {
		return tierCategory
	}

	// One representative per template: the first page under each top-level
	// section stands in for that section's layout.
	if len(segments) > 1 {
		if _, seen := seenTemplates[first]; !seen {
			seenTemplates[first] = struct{}{}
			return tierTemplate
		}
	}
	return tierFill
}
