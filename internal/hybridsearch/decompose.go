package hybridsearch

import (
	"regexp"
	"strings"
)

// temporalPatterns extracts one or two sub-queries from a query that names a
// time range or a before/after pair, modeled on internal/search's
// PatternDecomposer regex style. Each entry's group 1 (and group 2, if
// present) becomes its own candidate pass per §4.6 step 2.
var temporalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^between\s+(.+?)\s+and\s+(.+)$`),
	regexp.MustCompile(`(?i)^from\s+(.+?)\s+to\s+(.+)$`),
	regexp.MustCompile(`(?i)^after\s+(.+?)\s+before\s+(.+)$`),
	regexp.MustCompile(`(?i)^first\s+time\s+(.+?)\s+last\s+time\s+(.+)$`),
	// Russian equivalents.
	regexp.MustCompile(`(?i)^между\s+(.+?)\s+и\s+(.+)$`),
	regexp.MustCompile(`(?i)^от\s+(.+?)\s+до\s+(.+)$`),
	regexp.MustCompile(`(?i)^после\s+(.+?)\s+до\s+(.+)$`),
	regexp.MustCompile(`(?i)^первый\s+раз\s+(.+?)\s+последний\s+раз\s+(.+)$`),
}

// DecomposeTemporal returns the sub-queries extracted from a temporal-range
// query, or nil if the query matches no known pattern.
func DecomposeTemporal(query string) []string {
	q := strings.TrimSpace(query)
	for _, p := range temporalPatterns {
		m := p.FindStringSubmatch(q)
		if m == nil {
			continue
		}
		out := make([]string, 0, len(m)-1)
		for _, g := range m[1:] {
			g = strings.TrimSpace(g)
			if g != "" {
				out = append(out, g)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// Expander emits up to N paraphrases of a query for the optional,
// off-by-default query-expansion pass (§4.6 step 3). An external collaborator
// (e.g. an LLM) implements this; hybridsearch never ships a default
// implementation.
type Expander interface {
	Expand(query string, n int) ([]string, error)
}
