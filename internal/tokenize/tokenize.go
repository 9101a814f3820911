// Package tokenize provides the two deterministic tokenizer variants shared by the
// lexical index and the embedding pipeline: Code, for identifiers and source text, and
// Prose, for Markdown documentation and free-form notes. Both are pure functions: same
// input always yields the same token sequence.
package tokenize

import (
	"regexp"
	"strings"
	"unicode"
)

// Variant names the tokenizer behavior to apply to a piece of text.
type Variant string

const (
	// VariantCode splits identifiers (camelCase, PascalCase, snake_case, kebab-case)
	// into subtokens, preserving acronyms.
	VariantCode Variant = "code"

	// VariantProse strips Markdown formatting, extracts link labels, and applies a
	// light suffix stemmer.
	VariantProse Variant = "prose"
)

// wordRegex matches alphanumeric runs, including underscores and hyphens, as the
// initial split before camelCase/snake_case/kebab-case decomposition.
var wordRegex = regexp.MustCompile(`[a-zA-Z0-9_-]+`)

// Tokenize dispatches to Code or Prose based on variant. An unrecognized variant
// falls back to Prose, the more permissive of the two.
func Tokenize(text string, variant Variant) []string {
	switch variant {
	case VariantCode:
		return Code(text)
	default:
		return Prose(text)
	}
}

// Code splits text with code-aware rules: split on non-alphanumeric, then split
// camelCase, PascalCase (preserving acronyms so HTMLParser -> html, parser),
// snake_case, and kebab-case. Both the decomposed parts and the original identifier
// lowercased are emitted, so a search for "htmlparser" still matches an "HTMLParser"
// index entry. All tokens are lowercased.
func Code(text string) []string {
	var tokens []string

	for _, word := range wordRegex.FindAllString(text, -1) {
		original := strings.ToLower(word)
		if len(original) >= 2 {
			tokens = append(tokens, original)
		}

		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 && lower != original {
				tokens = append(tokens, lower)
			}
		}
	}

	return tokens
}

// splitIdentifier decomposes a single word on underscores and hyphens, then splits
// each resulting part on camelCase/PascalCase boundaries.
func splitIdentifier(word string) []string {
	var result []string

	parts := strings.FieldsFunc(word, func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(parts) == 0 {
		return result
	}
	if len(parts) == 1 && parts[0] == word {
		return splitCamelCase(word)
	}

	for _, part := range parts {
		result = append(result, splitCamelCase(part)...)
	}
	return result
}

// splitCamelCase splits camelCase and PascalCase identifiers, keeping acronym runs
// intact.
//
//	getUserById     -> [get User By Id]
//	HTTPHandler     -> [HTTP Handler]
//	parseHTTPRequest -> [parse HTTP Request]
func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// FilterStopWords removes stop words (case-insensitively) from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words into a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
