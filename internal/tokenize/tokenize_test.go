package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS-TOK-01: code variant decomposes camelCase and keeps the original lowercased.
func TestCode_CamelCaseEmitsPartsAndOriginal(t *testing.T) {
	// Given: a camelCase identifier
	text := "getUserById"

	// When: tokenizing as code
	tokens := Code(text)

	// Then: both the decomposed parts and the lowercased original are present
	assert.Contains(t, tokens, "getuserbyid")
	assert.Contains(t, tokens, "get")
	assert.Contains(t, tokens, "user")
	assert.Contains(t, tokens, "by")
	assert.Contains(t, tokens, "id")
}

func TestCode_PreservesAcronyms(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{name: "leading acronym", input: "HTMLParser", expect: []string{"html", "parser"}},
		{name: "trailing acronym", input: "parseHTTPRequest", expect: []string{"parse", "http", "request"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tokens := Code(tc.input)
			for _, want := range tc.expect {
				assert.Contains(t, tokens, want)
			}
		})
	}
}

func TestCode_SplitsSnakeAndKebabCase(t *testing.T) {
	snake := Code("max_retry_count")
	assert.Contains(t, snake, "max")
	assert.Contains(t, snake, "retry")
	assert.Contains(t, snake, "count")

	kebab := Code("max-retry-count")
	assert.Contains(t, kebab, "max")
	assert.Contains(t, kebab, "retry")
	assert.Contains(t, kebab, "count")
}

func TestCode_FiltersShortTokens(t *testing.T) {
	tokens := Code("a b io getX")
	assert.NotContains(t, tokens, "a")
	assert.NotContains(t, tokens, "b")
	assert.Contains(t, tokens, "io")
}

func TestCode_Lowercases(t *testing.T) {
	tokens := Code("CONST_VALUE")
	for _, tok := range tokens {
		assert.Equal(t, tok, tokenLower(tok))
	}
}

func tokenLower(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r = r + ('a' - 'A')
		}
		out = append(out, r)
	}
	return string(out)
}

// TS-TOK-02: prose variant strips Markdown and extracts link labels.
func TestProse_StripsHeadersAndEmphasis(t *testing.T) {
	text := "## Getting Started\n\nThis is **bold** and _italic_ text."
	tokens := Prose(text)

	assert.Contains(t, tokens, "bold")
	assert.Contains(t, tokens, "italic")
	assert.NotContains(t, tokens, "##")
}

func TestProse_ExtractsLinkLabelsNotURLs(t *testing.T) {
	text := "See the [installation guide](https://example.com/install) for details."
	tokens := Prose(text)

	assert.Contains(t, tokens, "installation")
	assert.Contains(t, tokens, "guide")
	for _, tok := range tokens {
		assert.NotContains(t, tok, "example")
	}
}

func TestProse_StripsCodeBlocksAndInlineCode(t *testing.T) {
	text := "Run `go test ./...` or:\n```go\nfunc main() {}\n```\nThen check results."
	tokens := Prose(text)

	assert.Contains(t, tokens, "run")
	assert.Contains(t, tokens, "results")
	assert.NotContains(t, tokens, "func")
}

func TestProse_StemsKnownSuffixes(t *testing.T) {
	tests := []struct {
		word string
		stem string
	}{
		{"running", "runn"},
		{"configuration", "configura"},
		{"quickly", "quick"},
		{"parsed", "pars"},
		{"tokens", "token"},
	}

	for _, tc := range tests {
		t.Run(tc.word, func(t *testing.T) {
			tokens := Prose(tc.word)
			assert.Contains(t, tokens, tc.word)
			assert.Contains(t, tokens, tc.stem)
		})
	}
}

func TestProse_KeepsOriginalFormAlongsideStem(t *testing.T) {
	tokens := Prose("indexing")
	require.Contains(t, tokens, "indexing")
	require.Contains(t, tokens, "index")
}

func TestProse_DropsShortTokens(t *testing.T) {
	tokens := Prose("a an to of the big picture")
	assert.NotContains(t, tokens, "to")
	assert.NotContains(t, tokens, "of")
	assert.Contains(t, tokens, "big")
	assert.Contains(t, tokens, "picture")
}

func TestProse_DoesNotStemWhenStemTooShort(t *testing.T) {
	// "ads" -> stem "ad" is only 2 chars, below the length >= 3 floor, so no stem form
	tokens := Prose("ads")
	assert.Contains(t, tokens, "ads")
}

// Stop-word helpers are shared by both variants.
func TestFilterStopWords_RemovesKnownStopWords(t *testing.T) {
	stopWords := BuildStopWordMap([]string{"the", "and", "a"})
	tokens := []string{"the", "quick", "fox", "and", "hound"}

	filtered := FilterStopWords(tokens, stopWords)

	assert.Equal(t, []string{"quick", "fox", "hound"}, filtered)
}

func TestTokenize_DispatchesByVariant(t *testing.T) {
	assert.Equal(t, Code("getUser"), Tokenize("getUser", VariantCode))
	assert.Equal(t, Prose("running fast"), Tokenize("running fast", VariantProse))
}
