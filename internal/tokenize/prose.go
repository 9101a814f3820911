package tokenize

import (
	"regexp"
	"strings"
)

// Regex patterns mirror the shapes the markdown chunker already strips when it
// splits a document into sections, reused here to reduce a paragraph of prose to
// its words before stemming.
var (
	proseCodeBlockPattern  = regexp.MustCompile("(?s)```.*?```")
	proseInlineCodePattern = regexp.MustCompile("`[^`]+`")
	proseHeaderPattern     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	proseEmphasisPattern   = regexp.MustCompile(`(\*{1,3}|_{1,3})([^*_]+)\1`)
	// proseLinkPattern captures the label of a Markdown link or image, discarding
	// the URL: [label](url) or ![label](url).
	proseLinkPattern  = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	proseWordPattern  = regexp.MustCompile(`[a-zA-Z]+`)
	proseBlockquote   = regexp.MustCompile(`(?m)^>\s?`)
	proseListMarker   = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	proseHTMLTag      = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

// proseSuffixes are tried longest-first so "-tion" is stripped before "-ly" would
// otherwise (wrongly) match a shorter tail.
var proseSuffixes = []string{"-tion", "-ing", "-ly", "-ed", "-s"}

// Prose strips Markdown formatting, extracts link labels (not URLs), applies a
// light suffix stemmer (drop trailing -s, -ing, -ed, -ly, -tion when the remaining
// stem is at least 3 characters), and keeps tokens longer than 2 characters. Both
// the stemmed and original forms are emitted so an exact-original query still hits.
// All tokens are lowercased.
func Prose(text string) []string {
	stripped := proseCodeBlockPattern.ReplaceAllString(text, " ")
	stripped = proseInlineCodePattern.ReplaceAllString(stripped, " ")
	stripped = proseLinkPattern.ReplaceAllString(stripped, " $1 ")
	stripped = proseHeaderPattern.ReplaceAllString(stripped, "")
	stripped = proseEmphasisPattern.ReplaceAllString(stripped, "$2")
	stripped = proseBlockquote.ReplaceAllString(stripped, "")
	stripped = proseListMarker.ReplaceAllString(stripped, "")
	stripped = proseHTMLTag.ReplaceAllString(stripped, " ")

	var tokens []string
	for _, word := range proseWordPattern.FindAllString(stripped, -1) {
		lower := strings.ToLower(word)
		if len(lower) <= 2 {
			continue
		}

		tokens = append(tokens, lower)
		if stem, ok := stemProse(lower); ok {
			tokens = append(tokens, stem)
		}
	}

	return tokens
}

// stemProse removes a known suffix when the remaining stem is at least 3 characters
// long, returning ok=false when no suffix applies or the stem would be too short.
func stemProse(word string) (string, bool) {
	for _, suffix := range proseSuffixes {
		bare := strings.TrimPrefix(suffix, "-")
		if strings.HasSuffix(word, bare) {
			stem := strings.TrimSuffix(word, bare)
			if len(stem) >= 3 {
				return stem, true
			}
			return "", false
		}
	}
	return "", false
}
