// Package text holds the deterministic tokenization shared by indexing, fusion and
// gating. All components must tokenize the same way for scores to be comparable.
package text

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "to": {}, "for": {}, "of": {},
	"in": {}, "on": {}, "with": {}, "is": {}, "are": {}, "do": {}, "does": {},
	"how": {}, "what": {}, "when": {}, "where": {}, "why": {}, "can": {}, "i": {},
	"we": {}, "you": {}, "your": {}, "our": {}, "it": {}, "this": {}, "that": {},
	"be": {}, "by": {}, "as": {}, "at": {}, "if": {}, "my": {}, "me": {}, "was": {},
	"will": {}, "which": {}, "who": {}, "there": {}, "their": {}, "have": {}, "has": {},
}

// Tokenize lower-cases s and splits it on every rune that is not an ASCII letter or digit.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

func TokenSet(s string) map[string]struct{} {
	tokens := Tokenize(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

// Keywords returns the distinct meaningful terms of s in first-seen order: tokens of
// at least minLen runes that are not stopwords.
func Keywords(s string, minLen int) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 8)
	for _, token := range Tokenize(s) {
		if utf8.RuneCountInString(token) < minLen || IsStopword(token) {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// QueryTerms returns the distinct non-stopword tokens of a query. When the query
// consists only of stopwords all distinct tokens are returned.
func QueryTerms(s string) []string {
	tokens := Tokenize(s)
	seen := make(map[string]struct{}, len(tokens))
	all := make([]string, 0, len(tokens))
	content := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		all = append(all, token)
		if !IsStopword(token) {
			content = append(content, token)
		}
	}
	if len(content) == 0 {
		return all
	}
	return content
}

// Overlap counts how many of terms occur in set.
func Overlap(terms []string, set map[string]struct{}) int {
	n := 0
	for _, term := range terms {
		if _, ok := set[term]; ok {
			n++
		}
	}
	return n
}

func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for token := range a {
		if _, ok := b[token]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Snippet returns at most n runes of s with surrounding whitespace trimmed.
func Snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// NormalizeQuery collapses whitespace and lower-cases q for use as a cache key.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
