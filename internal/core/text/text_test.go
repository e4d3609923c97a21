package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"refund", "within", "30", "days"}, Tokenize("Refund within 30-days!"))
	assert.Nil(t, Tokenize(""))
	assert.Equal(t, []string{"r", "sum"}, Tokenize("Résumé"), "non-ascii runes act as separators")
}

func TestKeywords(t *testing.T) {
	got := Keywords("How do I get a refund for the refund window?", 4)
	assert.Equal(t, []string{"refund", "window"}, got)
	assert.Empty(t, Keywords("what is it", 4))
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"refund", "policy"}, QueryTerms("What is the refund policy? refund"))
	assert.Equal(t, []string{"what", "is", "it"}, QueryTerms("what is it"), "stopword-only queries keep their tokens")
}

func TestJaccardAndOverlap(t *testing.T) {
	a := TokenSet("refund within 30 days")
	b := TokenSet("refund within 14 days")
	assert.InDelta(t, 3.0/5.0, Jaccard(a, b), 1e-9)
	assert.Equal(t, 1.0, Jaccard(map[string]struct{}{}, map[string]struct{}{}))
	assert.Equal(t, 2, Overlap([]string{"refund", "days", "plan"}, a))
}

func TestSnippet(t *testing.T) {
	require.Equal(t, "héllo", Snippet("  héllo wörld ", 5))
	require.Equal(t, "short", Snippet("short", 220))
	require.Equal(t, "", Snippet("anything", 0))
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "refund policy", NormalizeQuery("  Refund\tPOLICY \n"))
}
