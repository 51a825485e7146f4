package retrieval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-context-cache/config"
)

func testKeywordConfig() config.KeywordConfig {
	return config.KeywordConfig{K1: 1.5, B: 0.75}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The cat, a quick one, sat ON the mat! x 42")

	assert.Equal(t, []string{"cat", "quick", "one", "sat", "mat", "42"}, tokens)
}

func TestKeywordIndex_SearchRanksByTermFrequency(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())
	ki.Index("d1", "the cat sat on the mat", nil)
	ki.Index("d2", "cat cat cat chasing the mouse", nil)
	ki.Index("d3", "dogs bark loudly outside", nil)

	results := ki.Search("cat", 10, nil)

	require.Len(t, results, 2)
	assert.Equal(t, "d2", results[0].ID)
	assert.Equal(t, "d1", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, 0.0)
}

func TestKeywordIndex_StopwordOnlyQuery(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())
	ki.Index("d1", "some indexed content", nil)

	assert.Nil(t, ki.Search("the is a", 10, nil))
	assert.Nil(t, ki.Search("", 10, nil))
}

func TestKeywordIndex_EmptyIndex(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())

	assert.Nil(t, ki.Search("anything", 10, nil))
}

func TestKeywordIndex_TieBreaksAreDeterministic(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())
	ki.Index("b", "alpha beta", nil)
	ki.Index("a", "alpha beta", nil)

	for i := 0; i < 5; i++ {
		results := ki.Search("alpha", 10, nil)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, "b", results[1].ID)
	}
}

func TestKeywordIndex_ReindexReplacesPostings(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())
	ki.Index("d1", "cats everywhere", nil)
	require.Len(t, ki.Search("cats", 10, nil), 1)

	ki.Index("d1", "dogs everywhere", nil)

	assert.Empty(t, ki.Search("cats", 10, nil))
	require.Len(t, ki.Search("dogs", 10, nil), 1)
	assert.Equal(t, 1, ki.Size())
}

func TestKeywordIndex_Remove(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())
	ki.Index("d1", "ephemeral content here", nil)
	require.True(t, ki.Has("d1"))

	ki.Remove("d1")

	assert.False(t, ki.Has("d1"))
	assert.Equal(t, 0, ki.Size())
	assert.Empty(t, ki.Search("ephemeral", 10, nil))

	// removing an unknown id is a no-op
	ki.Remove("d1")
	assert.Equal(t, 0, ki.Size())
}

func TestKeywordIndex_MetadataFilters(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())
	ki.Index("d1", "shared topic words", map[string]interface{}{"kind": "fact"})
	ki.Index("d2", "shared topic words", map[string]interface{}{"kind": "note"})

	results := ki.Search("topic", 10, map[string]interface{}{"kind": "fact"})

	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].ID)
}

func TestKeywordIndex_TopKTruncation(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())
	for i := 0; i < 10; i++ {
		ki.Index(fmt.Sprintf("d%d", i), "common token payload", nil)
	}

	results := ki.Search("common", 3, nil)

	assert.Len(t, results, 3)
	assert.Nil(t, ki.Search("common", 0, nil))
}

func TestKeywordIndex_IDFChangesWithCorpus(t *testing.T) {
	ki := NewKeywordIndex(testKeywordConfig())
	ki.Index("d1", "rare gemstone", nil)
	before := ki.Search("gemstone", 10, nil)
	require.Len(t, before, 1)

	// adding documents without the term raises its idf and the score
	ki.Index("d2", "plain filler text", nil)
	ki.Index("d3", "more filler text", nil)
	after := ki.Search("gemstone", 10, nil)

	require.Len(t, after, 1)
	assert.Greater(t, after[0].Score, before[0].Score)
}

func TestTokenize_MultibyteRunes(t *testing.T) {
	// the minimum token length is two characters, not two bytes
	assert.Equal(t, []string{"日本", "ok"}, Tokenize("é 猫 日本 ok"))
}
