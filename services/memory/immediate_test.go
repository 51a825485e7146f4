package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
)

func testImmediateConfig() config.ImmediateConfig {
	return config.ImmediateConfig{Capacity: 10, TTLSeconds: 3600, TokenCap: 2048}
}

func newImmediateItem(id, content string, clk *fakeClock) *models.ContextItem {
	now := clk.Now()
	return &models.ContextItem{
		ID:             id,
		Content:        content,
		Kind:           models.KindNote,
		Priority:       models.PriorityNormal,
		CreatedAt:      now,
		LastAccessedAt: now,
		TokenEstimate:  models.EstimateTokens(content),
	}
}

func TestImmediateTier_FIFOEviction(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(config.ImmediateConfig{Capacity: 3, TTLSeconds: 3600, TokenCap: 2048}, clk)

	for i := 0; i < 4; i++ {
		tier.Add(newImmediateItem(fmt.Sprintf("i%d", i), "note", clk))
		clk.Advance(time.Second)
	}

	assert.Equal(t, 3, tier.Size())
	_, ok := tier.Get("i0")
	assert.False(t, ok, "oldest item is evicted first")
	_, ok = tier.Get("i3")
	assert.True(t, ok)
	assert.EqualValues(t, 1, tier.Evictions())
}

func TestImmediateTier_ListNewestFirst(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(testImmediateConfig(), clk)

	for i := 0; i < 3; i++ {
		tier.Add(newImmediateItem(fmt.Sprintf("i%d", i), "note", clk))
		clk.Advance(time.Second)
	}

	items := tier.List(nil)
	require.Len(t, items, 3)
	assert.Equal(t, "i2", items[0].ID)
	assert.Equal(t, "i0", items[2].ID)
}

func TestImmediateTier_TTLExpiry(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(testImmediateConfig(), clk)

	tier.Add(newImmediateItem("old", "stale note", clk))
	clk.Advance(2 * time.Hour)
	tier.Add(newImmediateItem("new", "fresh note", clk))

	_, ok := tier.Get("old")
	assert.False(t, ok)
	_, ok = tier.Get("new")
	assert.True(t, ok)

	items := tier.List(nil)
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].ID)
}

func TestImmediateTier_TokenCap(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(config.ImmediateConfig{Capacity: 10, TTLSeconds: 3600, TokenCap: 100}, clk)

	// 240 chars is 60 tokens; two items fit, a third forces the head out
	big := make([]byte, 240)
	for i := range big {
		big[i] = 'a'
	}
	for i := 0; i < 3; i++ {
		tier.Add(newImmediateItem(fmt.Sprintf("i%d", i), string(big), clk))
	}

	assert.LessOrEqual(t, tier.TokenSum(), 100)
	_, ok := tier.Get("i2")
	assert.True(t, ok, "the newest item survives")
}

func TestImmediateTier_OversizedItemRefused(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(config.ImmediateConfig{Capacity: 10, TTLSeconds: 3600, TokenCap: 10}, clk)

	big := make([]byte, 400)
	for i := range big {
		big[i] = 'a'
	}
	assert.False(t, tier.Add(newImmediateItem("huge", string(big), clk)))

	assert.Equal(t, 0, tier.Size())
	assert.Equal(t, 0, tier.TokenSum())

	assert.True(t, tier.Add(newImmediateItem("small", "fits fine", clk)))
	assert.Equal(t, 1, tier.Size())
}

func TestImmediateTier_TouchUpdatesAccess(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(testImmediateConfig(), clk)
	tier.Add(newImmediateItem("i1", "note", clk))
	clk.Advance(time.Minute)

	count, ok := tier.Touch("i1")
	require.True(t, ok)
	assert.Equal(t, 1, count)

	got, ok := tier.Get("i1")
	require.True(t, ok)
	assert.Equal(t, 1, got.AccessCount)
	assert.Equal(t, clk.Now(), got.LastAccessedAt)

	_, ok = tier.Touch("missing")
	assert.False(t, ok)
}

func TestImmediateTier_SearchPrefersRecent(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(testImmediateConfig(), clk)

	tier.Add(newImmediateItem("older", "meeting notes about apples", clk))
	clk.Advance(20 * time.Minute)
	tier.Add(newImmediateItem("newer", "meeting notes about oranges", clk))

	results := tier.Search("meeting notes", 10, nil)
	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].Item.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestImmediateTier_SearchHonorsFilter(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(testImmediateConfig(), clk)

	fact := newImmediateItem("f1", "a stored fact", clk)
	fact.Kind = models.KindFact
	tier.Add(fact)
	tier.Add(newImmediateItem("n1", "a stored note", clk))

	results := tier.Search("stored", 10, &models.ItemFilter{Kinds: []models.ContextKind{models.KindFact}})
	require.Len(t, results, 1)
	assert.Equal(t, "f1", results[0].Item.ID)
}

func TestImmediateTier_ReturnsClones(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(testImmediateConfig(), clk)
	item := newImmediateItem("i1", "note", clk)
	item.Metadata = map[string]interface{}{"tag": "x"}
	tier.Add(item)

	got, ok := tier.Get("i1")
	require.True(t, ok)
	got.Content = "mutated"
	got.Metadata["tag"] = "y"

	again, ok := tier.Get("i1")
	require.True(t, ok)
	assert.Equal(t, "note", again.Content)
	assert.Equal(t, "x", again.Metadata["tag"])
}

func TestImmediateTier_DeleteAndClear(t *testing.T) {
	clk := newFakeClock()
	tier := NewImmediateTier(testImmediateConfig(), clk)
	tier.Add(newImmediateItem("i1", "note one", clk))
	tier.Add(newImmediateItem("i2", "note two", clk))

	assert.True(t, tier.Delete("i1"))
	assert.False(t, tier.Delete("i1"))
	assert.Equal(t, 1, tier.Size())

	assert.Equal(t, 1, tier.Clear())
	assert.Equal(t, 0, tier.Size())
	assert.Equal(t, 0, tier.TokenSum())
}
