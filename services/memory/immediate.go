package memory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services"
)

// immediateHalfLife controls recency decay when scoring immediate items
const immediateHalfLife = 1800.0

// ImmediateTier is a fixed-capacity FIFO ring with a TTL and a token cap.
// Expired items are evicted lazily on every add and read. A single
// reader-writer mutex guards the ring.
type ImmediateTier struct {
	mu    sync.RWMutex
	items []*models.ContextItem // index 0 = oldest

	capacity int
	ttl      time.Duration
	tokenCap int
	tokenSum int

	clock     services.Clock
	evictions int64
}

func NewImmediateTier(cfg config.ImmediateConfig, clock services.Clock) *ImmediateTier {
	if clock == nil {
		clock = services.SystemClock{}
	}
	return &ImmediateTier{
		capacity: cfg.Capacity,
		ttl:      time.Duration(cfg.TTLSeconds) * time.Second,
		tokenCap: cfg.TokenCap,
		clock:    clock,
	}
}

// Add appends a copy of item and evicts from the head until both the
// capacity and token caps hold again. Returns whether the item was admitted;
// an item exceeding the token cap on its own is refused rather than kept
// over budget.
func (t *ImmediateTier) Add(item *models.ContextItem) bool {
	cp := item.Clone()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.expireLocked(now)

	if t.tokenCap > 0 && cp.TokenEstimate > t.tokenCap {
		return false
	}

	t.items = append(t.items, cp)
	t.tokenSum += cp.TokenEstimate

	for len(t.items) > t.capacity || (t.tokenSum > t.tokenCap && len(t.items) > 1) {
		t.dropHeadLocked()
	}
	return true
}

// List returns unexpired items newest first, filtered
func (t *ImmediateTier) List(filter *models.ItemFilter) []*models.ContextItem {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	out := make([]*models.ContextItem, 0, len(t.items))
	for i := len(t.items) - 1; i >= 0; i-- {
		item := t.items[i]
		if t.expired(item, now) {
			continue
		}
		if !filter.Match(item) {
			continue
		}
		out = append(out, item.Clone())
	}
	return out
}

// Search scores unexpired items by recency decay plus a weak keyword
// overlap bonus, best first
func (t *ImmediateTier) Search(query string, maxResults int, filter *models.ItemFilter) []models.ScoredItem {
	queryWords := wordSet(query)

	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	out := make([]models.ScoredItem, 0, len(t.items))
	for i := len(t.items) - 1; i >= 0; i-- {
		item := t.items[i]
		if t.expired(item, now) {
			continue
		}
		if !filter.Match(item) {
			continue
		}
		age := now.Sub(item.CreatedAt).Seconds()
		score := math.Exp(-age/immediateHalfLife) + 0.1*jaccard(queryWords, wordSet(item.Content))
		out = append(out, models.ScoredItem{
			Item:       item.Clone(),
			Score:      score,
			SourceTier: models.TierImmediate,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// Get returns a copy of the unexpired item with the given id
func (t *ImmediateTier) Get(id string) (*models.ContextItem, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	for _, item := range t.items {
		if item.ID == id && !t.expired(item, now) {
			return item.Clone(), true
		}
	}
	return nil, false
}

// Touch bumps access tracking for id and returns the new access count
func (t *ImmediateTier) Touch(id string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	for _, item := range t.items {
		if item.ID == id && !t.expired(item, now) {
			item.AccessCount++
			item.LastAccessedAt = now
			return item.AccessCount, true
		}
	}
	return 0, false
}

// Delete removes id from the ring
func (t *ImmediateTier) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, item := range t.items {
		if item.ID == id {
			t.tokenSum -= item.TokenEstimate
			t.items = append(t.items[:i], t.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear wipes the ring and returns the number of items removed
func (t *ImmediateTier) Clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.items)
	t.items = nil
	t.tokenSum = 0
	return n
}

// Size returns the current (possibly expired-inclusive) ring length
func (t *ImmediateTier) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// TokenSum returns the summed token estimates currently held
func (t *ImmediateTier) TokenSum() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tokenSum
}

// Evictions returns the number of capacity and TTL evictions so far
func (t *ImmediateTier) Evictions() int64 {
	return atomic.LoadInt64(&t.evictions)
}

func (t *ImmediateTier) expired(item *models.ContextItem, now time.Time) bool {
	return t.ttl > 0 && now.Sub(item.CreatedAt) > t.ttl
}

func (t *ImmediateTier) expireLocked(now time.Time) {
	kept := t.items[:0]
	for _, item := range t.items {
		if t.expired(item, now) {
			t.tokenSum -= item.TokenEstimate
			atomic.AddInt64(&t.evictions, 1)
			continue
		}
		kept = append(kept, item)
	}
	t.items = kept
}

func (t *ImmediateTier) dropHeadLocked() {
	if len(t.items) == 0 {
		return
	}
	t.tokenSum -= t.items[0].TokenEstimate
	t.items = t.items[1:]
	atomic.AddInt64(&t.evictions, 1)
}

// wordSet lowercases and splits on whitespace for overlap scoring
func wordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// jaccard is intersection size over union size
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
