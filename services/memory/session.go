package memory

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services"
)

// EntryState is the lifecycle position of a session entry
type EntryState string

const (
	StateFresh EntryState = "fresh"
	StateWarm  EntryState = "warm"
	StateHot   EntryState = "hot"
)

// StateOf classifies an entry: warm after 3 accesses, hot after 10 accesses
// on a high or critical priority item. Hot entries are long-term promotion
// candidates.
func StateOf(item *models.ContextItem) EntryState {
	switch {
	case item.AccessCount >= 10 && item.Priority.Weight() >= models.PriorityHigh.Weight():
		return StateHot
	case item.AccessCount >= 3:
		return StateWarm
	default:
		return StateFresh
	}
}

// conversationStore is one conversation's LRU. Each store has its own mutex
// so traffic on different conversations never contends.
type conversationStore struct {
	mu      sync.Mutex
	entries map[string]*models.ContextItem
	order   []string // index 0 = most recently used
}

func (cs *conversationStore) moveToFront(id string) {
	for i, v := range cs.order {
		if v == id {
			copy(cs.order[1:i+1], cs.order[:i])
			cs.order[0] = id
			return
		}
	}
	cs.order = append([]string{id}, cs.order...)
}

func (cs *conversationStore) remove(id string) {
	delete(cs.entries, id)
	for i, v := range cs.order {
		if v == id {
			cs.order = append(cs.order[:i], cs.order[i+1:]...)
			return
		}
	}
}

// SessionTier keeps a bounded LRU of items per conversation. Overflow evicts
// the lowest importance-weighted entry rather than the strict LRU tail, so a
// critical item survives a burst of chatter.
type SessionTier struct {
	mu    sync.RWMutex // guards the conversation registry only
	convs map[string]*conversationStore

	capacity  int
	threshold int
	halfLife  float64 // seconds
	clock     services.Clock

	evictions      int64
	consolidations int64
}

func NewSessionTier(cfg config.SessionConfig, clock services.Clock) *SessionTier {
	if clock == nil {
		clock = services.SystemClock{}
	}
	return &SessionTier{
		convs:     make(map[string]*conversationStore),
		capacity:  cfg.CapacityPerConv,
		threshold: cfg.ConsolidationThreshold,
		halfLife:  float64(cfg.HalfLifeSeconds),
		clock:     clock,
	}
}

func (t *SessionTier) conv(conversationID string, create bool) *conversationStore {
	t.mu.RLock()
	cs := t.convs[conversationID]
	t.mu.RUnlock()
	if cs != nil || !create {
		return cs
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cs = t.convs[conversationID]; cs == nil {
		cs = &conversationStore{entries: make(map[string]*models.ContextItem)}
		t.convs[conversationID] = cs
	}
	return cs
}

// sortedConvs snapshots all stores in conversation id order; global
// operations lock them in this order to stay deadlock free
func (t *SessionTier) sortedConvs() []*conversationStore {
	t.mu.RLock()
	ids := make([]string, 0, len(t.convs))
	for id := range t.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	stores := make([]*conversationStore, len(ids))
	for i, id := range ids {
		stores[i] = t.convs[id]
	}
	t.mu.RUnlock()
	return stores
}

// Add inserts a copy of item into its conversation, moving it to the LRU
// front. On overflow the minimum-weight entry is evicted.
func (t *SessionTier) Add(item *models.ContextItem, conversationID string) {
	cp := item.Clone()
	cp.ConversationID = conversationID

	cs := t.conv(conversationID, true)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.entries[cp.ID] = cp
	cs.moveToFront(cp.ID)

	for len(cs.entries) > t.capacity {
		t.evictLocked(cs)
	}
}

// evictLocked drops the lowest-weight entry; ties break on the oldest
// last_accessed_at, then the smallest id
func (t *SessionTier) evictLocked(cs *conversationStore) {
	now := t.clock.Now()
	var victim *models.ContextItem
	var victimWeight float64
	for _, e := range cs.entries {
		w := t.entryWeight(e, now)
		if victim == nil ||
			w < victimWeight ||
			(w == victimWeight && e.LastAccessedAt.Before(victim.LastAccessedAt)) ||
			(w == victimWeight && e.LastAccessedAt.Equal(victim.LastAccessedAt) && e.ID < victim.ID) {
			victim = e
			victimWeight = w
		}
	}
	if victim != nil {
		cs.remove(victim.ID)
		atomic.AddInt64(&t.evictions, 1)
	}
}

// entryWeight is priority_weight * (1 + log1p(access_count)) * recency_decay
func (t *SessionTier) entryWeight(item *models.ContextItem, now time.Time) float64 {
	decay := t.recencyDecay(item, now)
	return item.Priority.Weight() * (1 + math.Log1p(float64(item.AccessCount))) * decay
}

func (t *SessionTier) recencyDecay(item *models.ContextItem, now time.Time) float64 {
	age := now.Sub(item.LastAccessedAt).Seconds()
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / (2 * t.halfLife))
}

// Touch bumps id to the LRU front and updates access tracking together
func (t *SessionTier) Touch(conversationID, id string) (int, bool) {
	cs := t.conv(conversationID, false)
	if cs == nil {
		return 0, false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	e, ok := cs.entries[id]
	if !ok {
		return 0, false
	}
	e.AccessCount++
	e.LastAccessedAt = t.clock.Now()
	cs.moveToFront(id)
	return e.AccessCount, true
}

// Get returns a copy of id from its conversation without touching it
func (t *SessionTier) Get(conversationID, id string) (*models.ContextItem, bool) {
	if conversationID != "" {
		cs := t.conv(conversationID, false)
		if cs == nil {
			return nil, false
		}
		cs.mu.Lock()
		defer cs.mu.Unlock()
		if e, ok := cs.entries[id]; ok {
			return e.Clone(), true
		}
		return nil, false
	}
	for _, cs := range t.sortedConvs() {
		cs.mu.Lock()
		if e, ok := cs.entries[id]; ok {
			cp := e.Clone()
			cs.mu.Unlock()
			return cp, true
		}
		cs.mu.Unlock()
	}
	return nil, false
}

// Search scores entries as 0.5*jaccard + 0.3*recency + 0.2*normalized
// priority. An empty conversationID searches every conversation.
func (t *SessionTier) Search(query, conversationID string, maxResults int, filter *models.ItemFilter) []models.ScoredItem {
	queryWords := wordSet(query)
	now := t.clock.Now()

	var stores []*conversationStore
	if conversationID != "" {
		cs := t.conv(conversationID, false)
		if cs == nil {
			return nil
		}
		stores = []*conversationStore{cs}
	} else {
		stores = t.sortedConvs()
	}

	var out []models.ScoredItem
	for _, cs := range stores {
		cs.mu.Lock()
		for _, e := range cs.entries {
			if !filter.Match(e) {
				continue
			}
			score := 0.5*jaccard(queryWords, wordSet(e.Content)) +
				0.3*t.recencyDecay(e, now) +
				0.2*e.Priority.Weight()/models.PriorityCritical.Weight()
			out = append(out, models.ScoredItem{
				Item:       e.Clone(),
				Score:      score,
				SourceTier: models.TierSession,
			})
		}
		cs.mu.Unlock()
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

// Consolidate folds runs of adjacent same-topic conversation and note items
// into single synthesized items once the conversation holds at least the
// consolidation threshold of them. Returns the number of runs folded.
func (t *SessionTier) Consolidate(conversationID string) int {
	cs := t.conv(conversationID, false)
	if cs == nil {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var eligible []*models.ContextItem
	for _, e := range cs.entries {
		if e.Kind == models.KindConversation || e.Kind == models.KindNote {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) < t.threshold {
		return 0
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	folded := 0
	for i := 0; i < len(eligible); {
		j := i + 1
		for j < len(eligible) && topicKey(eligible[j]) == topicKey(eligible[i]) {
			j++
		}
		if j-i >= 2 {
			t.foldRunLocked(cs, eligible[i:j])
			folded++
		}
		i = j
	}
	if folded > 0 {
		atomic.AddInt64(&t.consolidations, int64(folded))
	}
	return folded
}

// ConsolidateAll runs consolidation over every conversation in sorted id
// order and returns the total runs folded
func (t *SessionTier) ConsolidateAll() int {
	t.mu.RLock()
	ids := make([]string, 0, len(t.convs))
	for id := range t.convs {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	sort.Strings(ids)

	total := 0
	for _, id := range ids {
		total += t.Consolidate(id)
	}
	return total
}

// foldRunLocked replaces run with one synthesized item: concatenated
// content, the maximum priority of the sources, the earliest creation time
func (t *SessionTier) foldRunLocked(cs *conversationStore, run []*models.ContextItem) {
	content := run[0].Content
	priority := run[0].Priority
	created := run[0].CreatedAt
	accessed := run[0].LastAccessedAt
	access := run[0].AccessCount
	for _, e := range run[1:] {
		content += "\n---\n" + e.Content
		if e.Priority.Weight() > priority.Weight() {
			priority = e.Priority
		}
		if e.CreatedAt.Before(created) {
			created = e.CreatedAt
		}
		if e.LastAccessedAt.After(accessed) {
			accessed = e.LastAccessedAt
		}
		if e.AccessCount > access {
			access = e.AccessCount
		}
	}

	merged := &models.ContextItem{
		ID:             uuid.New().String(),
		Content:        content,
		Kind:           run[0].Kind,
		Priority:       priority,
		ConversationID: run[0].ConversationID,
		CreatedAt:      created,
		LastAccessedAt: accessed,
		AccessCount:    access,
		TokenEstimate:  models.EstimateTokens(content),
	}
	if v, ok := run[0].Metadata[models.MetaTopic]; ok {
		merged.Metadata = map[string]interface{}{models.MetaTopic: v}
	}

	for _, e := range run {
		cs.remove(e.ID)
	}
	cs.entries[merged.ID] = merged
	cs.moveToFront(merged.ID)
}

// topicKey groups items for consolidation: equal explicit topics match,
// otherwise items of the same kind without a topic match
func topicKey(item *models.ContextItem) string {
	if v, ok := item.Metadata[models.MetaTopic].(string); ok && v != "" {
		return "topic:" + v
	}
	return "kind:" + string(item.Kind)
}

// Delete removes id wherever it lives and reports whether it was found
func (t *SessionTier) Delete(id string) bool {
	for _, cs := range t.sortedConvs() {
		cs.mu.Lock()
		if _, ok := cs.entries[id]; ok {
			cs.remove(id)
			cs.mu.Unlock()
			return true
		}
		cs.mu.Unlock()
	}
	return false
}

// Clear wipes one conversation, or every conversation when id is empty, and
// returns the number of items removed
func (t *SessionTier) Clear(conversationID string) int {
	if conversationID != "" {
		cs := t.conv(conversationID, false)
		if cs == nil {
			return 0
		}
		cs.mu.Lock()
		n := len(cs.entries)
		cs.entries = make(map[string]*models.ContextItem)
		cs.order = nil
		cs.mu.Unlock()
		return n
	}

	n := 0
	for _, cs := range t.sortedConvs() {
		cs.mu.Lock()
		n += len(cs.entries)
		cs.entries = make(map[string]*models.ContextItem)
		cs.order = nil
		cs.mu.Unlock()
	}
	return n
}

// SizeConv returns one conversation's entry count
func (t *SessionTier) SizeConv(conversationID string) int {
	cs := t.conv(conversationID, false)
	if cs == nil {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.entries)
}

// Size returns the total entry count across conversations
func (t *SessionTier) Size() int {
	n := 0
	for _, cs := range t.sortedConvs() {
		cs.mu.Lock()
		n += len(cs.entries)
		cs.mu.Unlock()
	}
	return n
}

// OrderedIDs returns one conversation's ids from LRU front to tail
func (t *SessionTier) OrderedIDs(conversationID string) []string {
	cs := t.conv(conversationID, false)
	if cs == nil {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]string, len(cs.order))
	copy(out, cs.order)
	return out
}

// Evictions returns the number of weight evictions so far
func (t *SessionTier) Evictions() int64 {
	return atomic.LoadInt64(&t.evictions)
}

// Consolidations returns the number of folded runs so far
func (t *SessionTier) Consolidations() int64 {
	return atomic.LoadInt64(&t.consolidations)
}
