package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services"
	"github.com/tas-context-cache/services/retrieval"
)

// LongTermTier holds the authoritative record for durable items and fans
// their content out to the keyword index and the vector and graph
// collaborators. It owns the id to chunk-id and id to vector-id mappings;
// a failed write is rolled back so the collaborators never hold state for
// an item the tier does not.
type LongTermTier struct {
	mu        sync.RWMutex
	items     map[string]*models.ContextItem
	docIDs    map[string][]string // item id -> keyword doc ids
	vectorIDs map[string][]string // item id -> vector store ids

	chunker  *retrieval.Chunker
	index    *retrieval.KeywordIndex
	vectors  services.VectorStore
	graph    services.GraphStore
	records  services.RecordStore
	embedder services.EmbeddingProvider
	clock    services.Clock
}

// NewLongTermTier wires the tier to its collaborators. vectors, graph,
// records and embedder may each be nil; the corresponding path is skipped.
func NewLongTermTier(
	chunker *retrieval.Chunker,
	index *retrieval.KeywordIndex,
	vectors services.VectorStore,
	graph services.GraphStore,
	records services.RecordStore,
	embedder services.EmbeddingProvider,
	clock services.Clock,
) *LongTermTier {
	if clock == nil {
		clock = services.SystemClock{}
	}
	return &LongTermTier{
		items:     make(map[string]*models.ContextItem),
		docIDs:    make(map[string][]string),
		vectorIDs: make(map[string][]string),
		chunker:   chunker,
		index:     index,
		vectors:   vectors,
		graph:     graph,
		records:   records,
		embedder:  embedder,
		clock:     clock,
	}
}

// Add chunks item content, indexes every chunk in the keyword index, pushes
// embeddings to the vector store, registers the item in the graph and
// persists the durable record. Any collaborator failure rolls back what was
// already written and surfaces as a capacity or collaborator error.
func (t *LongTermTier) Add(ctx context.Context, item *models.ContextItem) error {
	cp := item.Clone()

	chunks := t.chunker.Chunk(cp.ID, cp.Content)

	docIDs := make([]string, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	if len(chunks) <= 1 {
		// short content is indexed whole under the item id
		docIDs = append(docIDs, cp.ID)
		texts = append(texts, cp.Content)
	} else {
		for _, ch := range chunks {
			docIDs = append(docIDs, ch.ChunkID)
			texts = append(texts, ch.Content)
		}
	}

	meta := map[string]interface{}{
		"parent": cp.ID,
		"kind":   string(cp.Kind),
	}
	if cp.ConversationID != "" {
		meta[models.MetaConversationID] = cp.ConversationID
	}

	var indexed []string
	var upserted []string
	rollback := func() {
		for _, id := range indexed {
			t.index.Remove(id)
		}
		if t.vectors != nil {
			for _, id := range upserted {
				_ = t.vectors.Delete(context.Background(), id)
			}
		}
	}

	for i, id := range docIDs {
		t.index.Index(id, texts[i], meta)
		indexed = append(indexed, id)
	}

	if t.vectors != nil && t.embedder != nil {
		vecs, err := t.embedder.Embed(ctx, texts)
		if err != nil {
			rollback()
			return fmt.Errorf("embed %s: %w", cp.ID, wrapWriteErr(err))
		}
		for i, id := range docIDs {
			if err := t.vectors.Upsert(ctx, id, vecs[i], meta); err != nil {
				rollback()
				return fmt.Errorf("vector upsert %s: %w", id, wrapWriteErr(err))
			}
			upserted = append(upserted, id)
		}
	}

	if t.graph != nil {
		props := map[string]interface{}{"kind": string(cp.Kind)}
		if err := t.graph.UpsertEntity(ctx, cp.ID, string(cp.Kind), props); err != nil {
			rollback()
			return fmt.Errorf("graph upsert %s: %w", cp.ID, wrapWriteErr(err))
		}
		if cp.ConversationID != "" {
			if err := t.graph.UpsertEdge(ctx, cp.ConversationID, cp.ID, "contains", nil); err != nil {
				rollback()
				return fmt.Errorf("graph edge %s: %w", cp.ID, wrapWriteErr(err))
			}
		}
	}

	if t.records != nil {
		rec, err := models.RecordFromItem(cp)
		if err != nil {
			rollback()
			return fmt.Errorf("encode record %s: %w", cp.ID, err)
		}
		if err := t.records.Save(ctx, rec); err != nil {
			rollback()
			return fmt.Errorf("save record %s: %w", cp.ID, wrapWriteErr(err))
		}
	}

	t.mu.Lock()
	t.items[cp.ID] = cp
	t.docIDs[cp.ID] = docIDs
	t.vectorIDs[cp.ID] = upserted
	t.mu.Unlock()
	return nil
}

// wrapWriteErr keeps an explicit capacity rejection visible and folds every
// other collaborator error into the collaborator failure kind
func wrapWriteErr(err error) error {
	if errors.Is(err, models.ErrCapacityExhausted) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrCollaboratorFailure, err)
}

// Delete cascades id out of the keyword index, the vector store and the
// record store
func (t *LongTermTier) Delete(ctx context.Context, id string) (bool, error) {
	t.mu.Lock()
	_, ok := t.items[id]
	docIDs := t.docIDs[id]
	vecIDs := t.vectorIDs[id]
	delete(t.items, id)
	delete(t.docIDs, id)
	delete(t.vectorIDs, id)
	t.mu.Unlock()

	if !ok {
		return false, nil
	}

	for _, docID := range docIDs {
		t.index.Remove(docID)
	}
	var firstErr error
	if t.vectors != nil {
		for _, vecID := range vecIDs {
			if err := t.vectors.Delete(ctx, vecID); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("vector delete %s: %w", vecID, wrapWriteErr(err))
			}
		}
	}
	if t.records != nil {
		if err := t.records.Delete(ctx, id); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("record delete %s: %w", id, wrapWriteErr(err))
		}
	}
	return true, firstErr
}

// Get returns a copy of the authoritative item
func (t *LongTermTier) Get(id string) (*models.ContextItem, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	item, ok := t.items[id]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

// Touch bumps access tracking for id and returns the new access count
func (t *LongTermTier) Touch(id string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.items[id]
	if !ok {
		return 0, false
	}
	item.AccessCount++
	item.LastAccessedAt = t.clock.Now()
	return item.AccessCount, true
}

// Scan returns copies of every item passing filter
func (t *LongTermTier) Scan(filter *models.ItemFilter) []*models.ContextItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.ContextItem, 0, len(t.items))
	for _, item := range t.items {
		if filter.Match(item) {
			out = append(out, item.Clone())
		}
	}
	return out
}

// Resolve maps a keyword or vector doc id, possibly a chunk id of the form
// parent#ordinal, to its parent item
func (t *LongTermTier) Resolve(docID string) (*models.ContextItem, bool) {
	id := docID
	if i := strings.LastIndex(docID, "#"); i > 0 {
		id = docID[:i]
	}
	return t.Get(id)
}

// Has reports whether id is held by this tier
func (t *LongTermTier) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.items[id]
	return ok
}

// Size returns the number of items held
func (t *LongTermTier) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// Restore reloads persisted records into the tier and reindexes them, so a
// restart fully reconstructs keyword and vector retrievability
func (t *LongTermTier) Restore(ctx context.Context) (int, error) {
	if t.records == nil {
		return 0, nil
	}
	recs, err := t.records.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	n := 0
	for i := range recs {
		item, err := recs[i].Item()
		if err != nil {
			return n, fmt.Errorf("decode record %s: %w", recs[i].ID, err)
		}
		if t.Has(item.ID) {
			continue
		}
		if err := t.Add(ctx, item); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
