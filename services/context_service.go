package services

import (
	"context"
	"time"

	"github.com/tas-context-cache/models"
)

// ContextService is the public surface of the multi-tier context cache.
// The HTTP gateway is a thin wrapper over these methods.
type ContextService interface {
	// Store admits content to one or more tiers and returns the assigned id
	// with the list of tiers that accepted it
	Store(ctx context.Context, content string, metadata map[string]interface{}, conversationID string, hint models.TierHint) (*models.StoreResult, error)

	// Retrieve answers a query by fanning out to the tiers the strategy
	// selects and fusing the ranked candidates under the token budget
	Retrieve(ctx context.Context, req models.RetrieveRequest) (*models.RetrieveResponse, error)

	// Delete removes an item from every tier holding it
	Delete(ctx context.Context, id string) error

	// Clear wipes a scope and returns the number of items removed
	Clear(ctx context.Context, scope models.ClearScope) (int, error)

	// Stats returns a point-in-time counter snapshot
	Stats(ctx context.Context) (*models.StatsSnapshot, error)
}

// Clock abstracts time so eviction and decay are deterministic in tests
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// EmbeddingProvider turns texts into fixed-dimension vectors. Batch-capable;
// only called when the strategy requires the semantic path.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// VectorStore is the external semantic search collaborator
type VectorStore interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	// Search returns ids with similarity in [0,1], best first
	Search(ctx context.Context, vector []float32, k int, filter map[string]interface{}) ([]models.Candidate, error)
}

// GraphStore is the external relationship collaborator
type GraphStore interface {
	UpsertEntity(ctx context.Context, id string, entityType string, props map[string]interface{}) error
	UpsertEdge(ctx context.Context, from, to string, edgeType string, props map[string]interface{}) error
	// Search returns entity ids with a centrality score, best first
	Search(ctx context.Context, query string, maxDepth int) ([]models.Candidate, error)
	// Path returns the edge list connecting a to b, or nil when none exists
	// within maxDepth
	Path(ctx context.Context, a, b string, maxDepth int) ([]models.GraphEdge, error)
}

// RecordStore persists the durable long-term record for each item
type RecordStore interface {
	Save(ctx context.Context, rec *models.ContextRecord) error
	Get(ctx context.Context, id string) (*models.ContextRecord, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.ContextRecord, error)
}

// ResponseCache caches whole retrieval responses keyed by the normalized
// request
type ResponseCache interface {
	Get(ctx context.Context, key string) (*models.RetrieveResponse, error)
	Set(ctx context.Context, key string, resp *models.RetrieveResponse, ttlSeconds int) error
	Invalidate(ctx context.Context) error
}
