package impl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services"
	"github.com/tas-context-cache/services/memory"
	"github.com/tas-context-cache/services/retrieval"
)

// testClock is a manually advanced Clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testOrchestratorConfig() *config.Config {
	return &config.Config{
		Immediate: config.ImmediateConfig{Capacity: 10, TTLSeconds: 3600, TokenCap: 2048},
		Session:   config.SessionConfig{CapacityPerConv: 50, ConsolidationThreshold: 20, HalfLifeSeconds: 1800},
		Keyword:   config.KeywordConfig{K1: 1.5, B: 0.75},
		Chunker:   config.ChunkerConfig{Target: 512, Min: 100, Max: 1024, BaseOverlap: 50, Adaptive: true},
		Fusion:    config.FusionConfig{SemanticWeight: 0.5, KeywordWeight: 0.3, GraphWeight: 0.2},
		Retrieve:  config.RetrieveConfig{MaxTokens: 4096, DeadlineMS: 2000},
		Cache:     config.CacheConfig{TTLSeconds: 300, Enabled: true},
		Promotion: config.PromotionConfig{ImmediateToSessionAccess: 3, SessionToLongTermAccess: 5},
	}
}

type orchestratorFixture struct {
	svc       *OrchestratorServiceImpl
	cfg       *config.Config
	clock     *testClock
	immediate *memory.ImmediateTier
	session   *memory.SessionTier
	longTerm  *memory.LongTermTier
	index     *retrieval.KeywordIndex
}

func newOrchestratorFixture(cfg *config.Config, cache services.ResponseCache, vectors services.VectorStore) *orchestratorFixture {
	clock := newTestClock()
	index := retrieval.NewKeywordIndex(cfg.Keyword)
	chunker := retrieval.NewChunker(cfg.Chunker)
	embedder := NewLocalEmbedder(64)
	graph := NewInMemoryGraphStore()
	records := NewInMemoryRecordStore()

	if vectors == nil {
		vectors = NewInMemoryVectorStore()
	}

	immediate := memory.NewImmediateTier(cfg.Immediate, clock)
	session := memory.NewSessionTier(cfg.Session, clock)
	longTerm := memory.NewLongTermTier(chunker, index, vectors, graph, records, embedder, clock)
	fusion := NewFusionEngine(cfg.Fusion)

	svc := NewOrchestratorService(cfg, immediate, session, longTerm, index, fusion, cache, vectors, graph, embedder, clock)
	return &orchestratorFixture{
		svc:       svc,
		cfg:       cfg,
		clock:     clock,
		immediate: immediate,
		session:   session,
		longTerm:  longTerm,
		index:     index,
	}
}

func TestOrchestrator_StoreValidation(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "   ", nil, "", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = fx.svc.Store(ctx, "content", nil, "", "bogus-tier")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = fx.svc.Store(ctx, "content", nil, "", models.TierHintSession)
	assert.ErrorIs(t, err, models.ErrInvalidInput, "session hint needs a conversation")
}

func TestOrchestrator_StoreRouting(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	// plain note without a conversation lands in immediate only
	res, err := fx.svc.Store(ctx, "a passing remark", nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{models.TierImmediate}, res.TiersAdmitted)

	// a conversation routes to session as well
	res, err = fx.svc.Store(ctx, "a conversational turn", nil, "conv-1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{models.TierSession, models.TierImmediate}, res.TiersAdmitted)
	assert.Equal(t, "conv-1", res.ConversationID)

	// high importance also goes long-term
	res, err = fx.svc.Store(ctx, "an important decision",
		map[string]interface{}{models.MetaImportance: "high"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{models.TierLongTerm, models.TierImmediate}, res.TiersAdmitted)
	assert.True(t, fx.longTerm.Has(res.ID))

	// fact kind goes long-term regardless of priority
	res, err = fx.svc.Store(ctx, "the API limit is 100 rps",
		map[string]interface{}{models.MetaType: "fact"}, "", "")
	require.NoError(t, err)
	assert.Contains(t, res.TiersAdmitted, models.TierLongTerm)

	// an explicit hint is honored exactly
	res, err = fx.svc.Store(ctx, "hinted content", nil, "conv-1", models.TierHintImmediate)
	require.NoError(t, err)
	assert.Equal(t, []string{models.TierImmediate}, res.TiersAdmitted)
}

func TestOrchestrator_StoreReadsConversationFromMetadata(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)

	res, err := fx.svc.Store(context.Background(), "turn",
		map[string]interface{}{models.MetaConversationID: "conv-meta"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, "conv-meta", res.ConversationID)
	assert.Contains(t, res.TiersAdmitted, models.TierSession)
}

func TestOrchestrator_RetrieveValidation(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	_, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{Query: "q", MaxResults: 10, Strategy: "bogus"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = fx.svc.Retrieve(ctx, models.RetrieveRequest{Query: "q", MaxResults: -1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = fx.svc.Retrieve(ctx, models.RetrieveRequest{Query: "q", MaxResults: 10, MaxTokens: -1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestOrchestrator_EmptyQueryShortCircuits(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "something stored", nil, "", "")
	require.NoError(t, err)

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{Query: "   ", MaxResults: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
	assert.Equal(t, 0, resp.TotalRetrieved)

	resp, err = fx.svc.Retrieve(ctx, models.RetrieveRequest{Query: "something", MaxResults: 0})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
}

func TestOrchestrator_KeywordRetrieval(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	res, err := fx.svc.Store(ctx, "postgres connection pooling guidelines", nil, "", models.TierHintLongTerm)
	require.NoError(t, err)
	_, err = fx.svc.Store(ctx, "weekend hiking checklist", nil, "", models.TierHintLongTerm)
	require.NoError(t, err)

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{
		Query:      "postgres pooling",
		MaxResults: 10,
		Strategy:   models.StrategyKeyword,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Items)
	assert.Equal(t, res.ID, resp.Items[0].Item.ID)
	assert.Equal(t, models.TierLongTerm, resp.Items[0].SourceTier)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 1, resp.TierCounts[models.TierLongTerm])
}

func TestOrchestrator_HybridRetrievalFusesSources(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	stored, err := fx.svc.Store(ctx, "deployment rollback procedure for the api service",
		map[string]interface{}{models.MetaImportance: "high"}, "", "")
	require.NoError(t, err)

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{
		Query:      "deployment rollback procedure",
		MaxResults: 10,
		Strategy:   models.StrategyHybrid,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Items)

	found := false
	for _, s := range resp.Items {
		if s.Item.ID == stored.ID {
			found = true
			assert.NotEmpty(t, s.ComponentScores)
		}
	}
	assert.True(t, found)
}

func TestOrchestrator_ConversationScoping(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	mine, err := fx.svc.Store(ctx, "budget discussion for the migration project",
		nil, "conv-mine", models.TierHintLongTerm)
	require.NoError(t, err)
	other, err := fx.svc.Store(ctx, "budget discussion for the hiring plan",
		nil, "conv-other", models.TierHintLongTerm)
	require.NoError(t, err)
	unscoped, err := fx.svc.Store(ctx, "budget policy applies to every project",
		nil, "", models.TierHintLongTerm)
	require.NoError(t, err)

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{
		Query:          "budget discussion",
		MaxResults:     10,
		Strategy:       models.StrategyKeyword,
		ConversationID: "conv-mine",
	})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, s := range resp.Items {
		ids[s.Item.ID] = true
	}
	assert.True(t, ids[mine.ID])
	assert.True(t, ids[unscoped.ID], "unscoped long-term items stay visible")
	assert.False(t, ids[other.ID], "items bound to another conversation are dropped")
}

func TestOrchestrator_RecencyOrdering(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	first, err := fx.svc.Store(ctx, "first note about the outage", nil, "", "")
	require.NoError(t, err)
	fx.clock.Advance(time.Minute)
	second, err := fx.svc.Store(ctx, "second note about the outage", nil, "", "")
	require.NoError(t, err)

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{
		Query:      "outage",
		MaxResults: 10,
		Strategy:   models.StrategyRecency,
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, second.ID, resp.Items[0].Item.ID)
	assert.Equal(t, first.ID, resp.Items[1].Item.ID)
}

func TestOrchestrator_TokenBudget(t *testing.T) {
	cfg := testOrchestratorConfig()
	fx := newOrchestratorFixture(cfg, nil, nil)
	ctx := context.Background()

	// each item is ~11 tokens; a 15 token budget fits only one
	for i := 0; i < 3; i++ {
		_, err := fx.svc.Store(ctx, fmt.Sprintf("shared keyword payload entry number %d here", i), nil, "", models.TierHintLongTerm)
		require.NoError(t, err)
	}

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{
		Query:      "shared keyword payload",
		MaxResults: 10,
		MaxTokens:  15,
		Strategy:   models.StrategyKeyword,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 1)
	assert.GreaterOrEqual(t, resp.TotalRetrieved, 3)
}

func TestOrchestrator_OversizedFirstItemStillReturned(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "an oversized entry that costs more than the whole budget", nil, "", models.TierHintLongTerm)
	require.NoError(t, err)

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{
		Query:      "oversized entry budget",
		MaxResults: 10,
		MaxTokens:  2,
		Strategy:   models.StrategyKeyword,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 1, "the first item is kept even over budget")
}

func TestOrchestrator_CacheHit(t *testing.T) {
	cache := NewResponseCacheWithRedis(nil, config.CacheConfig{TTLSeconds: 300, Enabled: true})
	fx := newOrchestratorFixture(testOrchestratorConfig(), cache, nil)
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "cached retrieval subject", nil, "", models.TierHintLongTerm)
	require.NoError(t, err)

	req := models.RetrieveRequest{Query: "cached retrieval", MaxResults: 10, Strategy: models.StrategyKeyword}

	first, err := fx.svc.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := fx.svc.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, len(first.Items), len(second.Items))

	// a store invalidates the cache
	_, err = fx.svc.Store(ctx, "fresh content changes the world", nil, "", "")
	require.NoError(t, err)

	third, err := fx.svc.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.CacheHit)
}

// failingVectorStore breaks the semantic path
type failingVectorStore struct{}

func (failingVectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error {
	return nil
}
func (failingVectorStore) Delete(ctx context.Context, id string) error { return nil }
func (failingVectorStore) Search(ctx context.Context, vector []float32, k int, filter map[string]interface{}) ([]models.Candidate, error) {
	return nil, errors.New("vector backend unreachable")
}

func TestOrchestrator_DegradedOnSourceFailure(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, failingVectorStore{})
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "resilient keyword content", nil, "", models.TierHintLongTerm)
	require.NoError(t, err)

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{
		Query:      "resilient keyword",
		MaxResults: 10,
		Strategy:   models.StrategyHybrid,
	})
	require.NoError(t, err, "a single source failure degrades, never fails")
	assert.True(t, resp.Degraded)
	require.NotEmpty(t, resp.Items, "the surviving sources still answer")

	stats, err := fx.svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.DegradedResponses)
	assert.EqualValues(t, 1, stats.SourceFailures)
}

func TestOrchestrator_DegradedResponseNotCached(t *testing.T) {
	cache := NewResponseCacheWithRedis(nil, config.CacheConfig{TTLSeconds: 300, Enabled: true})
	fx := newOrchestratorFixture(testOrchestratorConfig(), cache, failingVectorStore{})
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "degraded cache subject", nil, "", models.TierHintLongTerm)
	require.NoError(t, err)

	req := models.RetrieveRequest{Query: "degraded cache", MaxResults: 10, Strategy: models.StrategyHybrid}

	first, err := fx.svc.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.True(t, first.Degraded)

	second, err := fx.svc.Retrieve(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.CacheHit, "degraded responses are never cached")
}

func TestOrchestrator_PromotionImmediateToSession(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	res, err := fx.svc.Store(ctx, "frequently revisited remark", nil, "conv-1", models.TierHintImmediate)
	require.NoError(t, err)
	require.Equal(t, 0, fx.session.SizeConv("conv-1"))

	req := models.RetrieveRequest{Query: "revisited remark", MaxResults: 10, Strategy: models.StrategyRecency}
	for i := 0; i < 3; i++ {
		_, err := fx.svc.Retrieve(ctx, req)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, fx.session.SizeConv("conv-1"), "three accesses promote into the session tier")
	_, ok := fx.session.Get("conv-1", res.ID)
	assert.True(t, ok)

	stats, err := fx.svc.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Promotions, int64(1))
}

func TestOrchestrator_PromotionSessionToLongTerm(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	res, err := fx.svc.Store(ctx, "repeatedly consulted decision",
		map[string]interface{}{models.MetaImportance: "high"}, "conv-1", models.TierHintSession)
	require.NoError(t, err)
	require.False(t, fx.longTerm.Has(res.ID))

	req := models.RetrieveRequest{
		Query:          "consulted decision",
		MaxResults:     10,
		Strategy:       models.StrategyRecency,
		ConversationID: "conv-1",
	}
	for i := 0; i < 5; i++ {
		_, err := fx.svc.Retrieve(ctx, req)
		require.NoError(t, err)
	}

	assert.True(t, fx.longTerm.Has(res.ID), "five accesses on a high priority item promote to long-term")
}

func TestOrchestrator_Delete(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	res, err := fx.svc.Store(ctx, "short lived entry",
		map[string]interface{}{models.MetaImportance: "high"}, "conv-1", "")
	require.NoError(t, err)

	require.NoError(t, fx.svc.Delete(ctx, res.ID))
	assert.False(t, fx.longTerm.Has(res.ID))
	assert.Equal(t, 0, fx.session.SizeConv("conv-1"))

	err = fx.svc.Delete(ctx, res.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = fx.svc.Delete(ctx, "  ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestOrchestrator_Clear(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "immediate only entry", nil, "", "")
	require.NoError(t, err)
	_, err = fx.svc.Store(ctx, "session entry", nil, "conv-1", "")
	require.NoError(t, err)
	_, err = fx.svc.Store(ctx, "long-term entry", nil, "", models.TierHintLongTerm)
	require.NoError(t, err)

	_, err = fx.svc.Clear(ctx, models.ClearScope{Tier: "bogus"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	cleared, err := fx.svc.Clear(ctx, models.ClearScope{Tier: "all"})
	require.NoError(t, err)
	assert.Equal(t, 4, cleared, "two immediate, one session, one long-term")

	stats, err := fx.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TierSizes[models.TierImmediate])
	assert.Equal(t, 0, stats.TierSizes[models.TierSession])
	assert.Equal(t, 0, stats.TierSizes[models.TierLongTerm])
}

func TestOrchestrator_Stats(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "stats subject one", nil, "", "")
	require.NoError(t, err)
	_, err = fx.svc.Store(ctx, "stats subject two", nil, "conv-1", "")
	require.NoError(t, err)
	_, err = fx.svc.Retrieve(ctx, models.RetrieveRequest{Query: "stats subject", MaxResults: 10})
	require.NoError(t, err)

	stats, err := fx.svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Stores)
	assert.EqualValues(t, 1, stats.Retrievals)
	assert.Equal(t, 2, stats.TierSizes[models.TierImmediate])
	assert.Equal(t, 1, stats.TierSizes[models.TierSession])
	assert.Equal(t, fx.clock.Now(), stats.Timestamp)
}

func TestOrchestrator_ConcurrentStoreAndRetrieve(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	const workers = 8
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := fx.svc.Store(ctx, fmt.Sprintf("concurrent payload %d from worker %d", i, w),
					nil, fmt.Sprintf("conv-%d", w%2), "")
				assert.NoError(t, err)

				_, err = fx.svc.Retrieve(ctx, models.RetrieveRequest{
					Query:      "concurrent payload",
					MaxResults: 5,
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	stats, err := fx.svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, workers*5, stats.Stores)
	assert.EqualValues(t, workers*5, stats.Retrievals)
}

// blockingVectorStore parks Search until its context is done
type blockingVectorStore struct{}

func (blockingVectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error {
	return nil
}
func (blockingVectorStore) Delete(ctx context.Context, id string) error { return nil }
func (blockingVectorStore) Search(ctx context.Context, vector []float32, k int, filter map[string]interface{}) ([]models.Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOrchestrator_CallerCancellationDiscardsPartialResults(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, blockingVectorStore{})
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "cancellation subject content", nil, "", models.TierHintImmediate)
	require.NoError(t, err)

	callerCtx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	resp, err := fx.svc.Retrieve(callerCtx, models.RetrieveRequest{
		Query:      "cancellation subject",
		MaxResults: 10,
		Strategy:   models.StrategyHybrid,
	})
	require.Error(t, err, "a canceled caller never receives a partial response")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, resp)
}

func TestOrchestrator_InternalDeadlineDegrades(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.Retrieve.DeadlineMS = 50
	fx := newOrchestratorFixture(cfg, nil, blockingVectorStore{})
	ctx := context.Background()

	_, err := fx.svc.Store(ctx, "slow backend subject", nil, "", models.TierHintImmediate)
	require.NoError(t, err)

	resp, err := fx.svc.Retrieve(ctx, models.RetrieveRequest{
		Query:      "slow backend subject",
		MaxResults: 10,
		Strategy:   models.StrategyHybrid,
	})
	require.NoError(t, err, "the internal deadline degrades, it does not fail")
	assert.True(t, resp.Degraded)
	assert.NotEmpty(t, resp.Items)
}

func TestOrchestrator_OversizedItemRoutesToLongTerm(t *testing.T) {
	fx := newOrchestratorFixture(testOrchestratorConfig(), nil, nil)
	ctx := context.Background()

	big := make([]byte, 9000)
	for i := range big {
		big[i] = 'x'
	}

	// auto routing: too large for the immediate ring, so long-term takes it
	res, err := fx.svc.Store(ctx, string(big), nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{models.TierLongTerm}, res.TiersAdmitted)
	assert.True(t, fx.longTerm.Has(res.ID))
	assert.Equal(t, 0, fx.immediate.Size())

	// an explicit immediate hint cannot be honored for such an item
	_, err = fx.svc.Store(ctx, string(big), nil, "", models.TierHintImmediate)
	assert.ErrorIs(t, err, models.ErrCapacityExhausted)
}
