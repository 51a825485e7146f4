package models

import (
	"time"
)

// ContextKind classifies what a context item carries
type ContextKind string

const (
	KindPreference   ContextKind = "preference"
	KindFact         ContextKind = "fact"
	KindTask         ContextKind = "task"
	KindNote         ContextKind = "note"
	KindConversation ContextKind = "conversation"
	KindDocument     ContextKind = "document"
	KindCode         ContextKind = "code"
)

// ValidKind reports whether k is one of the recognized kinds
func ValidKind(k ContextKind) bool {
	switch k {
	case KindPreference, KindFact, KindTask, KindNote, KindConversation, KindDocument, KindCode:
		return true
	}
	return false
}

// Priority expresses how important an item is to retain
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
	PriorityMinimal  Priority = "minimal"
)

// Weight returns the importance multiplier used by eviction and scoring
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 1.5
	case PriorityHigh:
		return 1.2
	case PriorityNormal:
		return 1.0
	case PriorityLow:
		return 0.7
	case PriorityMinimal:
		return 0.4
	default:
		return 1.0
	}
}

// ValidPriority reports whether p is one of the recognized priorities
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityMinimal:
		return true
	}
	return false
}

// TierHint lets a caller steer admission on store
type TierHint string

const (
	TierHintImmediate TierHint = "immediate"
	TierHintSession   TierHint = "session"
	TierHintLongTerm  TierHint = "long_term"
	TierHintAuto      TierHint = "auto"
)

// Tier names used in responses and stats
const (
	TierImmediate = "immediate"
	TierSession   = "session"
	TierLongTerm  = "long_term"
)

// Strategy selects which retrieval paths a request exercises
type Strategy string

const (
	StrategyRecency   Strategy = "recency"
	StrategyRelevance Strategy = "relevance"
	StrategyHybrid    Strategy = "hybrid"
	StrategySemantic  Strategy = "semantic"
	StrategyKeyword   Strategy = "keyword"
	StrategyGraph     Strategy = "graph"
)

// ValidStrategy reports whether s is one of the recognized strategies
func ValidStrategy(s Strategy) bool {
	switch s {
	case StrategyRecency, StrategyRelevance, StrategyHybrid, StrategySemantic, StrategyKeyword, StrategyGraph:
		return true
	}
	return false
}

// Reserved metadata keys
const (
	MetaConversationID = "conversation_id"
	MetaTaskID         = "task_id"
	MetaTags           = "tags"
	MetaType           = "type"
	MetaImportance     = "importance"
	MetaTopic          = "topic"
)

// ContextItem is the unit of storage across all tiers. The same id may be
// mirrored into several tiers; token_estimate is fixed at ingest.
type ContextItem struct {
	ID             string                 `json:"id"`
	Content        string                 `json:"content"`
	Kind           ContextKind            `json:"kind"`
	Priority       Priority               `json:"priority"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAccessedAt time.Time              `json:"last_accessed_at"`
	AccessCount    int                    `json:"access_count"`
	TokenEstimate  int                    `json:"token_estimate"`
	TierHint       TierHint               `json:"tier_hint,omitempty"`
}

// Clone returns a deep copy so tier internals never leak to callers
func (i *ContextItem) Clone() *ContextItem {
	if i == nil {
		return nil
	}
	cp := *i
	if i.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(i.Metadata))
		for k, v := range i.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// EstimateTokens approximates the token footprint of text as ceil(chars/4),
// never less than 1
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// Chunk is a slice of a long item's content produced for indexing
type Chunk struct {
	ChunkID          string `json:"chunk_id"`
	ParentID         string `json:"parent_id"`
	Content          string `json:"content"`
	Ordinal          int    `json:"ordinal"`
	OverlapPrevChars int    `json:"overlap_prev_chars"`
}

// Candidate is a raw (id, score) pair from a single retrieval source
type Candidate struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// GraphEdge is one hop of a graph path query
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// FusedCandidate carries the combined score plus per-source diagnostics
type FusedCandidate struct {
	ID         string             `json:"id"`
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components,omitempty"`
}

// RetrieveRequest describes a retrieval query
type RetrieveRequest struct {
	Query          string        `json:"query"`
	MaxResults     int           `json:"max_results,omitempty"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Kinds          []ContextKind `json:"kinds,omitempty"`
	MinScore       float64       `json:"min_score,omitempty"`
	Strategy       Strategy      `json:"strategy,omitempty"`
	Since          *time.Time    `json:"since,omitempty"`
	Until          *time.Time    `json:"until,omitempty"`
}

// ItemFilter narrows tier scans and searches
type ItemFilter struct {
	Kinds          []ContextKind
	ConversationID string
	Since          *time.Time
	Until          *time.Time
}

// Match reports whether item passes every set constraint
func (f *ItemFilter) Match(item *ContextItem) bool {
	if f == nil {
		return true
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if item.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.ConversationID != "" && item.ConversationID != f.ConversationID {
		return false
	}
	if f.Since != nil && item.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && item.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// ScoredItem is one ranked entry of a retrieval response
type ScoredItem struct {
	Item            *ContextItem       `json:"item"`
	Score           float64            `json:"score"`
	SourceTier      string             `json:"source_tier"`
	ComponentScores map[string]float64 `json:"component_scores,omitempty"`
}

// RetrieveResponse is the ordered result of a retrieval
type RetrieveResponse struct {
	Items          []ScoredItem   `json:"items"`
	TotalRetrieved int            `json:"total_retrieved"`
	CacheHit       bool           `json:"cache_hit"`
	Degraded       bool           `json:"degraded"`
	TierCounts     map[string]int `json:"tier_counts,omitempty"`
}

// StoreResult reports which tiers admitted a stored item
type StoreResult struct {
	ID             string   `json:"id"`
	TiersAdmitted  []string `json:"tiers_admitted"`
	TokenEstimate  int      `json:"token_estimate"`
	ConversationID string   `json:"conversation_id,omitempty"`
}

// ClearScope selects what clear() wipes
type ClearScope struct {
	Tier           string `json:"tier"` // "immediate", "session" or "all"
	ConversationID string `json:"conversation_id,omitempty"`
}

// StatsSnapshot is a point-in-time view of cache counters and tier sizes
type StatsSnapshot struct {
	Stores            int64          `json:"stores"`
	Retrievals        int64          `json:"retrievals"`
	CacheHits         int64          `json:"cache_hits"`
	CacheMisses       int64          `json:"cache_misses"`
	Evictions         int64          `json:"evictions"`
	Promotions        int64          `json:"promotions"`
	Consolidations    int64          `json:"consolidations"`
	DegradedResponses int64          `json:"degraded_responses"`
	SourceFailures    int64          `json:"source_failures"`
	TierSizes         map[string]int `json:"tier_sizes"`
	Timestamp         time.Time      `json:"timestamp"`
}
