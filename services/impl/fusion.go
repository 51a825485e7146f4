package impl

import (
	"sort"

	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
)

// Source names used in component score diagnostics
const (
	SourceKeyword   = "keyword"
	SourceSemantic  = "semantic"
	SourceGraph     = "graph"
	SourceImmediate = "immediate"
	SourceSession   = "session"
)

// CandidateList is one retrieval path's ranked output with its fusion weight
type CandidateList struct {
	Source string
	Weight float64
	Items  []models.Candidate
}

// FusionEngine combines per-source candidate lists into a single ranking.
// Each list is min-max normalized on its own scores, weighted, summed and
// deduplicated by id keeping the maximum fused score. Pure; safe for
// concurrent use.
type FusionEngine struct {
	semanticWeight float64
	keywordWeight  float64
	graphWeight    float64
}

func NewFusionEngine(cfg config.FusionConfig) *FusionEngine {
	return &FusionEngine{
		semanticWeight: cfg.SemanticWeight,
		keywordWeight:  cfg.KeywordWeight,
		graphWeight:    cfg.GraphWeight,
	}
}

// WeightFor returns the configured weight of a named source. Immediate and
// session lists join fusion at half the keyword weight.
func (f *FusionEngine) WeightFor(source string) float64 {
	switch source {
	case SourceSemantic:
		return f.semanticWeight
	case SourceKeyword:
		return f.keywordWeight
	case SourceGraph:
		return f.graphWeight
	case SourceImmediate, SourceSession:
		return f.keywordWeight / 2
	default:
		return 0
	}
}

// Fuse merges lists. Weights of empty or absent lists are redistributed
// proportionally across the present ones so active weights sum to 1. The
// output is sorted by fused score descending, ties broken by descending
// component count then ascending id, filtered by minScore and truncated to
// 2*maxResults to leave headroom for token-budget truncation downstream.
func (f *FusionEngine) Fuse(lists []CandidateList, minScore float64, maxResults int) []models.FusedCandidate {
	present := lists[:0]
	totalWeight := 0.0
	for _, l := range lists {
		if len(l.Items) == 0 || l.Weight <= 0 {
			continue
		}
		present = append(present, l)
		totalWeight += l.Weight
	}
	if len(present) == 0 || totalWeight <= 0 {
		return nil
	}

	fused := make(map[string]*models.FusedCandidate)
	for _, l := range present {
		weight := l.Weight / totalWeight
		normalized := minMaxNormalize(l.Items)
		for _, c := range normalized {
			fc := fused[c.ID]
			if fc == nil {
				fc = &models.FusedCandidate{ID: c.ID, Components: make(map[string]float64)}
				fused[c.ID] = fc
			}
			// a source may emit the same id twice (several chunks of one
			// parent); keep its best contribution
			contribution := weight * c.Score
			if prev, ok := fc.Components[l.Source]; !ok || c.Score > prev {
				if ok {
					fc.Score -= weight * prev
				}
				fc.Components[l.Source] = c.Score
				fc.Score += contribution
			}
		}
	}

	out := make([]models.FusedCandidate, 0, len(fused))
	for _, fc := range fused {
		if fc.Score >= minScore {
			out = append(out, *fc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if len(out[i].Components) != len(out[j].Components) {
			return len(out[i].Components) > len(out[j].Components)
		}
		return out[i].ID < out[j].ID
	})

	if maxResults > 0 && len(out) > 2*maxResults {
		out = out[:2*maxResults]
	}
	return out
}

// minMaxNormalize rescales scores to [0,1] on the list's own range. A list
// with one entry or all-equal scores normalizes to 1.0 everywhere.
func minMaxNormalize(items []models.Candidate) []models.Candidate {
	if len(items) == 0 {
		return nil
	}
	lo, hi := items[0].Score, items[0].Score
	for _, c := range items[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	out := make([]models.Candidate, len(items))
	if hi == lo {
		for i, c := range items {
			out[i] = models.Candidate{ID: c.ID, Score: 1.0}
		}
		return out
	}
	for i, c := range items {
		out[i] = models.Candidate{ID: c.ID, Score: (c.Score - lo) / (hi - lo)}
	}
	return out
}
