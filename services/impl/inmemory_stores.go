package impl

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services/retrieval"
)

// InMemoryVectorStore is the no-backend VectorStore used in tests and
// single-node deployments without a vector service configured
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	meta    map[string]map[string]interface{}
}

func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		vectors: make(map[string][]float32),
		meta:    make(map[string]map[string]interface{}),
	}
}

func (s *InMemoryVectorStore) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]interface{}) error {
	cp := make([]float32, len(vector))
	copy(cp, vector)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[id] = cp
	if metadata != nil {
		m := make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			m[k] = v
		}
		s.meta[id] = m
	} else {
		delete(s.meta, id)
	}
	return nil
}

func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, id)
	delete(s.meta, id)
	return nil
}

// Search ranks stored vectors by cosine similarity mapped into [0,1]
func (s *InMemoryVectorStore) Search(ctx context.Context, vector []float32, k int, filter map[string]interface{}) ([]models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Candidate, 0, len(s.vectors))
	for id, v := range s.vectors {
		if !metaMatches(s.meta[id], filter) {
			continue
		}
		sim := (cosine(vector, v) + 1) / 2
		out = append(out, models.Candidate{ID: id, Score: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Size returns the number of stored vectors
func (s *InMemoryVectorStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func metaMatches(meta, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type graphEntity struct {
	entityType string
	props      map[string]interface{}
}

type graphEdge struct {
	to       string
	edgeType string
}

// InMemoryGraphStore is the no-backend GraphStore: an adjacency map with
// degree-centrality search and BFS path queries
type InMemoryGraphStore struct {
	mu       sync.RWMutex
	entities map[string]graphEntity
	adjacent map[string][]graphEdge // directed; traversal treats edges as undirected
}

func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		entities: make(map[string]graphEntity),
		adjacent: make(map[string][]graphEdge),
	}
}

func (s *InMemoryGraphStore) UpsertEntity(ctx context.Context, id string, entityType string, props map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := graphEntity{entityType: entityType}
	if props != nil {
		e.props = make(map[string]interface{}, len(props))
		for k, v := range props {
			e.props[k] = v
		}
	}
	s.entities[id] = e
	return nil
}

func (s *InMemoryGraphStore) UpsertEdge(ctx context.Context, from, to string, edgeType string, props map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[from]; !ok {
		s.entities[from] = graphEntity{entityType: "node"}
	}
	if _, ok := s.entities[to]; !ok {
		s.entities[to] = graphEntity{entityType: "node"}
	}
	for _, e := range s.adjacent[from] {
		if e.to == to && e.edgeType == edgeType {
			return nil
		}
	}
	s.adjacent[from] = append(s.adjacent[from], graphEdge{to: to, edgeType: edgeType})
	return nil
}

// Search matches entities whose id, type or props mention a query token and
// scores them by normalized degree centrality
func (s *InMemoryGraphStore) Search(ctx context.Context, query string, maxDepth int) ([]models.Candidate, error) {
	tokens := retrieval.Tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	degree := make(map[string]int)
	maxDegree := 1
	for from, edges := range s.adjacent {
		degree[from] += len(edges)
		for _, e := range edges {
			degree[e.to]++
		}
		if degree[from] > maxDegree {
			maxDegree = degree[from]
		}
	}
	for _, d := range degree {
		if d > maxDegree {
			maxDegree = d
		}
	}

	var out []models.Candidate
	for id, e := range s.entities {
		if !entityMatches(id, e, tokens) {
			continue
		}
		score := float64(degree[id]) / float64(maxDegree)
		if score == 0 {
			score = 0.1 // isolated but matching entities still surface
		}
		out = append(out, models.Candidate{ID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func entityMatches(id string, e graphEntity, tokens []string) bool {
	hay := strings.ToLower(id + " " + e.entityType)
	for _, v := range e.props {
		if sv, ok := v.(string); ok {
			hay += " " + strings.ToLower(sv)
		}
	}
	for _, t := range tokens {
		if strings.Contains(hay, t) {
			return true
		}
	}
	return false
}

// Path runs a breadth-first search from a to b over undirected edges and
// returns the connecting edge list, or nil when none exists within maxDepth
func (s *InMemoryGraphStore) Path(ctx context.Context, a, b string, maxDepth int) ([]models.GraphEdge, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[a]; !ok {
		return nil, nil
	}
	if _, ok := s.entities[b]; !ok {
		return nil, nil
	}

	prev := map[string]models.GraphEdge{a: {}}
	frontier := []string{a}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, neighbor := range s.neighbors(node) {
				if _, seen := prev[neighbor.to]; seen {
					continue
				}
				prev[neighbor.to] = models.GraphEdge{From: node, To: neighbor.to, Type: neighbor.edgeType}
				if neighbor.to == b {
					// walk back to the start to assemble the edge list
					var path []models.GraphEdge
					for cur := b; cur != a; {
						edge := prev[cur]
						path = append([]models.GraphEdge{edge}, path...)
						cur = edge.From
					}
					return path, nil
				}
				next = append(next, neighbor.to)
			}
		}
		sort.Strings(next)
		frontier = next
	}
	return nil, nil
}

func (s *InMemoryGraphStore) neighbors(node string) []graphEdge {
	out := append([]graphEdge(nil), s.adjacent[node]...)
	for from, edges := range s.adjacent {
		for _, e := range edges {
			if e.to == node {
				out = append(out, graphEdge{to: from, edgeType: e.edgeType})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].to < out[j].to })
	return out
}

// LocalEmbedder is a deterministic hashed bag-of-words embedder. It gives
// deployments without an embedding service a usable semantic path and keeps
// tests reproducible.
type LocalEmbedder struct {
	dim int
}

func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &LocalEmbedder{dim: dim}
}

func (e *LocalEmbedder) Dimension() int { return e.dim }

func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, e.dim)
		for _, token := range retrieval.Tokenize(text) {
			h := fnv.New32a()
			h.Write([]byte(token))
			vec[h.Sum32()%uint32(e.dim)]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			scale := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= scale
			}
		}
		out[i] = vec
	}
	return out, nil
}
