package retrieval

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/models"
)

// stopwords is the fixed English stopword set removed during tokenization
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "if": {}, "in": {}, "into": {}, "is": {},
	"it": {}, "no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "such": {},
	"that": {}, "the": {}, "their": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "will": {}, "with": {},
}

// Tokenize lowercases, splits on non-alphanumeric runs, drops tokens shorter
// than two characters and stopwords. No stemming; output is deterministic.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

type docEntry struct {
	length   int
	metadata map[string]interface{}
}

// KeywordIndex is an in-memory inverted index ranked with BM25. A single
// reader-writer lock guards all state; avgdl and the doc count move together
// with postings under the write lock.
type KeywordIndex struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	postings map[string]map[string]int // term -> docID -> term freq
	docs     map[string]*docEntry
	totalLen int

	// idf values are cached until the next mutation; readers share the
	// cache so it carries its own lock
	idfMu    sync.Mutex
	idfCache map[string]float64
}

func NewKeywordIndex(cfg config.KeywordConfig) *KeywordIndex {
	return &KeywordIndex{
		k1:       cfg.K1,
		b:        cfg.B,
		postings: make(map[string]map[string]int),
		docs:     make(map[string]*docEntry),
		idfCache: make(map[string]float64),
	}
}

// Index tokenizes text and records its postings under docID. Re-indexing an
// existing docID replaces its previous postings.
func (ki *KeywordIndex) Index(docID, text string, metadata map[string]interface{}) {
	tokens := Tokenize(text)

	ki.mu.Lock()
	defer ki.mu.Unlock()

	ki.removeLocked(docID)

	entry := &docEntry{length: len(tokens)}
	if len(metadata) > 0 {
		entry.metadata = make(map[string]interface{}, len(metadata))
		for k, v := range metadata {
			entry.metadata[k] = v
		}
	}
	ki.docs[docID] = entry
	ki.totalLen += len(tokens)

	for _, t := range tokens {
		m := ki.postings[t]
		if m == nil {
			m = make(map[string]int)
			ki.postings[t] = m
		}
		m[docID]++
	}

	ki.invalidateIDF()
}

// Remove deletes docID and its postings. Unknown ids are a no-op.
func (ki *KeywordIndex) Remove(docID string) {
	ki.mu.Lock()
	defer ki.mu.Unlock()
	ki.removeLocked(docID)
}

func (ki *KeywordIndex) removeLocked(docID string) {
	entry, ok := ki.docs[docID]
	if !ok {
		return
	}
	delete(ki.docs, docID)
	ki.totalLen -= entry.length
	for term, m := range ki.postings {
		if _, ok := m[docID]; ok {
			delete(m, docID)
			if len(m) == 0 {
				delete(ki.postings, term)
			}
		}
	}
	ki.invalidateIDF()
}

func (ki *KeywordIndex) invalidateIDF() {
	ki.idfMu.Lock()
	ki.idfCache = make(map[string]float64)
	ki.idfMu.Unlock()
}

// Size returns the number of indexed documents
func (ki *KeywordIndex) Size() int {
	ki.mu.RLock()
	defer ki.mu.RUnlock()
	return len(ki.docs)
}

// Has reports whether docID is indexed
func (ki *KeywordIndex) Has(docID string) bool {
	ki.mu.RLock()
	defer ki.mu.RUnlock()
	_, ok := ki.docs[docID]
	return ok
}

// Search ranks documents containing at least one query term with BM25 and
// returns the top k. Candidates failing a metadata filter are dropped before
// scoring. Equal scores order by descending docLen·tfSum, then ascending
// docID, so repeated searches produce identical orderings.
func (ki *KeywordIndex) Search(query string, k int, filters map[string]interface{}) []models.Candidate {
	terms := Tokenize(query)
	if len(terms) == 0 || k == 0 {
		return nil
	}

	ki.mu.RLock()
	defer ki.mu.RUnlock()

	n := float64(len(ki.docs))
	if n == 0 {
		return nil
	}
	avgdl := float64(ki.totalLen) / n

	type hit struct {
		id     string
		score  float64
		tfSum  int
		docLen int
	}
	hits := make(map[string]*hit)

	for _, term := range terms {
		m, ok := ki.postings[term]
		if !ok {
			continue
		}
		idf := ki.idf(term, n)
		for docID, tf := range m {
			entry := ki.docs[docID]
			if !matchesFilters(entry.metadata, filters) {
				continue
			}
			h := hits[docID]
			if h == nil {
				h = &hit{id: docID, docLen: entry.length}
				hits[docID] = h
			}
			norm := 1 - ki.b + ki.b*float64(entry.length)/avgdl
			h.score += idf * float64(tf) * (ki.k1 + 1) / (float64(tf) + ki.k1*norm)
			h.tfSum += tf
		}
	}

	ranked := make([]*hit, 0, len(hits))
	for _, h := range hits {
		ranked = append(ranked, h)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		wi := ranked[i].docLen * ranked[i].tfSum
		wj := ranked[j].docLen * ranked[j].tfSum
		if wi != wj {
			return wi > wj
		}
		return ranked[i].id < ranked[j].id
	})

	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]models.Candidate, len(ranked))
	for i, h := range ranked {
		out[i] = models.Candidate{ID: h.id, Score: h.score}
	}
	return out
}

// idf reads through the cache; callers hold at least the read lock so the
// document frequency is stable while the value is computed
func (ki *KeywordIndex) idf(term string, n float64) float64 {
	ki.idfMu.Lock()
	defer ki.idfMu.Unlock()
	if v, ok := ki.idfCache[term]; ok {
		return v
	}
	df := float64(len(ki.postings[term]))
	v := math.Log((n-df+0.5)/(df+0.5) + 1)
	ki.idfCache[term] = v
	return v
}

func matchesFilters(metadata, filters map[string]interface{}) bool {
	if len(filters) == 0 {
		return true
	}
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
